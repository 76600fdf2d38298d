package sqlinline

import (
	"regexp"
	"strings"
	"testing"
)

var markerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestQueriesCarryUniqueMarkers(t *testing.T) {
	queries := map[string]string{
		"QInsertVideoJob":                QInsertVideoJob,
		"QSelectVideoJob":                QSelectVideoJob,
		"QSelectVideoJobByHandle":        QSelectVideoJobByHandle,
		"QMarkVideoJobDispatched":        QMarkVideoJobDispatched,
		"QRecordVideoJobDispatchFailure": QRecordVideoJobDispatchFailure,
		"QCompleteVideoJob":              QCompleteVideoJob,
		"QSelectIntegrationToken":        QSelectIntegrationToken,
		"QUpsertIntegrationToken":        QUpsertIntegrationToken,
	}
	seen := make(map[string]string, len(queries))
	for name, q := range queries {
		first := strings.SplitN(strings.TrimSpace(q), "\n", 2)[0]
		if !markerPattern.MatchString(first) {
			t.Fatalf("%s: invalid marker line %q", name, first)
		}
		if other, dup := seen[first]; dup {
			t.Fatalf("%s reuses the marker of %s", name, other)
		}
		seen[first] = name
	}
}
