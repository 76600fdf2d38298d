package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peakTracker records the highest number of concurrently running calls. Calls
// block until want of them are running at once (or a timeout passes) so the
// peak is reached deterministically.
type peakTracker struct {
	mu      sync.Mutex
	running int
	peak    int
	want    int
	release chan struct{}
}

func newPeakTracker(want int) *peakTracker {
	return &peakTracker{want: want, release: make(chan struct{})}
}

func (p *peakTracker) enter() {
	p.mu.Lock()
	p.running++
	if p.running > p.peak {
		p.peak = p.running
	}
	if p.running == p.want {
		select {
		case <-p.release:
		default:
			close(p.release)
		}
	}
	p.mu.Unlock()

	select {
	case <-p.release:
	case <-time.After(time.Second):
	}
}

func (p *peakTracker) leave() {
	p.mu.Lock()
	p.running--
	p.mu.Unlock()
}

func TestRunRespectsLimit(t *testing.T) {
	cases := []struct {
		name  string
		limit int
		items int
		want  int
	}{
		{name: "bounded", limit: 2, items: 4, want: 2},
		{name: "unbounded", limit: 4, items: 4, want: 4},
		{name: "over provisioned", limit: 10, items: 3, want: 3},
		{name: "sequential", limit: 1, items: 3, want: 1},
		{name: "zero treated as one", limit: 0, items: 3, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tracker := newPeakTracker(tc.want)
			results := Run(context.Background(), make([]int, tc.items), tc.limit, func(ctx context.Context, _ int) (struct{}, error) {
				tracker.enter()
				defer tracker.leave()
				time.Sleep(5 * time.Millisecond)
				return struct{}{}, nil
			})
			assert.Len(t, results, tc.items)
			assert.Equal(t, tc.want, tracker.peak)
		})
	}
}

func TestRunKeepsOrderAndCapturesErrors(t *testing.T) {
	boom := errors.New("boom")
	results := Run(context.Background(), []int{1, 2, 3, 4}, 2, func(ctx context.Context, n int) (int, error) {
		if n == 3 {
			return 0, boom
		}
		if n == 4 {
			panic("bad item")
		}
		return n * 10, nil
	})
	require.Len(t, results, 4)
	assert.Equal(t, 10, results[0].Value)
	assert.Equal(t, 20, results[1].Value)
	assert.ErrorIs(t, results[2].Err, boom)
	require.Error(t, results[3].Err)
	assert.Contains(t, results[3].Err.Error(), "panic")
}

func TestRunAttemptsEveryItemAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	results := Run(ctx, []string{"a", "b", "c"}, 1, func(ctx context.Context, _ string) (bool, error) {
		calls.Add(1)
		return false, ctx.Err()
	})
	assert.Equal(t, int32(3), calls.Load())
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestRunEmpty(t *testing.T) {
	results := Run(context.Background(), []int(nil), 3, func(ctx context.Context, n int) (int, error) {
		t.Fatal("fn should not be called")
		return 0, nil
	})
	assert.Empty(t, results)
}
