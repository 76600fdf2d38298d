// Package breaker isolates failing video providers. Each provider gets one
// Breaker that stops calling it after repeated failures and lets a single
// probe through once a cooldown has passed.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cladams7905/zencourt-sub009/internal/domain"
	"github.com/cladams7905/zencourt-sub009/internal/infra"
)

// State of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is wrapped in the PROVIDER_CIRCUIT_OPEN error returned for rejected calls.
var ErrOpen = errors.New("circuit open")

// Settings configures every breaker created from it.
type Settings struct {
	// Threshold is the number of consecutive counted failures that opens the circuit.
	Threshold   int
	Cooldown    time.Duration
	MaxCooldown time.Duration
	// Multiplier grows the cooldown after each failed probe.
	Multiplier float64

	Now           func() time.Time
	OnStateChange func(provider string, from, to State)
	Logger        *infra.Logger
}

func (s Settings) withDefaults() Settings {
	if s.Threshold < 1 {
		s.Threshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.MaxCooldown < s.Cooldown {
		s.MaxCooldown = s.Cooldown
	}
	if s.Multiplier < 1 {
		s.Multiplier = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Logger == nil {
		s.Logger = infra.NopLogger()
	}
	return s
}

// Snapshot is a point-in-time copy of a breaker's state.
type Snapshot struct {
	Provider            string        `json:"provider"`
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	OpenedAt            time.Time     `json:"openedAt"`
	Cooldown            time.Duration `json:"-"`
	CooldownMS          int64         `json:"cooldownMs"`
}

// Breaker guards calls to one provider. All state lives behind mu.
type Breaker struct {
	name     string
	settings Settings

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	cooldown   time.Duration
	generation uint64
	probing    bool
}

// New creates a closed breaker for provider.
func New(provider string, settings Settings) *Breaker {
	s := settings.withDefaults()
	return &Breaker{
		name:     provider,
		settings: s,
		state:    StateClosed,
		cooldown: s.Cooldown,
	}
}

// Name returns the provider the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Open reports whether a call made now would be rejected without reaching the
// provider: the cooldown has not elapsed, or a probe is already in flight.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		return b.settings.Now().Sub(b.openedAt) < b.cooldown
	case StateHalfOpen:
		return b.probing
	default:
		return false
	}
}

// Execute runs fn unless the circuit rejects the call, then records the
// outcome. Invalid-input errors and context cancellation do not count either
// way.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(gen, probe, err)
	return err
}

func (b *Breaker) admit() (uint64, bool, error) {
	b.mu.Lock()
	var from State
	switch b.state {
	case StateClosed:
		gen := b.generation
		b.mu.Unlock()
		return gen, false, nil
	case StateOpen:
		if b.settings.Now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return 0, false, b.rejection()
		}
		from = b.transition(StateHalfOpen)
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return 0, false, b.rejection()
		}
	}
	b.probing = true
	gen := b.generation
	b.mu.Unlock()
	b.notify(from, StateHalfOpen)
	return gen, true, nil
}

func (b *Breaker) rejection() error {
	return domain.NewProviderError(b.name, domain.CodeProviderCircuitOpen, 0, ErrOpen)
}

func (b *Breaker) record(gen uint64, probe bool, err error) {
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}
	var from, to State
	switch {
	case neutral(err):
		if probe {
			b.probing = false
		}
	case err == nil:
		b.failures = 0
		if probe {
			b.cooldown = b.settings.Cooldown
			from, to = b.transition(StateClosed), StateClosed
		}
	default:
		b.failures++
		if probe {
			next := time.Duration(float64(b.cooldown) * b.settings.Multiplier)
			if next > b.settings.MaxCooldown {
				next = b.settings.MaxCooldown
			}
			b.cooldown = next
			b.openedAt = b.settings.Now()
			from, to = b.transition(StateOpen), StateOpen
		} else if b.failures >= b.settings.Threshold {
			b.openedAt = b.settings.Now()
			from, to = b.transition(StateOpen), StateOpen
		}
	}
	b.mu.Unlock()
	b.notify(from, to)
}

// transition moves to next and starts a new generation so results of calls
// admitted earlier are ignored. Callers hold mu.
func (b *Breaker) transition(next State) State {
	prev := b.state
	b.state = next
	b.generation++
	b.probing = false
	return prev
}

func (b *Breaker) notify(from, to State) {
	if from == "" || to == "" || from == to {
		return
	}
	snap := b.Snapshot()
	b.settings.Logger.Info().
		Str("provider", b.name).
		Str("from", string(from)).
		Str("state", string(to)).
		Int("failures", snap.ConsecutiveFailures).
		Dur("cooldown", snap.Cooldown).
		Msg("circuit state changed")
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}

// Reset forces the breaker closed with a zero failure count and base cooldown.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.transition(StateClosed)
	b.failures = 0
	b.openedAt = time.Time{}
	b.cooldown = b.settings.Cooldown
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Provider:            b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		Cooldown:            b.cooldown,
		CooldownMS:          b.cooldown.Milliseconds(),
	}
}

func neutral(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return domain.ProviderErrorCode(err) == domain.CodeInvalidProviderInput
}
