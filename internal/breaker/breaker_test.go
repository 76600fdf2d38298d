package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cladams7905/zencourt-sub009/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errUpstream = domain.NewProviderError("veo", domain.CodeProviderDispatchFailed, 503, errors.New("unavailable"))

func newTestBreaker(clock *fakeClock) *Breaker {
	return New("veo", Settings{
		Threshold:   3,
		Cooldown:    10 * time.Second,
		MaxCooldown: 30 * time.Second,
		Multiplier:  2,
		Now:         clock.Now,
	})
}

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestBreakerTripsAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	}
	snap := b.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.True(t, b.Open())

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called, "open breaker must not call the provider")
	assert.Equal(t, domain.CodeProviderCircuitOpen, domain.ProviderErrorCode(err))
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	require.NoError(t, b.Execute(ctx, succeed))
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, StateClosed, b.Snapshot().State)
	assert.Equal(t, 2, b.Snapshot().ConsecutiveFailures)
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}

	clock.Advance(9 * time.Second)
	assert.True(t, b.Open())
	clock.Advance(time.Second)
	assert.False(t, b.Open())

	require.NoError(t, b.Execute(ctx, succeed))
	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, 10*time.Second, snap.Cooldown)
}

func TestBreakerProbeFailureReopensWithLongerCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}

	clock.Advance(10 * time.Second)
	_ = b.Execute(ctx, fail)
	snap := b.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, clock.Now(), snap.OpenedAt)
	assert.Equal(t, 20*time.Second, snap.Cooldown)

	clock.Advance(20 * time.Second)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, 30*time.Second, b.Snapshot().Cooldown, "cooldown is capped")

	clock.Advance(30 * time.Second)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, 30*time.Second, b.Snapshot().Cooldown)
}

func TestBreakerSingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clock.Advance(10 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	assert.Equal(t, StateHalfOpen, b.Snapshot().State)
	assert.True(t, b.Open())
	err := b.Execute(ctx, succeed)
	assert.Equal(t, domain.CodeProviderCircuitOpen, domain.ProviderErrorCode(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.Snapshot().State)
}

func TestBreakerNeutralErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()
	invalid := domain.NewProviderError("veo", domain.CodeInvalidProviderInput, 400, errors.New("bad aspect"))

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return invalid })
	}
	_ = b.Execute(ctx, func(context.Context) error { return context.Canceled })
	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 2, snap.ConsecutiveFailures)

	// A neutral probe leaves the breaker half open for the next caller.
	_ = b.Execute(ctx, fail)
	clock.Advance(10 * time.Second)
	_ = b.Execute(ctx, func(context.Context) error { return invalid })
	assert.Equal(t, StateHalfOpen, b.Snapshot().State)
	assert.False(t, b.Open())
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, b.Snapshot().State)
}

func TestBreakerIgnoresStaleResults(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
		close(done)
	}()
	<-entered
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	close(release)
	<-done
	snap := b.Snapshot()
	assert.Equal(t, StateOpen, snap.State, "success admitted while closed must not close an open circuit")
	assert.Equal(t, 3, snap.ConsecutiveFailures)
}

func TestBreakerStateChangeHook(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var (
		mu          sync.Mutex
		transitions []State
	)
	b := New("wan", Settings{
		Threshold: 1,
		Cooldown:  time.Second,
		Now:       clock.Now,
		OnStateChange: func(provider string, from, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	})
	ctx := context.Background()
	_ = b.Execute(ctx, fail)
	clock.Advance(time.Second)
	_ = b.Execute(ctx, succeed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreakerNeutralProbeDoesNotReportTransition(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var (
		mu     sync.Mutex
		events [][2]State
	)
	b := New("veo", Settings{
		Threshold: 1,
		Cooldown:  time.Second,
		Now:       clock.Now,
		OnStateChange: func(provider string, from, to State) {
			mu.Lock()
			events = append(events, [2]State{from, to})
			mu.Unlock()
		},
	})
	ctx := context.Background()
	_ = b.Execute(ctx, fail)
	clock.Advance(time.Second)
	_ = b.Execute(ctx, func(context.Context) error { return context.Canceled })
	// Second probe is admitted while already half open.
	_ = b.Execute(ctx, func(context.Context) error { return context.Canceled })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][2]State{{StateClosed, StateOpen}, {StateOpen, StateHalfOpen}}, events)
}

func TestRegistry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	reg := NewRegistry(Settings{Threshold: 1, Cooldown: time.Minute, Now: clock.Now})

	veo := reg.Get("veo")
	assert.Same(t, veo, reg.Get(" VEO "))
	wan := reg.Get("wan")
	_ = veo.Execute(context.Background(), fail)

	snaps := reg.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "veo", snaps[0].Provider)
	assert.Equal(t, StateOpen, snaps[0].State)
	assert.Equal(t, StateClosed, snaps[1].State)

	assert.Equal(t, 1, reg.Reset("veo"))
	assert.Equal(t, StateClosed, veo.Snapshot().State)
	assert.Equal(t, 0, veo.Snapshot().ConsecutiveFailures)

	_ = wan.Execute(context.Background(), fail)
	assert.Equal(t, 2, reg.Reset())
	assert.Equal(t, StateClosed, wan.Snapshot().State)

	assert.Equal(t, 0, reg.Reset("nobody"))
	_, ok := reg.Lookup("nobody")
	assert.False(t, ok)
	assert.Len(t, reg.Snapshots(), 2)

	found, ok := reg.Lookup(" Wan ")
	require.True(t, ok)
	assert.Same(t, wan, found)
}
