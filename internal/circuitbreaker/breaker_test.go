package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func failingConfig(name string, cooldown time.Duration) Config {
	return Config{
		Name:          name,
		TrialRequests: 2,
		Cooldown:      cooldown,
		ShouldTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := New(failingConfig("submit", time.Minute))

	for i := 0; i < 2; i++ {
		err := b.Do(func() error { return errBackend })
		require.ErrorIs(t, err, errBackend)
	}
	assert.Equal(t, StateClosed, b.State())

	err := b.Do(func() error { return errBackend })
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, b.State())

	// Open breaker fails fast and never invokes the call.
	called := false
	err = b.Do(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := New(failingConfig("submit", time.Minute))

	b.Do(func() error { return errBackend })
	b.Do(func() error { return errBackend })
	require.NoError(t, b.Do(func() error { return nil }))
	b.Do(func() error { return errBackend })
	b.Do(func() error { return errBackend })

	// Streak was broken, so five calls with only two consecutive failures
	// keep the breaker closed.
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerRecoversThroughTrials(t *testing.T) {
	b := New(failingConfig("submit", 40*time.Millisecond))

	for i := 0; i < 3; i++ {
		b.Do(func() error { return errBackend })
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(func() error { return nil }))
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReopensOnTrialFailure(t *testing.T) {
	b := New(failingConfig("submit", 40*time.Millisecond))

	for i := 0; i < 3; i++ {
		b.Do(func() error { return errBackend })
	}
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	err := b.Do(func() error { return errBackend })
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerNotifiesTransitions(t *testing.T) {
	var transitions []string
	cfg := failingConfig("submit", 40*time.Millisecond)
	cfg.OnStateChange = func(name string, from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}
	b := New(cfg)

	for i := 0; i < 3; i++ {
		b.Do(func() error { return errBackend })
	}
	time.Sleep(60 * time.Millisecond)
	b.Do(func() error { return nil })
	b.Do(func() error { return nil })

	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}
