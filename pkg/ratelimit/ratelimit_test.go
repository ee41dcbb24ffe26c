package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AllowBurstThenBlock(t *testing.T) {
	s := NewStore(1, 2, time.Minute)

	assert.True(t, s.Allow("1.1.1.1:/prices/history"))
	assert.True(t, s.Allow("1.1.1.1:/prices/history"))
	assert.False(t, s.Allow("1.1.1.1:/prices/history"))

	// 不同 key 互不影响
	assert.True(t, s.Allow("2.2.2.2:/prices/history"))
	assert.Equal(t, 2, s.Len())
}

func TestStore_CleanupDropsIdleKeys(t *testing.T) {
	s := NewStore(10, 10, time.Second)
	s.Allow("a")

	s.cleanup(time.Now())
	assert.Equal(t, 1, s.Len())

	s.cleanup(time.Now().Add(2 * time.Second))
	assert.Equal(t, 0, s.Len())
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 2, Timeout: time.Hour}, nil)
	boom := errors.New("store down")

	for i := 0; i < 2; i++ {
		_, err := Do(m, "store.recent", func() (int, error) { return 0, boom })
		require.ErrorIs(t, err, boom)
	}

	called := false
	_, err := Do(m, "store.recent", func() (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called, "熔断打开后不应该再打下游")
}

func TestBreaker_CanceledDoesNotTrip(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 1, Timeout: time.Hour}, nil)

	_, err := Do(m, "q", func() (string, error) { return "", context.Canceled })
	require.ErrorIs(t, err, context.Canceled)

	v, err := Do(m, "q", func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
