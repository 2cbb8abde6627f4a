package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func (l *loginLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestLoginLimiter_PerKeyBurst(t *testing.T) {
	l := newLoginLimiter(1, 2)
	now, _ := fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l.now = now

	require.True(t, l.allow("a"))
	require.True(t, l.allow("a"))
	require.False(t, l.allow("a"))
	require.True(t, l.allow("b"))
}

func TestLoginLimiter_RefillsOverTime(t *testing.T) {
	l := newLoginLimiter(1, 1)
	now, advance := fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l.now = now

	require.True(t, l.allow("a"))
	require.False(t, l.allow("a"))
	advance(time.Second)
	require.True(t, l.allow("a"))
}

func TestLoginLimiter_DropsIdleBuckets(t *testing.T) {
	l := newLoginLimiter(1, 2)
	now, advance := fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l.now = now

	for _, key := range []string{"a", "b", "c"} {
		require.True(t, l.allow(key))
	}
	require.Equal(t, 3, l.size())

	advance(30 * time.Second)
	require.True(t, l.allow("d"))
	require.Equal(t, 4, l.size())

	// a, b and c have been idle for a full minute, d only for 45s
	advance(45 * time.Second)
	require.True(t, l.allow("e"))
	require.Equal(t, 2, l.size())
}

func TestLoginLimiter_ExhaustedBucketSurvivesSweep(t *testing.T) {
	l := newLoginLimiter(0.001, 1)
	now, advance := fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l.now = now

	require.True(t, l.allow("a"))
	advance(2 * time.Minute)
	require.False(t, l.allow("a"))
}
