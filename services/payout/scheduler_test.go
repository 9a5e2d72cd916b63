package payout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextWeeklyRunTime(t *testing.T) {
	at := func(v string) time.Time {
		ts, err := time.Parse(time.RFC3339, v)
		require.NoError(t, err)
		return ts
	}

	cases := map[string]string{
		"2026-10-16T10:00:00Z": "2026-10-19T20:00:00Z", // friday
		"2026-10-19T19:59:59Z": "2026-10-19T20:00:00Z",
		"2026-10-19T20:00:00Z": "2026-10-26T20:00:00Z",
		"2026-10-20T01:00:00Z": "2026-10-26T20:00:00Z",
	}
	for now, want := range cases {
		require.Equal(t, at(want), nextWeeklyRunTime(at(now), time.Monday, 20, 0), now)
	}
}

func TestNextRunTime(t *testing.T) {
	now := time.Date(2026, 10, 16, 5, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC), nextRunTime(now, 6, 0))

	now = time.Date(2026, 10, 31, 6, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 11, 1, 6, 0, 0, 0, time.UTC), nextRunTime(now, 6, 0))
}
