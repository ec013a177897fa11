package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayOfUsesTheInstantsOwnCalendarDay(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	// 23:50 local on Mar 15 is already Mar 16 in UTC; the snapshot date must
	// stay on the local day the run belongs to.
	at := time.Date(2025, 3, 15, 23, 50, 0, 0, la)
	day := dayOf(at)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, la), day)
	assert.NotEqual(t, day, at.Truncate(24*time.Hour).In(la))

	// UTC instants are unchanged apart from the time-of-day.
	utc := time.Date(2025, 3, 15, 23, 50, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), dayOf(utc))
}
