package reward

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conorfennell/hoksip/internal/storage"
)

var day = time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

func TestBonus(t *testing.T) {
	tests := []struct {
		streak int
		want   int
	}{
		{0, 0}, {1, 0}, {2, 0}, {3, 1}, {5, 2}, {6, 1}, {9, 1},
		{10, 5}, {15, 3}, {30, 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bonus(tt.streak), "streak %d", tt.streak)
	}
}

func TestApply(t *testing.T) {
	t.Run("first award ever starts a streak", func(t *testing.T) {
		u, a := Apply(storage.User{}, day)
		assert.Equal(t, 1, u.Points)
		assert.Equal(t, 1, u.StreakDays)
		assert.True(t, u.LastAwardDate.Equal(day))
		assert.Equal(t, 1, a.Points)
		assert.Equal(t, 0, a.Bonus)
	})

	t.Run("consecutive day extends and pays bonus", func(t *testing.T) {
		u, a := Apply(storage.User{Points: 10, StreakDays: 2, LastAwardDate: day.AddDate(0, 0, -1)}, day)
		assert.Equal(t, 3, u.StreakDays)
		assert.Equal(t, 1, a.Bonus)
		assert.Equal(t, 12, u.Points)
		assert.Equal(t, 12, a.Points)
	})

	t.Run("gap resets", func(t *testing.T) {
		u, _ := Apply(storage.User{Points: 10, StreakDays: 8, LastAwardDate: day.AddDate(0, 0, -2)}, day)
		assert.Equal(t, 1, u.StreakDays)
		assert.Equal(t, 11, u.Points)
	})

	t.Run("second award of the day keeps the streak", func(t *testing.T) {
		u, a := Apply(storage.User{Points: 20, StreakDays: 5, LastAwardDate: day}, day)
		assert.Equal(t, 5, u.StreakDays)
		assert.Equal(t, 21, u.Points)
		assert.Equal(t, 0, a.Bonus)
	})
}

func TestLedger_Award(t *testing.T) {
	db, err := storage.Open(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	taipei := time.FixedZone("CST", 8*60*60)
	l := NewLedger(db, taipei, zap.NewNop())
	ctx := context.Background()

	// 2026-05-09 23:30 UTC is already the 10th in Taipei.
	l.now = func() time.Time { return time.Date(2026, 5, 9, 23, 30, 0, 0, time.UTC) }
	a, err := l.AwardCompletion(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Points)

	l.now = func() time.Time { return time.Date(2026, 5, 10, 23, 30, 0, 0, time.UTC) }
	_, err = l.Award(ctx, "u1", "study")
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2026, 5, 11, 23, 30, 0, 0, time.UTC) }
	a, err = l.AwardCompletion(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, a.StreakDays)
	assert.Equal(t, 1, a.Bonus)
	assert.Equal(t, 4, a.Points)

	u, err := db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, u.Points)
	assert.True(t, u.LastAwardDate.Equal(time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC)))

	history, err := db.PointHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "streak day 3", history[0].Reason)
	assert.Equal(t, "session", history[1].Reason)
	assert.Equal(t, "study", history[2].Reason)
}
