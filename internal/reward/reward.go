// Package reward keeps the points and daily streak of each user.
package reward

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/storage"
)

// BasePoints is paid for every finished activity.
const BasePoints = 1

// Bonus is the extra paid on the first award of streak day n.
// Multiples of 10, 5 and 3 stack.
func Bonus(streak int) int {
	if streak <= 0 {
		return 0
	}
	bonus := 0
	if streak%10 == 0 {
		bonus += 3
	}
	if streak%5 == 0 {
		bonus += 2
	}
	if streak%3 == 0 {
		bonus++
	}
	return bonus
}

// Apply pays one award to u on the given day. Only the first award of a day moves
// the streak: it continues after yesterday and restarts otherwise.
func Apply(u storage.User, today time.Time) (storage.User, domain.Award) {
	u.Points += BasePoints
	award := domain.Award{StreakDays: u.StreakDays}

	if u.LastAwardDate.IsZero() || !u.LastAwardDate.Equal(today) {
		if !u.LastAwardDate.IsZero() && domain.AddDays(u.LastAwardDate, 1).Equal(today) {
			u.StreakDays++
		} else {
			u.StreakDays = 1
		}
		award.Bonus = Bonus(u.StreakDays)
		u.Points += award.Bonus
		u.LastAwardDate = today
	}

	award.Points = u.Points
	award.StreakDays = u.StreakDays
	return u, award
}

// Store is the persistence the ledger needs.
type Store interface {
	UpdateUser(ctx context.Context, userID string, fn func(storage.User) (storage.User, []storage.PointEntry)) (storage.User, error)
}

// Ledger pays awards and records them in the point history.
type Ledger struct {
	store Store
	loc   *time.Location
	now   func() time.Time
	log   *zap.Logger
}

func NewLedger(store Store, loc *time.Location, log *zap.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, loc: loc, now: time.Now, log: log}
}

// AwardCompletion pays for a completed review or test session.
func (l *Ledger) AwardCompletion(ctx context.Context, userID string) (domain.Award, error) {
	return l.Award(ctx, userID, "session")
}

// Award pays one award for the given reason.
func (l *Ledger) Award(ctx context.Context, userID, reason string) (domain.Award, error) {
	now := l.now()
	today := domain.DateIn(now, l.loc)

	var award domain.Award
	_, err := l.store.UpdateUser(ctx, userID, func(u storage.User) (storage.User, []storage.PointEntry) {
		next, a := Apply(u, today)
		award = a
		entries := []storage.PointEntry{{Points: BasePoints, Reason: reason, CreatedAt: now}}
		if a.Bonus > 0 {
			entries = append(entries, storage.PointEntry{
				Points:    a.Bonus,
				Reason:    fmt.Sprintf("streak day %d", a.StreakDays),
				CreatedAt: now,
			})
		}
		return next, entries
	})
	if err != nil {
		return domain.Award{}, fmt.Errorf("failed to award %s: %w", userID, err)
	}

	l.log.Info("points awarded",
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.Int("points", award.Points),
		zap.Int("streak_days", award.StreakDays),
		zap.Int("bonus", award.Bonus),
	)
	return award, nil
}
