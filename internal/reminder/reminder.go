// Package reminder nudges users who have cards due today at fixed hours of the day.
package reminder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/conorfennell/hoksip/internal/batch"
	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/storage"
)

// Due is one subject line of a reminder.
type Due struct {
	Subject string
	Cards   int
}

// Notifier delivers a reminder to a user.
type Notifier interface {
	NotifyDue(ctx context.Context, user storage.User, due []Due) error
}

// Store is what the scheduler reads.
type Store interface {
	ReminderUsers(ctx context.Context) ([]storage.User, error)
	GetDueToday(ctx context.Context, owner string, today time.Time) ([]domain.Card, error)
}

// Scheduler fires reminders at the configured hours.
type Scheduler struct {
	store    Store
	notifier Notifier
	hours    []int
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger

	// Busy, when set, skips users that are in the middle of a session.
	Busy func(userID string) bool
}

func NewScheduler(store Store, notifier Notifier, hours []int, loc *time.Location, log *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	hs := append([]int(nil), hours...)
	sort.Ints(hs)
	return &Scheduler{store: store, notifier: notifier, hours: hs, loc: loc, now: time.Now, log: log}
}

// NextRun returns the first configured hour strictly after now, in loc.
func NextRun(now time.Time, hours []int, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	for day := 0; day < 2; day++ {
		for _, h := range hours {
			at := time.Date(y, m, d+day, h, 0, 0, 0, loc)
			if at.After(now) {
				return at
			}
		}
	}
	return time.Time{}
}

// Run waits for each configured hour and sends reminders until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.hours) == 0 {
		s.log.Info("no reminder hours configured")
		return
	}
	for {
		next := NextRun(s.now(), s.hours, s.loc)
		s.log.Debug("next reminder run", zap.Time("at", next))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error("reminder run failed", zap.Error(err))
			}
		}
	}
}

// RunOnce sends one round of reminders and reports how many users were notified.
// A failure for one user does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	users, err := s.store.ReminderUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load reminder users: %w", err)
	}

	today := domain.DateIn(s.now(), s.loc)
	sent := 0
	for _, u := range users {
		if s.Busy != nil && s.Busy(u.UserID) {
			continue
		}
		cards, err := s.store.GetDueToday(ctx, u.UserID, today)
		if err != nil {
			s.log.Warn("failed to load due cards", zap.String("user_id", u.UserID), zap.Error(err))
			continue
		}
		subjects, counts := batch.CountBySubject(batch.DueToday(cards, today))
		if len(subjects) == 0 {
			continue
		}
		due := make([]Due, 0, len(subjects))
		for _, subj := range subjects {
			due = append(due, Due{Subject: subj, Cards: counts[subj]})
		}
		if err := s.notifier.NotifyDue(ctx, u, due); err != nil {
			s.log.Warn("failed to send reminder", zap.String("user_id", u.UserID), zap.Error(err))
			continue
		}
		sent++
	}
	s.log.Info("reminders sent", zap.Int("users", sent))
	return sent, nil
}
