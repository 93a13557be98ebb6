// Package batch groups a user's cards into the ordered batches a review pass walks through.
package batch

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/conorfennell/hoksip/internal/domain"
)

// Batch is a group of cards last exercised on the same day.
type Batch struct {
	LastExerciseDate time.Time
	Cards            []domain.Card
}

// AverageReviews is the mean review count across the batch.
func (b Batch) AverageReviews() float64 {
	if len(b.Cards) == 0 {
		return 0
	}
	total := 0
	for _, c := range b.Cards {
		total += c.ReviewCount
	}
	return float64(total) / float64(len(b.Cards))
}

// Source is the subset of the card store the partitioner reads from.
type Source interface {
	GetCardsBySubject(ctx context.Context, owner, subject string) ([]domain.Card, error)
	GetDueCards(ctx context.Context, owner, subject string, today time.Time) ([]domain.Card, error)
}

// Partitioner builds batch snapshots for review sessions.
type Partitioner struct {
	src Source
}

func NewPartitioner(src Source) *Partitioner {
	return &Partitioner{src: src}
}

// ForSession returns the batches for a session in the given mode.
// Passive sessions only see cards due on or before today; active sessions see every live card.
func (p *Partitioner) ForSession(ctx context.Context, owner, subject string, mode domain.Mode, today time.Time) ([]Batch, error) {
	var (
		cards []domain.Card
		err   error
	)
	if mode == domain.Passive {
		cards, err = p.src.GetDueCards(ctx, owner, subject, today)
	} else {
		cards, err = p.src.GetCardsBySubject(ctx, owner, subject)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cards for %s/%s: %w", owner, subject, err)
	}
	return Partition(cards), nil
}

// Partition groups live cards by last exercise date.
// Batches with the lowest average review count come first; ties put newer dates first.
// Cards inside a batch are ordered by id. The result shares no memory with the input.
func Partition(cards []domain.Card) []Batch {
	groups := make(map[string][]domain.Card)
	for _, c := range cards {
		if c.Retired {
			continue
		}
		key := domain.FormatDate(c.LastExerciseDate)
		groups[key] = append(groups[key], c)
	}

	batches := make([]Batch, 0, len(groups))
	for _, members := range groups {
		if len(members) == 0 {
			continue
		}
		slices.SortFunc(members, func(a, b domain.Card) int {
			return cmp.Compare(a.ID, b.ID)
		})
		batches = append(batches, Batch{LastExerciseDate: members[0].LastExerciseDate, Cards: members})
	}

	slices.SortFunc(batches, compareBatches)
	return batches
}

func compareBatches(a, b Batch) int {
	if c := cmp.Compare(a.AverageReviews(), b.AverageReviews()); c != 0 {
		return c
	}
	// Newer material first.
	return b.LastExerciseDate.Compare(a.LastExerciseDate)
}

// DueToday filters cards due exactly on today that are not retired,
// ordered by subject and then id.
func DueToday(cards []domain.Card, today time.Time) []domain.Card {
	var due []domain.Card
	for _, c := range cards {
		if c.Retired || !c.NextDueDate.Equal(today) {
			continue
		}
		due = append(due, c)
	}
	slices.SortFunc(due, func(a, b domain.Card) int {
		if c := cmp.Compare(a.Subject, b.Subject); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return due
}

// CountBySubject summarizes a due list for reminders.
func CountBySubject(cards []domain.Card) ([]string, map[string]int) {
	counts := make(map[string]int)
	var order []string
	for _, c := range cards {
		if _, seen := counts[c.Subject]; !seen {
			order = append(order, c.Subject)
		}
		counts[c.Subject]++
	}
	return order, counts
}
