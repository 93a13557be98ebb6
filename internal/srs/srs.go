package srs

import (
	"time"

	"github.com/conorfennell/hoksip/internal/domain"
)

// IntervalDays maps a proficiency to the number of days until the next review.
// Index 0 means tomorrow; proficiencies past the end use the last entry.
var IntervalDays = [...]int{1, 2, 3, 5, 7, 10}

// Mastery buckets a card for the per-subject statistics.
type Mastery int

const (
	Unfamiliar Mastery = iota
	Vague
	Mastered
)

func (m Mastery) String() string {
	switch m {
	case Unfamiliar:
		return "unfamiliar"
	case Vague:
		return "vague"
	default:
		return "mastered"
	}
}

// Interval returns the days until the next review for a proficiency.
func Interval(proficiency int) int {
	idx := min(max(proficiency, 0), len(IntervalDays)-1)
	return IntervalDays[idx]
}

// Schedule computes the next progress of a card after one answer on the given day.
// It has no side effects; persisting the result is the caller's job.
func Schedule(current domain.Progress, isCorrect bool, mode domain.Mode, today time.Time) domain.Progress {
	next := current
	next.Proficiency = clamp(current.Proficiency)
	next.ReviewCount = current.ReviewCount + 1

	if mode != domain.Passive {
		// Practice does not reschedule.
		return next
	}

	if isCorrect {
		next.Proficiency = min(next.Proficiency+1, domain.MaxProficiency)
		next.SuccessCount = current.SuccessCount + 1
	} else {
		next.Proficiency = 0
	}

	next.LastExerciseDate = today
	next.NextDueDate = domain.AddDays(today, Interval(next.Proficiency))
	next.Retired = next.Proficiency >= domain.MaxProficiency
	return next
}

// Initial is the progress of a freshly studied card: due today, never exercised.
func Initial(today time.Time) domain.Progress {
	return domain.Progress{
		LastExerciseDate: today,
		NextDueDate:      today,
	}
}

// Classify returns the mastery bucket for a proficiency.
func Classify(proficiency int) Mastery {
	switch {
	case proficiency <= 2:
		return Unfamiliar
	case proficiency <= 5:
		return Vague
	default:
		return Mastered
	}
}

func clamp(p int) int {
	return min(max(p, 0), domain.MaxProficiency)
}
