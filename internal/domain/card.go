package domain

import "time"

// MaxProficiency is the proficiency at which a card is retired.
const MaxProficiency = 6

// Card represents a single sentence pair and its learning progress.
type Card struct {
	ID          int64
	Owner       string
	Subject     string
	Original    string
	Translation string
	ContentHash string

	Progress
	CreatedAt time.Time
}

// Progress is the part of a card the scheduler owns.
// Retired cards reached MaxProficiency and are excluded from due and batch queries.
type Progress struct {
	Proficiency      int
	LastExerciseDate time.Time
	NextDueDate      time.Time
	ReviewCount      int
	SuccessCount     int
	Retired          bool
}

// Mode selects how answers affect scheduling.
type Mode int

const (
	// Passive review reschedules cards based on correctness.
	Passive Mode = iota
	// Active test records attempts without rescheduling.
	Active
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// ParseMode converts the textual form produced by Mode.String back into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "passive", "review":
		return Passive, nil
	case "active", "test":
		return Active, nil
	}
	return 0, &ValidationError{Field: "mode", Reason: "must be passive or active"}
}

// Award is what the reward ledger hands out for a finished activity.
type Award struct {
	Points     int // balance after the award
	StreakDays int
	Bonus      int // streak bonus included in this award, usually 0
}
