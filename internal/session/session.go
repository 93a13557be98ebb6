package session

import (
	"sync"
	"time"

	"github.com/conorfennell/hoksip/internal/batch"
	"github.com/conorfennell/hoksip/internal/domain"
)

// State is the lifecycle state of a session.
type State int

const (
	Starting State = iota
	Active
	Completed
	Cancelled
	Expired
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events are accepted.
func (s State) Terminal() bool {
	return s >= Completed
}

// Tally counts what happened during a session.
type Tally struct {
	Answered int
	Correct  int
	Deleted  int
	Skipped  int
}

// Session is one user's walk through an ordered batch sequence.
// All fields below mu are only touched while mu is held.
type Session struct {
	ID      string
	UserID  string
	Subject string
	Mode    domain.Mode

	mu           sync.Mutex
	batches      []batch.Batch
	batchIndex   int
	cardIndex    int
	version      uint64
	state        State
	startedAt    time.Time
	lastActivity time.Time
	tally        Tally
}

// current returns the card under the pointer. The caller guarantees the pointer is valid.
func (s *Session) current() domain.Card {
	return s.batches[s.batchIndex].Cards[s.cardIndex]
}

// settle moves the pointer forward past exhausted and empty batches.
// It reports false when no card is left.
func (s *Session) settle() bool {
	for s.batchIndex < len(s.batches) {
		if s.cardIndex < len(s.batches[s.batchIndex].Cards) {
			return true
		}
		s.cardIndex = 0
		s.batchIndex++
	}
	return false
}

// advance steps past the current card.
func (s *Session) advance() bool {
	s.cardIndex++
	return s.settle()
}

// removeCurrent drops the card under the pointer from the snapshot, keeping the
// order of the rest. The pointer now refers to the following card, if any.
func (s *Session) removeCurrent() {
	b := &s.batches[s.batchIndex]
	cards := make([]domain.Card, 0, len(b.Cards)-1)
	cards = append(cards, b.Cards[:s.cardIndex]...)
	cards = append(cards, b.Cards[s.cardIndex+1:]...)
	b.Cards = cards
}

func (s *Session) replaceCurrent(c domain.Card) {
	s.batches[s.batchIndex].Cards[s.cardIndex] = c
}

// View is a read-only rendering of a session for chat surfaces.
type View struct {
	SessionID string
	UserID    string
	Subject   string
	Mode      domain.Mode
	State     State
	Version   uint64

	// Card is the card to show; zero once the session is over.
	Card       domain.Card
	Position   int
	Total      int
	BatchIndex int
	BatchCount int
	CardIndex  int
	BatchSize  int

	Tally Tally
}

func (s *Session) view() View {
	v := View{
		SessionID:  s.ID,
		UserID:     s.UserID,
		Subject:    s.Subject,
		Mode:       s.Mode,
		State:      s.state,
		Version:    s.version,
		BatchIndex: s.batchIndex,
		BatchCount: len(s.batches),
		CardIndex:  s.cardIndex,
		Tally:      s.tally,
	}
	for i, b := range s.batches {
		v.Total += len(b.Cards)
		if i < s.batchIndex {
			v.Position += len(b.Cards)
		}
	}
	if s.state == Active && s.batchIndex < len(s.batches) {
		v.Card = s.current()
		v.BatchSize = len(s.batches[s.batchIndex].Cards)
		v.Position += s.cardIndex + 1
	}
	return v
}

// snapshot captures what is needed to resume the session after a restart.
func (s *Session) snapshot() Snapshot {
	ids := make([][]int64, len(s.batches))
	for i, b := range s.batches {
		ids[i] = make([]int64, len(b.Cards))
		for j, c := range b.Cards {
			ids[i][j] = c.ID
		}
	}
	return Snapshot{
		SessionID:    s.ID,
		UserID:       s.UserID,
		Subject:      s.Subject,
		Mode:         s.Mode,
		Batches:      ids,
		BatchIndex:   s.batchIndex,
		CardIndex:    s.cardIndex,
		Version:      s.version,
		StartedAt:    s.startedAt,
		LastActivity: s.lastActivity,
	}
}
