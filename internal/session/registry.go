package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/google/uuid"
)

// Registry admits at most one session per user.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	// versions are drawn from one sequence so a token from an old session
	// can never match a newer session of the same user.
	seq atomic.Uint64
}

func NewRegistry() *Registry {
	r := &Registry{sessions: make(map[string]*Session)}
	r.seq.Store(uint64(time.Now().UnixMilli()))
	return r
}

// TryAcquire reserves the user's slot. It fails with ErrBusy when any session,
// in any mode, already holds it. The returned session is in the Starting state.
func (r *Registry) TryAcquire(userID, subject string, mode domain.Mode, now time.Time) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[userID]; ok {
		return nil, ErrBusy
	}
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Subject:      subject,
		Mode:         mode,
		state:        Starting,
		startedAt:    now,
		lastActivity: now,
	}
	r.sessions[userID] = s
	return s, nil
}

// Release frees the user's slot. Releasing a free slot is a no-op.
func (r *Registry) Release(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

// Lookup returns the user's live session, or nil.
func (r *Registry) Lookup(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[userID]
}

// Sessions returns the sessions currently registered.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports how many users hold a slot.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// releaseSession frees the slot only while it still belongs to s.
func (r *Registry) releaseSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.UserID] == s {
		delete(r.sessions, s.UserID)
	}
}

// adopt registers a restored session unless the user already holds a slot.
func (r *Registry) adopt(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.UserID]; ok {
		return false
	}
	r.sessions[s.UserID] = s
	for {
		cur := r.seq.Load()
		if s.version <= cur || r.seq.CompareAndSwap(cur, s.version) {
			break
		}
	}
	return true
}

func (r *Registry) nextVersion() uint64 {
	return r.seq.Add(1)
}
