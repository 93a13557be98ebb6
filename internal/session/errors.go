package session

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy means the user already has a session in some mode.
	ErrBusy = errors.New("session: another activity is in progress")
	// ErrStale means the event was issued against an older version of the session.
	// Callers treat it as "already handled".
	ErrStale = errors.New("session: stale event")
	// ErrNoSession means the user has no live session, e.g. it expired or finished.
	ErrNoSession = errors.New("session: no active session")
	// ErrNoCards means there is nothing to review for the requested subject.
	ErrNoCards = errors.New("session: no cards to review")
)

// StoreError is a transient persistence failure. The step was not applied and the
// session still accepts the same event, with the same version, again.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session: %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
