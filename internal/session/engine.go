package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/hoksip/internal/batch"
	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/srs"
	"go.uber.org/zap"
)

// CardStore is what the engine needs from card persistence.
type CardStore interface {
	batch.Source
	GetCard(ctx context.Context, id int64) (domain.Card, error)
	UpdateProgress(ctx context.Context, id int64, p domain.Progress) error
	DeleteCard(ctx context.Context, id int64) error
}

// RewardLedger is called once for every completed session.
type RewardLedger interface {
	AwardCompletion(ctx context.Context, userID string) (domain.Award, error)
}

// Config tunes the engine. Zero values get defaults.
type Config struct {
	IdleTimeout   time.Duration  // zero → 30m
	SweepInterval time.Duration  // zero → 1m
	Location      *time.Location // calendar used for "today"; nil → UTC
	Now           func() time.Time
}

// Outcome says what a transition did to the card it acted on.
type Outcome int

const (
	Scheduled Outcome = iota // passive answer rescheduled the card
	Practiced                // active answer only counted a review
	Skipped                  // the card vanished from the store
	Deleted
	Ended
)

// Result is returned by every accepted event.
type Result struct {
	View
	Outcome Outcome
	// Acted is the card the event applied to, with its new progress.
	Acted domain.Card
	// Award is set when the transition completed the session and the ledger paid out.
	Award *domain.Award
}

// Engine drives review and test sessions.
type Engine struct {
	registry    *Registry
	store       CardStore
	partitioner *batch.Partitioner
	ledger      RewardLedger
	snapshots   SnapshotStore
	cfg         Config
	log         *zap.Logger
}

// NewEngine wires an engine. snapshots may be nil to run without crash recovery.
func NewEngine(reg *Registry, store CardStore, ledger RewardLedger, snapshots SnapshotStore, cfg Config, log *zap.Logger) *Engine {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		registry:    reg,
		store:       store,
		partitioner: batch.NewPartitioner(store),
		ledger:      ledger,
		snapshots:   snapshots,
		cfg:         cfg,
		log:         log,
	}
}

// Registry exposes the admission registry, e.g. for other activities that must not overlap.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Today is the current calendar date in the configured location.
func (e *Engine) Today() time.Time {
	return domain.DateIn(e.cfg.Now(), e.cfg.Location)
}

// Start opens a session for the user and returns the first card.
func (e *Engine) Start(ctx context.Context, userID, subject string, mode domain.Mode) (View, error) {
	if err := domain.ValidateSubject(subject); err != nil {
		return View{}, err
	}
	subject = strings.TrimSpace(subject)

	s, err := e.registry.TryAcquire(userID, subject, mode, e.cfg.Now())
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batches, err := e.partitioner.ForSession(ctx, userID, subject, mode, e.Today())
	if err != nil {
		s.state = Cancelled
		e.registry.releaseSession(s)
		return View{}, &StoreError{Op: "start", Err: err}
	}
	s.batches = batches
	if !s.settle() {
		s.state = Cancelled
		e.registry.releaseSession(s)
		return View{}, ErrNoCards
	}

	s.state = Active
	s.version = e.registry.nextVersion()
	e.save(ctx, s)

	v := s.view()
	e.log.Info("session started",
		zap.String("session_id", s.ID),
		zap.String("user_id", userID),
		zap.String("subject", subject),
		zap.Stringer("mode", mode),
		zap.Int("cards", v.Total),
		zap.Int("batches", v.BatchCount),
	)
	return v, nil
}

// Current returns the user's live session.
func (e *Engine) Current(userID string) (View, error) {
	s := e.registry.Lookup(userID)
	if s == nil {
		return View{}, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		return View{}, ErrNoSession
	}
	return s.view(), nil
}

// Answer records whether the user recalled the current card and moves on.
func (e *Engine) Answer(ctx context.Context, userID string, version uint64, isCorrect bool) (Result, error) {
	s, err := e.acquire(userID, version)
	if err != nil {
		return Result{}, err
	}
	defer s.mu.Unlock()

	cur := s.current()
	fresh, err := e.store.GetCard(ctx, cur.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return e.skip(ctx, s, cur), nil
	}
	if err != nil {
		e.log.Warn("failed to load card", zap.String("user_id", userID), zap.Int64("card_id", cur.ID), zap.Error(err))
		return Result{}, &StoreError{Op: "answer", Err: err}
	}

	today := e.Today()
	next := srs.Schedule(fresh.Progress, isCorrect, s.Mode, today)
	if err := e.store.UpdateProgress(ctx, fresh.ID, next); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return e.skip(ctx, s, cur), nil
		}
		e.log.Warn("failed to persist answer", zap.String("user_id", userID), zap.Int64("card_id", cur.ID), zap.Error(err))
		return Result{}, &StoreError{Op: "answer", Err: err}
	}

	fresh.Progress = next
	s.replaceCurrent(fresh)
	s.tally.Answered++
	if isCorrect {
		s.tally.Correct++
	}

	outcome := Scheduled
	if s.Mode == domain.Active {
		outcome = Practiced
	}
	if next.Retired {
		e.log.Info("card retired", zap.String("user_id", userID), zap.Int64("card_id", fresh.ID))
	}
	return e.step(ctx, s, s.advance(), outcome, fresh), nil
}

// Delete removes the current card for good and moves on.
func (e *Engine) Delete(ctx context.Context, userID string, version uint64) (Result, error) {
	s, err := e.acquire(userID, version)
	if err != nil {
		return Result{}, err
	}
	defer s.mu.Unlock()

	cur := s.current()
	if err := e.store.DeleteCard(ctx, cur.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.log.Warn("failed to delete card", zap.String("user_id", userID), zap.Int64("card_id", cur.ID), zap.Error(err))
		return Result{}, &StoreError{Op: "delete", Err: err}
	}

	s.removeCurrent()
	s.tally.Deleted++
	return e.step(ctx, s, s.settle(), Deleted, cur), nil
}

// End cancels the session, keeping whatever progress was already persisted.
func (e *Engine) End(ctx context.Context, userID string, version uint64) (Result, error) {
	s, err := e.acquire(userID, version)
	if err != nil {
		return Result{}, err
	}
	defer s.mu.Unlock()

	s.state = Cancelled
	s.version = e.registry.nextVersion()
	s.lastActivity = e.cfg.Now()
	e.release(ctx, s)

	e.log.Info("session ended",
		zap.String("session_id", s.ID),
		zap.String("user_id", userID),
		zap.Int("answered", s.tally.Answered),
	)
	return Result{View: s.view(), Outcome: Ended}, nil
}

// acquire locks the user's session and checks the event version.
// On success the session is returned locked.
func (e *Engine) acquire(userID string, version uint64) (*Session, error) {
	s := e.registry.Lookup(userID)
	if s == nil {
		return nil, ErrNoSession
	}
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	if s.version != version {
		s.mu.Unlock()
		e.log.Debug("stale event ignored",
			zap.String("user_id", userID),
			zap.Uint64("version", version),
			zap.Uint64("current", s.version),
		)
		return nil, ErrStale
	}
	return s, nil
}

func (e *Engine) skip(ctx context.Context, s *Session, cur domain.Card) Result {
	e.log.Info("card vanished, skipping", zap.String("user_id", s.UserID), zap.Int64("card_id", cur.ID))
	s.tally.Skipped++
	return e.step(ctx, s, s.advance(), Skipped, cur)
}

// step finishes a transition: bumps the version and either persists the new
// position or completes the session.
func (e *Engine) step(ctx context.Context, s *Session, more bool, outcome Outcome, acted domain.Card) Result {
	s.version = e.registry.nextVersion()
	s.lastActivity = e.cfg.Now()

	if more {
		e.save(ctx, s)
		return Result{View: s.view(), Outcome: outcome, Acted: acted}
	}

	s.state = Completed
	res := Result{Outcome: outcome, Acted: acted}
	if e.ledger != nil {
		award, err := e.ledger.AwardCompletion(ctx, s.UserID)
		if err != nil {
			e.log.Warn("failed to award completion", zap.String("user_id", s.UserID), zap.Error(err))
		} else {
			res.Award = &award
		}
	}
	e.release(ctx, s)
	res.View = s.view()

	e.log.Info("session completed",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.String("subject", s.Subject),
		zap.Int("answered", s.tally.Answered),
		zap.Int("correct", s.tally.Correct),
	)
	return res
}

func (e *Engine) release(ctx context.Context, s *Session) {
	e.registry.releaseSession(s)
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.DeleteSnapshot(ctx, s.UserID); err != nil {
		e.log.Warn("failed to delete session snapshot", zap.String("user_id", s.UserID), zap.Error(err))
	}
}

func (e *Engine) save(ctx context.Context, s *Session) {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.SaveSnapshot(ctx, s.snapshot()); err != nil {
		e.log.Warn("failed to save session snapshot", zap.String("user_id", s.UserID), zap.Error(err))
	}
}

// Sweep expires sessions idle for longer than the configured timeout and
// returns how many were released.
func (e *Engine) Sweep(ctx context.Context) int {
	now := e.cfg.Now()
	expired := 0
	for _, s := range e.registry.Sessions() {
		s.mu.Lock()
		if s.state == Active && now.Sub(s.lastActivity) > e.cfg.IdleTimeout {
			s.state = Expired
			s.version = e.registry.nextVersion()
			e.release(ctx, s)
			expired++
			e.log.Info("session expired",
				zap.String("session_id", s.ID),
				zap.String("user_id", s.UserID),
				zap.Duration("idle", now.Sub(s.lastActivity)),
			)
		}
		s.mu.Unlock()
	}
	return expired
}

// Run sweeps idle sessions until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.Sweep(ctx); n > 0 {
				e.log.Info("idle sessions swept", zap.Int("expired", n), zap.Int("live", e.registry.Len()))
			}
		}
	}
}

// Restore re-registers sessions persisted before a restart. Expired snapshots and
// snapshots whose cards are all gone are dropped.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.snapshots == nil {
		return 0, nil
	}
	snaps, err := e.snapshots.LoadSnapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load session snapshots: %w", err)
	}

	now := e.cfg.Now()
	restored := 0
	for _, snap := range snaps {
		if now.Sub(snap.LastActivity) > e.cfg.IdleTimeout {
			e.drop(ctx, snap.UserID, "expired")
			continue
		}
		s, err := e.rebuild(ctx, snap)
		if err != nil {
			e.log.Warn("failed to rebuild session", zap.String("user_id", snap.UserID), zap.Error(err))
			continue
		}
		if s == nil {
			e.drop(ctx, snap.UserID, "nothing left")
			continue
		}
		if !e.registry.adopt(s) {
			continue
		}
		restored++
	}
	if restored > 0 {
		e.log.Info("sessions restored", zap.Int("count", restored))
	}
	return restored, nil
}

func (e *Engine) rebuild(ctx context.Context, snap Snapshot) (*Session, error) {
	s := &Session{
		ID:           snap.SessionID,
		UserID:       snap.UserID,
		Subject:      snap.Subject,
		Mode:         snap.Mode,
		batchIndex:   snap.BatchIndex,
		cardIndex:    snap.CardIndex,
		version:      snap.Version,
		state:        Active,
		startedAt:    snap.StartedAt,
		lastActivity: snap.LastActivity,
	}
	for bi, ids := range snap.Batches {
		var b batch.Batch
		for ci, id := range ids {
			c, err := e.store.GetCard(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				// Cards removed before the pointer shift it back.
				if bi == snap.BatchIndex && ci < snap.CardIndex {
					s.cardIndex--
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			b.Cards = append(b.Cards, c)
		}
		if len(b.Cards) > 0 {
			b.LastExerciseDate = b.Cards[0].LastExerciseDate
		}
		s.batches = append(s.batches, b)
	}
	if !s.settle() {
		return nil, nil
	}
	return s, nil
}

func (e *Engine) drop(ctx context.Context, userID, reason string) {
	e.log.Info("dropping session snapshot", zap.String("user_id", userID), zap.String("reason", reason))
	if err := e.snapshots.DeleteSnapshot(ctx, userID); err != nil {
		e.log.Warn("failed to delete session snapshot", zap.String("user_id", userID), zap.Error(err))
	}
}
