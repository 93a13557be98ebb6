// Package web serves the JSON HTTP API over cards, sessions and deck imports.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/session"
	"github.com/conorfennell/hoksip/internal/storage"
	decksync "github.com/conorfennell/hoksip/internal/sync"
)

// Store is the card and user persistence the API reads and writes.
type Store interface {
	CreateCard(ctx context.Context, in domain.NewCard, today time.Time) (domain.Card, error)
	GetDueCards(ctx context.Context, owner, subject string, today time.Time) ([]domain.Card, error)
	GetDueToday(ctx context.Context, owner string, today time.Time) ([]domain.Card, error)
	SubjectStats(ctx context.Context, owner string) ([]storage.SubjectStat, error)
	GetUser(ctx context.Context, userID string) (storage.User, error)
	PointHistory(ctx context.Context, userID string, limit int) ([]storage.PointEntry, error)
}

// Sessions drives review and test sessions.
type Sessions interface {
	Start(ctx context.Context, userID, subject string, mode domain.Mode) (session.View, error)
	Current(userID string) (session.View, error)
	Answer(ctx context.Context, userID string, version uint64, isCorrect bool) (session.Result, error)
	Delete(ctx context.Context, userID string, version uint64) (session.Result, error)
	End(ctx context.Context, userID string, version uint64) (session.Result, error)
}

// Importer loads deck files into a subject.
type Importer interface {
	Import(ctx context.Context, owner, subject, source string) (decksync.Report, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	store    Store
	sessions Sessions
	importer Importer
	router   *http.ServeMux
	today    func() time.Time
	log      *zap.Logger
}

// NewServer creates and configures a new server. importer may be nil, which leaves
// the import route out.
func NewServer(store Store, sessions Sessions, importer Importer, today func() time.Time, log *zap.Logger) *Server {
	if today == nil {
		today = func() time.Time { return domain.DateIn(time.Now(), time.UTC) }
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		store:    store,
		sessions: sessions,
		importer: importer,
		router:   http.NewServeMux(),
		today:    today,
		log:      log,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth())

	s.router.HandleFunc("POST /cards", s.handlePostCard())
	s.router.HandleFunc("GET /users/{user}/due", s.handleGetDue())
	s.router.HandleFunc("GET /users/{user}/stats", s.handleGetStats())
	s.router.HandleFunc("GET /users/{user}/points", s.handleGetPoints())

	s.router.HandleFunc("POST /sessions", s.handlePostSession())
	s.router.HandleFunc("GET /sessions/{user}", s.handleGetSession())
	s.router.HandleFunc("POST /sessions/{user}/answer", s.handleAnswer())
	s.router.HandleFunc("POST /sessions/{user}/delete", s.handleDelete())
	s.router.HandleFunc("POST /sessions/{user}/end", s.handleEnd())

	if s.importer != nil {
		s.router.HandleFunc("POST /users/{user}/subjects/{subject}/import", s.handleImport())
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type cardRequest struct {
	Owner       string `json:"owner"`
	Subject     string `json:"subject"`
	Original    string `json:"original"`
	Translation string `json:"translation"`
}

func (s *Server) handlePostCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cardRequest
		if !decode(w, r, &req) {
			return
		}
		card, err := s.store.CreateCard(r.Context(), domain.NewCard{
			Owner:       req.Owner,
			Subject:     req.Subject,
			Original:    req.Original,
			Translation: req.Translation,
		}, s.today())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toCardJSON(card))
	}
}

// handleGetDue lists cards due today across subjects, or everything due up to today
// in one subject when ?subject= is given.
func (s *Server) handleGetDue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.PathValue("user")
		var (
			cards []domain.Card
			err   error
		)
		if subject := r.URL.Query().Get("subject"); subject != "" {
			cards, err = s.store.GetDueCards(r.Context(), user, subject, s.today())
		} else {
			cards, err = s.store.GetDueToday(r.Context(), user, s.today())
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out := make([]cardJSON, 0, len(cards))
		for _, c := range cards {
			out = append(out, toCardJSON(c))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleGetStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.store.SubjectStats(r.Context(), r.PathValue("user"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if stats == nil {
			stats = []storage.SubjectStat{}
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

type pointsJSON struct {
	Points     int         `json:"points"`
	StreakDays int         `json:"streak_days"`
	History    []entryJSON `json:"history"`
}

type entryJSON struct {
	Points    int       `json:"points"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleGetPoints() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.PathValue("user")
		u, err := s.store.GetUser(r.Context(), user)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		limit := 20
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
			limit = v
		}
		history, err := s.store.PointHistory(r.Context(), user, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out := pointsJSON{Points: u.Points, StreakDays: u.StreakDays, History: make([]entryJSON, 0, len(history))}
		for _, e := range history {
			out.History = append(out.History, entryJSON{Points: e.Points, Reason: e.Reason, CreatedAt: e.CreatedAt})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type importRequest struct {
	Source string `json:"source"`
}

type reportJSON struct {
	Files      int      `json:"files"`
	Parsed     int      `json:"parsed"`
	Added      int      `json:"added"`
	Duplicates int      `json:"duplicates"`
	Invalid    int      `json:"invalid"`
	Errors     []string `json:"errors,omitempty"`
}

// handleImport runs the import in the foreground so the caller gets the report.
func (s *Server) handleImport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Source == "" {
			writeError(w, http.StatusBadRequest, "source cannot be empty")
			return
		}
		report, err := s.importer.Import(r.Context(), r.PathValue("user"), r.PathValue("subject"), req.Source)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out := reportJSON{
			Files:      report.Files,
			Parsed:     report.Parsed,
			Added:      report.Added,
			Duplicates: report.Duplicates,
			Invalid:    report.Invalid,
		}
		for _, e := range report.Errors {
			out.Errors = append(out.Errors, e.Error())
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps domain and session errors to a status code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var storeErr *session.StoreError
	switch {
	case errors.Is(err, domain.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrStale):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrNoCards), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &storeErr):
		s.log.Warn("transient store failure", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry with the same version")
	default:
		s.log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
