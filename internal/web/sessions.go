package web

import (
	"net/http"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/session"
)

type cardJSON struct {
	ID           int64  `json:"id"`
	Owner        string `json:"owner"`
	Subject      string `json:"subject"`
	Original     string `json:"original"`
	Translation  string `json:"translation"`
	Proficiency  int    `json:"proficiency"`
	LastExercise string `json:"last_exercise_date"`
	NextDue      string `json:"next_due_date"`
	ReviewCount  int    `json:"review_count"`
	SuccessCount int    `json:"success_count"`
	Retired      bool   `json:"retired"`
}

func toCardJSON(c domain.Card) cardJSON {
	return cardJSON{
		ID:           c.ID,
		Owner:        c.Owner,
		Subject:      c.Subject,
		Original:     c.Original,
		Translation:  c.Translation,
		Proficiency:  c.Proficiency,
		LastExercise: domain.FormatDate(c.LastExerciseDate),
		NextDue:      domain.FormatDate(c.NextDueDate),
		ReviewCount:  c.ReviewCount,
		SuccessCount: c.SuccessCount,
		Retired:      c.Retired,
	}
}

type viewJSON struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Subject    string    `json:"subject"`
	Mode       string    `json:"mode"`
	State      string    `json:"state"`
	Version    uint64    `json:"version"`
	Card       *cardJSON `json:"card,omitempty"`
	Position   int       `json:"position"`
	Total      int       `json:"total"`
	BatchIndex int       `json:"batch_index"`
	BatchCount int       `json:"batch_count"`
	Answered   int       `json:"answered"`
	Correct    int       `json:"correct"`
	Deleted    int       `json:"deleted"`
	Skipped    int       `json:"skipped"`
}

func toViewJSON(v session.View) viewJSON {
	out := viewJSON{
		SessionID:  v.SessionID,
		UserID:     v.UserID,
		Subject:    v.Subject,
		Mode:       v.Mode.String(),
		State:      v.State.String(),
		Version:    v.Version,
		Position:   v.Position,
		Total:      v.Total,
		BatchIndex: v.BatchIndex,
		BatchCount: v.BatchCount,
		Answered:   v.Tally.Answered,
		Correct:    v.Tally.Correct,
		Deleted:    v.Tally.Deleted,
		Skipped:    v.Tally.Skipped,
	}
	if v.State == session.Active {
		c := toCardJSON(v.Card)
		out.Card = &c
	}
	return out
}

type awardJSON struct {
	Points     int `json:"points"`
	StreakDays int `json:"streak_days"`
	Bonus      int `json:"bonus"`
}

type resultJSON struct {
	viewJSON
	Outcome string     `json:"outcome"`
	Acted   cardJSON   `json:"acted"`
	Award   *awardJSON `json:"award,omitempty"`
}

var outcomeNames = map[session.Outcome]string{
	session.Scheduled: "scheduled",
	session.Practiced: "practiced",
	session.Skipped:   "skipped",
	session.Deleted:   "deleted",
	session.Ended:     "ended",
}

func toResultJSON(r session.Result) resultJSON {
	out := resultJSON{
		viewJSON: toViewJSON(r.View),
		Outcome:  outcomeNames[r.Outcome],
		Acted:    toCardJSON(r.Acted),
	}
	if r.Award != nil {
		out.Award = &awardJSON{Points: r.Award.Points, StreakDays: r.Award.StreakDays, Bonus: r.Award.Bonus}
	}
	return out
}

type startRequest struct {
	User    string `json:"user"`
	Subject string `json:"subject"`
	Mode    string `json:"mode"`
}

type eventRequest struct {
	Version uint64 `json:"version"`
	Correct bool   `json:"correct"`
}

func (s *Server) handlePostSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Mode == "" {
			req.Mode = domain.Passive.String()
		}
		mode, err := domain.ParseMode(req.Mode)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if req.User == "" {
			writeError(w, http.StatusBadRequest, "user cannot be empty")
			return
		}
		v, err := s.sessions.Start(r.Context(), req.User, req.Subject, mode)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toViewJSON(v))
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.sessions.Current(r.PathValue("user"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toViewJSON(v))
	}
}

func (s *Server) handleAnswer() http.HandlerFunc {
	return s.handleEvent(func(r *http.Request, user string, req eventRequest) (session.Result, error) {
		return s.sessions.Answer(r.Context(), user, req.Version, req.Correct)
	})
}

func (s *Server) handleDelete() http.HandlerFunc {
	return s.handleEvent(func(r *http.Request, user string, req eventRequest) (session.Result, error) {
		return s.sessions.Delete(r.Context(), user, req.Version)
	})
}

func (s *Server) handleEnd() http.HandlerFunc {
	return s.handleEvent(func(r *http.Request, user string, req eventRequest) (session.Result, error) {
		return s.sessions.End(r.Context(), user, req.Version)
	})
}

func (s *Server) handleEvent(apply func(*http.Request, string, eventRequest) (session.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req eventRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := apply(r, r.PathValue("user"), req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResultJSON(res))
	}
}
