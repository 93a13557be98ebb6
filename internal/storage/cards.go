package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/knol"
	"github.com/conorfennell/hoksip/internal/srs"
)

const cardColumns = `id, owner, subject, original, translation, content_hash, proficiency,
	last_exercise_date, next_due_date, review_count, success_count, retired, created_at`

type cardRow struct {
	ID               int64  `db:"id"`
	Owner            string `db:"owner"`
	Subject          string `db:"subject"`
	Original         string `db:"original"`
	Translation      string `db:"translation"`
	ContentHash      string `db:"content_hash"`
	Proficiency      int    `db:"proficiency"`
	LastExerciseDate string `db:"last_exercise_date"`
	NextDueDate      string `db:"next_due_date"`
	ReviewCount      int    `db:"review_count"`
	SuccessCount     int    `db:"success_count"`
	Retired          int    `db:"retired"`
	CreatedAt        int64  `db:"created_at"`
}

func (r cardRow) toDomain() (domain.Card, error) {
	last, err := domain.ParseDate(r.LastExerciseDate)
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to parse last exercise date of card %d: %w", r.ID, err)
	}
	due, err := domain.ParseDate(r.NextDueDate)
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to parse due date of card %d: %w", r.ID, err)
	}
	return domain.Card{
		ID:          r.ID,
		Owner:       r.Owner,
		Subject:     r.Subject,
		Original:    r.Original,
		Translation: r.Translation,
		ContentHash: r.ContentHash,
		Progress: domain.Progress{
			Proficiency:      r.Proficiency,
			LastExerciseDate: last,
			NextDueDate:      due,
			ReviewCount:      r.ReviewCount,
			SuccessCount:     r.SuccessCount,
			Retired:          r.Retired != 0,
		},
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}, nil
}

func toCards(rows []cardRow) ([]domain.Card, error) {
	cards := make([]domain.Card, 0, len(rows))
	for _, r := range rows {
		c, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// CreateCard validates and stores a new card, due today.
func (db *DB) CreateCard(ctx context.Context, in domain.NewCard, today time.Time) (domain.Card, error) {
	return db.insertCard(ctx, in, sql.NullInt64{}, today)
}

// CreateCardFromSource stores a card imported from a tracked source.
func (db *DB) CreateCardFromSource(ctx context.Context, in domain.NewCard, sourceID int64, today time.Time) (domain.Card, error) {
	return db.insertCard(ctx, in, sql.NullInt64{Int64: sourceID, Valid: true}, today)
}

func (db *DB) insertCard(ctx context.Context, in domain.NewCard, sourceID sql.NullInt64, today time.Time) (domain.Card, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.Card{}, err
	}

	card := domain.Card{
		Owner:       in.Owner,
		Subject:     in.Subject,
		Original:    in.Original,
		Translation: in.Translation,
		ContentHash: knol.Hash(in.Original, in.Translation),
		Progress:    srs.Initial(today),
		CreatedAt:   db.now().UTC().Truncate(time.Millisecond),
	}

	err := db.conn.QueryRowxContext(ctx, db.q(`
		INSERT INTO cards (owner, subject, original, translation, content_hash, proficiency,
			last_exercise_date, next_due_date, review_count, success_count, retired, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		card.Owner,
		card.Subject,
		card.Original,
		card.Translation,
		card.ContentHash,
		card.Proficiency,
		domain.FormatDate(card.LastExerciseDate),
		domain.FormatDate(card.NextDueDate),
		card.ReviewCount,
		card.SuccessCount,
		boolToInt(card.Retired),
		sourceID,
		card.CreatedAt.UnixMilli(),
	).Scan(&card.ID)
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to insert card for %s/%s: %w", card.Owner, card.Subject, err)
	}
	return card, nil
}

// GetCard retrieves a card by id. It returns domain.ErrNotFound when the card is gone.
func (db *DB) GetCard(ctx context.Context, id int64) (domain.Card, error) {
	var row cardRow
	err := db.conn.GetContext(ctx, &row, db.q(`SELECT `+cardColumns+` FROM cards WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Card{}, domain.ErrNotFound
		}
		return domain.Card{}, fmt.Errorf("failed to get card %d: %w", id, err)
	}
	return row.toDomain()
}

// GetCardsBySubject returns every live card of a subject, ordered by id.
func (db *DB) GetCardsBySubject(ctx context.Context, owner, subject string) ([]domain.Card, error) {
	var rows []cardRow
	err := db.conn.SelectContext(ctx, &rows, db.q(`
		SELECT `+cardColumns+` FROM cards
		WHERE owner = ? AND subject = ? AND retired = 0
		ORDER BY id
	`), owner, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for %s/%s: %w", owner, subject, err)
	}
	return toCards(rows)
}

// GetDueCards returns the live cards of a subject due on or before today, ordered by id.
func (db *DB) GetDueCards(ctx context.Context, owner, subject string, today time.Time) ([]domain.Card, error) {
	var rows []cardRow
	err := db.conn.SelectContext(ctx, &rows, db.q(`
		SELECT `+cardColumns+` FROM cards
		WHERE owner = ? AND subject = ? AND retired = 0 AND next_due_date <= ?
		ORDER BY id
	`), owner, subject, domain.FormatDate(today))
	if err != nil {
		return nil, fmt.Errorf("failed to get due cards for %s/%s: %w", owner, subject, err)
	}
	return toCards(rows)
}

// GetDueToday returns the owner's live cards across all subjects due exactly today.
func (db *DB) GetDueToday(ctx context.Context, owner string, today time.Time) ([]domain.Card, error) {
	var rows []cardRow
	err := db.conn.SelectContext(ctx, &rows, db.q(`
		SELECT `+cardColumns+` FROM cards
		WHERE owner = ? AND retired = 0 AND next_due_date = ?
		ORDER BY subject, id
	`), owner, domain.FormatDate(today))
	if err != nil {
		return nil, fmt.Errorf("failed to get cards due today for %s: %w", owner, err)
	}
	return toCards(rows)
}

// UpdateProgress persists the scheduler-owned fields of a card.
func (db *DB) UpdateProgress(ctx context.Context, id int64, p domain.Progress) error {
	res, err := db.conn.ExecContext(ctx, db.q(`
		UPDATE cards
		SET proficiency = ?, last_exercise_date = ?, next_due_date = ?,
			review_count = ?, success_count = ?, retired = ?
		WHERE id = ?
	`),
		p.Proficiency,
		domain.FormatDate(p.LastExerciseDate),
		domain.FormatDate(p.NextDueDate),
		p.ReviewCount,
		p.SuccessCount,
		boolToInt(p.Retired),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update progress for card %d: %w", id, err)
	}
	return affectedOne(res, id)
}

// DeleteCard removes a card for good.
func (db *DB) DeleteCard(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, db.q(`DELETE FROM cards WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete card %d: %w", id, err)
	}
	return affectedOne(res, id)
}

func affectedOne(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for card %d: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindCardByHash looks up a card with the same content in a subject.
func (db *DB) FindCardByHash(ctx context.Context, owner, subject, hash string) (domain.Card, error) {
	var row cardRow
	err := db.conn.GetContext(ctx, &row, db.q(`
		SELECT `+cardColumns+` FROM cards
		WHERE owner = ? AND subject = ? AND content_hash = ?
		ORDER BY id
		LIMIT 1
	`), owner, subject, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Card{}, domain.ErrNotFound
		}
		return domain.Card{}, fmt.Errorf("failed to find card by hash %s: %w", hash, err)
	}
	return row.toDomain()
}

// SubjectExists reports whether the owner has any card, retired or not, in the subject.
func (db *DB) SubjectExists(ctx context.Context, owner, subject string) (bool, error) {
	var n int
	err := db.conn.GetContext(ctx, &n, db.q(`SELECT COUNT(*) FROM cards WHERE owner = ? AND subject = ?`), owner, subject)
	if err != nil {
		return false, fmt.Errorf("failed to check subject %s/%s: %w", owner, subject, err)
	}
	return n > 0, nil
}

// ListSubjects returns the owner's subjects in alphabetical order.
func (db *DB) ListSubjects(ctx context.Context, owner string) ([]string, error) {
	var subjects []string
	err := db.conn.SelectContext(ctx, &subjects, db.q(`
		SELECT DISTINCT subject FROM cards WHERE owner = ? ORDER BY subject
	`), owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects for %s: %w", owner, err)
	}
	return subjects, nil
}

// SubjectStat counts a subject's cards per mastery bucket.
type SubjectStat struct {
	Subject    string `json:"subject"`
	Unfamiliar int    `json:"unfamiliar"`
	Vague      int    `json:"vague"`
	Mastered   int    `json:"mastered"`
}

// Total is the number of cards in the subject.
func (s SubjectStat) Total() int {
	return s.Unfamiliar + s.Vague + s.Mastered
}

// SubjectStats buckets every card of the owner, retired ones included, by proficiency.
func (db *DB) SubjectStats(ctx context.Context, owner string) ([]SubjectStat, error) {
	var rows []struct {
		Subject     string `db:"subject"`
		Proficiency int    `db:"proficiency"`
		Cards       int    `db:"cards"`
	}
	err := db.conn.SelectContext(ctx, &rows, db.q(`
		SELECT subject, proficiency, COUNT(*) AS cards
		FROM cards WHERE owner = ?
		GROUP BY subject, proficiency
	`), owner)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats for %s: %w", owner, err)
	}

	bySubject := make(map[string]*SubjectStat)
	for _, r := range rows {
		st, ok := bySubject[r.Subject]
		if !ok {
			st = &SubjectStat{Subject: r.Subject}
			bySubject[r.Subject] = st
		}
		switch srs.Classify(r.Proficiency) {
		case srs.Unfamiliar:
			st.Unfamiliar += r.Cards
		case srs.Vague:
			st.Vague += r.Cards
		default:
			st.Mastered += r.Cards
		}
	}

	stats := make([]SubjectStat, 0, len(bySubject))
	for _, st := range bySubject {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Subject < stats[j].Subject })
	return stats, nil
}
