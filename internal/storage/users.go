package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/hoksip/internal/domain"
)

// User is the per-user row shared by the reward ledger and the reminder scheduler.
type User struct {
	UserID        string
	ChatID        int64
	Points        int
	StreakDays    int
	LastAwardDate time.Time
	Reminders     bool
}

// PointEntry is one line of a user's point history.
type PointEntry struct {
	Points    int
	Reason    string
	CreatedAt time.Time
}

type userRow struct {
	UserID        string `db:"user_id"`
	ChatID        int64  `db:"chat_id"`
	Points        int    `db:"points"`
	StreakDays    int    `db:"streak_days"`
	LastAwardDate string `db:"last_award_date"`
	Reminders     int    `db:"reminders"`
}

func (r userRow) toUser() (User, error) {
	last, err := domain.ParseDate(r.LastAwardDate)
	if err != nil {
		return User{}, fmt.Errorf("failed to parse last award date of %s: %w", r.UserID, err)
	}
	return User{
		UserID:        r.UserID,
		ChatID:        r.ChatID,
		Points:        r.Points,
		StreakDays:    r.StreakDays,
		LastAwardDate: last,
		Reminders:     r.Reminders != 0,
	}, nil
}

const userColumns = `user_id, chat_id, points, streak_days, last_award_date, reminders`

// TouchUser makes sure a user row exists and records the chat reminders go to.
// A zero chatID leaves a known chat untouched.
func (db *DB) TouchUser(ctx context.Context, userID string, chatID int64) error {
	_, err := db.conn.ExecContext(ctx, db.q(`
		INSERT INTO users (user_id, chat_id) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			chat_id = CASE WHEN excluded.chat_id <> 0 THEN excluded.chat_id ELSE users.chat_id END
	`), userID, chatID)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", userID, err)
	}
	return nil
}

// GetUser retrieves a user row, or domain.ErrNotFound.
func (db *DB) GetUser(ctx context.Context, userID string) (User, error) {
	var row userRow
	err := db.conn.GetContext(ctx, &row, db.q(`SELECT `+userColumns+` FROM users WHERE user_id = ?`), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, domain.ErrNotFound
		}
		return User{}, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return row.toUser()
}

// SetReminders switches reminders on or off for a user.
func (db *DB) SetReminders(ctx context.Context, userID string, on bool) error {
	_, err := db.conn.ExecContext(ctx, db.q(`
		INSERT INTO users (user_id, reminders) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET reminders = excluded.reminders
	`), userID, boolToInt(on))
	if err != nil {
		return fmt.Errorf("failed to set reminders for %s: %w", userID, err)
	}
	return nil
}

// ReminderUsers returns users with reminders on and a known chat.
func (db *DB) ReminderUsers(ctx context.Context) ([]User, error) {
	var rows []userRow
	err := db.conn.SelectContext(ctx, &rows, `SELECT `+userColumns+` FROM users
		WHERE reminders = 1 AND chat_id <> 0 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder users: %w", err)
	}
	users := make([]User, 0, len(rows))
	for _, r := range rows {
		u, err := r.toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// UpdateUser runs fn against the user's current row inside a transaction, stores the
// returned row and appends the returned history entries. Missing users start from zero.
func (db *DB) UpdateUser(ctx context.Context, userID string, fn func(User) (User, []PointEntry)) (User, error) {
	var updated User
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO users (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING
		`), userID); err != nil {
			return fmt.Errorf("failed to create user %s: %w", userID, err)
		}

		query := `SELECT ` + userColumns + ` FROM users WHERE user_id = ?`
		if db.conn.DriverName() == DriverPostgres {
			query += ` FOR UPDATE`
		}
		var row userRow
		if err := tx.GetContext(ctx, &row, tx.Rebind(query), userID); err != nil {
			return fmt.Errorf("failed to lock user %s: %w", userID, err)
		}
		current, err := row.toUser()
		if err != nil {
			return err
		}

		next, entries := fn(current)
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE users SET points = ?, streak_days = ?, last_award_date = ? WHERE user_id = ?
		`), next.Points, next.StreakDays, domain.FormatDate(next.LastAwardDate), userID); err != nil {
			return fmt.Errorf("failed to update user %s: %w", userID, err)
		}

		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO point_history (user_id, points, reason, created_at) VALUES (?, ?, ?, ?)
			`), userID, e.Points, e.Reason, e.CreatedAt.UnixMilli()); err != nil {
				return fmt.Errorf("failed to record points for %s: %w", userID, err)
			}
		}
		updated = next
		updated.UserID = userID
		updated.ChatID = current.ChatID
		updated.Reminders = current.Reminders
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return updated, nil
}

// PointHistory returns a user's point entries, newest first.
func (db *DB) PointHistory(ctx context.Context, userID string, limit int) ([]PointEntry, error) {
	var rows []struct {
		Points    int    `db:"points"`
		Reason    string `db:"reason"`
		CreatedAt int64  `db:"created_at"`
	}
	err := db.conn.SelectContext(ctx, &rows, db.q(`
		SELECT points, reason, created_at FROM point_history
		WHERE user_id = ? ORDER BY id DESC LIMIT ?
	`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get point history for %s: %w", userID, err)
	}
	entries := make([]PointEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, PointEntry{Points: r.Points, Reason: r.Reason, CreatedAt: time.UnixMilli(r.CreatedAt).UTC()})
	}
	return entries, nil
}
