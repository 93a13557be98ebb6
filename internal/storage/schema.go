package storage

// Dates are stored as "2006-01-02" text so they compare lexically.
// Booleans are INTEGER 0/1 in both dialects. Timestamps are unix milliseconds.
const sqliteSchema = `
-- The 'cards' table stores one sentence pair per row together with its review progress.
CREATE TABLE IF NOT EXISTS cards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner TEXT NOT NULL,
    subject TEXT NOT NULL,
    original TEXT NOT NULL,
    translation TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL,
    proficiency INTEGER NOT NULL DEFAULT 0,
    last_exercise_date TEXT NOT NULL DEFAULT '',
    next_due_date TEXT NOT NULL,
    review_count INTEGER NOT NULL DEFAULT 0,
    success_count INTEGER NOT NULL DEFAULT 0,
    retired INTEGER NOT NULL DEFAULT 0,
    source_id INTEGER,
    created_at INTEGER NOT NULL,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);
CREATE INDEX IF NOT EXISTS idx_cards_owner_subject ON cards (owner, subject, retired, next_due_date);
CREATE INDEX IF NOT EXISTS idx_cards_hash ON cards (owner, subject, content_hash);

-- The 'sources' table tracks directories and git repositories cards were imported from.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner TEXT NOT NULL,
    subject TEXT NOT NULL,
    path TEXT NOT NULL,
    last_scanned INTEGER NOT NULL DEFAULT 0,
    UNIQUE (owner, subject, path)
);

CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    chat_id INTEGER NOT NULL DEFAULT 0,
    points INTEGER NOT NULL DEFAULT 0,
    streak_days INTEGER NOT NULL DEFAULT 0,
    last_award_date TEXT NOT NULL DEFAULT '',
    reminders INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS point_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    points INTEGER NOT NULL,
    reason TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

-- One row per live review session, rewritten after every step.
CREATE TABLE IF NOT EXISTS sessions (
    user_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    subject TEXT NOT NULL,
    mode INTEGER NOT NULL,
    batches TEXT NOT NULL,
    batch_index INTEGER NOT NULL,
    card_index INTEGER NOT NULL,
    version INTEGER NOT NULL,
    started_at INTEGER NOT NULL,
    last_activity INTEGER NOT NULL
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sources (
    id BIGSERIAL PRIMARY KEY,
    owner TEXT NOT NULL,
    subject TEXT NOT NULL,
    path TEXT NOT NULL,
    last_scanned BIGINT NOT NULL DEFAULT 0,
    UNIQUE (owner, subject, path)
);

CREATE TABLE IF NOT EXISTS cards (
    id BIGSERIAL PRIMARY KEY,
    owner TEXT NOT NULL,
    subject TEXT NOT NULL,
    original TEXT NOT NULL,
    translation TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL,
    proficiency INTEGER NOT NULL DEFAULT 0,
    last_exercise_date TEXT NOT NULL DEFAULT '',
    next_due_date TEXT NOT NULL,
    review_count INTEGER NOT NULL DEFAULT 0,
    success_count INTEGER NOT NULL DEFAULT 0,
    retired INTEGER NOT NULL DEFAULT 0,
    source_id BIGINT REFERENCES sources(id),
    created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cards_owner_subject ON cards (owner, subject, retired, next_due_date);
CREATE INDEX IF NOT EXISTS idx_cards_hash ON cards (owner, subject, content_hash);

CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    chat_id BIGINT NOT NULL DEFAULT 0,
    points INTEGER NOT NULL DEFAULT 0,
    streak_days INTEGER NOT NULL DEFAULT 0,
    last_award_date TEXT NOT NULL DEFAULT '',
    reminders INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS point_history (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    points INTEGER NOT NULL,
    reason TEXT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    user_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    subject TEXT NOT NULL,
    mode INTEGER NOT NULL,
    batches TEXT NOT NULL,
    batch_index INTEGER NOT NULL,
    card_index INTEGER NOT NULL,
    version BIGINT NOT NULL,
    started_at BIGINT NOT NULL,
    last_activity BIGINT NOT NULL
);
`
