// Package journal persists engine events to SQLite so recent activity
// survives restarts and can be listed over HTTP.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sweeney/experience-degrader/internal/engine"
	"github.com/sweeney/experience-degrader/internal/logic"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS events (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	session      TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	phase        TEXT NOT NULL,
	level        REAL NOT NULL DEFAULT 0.0,
	from_phase   TEXT NOT NULL DEFAULT '',
	to_phase     TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	loops        INTEGER NOT NULL DEFAULT 0,
	source       TEXT NOT NULL DEFAULT '',
	scroll_loops INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session, seq);
`

// Entry is one journaled event.
type Entry struct {
	ID          string    `json:"id"`
	Session     string    `json:"session"`
	Type        string    `json:"type"`
	Phase       string    `json:"phase"`
	Level       float64   `json:"level"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	Message     string    `json:"message,omitempty"`
	Loops       int       `json:"loops,omitempty"`
	Source      string    `json:"source,omitempty"`
	ScrollLoops int       `json:"scroll_loops"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

// Journal records engine events. It is an engine.Observer.
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the journal database at path.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db, logger: logger}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Observe records the update's events. Failures are logged, never returned,
// so a broken disk does not stall the engine.
func (j *Journal) Observe(u engine.Update) {
	if len(u.Events) == 0 {
		return
	}
	if err := j.Record(context.Background(), u.Session, u.Events); err != nil {
		j.logger.Error("journal write failed", zap.Error(err), zap.Int("events", len(u.Events)))
	}
}

// Record inserts events for session in one transaction.
func (j *Journal) Record(ctx context.Context, session string, events []logic.Event) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO events (id, session, event_type, phase, level, from_phase, to_phase, message, loops, source, scroll_loops, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, ev := range events {
		_, err := tx.ExecContext(ctx, q,
			uuid.NewString(),
			session,
			string(ev.Type),
			string(ev.Phase),
			ev.Level,
			string(ev.From),
			string(ev.To),
			ev.Message,
			ev.Loops,
			string(ev.Source),
			ev.Total,
			ev.Timestamp.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", ev.Type, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	const q = `SELECT id, session, event_type, phase, level, from_phase, to_phase, message, loops, source, scroll_loops, created_at
FROM events
ORDER BY seq DESC
LIMIT ?`
	return j.list(ctx, q, limit)
}

// BySession returns every event recorded for session, oldest first.
func (j *Journal) BySession(ctx context.Context, session string) ([]Entry, error) {
	const q = `SELECT id, session, event_type, phase, level, from_phase, to_phase, message, loops, source, scroll_loops, created_at
FROM events
WHERE session = ?
ORDER BY seq ASC`
	return j.list(ctx, q, session)
}

func (j *Journal) list(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Session, &e.Type, &e.Phase, &e.Level, &e.From, &e.To,
			&e.Message, &e.Loops, &e.Source, &e.ScrollLoops, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
