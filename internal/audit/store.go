// Package audit journals generation outcomes to SQLite with configurable
// retention. Ephemeral mode (the default) keeps no database at all, matching
// the service's no-persisted-state posture.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/parlalabs/parla-core/internal/config"
	_ "modernc.org/sqlite"
)

// Entry is one journaled generation outcome.
type Entry struct {
	ID        int64
	Identity  string
	Mode      string
	Voice     string
	Cost      int64
	Status    string
	CreatedAt time.Time
}

// Statuses recorded in the journal. "completed_unbilled" marks runs whose
// audio was returned but whose deduction failed against a drained balance.
const (
	StatusCompleted         = "completed"
	StatusCompletedUnbilled = "completed_unbilled"
	StatusFailed            = "failed"
	StatusCancelled         = "cancelled"
)

// Store wraps the SQLite-backed journal.
type Store struct {
	db    *sql.DB
	cfg   config.AuditConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.AuditConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("audit vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("audit prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS generations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    identity TEXT NOT NULL,
    mode TEXT NOT NULL,
    voice TEXT,
    cost INTEGER NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generations_identity_created ON generations(identity, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends one outcome. A no-op in ephemeral mode.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s.db == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations(identity, mode, voice, cost, status, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		e.Identity, e.Mode, e.Voice, e.Cost, e.Status, e.CreatedAt)
	return err
}

// ListForIdentity retrieves up to limit entries, newest first.
func (s *Store) ListForIdentity(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, mode, voice, cost, status, created_at
		 FROM generations WHERE identity = ? ORDER BY created_at DESC LIMIT ?`, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.Identity, &e.Mode, &e.Voice, &e.Cost, &e.Status, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies configured retention (called on startup).
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM generations WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRows > 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM generations WHERE id IN (
			SELECT id FROM generations ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRows); err != nil {
			return err
		}
	}
	return nil
}
