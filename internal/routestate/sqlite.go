package routestate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chatroute/internal/config"
)

// migrations are applied in order; the index+1 is the schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversation_routes (
		conversation_id TEXT PRIMARY KEY,
		profile_id      TEXT NOT NULL,
		model_id        TEXT NOT NULL DEFAULT '',
		updated_at      DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_routes_profile ON conversation_routes(profile_id)`,
}

// SQLiteStore persists routes in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", expanded)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, path: expanded}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return err
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM _migrations").Scan(&current); err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec("INSERT INTO _migrations (version, applied_at) VALUES (?, ?)", i+1, time.Now().UTC()); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(ctx context.Context, id string) (State, error) {
	var st State
	err := s.db.QueryRowContext(ctx,
		"SELECT profile_id, model_id, updated_at FROM conversation_routes WHERE conversation_id = ?",
		id,
	).Scan(&st.ActiveProfileID, &st.ActiveModelID, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("get route %q: %w", id, err)
	}
	return st, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, id string, st State) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_routes (conversation_id, profile_id, model_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			profile_id = excluded.profile_id,
			model_id   = excluded.model_id,
			updated_at = excluded.updated_at`,
		id, st.ActiveProfileID, st.ActiveModelID, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert route %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversation_routes WHERE conversation_id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByProfile removes every route pointing at profileID, returning the
// number removed. Used when a profile is deleted from the config document.
func (s *SQLiteStore) DeleteByProfile(ctx context.Context, profileID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversation_routes WHERE profile_id = ?", profileID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
