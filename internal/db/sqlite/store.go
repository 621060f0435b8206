// Package sqlite provides a single-file event journal and user store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xtrntr/resourceswap/internal/db/migrate"
	"github.com/xtrntr/resourceswap/internal/db/sqlite/migrations"
	"github.com/xtrntr/resourceswap/internal/models"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists events and users in SQLite
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func applyMigrations(sqlDB *sql.DB) error {
	files, err := migrate.Files(migrations.FS)
	if err != nil {
		return err
	}
	createSQL := `CREATE TABLE IF NOT EXISTS ` + migrate.Table + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`
	if _, err := sqlDB.Exec(createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, f := range files {
		var found int
		err := sqlDB.QueryRow("SELECT 1 FROM "+migrate.Table+" WHERE name = ?", f.Name).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", f.Name, err)
		}

		tx, err := sqlDB.BeginTx(context.Background(), nil)
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", f.Name, err)
		}
		if _, err := tx.Exec(f.Up); err != nil && !migrate.IsAlreadyExists(err) {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO "+migrate.Table+" (name, applied_at) VALUES (?, ?)",
			f.Name, toMillis(time.Now()),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f.Name, err)
		}
	}
	return nil
}

// Close closes the SQLite handle
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateUser inserts a user
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	now := time.Now().UTC()
	res, err := s.sqlDB.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, passwordHash, toMillis(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &models.User{
		ID:           int(id),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    fromMillis(toMillis(now)),
	}, nil
}

// GetUserByUsername looks a user up by name
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = ?",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	return &user, nil
}

// Append journals one event. It satisfies exchange.Journal.
func (s *Store) Append(ctx context.Context, ev models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		"INSERT INTO events (seq, event_id, kind, account, payload, occurred_at) VALUES (?, ?, ?, ?, ?, ?)",
		ev.Seq, ev.ID, string(ev.Kind), string(ev.Account), string(payload), toMillis(ev.At))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %d already journaled", ev.Seq)
		}
		return fmt.Errorf("insert event %d: %w", ev.Seq, err)
	}
	return nil
}

// EventID returns the id journaled under seq
func (s *Store) EventID(ctx context.Context, seq int64) (string, bool, error) {
	var id string
	err := s.sqlDB.QueryRowContext(ctx, "SELECT event_id FROM events WHERE seq = ?", seq).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("look up event %d: %w", seq, err)
	}
	return id, true, nil
}

// LoadEvents returns the journal in sequence order
func (s *Store) LoadEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT payload FROM events ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
