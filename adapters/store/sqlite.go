package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/layer-3/eauth/core"
	"github.com/layer-3/eauth/ports"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps users and sessions in the "User" and "Session" tables
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ ports.UserStore    = (*SQLiteStore)(nil)
	_ ports.SessionStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens the database at path, creating parent directories as needed.
// Call Migrate and Reset before serving requests.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
	}, nil
}

// Migrate creates the User table if it does not exist. Users survive restarts.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS "User" (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			address TEXT NOT NULL UNIQUE,
			createdAt TEXT NOT NULL,
			updatedAt TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating User table: %w", err)
	}
	return nil
}

// Reset drops and recreates the Session table, logging every user out
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS "Session"`); err != nil {
		return fmt.Errorf("dropping Session table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE "Session" (
			sid TEXT PRIMARY KEY,
			address TEXT NOT NULL DEFAULT '',
			user_id INTEGER NOT NULL DEFAULT 0,
			token TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT '{}',
			expires INTEGER NOT NULL DEFAULT 0
		)`); err != nil {
		return fmt.Errorf("creating Session table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX idx_session_expires ON "Session"(expires)`); err != nil {
		return fmt.Errorf("creating Session index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reset: %w", err)
	}
	s.logger.Info("session table recreated")
	return nil
}

// FindOrCreate returns the user for address, inserting a row on first sight
func (s *SQLiteStore) FindOrCreate(ctx context.Context, address string) (core.User, bool, error) {
	now := s.now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO "User" (address, createdAt, updatedAt) VALUES (?, ?, ?) ON CONFLICT(address) DO NOTHING`,
		address, now, now)
	if err != nil {
		return core.User{}, false, fmt.Errorf("inserting user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.User{}, false, fmt.Errorf("inserting user: %w", err)
	}

	user, err := s.FindByAddress(ctx, address)
	if err != nil {
		return core.User{}, false, err
	}
	return user, affected == 1, nil
}

// FindByAddress returns the user registered for address
func (s *SQLiteStore) FindByAddress(ctx context.Context, address string) (core.User, error) {
	var (
		user             core.User
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, address, createdAt, updatedAt FROM "User" WHERE address = ?`, address,
	).Scan(&user.ID, &user.Address, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("querying user: %w", err)
	}

	if user.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return core.User{}, fmt.Errorf("parsing createdAt: %w", err)
	}
	if user.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return core.User{}, fmt.Errorf("parsing updatedAt: %w", err)
	}
	return user, nil
}

// Get returns the live session with id
func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.Session, error) {
	var (
		sess    core.Session
		data    string
		expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT sid, address, user_id, token, data, expires FROM "Session" WHERE sid = ?`, id,
	).Scan(&sess.ID, &sess.Address, &sess.UserID, &sess.Token, &data, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if expires > 0 {
		sess.ExpiresAt = time.UnixMilli(expires)
	}
	if sess.Expired(s.now()) {
		if err := s.Destroy(ctx, id); err != nil {
			s.logger.Warn("failed to remove expired session", "error", err)
		}
		return nil, core.ErrSessionNotFound
	}

	if err := json.Unmarshal([]byte(data), &sess.Values); err != nil {
		return nil, fmt.Errorf("decoding session data: %w", err)
	}
	return &sess, nil
}

// Save inserts or replaces the session record
func (s *SQLiteStore) Save(ctx context.Context, session *core.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(session.Values)
	if err != nil {
		return fmt.Errorf("encoding session data: %w", err)
	}
	if session.Values == nil {
		data = []byte("{}")
	}

	var expires int64
	if !session.ExpiresAt.IsZero() {
		expires = session.ExpiresAt.UnixMilli()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO "Session" (sid, address, user_id, token, data, expires)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(sid) DO UPDATE SET
			address = excluded.address,
			user_id = excluded.user_id,
			token = excluded.token,
			data = excluded.data,
			expires = excluded.expires`,
		session.ID, session.Address, session.UserID, session.Token, string(data), expires)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Destroy removes the session. Removing an unknown id is not an error.
func (s *SQLiteStore) Destroy(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM "Session" WHERE sid = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// PruneExpired deletes every session past its expiry and returns how many were removed
func (s *SQLiteStore) PruneExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM "Session" WHERE expires > 0 AND expires <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
