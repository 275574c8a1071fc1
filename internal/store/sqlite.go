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

	"github.com/echolabs/echo-agent/internal/domain"
	"github.com/echolabs/echo-agent/internal/shared"
	_ "modernc.org/sqlite"
)

const writeAttempts = 3

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets history writes proceed while API reads are in flight.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users(last_seen_at);

	CREATE TABLE IF NOT EXISTS user_services (
		user_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		keywords_json TEXT,
		endpoint TEXT,
		credentials_ref TEXT,
		capabilities_json TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, service_id)
	);

	CREATE TABLE IF NOT EXISTS history_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		status TEXT,
		summary TEXT,
		entry_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_user ON history_entries(user_id, id);
	CREATE INDEX IF NOT EXISTS idx_history_created ON history_entries(created_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		message_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL,
		direction TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_user ON chat_messages(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := shared.RetryOnConflict(ctx, op, writeAttempts, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.exec(ctx, "upsert user", query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	return err
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.exec(ctx, "update last_seen", query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// ListUserServices returns a user's services in insertion order.
func (s *SQLiteStore) ListUserServices(ctx context.Context, userID string) ([]domain.ServiceConfig, error) {
	query := `
		SELECT service_id, user_id, name, type, keywords_json, endpoint,
		       credentials_ref, capabilities_json, created_at
		FROM user_services WHERE user_id = ? ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query user services: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close user services rows", "error", closeErr)
		}
	}()

	var services []domain.ServiceConfig
	for rows.Next() {
		var svc domain.ServiceConfig
		var keywords, endpoint, credRef, caps sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&svc.ID, &svc.UserID, &svc.Name, &svc.Type, &keywords, &endpoint,
			&credRef, &caps, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan user service row: %w", err)
		}
		svc.Endpoint = endpoint.String
		svc.CredentialsRef = credRef.String
		svc.CreatedAt = time.Unix(createdAt, 0)
		if err := decodeList(keywords, &svc.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords for %s: %w", svc.ID, err)
		}
		if err := decodeList(caps, &svc.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities for %s: %w", svc.ID, err)
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user services: %w", err)
	}
	return services, nil
}

// UpsertUserService creates or replaces a user's service. The original
// creation time is kept on replace so ordering is stable.
func (s *SQLiteStore) UpsertUserService(ctx context.Context, svc *domain.ServiceConfig) error {
	if svc.UserID == "" || svc.ID == "" {
		return errors.New("service requires user_id and id")
	}
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = time.Now()
	}
	keywords, err := encodeList(svc.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	caps, err := encodeList(svc.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}

	query := `
	INSERT INTO user_services (
		user_id, service_id, name, type, keywords_json, endpoint,
		credentials_ref, capabilities_json, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, service_id) DO UPDATE SET
		name = excluded.name,
		type = excluded.type,
		keywords_json = excluded.keywords_json,
		endpoint = excluded.endpoint,
		credentials_ref = excluded.credentials_ref,
		capabilities_json = excluded.capabilities_json`

	_, err = s.exec(ctx, "upsert user service", query,
		svc.UserID, svc.ID, svc.Name, svc.Type, keywords, nullable(svc.Endpoint),
		nullable(svc.CredentialsRef), caps, svc.CreatedAt.Unix(),
	)
	return err
}

// DeleteUserService removes one of a user's services.
func (s *SQLiteStore) DeleteUserService(ctx context.Context, userID, serviceID string) (bool, error) {
	res, err := s.exec(ctx, "delete user service",
		`DELETE FROM user_services WHERE user_id = ? AND service_id = ?`, userID, serviceID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// AppendHistory stores one history entry as JSON alongside indexed columns.
func (s *SQLiteStore) AppendHistory(ctx context.Context, userID string, entry domain.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	var status any
	if entry.Result != nil {
		status = string(entry.Result.Status)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	query := `
	INSERT INTO history_entries (user_id, seq, kind, status, summary, entry_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.exec(ctx, "append history", query,
		userID, entry.Seq, string(entry.Kind), status, entry.Summary(), string(data), entry.Timestamp.Unix(),
	)
	return err
}

// ListHistory returns up to limit of the newest entries, oldest first.
// A non-positive limit returns everything.
func (s *SQLiteStore) ListHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT entry_json FROM (
			SELECT id, entry_json FROM history_entries
			WHERE user_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		var e domain.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// CleanupHistory removes history and chat rows older than olderThan.
func (s *SQLiteStore) CleanupHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := time.Now().Add(-olderThan).Unix()

	var total int64
	for _, table := range []string{"history_entries", "chat_messages"} {
		res, err := s.exec(ctx, "cleanup "+table, `DELETE FROM `+table+` WHERE created_at < ?`, threshold)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("get rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

// SaveChatMessage stores msg under the user whose agent handled it: the
// sender for outbound messages, the receiver for inbound ones.
func (s *SQLiteStore) SaveChatMessage(ctx context.Context, msg domain.ChatMessage) error {
	owner := msg.ReceiverID
	if msg.Direction == domain.ChatOutbound {
		owner = msg.SenderID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	query := `
	INSERT INTO chat_messages (message_id, user_id, sender_id, receiver_id, content, direction, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(message_id) DO NOTHING`
	_, err := s.exec(ctx, "save chat message", query,
		msg.ID, owner, msg.SenderID, msg.ReceiverID, msg.Content, string(msg.Direction), msg.Timestamp.Unix(),
	)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeList(items []string) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeList(raw sql.NullString, out *[]string) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), out)
}
