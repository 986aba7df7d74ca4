// Package store persists call records and the per-user alert channel cache
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ther3zz/llm-communications-gateway/pkg/bridge"
)

// CallRecord is one row of the call log.
type CallRecord struct {
	ID             int64
	ProviderCallID string
	ToNumber       string
	FromNumber     string
	Direction      string
	Status         string
	Duration       time.Duration
	Transcript     string
	Cost           float64
	UserID         string
	ChatID         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Sessions finalize through the Recorder interface.
var _ bridge.Recorder = (*Store)(nil)

// Open opens or creates the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS call_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_call_id TEXT,
			to_number TEXT NOT NULL,
			from_number TEXT NOT NULL,
			direction TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_seconds REAL NOT NULL DEFAULT 0,
			transcript TEXT NOT NULL DEFAULT '',
			cost REAL NOT NULL DEFAULT 0,
			user_id TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_channels (
			user_id TEXT NOT NULL,
			channel_name TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, channel_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_provider ON call_records(provider_call_id)`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_updated ON call_records(updated_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// CreateCall inserts a new record and returns its id.
func (s *Store) CreateCall(ctx context.Context, rec *CallRecord) (int64, error) {
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `INSERT INTO call_records
	          (provider_call_id, to_number, from_number, direction, status,
	           duration_seconds, transcript, cost, user_id, chat_id, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		rec.ProviderCallID, rec.ToNumber, rec.FromNumber, rec.Direction, rec.Status,
		rec.Duration.Seconds(), rec.Transcript, rec.Cost, rec.UserID, rec.ChatID,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to create call record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read record id: %w", err)
	}
	rec.ID = id
	return id, nil
}

// FinalizeCall writes the terminal state of a call. The record id is
// preferred; when the record was never created (persistence failed at dial
// time) the provider call id is the fallback key.
func (s *Store) FinalizeCall(ctx context.Context, recordID int64, providerCallID string, result bridge.CallResult) error {
	query := `UPDATE call_records
	          SET status = ?, duration_seconds = ?, transcript = ?, cost = ?, updated_at = ?
	          WHERE id = ?`
	args := []any{result.Status, result.Duration.Seconds(), result.Transcript, result.Cost, time.Now(), recordID}

	if recordID == 0 {
		if providerCallID == "" {
			return fmt.Errorf("no record id or provider call id to finalize")
		}
		query = `UPDATE call_records
		         SET status = ?, duration_seconds = ?, transcript = ?, cost = ?, updated_at = ?
		         WHERE provider_call_id = ?`
		args[len(args)-1] = providerCallID
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to finalize call record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("call record not found (id=%d, provider=%s)", recordID, providerCallID)
	}
	return nil
}

// UpdateCallStatus transitions a record by id, for webhook-driven states.
func (s *Store) UpdateCallStatus(ctx context.Context, recordID int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE call_records SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), recordID)
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("call record %d not found", recordID)
	}
	return nil
}

// RecentCalls lists records newest first.
func (s *Store) RecentCalls(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, provider_call_id, to_number, from_number, direction, status,
	                 duration_seconds, transcript, cost, user_id, chat_id, created_at, updated_at
	          FROM call_records ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query call records: %w", err)
	}
	defer rows.Close()

	var records []CallRecord
	for rows.Next() {
		var rec CallRecord
		var providerID sql.NullString
		var seconds float64
		if err := rows.Scan(&rec.ID, &providerID, &rec.ToNumber, &rec.FromNumber,
			&rec.Direction, &rec.Status, &seconds, &rec.Transcript, &rec.Cost,
			&rec.UserID, &rec.ChatID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		rec.ProviderCallID = providerID.String
		rec.Duration = time.Duration(seconds * float64(time.Second))
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ChannelFor returns the cached alert channel id for a user, if any.
func (s *Store) ChannelFor(ctx context.Context, userID, channelName string) (string, bool, error) {
	var channelID string
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id FROM user_channels WHERE user_id = ? AND channel_name = ?`,
		userID, channelName).Scan(&channelID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query channel cache: %w", err)
	}
	return channelID, true, nil
}

// SaveChannel caches an alert channel id for a user.
func (s *Store) SaveChannel(ctx context.Context, userID, channelName, channelID string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO user_channels (user_id, channel_name, channel_id, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, channel_name) DO UPDATE SET channel_id=excluded.channel_id, updated_at=excluded.updated_at;
	`, userID, channelName, channelID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save channel cache: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
