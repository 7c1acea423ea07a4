package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	apperrors "vpn-shop-bot/internal/errors"
)

// SQLiteStorage persists issued subscriptions and trial claims in
// SQLite. The payment ledger and plan-selection sessions stay in
// memory: open payments are only meaningful while the process that
// posted the review card is alive.
type SQLiteStorage struct {
	*MemoryStorage
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteStorage{
		MemoryStorage: NewMemoryStorage(),
		db:            db,
	}
	if err := storage.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return storage, nil
}

// initialize creates the necessary tables
func (s *SQLiteStorage) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		plan_name TEXT NOT NULL,
		protocol TEXT NOT NULL,
		label TEXT NOT NULL,
		client_id TEXT NOT NULL,
		connection_uri TEXT NOT NULL,
		subscription_url TEXT,
		issued_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		reminder_sent INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id, issued_at);

	CREATE TABLE IF NOT EXISTS trial_claims (
		user_id INTEGER PRIMARY KEY,
		claimed_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Issued subscriptions
func (s *SQLiteStorage) AppendSubscription(sub *SubscriptionRecord) error {
	if sub.IssuedAt.IsZero() {
		sub.IssuedAt = time.Now()
	}

	result, err := s.db.Exec(`
		INSERT INTO subscriptions
		(user_id, plan_name, protocol, label, client_id, connection_uri, subscription_url, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.UserID, sub.PlanName, sub.Protocol, sub.Label, sub.ClientID,
		sub.ConnectionURI, sub.SubscriptionURL, sub.IssuedAt, sub.ExpiresAt,
	)
	if err != nil {
		return err
	}

	sub.ID, _ = result.LastInsertId()
	return nil
}

func (s *SQLiteStorage) ListSubscriptions(userID int64) ([]*SubscriptionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, plan_name, protocol, label, client_id, connection_uri, subscription_url, issued_at, expires_at
		FROM subscriptions WHERE user_id = ? ORDER BY issued_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []*SubscriptionRecord
	for rows.Next() {
		sub := &SubscriptionRecord{}
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.PlanName, &sub.Protocol, &sub.Label,
			&sub.ClientID, &sub.ConnectionURI, &sub.SubscriptionURL, &sub.IssuedAt, &sub.ExpiresAt); err != nil {
			return nil, err
		}
		results = append(results, sub)
	}
	return results, rows.Err()
}

// Expiry reminders
func (s *SQLiteStorage) ExpiringSubscriptions(within time.Duration) ([]*SubscriptionRecord, error) {
	now := time.Now()

	rows, err := s.db.Query(`
		SELECT id, user_id, plan_name, protocol, label, client_id, connection_uri, subscription_url, issued_at, expires_at
		FROM subscriptions
		WHERE reminder_sent = 0 AND expires_at > ? AND expires_at < ?
		ORDER BY expires_at ASC`,
		now, now.Add(within),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []*SubscriptionRecord
	for rows.Next() {
		sub := &SubscriptionRecord{}
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.PlanName, &sub.Protocol, &sub.Label,
			&sub.ClientID, &sub.ConnectionURI, &sub.SubscriptionURL, &sub.IssuedAt, &sub.ExpiresAt); err != nil {
			return nil, err
		}
		results = append(results, sub)
	}
	return results, rows.Err()
}

func (s *SQLiteStorage) MarkReminderSent(subID int64) error {
	_, err := s.db.Exec("UPDATE subscriptions SET reminder_sent = 1 WHERE id = ?", subID)
	return err
}

// Trial flag. INSERT OR IGNORE makes the first claim win; a row count
// of zero means the claim already existed.
func (s *SQLiteStorage) MarkTrialUsed(userID int64) error {
	result, err := s.db.Exec(
		"INSERT OR IGNORE INTO trial_claims (user_id, claimed_at) VALUES (?, ?)",
		userID, time.Now(),
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.ErrTrialUsed
	}
	return nil
}

func (s *SQLiteStorage) TrialUsed(userID int64) (bool, error) {
	var claimed int
	err := s.db.QueryRow(
		"SELECT COUNT(1) FROM trial_claims WHERE user_id = ?",
		userID,
	).Scan(&claimed)
	if err != nil {
		return false, err
	}
	return claimed > 0, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
