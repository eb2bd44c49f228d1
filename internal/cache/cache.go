package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// RateStore persists fetched price rates across invocations so the
// borrow capacity estimate does not hit the price API on every call.
// Account metrics are never stored here; only exchange rates are.
type RateStore struct {
	db          *sql.DB
	lock        *flock.Flock
	lockTimeout time.Duration
}

func Open(path, lockPath string) (*RateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create rate cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite rate cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS rate_entries (key TEXT PRIMARY KEY, rate REAL NOT NULL, created_at INTEGER NOT NULL, ttl_seconds INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init rate cache schema: %w", err)
		}
	}

	store := &RateStore{db: db, lock: flock.New(lockPath), lockTimeout: 5 * time.Second}
	// Prune expired entries on startup to prevent unbounded growth.
	_ = store.Prune()
	return store, nil
}

func (s *RateStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns a still-fresh rate for the key, if one exists.
func (s *RateStore) Get(key string) (float64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, nil
	}
	var rate float64
	var createdAt, ttlSeconds int64
	err := s.db.QueryRow(
		"SELECT rate, created_at, ttl_seconds FROM rate_entries WHERE key = ?", key,
	).Scan(&rate, &createdAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read rate cache: %w", err)
	}
	age := time.Since(time.Unix(createdAt, 0))
	if age > time.Duration(ttlSeconds)*time.Second {
		return 0, false, nil
	}
	return rate, true, nil
}

// Put stores a rate under a cross-process file lock.
func (s *RateStore) Put(key string, rate float64, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock rate cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock rate cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	_, err = s.db.Exec(`
		INSERT INTO rate_entries (key, rate, created_at, ttl_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			rate=excluded.rate,
			created_at=excluded.created_at,
			ttl_seconds=excluded.ttl_seconds
	`, key, rate, time.Now().UTC().Unix(), int64(ttl/time.Second))
	if err != nil {
		return fmt.Errorf("save rate: %w", err)
	}
	return nil
}

// Prune deletes entries whose TTL has fully expired.
func (s *RateStore) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(
		"DELETE FROM rate_entries WHERE ? - created_at > ttl_seconds",
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("prune rate cache: %w", err)
	}
	return nil
}
