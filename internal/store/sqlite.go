package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// timeLayout is a fixed-width UTC format so that stored timestamps sort
// lexicographically the same way they sort chronologically.
const timeLayout = "2006-01-02 15:04:05.000000000"

// tables lists every collection, in ClearAll order.
var tables = []string{"emails", "folders", "drafts", "notes", "sync_queue", "metadata"}

// Store is the SQLite-backed local cache shared by every component. It is
// constructed once at startup and injected; there is no package singleton.
type Store struct {
	db         *sql.DB
	logger     *logrus.Logger
	quotaBytes int64
}

// Usage reports local storage consumption.
type Usage struct {
	UsedBytes  int64   `json:"used_bytes"`
	QuotaBytes int64   `json:"quota_bytes"`
	Percent    float64 `json:"percent"`
}

// Open opens (or creates) the cache database and applies any pending schema
// migrations. The busy timeout makes a second process holding an older
// schema yield its lock instead of failing the upgrade.
func Open(dbPath string, quotaBytes int64, logger *logrus.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger, quotaBytes: quotaBytes}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"path":    dbPath,
		"version": len(migrations),
	}).Info("Cache store opened")
	return s, nil
}

// migrate applies schema scripts beyond the current user_version.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to bump schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
		s.logger.WithField("version", i+1).Debug("Applied schema migration")
	}
	return nil
}

// DB returns the underlying database connection for the domain stores.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ClearAll empties every collection inside a single transaction. Used on
// logout and tenant switch.
func (s *Store) ClearAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin clear: %w", err)
	}
	for _, table := range tables {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	s.logger.Info("Cleared all cached collections")
	return nil
}

// EstimateUsage reports bytes used against the configured quota. It never
// fails: when the pragmas are unavailable it returns a zeroed Usage.
func (s *Store) EstimateUsage() Usage {
	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		s.logger.WithError(err).Debug("Storage usage unavailable")
		return Usage{}
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		s.logger.WithError(err).Debug("Storage usage unavailable")
		return Usage{}
	}

	usage := Usage{UsedBytes: pageCount * pageSize, QuotaBytes: s.quotaBytes}
	if usage.QuotaBytes > 0 {
		usage.Percent = float64(usage.UsedBytes) / float64(usage.QuotaBytes) * 100
	}
	return usage
}

// SetMetadata stores a process-wide setting, one authoritative copy per key.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

// GetMetadata returns the value for a key and whether it exists.
func (s *Store) GetMetadata(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	return value, true, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// FormatTime renders a timestamp in the store's canonical column format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a timestamp column written by FormatTime. Unparseable
// values come back zero rather than failing the row.
func ParseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
