// Package datastore opens the SQLite rule store.
package datastore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spooni01/ha-automation-of-todo/internal/datastore/repository"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// createRulesTable is idempotent; the schema is never migrated.
const createRulesTable = `
CREATE TABLE IF NOT EXISTS rules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT,
    description TEXT,
    entity_id TEXT,
    entity_type_of_change TEXT,
    entity_change_value TEXT
)`

const slowQueryThreshold = 500 * time.Millisecond

// Options tune how the store is opened.
type Options struct {
	// Debug logs every SQL statement.
	Debug bool
	// Log receives GORM output; nil discards it.
	Log logger.Logger
}

// Store owns the single long-lived database handle.
type Store struct {
	db   *gorm.DB
	path string
}

// Open opens (creating if needed) the rule store at path and ensures the
// rules table exists.
func Open(path string, opts Options) (*Store, error) {
	level := gorm_logger.Warn
	if opts.Debug {
		level = gorm_logger.Info
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(log, level, slowQueryThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open rule store %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB for %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec(createRulesTable).Error; err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create rules table in %s: %w", path, err)
	}

	return &Store{db: db, path: path}, nil
}

// DB returns the underlying GORM handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Rules returns a repository bound to this store.
func (s *Store) Rules() repository.RuleRepository {
	return repository.NewRuleRepository(s.db)
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Remove deletes the store file and its WAL side files. Missing files are
// not an error.
func Remove(path string) error {
	var errs []error
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
