package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flanksource/commons/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/flanksource/code-ledger/models"
)

// DatabaseFile is the on-disk name of the index database.
const DatabaseFile = "code-ledger.db"

const busyTimeoutMs = 5000

// Store wraps the SQLite database holding the index. One process writes at a
// time (enforced by watcher ownership plus the writer mutex); any process may
// read. The database is a rebuildable cache: corruption on open is handled by
// deleting the files and retrying once.
type Store struct {
	db   *gorm.DB
	path string

	// Transaction state. Nested Transaction calls from the writer goroutine
	// become savepoints on the open transaction; writeMu is held from the
	// top-level begin until the final commit or rollback.
	writeMu sync.Mutex
	txMu    sync.Mutex
	tx      *gorm.DB
	depth   int
}

// Open opens (creating if needed) the database at path, applies the pragmas
// the index depends on, and runs migrations plus the full-text setup. A
// corrupt database file is deleted together with its WAL/SHM companions and
// reopened exactly once.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, models.NewStoreError("open", fmt.Errorf("failed to create database directory: %w", err))
	}

	s, err := open(path)
	if err == nil {
		return s, nil
	}
	if !models.IsCorruption(err) {
		return nil, models.NewStoreError("open", err)
	}

	logger.Warnf("index database at %s is corrupt, rebuilding: %v", path, err)
	removeDatabaseFiles(path)

	s, err = open(path)
	if err != nil {
		return nil, models.NewStoreError("open", err)
	}
	return s, nil
}

func open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=%d&_fk=1&_synchronous=NORMAL&_txlock=immediate",
		path, busyTimeoutMs)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: path}

	if err := s.migrate(); err != nil {
		s.closeQuietly()
		return nil, err
	}
	if err := s.ensureFTS(); err != nil {
		s.closeQuietly()
		return nil, err
	}
	return s, nil
}

// Transaction runs fn under a transaction. At depth zero it begins a real
// transaction; nested calls issue a named savepoint sp_<depth>. On error the
// innermost scope rolls back (to its savepoint when nested) and the error is
// re-surfaced. fn must not suspend on file or network I/O: the write lock is
// held for the whole body.
func (s *Store) Transaction(fn func(tx *gorm.DB) error) (err error) {
	s.txMu.Lock()
	depth := s.depth
	s.txMu.Unlock()

	if depth == 0 {
		return s.beginTopLevel(fn)
	}
	return s.beginSavepoint(fn, depth)
}

func (s *Store) beginTopLevel(fn func(tx *gorm.DB) error) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := s.db.Begin()
	if tx.Error != nil {
		return models.NewStoreError("transaction", tx.Error)
	}

	s.txMu.Lock()
	s.tx = tx
	s.depth = 1
	s.txMu.Unlock()

	defer func() {
		s.txMu.Lock()
		s.tx = nil
		s.depth = 0
		s.txMu.Unlock()
	}()

	if err := runGuarded(fn, tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return models.NewStoreError("commit", err)
	}
	return nil
}

func (s *Store) beginSavepoint(fn func(tx *gorm.DB) error, depth int) error {
	s.txMu.Lock()
	tx := s.tx
	s.depth = depth + 1
	s.txMu.Unlock()

	defer func() {
		s.txMu.Lock()
		s.depth = depth
		s.txMu.Unlock()
	}()

	name := fmt.Sprintf("sp_%d", depth)
	if err := tx.SavePoint(name).Error; err != nil {
		return models.NewStoreError("savepoint", err)
	}

	if err := runGuarded(fn, tx); err != nil {
		tx.RollbackTo(name)
		tx.Exec("RELEASE SAVEPOINT " + name)
		return err
	}
	if err := tx.Exec("RELEASE SAVEPOINT " + name).Error; err != nil {
		return models.NewStoreError("savepoint release", err)
	}
	return nil
}

// runGuarded converts a panic inside fn into an error so the rollback paths
// above always execute.
func runGuarded(fn func(tx *gorm.DB) error, tx *gorm.DB) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transaction body panicked: %v", r)
		}
	}()
	return fn(tx)
}

// Writer returns the handle index writes should run against: the open
// transaction when one is active, otherwise the base connection. Only the
// single indexing goroutine may call this; everything else uses DB.
func (s *Store) Writer() *gorm.DB {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// DB returns the base connection. Reads and standalone writes on it never
// join an open index transaction; WAL gives readers a consistent snapshot.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// RawScalar runs a query expected to produce a single value and returns it.
func (s *Store) RawScalar(query string, args ...any) (any, error) {
	var value any
	row := s.db.Raw(query, args...).Row()
	if row == nil {
		return nil, models.NewStoreError("query", fmt.Errorf("no row for %q", query))
	}
	if err := row.Scan(&value); err != nil {
		return nil, models.NewStoreError("query", err)
	}
	return value, nil
}

// ListTables returns the names of all tables in the database.
func (s *Store) ListTables() ([]string, error) {
	var names []string
	err := s.db.Raw("SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name").Scan(&names).Error
	if err != nil {
		return nil, models.NewStoreError("list tables", err)
	}
	return names, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return models.NewStoreError("close", err)
	}
	if err := sqlDB.Close(); err != nil {
		return models.NewStoreError("close", err)
	}
	return nil
}

func (s *Store) closeQuietly() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func removeDatabaseFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			logger.Warnf("failed to remove %s: %v", path+suffix, err)
		}
	}
}
