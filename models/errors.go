package models

import (
	"fmt"
	"strings"
)

// StoreError wraps open/migration/SQL failures of the persistence layer.
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WatcherError wraps file-system subscription failures.
type WatcherError struct {
	Op  string
	Err error
}

func NewWatcherError(op string, err error) *WatcherError {
	return &WatcherError{Op: op, Err: err}
}

func (e *WatcherError) Error() string {
	return fmt.Sprintf("watcher %s failed: %v", e.Op, e.Err)
}

func (e *WatcherError) Unwrap() error { return e.Err }

// ParseError reports a per-file parse failure. It never aborts a run: the
// coordinator records the file in IndexResult.FailedFiles and moves on.
type ParseError struct {
	FilePath string
	Err      error
}

func NewParseError(filePath string, err error) *ParseError {
	return &ParseError{FilePath: filePath, Err: err}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failed for %s: %v", e.FilePath, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CoordinatorError wraps failures thrown during an indexing run outside any
// single-file boundary. Per-file parse failures are not errors; they are
// recorded in IndexResult.FailedFiles.
type CoordinatorError struct {
	Op  string
	Err error
}

func NewCoordinatorError(op string, err error) *CoordinatorError {
	return &CoordinatorError{Op: op, Err: err}
}

func (e *CoordinatorError) Error() string {
	return fmt.Sprintf("indexing %s failed: %v", e.Op, e.Err)
}

func (e *CoordinatorError) Unwrap() error { return e.Err }

// LifecycleError reports an Open precondition violation. It fails before any
// resource is acquired.
type LifecycleError struct {
	Reason string
}

func NewLifecycleError(format string, args ...any) *LifecycleError {
	return &LifecycleError{Reason: fmt.Sprintf(format, args...)}
}

func (e *LifecycleError) Error() string { return e.Reason }

// UsageError reports a contract violation by the caller, such as querying a
// closed ledger or calling Reindex on a reader.
type UsageError struct {
	Reason string
}

func NewUsageError(format string, args ...any) *UsageError {
	return &UsageError{Reason: fmt.Sprintf(format, args...)}
}

func (e *UsageError) Error() string { return e.Reason }

// IsCorruption reports whether err indicates a malformed database file. The
// index is a rebuildable cache, so corruption triggers delete-and-retry
// instead of propagating.
func IsCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "corrupt") ||
		strings.Contains(msg, "not a database")
}
