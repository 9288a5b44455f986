package migration

import (
	"errors"
	"fmt"
)

// Migration-specific error types for different failure scenarios
var (
	// ErrApplyFailed indicates that a migration's Up function failed
	ErrApplyFailed = errors.New("migration apply failed")

	// ErrReversalUnsupported indicates that a migration has no Down function
	ErrReversalUnsupported = errors.New("migration cannot be reverted")

	// ErrInvalidArgument indicates a caller supplied argument was rejected
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBackupFailed indicates that the pre-migration snapshot could not be written
	ErrBackupFailed = errors.New("database backup failed")

	// ErrInvalidMigrationFile indicates that a migration file is malformed or invalid
	ErrInvalidMigrationFile = errors.New("invalid migration file format")

	// ErrMigrationNotFound indicates that a requested version is not in the catalog
	ErrMigrationNotFound = errors.New("migration not found")

	// ErrInvalidVersion indicates that a migration version is invalid or malformed
	ErrInvalidVersion = errors.New("invalid migration version")

	// ErrDuplicateVersion indicates that multiple migrations have the same version
	ErrDuplicateVersion = errors.New("duplicate migration version")

	// ErrLocked indicates that another runner holds the migration lock
	ErrLocked = errors.New("migration lock is held by another runner")
)

// MigrationError wraps migration-specific errors with additional context
type MigrationError struct {
	Version   int    // Migration version that caused the error
	Source    string // Where the unit was loaded from
	Operation string // Operation being performed (load, apply, revert, etc.)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *MigrationError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("migration %03d (%s): %s: %v", e.Version, e.Source, e.Operation, e.Err)
	}
	return fmt.Sprintf("migration error (%s): %s: %v", e.Source, e.Operation, e.Err)
}

// Unwrap returns the underlying error for error unwrapping
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// NewMigrationError creates a new MigrationError with context
func NewMigrationError(version int, source, operation string, err error) *MigrationError {
	return &MigrationError{
		Version:   version,
		Source:    source,
		Operation: operation,
		Err:       err,
	}
}

// DiscoveryError reports a catalog entry that could not be parsed or loaded.
// It is non-fatal during discovery and fatal when the entry is later
// requested by version.
type DiscoveryError struct {
	Source  string
	Version int // zero when the identifier itself could not be parsed
	Err     error
}

func (e *DiscoveryError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("discovery of %03d (%s): %v", e.Version, e.Source, e.Err)
	}
	return fmt.Sprintf("discovery of %s: %v", e.Source, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ApplyError is returned when a unit's Up fails. Succeeded holds the number of
// units applied earlier in the same run; those stay recorded.
type ApplyError struct {
	Version   int
	Name      string
	Succeeded int
	Err       error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %03d_%s failed after %d successful migrations: %v", e.Version, e.Name, e.Succeeded, e.Err)
}

func (e *ApplyError) Unwrap() []error {
	return []error{ErrApplyFailed, e.Err}
}

// ReversalError is returned when a unit cannot be reverted or its Down fails.
type ReversalError struct {
	Version  int
	Name     string
	Reverted int
	Err      error
}

func (e *ReversalError) Error() string {
	return fmt.Sprintf("revert %03d_%s failed after %d successful reverts: %v", e.Version, e.Name, e.Reverted, e.Err)
}

func (e *ReversalError) Unwrap() error {
	return e.Err
}

// FileSystemError wraps file system related errors during migration operations
type FileSystemError struct {
	Path      string // File or directory path
	Operation string // File operation (read, scan, etc.)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *FileSystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// NewFileSystemError creates a new FileSystemError
func NewFileSystemError(path, operation string, err error) *FileSystemError {
	return &FileSystemError{
		Path:      path,
		Operation: operation,
		Err:       err,
	}
}

// DatabaseError wraps database-related errors during migration operations
type DatabaseError struct {
	Version   int    // Migration version (if applicable)
	Query     string // SQL query that failed (if applicable)
	Operation string // Database operation (execute, query, etc.)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *DatabaseError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("database error in migration %03d during %s: %v", e.Version, e.Operation, e.Err)
	}
	return fmt.Sprintf("database error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// NewDatabaseError creates a new DatabaseError
func NewDatabaseError(version int, query, operation string, err error) *DatabaseError {
	return &DatabaseError{
		Version:   version,
		Query:     query,
		Operation: operation,
		Err:       err,
	}
}
