package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Config holds SQLite-specific connection settings.
type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path string

	// BusyTimeout sets how long to wait for database locks
	BusyTimeout time.Duration

	// EnableForeignKeys enables foreign key constraint checking
	EnableForeignKeys bool

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous mode (FULL, NORMAL, OFF)
	Synchronous string

	// CacheSize sets the page cache size in KB (negative) or pages (positive)
	CacheSize int

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// OpenAttempts is how many times opening is tried while the file is busy.
	OpenAttempts uint
	// OpenDelay is the initial backoff between attempts.
	OpenDelay time.Duration

	// ReadOnly opens an existing file with mode=ro and query_only. The file
	// and its directory are never created and the journal mode is left alone.
	ReadOnly bool
}

// ErrDatabaseNotFound is returned when a read-only open finds no file.
var ErrDatabaseNotFound = errors.New("database does not exist")

// DefaultConfig returns production settings for the database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:              path,
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "WAL",
		Synchronous:       "NORMAL",
		CacheSize:         -2000,
		MaxOpenConns:      1,
		MaxIdleConns:      1,
		OpenAttempts:      5,
		OpenDelay:         100 * time.Millisecond,
	}
}

// TestConfig returns settings suited to throwaway databases in tests: no WAL
// sidecar files and no fsync.
func TestConfig(path string) Config {
	cfg := DefaultConfig(path)
	cfg.JournalMode = "DELETE"
	cfg.Synchronous = "OFF"
	cfg.BusyTimeout = time.Second
	cfg.OpenAttempts = 1
	return cfg
}

var (
	validJournalModes = []string{"DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF"}
	validSyncModes    = []string{"OFF", "NORMAL", "FULL", "EXTRA"}
)

// Validate checks the configuration for values SQLite would reject.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return errors.New("database path cannot be empty")
	}
	if c.BusyTimeout < 0 {
		return errors.New("busy timeout cannot be negative")
	}
	if c.JournalMode != "" && !lo.Contains(validJournalModes, strings.ToUpper(c.JournalMode)) {
		return fmt.Errorf("invalid journal mode %q", c.JournalMode)
	}
	if c.Synchronous != "" && !lo.Contains(validSyncModes, strings.ToUpper(c.Synchronous)) {
		return fmt.Errorf("invalid synchronous mode %q", c.Synchronous)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return errors.New("connection limits cannot be negative")
	}
	return nil
}

// IsMemory reports whether the configuration opens an in-memory database.
func (c Config) IsMemory() bool {
	return c.Path == ":memory:" || strings.Contains(c.Path, "mode=memory")
}

// DSN renders the connection string. PRAGMAs are passed as _pragma query
// parameters so the driver applies them to every pooled connection.
func (c Config) DSN() string {
	params := url.Values{}
	if c.BusyTimeout > 0 {
		params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	}
	if c.EnableForeignKeys {
		params.Add("_pragma", "foreign_keys(1)")
	}
	if c.ReadOnly {
		params.Add("_pragma", "query_only(1)")
	}
	if c.JournalMode != "" && !c.IsMemory() && !c.ReadOnly {
		params.Add("_pragma", fmt.Sprintf("journal_mode(%s)", strings.ToUpper(c.JournalMode)))
	}
	if c.Synchronous != "" {
		params.Add("_pragma", fmt.Sprintf("synchronous(%s)", strings.ToUpper(c.Synchronous)))
	}
	if c.CacheSize != 0 {
		params.Add("_pragma", fmt.Sprintf("cache_size(%d)", c.CacheSize))
	}

	path := c.Path
	if c.ReadOnly && !c.IsMemory() {
		params.Set("mode", "ro")
		if !strings.HasPrefix(path, "file:") {
			path = "file:" + (&url.URL{Path: path}).EscapedPath()
		}
	}

	if len(params) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}

// Open opens the database described by cfg, creating its directory if needed.
// A read-only cfg instead requires the file to exist and returns
// ErrDatabaseNotFound otherwise. Opening is retried while SQLite reports the
// file as busy or locked.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*sqlx.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite configuration: %w", err)
	}

	switch {
	case cfg.IsMemory():
	case cfg.ReadOnly:
		if _, err := os.Stat(cfg.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, cfg.Path)
			}
			return nil, fmt.Errorf("failed to stat database %s: %w", cfg.Path, err)
		}
	default:
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	attempts := cfg.OpenAttempts
	if attempts == 0 {
		attempts = 1
	}

	var db *sqlx.DB
	err := retry.Do(
		func() error {
			conn, err := sqlx.Open(DriverName, cfg.DSN())
			if err != nil {
				return retry.Unrecoverable(err)
			}
			configurePool(conn, cfg)
			if err := conn.PingContext(ctx); err != nil {
				conn.Close()
				return err
			}
			db = conn
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(cfg.OpenDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsBusy),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Database busy, retrying open",
				zap.String("database", cfg.Path),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database %s: %w", cfg.Path, err)
	}

	logger.Debug("Opened database",
		zap.String("database", cfg.Path),
		zap.String("journal_mode", cfg.JournalMode),
		zap.Bool("read_only", cfg.ReadOnly),
		zap.Bool("foreign_keys", cfg.EnableForeignKeys))
	return db, nil
}

func configurePool(db *sqlx.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// IsBusy reports whether err is SQLite's transient busy or locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database is busy") ||
		strings.Contains(msg, "sqlite_busy")
}
