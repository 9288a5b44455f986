package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// backupTimeLayout sorts lexically and has sub-second resolution so rapid
// repeated runs don't collide.
const backupTimeLayout = "20060102T150405.000000000Z"

// BackupService writes full-file snapshots of a database before destructive
// operations.
type BackupService struct {
	// Dir receives the snapshots. Empty means the database's own directory.
	Dir string
	// Keep is the number of snapshots retained per database. Zero keeps all.
	Keep int

	clock  clock.Clock
	logger *zap.Logger
}

// NewBackupService returns a service writing into dir.
func NewBackupService(dir string, keep int, logger *zap.Logger) *BackupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackupService{Dir: dir, Keep: keep, clock: clock.New(), logger: logger}
}

// WithClock replaces the time source. It is meant for tests.
func (s *BackupService) WithClock(c clock.Clock) *BackupService {
	s.clock = c
	return s
}

// Snapshot copies the database file at dbPath to a new timestamped file and
// returns its path. The copy is written to a temporary file that is renamed
// into place once complete, so a snapshot is either whole or absent.
func (s *BackupService) Snapshot(ctx context.Context, dbPath string) (string, error) {
	if isMemoryPath(dbPath) {
		return "", fmt.Errorf("%w: %q is not a file database", ErrBackupFailed, dbPath)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := s.dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackupFailed, NewFileSystemError(dir, "create backup directory", err))
	}

	src, err := os.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackupFailed, NewFileSystemError(dbPath, "open database", err))
	}
	defer src.Close()

	base := filepath.Base(dbPath)
	tmp, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackupFailed, NewFileSystemError(dir, "create temporary file", err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: %w", ErrBackupFailed, NewFileSystemError(tmpPath, "copy database", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: %w", ErrBackupFailed, NewFileSystemError(tmpPath, "sync", err))
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackupFailed, NewFileSystemError(tmpPath, "close", err))
	}

	backupPath, err := s.freeName(dir, base)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, backupPath); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackupFailed, NewFileSystemError(backupPath, "rename", err))
	}

	s.logger.Info("Database snapshot written",
		zap.String("database", dbPath),
		zap.String("backup_path", backupPath))

	if s.Keep > 0 {
		if err := s.Prune(dbPath); err != nil {
			// the snapshot itself succeeded
			s.logger.Warn("Failed to prune old snapshots", zap.Error(err))
		}
	}
	return backupPath, nil
}

// Snapshots lists the snapshots of dbPath, oldest first.
func (s *BackupService) Snapshots(dbPath string) ([]string, error) {
	dir := s.dir(dbPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, NewFileSystemError(dir, "read backup directory", err)
	}

	prefix := filepath.Base(dbPath) + "."
	var snapshots []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".bak") {
			continue
		}
		snapshots = append(snapshots, filepath.Join(dir, name))
	}
	sort.Strings(snapshots)
	return snapshots, nil
}

// Prune removes the oldest snapshots of dbPath beyond Keep.
func (s *BackupService) Prune(dbPath string) error {
	if s.Keep <= 0 {
		return nil
	}
	snapshots, err := s.Snapshots(dbPath)
	if err != nil {
		return err
	}
	for len(snapshots) > s.Keep {
		if err := os.Remove(snapshots[0]); err != nil {
			return NewFileSystemError(snapshots[0], "remove snapshot", err)
		}
		s.logger.Debug("Removed old snapshot", zap.String("backup_path", snapshots[0]))
		snapshots = snapshots[1:]
	}
	return nil
}

func (s *BackupService) dir(dbPath string) string {
	if s.Dir != "" {
		return s.Dir
	}
	return filepath.Dir(dbPath)
}

func (s *BackupService) freeName(dir, base string) (string, error) {
	stamp := s.clock.Now().UTC().Format(backupTimeLayout)
	candidate := filepath.Join(dir, fmt.Sprintf("%s.%s.bak", base, stamp))
	for i := 1; ; i++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrBackupFailed, NewFileSystemError(candidate, "stat", err))
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s.%s-%d.bak", base, stamp, i))
	}
}

func isMemoryPath(dbPath string) bool {
	return dbPath == "" || dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") || strings.HasPrefix(dbPath, "file::memory:")
}
