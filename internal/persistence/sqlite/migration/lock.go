package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
)

// fileLock is an advisory lock held by creating a file exclusively. It stops
// two runners on the same host from migrating one database at the same time.
// A crashed runner leaves the file behind; it has to be removed by hand after
// checking that no run is in progress.
type fileLock struct {
	path string
}

// DefaultLockPath returns the lock file conventionally used for dbPath, or ""
// when the database is not file backed.
func DefaultLockPath(dbPath string) string {
	if isMemoryPath(dbPath) {
		return ""
	}
	return dbPath + ".migrate.lock"
}

func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s exists", ErrLocked, path)
		}
		return nil, NewFileSystemError(path, "create lock file", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		return nil, NewFileSystemError(path, "write lock file", errors.Join(werr, cerr))
	}
	return &fileLock{path: path}, nil
}

func (l *fileLock) release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return NewFileSystemError(l.path, "remove lock file", err)
	}
	return nil
}
