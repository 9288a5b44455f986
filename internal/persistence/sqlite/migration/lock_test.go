package migration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLockPath(t *testing.T) {
	assert.Equal(t, "/data/app.db.migrate.lock", DefaultLockPath("/data/app.db"))
	assert.Equal(t, "", DefaultLockPath(":memory:"))
	assert.Equal(t, "", DefaultLockPath(""))
}

func TestFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db.migrate.lock")

	lock, err := acquireLock(path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = acquireLock(path)
	assert.True(t, errors.Is(err, ErrLocked), "got %v", err)

	require.NoError(t, lock.release())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	again, err := acquireLock(path)
	require.NoError(t, err)
	require.NoError(t, again.release())
	require.NoError(t, again.release(), "releasing twice is harmless")
}
