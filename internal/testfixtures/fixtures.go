package testfixtures

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// MigrationFS returns an in-memory file system holding files under dir. Keys
// are file names such as "001_create_documents.sql".
func MigrationFS(dir string, files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[filepath.ToSlash(filepath.Join(dir, name))] = &fstest.MapFile{
			Data:    []byte(content),
			Mode:    0o644,
			ModTime: referenceTime,
		}
	}
	return fsys
}

// WriteMigrationFiles writes files into a new temporary directory and returns
// its path.
func WriteMigrationFiles(tb testing.TB, files map[string]string) string {
	tb.Helper()

	dir := tb.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			tb.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}
