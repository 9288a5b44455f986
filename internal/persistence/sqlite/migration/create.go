package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const newFileFmt = `-- %03d_%s
-- +migrate Up


-- +migrate Down

`

// NextVersion returns the version following the highest one in existing.
func NextVersion(existing []Migration) int {
	next := 1
	for _, m := range existing {
		if m.Version >= next {
			next = m.Version + 1
		}
	}
	return next
}

// CreateFile writes an empty {version}_{slug}.sql file with up and down
// markers into dir and returns its path. The version follows the highest
// version in existing. Spaces in name become underscores.
func CreateFile(dir, name string, existing []Migration) (string, error) {
	slug := strings.ToLower(strings.Join(strings.Fields(name), "_"))
	version := NextVersion(existing)
	if _, _, err := ParseIdentifier(fmt.Sprintf("%03d_%s", version, slug)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", NewFileSystemError(dir, "create directory", err)
	}

	filePath := filepath.Join(dir, fmt.Sprintf("%03d_%s.sql", version, slug))
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s already exists", ErrDuplicateVersion, filePath)
		}
		return "", NewFileSystemError(filePath, "create file", err)
	}
	_, werr := fmt.Fprintf(f, newFileFmt, version, slug)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", NewFileSystemError(filePath, "write file", werr)
	}
	return filePath, nil
}
