package migration

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/blake2b"
)

const (
	upMarker   = "-- +migrate up"
	downMarker = "-- +migrate down"
)

var slugPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ParseIdentifier decodes an identifier such as "003_add_story_points" into
// its version and slug. The first "_"-separated token is the version and the
// remainder is the slug.
func ParseIdentifier(identifier string) (int, string, error) {
	tokens := strings.SplitN(identifier, "_", 2)
	if len(tokens) != 2 {
		return 0, "", fmt.Errorf("%w: identifier %q does not match pattern '{version}_{slug}'", ErrInvalidMigrationFile, identifier)
	}

	version, err := strconv.Atoi(tokens[0])
	if err != nil {
		return 0, "", fmt.Errorf("%w: version %q in %q is not a valid number", ErrInvalidVersion, tokens[0], identifier)
	}
	if version <= 0 {
		return 0, "", fmt.Errorf("%w: version %d in %q must be positive", ErrInvalidVersion, version, identifier)
	}

	if !slugPattern.MatchString(tokens[1]) {
		return 0, "", fmt.Errorf("%w: slug %q in %q is not valid", ErrInvalidMigrationFile, tokens[1], identifier)
	}

	return version, tokens[1], nil
}

// FileSource loads migrations from {version}_{slug}.sql files. A file may
// hold an up and a down section introduced by "-- +migrate Up" and
// "-- +migrate Down" lines; a file without markers is entirely up and cannot
// be reverted.
type FileSource struct {
	FS  fs.FS
	Dir string
}

// NewFileSource returns a source reading dir inside fsys.
func NewFileSource(fsys fs.FS, dir string) *FileSource {
	if dir == "" {
		dir = "."
	}
	return &FileSource{FS: fsys, Dir: dir}
}

// Name identifies the source in log output.
func (s *FileSource) Name() string {
	return "files:" + s.Dir
}

// Load parses every .sql file in the directory. Files that fail to parse are
// reported as *DiscoveryError values inside the returned multierror while the
// remaining files are still returned. A missing directory yields an empty
// catalog.
func (s *FileSource) Load(ctx context.Context) ([]Migration, error) {
	entries, err := fs.ReadDir(s.FS, s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, NewFileSystemError(s.Dir, "read directory", err)
	}

	var (
		migrations []Migration
		result     *multierror.Error
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		filePath := path.Join(s.Dir, entry.Name())
		m, err := s.parseFile(filePath)
		if err != nil {
			result = multierror.Append(result, &DiscoveryError{Source: filePath, Version: m.Version, Err: err})
			continue
		}
		migrations = append(migrations, m)
	}

	return migrations, result.ErrorOrNil()
}

func (s *FileSource) parseFile(filePath string) (Migration, error) {
	version, slug, err := ParseIdentifier(strings.TrimSuffix(path.Base(filePath), ".sql"))
	if err != nil {
		return Migration{}, err
	}

	partial := Migration{Version: version, Name: slug, Source: filePath}

	content, err := fs.ReadFile(s.FS, filePath)
	if err != nil {
		return partial, NewFileSystemError(filePath, "read file", err)
	}

	up, down, err := splitSections(string(content))
	if err != nil {
		return partial, err
	}

	upStatements, err := SplitStatements(up)
	if err != nil {
		return partial, err
	}
	if len(upStatements) == 0 {
		return partial, fmt.Errorf("%w: no up statements", ErrInvalidMigrationFile)
	}

	downStatements, err := SplitStatements(down)
	if err != nil {
		return partial, err
	}

	m := Migration{
		Version:  version,
		Name:     slug,
		Source:   filePath,
		Checksum: Checksum(content),
		Up:       Exec(upStatements...),
	}
	if len(downStatements) > 0 {
		m.Down = Exec(downStatements...)
	}
	return m, nil
}

// splitSections separates the up and down halves of a migration file. Without
// markers the whole file is the up section.
func splitSections(content string) (up, down string, err error) {
	lines := strings.Split(content, "\n")

	var upLines, downLines, preamble []string
	var current *[]string
	seen := map[string]bool{}
	for _, line := range lines {
		marker := strings.ToLower(strings.TrimSpace(line))
		if marker == upMarker || marker == downMarker {
			if seen[marker] {
				return "", "", fmt.Errorf("%w: repeated %q marker", ErrInvalidMigrationFile, marker)
			}
			seen[marker] = true
			if marker == upMarker {
				current = &upLines
			} else {
				current = &downLines
			}
			continue
		}
		if current == nil {
			preamble = append(preamble, line)
			continue
		}
		*current = append(*current, line)
	}

	if len(seen) == 0 {
		return content, "", nil
	}
	if !seen[upMarker] {
		return "", "", fmt.Errorf("%w: down section without up section", ErrInvalidMigrationFile)
	}
	for _, line := range preamble {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
			return "", "", fmt.Errorf("%w: statements before the first marker", ErrInvalidMigrationFile)
		}
	}
	return strings.Join(upLines, "\n"), strings.Join(downLines, "\n"), nil
}

// Checksum returns the hex encoded BLAKE2b-256 hash of content.
func Checksum(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}
