package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Catalog is the result of loading every source.
type Catalog struct {
	// Migrations holds the usable units sorted by ascending version. When two
	// units share a version only the first one loaded is kept.
	Migrations []Migration
	// Failures holds entries that could not be parsed or loaded.
	Failures []*DiscoveryError
	// Duplicates maps a version to every unit that declared it, for versions
	// declared more than once.
	Duplicates map[int][]Migration
}

// Discovery locates migrations in its sources.
type Discovery struct {
	sources []Source
	logger  *zap.Logger
}

// NewDiscovery returns a Discovery over sources. A nil logger discards output.
func NewDiscovery(logger *zap.Logger, sources ...Source) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{sources: sources, logger: logger}
}

// Load reads every source. Per-entry failures are collected in the catalog;
// the returned error is reserved for failures that prevent reading a source
// at all.
func (d *Discovery) Load(ctx context.Context) (Catalog, error) {
	catalog := Catalog{Duplicates: make(map[int][]Migration)}
	byVersion := make(map[int][]Migration)

	for _, src := range d.sources {
		migrations, err := src.Load(ctx)
		if err != nil {
			failures, fatal := splitLoadError(err)
			if fatal != nil {
				return Catalog{}, fmt.Errorf("loading %s: %w", src.Name(), fatal)
			}
			catalog.Failures = append(catalog.Failures, failures...)
		}

		for _, m := range migrations {
			if err := checkUnit(m); err != nil {
				catalog.Failures = append(catalog.Failures, &DiscoveryError{Source: m.Source, Version: m.Version, Err: err})
				continue
			}
			byVersion[m.Version] = append(byVersion[m.Version], m)
		}
	}

	for version, units := range byVersion {
		catalog.Migrations = append(catalog.Migrations, units[0])
		if len(units) > 1 {
			catalog.Duplicates[version] = units
		}
	}
	sort.Slice(catalog.Migrations, func(i, j int) bool {
		return catalog.Migrations[i].Version < catalog.Migrations[j].Version
	})

	return catalog, nil
}

// Discover returns the usable migrations in ascending version order. Entries
// that fail to load and duplicate versions are logged and left out.
func (d *Discovery) Discover(ctx context.Context) ([]Migration, error) {
	catalog, err := d.Load(ctx)
	if err != nil {
		return nil, err
	}
	d.logSkipped(catalog)
	return catalog.Migrations, nil
}

func (d *Discovery) logSkipped(catalog Catalog) {
	for _, f := range catalog.Failures {
		d.logger.Warn("Skipping migration that failed to load",
			zap.String("migration_source", f.Source),
			zap.Int("migration_version", f.Version),
			zap.Error(f.Err))
	}
	for version, units := range catalog.Duplicates {
		d.logger.Warn("Duplicate migration version, keeping the first",
			zap.Int("migration_version", version),
			zap.Strings("migration_sources", sources(units)))
	}
}

// Lookup returns the migration with the given version. A version whose entry
// failed to load returns that *DiscoveryError.
func (d *Discovery) Lookup(ctx context.Context, version int) (Migration, error) {
	catalog, err := d.Load(ctx)
	if err != nil {
		return Migration{}, err
	}
	for _, m := range catalog.Migrations {
		if m.Version == version {
			return m, nil
		}
	}
	for _, f := range catalog.Failures {
		if f.Version == version {
			return Migration{}, f
		}
	}
	return Migration{}, &DiscoveryError{
		Source:  fmt.Sprintf("version %03d", version),
		Version: version,
		Err:     ErrMigrationNotFound,
	}
}

// ValidateCatalog checks the catalog for structural defects: entries that
// failed to load, duplicate versions and gaps in the 1..max sequence. Issues
// are reported, never returned as errors; the error is reserved for sources
// that could not be read at all.
func (d *Discovery) ValidateCatalog(ctx context.Context) (ValidationReport, error) {
	catalog, err := d.Load(ctx)
	if err != nil {
		return ValidationReport{}, err
	}

	var issues []string
	for _, f := range catalog.Failures {
		issues = append(issues, f.Error())
	}

	duplicateVersions := make([]int, 0, len(catalog.Duplicates))
	for v := range catalog.Duplicates {
		duplicateVersions = append(duplicateVersions, v)
	}
	sort.Ints(duplicateVersions)
	for _, v := range duplicateVersions {
		issues = append(issues, fmt.Sprintf("%s: version %03d declared by %s",
			ErrDuplicateVersion, v, strings.Join(sources(catalog.Duplicates[v]), ", ")))
	}

	// failed entries still claim their version, so they don't count as gaps
	present := make(map[int]bool)
	for _, m := range catalog.Migrations {
		present[m.Version] = true
	}
	for _, f := range catalog.Failures {
		if f.Version > 0 {
			present[f.Version] = true
		}
	}
	issues = append(issues, gapIssues(present)...)

	return ValidationReport{IsValid: len(issues) == 0, Issues: issues}, nil
}

// gapIssues reports the versions missing from 1..max, one issue per run of
// consecutive missing versions.
func gapIssues(present map[int]bool) []string {
	versions := make([]int, 0, len(present))
	for v := range present {
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return nil
	}
	sort.Ints(versions)
	highest := versions[len(versions)-1]

	var issues []string
	next := 1
	for _, v := range versions {
		switch {
		case v == next+1:
			issues = append(issues, fmt.Sprintf("missing migration version %03d in sequence 001..%03d", next, highest))
		case v > next+1:
			issues = append(issues, fmt.Sprintf("missing migration versions %03d..%03d in sequence 001..%03d", next, v-1, highest))
		}
		next = v + 1
	}
	return issues
}

// checkUnit verifies the contract every unit must meet.
func checkUnit(m Migration) error {
	if m.Version <= 0 {
		return fmt.Errorf("%w: version %d must be positive", ErrInvalidVersion, m.Version)
	}
	if !slugPattern.MatchString(m.Name) {
		return fmt.Errorf("%w: name %q is not a valid slug", ErrInvalidMigrationFile, m.Name)
	}
	if m.Up == nil {
		return fmt.Errorf("%w: no apply function", ErrInvalidMigrationFile)
	}
	return nil
}

// splitLoadError separates per-entry discovery failures from an error that
// aborts loading.
func splitLoadError(err error) ([]*DiscoveryError, error) {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		var de *DiscoveryError
		if errors.As(err, &de) {
			return []*DiscoveryError{de}, nil
		}
		return nil, err
	}

	var failures []*DiscoveryError
	for _, e := range merr.Errors {
		var de *DiscoveryError
		if !errors.As(e, &de) {
			return nil, e
		}
		failures = append(failures, de)
	}
	return failures, nil
}

func sources(units []Migration) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = fmt.Sprintf("%03d_%s (%s)", u.Version, u.Name, u.Source)
	}
	return out
}
