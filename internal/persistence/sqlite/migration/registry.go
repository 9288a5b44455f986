package migration

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Source supplies migrations to Discovery.
type Source interface {
	// Name identifies the source in logs and validation issues.
	Name() string
	// Load returns the migrations the source holds. Per-entry failures are
	// reported as *DiscoveryError values inside a *multierror.Error alongside
	// the entries that did load; any other error aborts discovery.
	Load(ctx context.Context) ([]Migration, error)
}

// Registry holds migrations compiled into the binary, grouped by track. A
// track is a logical schema namespace with its own ledger table, so several
// independent sets of migrations can share one database.
type Registry struct {
	mu     sync.RWMutex
	tracks map[string][]Migration
}

// DefaultRegistry is the registry packages add their migrations to from init.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tracks: make(map[string][]Migration)}
}

// Register adds m to track. Duplicate versions are kept so validation can
// report them.
func (r *Registry) Register(track string, m Migration) error {
	if track == "" {
		return fmt.Errorf("%w: empty track name", ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks[track] = append(r.tracks[track], m)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(track string, m Migration) {
	if err := r.Register(track, m); err != nil {
		panic(err)
	}
}

// MustRegister adds m to track in DefaultRegistry.
func MustRegister(track string, m Migration) {
	DefaultRegistry.MustRegister(track, m)
}

// Tracks returns the registered track names in sorted order.
func (r *Registry) Tracks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tracks := make([]string, 0, len(r.tracks))
	for t := range r.tracks {
		tracks = append(tracks, t)
	}
	sort.Strings(tracks)
	return tracks
}

// Source returns a Source serving the migrations of track.
func (r *Registry) Source(track string) Source {
	return &registrySource{registry: r, track: track}
}

type registrySource struct {
	registry *Registry
	track    string
}

func (s *registrySource) Name() string {
	return "registry:" + s.track
}

func (s *registrySource) Load(ctx context.Context) ([]Migration, error) {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()

	migrations := make([]Migration, 0, len(s.registry.tracks[s.track]))
	for _, m := range s.registry.tracks[s.track] {
		if m.Source == "" {
			m.Source = s.Name()
		}
		migrations = append(migrations, m)
	}
	return migrations, nil
}
