// Package migrationtest builds migration runners for integration tests.
package migrationtest

import (
	"testing"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/example/schema-migrator/internal/persistence/sqlite/migration"
	"github.com/example/schema-migrator/internal/testfixtures"
)

// RunnerFactory assists tests with constructing migration runners using
// deterministic run IDs and clocks.
type RunnerFactory struct {
	Clock       *clock.Mock
	IDGenerator *testfixtures.IDGenerator
	Logger      *zap.Logger
}

// RunnerFactoryOption configures a RunnerFactory instance.
type RunnerFactoryOption func(*RunnerFactory)

// NewRunnerFactory constructs a RunnerFactory with defaults. The logger
// writes to tb.
func NewRunnerFactory(tb testing.TB, opts ...RunnerFactoryOption) *RunnerFactory {
	factory := &RunnerFactory{
		Clock:       testfixtures.NewClock(testfixtures.ReferenceTime()),
		IDGenerator: testfixtures.NewIDGenerator("run"),
		Logger:      zaptest.NewLogger(tb),
	}
	for _, opt := range opts {
		opt(factory)
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(c *clock.Mock) RunnerFactoryOption {
	return func(factory *RunnerFactory) {
		factory.Clock = c
	}
}

// WithIDGenerator overrides the run ID generator used by the factory.
func WithIDGenerator(generator *testfixtures.IDGenerator) RunnerFactoryOption {
	return func(factory *RunnerFactory) {
		factory.IDGenerator = generator
	}
}

// NewRunner builds a runner over the harness database reading sources. The
// runner reopens through the harness so the harness keeps the live handle.
// Extra options are applied after the factory defaults.
func (f *RunnerFactory) NewRunner(tb testing.TB, h *testfixtures.SQLiteHarness, sources []migration.Source, opts ...migration.Option) *migration.Runner {
	tb.Helper()

	defaults := []migration.Option{
		migration.WithLogger(f.Logger),
		migration.WithClock(f.Clock),
		migration.WithRunIDs(f.IDGenerator.Next),
		migration.WithReopen(h.Reopen),
	}
	runner, err := migration.NewRunner(h.DB, migration.NewDiscovery(f.Logger, sources...), append(defaults, opts...)...)
	if err != nil {
		tb.Fatalf("failed to create migration runner: %v", err)
	}
	return runner
}
