package migration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/example/schema-migrator/internal/testfixtures"
)

const testTrack = "test"

// tableMigration creates table t_<version> and drops it on revert.
func tableMigration(version int) Migration {
	table := fmt.Sprintf("t_%03d", version)
	return Migration{
		Version: version,
		Name:    "create_" + table,
		Up:      Exec(fmt.Sprintf("CREATE TABLE %s (id INTEGER PRIMARY KEY)", table)),
		Down:    DropObjects(Table(table)),
	}
}

func tableMigrations(versions ...int) []Migration {
	out := make([]Migration, len(versions))
	for i, v := range versions {
		out[i] = tableMigration(v)
	}
	return out
}

func newTestSource(migrations ...Migration) Source {
	reg := NewRegistry()
	for _, m := range migrations {
		reg.MustRegister(testTrack, m)
	}
	return reg.Source(testTrack)
}

type runnerFixture struct {
	h      *testfixtures.SQLiteHarness
	runner *Runner
	clock  *clock.Mock
}

func newRunnerFixture(t *testing.T, migrations []Migration, opts ...Option) *runnerFixture {
	t.Helper()

	h := testfixtures.NewSQLiteHarness(t)
	mock := testfixtures.NewClock(time.Time{})
	logger := zaptest.NewLogger(t)

	discovery := NewDiscovery(logger, newTestSource(migrations...))
	runner, err := NewRunner(h.DB, discovery, append([]Option{WithLogger(logger), WithClock(mock)}, opts...)...)
	require.NoError(t, err)

	return &runnerFixture{h: h, runner: runner, clock: mock}
}

func (f *runnerFixture) ledgerVersions(t *testing.T) []int {
	t.Helper()

	exists, err := f.runner.Ledger().Exists(context.Background(), f.runner.DB())
	require.NoError(t, err)
	if !exists {
		return nil
	}
	entries, err := f.runner.Ledger().Entries(context.Background(), f.runner.DB())
	require.NoError(t, err)

	versions := make([]int, 0, len(entries))
	for _, e := range entries {
		versions = append(versions, e.Version)
	}
	return versions
}

func recordVersions(records []Record) []int {
	versions := make([]int, len(records))
	for i, r := range records {
		versions[i] = r.Version
	}
	return versions
}
