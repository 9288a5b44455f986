package migrations

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/schema-migrator/internal/persistence/sqlite/migration"
	"github.com/example/schema-migrator/internal/persistence/sqlite/migration/migrationtest"
	"github.com/example/schema-migrator/internal/testfixtures"
)

func newRunner(t *testing.T) (*migration.Runner, *testfixtures.SQLiteHarness) {
	t.Helper()

	h := testfixtures.NewSQLiteHarness(t)
	runner := migrationtest.NewRunnerFactory(t).NewRunner(t, h, []migration.Source{Source()},
		migration.WithLedgerTable(LedgerTable),
	)
	return runner, h
}

type schemaState struct {
	Tables   map[string][]string
	Indexes  []string
	Triggers []string
}

func captureSchema(h *testfixtures.SQLiteHarness) schemaState {
	state := schemaState{Tables: map[string][]string{}}
	for _, table := range h.Objects("table") {
		if table == LedgerTable {
			continue
		}
		state.Tables[table] = h.Columns(table)
	}
	state.Indexes = h.Objects("index")
	state.Triggers = h.Objects("trigger")
	return state
}

func TestDocumentsTrackIsValid(t *testing.T) {
	report, err := migration.NewDiscovery(nil, Source()).ValidateCatalog(context.Background())
	require.NoError(t, err)
	assert.True(t, report.IsValid, "issues: %v", report.Issues)
}

func TestDocumentsAndTransitions(t *testing.T) {
	ctx := context.Background()
	runner, _ := newRunner(t)

	result, err := runner.Migrate(ctx, migration.MigrateOptions{Target: 2})
	require.NoError(t, err)
	require.Len(t, result.Records, 2)

	status, err := runner.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 4)
	assert.True(t, status[0].Applied)
	assert.True(t, status[1].Applied)
	assert.False(t, status[2].Applied)

	current, ok, err := runner.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, current)

	again, err := runner.Migrate(ctx, migration.MigrateOptions{Target: 2})
	require.NoError(t, err)
	assert.Empty(t, again.Records)
}

func TestEveryUnitRoundTrips(t *testing.T) {
	ctx := context.Background()
	runner, h := newRunner(t)

	for version := 1; version <= 4; version++ {
		before := captureSchema(h)

		_, err := runner.Migrate(ctx, migration.MigrateOptions{Target: version})
		require.NoError(t, err, "apply %d", version)
		require.NotEqual(t, before, captureSchema(h), "unit %d changed nothing", version)

		_, err = runner.Rollback(ctx, 1)
		require.NoError(t, err, "revert %d", version)
		if diff := cmp.Diff(before, captureSchema(h)); diff != "" {
			t.Fatalf("revert of %d did not restore the schema (-before +after):\n%s", version, diff)
		}

		_, err = runner.Migrate(ctx, migration.MigrateOptions{Target: version})
		require.NoError(t, err, "re-apply %d", version)
	}

	current, _, err := runner.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, current)
}

func TestEstimatesRevertPreservesRows(t *testing.T) {
	ctx := context.Background()
	runner, h := newRunner(t)

	_, err := runner.Migrate(ctx, migration.MigrateOptions{Target: 3})
	require.NoError(t, err)

	h.Exec(
		`INSERT INTO documents (id, title, body, status, created_at, updated_at)
		 VALUES (1, 'Design', 'text', 'draft', '2024-01-02 15:04:05', '2024-01-02 15:04:05'),
		        (2, 'Plan', '', 'draft', '2024-01-03 09:00:00', '2024-01-03 09:00:00')`,
		`UPDATE documents SET status = 'review', story_points = 8, estimate_hours = 2.5 WHERE id = 1`,
	)

	type document struct {
		ID        int    `db:"id"`
		Title     string `db:"title"`
		Body      string `db:"body"`
		Status    string `db:"status"`
		CreatedAt string `db:"created_at"`
		UpdatedAt string `db:"updated_at"`
	}
	const selectDocuments = `SELECT id, title, body, status, created_at, updated_at FROM documents ORDER BY id`

	var before []document
	require.NoError(t, h.DB.Select(&before, selectDocuments))
	var transitions int
	require.NoError(t, h.DB.Get(&transitions, "SELECT COUNT(*) FROM document_transitions"))
	require.Equal(t, 1, transitions)

	_, err = runner.Rollback(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, documentsColumns, h.Columns("documents"))

	var after []document
	require.NoError(t, h.DB.Select(&after, selectDocuments))
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("rows changed by revert (-before +after):\n%s", diff)
	}

	require.NoError(t, h.DB.Get(&transitions, "SELECT COUNT(*) FROM document_transitions"))
	assert.Equal(t, 1, transitions, "child rows survive the rebuild of their parent")

	h.Exec(`UPDATE documents SET status = 'published' WHERE id = 1`)
	require.NoError(t, h.DB.Get(&transitions, "SELECT COUNT(*) FROM document_transitions"))
	assert.Equal(t, 2, transitions, "the status trigger is restored after the rebuild")
}
