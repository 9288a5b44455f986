package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/example/schema-migrator/internal/persistence"
	"github.com/example/schema-migrator/internal/persistence/sqlite"
	"github.com/example/schema-migrator/internal/persistence/sqlite/migration"
	"github.com/example/schema-migrator/internal/persistence/sqlite/migration/migrationtest"
	"github.com/example/schema-migrator/internal/persistence/sqlite/migrations"
	"github.com/example/schema-migrator/internal/testfixtures"
)

func setupDocumentRepositoryTest(t *testing.T) *sqlite.DocumentRepository {
	t.Helper()

	h := testfixtures.NewSQLiteHarness(t)
	runner := migrationtest.NewRunnerFactory(t).NewRunner(t, h, []migration.Source{migrations.Source()})
	if _, err := runner.Migrate(context.Background(), migration.MigrateOptions{}); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return sqlite.NewDocumentRepository(runner.DB())
}

func TestDocumentRepository_CreateAndGet(t *testing.T) {
	repo := setupDocumentRepositoryTest(t)
	ctx := context.Background()

	points := int64(5)
	doc, err := repo.CreateDocument(ctx, persistence.Document{
		Title:     "Quarterly plan",
		Body:      "draft body",
		Estimates: persistence.Estimates{StoryPoints: &points},
	})
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	if doc.ID == 0 {
		t.Fatal("Expected an assigned ID")
	}
	if doc.Status != "draft" {
		t.Errorf("Expected default status 'draft', got '%s'", doc.Status)
	}
	if doc.Estimates.StoryPoints == nil || *doc.Estimates.StoryPoints != 5 {
		t.Errorf("Expected story points 5, got %v", doc.Estimates.StoryPoints)
	}
	if doc.Estimates.EstimateHours != nil {
		t.Errorf("Expected no estimate hours, got %v", *doc.Estimates.EstimateHours)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set by the schema")
	}

	retrieved, err := repo.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if retrieved.Title != "Quarterly plan" || retrieved.Body != "draft body" {
		t.Errorf("Unexpected document: %+v", retrieved)
	}
}

func TestDocumentRepository_CreateRequiresTitle(t *testing.T) {
	repo := setupDocumentRepositoryTest(t)

	_, err := repo.CreateDocument(context.Background(), persistence.Document{Title: "  "})
	if !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("Expected ErrConstraintViolation, got %v", err)
	}
}

func TestDocumentRepository_StatusTransitions(t *testing.T) {
	repo := setupDocumentRepositoryTest(t)
	ctx := context.Background()

	doc, err := repo.CreateDocument(ctx, persistence.Document{Title: "Design notes"})
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	for _, status := range []string{"review", "review", "published"} {
		if err := repo.UpdateDocumentStatus(ctx, doc.ID, status); err != nil {
			t.Fatalf("UpdateDocumentStatus(%s) failed: %v", status, err)
		}
	}

	transitions, err := repo.ListTransitions(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	// setting the same status twice is not a transition
	if len(transitions) != 2 {
		t.Fatalf("Expected 2 transitions, got %d", len(transitions))
	}
	if transitions[0].FromStatus == nil || *transitions[0].FromStatus != "draft" || transitions[0].ToStatus != "review" {
		t.Errorf("Unexpected first transition: %+v", transitions[0])
	}
	if transitions[1].ToStatus != "published" {
		t.Errorf("Expected second transition to 'published', got '%s'", transitions[1].ToStatus)
	}

	if err := repo.UpdateDocumentStatus(ctx, 999, "review"); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown document, got %v", err)
	}
}

func TestDocumentRepository_UpdateEstimates(t *testing.T) {
	repo := setupDocumentRepositoryTest(t)
	ctx := context.Background()

	doc, err := repo.CreateDocument(ctx, persistence.Document{Title: "Estimate me"})
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	hours, score := 2.5, 3.0
	if err := repo.UpdateEstimates(ctx, doc.ID, persistence.Estimates{EstimateHours: &hours, ComplexityScore: &score}); err != nil {
		t.Fatalf("UpdateEstimates failed: %v", err)
	}

	retrieved, err := repo.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if retrieved.Estimates.EstimateHours == nil || *retrieved.Estimates.EstimateHours != 2.5 {
		t.Errorf("Expected estimate hours 2.5, got %v", retrieved.Estimates.EstimateHours)
	}
	if retrieved.Estimates.ComplexityScore == nil || *retrieved.Estimates.ComplexityScore != 3 {
		t.Errorf("Expected complexity score 3, got %v", retrieved.Estimates.ComplexityScore)
	}
	if retrieved.Estimates.StoryPoints != nil {
		t.Errorf("Expected no story points, got %v", *retrieved.Estimates.StoryPoints)
	}
}

func TestDocumentRepository_DeleteCascades(t *testing.T) {
	repo := setupDocumentRepositoryTest(t)
	ctx := context.Background()

	doc, err := repo.CreateDocument(ctx, persistence.Document{Title: "Short lived"})
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	if err := repo.UpdateDocumentStatus(ctx, doc.ID, "archived"); err != nil {
		t.Fatalf("UpdateDocumentStatus failed: %v", err)
	}

	if err := repo.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if _, err := repo.GetDocument(ctx, doc.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	transitions, err := repo.ListTransitions(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(transitions) != 0 {
		t.Errorf("Expected transitions to be removed with the document, got %d", len(transitions))
	}

	if err := repo.DeleteDocument(ctx, doc.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for repeated delete, got %v", err)
	}
}
