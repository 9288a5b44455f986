package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/example/schema-migrator/internal/persistence"
)

// sqliteTimeLayout is the format CURRENT_TIMESTAMP writes.
const sqliteTimeLayout = "2006-01-02 15:04:05"

var documentColumns = []string{
	"id", "title", "body", "status",
	"story_points", "estimate_hours", "actual_hours", "complexity_score",
	"created_at", "updated_at",
}

type documentRow struct {
	ID              int64           `db:"id"`
	Title           string          `db:"title"`
	Body            string          `db:"body"`
	Status          string          `db:"status"`
	StoryPoints     sql.NullInt64   `db:"story_points"`
	EstimateHours   sql.NullFloat64 `db:"estimate_hours"`
	ActualHours     sql.NullFloat64 `db:"actual_hours"`
	ComplexityScore sql.NullFloat64 `db:"complexity_score"`
	CreatedAt       string          `db:"created_at"`
	UpdatedAt       string          `db:"updated_at"`
}

type transitionRow struct {
	ID             int64          `db:"id"`
	DocumentID     int64          `db:"document_id"`
	FromStatus     sql.NullString `db:"from_status"`
	ToStatus       string         `db:"to_status"`
	TransitionedAt string         `db:"transitioned_at"`
}

// DocumentRepository implements persistence.DocumentRepository using SQLite.
type DocumentRepository struct {
	db *sqlx.DB
}

var _ persistence.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a repository over db.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CreateDocument inserts doc and returns it as stored. An empty status
// defaults to "draft".
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc persistence.Document) (persistence.Document, error) {
	if strings.TrimSpace(doc.Title) == "" {
		return persistence.Document{}, fmt.Errorf("%w: document title is required", persistence.ErrConstraintViolation)
	}
	if doc.Status == "" {
		doc.Status = "draft"
	}

	query, args, err := sq.Insert("documents").
		Columns("title", "body", "status", "story_points", "estimate_hours", "actual_hours", "complexity_score").
		Values(doc.Title, doc.Body, doc.Status,
			nullable(doc.Estimates.StoryPoints), nullable(doc.Estimates.EstimateHours),
			nullable(doc.Estimates.ActualHours), nullable(doc.Estimates.ComplexityScore)).
		ToSql()
	if err != nil {
		return persistence.Document{}, err
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistence.Document{}, mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return persistence.Document{}, err
	}
	return r.GetDocument(ctx, id)
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id int64) (persistence.Document, error) {
	query, args, err := sq.Select(documentColumns...).From("documents").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return persistence.Document{}, err
	}

	var row documentRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		return persistence.Document{}, mapError(err)
	}
	return row.toDocument()
}

// UpdateDocumentStatus changes the status of a document. The schema records
// the change in document_transitions.
func (r *DocumentRepository) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	if strings.TrimSpace(status) == "" {
		return fmt.Errorf("%w: document status is required", persistence.ErrConstraintViolation)
	}
	return r.update(ctx, sq.Update("documents").Set("status", status).Where(sq.Eq{"id": id}))
}

// UpdateEstimates replaces the planning figures of a document.
func (r *DocumentRepository) UpdateEstimates(ctx context.Context, id int64, estimates persistence.Estimates) error {
	return r.update(ctx, sq.Update("documents").
		Set("story_points", nullable(estimates.StoryPoints)).
		Set("estimate_hours", nullable(estimates.EstimateHours)).
		Set("actual_hours", nullable(estimates.ActualHours)).
		Set("complexity_score", nullable(estimates.ComplexityScore)).
		Where(sq.Eq{"id": id}))
}

// ListTransitions returns the status history of a document, oldest first.
func (r *DocumentRepository) ListTransitions(ctx context.Context, documentID int64) ([]persistence.DocumentTransition, error) {
	query, args, err := sq.Select("id", "document_id", "from_status", "to_status", "transitioned_at").
		From("document_transitions").
		Where(sq.Eq{"document_id": documentID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []transitionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}

	transitions := make([]persistence.DocumentTransition, 0, len(rows))
	for _, row := range rows {
		at, err := time.Parse(sqliteTimeLayout, row.TransitionedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing transitioned_at of transition %d: %w", row.ID, err)
		}
		t := persistence.DocumentTransition{
			ID:             row.ID,
			DocumentID:     row.DocumentID,
			ToStatus:       row.ToStatus,
			TransitionedAt: at.UTC(),
		}
		if row.FromStatus.Valid {
			from := row.FromStatus.String
			t.FromStatus = &from
		}
		transitions = append(transitions, t)
	}
	return transitions, nil
}

// DeleteDocument removes a document together with its transitions.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id int64) error {
	query, args, err := sq.Delete("documents").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	return r.exec(ctx, query, args...)
}

func (r *DocumentRepository) update(ctx context.Context, b sq.UpdateBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	return r.exec(ctx, query, args...)
}

func (r *DocumentRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (row documentRow) toDocument() (persistence.Document, error) {
	createdAt, err := time.Parse(sqliteTimeLayout, row.CreatedAt)
	if err != nil {
		return persistence.Document{}, fmt.Errorf("parsing created_at of document %d: %w", row.ID, err)
	}
	updatedAt, err := time.Parse(sqliteTimeLayout, row.UpdatedAt)
	if err != nil {
		return persistence.Document{}, fmt.Errorf("parsing updated_at of document %d: %w", row.ID, err)
	}

	doc := persistence.Document{
		ID:        row.ID,
		Title:     row.Title,
		Body:      row.Body,
		Status:    row.Status,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
	if row.StoryPoints.Valid {
		v := row.StoryPoints.Int64
		doc.Estimates.StoryPoints = &v
	}
	if row.EstimateHours.Valid {
		v := row.EstimateHours.Float64
		doc.Estimates.EstimateHours = &v
	}
	if row.ActualHours.Valid {
		v := row.ActualHours.Float64
		doc.Estimates.ActualHours = &v
	}
	if row.ComplexityScore.Valid {
		v := row.ComplexityScore.Float64
		doc.Estimates.ComplexityScore = &v
	}
	return doc, nil
}

func nullable[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func mapError(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return persistence.ErrNotFound
	case strings.Contains(strings.ToLower(err.Error()), "constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	default:
		return err
	}
}
