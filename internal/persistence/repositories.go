package persistence

import "context"

// DocumentRepository stores documents and exposes their status history. It
// requires a database migrated with the documents track.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc Document) (Document, error)
	GetDocument(ctx context.Context, id int64) (Document, error)
	UpdateDocumentStatus(ctx context.Context, id int64, status string) error
	UpdateEstimates(ctx context.Context, id int64, estimates Estimates) error
	ListTransitions(ctx context.Context, documentID int64) ([]DocumentTransition, error)
	DeleteDocument(ctx context.Context, id int64) error
}
