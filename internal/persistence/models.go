package persistence

import "time"

// Document is a row of the documents table.
type Document struct {
	ID        int64
	Title     string
	Body      string
	Status    string
	Estimates Estimates
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Estimates holds the optional planning figures of a document. A nil field is
// stored as NULL.
type Estimates struct {
	StoryPoints     *int64
	EstimateHours   *float64
	ActualHours     *float64
	ComplexityScore *float64
}

// DocumentTransition records a status change of a document.
type DocumentTransition struct {
	ID             int64
	DocumentID     int64
	FromStatus     *string
	ToStatus       string
	TransitionedAt time.Time
}
