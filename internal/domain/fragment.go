// Package domain holds the core entities and contracts shared between layers:
// documents, fragments, embedding and generation capabilities, and the
// sentinel errors the transport layer maps to HTTP statuses.
package domain

import "time"

// Fragment is the smallest retrievable unit of document text. Fragments are
// produced at ingestion time and are immutable afterwards; a fragment used in
// retrieval always carries a non-empty content and a non-nil embedding.
type Fragment struct {
	ID         string
	DocumentID string
	Content    string
	Embedding  []float32
}

// Document is an ingested source file. It owns its fragments: deleting a
// document deletes every fragment derived from it.
type Document struct {
	ID         string
	Title      string
	UploadedAt time.Time
	Fragments  int
}
