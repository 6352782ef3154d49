package etl

import (
	"context"
	"errors"
	"time"
)

// ── Source ──────────────────────────────────────────────────
// A SourceReader extracts documents from a search-index store.
// Implementations live in etl/sources/, one file per source kind.
//
// Pattern: discover → read, one page at a time.

// ErrCursorExpired is returned (possibly wrapped) by FetchPage when the
// cursor it was given is no longer valid on the source.
var ErrCursorExpired = errors.New("cursor expired")

// Page is one batch of documents plus the cursor that resumes after it.
type Page struct {
	Documents  []Document
	NextCursor *string
}

// SourceReader is the capability set the engine needs from a source.
type SourceReader interface {
	// GetSchema returns the field-type tags of a collection.
	GetSchema(ctx context.Context, collection string) (CollectionSchema, error)

	// ListCollections returns every collection name on the source.
	ListCollections(ctx context.Context) ([]string, error)

	// FetchPage returns the next page. A nil cursor starts a new
	// pagination session; sessionTimeout bounds how long the source keeps
	// that session alive between calls.
	FetchPage(ctx context.Context, collection string, cursor *string, pageSize int, sessionTimeout time.Duration) (*Page, error)

	// Close releases any held session or connection.
	Close() error
}
