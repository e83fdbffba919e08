package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alimasry/go-block-editor/ot"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

// DocumentInfo holds document metadata and content. Content is the JSON
// encoding of the document tree (see model.EncodeDocument).
type DocumentInfo struct {
	ID        string
	Content   string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentStore abstracts document persistence.
// Implementations: MemoryStore, BadgerStore, FirestoreStore, and
// CachedStore in front of any of them.
type DocumentStore interface {
	Create(ctx context.Context, id, content string) error
	Get(ctx context.Context, id string) (*DocumentInfo, error)
	List(ctx context.Context) ([]DocumentInfo, error)
	UpdateContent(ctx context.Context, id, content string, version int) error
	AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error
	GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error)
}

// historyKey orders history entries lexically by index.
func historyKey(index int) string { return fmt.Sprintf("%010d", index) }
