package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alimasry/go-block-editor/model"
	"github.com/alimasry/go-block-editor/ot"
)

const (
	documentsCollection  = "documents"
	operationsCollection = "operations"
)

// firestoreDoc is the stored document. Integers come back as int64.
type firestoreDoc struct {
	Content   string    `firestore:"content"`
	Version   int64     `firestore:"version"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// firestoreBatch is one entry of a document's operations subcollection,
// keyed by its zero-padded history index.
type firestoreBatch struct {
	BatchID string        `firestore:"batchId"`
	Ops     []firestoreOp `firestore:"ops"`
	Version int64         `firestore:"version"`
}

type firestoreOp struct {
	Type    string  `firestore:"type"`
	Path    []int64 `firestore:"path"`
	OldName string  `firestore:"oldName,omitempty"`
	NewName string  `firestore:"newName,omitempty"`
	Offset  int64   `firestore:"offset,omitempty"`
	Text    string  `firestore:"text,omitempty"`
}

// FirestoreStore keeps documents in a Firestore collection with their
// operations in a subcollection per document.
type FirestoreStore struct {
	docs *firestore.CollectionRef
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{docs: client.Collection(documentsCollection)}
}

func (s *FirestoreStore) docRef(id string) *firestore.DocumentRef { return s.docs.Doc(id) }

func (s *FirestoreStore) opsCollection(id string) *firestore.CollectionRef {
	return s.docRef(id).Collection(operationsCollection)
}


// mapStatus turns Firestore status codes into the store's sentinel errors.
func mapStatus(err error, id string) error {
	switch status.Code(err) {
	case codes.OK:
		return err
	case codes.NotFound:
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %q", ErrExists, id)
	}
	return fmt.Errorf("firestore %q: %w", id, err)
}

func (s *FirestoreStore) Create(ctx context.Context, id, content string) error {
	now := time.Now()
	_, err := s.docRef(id).Create(ctx, firestoreDoc{Content: content, CreatedAt: now, UpdatedAt: now})
	return mapStatus(err, id)
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	snap, err := s.docRef(id).Get(ctx)
	if err != nil {
		return nil, mapStatus(err, id)
	}
	return decodeDoc(snap)
}

func decodeDoc(snap *firestore.DocumentSnapshot) (*DocumentInfo, error) {
	var d firestoreDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode document %q: %w", snap.Ref.ID, err)
	}
	return &DocumentInfo{
		ID:        snap.Ref.ID,
		Content:   d.Content,
		Version:   int(d.Version),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

// List returns every document ordered by ID.
func (s *FirestoreStore) List(ctx context.Context) ([]DocumentInfo, error) {
	iter := s.docs.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var result []DocumentInfo
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		info, err := decodeDoc(snap)
		if err != nil {
			return nil, err
		}
		result = append(result, *info)
	}
}

func (s *FirestoreStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	_, err := s.docRef(id).Update(ctx, []firestore.Update{
		{Path: "content", Value: content},
		{Path: "version", Value: version},
		{Path: "updatedAt", Value: time.Now()},
	})
	return mapStatus(err, id)
}

// AppendOperation stores op as history entry version-1, so
// GetOperations(fromVersion) starts at key fromVersion.
func (s *FirestoreStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	_, err := s.opsCollection(id).Doc(historyKey(version-1)).Set(ctx, encodeBatch(op, version))
	return mapStatus(err, id)
}

func (s *FirestoreStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	if _, err := s.docRef(id).Get(ctx); err != nil {
		return nil, mapStatus(err, id)
	}

	iter := s.opsCollection(id).
		OrderBy(firestore.DocumentID, firestore.Asc).
		StartAt(historyKey(fromVersion)).
		Documents(ctx)
	defer iter.Stop()

	var ops []ot.Operation
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return ops, nil
		}
		if err != nil {
			return nil, err
		}
		var b firestoreBatch
		if err := snap.DataTo(&b); err != nil {
			return nil, fmt.Errorf("decode operation %s of %q: %w", snap.Ref.ID, id, err)
		}
		op, err := b.operation()
		if err != nil {
			return nil, fmt.Errorf("operation %s of %q: %w", snap.Ref.ID, id, err)
		}
		ops = append(ops, op)
	}
}

func encodeBatch(op ot.Operation, version int) firestoreBatch {
	b := firestoreBatch{BatchID: op.BatchID, Version: int64(version), Ops: make([]firestoreOp, len(op.Ops))}
	for i, o := range op.Ops {
		fo := firestoreOp{Type: string(o.Type), Path: make([]int64, len(o.Path))}
		for j, p := range o.Path {
			fo.Path[j] = int64(p)
		}
		if o.Type == model.OpRename {
			fo.OldName, fo.NewName = o.OldName, o.NewName
		} else {
			fo.Offset, fo.Text = int64(o.Offset), o.Text
		}
		b.Ops[i] = fo
	}
	return b
}

func (b firestoreBatch) operation() (ot.Operation, error) {
	op := ot.Operation{BatchID: b.BatchID, Ops: make([]model.Operation, len(b.Ops))}
	for i, fo := range b.Ops {
		if fo.Type == "" {
			return ot.Operation{}, fmt.Errorf("op %d: missing type", i)
		}
		o := model.Operation{
			Type:    model.OperationType(fo.Type),
			Path:    make([]int, len(fo.Path)),
			OldName: fo.OldName,
			NewName: fo.NewName,
			Offset:  int(fo.Offset),
			Text:    fo.Text,
		}
		for j, p := range fo.Path {
			o.Path[j] = int(p)
		}
		op.Ops[i] = o
	}
	return op, nil
}
