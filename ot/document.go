package ot

import (
	"fmt"

	"github.com/alimasry/go-block-editor/model"
)

// Document represents a collaborative document with its full operation history.
type Document struct {
	Model   *model.Model
	Version int
	History []Operation
}

// NewDocument creates a new document around m.
func NewDocument(m *model.Model) *Document {
	return &Document{Model: m}
}

// Apply applies a remote operation to the model in a transparent batch so
// it never lands in the local undo history, then appends it to history.
func (d *Document) Apply(op Operation) error {
	if op.IsNoop() {
		return nil
	}
	batch := model.NewBatch(model.BatchTransparent)
	if op.BatchID != "" {
		batch.ID = op.BatchID
	}
	_, err := d.Model.EnqueueChange(batch, func(w *model.Writer) error {
		for _, o := range op.Ops {
			if err := w.ApplyOperation(o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply to document v%d: %w", d.Version, err)
	}
	d.record(op)
	return nil
}

// Commit appends a batch that was already applied to the model, such as
// the result of running a command.
func (d *Document) Commit(b *model.Batch) Operation {
	op := FromBatch(b)
	if !op.IsNoop() {
		d.record(op)
	}
	return op
}

func (d *Document) record(op Operation) {
	d.Version++
	d.History = append(d.History, op)
}
