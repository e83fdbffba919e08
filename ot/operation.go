package ot

import "github.com/alimasry/go-block-editor/model"

// Operation is the unit exchanged between collaborators: the model
// operations of one batch, applied in order.
type Operation struct {
	BatchID string            `json:"batchId,omitempty"`
	Ops     []model.Operation `json:"ops"`
}

// FromBatch wraps a model batch.
func FromBatch(b *model.Batch) Operation {
	return Operation{BatchID: b.ID, Ops: append([]model.Operation(nil), b.Operations...)}
}

// IsNoop returns true if the operation makes no changes.
func (op Operation) IsNoop() bool {
	for _, o := range op.Ops {
		if !o.IsNoop() {
			return false
		}
	}
	return true
}

// Apply applies every component to the tree rooted at root. It stops at
// the first failure.
func Apply(root *model.Element, op Operation) error {
	for _, o := range op.Ops {
		if err := o.Apply(root); err != nil {
			return err
		}
	}
	return nil
}

// compact drops components that no longer change anything.
func compact(ops []model.Operation) []model.Operation {
	out := make([]model.Operation, 0, len(ops))
	for _, o := range ops {
		if !o.IsNoop() {
			out = append(out, o)
		}
	}
	return out
}
