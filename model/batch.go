package model

import "github.com/google/uuid"

// BatchType controls whether a batch is recorded for undo.
type BatchType string

const (
	BatchDefault     BatchType = "default"
	BatchTransparent BatchType = "transparent"
)

// Batch groups the operations of one logical change. A default batch is a
// single undo step.
type Batch struct {
	ID         string      `json:"id"`
	Type       BatchType   `json:"type"`
	Operations []Operation `json:"operations"`
}

func NewBatch(typ BatchType) *Batch {
	return &Batch{ID: uuid.NewString(), Type: typ}
}

func (b *Batch) IsEmpty() bool { return len(b.Operations) == 0 }
