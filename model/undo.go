package model

import (
	"errors"
	"fmt"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// UndoManager records default batches as undo steps. Undo and redo run in
// transparent batches so they are never recorded themselves. Stacks are
// updated before the change runs so listeners see the new state.
type UndoManager struct {
	model *Model
	undo  []*Batch
	redo  []*Batch
}

// NewUndoManager starts recording the model's changes.
func NewUndoManager(m *Model) *UndoManager {
	u := &UndoManager{model: m}
	m.OnChange(u.record)
	return u
}

func (u *UndoManager) record(batch *Batch) {
	if batch == nil || batch.IsEmpty() || batch.Type == BatchTransparent {
		return
	}
	if n := len(u.undo); n > 0 && u.undo[n-1] == batch {
		return
	}
	u.undo = append(u.undo, batch)
	u.redo = nil
}

func (u *UndoManager) CanUndo() bool { return len(u.undo) > 0 }
func (u *UndoManager) CanRedo() bool { return len(u.redo) > 0 }

// Undo reverts the most recent recorded batch.
func (u *UndoManager) Undo() (*Batch, error) {
	n := len(u.undo)
	if n == 0 {
		return nil, ErrNothingToUndo
	}
	step := u.undo[n-1]
	u.undo = u.undo[:n-1]
	u.redo = append(u.redo, step)
	batch, err := u.model.EnqueueChange(NewBatch(BatchTransparent), func(w *Writer) error {
		for i := len(step.Operations) - 1; i >= 0; i-- {
			if err := w.ApplyOperation(step.Operations[i].Invert()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		u.redo = u.redo[:len(u.redo)-1]
		u.undo = append(u.undo, step)
		return nil, fmt.Errorf("undo batch %s: %w", step.ID, err)
	}
	return batch, nil
}

// Redo reapplies the most recently undone batch.
func (u *UndoManager) Redo() (*Batch, error) {
	n := len(u.redo)
	if n == 0 {
		return nil, ErrNothingToRedo
	}
	step := u.redo[n-1]
	u.redo = u.redo[:n-1]
	u.undo = append(u.undo, step)
	batch, err := u.model.EnqueueChange(NewBatch(BatchTransparent), func(w *Writer) error {
		for _, op := range step.Operations {
			if err := w.ApplyOperation(op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		u.undo = u.undo[:len(u.undo)-1]
		u.redo = append(u.redo, step)
		return nil, fmt.Errorf("redo batch %s: %w", step.ID, err)
	}
	return batch, nil
}
