package model

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ChangeListener is called after an outermost change block finishes.
// batch is nil when only the selection moved.
type ChangeListener func(batch *Batch)

// Model owns the document tree and its selection. All mutations go through
// Change or EnqueueChange; the model is not safe for concurrent use and
// callers serialize access the way a session loop does.
type Model struct {
	Schema *Schema
	Root   *Element

	selection Selection
	version   int
	depth     int
	dirty     bool
	current   *Writer
	pending   []*Batch
	listeners []ChangeListener
	log       *logrus.Entry
}

// New creates a model around root. A nil root creates an empty document.
func New(schema *Schema, root *Element) *Model {
	if root == nil {
		root = NewElement(RootName, nil)
	}
	return &Model{
		Schema:    schema,
		Root:      root,
		selection: Collapsed(Position{Parent: root}),
		log:       logrus.NewEntry(logrus.StandardLogger()).WithField("component", "model"),
	}
}

// SetLogger replaces the model's logger.
func (m *Model) SetLogger(log *logrus.Entry) { m.log = log }

func (m *Model) Selection() Selection { return m.selection }

// Version counts applied operations.
func (m *Model) Version() int { return m.version }

// OnChange registers a listener.
func (m *Model) OnChange(fn ChangeListener) {
	m.listeners = append(m.listeners, fn)
}

// SetSelection moves the selection outside of a change block.
func (m *Model) SetSelection(sel Selection) error {
	if err := m.validate(sel); err != nil {
		return err
	}
	m.selection = sel
	if m.depth > 0 {
		m.dirty = true
		return nil
	}
	m.notify(nil)
	return nil
}

// PositionFromPath resolves a root-relative path to a position.
func (m *Model) PositionFromPath(path []int) (Position, error) {
	if len(path) == 0 {
		return Position{}, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	parent, err := m.Root.ElementAt(path[:len(path)-1])
	if err != nil {
		return Position{}, err
	}
	off := path[len(path)-1]
	if off < 0 || off > parent.MaxOffset() {
		return Position{}, fmt.Errorf("%w: %d in %q", ErrInvalidOffset, off, parent.Name)
	}
	return Position{Parent: parent, Offset: off}, nil
}

// Change runs fn in a new default batch, or joins the enclosing batch when
// called from inside another change block.
func (m *Model) Change(fn func(w *Writer) error) (*Batch, error) {
	return m.EnqueueChange(nil, fn)
}

// EnqueueChange runs fn against batch. A nil batch means a new default
// batch, or the enclosing one when nested. If fn fails every operation it
// applied is reverted.
func (m *Model) EnqueueChange(batch *Batch, fn func(w *Writer) error) (*Batch, error) {
	w, owned := m.current, false
	if w == nil || (batch != nil && batch != w.batch) {
		if batch == nil {
			batch = NewBatch(BatchDefault)
		}
		w, owned = &Writer{model: m, batch: batch}, true
	}

	outer := m.current
	m.current = w
	m.depth++
	err := fn(w)
	m.depth--
	m.current = outer

	if err != nil && owned {
		if rerr := w.rollback(); rerr != nil {
			m.log.WithError(rerr).Error("rollback failed, document may be inconsistent")
		}
	}
	switch {
	case m.depth > 0:
		// A nested change with its own batch is announced once the
		// outermost block finishes.
		if owned && len(w.applied) > 0 {
			m.pending = append(m.pending, w.batch)
		}
	default:
		pending := m.pending
		m.pending = nil
		for _, b := range pending {
			m.notify(b)
		}
		if m.dirty || len(w.applied) > 0 {
			m.dirty = false
			m.notify(w.batch)
		}
	}
	return w.batch, err
}

func (m *Model) notify(batch *Batch) {
	if batch != nil {
		m.log.WithFields(logrus.Fields{"batch": batch.ID, "ops": len(batch.Operations), "version": m.version}).Debug("change applied")
	}
	for _, fn := range m.listeners {
		fn(batch)
	}
}

func (m *Model) validate(sel Selection) error {
	for _, p := range []Position{sel.Anchor, sel.Focus} {
		if p.Parent == nil || p.Parent.Root() != m.Root {
			return fmt.Errorf("%w: position outside document", ErrInvalidPath)
		}
		if p.Offset < 0 || p.Offset > p.Parent.MaxOffset() {
			return fmt.Errorf("%w: %d in %q", ErrInvalidOffset, p.Offset, p.Parent.Name)
		}
	}
	return nil
}

// apply applies op to the tree and shifts the selection.
func (m *Model) apply(op Operation) error {
	if err := op.Apply(m.Root); err != nil {
		return err
	}
	if op.IsNoop() {
		return nil
	}
	m.version++
	if op.Type == OpRename {
		return nil
	}
	parent, err := m.Root.ElementAt(op.Path)
	if err != nil {
		return nil
	}
	m.selection.Anchor = shiftPosition(m.selection.Anchor, parent, op)
	m.selection.Focus = shiftPosition(m.selection.Focus, parent, op)
	return nil
}

func shiftPosition(p Position, parent *Element, op Operation) Position {
	if p.Parent != parent {
		return p
	}
	switch op.Type {
	case OpInsertText:
		if p.Offset >= op.Offset {
			p.Offset += op.Len()
		}
	case OpRemoveText:
		if p.Offset > op.Offset {
			p.Offset = max(op.Offset, p.Offset-op.Len())
		}
	}
	return p
}

// Writer is the only way to mutate a model. It is valid only inside the
// change block it was passed to.
type Writer struct {
	model   *Model
	batch   *Batch
	applied []Operation
}

// Batch returns the batch operations are recorded into.
func (w *Writer) Batch() *Batch { return w.batch }

// Rename changes an element's name in place, keeping its children.
func (w *Writer) Rename(el *Element, name string) error {
	if el.Root() != w.model.Root {
		return fmt.Errorf("%w: element outside document", ErrInvalidPath)
	}
	return w.ApplyOperation(NewRename(el.Path(), el.Name, name))
}

// InsertText inserts text at a position.
func (w *Writer) InsertText(at Position, text string) error {
	return w.ApplyOperation(NewInsertText(at.Parent.Path(), at.Offset, text))
}

// RemoveText removes count offsets of text starting at a position.
func (w *Writer) RemoveText(at Position, count int) error {
	text, err := at.Parent.textAt(at.Offset, count)
	if err != nil {
		return err
	}
	return w.ApplyOperation(NewRemoveText(at.Parent.Path(), at.Offset, text))
}

// SetSelection moves the selection as part of the change.
func (w *Writer) SetSelection(sel Selection) error {
	return w.model.SetSelection(sel)
}

// ApplyOperation applies a prepared operation and records it in the batch.
func (w *Writer) ApplyOperation(op Operation) error {
	if op.IsNoop() {
		return nil
	}
	if err := w.model.apply(op); err != nil {
		return err
	}
	w.applied = append(w.applied, op)
	w.batch.Operations = append(w.batch.Operations, op)
	return nil
}

func (w *Writer) rollback() error {
	for i := len(w.applied) - 1; i >= 0; i-- {
		if err := w.model.apply(w.applied[i].Invert()); err != nil {
			return err
		}
	}
	n := len(w.batch.Operations) - len(w.applied)
	w.batch.Operations = w.batch.Operations[:n]
	w.applied = nil
	return nil
}
