package model

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var ErrOperationMismatch = errors.New("operation does not match document")

// OperationType names the kind of change an Operation makes.
type OperationType string

const (
	OpRename     OperationType = "rename"
	OpInsertText OperationType = "insertText"
	OpRemoveText OperationType = "removeText"
)

// Operation is a single atomic change to the tree.
//
// For OpRename, Path points at the renamed element. For the text
// operations, Path points at the parent element and Offset is the offset
// inside it.
type Operation struct {
	Type    OperationType `json:"type"`
	Path    []int         `json:"path"`
	OldName string        `json:"oldName,omitempty"`
	NewName string        `json:"newName,omitempty"`
	Offset  int           `json:"offset,omitempty"`
	Text    string        `json:"text,omitempty"`
}

func NewRename(path []int, oldName, newName string) Operation {
	return Operation{Type: OpRename, Path: clonePath(path), OldName: oldName, NewName: newName}
}

func NewInsertText(path []int, offset int, text string) Operation {
	return Operation{Type: OpInsertText, Path: clonePath(path), Offset: offset, Text: text}
}

func NewRemoveText(path []int, offset int, text string) Operation {
	return Operation{Type: OpRemoveText, Path: clonePath(path), Offset: offset, Text: text}
}

// Len is the number of offsets a text operation covers.
func (op Operation) Len() int { return utf8.RuneCountInString(op.Text) }

// IsNoop reports whether applying op changes nothing.
func (op Operation) IsNoop() bool {
	switch op.Type {
	case OpRename:
		return op.OldName == op.NewName
	case OpInsertText, OpRemoveText:
		return op.Text == ""
	}
	return false
}

// Invert returns the operation that undoes op.
func (op Operation) Invert() Operation {
	inv := op
	inv.Path = clonePath(op.Path)
	switch op.Type {
	case OpRename:
		inv.OldName, inv.NewName = op.NewName, op.OldName
	case OpInsertText:
		inv.Type = OpRemoveText
	case OpRemoveText:
		inv.Type = OpInsertText
	}
	return inv
}

// Apply performs op on the tree rooted at root. On error the tree is left
// unchanged.
func (op Operation) Apply(root *Element) error {
	if op.IsNoop() {
		return nil
	}
	el, err := root.ElementAt(op.Path)
	if err != nil {
		return fmt.Errorf("apply %s: %w", op.Type, err)
	}
	switch op.Type {
	case OpRename:
		if el.Name != op.OldName {
			return fmt.Errorf("%w: rename %v expects %q, found %q", ErrOperationMismatch, op.Path, op.OldName, el.Name)
		}
		el.Name = op.NewName
	case OpInsertText:
		if err := el.insertText(op.Offset, op.Text); err != nil {
			return fmt.Errorf("apply %s: %w", op.Type, err)
		}
	case OpRemoveText:
		got, err := el.textAt(op.Offset, op.Len())
		if err != nil {
			return fmt.Errorf("apply %s: %w", op.Type, err)
		}
		if got != op.Text {
			return fmt.Errorf("%w: remove %q at %v:%d, found %q", ErrOperationMismatch, op.Text, op.Path, op.Offset, got)
		}
		if _, err := el.removeText(op.Offset, op.Len()); err != nil {
			return fmt.Errorf("apply %s: %w", op.Type, err)
		}
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrOperationMismatch, op.Type)
	}
	return nil
}

func clonePath(p []int) []int {
	return append(make([]int, 0, len(p)), p...)
}
