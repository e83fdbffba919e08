package ot

import (
	"fmt"

	"github.com/alimasry/go-block-editor/model"
)

// Transform takes two concurrent operations a and b (both applied to the same
// document state) and returns aPrime and bPrime such that:
//
//	Apply(Apply(doc, a), bPrime) == Apply(Apply(doc, b), aPrime)
func Transform(a, b Operation) (aPrime, bPrime Operation, err error) {
	as := append([]model.Operation(nil), a.Ops...)
	var bs []model.Operation

	for _, bo := range b.Ops {
		for i := range as {
			as[i], bo, err = transformOne(as[i], bo)
			if err != nil {
				return Operation{}, Operation{}, err
			}
		}
		bs = append(bs, bo)
	}
	return Operation{BatchID: a.BatchID, Ops: compact(as)},
		Operation{BatchID: b.BatchID, Ops: compact(bs)}, nil
}

// transformOne transforms a single pair. a wins ties.
func transformOne(a, b model.Operation) (model.Operation, model.Operation, error) {
	for _, o := range []model.Operation{a, b} {
		switch o.Type {
		case model.OpRename, model.OpInsertText, model.OpRemoveText:
		default:
			return a, b, fmt.Errorf("transform: unknown operation type %q", o.Type)
		}
	}
	if a.IsNoop() || b.IsNoop() {
		return a, b, nil
	}

	ap, bp := a, b
	ap.Path = shiftPath(a.Path, b)
	bp.Path = shiftPath(b.Path, a)

	if model.ComparePaths(a.Path, b.Path) != 0 {
		return ap, bp, nil
	}

	switch {
	case a.Type == model.OpRename && b.Type == model.OpRename:
		// Both renamed the same element. a's name stays.
		ap.OldName = b.NewName
		bp.OldName, bp.NewName = a.NewName, a.NewName
	case a.Type == model.OpRename || b.Type == model.OpRename:
		// A rename and a text edit in the same element are independent.
	case a.Type == model.OpInsertText && b.Type == model.OpInsertText:
		if a.Offset <= b.Offset {
			bp.Offset += a.Len()
		} else {
			ap.Offset += b.Len()
		}
	case a.Type == model.OpInsertText && b.Type == model.OpRemoveText:
		ap, bp = insertAgainstRemove(a, b, ap, bp)
	case a.Type == model.OpRemoveText && b.Type == model.OpInsertText:
		bp, ap = insertAgainstRemove(b, a, bp, ap)
	default:
		ap.Offset, ap.Text = removeAgainstRemove(a, b)
		bp.Offset, bp.Text = removeAgainstRemove(b, a)
	}
	return ap, bp, nil
}

// insertAgainstRemove handles an insertion concurrent with a removal in the
// same parent. Text inserted inside a removed range is removed as well.
func insertAgainstRemove(ins, rem, insP, remP model.Operation) (model.Operation, model.Operation) {
	switch {
	case ins.Offset <= rem.Offset:
		remP.Offset += ins.Len()
	case ins.Offset >= rem.Offset+rem.Len():
		insP.Offset -= rem.Len()
	default:
		k := ins.Offset - rem.Offset
		r := []rune(rem.Text)
		remP.Text = string(r[:k]) + ins.Text + string(r[k:])
		insP.Text = ""
	}
	return insP, remP
}

// removeAgainstRemove returns a's offset and remaining text once b has
// been applied.
func removeAgainstRemove(a, b model.Operation) (int, string) {
	bs, be := b.Offset, b.Offset+b.Len()
	off := a.Offset
	switch {
	case off >= be:
		off -= b.Len()
	case off > bs:
		off = bs
	}
	var kept []rune
	for i, r := range []rune(a.Text) {
		if p := a.Offset + i; p < bs || p >= be {
			kept = append(kept, r)
		}
	}
	return off, string(kept)
}

// shiftPath moves element offsets in path that sit after text changed by
// op in one of path's ancestors.
func shiftPath(path []int, op model.Operation) []int {
	out := append([]int(nil), path...)
	q := op.Path
	if op.Type == model.OpRename || op.IsNoop() || len(path) <= len(q) || !hasPrefix(path, q) {
		return out
	}
	k := len(q)
	switch op.Type {
	case model.OpInsertText:
		if out[k] >= op.Offset {
			out[k] += op.Len()
		}
	case model.OpRemoveText:
		if out[k] >= op.Offset+op.Len() {
			out[k] -= op.Len()
		}
	}
	return out
}

// TransformPosition maps a position path (parent path plus offset) over an
// operation applied concurrently.
func TransformPosition(path []int, op Operation) []int {
	out := append([]int(nil), path...)
	for _, o := range op.Ops {
		out = transformPosition(out, o)
	}
	return out
}

func transformPosition(path []int, op model.Operation) []int {
	if len(path) == 0 || op.Type == model.OpRename || op.IsNoop() {
		return path
	}
	parent := path[:len(path)-1]
	if model.ComparePaths(parent, op.Path) != 0 {
		return shiftPath(path, op)
	}
	out := append([]int(nil), path...)
	off := &out[len(out)-1]
	switch op.Type {
	case model.OpInsertText:
		if *off >= op.Offset {
			*off += op.Len()
		}
	case model.OpRemoveText:
		if *off > op.Offset {
			*off = max(op.Offset, *off-op.Len())
		}
	}
	return out
}

func hasPrefix(path, prefix []int) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}
