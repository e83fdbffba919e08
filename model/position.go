package model

// Position is a place between two offsets of Parent.
type Position struct {
	Parent *Element
	Offset int
}

// Path returns the offsets from the root: the parent's path followed by
// Offset.
func (p Position) Path() []int {
	return append(p.Parent.Path(), p.Offset)
}

// Compare orders positions in document order.
func (p Position) Compare(o Position) int {
	return ComparePaths(p.Path(), o.Path())
}

func (p Position) Equal(o Position) bool {
	return p.Parent == o.Parent && p.Offset == o.Offset
}

// ComparePaths compares two paths lexicographically. A path that is a
// prefix of another comes first.
func ComparePaths(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// FindAncestorBlock returns the nearest block element containing p, or nil.
func (p Position) FindAncestorBlock(s *Schema) *Element {
	for e := p.Parent; e != nil; e = e.parent {
		if s.IsBlock(e.Name) {
			return e
		}
	}
	return nil
}

// Range is an ordered pair of positions.
type Range struct {
	Start, End Position
}

func (r Range) IsCollapsed() bool { return r.Start.Equal(r.End) }

// Selection is an anchor and a focus. The focus may come before the anchor.
type Selection struct {
	Anchor, Focus Position
}

// Collapsed returns a caret selection at p.
func Collapsed(p Position) Selection { return Selection{Anchor: p, Focus: p} }

func (s Selection) IsCollapsed() bool { return s.Anchor.Equal(s.Focus) }

func (s Selection) IsBackward() bool { return s.Focus.Compare(s.Anchor) < 0 }

func (s Selection) Range() Range {
	if s.IsBackward() {
		return Range{Start: s.Focus, End: s.Anchor}
	}
	return Range{Start: s.Anchor, End: s.Focus}
}

// FirstPosition is the selection boundary that comes first in the document.
func (s Selection) FirstPosition() Position { return s.Range().Start }

// SelectedBlocks returns, in document order, the blocks the selection
// touches. Blocks nested inside other blocks are not returned. A
// non-collapsed selection that ends at the very start of a block does not
// select that block.
func (s Selection) SelectedBlocks(schema *Schema) []*Element {
	if s.Anchor.Parent == nil {
		return nil
	}
	r := s.Range()
	start, end := r.Start.Path(), r.End.Path()
	collapsed := r.IsCollapsed()

	var blocks []*Element
	s.Anchor.Parent.Root().Walk(func(n Node) bool {
		el, ok := n.(*Element)
		if !ok {
			return false
		}
		if !schema.IsBlock(el.Name) {
			return true
		}
		path := el.Path()
		blockStart := append(path, 0)
		blockEnd := append(el.Path(), el.MaxOffset())
		if ComparePaths(blockEnd, start) < 0 || ComparePaths(blockStart, end) > 0 {
			return false
		}
		if !collapsed && ComparePaths(blockStart, end) == 0 && ComparePaths(blockStart, start) != 0 {
			return false
		}
		blocks = append(blocks, el)
		return false
	})
	return blocks
}
