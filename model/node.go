package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidPath   = errors.New("invalid path")
	ErrInvalidOffset = errors.New("invalid offset")
	ErrInvalidRange  = errors.New("invalid range")
)

// Node is either an *Element or a *Text.
//
// Offsets inside an element count one per child element and one per rune
// of text, so a position never depends on how text is split into nodes.
type Node interface {
	Parent() *Element
	Size() int
	setParent(*Element)
}

// Text is a run of characters.
type Text struct {
	Data   string
	parent *Element
}

func NewText(data string) *Text { return &Text{Data: data} }

func (t *Text) Parent() *Element     { return t.parent }
func (t *Text) Size() int            { return utf8.RuneCountInString(t.Data) }
func (t *Text) setParent(e *Element) { t.parent = e }

// Element is a named node with children.
type Element struct {
	Name     string
	Attrs    map[string]string
	children []Node
	parent   *Element
}

// NewElement creates an element and adopts children. Adjacent text
// children are merged.
func NewElement(name string, attrs map[string]string, children ...Node) *Element {
	e := &Element{Name: name, Attrs: attrs}
	e.AppendChildren(children...)
	return e
}

func (e *Element) Parent() *Element     { return e.parent }
func (e *Element) Size() int            { return 1 }
func (e *Element) setParent(p *Element) { e.parent = p }

func (e *Element) Is(name string) bool { return e != nil && e.Name == name }

// Children returns a copy of the child list.
func (e *Element) Children() []Node {
	return append([]Node(nil), e.children...)
}

func (e *Element) ChildCount() int { return len(e.children) }

// MaxOffset is the offset just after the last child.
func (e *Element) MaxOffset() int {
	n := 0
	for _, c := range e.children {
		n += c.Size()
	}
	return n
}

// AppendChildren adopts nodes as the last children of e.
func (e *Element) AppendChildren(nodes ...Node) {
	for _, n := range nodes {
		if t, ok := n.(*Text); ok && t.Data == "" {
			continue
		}
		n.setParent(e)
		e.children = append(e.children, n)
	}
	e.normalize()
}

// Root returns the top-most ancestor of e.
func (e *Element) Root() *Element {
	r := e
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// Path returns the offsets leading from the root to e.
func (e *Element) Path() []int {
	if e.parent == nil {
		return []int{}
	}
	return append(e.parent.Path(), e.parent.offsetOf(e))
}

// ElementAt resolves a path relative to e.
func (e *Element) ElementAt(path []int) (*Element, error) {
	cur := e
	for i, off := range path {
		child, start := cur.childAtOffset(off)
		el, ok := child.(*Element)
		if !ok || start != off {
			return nil, fmt.Errorf("%w: %v (no element at step %d)", ErrInvalidPath, path, i)
		}
		cur = el
	}
	return cur, nil
}

// TextContent concatenates all descendant text.
func (e *Element) TextContent() string {
	var b strings.Builder
	e.Walk(func(n Node) bool {
		if t, ok := n.(*Text); ok {
			b.WriteString(t.Data)
		}
		return true
	})
	return b.String()
}

// Walk visits descendants depth-first in document order. Returning false
// from fn skips the children of the visited element.
func (e *Element) Walk(fn func(Node) bool) {
	for _, c := range e.children {
		if !fn(c) {
			continue
		}
		if el, ok := c.(*Element); ok {
			el.Walk(fn)
		}
	}
}

// Clone returns a deep copy of e detached from any parent.
func (e *Element) Clone() *Element {
	var attrs map[string]string
	if e.Attrs != nil {
		attrs = make(map[string]string, len(e.Attrs))
		for k, v := range e.Attrs {
			attrs[k] = v
		}
	}
	out := &Element{Name: e.Name, Attrs: attrs}
	for _, c := range e.children {
		switch n := c.(type) {
		case *Text:
			out.AppendChildren(NewText(n.Data))
		case *Element:
			out.AppendChildren(n.Clone())
		}
	}
	return out
}

func (e *Element) offsetOf(n Node) int {
	off := 0
	for _, c := range e.children {
		if c == n {
			return off
		}
		off += c.Size()
	}
	return -1
}

// childAtOffset returns the child covering offset and the offset it starts at.
func (e *Element) childAtOffset(offset int) (Node, int) {
	pos := 0
	for _, c := range e.children {
		size := c.Size()
		if offset >= pos && offset < pos+size {
			return c, pos
		}
		pos += size
	}
	return nil, -1
}

func (e *Element) insertText(offset int, data string) error {
	if offset < 0 || offset > e.MaxOffset() {
		return fmt.Errorf("%w: %d in %q", ErrInvalidOffset, offset, e.Name)
	}
	if data == "" {
		return nil
	}
	pos := 0
	for i, c := range e.children {
		size := c.Size()
		if t, ok := c.(*Text); ok && offset >= pos && offset <= pos+size {
			r := []rune(t.Data)
			k := offset - pos
			t.Data = string(r[:k]) + data + string(r[k:])
			return nil
		}
		if offset == pos {
			t := &Text{Data: data, parent: e}
			e.children = append(e.children[:i], append([]Node{t}, e.children[i:]...)...)
			return nil
		}
		pos += size
	}
	e.children = append(e.children, &Text{Data: data, parent: e})
	return nil
}

// textAt returns the text in [offset, offset+count). The range must not
// cover an element.
func (e *Element) textAt(offset, count int) (string, error) {
	end := offset + count
	if offset < 0 || count < 0 || end > e.MaxOffset() {
		return "", fmt.Errorf("%w: [%d,%d) in %q", ErrInvalidRange, offset, end, e.Name)
	}
	var b strings.Builder
	pos := 0
	for _, c := range e.children {
		start, stop := pos, pos+c.Size()
		pos = stop
		if stop <= offset || start >= end {
			continue
		}
		t, ok := c.(*Text)
		if !ok {
			return "", fmt.Errorf("%w: [%d,%d) in %q covers element %q",
				ErrInvalidRange, offset, end, e.Name, c.(*Element).Name)
		}
		r := []rune(t.Data)
		b.WriteString(string(r[max(offset, start)-start : min(end, stop)-start]))
	}
	return b.String(), nil
}

func (e *Element) removeText(offset, count int) (string, error) {
	removed, err := e.textAt(offset, count)
	if err != nil {
		return "", err
	}
	end := offset + count
	kept := make([]Node, 0, len(e.children))
	pos := 0
	for _, c := range e.children {
		start, stop := pos, pos+c.Size()
		pos = stop
		t, ok := c.(*Text)
		if !ok || stop <= offset || start >= end {
			kept = append(kept, c)
			continue
		}
		r := []rune(t.Data)
		t.Data = string(r[:max(offset, start)-start]) + string(r[min(end, stop)-start:])
		if t.Data != "" {
			kept = append(kept, t)
		}
	}
	e.children = kept
	e.normalize()
	return removed, nil
}

func (e *Element) normalize() {
	out := e.children[:0]
	for _, c := range e.children {
		if t, ok := c.(*Text); ok && len(out) > 0 {
			if prev, ok := out[len(out)-1].(*Text); ok {
				prev.Data += t.Data
				continue
			}
		}
		out = append(out, c)
	}
	e.children = out
}
