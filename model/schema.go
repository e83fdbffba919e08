// Package model holds the editable document tree, the schema that decides
// which elements may nest where, and the change machinery (operations,
// batches, undo) that mutates the tree.
package model

import (
	"errors"
	"fmt"
	"sync"
)

// Generic item names. Concrete items inherit from these instead of
// repeating placement rules.
const (
	RootName  = "$root"
	BlockName = "$block"
	TextName  = "$text"
)

// Standard items shared by the converters and the collaboration server.
const (
	BlockQuoteName = "blockQuote"
	ImageName      = "image"
	SpanName       = "span"
)

var (
	ErrItemExists      = errors.New("schema item already registered")
	ErrUnknownItem     = errors.New("unknown schema item")
	ErrSchemaViolation = errors.New("schema violation")
)

// ItemDefinition describes where an element may appear and how the editor
// treats it.
type ItemDefinition struct {
	AllowIn        []string // parent item names
	AllowWhere     string   // copy placement rules from another item
	InheritAllFrom string   // copy placement rules and flags from another item

	IsBlock   bool
	IsObject  bool
	IsInline  bool
	AllowText bool
}

// resolved is an item definition with inheritance applied.
type resolved struct {
	allowIn   map[string]bool
	textLike  bool
	isBlock   bool
	isObject  bool
	isInline  bool
	allowText bool
}

// Schema is a registry of item definitions. Inheritance is resolved on
// every query, so extending a base item also changes everything that
// inherits from it.
type Schema struct {
	mu    sync.RWMutex
	items map[string]*ItemDefinition
}

// NewSchema returns a schema with the generic $root, $block and $text items.
func NewSchema() *Schema {
	s := &Schema{items: make(map[string]*ItemDefinition)}
	s.items[RootName] = &ItemDefinition{}
	s.items[BlockName] = &ItemDefinition{AllowIn: []string{RootName}, IsBlock: true, AllowText: true}
	s.items[TextName] = &ItemDefinition{}
	return s
}

// Register adds a new item.
func (s *Schema) Register(name string, def ItemDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[name]; ok {
		return fmt.Errorf("%w: %q", ErrItemExists, name)
	}
	d := def
	d.AllowIn = append([]string(nil), def.AllowIn...)
	s.items[name] = &d
	return nil
}

// Extend merges def into an already registered item. Placement lists are
// appended, flags are OR-ed.
func (s *Schema) Extend(name string, def ItemDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.items[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownItem, name)
	}
	d.AllowIn = append(d.AllowIn, def.AllowIn...)
	if def.AllowWhere != "" {
		d.AllowWhere = def.AllowWhere
	}
	if def.InheritAllFrom != "" {
		d.InheritAllFrom = def.InheritAllFrom
	}
	d.IsBlock = d.IsBlock || def.IsBlock
	d.IsObject = d.IsObject || def.IsObject
	d.IsInline = d.IsInline || def.IsInline
	d.AllowText = d.AllowText || def.AllowText
	return nil
}

func (s *Schema) IsRegistered(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[name]
	return ok
}

func (s *Schema) IsBlock(name string) bool {
	r, ok := s.resolve(name)
	return ok && r.isBlock
}

func (s *Schema) IsObject(name string) bool {
	r, ok := s.resolve(name)
	return ok && r.isObject
}

func (s *Schema) IsInline(name string) bool {
	r, ok := s.resolve(name)
	return ok && r.isInline
}

// CheckText reports whether text may be placed directly inside parent.
func (s *Schema) CheckText(parent string) bool {
	r, ok := s.resolve(parent)
	return ok && r.allowText
}

// CheckChild reports whether child may be placed directly inside parent.
func (s *Schema) CheckChild(parent, child string) bool {
	if child == TextName {
		return s.CheckText(parent)
	}
	r, ok := s.resolve(child)
	if !ok || !s.IsRegistered(parent) {
		return false
	}
	if r.textLike && s.CheckText(parent) {
		return true
	}
	return r.allowIn[parent]
}

func (s *Schema) resolve(name string) (resolved, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.items[name]; !ok {
		return resolved{}, false
	}
	r := resolved{allowIn: make(map[string]bool)}
	s.resolveInto(name, &r, make(map[string]bool), true)
	return r, true
}

// resolveInto walks the inheritance chain. withFlags is false below an
// AllowWhere link, which only carries placement.
func (s *Schema) resolveInto(name string, r *resolved, seen map[string]bool, withFlags bool) {
	if seen[name] {
		return
	}
	seen[name] = true
	if name == TextName {
		r.textLike = true
		return
	}
	d, ok := s.items[name]
	if !ok {
		return
	}
	for _, p := range d.AllowIn {
		r.allowIn[p] = true
	}
	if withFlags {
		r.isBlock = r.isBlock || d.IsBlock
		r.isObject = r.isObject || d.IsObject
		r.isInline = r.isInline || d.IsInline
		r.allowText = r.allowText || d.AllowText
	}
	if d.AllowWhere != "" {
		s.resolveInto(d.AllowWhere, r, seen, false)
	}
	if d.InheritAllFrom != "" {
		s.resolveInto(d.InheritAllFrom, r, seen, withFlags)
	}
}

// RegisterStandardItems adds block quotes (which may hold any block),
// images (block objects) and inline spans. Paragraphs and headings are
// registered by the heading setup.
func RegisterStandardItems(s *Schema) error {
	defs := []struct {
		name string
		def  ItemDefinition
	}{
		{BlockQuoteName, ItemDefinition{AllowIn: []string{RootName}}},
		{ImageName, ItemDefinition{AllowWhere: BlockName, IsBlock: true, IsObject: true}},
		{SpanName, ItemDefinition{AllowWhere: TextName, IsInline: true, AllowText: true}},
	}
	for _, d := range defs {
		if s.IsRegistered(d.name) {
			continue
		}
		if err := s.Register(d.name, d.def); err != nil {
			return err
		}
	}
	return s.Extend(BlockName, ItemDefinition{AllowIn: []string{BlockQuoteName}})
}

// Validate checks every node under root against the schema.
func (s *Schema) Validate(root *Element) error {
	var err error
	root.Walk(func(n Node) bool {
		if err != nil {
			return false
		}
		parent := n.Parent()
		name := TextName
		if el, ok := n.(*Element); ok {
			name = el.Name
		}
		if !s.CheckChild(parent.Name, name) {
			err = fmt.Errorf("%w: %q in %q at %v", ErrSchemaViolation, name, parent.Name, parent.Path())
		}
		return err == nil
	})
	return err
}
