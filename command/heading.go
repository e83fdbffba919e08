package command

import (
	"fmt"

	"github.com/alimasry/go-block-editor/model"
)

// DefaultBlock is the element blocks fall back to when a heading is
// toggled off.
const DefaultBlock = "paragraph"

// HeadingOption configures one block type.
type HeadingOption struct {
	Model string `yaml:"model" json:"model"` // model element name
	View  string `yaml:"view" json:"view"`   // rendered tag name
	Title string `yaml:"title" json:"title"`
}

// DefaultHeadingOptions mirrors the usual three heading levels under a
// paragraph. The first heading renders as h2 since h1 is the page title.
func DefaultHeadingOptions() []HeadingOption {
	return []HeadingOption{
		{Model: "paragraph", View: "p", Title: "Paragraph"},
		{Model: "heading1", View: "h2", Title: "Heading 1"},
		{Model: "heading2", View: "h3", Title: "Heading 2"},
		{Model: "heading3", View: "h4", Title: "Heading 3"},
	}
}

// HeadingCommand toggles the selected blocks between one heading type and
// the default block.
type HeadingCommand struct {
	model  *model.Model
	option HeadingOption

	value   bool
	enabled bool
}

func NewHeadingCommand(m *model.Model, option HeadingOption) *HeadingCommand {
	c := &HeadingCommand{model: m, option: option}
	c.Refresh()
	return c
}

// Option returns the command's configuration.
func (c *HeadingCommand) Option() HeadingOption { return c.option }

// Refresh recomputes state from the block holding the selection anchor.
func (c *HeadingCommand) Refresh() {
	block := anchorBlock(c.model)
	c.value = block.Is(c.option.Model)
	c.enabled = canBecome(c.model.Schema, block, c.option.Model)
}

// Value reports whether the anchor's block already has this command's
// type.
func (c *HeadingCommand) Value() any { return c.value }

func (c *HeadingCommand) IsEnabled() bool { return c.enabled }

// Execute renames the selected blocks the schema lets take the command's
// type. When all of them already have it they become paragraphs, otherwise
// they all take the command's type. Objects are never renamed.
func (c *HeadingCommand) Execute(opts ExecuteOptions) error {
	schema := c.model.Schema
	blocks := eligible(schema, c.model.Selection().SelectedBlocks(schema), c.option.Model)

	target := c.option.Model
	if allAre(blocks, target) {
		target = DefaultBlock
		blocks = eligible(schema, blocks, target)
	}
	return renameBlocks(c.model, opts.Batch, blocks, target)
}

// ParagraphCommand turns the selected blocks into paragraphs.
type ParagraphCommand struct {
	model *model.Model

	value   bool
	enabled bool
}

func NewParagraphCommand(m *model.Model) *ParagraphCommand {
	c := &ParagraphCommand{model: m}
	c.Refresh()
	return c
}

func (c *ParagraphCommand) Refresh() {
	block := anchorBlock(c.model)
	c.value = block.Is(DefaultBlock)
	c.enabled = canBecome(c.model.Schema, block, DefaultBlock)
}

func (c *ParagraphCommand) Value() any      { return c.value }
func (c *ParagraphCommand) IsEnabled() bool { return c.enabled }

func (c *ParagraphCommand) Execute(opts ExecuteOptions) error {
	schema := c.model.Schema
	blocks := eligible(schema, c.model.Selection().SelectedBlocks(schema), DefaultBlock)
	return renameBlocks(c.model, opts.Batch, blocks, DefaultBlock)
}

// SetupHeadings registers each option as a block element and adds its
// command to the editor under the option's model name. The paragraph
// option gets a ParagraphCommand.
func SetupHeadings(e *Editor, options []HeadingOption) error {
	schema := e.Model.Schema
	for _, opt := range options {
		if !schema.IsRegistered(opt.Model) {
			if err := schema.Register(opt.Model, model.ItemDefinition{InheritAllFrom: model.BlockName}); err != nil {
				return fmt.Errorf("setup headings: %w", err)
			}
		}
		if opt.Model == DefaultBlock {
			e.Add(opt.Model, NewParagraphCommand(e.Model))
			continue
		}
		e.Add(opt.Model, NewHeadingCommand(e.Model, opt))
	}
	if _, ok := e.Get(DefaultBlock); !ok {
		if !schema.IsRegistered(DefaultBlock) {
			if err := schema.Register(DefaultBlock, model.ItemDefinition{InheritAllFrom: model.BlockName}); err != nil {
				return fmt.Errorf("setup headings: %w", err)
			}
		}
		e.Add(DefaultBlock, NewParagraphCommand(e.Model))
	}
	return nil
}

// anchorBlock returns the outermost block holding the selection anchor,
// or nil when the anchor sits outside any block.
func anchorBlock(m *model.Model) *model.Element {
	block := m.Selection().Anchor.FindAncestorBlock(m.Schema)
	for e := block; e != nil; e = e.Parent() {
		if m.Schema.IsBlock(e.Name) {
			block = e
		}
	}
	return block
}

// eligible keeps the blocks that may be renamed to name.
func eligible(s *model.Schema, blocks []*model.Element, name string) []*model.Element {
	var out []*model.Element
	for _, b := range blocks {
		if canBecome(s, b, name) {
			out = append(out, b)
		}
	}
	return out
}

// canBecome reports whether block may be renamed to name.
func canBecome(s *model.Schema, block *model.Element, name string) bool {
	if block == nil || block.Parent() == nil {
		return false
	}
	return !s.IsObject(block.Name) && s.CheckChild(block.Parent().Name, name)
}

func allAre(blocks []*model.Element, name string) bool {
	for _, b := range blocks {
		if !b.Is(name) {
			return false
		}
	}
	return len(blocks) > 0
}

func renameBlocks(m *model.Model, batch *model.Batch, blocks []*model.Element, name string) error {
	_, err := m.EnqueueChange(batch, func(w *model.Writer) error {
		for _, b := range blocks {
			if b.Is(name) {
				continue
			}
			if err := w.Rename(b, name); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}
