// Package convert moves documents between the block model and HTML or
// Markdown. Block element names map to tags through the heading options,
// so a heading1 renders as whatever view the editor configured for it.
package convert

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/alimasry/go-block-editor/command"
	"github.com/alimasry/go-block-editor/model"
)

var ErrConversion = errors.New("conversion failed")

// tagAttr records the original inline tag on span elements.
const tagAttr = "tag"

// inlineTags become span elements; the tag name is kept in the tag
// attribute so rendering can restore it.
var inlineTags = map[string]bool{
	"span": true, "strong": true, "b": true, "em": true, "i": true,
	"u": true, "s": true, "code": true, "a": true, "sub": true, "sup": true,
}

// containerTags are unwrapped: their children are read as blocks.
var containerTags = map[string]bool{
	"html": true, "body": true, "div": true, "section": true, "article": true,
	"main": true, "header": true, "footer": true, "ul": true, "ol": true,
}

func viewsByModel(headings []command.HeadingOption) map[string]string {
	m := make(map[string]string, len(headings))
	for _, h := range headings {
		m[h.Model] = h.View
	}
	return m
}

// ToHTML renders the document as an HTML fragment.
func ToHTML(root *model.Element, headings []command.HeadingOption) (string, error) {
	views := viewsByModel(headings)
	var b strings.Builder
	for _, child := range root.Children() {
		el, ok := child.(*model.Element)
		if !ok {
			continue
		}
		if err := html.Render(&b, renderBlock(el, views)); err != nil {
			return "", fmt.Errorf("%w: render %s: %w", ErrConversion, el.Name, err)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// WriteHTML writes ToHTML's output to w.
func WriteHTML(w io.Writer, root *model.Element, headings []command.HeadingOption) error {
	out, err := ToHTML(root, headings)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

func newNode(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag)), Attr: attrs}
}

func renderBlock(el *model.Element, views map[string]string) *html.Node {
	switch el.Name {
	case model.BlockQuoteName:
		n := newNode("blockquote")
		for _, c := range el.Children() {
			if child, ok := c.(*model.Element); ok {
				n.AppendChild(renderBlock(child, views))
			}
		}
		return n
	case model.ImageName:
		return newNode("img", sortedAttrs(el.Attrs)...)
	}
	tag := views[el.Name]
	if tag == "" {
		tag = "div"
	}
	n := newNode(tag)
	renderInline(n, el)
	return n
}

func renderInline(parent *html.Node, el *model.Element) {
	for _, c := range el.Children() {
		switch c := c.(type) {
		case *model.Text:
			parent.AppendChild(&html.Node{Type: html.TextNode, Data: c.Data})
		case *model.Element:
			tag := c.Attrs[tagAttr]
			if tag == "" {
				tag = "span"
			}
			attrs := make(map[string]string, len(c.Attrs))
			for k, v := range c.Attrs {
				if k != tagAttr {
					attrs[k] = v
				}
			}
			n := newNode(tag, sortedAttrs(attrs)...)
			renderInline(n, c)
			parent.AppendChild(n)
		}
	}
}

func sortedAttrs(attrs map[string]string) []html.Attribute {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]html.Attribute, len(keys))
	for i, k := range keys {
		out[i] = html.Attribute{Key: k, Val: attrs[k]}
	}
	return out
}

// FromHTML parses an HTML document or fragment into a block tree. Tags
// configured as heading views map back to their model elements; other
// headings go to the nearest configured level, and any other block
// becomes a paragraph. When schema is non-nil the result is validated.
func FromHTML(src string, schema *model.Schema, headings []command.HeadingOption) (*model.Element, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", ErrConversion, err)
	}
	p := newParser(headings)
	root := model.NewElement(model.RootName, nil)
	root.AppendChildren(p.blocks(doc.Find("body").Contents())...)
	if schema != nil {
		if err := schema.Validate(root); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConversion, err)
		}
	}
	return root, nil
}

type parser struct {
	models   map[string]string // view tag -> model name
	headings []command.HeadingOption
}

func newParser(headings []command.HeadingOption) *parser {
	p := &parser{models: make(map[string]string), headings: headings}
	for _, h := range headings {
		if _, taken := p.models[h.View]; !taken {
			p.models[h.View] = h.Model
		}
	}
	return p
}

// modelFor returns the block element name for a block tag.
func (p *parser) modelFor(tag string) string {
	if name, ok := p.models[tag]; ok {
		return name
	}
	if level := headingLevel(tag); level > 0 {
		var last string
		for _, h := range p.headings {
			hl := headingLevel(h.View)
			if hl == 0 {
				continue
			}
			last = h.Model
			if hl >= level {
				return h.Model
			}
		}
		if last != "" {
			return last
		}
	}
	return command.DefaultBlock
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

// blocks reads a run of sibling nodes as blocks. Loose inline content is
// gathered into paragraphs.
func (p *parser) blocks(sel *goquery.Selection) []model.Node {
	var out []model.Node
	var run []model.Node
	flush := func() {
		if para := paragraph(command.DefaultBlock, run); para != nil {
			out = append(out, para)
		}
		run = nil
	}

	sel.Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		switch node.Type {
		case html.TextNode:
			run = append(run, model.NewText(node.Data))
			return
		case html.ElementNode:
		default:
			return
		}

		tag := goquery.NodeName(s)
		switch {
		case inlineTags[tag] || tag == "br":
			run = append(run, p.inline(s)...)
		case containerTags[tag]:
			flush()
			out = append(out, p.blocks(s.Contents())...)
		case tag == "blockquote":
			flush()
			out = append(out, model.NewElement(model.BlockQuoteName, nil, unquote(p.blocks(s.Contents()))...))
		case tag == "img":
			flush()
			out = append(out, image(s))
		default:
			flush()
			out = append(out, p.textBlock(p.modelFor(tag), s.Contents())...)
		}
	})
	flush()
	return out
}

// textBlock reads a block whose content is inline. Images inside it split
// the block, since images are block objects.
func (p *parser) textBlock(name string, sel *goquery.Selection) []model.Node {
	var out []model.Node
	var run []model.Node
	sel.Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "img" {
			if para := paragraph(name, run); para != nil {
				out = append(out, para)
			}
			run = nil
			out = append(out, image(s))
			return
		}
		run = append(run, p.inline(s)...)
	})
	para := paragraph(name, run)
	if para == nil && len(out) == 0 {
		para = model.NewElement(name, nil)
	}
	if para != nil {
		out = append(out, para)
	}
	return out
}

// inline converts one node to inline content.
func (p *parser) inline(s *goquery.Selection) []model.Node {
	node := s.Get(0)
	switch node.Type {
	case html.TextNode:
		return []model.Node{model.NewText(node.Data)}
	case html.ElementNode:
	default:
		return nil
	}
	tag := goquery.NodeName(s)
	if tag == "br" {
		return []model.Node{model.NewText(" ")}
	}
	var children []model.Node
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		children = append(children, p.inline(c)...)
	})
	if !inlineTags[tag] {
		return children
	}
	attrs := map[string]string{tagAttr: tag}
	if href, ok := s.Attr("href"); ok {
		attrs["href"] = href
	}
	return []model.Node{model.NewElement(model.SpanName, attrs, children...)}
}

// unquote lifts the content of nested quotes, which cannot nest in the
// model.
func unquote(blocks []model.Node) []model.Node {
	var out []model.Node
	for _, b := range blocks {
		if el, ok := b.(*model.Element); ok && el.Is(model.BlockQuoteName) {
			out = append(out, unquote(el.Children())...)
			continue
		}
		out = append(out, b)
	}
	return out
}

func image(s *goquery.Selection) *model.Element {
	attrs := make(map[string]string)
	for _, key := range []string{"src", "alt", "title"} {
		if v, ok := s.Attr(key); ok {
			attrs[key] = v
		}
	}
	return model.NewElement(model.ImageName, attrs)
}

// paragraph wraps inline nodes in a block named name after collapsing
// whitespace the way a browser would. It returns nil for blank content.
func paragraph(name string, inline []model.Node) *model.Element {
	collapseSpace(inline, true)
	trimEnd(inline)
	blank := true
	for _, n := range inline {
		if t, ok := n.(*model.Text); !ok || t.Data != "" {
			blank = false
			break
		}
	}
	if blank {
		return nil
	}
	var kept []model.Node
	for _, n := range inline {
		if t, ok := n.(*model.Text); ok && t.Data == "" {
			continue
		}
		kept = append(kept, n)
	}
	return model.NewElement(name, nil, kept...)
}

// collapseSpace folds whitespace runs into single spaces across text
// nodes, dropping leading space when atStart is set. It returns whether
// the content ended in a space.
func collapseSpace(nodes []model.Node, atStart bool) bool {
	space := atStart
	for _, n := range nodes {
		switch n := n.(type) {
		case *model.Text:
			var b strings.Builder
			for _, r := range n.Data {
				if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' {
					if !space {
						b.WriteByte(' ')
						space = true
					}
					continue
				}
				b.WriteRune(r)
				space = false
			}
			n.Data = b.String()
		case *model.Element:
			space = collapseSpace(n.Children(), space)
		}
	}
	return space
}

// trimEnd removes trailing whitespace from the last text in nodes.
func trimEnd(nodes []model.Node) {
	for i := len(nodes) - 1; i >= 0; i-- {
		switch n := nodes[i].(type) {
		case *model.Text:
			n.Data = strings.TrimRight(n.Data, " ")
			if n.Data != "" {
				return
			}
		case *model.Element:
			trimEnd(n.Children())
			return
		}
	}
}
