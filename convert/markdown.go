package convert

import (
	"bytes"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/yuin/goldmark"

	"github.com/alimasry/go-block-editor/command"
	"github.com/alimasry/go-block-editor/model"
)

// ToMarkdown renders the document as Markdown by way of HTML.
func ToMarkdown(root *model.Element, headings []command.HeadingOption) (string, error) {
	out, err := ToHTML(root, headings)
	if err != nil {
		return "", err
	}
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(out)
	if err != nil {
		return "", fmt.Errorf("%w: markdown: %w", ErrConversion, err)
	}
	return strings.TrimSpace(markdown) + "\n", nil
}

// FromMarkdown parses Markdown into a block tree.
func FromMarkdown(src string, schema *model.Schema, headings []command.HeadingOption) (*model.Element, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return nil, fmt.Errorf("%w: render markdown: %w", ErrConversion, err)
	}
	return FromHTML(buf.String(), schema, headings)
}
