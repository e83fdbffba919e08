package model

import (
	"encoding/json"
	"fmt"
)

// nodeJSON is the stored form of a node. Text nodes carry only Text.
type nodeJSON struct {
	Name     string            `json:"name,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Children []nodeJSON        `json:"children,omitempty"`
}

func toJSON(e *Element) nodeJSON {
	n := nodeJSON{Name: e.Name, Attrs: e.Attrs}
	for _, c := range e.children {
		switch c := c.(type) {
		case *Text:
			n.Children = append(n.Children, nodeJSON{Text: c.Data})
		case *Element:
			n.Children = append(n.Children, toJSON(c))
		}
	}
	return n
}

func fromJSON(n nodeJSON) (*Element, error) {
	if n.Name == "" {
		return nil, fmt.Errorf("element without name")
	}
	e := NewElement(n.Name, n.Attrs)
	for _, c := range n.Children {
		if c.Name == "" {
			e.AppendChildren(NewText(c.Text))
			continue
		}
		child, err := fromJSON(c)
		if err != nil {
			return nil, err
		}
		e.AppendChildren(child)
	}
	return e, nil
}

// MarshalJSON encodes e and its subtree.
func (e *Element) MarshalJSON() ([]byte, error) {
	return json.Marshal(toJSON(e))
}

// UnmarshalElement decodes a subtree produced by MarshalJSON.
func UnmarshalElement(data []byte) (*Element, error) {
	var n nodeJSON
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode element: %w", err)
	}
	e, err := fromJSON(n)
	if err != nil {
		return nil, fmt.Errorf("decode element: %w", err)
	}
	return e, nil
}

// EncodeDocument returns the JSON form of a document root.
func EncodeDocument(root *Element) (string, error) {
	b, err := json.Marshal(root)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeDocument parses a stored document. An empty string is an empty
// document.
func DecodeDocument(data string) (*Element, error) {
	if data == "" {
		return NewElement(RootName, nil), nil
	}
	return UnmarshalElement([]byte(data))
}
