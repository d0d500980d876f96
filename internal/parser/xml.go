package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

type xmlElement struct {
	name     string
	attrs    []xml.Attr
	text     strings.Builder
	children []*xmlElement
}

// ParseXML flattens an XML document. The root element name is the first
// path segment, repeated siblings are indexed, attributes appear as
// "path.@name" and mixed text as "path.#text".
func ParseXML(data []byte, source string) (*Result, error) {
	root, err := decodeXML(data)
	if err != nil {
		return nil, parseErr(source, "invalid xml: %v", err)
	}
	b := newBuilder(TypeXML, source)
	flattenXML(root, root.name, b)
	return b.result(), nil
}

func decodeXML(data []byte) (*xmlElement, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	var (
		stack []*xmlElement
		root  *xmlElement
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &xmlElement{name: t.Name.Local, attrs: t.Attr}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			} else if root != nil {
				return nil, errors.New("multiple root elements")
			} else {
				root = el
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	if len(stack) != 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}

func flattenXML(el *xmlElement, path string, b *builder) {
	for _, a := range el.attrs {
		name := a.Name.Local
		if a.Name.Space == "xmlns" || name == "xmlns" {
			continue
		}
		b.add(joinKey(path, "@"+name), a.Value, KindString)
	}
	text := strings.TrimSpace(el.text.String())
	switch {
	case len(el.children) == 0 && len(el.attrs) == 0:
		b.add(path, text, KindString)
	case text != "":
		b.add(joinKey(path, "#text"), text, KindString)
	}

	counts := make(map[string]int, len(el.children))
	for _, c := range el.children {
		counts[c.name]++
	}
	seen := make(map[string]int, len(counts))
	for _, c := range el.children {
		childPath := joinKey(path, c.name)
		if counts[c.name] > 1 {
			childPath = indexKey(childPath, seen[c.name])
			seen[c.name]++
		}
		flattenXML(c, childPath, b)
	}
}
