// Package parser flattens raw documents of every supported type into an
// ordered sequence of path/value DataNodes plus a word frequency map.
package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DocumentType is the declared format of a source document.
type DocumentType string

const (
	TypeJSON    DocumentType = "Json"
	TypeXML     DocumentType = "Xml"
	TypeHTML    DocumentType = "Html"
	TypeSQL     DocumentType = "Sql"
	TypeText    DocumentType = "Text"
	TypeUnknown DocumentType = "Unknown"
)

// ParseDocumentType maps a case-insensitive name to a DocumentType,
// returning TypeUnknown for anything unrecognised.
func ParseDocumentType(s string) DocumentType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return TypeJSON
	case "xml":
		return TypeXML
	case "html", "htm":
		return TypeHTML
	case "sql":
		return TypeSQL
	case "text", "txt":
		return TypeText
	default:
		return TypeUnknown
	}
}

func (t DocumentType) String() string { return string(t) }

// ValueKind describes the JSON-like type of a DataNode value.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindNull   ValueKind = "null"
	KindObject ValueKind = "object"
	KindArray  ValueKind = "array"
)

// DataNode is one flattened leaf: its path from the document root, the
// value rendered as text, and the value's kind. Object and Array kinds are
// only used for empty containers so they survive a round trip.
type DataNode struct {
	Key   string    `json:"key"`
	Value string    `json:"value"`
	Kind  ValueKind `json:"kind"`
}

// Result is the parse output. Type selects the variant; every variant
// carries the same Tokens/Flattened contract. Content is the text the
// postings generator scans for positions.
type Result struct {
	Type      DocumentType   `json:"type"`
	Source    string         `json:"source,omitempty"`
	Tokens    map[string]int `json:"tokens"`
	Flattened []DataNode     `json:"flattened"`
	Content   string         `json:"content"`
}

// Node returns the first node with the given key.
func (r *Result) Node(key string) (DataNode, bool) {
	for _, n := range r.Flattened {
		if n.Key == key {
			return n, true
		}
	}
	return DataNode{}, false
}

// SupportsFilters reports whether field filters can be evaluated against
// this variant. Text documents have no structure to filter on.
func (r *Result) SupportsFilters() bool {
	switch r.Type {
	case TypeJSON, TypeXML, TypeHTML, TypeSQL:
		return true
	case TypeText:
		return false
	default:
		return false
	}
}

// Marshal encodes the result for the parsed-document store.
func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a result previously written by Marshal.
func Unmarshal(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding parse result: %w", err)
	}
	if r.Tokens == nil {
		r.Tokens = map[string]int{}
	}
	return &r, nil
}

// builder accumulates nodes, token counts and scan content in traversal
// order.
type builder struct {
	typ     DocumentType
	source  string
	nodes   []DataNode
	tokens  map[string]int
	content strings.Builder
}

func newBuilder(typ DocumentType, source string) *builder {
	return &builder{typ: typ, source: source, tokens: make(map[string]int)}
}

func (b *builder) add(key, value string, kind ValueKind) {
	b.nodes = append(b.nodes, DataNode{Key: key, Value: value, Kind: kind})
	switch kind {
	case KindString, KindNumber, KindBool:
		b.text(value)
	}
}

// text feeds free text into the token map and scan content without
// creating a node.
func (b *builder) text(s string) {
	if strings.TrimSpace(s) == "" {
		return
	}
	for _, w := range strings.Fields(s) {
		b.tokens[strings.ToLower(w)]++
	}
	if b.content.Len() > 0 {
		b.content.WriteByte('\n')
	}
	b.content.WriteString(s)
}

func (b *builder) result() *Result {
	nodes := b.nodes
	if nodes == nil {
		nodes = []DataNode{}
	}
	return &Result{
		Type:      b.typ,
		Source:    b.source,
		Tokens:    b.tokens,
		Flattened: nodes,
		Content:   b.content.String(),
	}
}

// joinKey appends an object key to a path. Keys that are empty or would
// be ambiguous in the path syntax are written as ["quoted"] segments.
func joinKey(prefix, key string) string {
	if key == "" || strings.ContainsAny(key, `.[]"`) {
		return prefix + "[" + strconv.Quote(key) + "]"
	}
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func indexKey(prefix string, i int) string {
	return fmt.Sprintf("%s[%d]", prefix, i)
}
