package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// tabular is the column-oriented result set form.
type tabular struct {
	Columns []string            `json:"columns"`
	Rows    [][]json.RawMessage `json:"rows"`
}

// ParseSQL flattens a SQL result set encoded as JSON, either an array of
// row objects or {"columns": [...], "rows": [[...], ...]}. Each cell
// becomes the node "<row>.<column>".
func ParseSQL(data []byte, source string) (*Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, parseErr(source, "empty input")
	}
	b := newBuilder(TypeSQL, source)
	var err error
	switch trimmed[0] {
	case '[':
		err = parseRowObjects(trimmed, b)
	case '{':
		err = parseTabular(trimmed, b)
	default:
		err = errors.New("expected a JSON array of rows or a columns/rows object")
	}
	if err != nil {
		return nil, parseErr(source, "invalid result set: %v", err)
	}
	return b.result(), nil
}

func parseRowObjects(data []byte, b *builder) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return err
	}
	row := 0
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return fmt.Errorf("row %d is not an object", row)
		}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			col, _ := keyTok.(string)
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return fmt.Errorf("row %d column %q: %w", row, col, err)
			}
			addCell(b, row, col, raw)
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
		row++
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after result set")
	}
	return nil
}

func parseTabular(data []byte, b *builder) error {
	var t tabular
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return err
	}
	if len(t.Columns) == 0 {
		return errors.New("no columns")
	}
	for r, cells := range t.Rows {
		if len(cells) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", r, len(cells), len(t.Columns))
		}
		for c, raw := range cells {
			addCell(b, r, t.Columns[c], raw)
		}
	}
	return nil
}

func addCell(b *builder, row int, col string, raw json.RawMessage) {
	key := joinKey(strconv.Itoa(row), col)
	v := bytes.TrimSpace(raw)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
		b.add(key, "", KindNull)
	case v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			s = string(v)
		}
		b.add(key, s, KindString)
	case bytes.Equal(v, []byte("true")), bytes.Equal(v, []byte("false")):
		b.add(key, string(v), KindBool)
	case v[0] == '{' || v[0] == '[':
		var compact bytes.Buffer
		if err := json.Compact(&compact, v); err != nil {
			compact.Reset()
			compact.Write(v)
		}
		b.add(key, compact.String(), KindString)
	default:
		b.add(key, string(v), KindNumber)
	}
}
