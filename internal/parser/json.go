package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ParseJSON flattens a JSON document. Keys keep their document order.
func ParseJSON(data []byte, source string) (*Result, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, parseErr(source, "empty input")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	b := newBuilder(TypeJSON, source)
	if err := walkJSON(dec, "", b); err != nil {
		return nil, parseErr(source, "invalid json: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, parseErr(source, "invalid json: trailing data after top-level value")
	}
	return b.result(), nil
}

func walkJSON(dec *json.Decoder, path string, b *builder) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			n := 0
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return err
				}
				key, ok := keyTok.(string)
				if !ok {
					return fmt.Errorf("expected object key at %q", path)
				}
				if err := walkJSON(dec, joinKey(path, key), b); err != nil {
					return err
				}
				n++
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
			if n == 0 {
				b.add(path, "", KindObject)
			}
		case '[':
			i := 0
			for dec.More() {
				if err := walkJSON(dec, indexKey(path, i), b); err != nil {
					return err
				}
				i++
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
			if i == 0 {
				b.add(path, "", KindArray)
			}
		default:
			return fmt.Errorf("unexpected delimiter %q", v)
		}
	case string:
		b.add(path, v, KindString)
	case json.Number:
		b.add(path, v.String(), KindNumber)
	case bool:
		b.add(path, strconv.FormatBool(v), KindBool)
	case nil:
		b.add(path, "", KindNull)
	}
	return nil
}
