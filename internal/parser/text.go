package parser

import "unicode/utf8"

// ParseText treats the whole input as one token stream with a single
// "content" node.
func ParseText(data []byte, source string) (*Result, error) {
	if len(data) == 0 {
		return nil, parseErr(source, "empty input")
	}
	if !utf8.Valid(data) {
		return nil, parseErr(source, "text is not valid utf-8")
	}
	b := newBuilder(TypeText, source)
	b.add("content", string(data), KindString)
	return b.result(), nil
}
