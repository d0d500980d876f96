package parser

import (
	"bytes"
	"fmt"

	apperrors "github.com/komodo-search/komodo/pkg/errors"
)

// Parse dispatches to the flattener for docType. source identifies the
// document in error messages (a URL or file name). Failures are returned
// as PARSE_ERROR AppErrors; no panic escapes.
func Parse(data []byte, docType DocumentType, source string) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = parseErr(source, "%v", r)
		}
	}()
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, parseErr(source, "empty input")
	}
	switch docType {
	case TypeJSON:
		return ParseJSON(data, source)
	case TypeXML:
		return ParseXML(data, source)
	case TypeHTML:
		return ParseHTML(data, source)
	case TypeSQL:
		return ParseSQL(data, source)
	case TypeText:
		return ParseText(data, source)
	default:
		return nil, parseErr(source, "unsupported document type %q", string(docType))
	}
}

func parseErr(source, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if source != "" {
		msg = fmt.Sprintf("%s: %s", source, msg)
	}
	return apperrors.New(apperrors.IDParseError, apperrors.ErrParse, msg)
}
