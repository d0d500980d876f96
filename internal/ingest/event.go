// Package ingest applies document events read from the document-ingest
// Kafka topic to the open indices.
package ingest

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/komodo-search/komodo/internal/komodo"
	"github.com/komodo-search/komodo/internal/parser"
)

const (
	maxNameLength = 1024
	maxDataLength = 16 << 20
)

// Event is the payload of one document-ingest message. Data is the raw
// document text, or base64 when Base64 is set.
type Event struct {
	Index       string   `json:"index"`
	CreateIndex bool     `json:"create_index,omitempty"`
	GUID        string   `json:"guid,omitempty"`
	OwnerGUID   string   `json:"owner_guid,omitempty"`
	Name        string   `json:"name"`
	Title       string   `json:"title,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Type        string   `json:"type"`
	SourceURL   string   `json:"source_url,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	Data        string   `json:"data"`
	Base64      bool     `json:"base64,omitempty"`
	Parse       bool     `json:"parse"`
	Async       bool     `json:"async,omitempty"`
	PostbackURL string   `json:"postback_url,omitempty"`
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// Validate checks the event and returns a ValidationError listing every
// offending field.
func (e *Event) Validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(e.Index) == "" {
		errs["index"] = "index is required"
	}
	if len(e.Name) > maxNameLength {
		errs["name"] = fmt.Sprintf("name must be at most %d characters", maxNameLength)
	}
	if e.Data == "" {
		errs["data"] = "data is required and must not be empty"
	} else if len(e.Data) > maxDataLength {
		errs["data"] = fmt.Sprintf("data must be at most %d bytes", maxDataLength)
	}
	if e.Type != "" && parser.ParseDocumentType(e.Type) == parser.TypeUnknown && !strings.EqualFold(e.Type, string(parser.TypeUnknown)) {
		errs["type"] = fmt.Sprintf("unknown document type %q", e.Type)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// Request converts the event into an add request.
func (e *Event) Request() (komodo.AddRequest, error) {
	data := []byte(e.Data)
	if e.Base64 {
		decoded, err := base64.StdEncoding.DecodeString(e.Data)
		if err != nil {
			return komodo.AddRequest{}, &ValidationError{Fields: map[string]string{"data": "invalid base64"}}
		}
		data = decoded
	}
	return komodo.AddRequest{
		GUID:        e.GUID,
		OwnerGUID:   e.OwnerGUID,
		Name:        e.Name,
		Title:       e.Title,
		Tags:        e.Tags,
		Type:        parser.ParseDocumentType(e.Type),
		SourceURL:   e.SourceURL,
		ContentType: e.ContentType,
		Data:        data,
		Parse:       e.Parse,
		Async:       e.Async,
		PostbackURL: e.PostbackURL,
	}, nil
}
