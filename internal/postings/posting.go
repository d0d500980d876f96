package postings

import (
	"encoding/json"
	"fmt"
	"time"
)

// Posting records one term's occurrences in one document.
type Posting struct {
	DocumentID string    `json:"document_id"`
	Frequency  int       `json:"frequency"`
	Positions  []int     `json:"positions"`
	Created    time.Time `json:"created"`
}

// PostingList is a slice of Postings for a single term.
type PostingList []Posting

// Document is the postings blob persisted per source document, keyed by
// term.
type Document struct {
	DocumentID string             `json:"document_id"`
	Created    time.Time          `json:"created"`
	Postings   map[string]Posting `json:"postings"`
}

// NewDocument converts a generator result into its persisted form.
func NewDocument(docID string, r *Result, created time.Time) *Document {
	d := &Document{
		DocumentID: docID,
		Created:    created,
		Postings:   make(map[string]Posting, len(r.Terms)),
	}
	for term, e := range r.Terms {
		d.Postings[term] = Posting{
			DocumentID: docID,
			Frequency:  e.Frequency,
			Positions:  e.Positions,
			Created:    created,
		}
	}
	return d
}

// Frequency returns the frequency of term, or 0 if absent.
func (d *Document) Frequency(term string) int {
	if d == nil {
		return 0
	}
	return d.Postings[term].Frequency
}

func (d *Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

func UnmarshalDocument(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding postings: %w", err)
	}
	return &d, nil
}
