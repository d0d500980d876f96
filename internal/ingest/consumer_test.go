package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/komodo-search/komodo/internal/blob"
	"github.com/komodo-search/komodo/internal/komodo"
	"github.com/komodo-search/komodo/internal/metadata"
	"github.com/komodo-search/komodo/internal/postings"
	"github.com/komodo-search/komodo/internal/search"
	"github.com/komodo-search/komodo/pkg/kafka"
)

func newManager(t *testing.T) *komodo.Manager {
	t.Helper()
	m := komodo.NewManager(komodo.Options{
		Metadata: metadata.NewMemoryStore(),
		Blobs:    blob.NewMemoryProvider(),
		Postings: postings.DefaultOptions(),
	}, time.Hour)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func encode(t *testing.T, e Event) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestHandleMessageAddsDocument(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	_, err := m.Add(ctx, metadata.IndexRecord{Name: "products"})
	require.NoError(t, err)
	handle := HandleMessage(m)

	err = handle(ctx, []byte("k"), encode(t, Event{
		Index: "products", GUID: "d1", Name: "kettle.json", Type: "json",
		Data: `{"name":"Blue Kettle"}`, Parse: true, Tags: []string{"kitchen"},
	}))
	require.NoError(t, err)

	idx, ok := m.Get("products")
	require.True(t, ok)
	res := idx.Search(ctx, search.Query{Required: search.QueryFilter{Terms: []string{"kettle"}}})
	require.True(t, res.Success)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, []string{"kitchen"}, res.Documents[0].Document.Tags)
}

func TestHandleMessageCreatesIndexOnDemand(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	handle := HandleMessage(m)

	err := handle(ctx, nil, encode(t, Event{
		Index: "notes", CreateIndex: true, Name: "n.txt", Type: "text",
		Data: base64.StdEncoding.EncodeToString([]byte("plain text note")), Base64: true, Parse: true,
	}))
	require.NoError(t, err)
	idx, ok := m.Get("notes")
	require.True(t, ok)
	st, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.IndexedDocuments)
}

func TestHandleMessagePoison(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	_, err := m.Add(ctx, metadata.IndexRecord{Name: "products"})
	require.NoError(t, err)
	handle := HandleMessage(m)

	tests := []struct {
		name  string
		value []byte
	}{
		{"not json", []byte("{")},
		{"missing data", encode(t, Event{Index: "products", Name: "x", Type: "json"})},
		{"unknown type", encode(t, Event{Index: "products", Name: "x", Type: "yaml", Data: "a: b"})},
		{"unknown index", encode(t, Event{Index: "missing", Name: "x", Type: "json", Data: "{}"})},
		{"bad base64", encode(t, Event{Index: "products", Name: "x", Type: "json", Data: "!!", Base64: true})},
		{"parse error", encode(t, Event{Index: "products", Name: "x", Type: "json", Data: "{", Parse: true})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handle(ctx, nil, tt.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, kafka.ErrPoison)
		})
	}

	value := encode(t, Event{Index: "products", GUID: "dup", Name: "x", Type: "json", Data: `{"a":1}`})
	require.NoError(t, handle(ctx, nil, value))
	assert.ErrorIs(t, handle(ctx, nil, value), kafka.ErrPoison)
}

func TestValidateCollectsFields(t *testing.T) {
	e := Event{Type: "yaml"}
	err := e.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "index")
	assert.Contains(t, verr.Fields, "data")
	assert.Contains(t, verr.Fields, "type")
}
