package postings

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/komodo-search/komodo/internal/parser"
)

func TestTokenizeAppliesPolicy(t *testing.T) {
	tokens := Tokenize("The quick-brown fox, a FOX! x 42", DefaultOptions())
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
		assert.Equal(t, i, tok.Position)
	}
	assert.Equal(t, []string{"quick", "brown", "fox", "fox", "42"}, terms)
}

func TestTokenizeCaseSensitive(t *testing.T) {
	opts := NewOptions(3, true, []string{})
	tokens := Tokenize("Go Gopher gopher", opts)
	require.Len(t, tokens, 2)
	assert.Equal(t, "Gopher", tokens[0].Term)
	assert.Equal(t, "gopher", tokens[1].Term)
}

func TestGenerateFrequenciesAndPositions(t *testing.T) {
	res, err := parser.Parse([]byte(`{"product":"kettle","review":"great kettle works well"}`), parser.TypeJSON, "")
	require.NoError(t, err)

	out := Generate(res, DefaultOptions())
	require.Contains(t, out.Terms, "kettle")
	assert.Equal(t, 2, out.Terms["kettle"].Frequency)
	assert.Equal(t, []int{0, 2}, out.Terms["kettle"].Positions)
	assert.Equal(t, 4, out.TermCount)
	assert.Equal(t, 5, out.PostingCount)
	assert.Equal(t, []string{"great", "kettle", "well", "works"}, out.SortedTerms())
}

func TestGenerateDeterministic(t *testing.T) {
	text := strings.Repeat("alpha beta gamma alpha delta beta ", 50)
	res, err := parser.Parse([]byte(text), parser.TypeText, "")
	require.NoError(t, err)

	a := Generate(res, DefaultOptions())
	b := Generate(res, DefaultOptions())
	assert.Equal(t, a, b)

	now := time.Unix(1700000000, 0).UTC()
	da, err := NewDocument("d", a, now).Marshal()
	require.NoError(t, err)
	db, err := NewDocument("d", b, now).Marshal()
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestGenerateNilResult(t *testing.T) {
	out := Generate(nil, DefaultOptions())
	assert.Empty(t, out.Terms)
	assert.Zero(t, out.PostingCount)
}

func TestDocumentRoundTrip(t *testing.T) {
	res, err := parser.Parse([]byte("one two two"), parser.TypeText, "")
	require.NoError(t, err)
	doc := NewDocument("doc-1", Generate(res, DefaultOptions()), time.Unix(0, 0).UTC())
	data, err := doc.Marshal()
	require.NoError(t, err)

	back, err := UnmarshalDocument(data)
	require.NoError(t, err)
	assert.Equal(t, 2, back.Frequency("two"))
	assert.Equal(t, 0, back.Frequency("three"))
	assert.Equal(t, []int{1, 2}, back.Postings["two"].Positions)
}

func BenchmarkTokenize(b *testing.B) {
	text := strings.Repeat(`Information retrieval systems form the backbone of modern search
        infrastructure. The inverted index maps each term to the documents containing it. `, 20)
	opts := DefaultOptions()
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	for i := 0; i < b.N; i++ {
		_ = Tokenize(text, opts)
	}
}
