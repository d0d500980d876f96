package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/komodo-search/komodo/pkg/errors"
)

func keys(nodes []DataNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Key
	}
	return out
}

func TestParseJSONFlattensInDocumentOrder(t *testing.T) {
	doc := `{"product":"kettle","review":"great kettle works well","specs":{"watts":1500,"colors":["red","steel"]},"stock":null,"active":true}`
	res, err := Parse([]byte(doc), TypeJSON, "d1.json")
	require.NoError(t, err)

	assert.Equal(t, TypeJSON, res.Type)
	assert.Equal(t, []string{
		"product", "review", "specs.watts", "specs.colors[0]", "specs.colors[1]", "stock", "active",
	}, keys(res.Flattened))
	assert.Equal(t, 2, res.Tokens["kettle"])
	assert.Equal(t, 1, res.Tokens["great"])

	watts, ok := res.Node("specs.watts")
	require.True(t, ok)
	assert.Equal(t, KindNumber, watts.Kind)
	assert.Equal(t, "1500", watts.Value)

	stock, _ := res.Node("stock")
	assert.Equal(t, KindNull, stock.Kind)
}

func TestParseJSONRoundTrip(t *testing.T) {
	docs := []string{
		`{"a":{"b":[1,2,{"c":"x"}],"d":{}},"e":[],"f":false,"g":null}`,
		`[{"id":1,"tags":["x","y"]},{"id":2,"tags":[]}]`,
		`{"nested":[[1,2],[3,[4,5]]]}`,
		`"just a string"`,
		`{"a.b":"one","a":{"b":"two"}}`,
		`{"x[0]":1,"q\"uote":{"":"empty"},"list":[{"k.v":[true]}]}`,
	}
	for _, doc := range docs {
		res, err := ParseJSON([]byte(doc), "")
		require.NoError(t, err, doc)

		rebuilt, err := Unflatten(res.Flattened)
		require.NoError(t, err, doc)

		var want any
		require.NoError(t, json.Unmarshal([]byte(doc), &want))
		assert.Equal(t, want, rebuilt, doc)
	}
}

func TestParseJSONQuotesAmbiguousKeys(t *testing.T) {
	res, err := ParseJSON([]byte(`{"a.b":"one","a":{"b":"two"},"c":{"[d]":3}}`), "")
	require.NoError(t, err)
	assert.Equal(t, []string{`["a.b"]`, "a.b", `c["[d]"]`}, keys(res.Flattened))

	dotted, ok := res.Node(`["a.b"]`)
	require.True(t, ok)
	assert.Equal(t, "one", dotted.Value)
	nested, ok := res.Node("a.b")
	require.True(t, ok)
	assert.Equal(t, "two", nested.Value)
}

func TestUnflattenRejectsBrokenPaths(t *testing.T) {
	for _, key := range []string{`a["b]`, `a[1`, `a[-1]`, `a["b"`} {
		_, err := Unflatten([]DataNode{{Key: key, Value: "v", Kind: KindString}})
		assert.Error(t, err, key)
	}
}

func TestParseJSONRejectsInvalid(t *testing.T) {
	for _, doc := range []string{`{"a":`, `{"a":1}}`, `[1,2`, `{"a" 1}`} {
		_, err := Parse([]byte(doc), TypeJSON, "bad.json")
		require.Error(t, err, doc)
		assert.Equal(t, apperrors.IDParseError, apperrors.IDOf(err))
		assert.Contains(t, err.Error(), "bad.json")
	}
}

func TestParseEmptyInput(t *testing.T) {
	for _, typ := range []DocumentType{TypeJSON, TypeXML, TypeHTML, TypeSQL, TypeText} {
		_, err := Parse([]byte("  \n"), typ, "")
		require.Error(t, err, typ)
		assert.Equal(t, apperrors.IDParseError, apperrors.IDOf(err))
	}
}

func TestParseUnknownType(t *testing.T) {
	_, err := Parse([]byte("x"), TypeUnknown, "")
	assert.Equal(t, apperrors.IDParseError, apperrors.IDOf(err))
}

func TestParseXML(t *testing.T) {
	doc := `<?xml version="1.0"?>
<library name="central">
  <book id="1"><title>Go Programming</title><year>2015</year></book>
  <book id="2"><title>Search Engines</title><year>2009</year></book>
  <note>open <b>daily</b></note>
</library>`
	res, err := Parse([]byte(doc), TypeXML, "lib.xml")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"library.@name",
		"library.book[0].@id", "library.book[0].title", "library.book[0].year",
		"library.book[1].@id", "library.book[1].title", "library.book[1].year",
		"library.note.#text", "library.note.b",
	}, keys(res.Flattened))

	title, _ := res.Node("library.book[1].title")
	assert.Equal(t, "Search Engines", title.Value)
	assert.Equal(t, 1, res.Tokens["go"])

	rebuilt, err := Unflatten(res.Flattened)
	require.NoError(t, err)
	lib := rebuilt.(map[string]any)["library"].(map[string]any)
	books := lib["book"].([]any)
	assert.Equal(t, "2009", books[1].(map[string]any)["year"])
	assert.Equal(t, "central", lib["@name"])
}

func TestParseXMLInvalid(t *testing.T) {
	for _, doc := range []string{`<a><b></a>`, `<a>`, `just text`, `<a/><b/>`} {
		_, err := Parse([]byte(doc), TypeXML, "")
		assert.Error(t, err, doc)
	}
}

func TestParseHTML(t *testing.T) {
	doc := `<html lang="en"><head><title>Kettle Review</title>
<meta name="Author" content="Pat"><meta charset="utf-8">
<style>.x{color:red}</style><script>var hidden = "secret";</script></head>
<body><h1 id="top">Great kettle</h1><p>Boils <b>fast</b> &amp; quiet.</p>
<a href="/more">more</a></body></html>`
	res, err := Parse([]byte(doc), TypeHTML, "")
	require.NoError(t, err)

	title, ok := res.Node("title")
	require.True(t, ok)
	assert.Equal(t, "Kettle Review", title.Value)

	author, ok := res.Node("meta.author")
	require.True(t, ok)
	assert.Equal(t, "Pat", author.Value)

	href, ok := res.Node("a[0].@href")
	require.True(t, ok)
	assert.Equal(t, "/more", href.Value)

	content, ok := res.Node("content")
	require.True(t, ok)
	assert.Equal(t, "Great kettle Boils fast & quiet. more", content.Value)
	assert.NotContains(t, res.Content, "secret")
	assert.NotContains(t, res.Content, "color")
}

func TestParseHTMLMalformedDoesNotFail(t *testing.T) {
	res, err := Parse([]byte(`<div><p>unclosed <b>bold <i>text`), TypeHTML, "")
	require.NoError(t, err)
	content, ok := res.Node("content")
	require.True(t, ok)
	assert.Equal(t, "unclosed bold text", content.Value)
}

func TestParseSQLRowObjects(t *testing.T) {
	doc := `[{"id":1,"name":"kettle","price":19.5,"meta":{"a":1}},{"id":2,"name":"toaster","price":null,"meta":[1]}]`
	res, err := Parse([]byte(doc), TypeSQL, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"0.id", "0.name", "0.price", "0.meta",
		"1.id", "1.name", "1.price", "1.meta",
	}, keys(res.Flattened))
	price, _ := res.Node("1.price")
	assert.Equal(t, KindNull, price.Kind)
	meta, _ := res.Node("0.meta")
	assert.Equal(t, `{"a":1}`, meta.Value)
}

func TestParseSQLTabular(t *testing.T) {
	doc := `{"columns":["id","name"],"rows":[[1,"kettle"],[2,"toaster"]]}`
	res, err := Parse([]byte(doc), TypeSQL, "")
	require.NoError(t, err)
	name, ok := res.Node("1.name")
	require.True(t, ok)
	assert.Equal(t, "toaster", name.Value)

	_, err = Parse([]byte(`{"columns":["id"],"rows":[[1,2]]}`), TypeSQL, "")
	assert.Error(t, err)
}

func TestParseText(t *testing.T) {
	res, err := Parse([]byte("Hello hello World"), TypeText, "")
	require.NoError(t, err)
	assert.Len(t, res.Flattened, 1)
	assert.Equal(t, "content", res.Flattened[0].Key)
	assert.Equal(t, 2, res.Tokens["hello"])
	assert.False(t, res.SupportsFilters())
}

func TestResultMarshalRoundTrip(t *testing.T) {
	res, err := Parse([]byte(`{"a":"b c"}`), TypeJSON, "x")
	require.NoError(t, err)
	data, err := res.Marshal()
	require.NoError(t, err)
	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, res, back)
}

func TestParseDocumentType(t *testing.T) {
	assert.Equal(t, TypeJSON, ParseDocumentType("JSON"))
	assert.Equal(t, TypeHTML, ParseDocumentType("htm"))
	assert.Equal(t, TypeUnknown, ParseDocumentType("pdf"))
}
