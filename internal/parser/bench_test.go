package parser

import (
	"fmt"
	"strings"
	"testing"
)

var benchInputs = map[DocumentType][]byte{
	TypeJSON: []byte(`{"store":{"name":"Corner Books","books":[` + strings.TrimSuffix(strings.Repeat(`{"title":"Distributed search engines","price":12.5,"tags":["search","index"]},`, 50), ",") + `]}}`),
	TypeXML:  []byte(`<catalog>` + strings.Repeat(`<book id="b"><title>Information retrieval</title><price>10</price></book>`, 50) + `</catalog>`),
	TypeHTML: []byte(`<html><head><title>Search</title><meta name="description" content="inverted index"></head><body>` +
		strings.Repeat(`<p>Caching layers reduce latency for <a href="/q">repeated queries</a>.</p>`, 50) + `</body></html>`),
	TypeText: []byte(strings.Repeat("The inverted index maps each term to the documents containing it. ", 50)),
}

func BenchmarkParse(b *testing.B) {
	for typ, data := range benchInputs {
		b.Run(fmt.Sprint(typ), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(data)))
			for i := 0; i < b.N; i++ {
				if _, err := Parse(data, typ, "bench"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
