package parser

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// attributes captured as nodes on any element, in emission order
var htmlAttrs = []string{"id", "class", "lang", "href", "src", "alt"}

// ParseHTML strips markup, keeping visible text as the "content" node and
// metadata (title, meta tags, selected attributes) as extra nodes. It is
// best-effort: broken markup yields fewer nodes, never an error.
func ParseHTML(data []byte, source string) (*Result, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, parseErr(source, "empty input")
	}
	z := html.NewTokenizer(bytes.NewReader(data))
	b := newBuilder(TypeHTML, source)

	var (
		visible  strings.Builder
		title    strings.Builder
		skip     int
		inTitle  bool
		tagCount = make(map[string]int)
		metas    []DataNode
		attrs    []DataNode
	)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			tag := string(name)
			if tt == html.StartTagToken {
				switch a {
				case atom.Script, atom.Style, atom.Noscript, atom.Template:
					skip++
				case atom.Title:
					inTitle = true
				}
			}
			if !hasAttr {
				continue
			}
			kv := readAttrs(z)
			if a == atom.Meta {
				key := kv["name"]
				if key == "" {
					key = kv["property"]
				}
				if key == "" {
					key = kv["http-equiv"]
				}
				if key != "" {
					metas = append(metas, DataNode{Key: "meta." + strings.ToLower(key), Value: kv["content"], Kind: KindString})
				} else if cs, ok := kv["charset"]; ok {
					metas = append(metas, DataNode{Key: "meta.charset", Value: cs, Kind: KindString})
				}
				continue
			}
			idx := -1
			for _, k := range htmlAttrs {
				if _, ok := kv[k]; !ok {
					continue
				}
				if idx < 0 {
					idx = tagCount[tag]
					tagCount[tag]++
				}
				attrs = append(attrs, DataNode{Key: indexKey(tag, idx) + ".@" + k, Value: kv[k], Kind: KindString})
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				if skip > 0 {
					skip--
				}
			case atom.Title:
				inTitle = false
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			if inTitle {
				appendSpaced(&title, text)
				continue
			}
			appendSpaced(&visible, text)
		}
	}

	if title.Len() > 0 {
		b.add("title", title.String(), KindString)
	}
	for _, n := range metas {
		b.add(n.Key, n.Value, n.Kind)
	}
	b.nodes = append(b.nodes, attrs...)
	if visible.Len() > 0 {
		b.add("content", visible.String(), KindString)
	}
	return b.result(), nil
}

func readAttrs(z *html.Tokenizer) map[string]string {
	kv := make(map[string]string)
	for {
		k, v, more := z.TagAttr()
		kv[strings.ToLower(string(k))] = string(v)
		if !more {
			break
		}
	}
	return kv
}

func appendSpaced(sb *strings.Builder, s string) {
	if sb.Len() > 0 {
		sb.WriteByte(' ')
	}
	sb.WriteString(s)
}
