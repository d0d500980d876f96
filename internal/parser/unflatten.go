package parser

import (
	"fmt"
	"strconv"
	"strings"
)

type segment struct {
	key   string
	index int
	isIdx bool
}

// splitPath reads the path syntax written by the flatteners: names
// separated by dots, [n] array indices and ["..."] quoted object keys.
func splitPath(path string) ([]segment, error) {
	var segs []segment
	for i := 0; i < len(path); {
		switch path[i] {
		case '.':
			i++
		case '[':
			rest := path[i+1:]
			if strings.HasPrefix(rest, `"`) {
				quoted, err := strconv.QuotedPrefix(rest)
				if err != nil || !strings.HasPrefix(rest[len(quoted):], "]") {
					return nil, fmt.Errorf("bad quoted key in %q", path)
				}
				key, _ := strconv.Unquote(quoted)
				segs = append(segs, segment{key: key})
				i += 1 + len(quoted) + 1
				continue
			}
			closing := strings.IndexByte(rest, ']')
			if closing < 0 {
				return nil, fmt.Errorf("unterminated index in %q", path)
			}
			n, err := strconv.Atoi(rest[:closing])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("bad index in %q", path)
			}
			segs = append(segs, segment{index: n, isIdx: true})
			i += 1 + closing + 1
		default:
			end := strings.IndexAny(path[i:], ".[")
			if end < 0 {
				end = len(path) - i
			}
			segs = append(segs, segment{key: path[i : i+end]})
			i += end
		}
	}
	return segs, nil
}

// Unflatten rebuilds a nested value from DataNodes whose keys follow the
// dotted/bracketed path syntax. Objects become map[string]any, arrays
// []any, numbers float64.
func Unflatten(nodes []DataNode) (any, error) {
	var root any
	for _, n := range nodes {
		segs, err := splitPath(n.Key)
		if err != nil {
			return nil, err
		}
		val, err := nodeValue(n)
		if err != nil {
			return nil, err
		}
		root, err = insert(root, segs, val)
		if err != nil {
			return nil, fmt.Errorf("inserting %q: %w", n.Key, err)
		}
	}
	return root, nil
}

func nodeValue(n DataNode) (any, error) {
	switch n.Kind {
	case KindNumber:
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number at %q: %w", n.Key, err)
		}
		return f, nil
	case KindBool:
		return n.Value == "true", nil
	case KindNull:
		return nil, nil
	case KindObject:
		return map[string]any{}, nil
	case KindArray:
		return []any{}, nil
	default:
		return n.Value, nil
	}
}

func insert(cur any, segs []segment, val any) (any, error) {
	if len(segs) == 0 {
		return val, nil
	}
	s := segs[0]
	if s.isIdx {
		arr, ok := cur.([]any)
		if cur != nil && !ok {
			return nil, fmt.Errorf("expected array")
		}
		for len(arr) <= s.index {
			arr = append(arr, nil)
		}
		child, err := insert(arr[s.index], segs[1:], val)
		if err != nil {
			return nil, err
		}
		arr[s.index] = child
		return arr, nil
	}
	obj, ok := cur.(map[string]any)
	if cur != nil && !ok {
		return nil, fmt.Errorf("expected object")
	}
	if obj == nil {
		obj = make(map[string]any)
	}
	child, err := insert(obj[s.key], segs[1:], val)
	if err != nil {
		return nil, err
	}
	obj[s.key] = child
	return obj, nil
}
