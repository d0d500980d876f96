package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/komodo-search/komodo/internal/parser"
)

// Condition is the comparison a Filter applies.
type Condition string

const (
	Contains             Condition = "Contains"
	ContainsNot          Condition = "ContainsNot"
	StartsWith           Condition = "StartsWith"
	EndsWith             Condition = "EndsWith"
	Equals               Condition = "Equals"
	NotEquals            Condition = "NotEquals"
	GreaterThan          Condition = "GreaterThan"
	GreaterThanOrEqualTo Condition = "GreaterThanOrEqualTo"
	LessThan             Condition = "LessThan"
	LessThanOrEqualTo    Condition = "LessThanOrEqualTo"
	IsNull               Condition = "IsNull"
	IsNotNull            Condition = "IsNotNull"
)

var conditions = []Condition{
	Contains, ContainsNot, StartsWith, EndsWith, Equals, NotEquals,
	GreaterThan, GreaterThanOrEqualTo, LessThan, LessThanOrEqualTo,
	IsNull, IsNotNull,
}

// ParseCondition matches a condition name case-insensitively.
func ParseCondition(s string) (Condition, error) {
	for _, c := range conditions {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown condition %q", s)
}

func (c Condition) valid() bool {
	for _, known := range conditions {
		if c == known {
			return true
		}
	}
	return false
}

// Filter is one field predicate.
type Filter struct {
	Field     string    `json:"field"`
	Condition Condition `json:"condition"`
	Value     string    `json:"value,omitempty"`
}

func (f Filter) validate() error {
	if strings.TrimSpace(f.Field) == "" {
		return fmt.Errorf("filter field is required")
	}
	if !f.Condition.valid() {
		return fmt.Errorf("unknown condition %q on field %s", f.Condition, f.Field)
	}
	return nil
}

// fieldValue is the value a filter is evaluated against. A missing field
// and an explicit null are both null.
type fieldValue struct {
	text string
	kind parser.ValueKind
	null bool
}

func nullValue() fieldValue { return fieldValue{null: true, kind: parser.KindNull} }

func nodeValue(n parser.DataNode) fieldValue {
	if n.Kind == parser.KindNull {
		return nullValue()
	}
	return fieldValue{text: n.Value, kind: n.Kind}
}

// match evaluates the filter against a single value. Null values satisfy
// only IsNull, NotEquals and ContainsNot.
func (f Filter) match(v fieldValue) bool {
	switch f.Condition {
	case IsNull:
		return v.null
	case IsNotNull:
		return !v.null
	}
	if v.null {
		return f.Condition == NotEquals || f.Condition == ContainsNot
	}

	left := strings.ToLower(v.text)
	right := strings.ToLower(f.Value)
	switch f.Condition {
	case Contains:
		return strings.Contains(left, right)
	case ContainsNot:
		return !strings.Contains(left, right)
	case StartsWith:
		return strings.HasPrefix(left, right)
	case EndsWith:
		return strings.HasSuffix(left, right)
	case Equals:
		return compare(v, f.Value) == 0
	case NotEquals:
		return compare(v, f.Value) != 0
	case GreaterThan:
		return compare(v, f.Value) > 0
	case GreaterThanOrEqualTo:
		return compare(v, f.Value) >= 0
	case LessThan:
		return compare(v, f.Value) < 0
	case LessThanOrEqualTo:
		return compare(v, f.Value) <= 0
	default:
		return false
	}
}

// compare orders a value against the filter operand: numerically when both
// parse as numbers, chronologically when both parse as RFC 3339
// timestamps, and case-insensitively by text otherwise.
func compare(v fieldValue, operand string) int {
	if a, ok := parseNumber(v.text); ok {
		if b, ok := parseNumber(operand); ok {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		}
	}
	if a, err := time.Parse(time.RFC3339Nano, v.text); err == nil {
		if b, err := time.Parse(time.RFC3339Nano, operand); err == nil {
			return a.Compare(b)
		}
	}
	return strings.Compare(strings.ToLower(v.text), strings.ToLower(operand))
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

// matchNodes evaluates the filter against a flattened document.
func (f Filter) matchNodes(r *parser.Result) bool {
	n, ok := r.Node(f.Field)
	if !ok {
		return f.match(nullValue())
	}
	return f.match(nodeValue(n))
}
