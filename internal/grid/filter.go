// filter.go - Filter definition, validation and row matching.
//
// One filter per column, keyed by column name; activating a filter for a
// column replaces that column's previous filter. Operators are type-aware:
// contains/eq/ne for strings (contains is case-insensitive, equality exact),
// eq/ne/gt/ge/lt/le/between for numbers, true/false for booleans. A cleared
// boolean filter is the tri-state "all".
package grid

import (
	"errors"
	"fmt"
	"strings"
)

// Op is a filter operator.
type Op string

const (
	OpContains  Op = "contains"
	OpEquals    Op = "eq"
	OpNotEquals Op = "ne"
	OpGreater   Op = "gt"
	OpGreaterEq Op = "ge"
	OpLess      Op = "lt"
	OpLessEq    Op = "le"
	OpBetween   Op = "between"
	OpIsTrue    Op = "true"
	OpIsFalse   Op = "false"
)

// Errors callers branch on.
var (
	ErrUnknownColumn = errors.New("unknown column")
	ErrUnknownOp     = errors.New("unknown operator")
)

// ParseOp normalizes a wire/CLI operator string.
func ParseOp(s string) (Op, error) {
	switch Op(strings.ToLower(strings.TrimSpace(s))) {
	case OpContains:
		return OpContains, nil
	case OpEquals, "==", "=":
		return OpEquals, nil
	case OpNotEquals, "!=", "<>":
		return OpNotEquals, nil
	case OpGreater, ">":
		return OpGreater, nil
	case OpGreaterEq, ">=":
		return OpGreaterEq, nil
	case OpLess, "<":
		return OpLess, nil
	case OpLessEq, "<=":
		return OpLessEq, nil
	case OpBetween:
		return OpBetween, nil
	case OpIsTrue:
		return OpIsTrue, nil
	case OpIsFalse:
		return OpIsFalse, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOp, s)
}

// Filter is one active per-column predicate. Text carries the string
// operand; Number (and Upper for between) carry the numeric operands.
type Filter struct {
	Column string  `json:"column"`
	Op     Op      `json:"op"`
	Text   string  `json:"text,omitempty"`
	Number float64 `json:"number,omitempty"`
	Upper  float64 `json:"upper,omitempty"`
}

// Validate checks the operator against the column kind and the operand
// shape. It does not look at any data.
func (f Filter) Validate(kind Kind) error {
	switch kind {
	case KindString:
		switch f.Op {
		case OpContains, OpEquals, OpNotEquals:
			return nil
		}
	case KindNumber:
		switch f.Op {
		case OpEquals, OpNotEquals, OpGreater, OpGreaterEq, OpLess, OpLessEq:
			return nil
		case OpBetween:
			if f.Number > f.Upper {
				return fmt.Errorf("between bounds reversed: %v > %v", f.Number, f.Upper)
			}
			return nil
		}
	case KindBool:
		switch f.Op {
		case OpIsTrue, OpIsFalse:
			return nil
		}
	case KindTime:
		return fmt.Errorf("column %q is a time column and takes no filters", f.Column)
	}
	return fmt.Errorf("operator %q does not apply to %s column %q", f.Op, kind, f.Column)
}

// matches reports whether the row passes the filter under the given column.
func matches[T any](row T, col Column[T], f Filter) bool {
	switch col.Kind {
	case KindString:
		var v string
		if col.String != nil {
			v = col.String(row)
		}
		switch f.Op {
		case OpContains:
			return strings.Contains(strings.ToLower(v), strings.ToLower(f.Text))
		case OpEquals:
			return v == f.Text
		case OpNotEquals:
			return v != f.Text
		}
	case KindNumber:
		var v float64
		if col.Number != nil {
			v = col.Number(row)
		}
		switch f.Op {
		case OpEquals:
			return v == f.Number
		case OpNotEquals:
			return v != f.Number
		case OpGreater:
			return v > f.Number
		case OpGreaterEq:
			return v >= f.Number
		case OpLess:
			return v < f.Number
		case OpLessEq:
			return v <= f.Number
		case OpBetween:
			return v >= f.Number && v <= f.Upper
		}
	case KindBool:
		var v bool
		if col.Bool != nil {
			v = col.Bool(row)
		}
		switch f.Op {
		case OpIsTrue:
			return v
		case OpIsFalse:
			return !v
		}
	}
	return false
}
