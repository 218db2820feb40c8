// expr.go - Compact per-column filter expressions for interactive surfaces.
package grid

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFilterExpr builds a filter on col from a compact expression, the
// grammar the dashboard filter prompt speaks. Number columns take a leading
// operator (">500", "<=10"), a bare value ("3" means equals) or a "low,high"
// range. String columns take "=exact", "!=other" or bare text, which means
// contains. Boolean columns take yes/no forms.
func ParseFilterExpr(col ColumnSpec, expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, fmt.Errorf("empty filter for column %q", col.Name)
	}

	f := Filter{Column: col.Name}
	op, rest := splitLeadingOp(expr)

	switch col.Kind {
	case KindNumber:
		switch {
		case op != "":
			parsed, err := ParseOp(op)
			if err != nil {
				return Filter{}, err
			}
			f.Op = parsed
			n, err := parseNumber(rest)
			if err != nil {
				return Filter{}, err
			}
			f.Number = n
		case strings.Contains(expr, ","):
			lo, hi, _ := strings.Cut(expr, ",")
			f.Op = OpBetween
			var err error
			if f.Number, err = parseNumber(lo); err != nil {
				return Filter{}, err
			}
			if f.Upper, err = parseNumber(hi); err != nil {
				return Filter{}, err
			}
		default:
			f.Op = OpEquals
			n, err := parseNumber(expr)
			if err != nil {
				return Filter{}, err
			}
			f.Number = n
		}

	case KindBool:
		switch strings.ToLower(expr) {
		case "true", "yes", "y", "1":
			f.Op = OpIsTrue
		case "false", "no", "n", "0":
			f.Op = OpIsFalse
		default:
			return Filter{}, fmt.Errorf("boolean column %q wants yes or no, got %q", col.Name, expr)
		}

	default:
		switch op {
		case "=", "==":
			f.Op = OpEquals
			f.Text = strings.TrimSpace(rest)
		case "!=", "<>":
			f.Op = OpNotEquals
			f.Text = strings.TrimSpace(rest)
		case "":
			f.Op = OpContains
			f.Text = expr
		default:
			return Filter{}, fmt.Errorf("operator %q does not apply to %s column %q", op, col.Kind, col.Name)
		}
	}

	if err := f.Validate(col.Kind); err != nil {
		return Filter{}, err
	}
	return f, nil
}

// splitLeadingOp peels a comparison operator off the front of the
// expression. Two-character operators are matched first so ">=" never reads
// as ">" plus "=5".
func splitLeadingOp(expr string) (op, rest string) {
	for _, cand := range []string{">=", "<=", "!=", "<>", "==", ">", "<", "="} {
		if strings.HasPrefix(expr, cand) {
			return cand, expr[len(cand):]
		}
	}
	return "", expr
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	return n, nil
}
