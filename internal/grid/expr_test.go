package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterExpr_Numbers(t *testing.T) {
	col := ColumnSpec{Name: "cpu_ms", Kind: KindNumber}

	tests := []struct {
		name string
		expr string
		want Filter
	}{
		{name: "bare value means equals", expr: "500",
			want: Filter{Column: "cpu_ms", Op: OpEquals, Number: 500}},
		{name: "greater", expr: ">500",
			want: Filter{Column: "cpu_ms", Op: OpGreater, Number: 500}},
		{name: "greater equal with space", expr: ">= 10.5",
			want: Filter{Column: "cpu_ms", Op: OpGreaterEq, Number: 10.5}},
		{name: "less equal", expr: "<=3",
			want: Filter{Column: "cpu_ms", Op: OpLessEq, Number: 3}},
		{name: "not equal", expr: "!=0",
			want: Filter{Column: "cpu_ms", Op: OpNotEquals, Number: 0}},
		{name: "sql not equal", expr: "<>0",
			want: Filter{Column: "cpu_ms", Op: OpNotEquals, Number: 0}},
		{name: "range", expr: "100,1000",
			want: Filter{Column: "cpu_ms", Op: OpBetween, Number: 100, Upper: 1000}},
		{name: "range with spaces", expr: " 5 , 20 ",
			want: Filter{Column: "cpu_ms", Op: OpBetween, Number: 5, Upper: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilterExpr(col, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFilterExpr_Strings(t *testing.T) {
	col := ColumnSpec{Name: "database", Kind: KindString}

	tests := []struct {
		name string
		expr string
		want Filter
	}{
		{name: "bare text means contains", expr: "orders",
			want: Filter{Column: "database", Op: OpContains, Text: "orders"}},
		{name: "exact", expr: "=orders",
			want: Filter{Column: "database", Op: OpEquals, Text: "orders"}},
		{name: "not equal", expr: "!=tempdb",
			want: Filter{Column: "database", Op: OpNotEquals, Text: "tempdb"}},
		{name: "contains keeps inner spaces", expr: "order by",
			want: Filter{Column: "database", Op: OpContains, Text: "order by"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilterExpr(col, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFilterExpr_Bools(t *testing.T) {
	col := ColumnSpec{Name: "forced_plan", Kind: KindBool}

	for _, expr := range []string{"true", "yes", "Y", "1"} {
		got, err := ParseFilterExpr(col, expr)
		require.NoError(t, err, expr)
		assert.Equal(t, OpIsTrue, got.Op, expr)
	}
	for _, expr := range []string{"false", "no", "N", "0"} {
		got, err := ParseFilterExpr(col, expr)
		require.NoError(t, err, expr)
		assert.Equal(t, OpIsFalse, got.Op, expr)
	}
}

func TestParseFilterExpr_Errors(t *testing.T) {
	tests := []struct {
		name      string
		col       ColumnSpec
		expr      string
		errSubstr string
	}{
		{name: "empty", col: ColumnSpec{Name: "host", Kind: KindString},
			expr: "   ", errSubstr: "empty filter"},
		{name: "not a number", col: ColumnSpec{Name: "cpu_ms", Kind: KindNumber},
			expr: ">fast", errSubstr: "not a number"},
		{name: "bad range bound", col: ColumnSpec{Name: "cpu_ms", Kind: KindNumber},
			expr: "10,plenty", errSubstr: "not a number"},
		{name: "reversed range", col: ColumnSpec{Name: "cpu_ms", Kind: KindNumber},
			expr: "100,10", errSubstr: "bounds reversed"},
		{name: "ordering op on string", col: ColumnSpec{Name: "host", Kind: KindString},
			expr: ">aaa", errSubstr: "does not apply"},
		{name: "bad bool", col: ColumnSpec{Name: "forced_plan", Kind: KindBool},
			expr: "maybe", errSubstr: "yes or no"},
		{name: "time column", col: ColumnSpec{Name: "seen", Kind: KindTime},
			expr: "2026", errSubstr: "time column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilterExpr(tt.col, tt.expr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}
