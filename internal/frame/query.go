package frame

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Row is a read-only view of one row, passed to Where predicates.
type Row struct {
	f *Frame
	i int
}

// Index returns the row position within its frame.
func (r Row) Index() int { return r.i }

// Get returns the raw cell text of the named column.
func (r Row) Get(col string) string { return r.f.Col(col).raw[r.i] }

// Float returns the numeric cell of the named column, NaN when missing.
func (r Row) Float(col string) float64 { return r.f.Col(col).Float(r.i) }

// Filter keeps rows where the column compares true against value. Supported
// operators are ==, !=, >, >=, <, <= and contains. Numeric columns compare
// numerically when value parses as a number; otherwise comparison is textual.
func (f *Frame) Filter(col, op, value string) *Frame {
	c := f.Col(col)
	cmp, err := comparator(op)
	if err != nil {
		panic(err)
	}
	want, numeric := 0.0, false
	if c.kind == KindNumeric {
		want, numeric = parseNumeric(value, ParseOptions{})
	}
	var idx []int
	for i := 0; i < f.rows; i++ {
		if op == "contains" {
			if strings.Contains(strings.ToLower(c.raw[i]), strings.ToLower(value)) {
				idx = append(idx, i)
			}
			continue
		}
		if numeric {
			v, ok := c.valueOK(i)
			if !ok {
				continue
			}
			if cmp(compareFloat(v, want)) {
				idx = append(idx, i)
			}
			continue
		}
		if cmp(strings.Compare(c.raw[i], value)) {
			idx = append(idx, i)
		}
	}
	return f.take(idx)
}

func comparator(op string) (func(int) bool, error) {
	switch op {
	case "==", "=":
		return func(c int) bool { return c == 0 }, nil
	case "!=":
		return func(c int) bool { return c != 0 }, nil
	case ">":
		return func(c int) bool { return c > 0 }, nil
	case ">=":
		return func(c int) bool { return c >= 0 }, nil
	case "<":
		return func(c int) bool { return c < 0 }, nil
	case "<=":
		return func(c int) bool { return c <= 0 }, nil
	case "contains":
		return nil, nil
	}
	return nil, &QueryError{Op: "Filter", Msg: fmt.Sprintf("unknown operator %q (want ==, !=, >, >=, <, <=, contains)", op)}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Where keeps rows for which keep returns true.
func (f *Frame) Where(keep func(Row) bool) *Frame {
	var idx []int
	for i := 0; i < f.rows; i++ {
		if keep(Row{f: f, i: i}) {
			idx = append(idx, i)
		}
	}
	return f.take(idx)
}

// SortBy orders rows by the named column. Missing cells always sort last.
// The sort is stable.
func (f *Frame) SortBy(col string, ascending bool) *Frame {
	c := f.Col(col)
	idx := seq(0, f.rows)
	less := func(a, b int) bool {
		ma, mb := c.raw[a] == "", c.raw[b] == ""
		if ma || mb {
			return !ma && mb
		}
		var r int
		if c.kind == KindNumeric {
			va, oka := c.valueOK(a)
			vb, okb := c.valueOK(b)
			if oka != okb {
				return oka
			}
			r = compareFloat(va, vb)
		} else {
			r = strings.Compare(c.raw[a], c.raw[b])
		}
		if ascending {
			return r < 0
		}
		return r > 0
	}
	sort.SliceStable(idx, func(i, j int) bool { return less(idx[i], idx[j]) })
	return f.take(idx)
}

// Grouped is the result of GroupBy. Keys of multi-column groups are joined with " / ".
type Grouped struct {
	f      *Frame
	by     []string
	keys   []string
	groups map[string][]int
}

// GroupBy partitions rows by the values of one or more columns. Rows with a
// missing key cell are grouped under "(missing)".
func (f *Frame) GroupBy(cols ...string) *Grouped {
	if len(cols) == 0 {
		panic(&QueryError{Op: "GroupBy", Msg: "at least one column is required"})
	}
	keyCols := make([]*Column, len(cols))
	for i, n := range cols {
		keyCols[i] = f.Col(n)
	}
	g := &Grouped{f: f, by: cols, groups: make(map[string][]int)}
	parts := make([]string, len(keyCols))
	for i := 0; i < f.rows; i++ {
		for j, c := range keyCols {
			v := c.raw[i]
			if v == "" {
				v = "(missing)"
			}
			parts[j] = v
		}
		k := strings.Join(parts, " / ")
		if _, seen := g.groups[k]; !seen {
			g.keys = append(g.keys, k)
		}
		g.groups[k] = append(g.groups[k], i)
	}
	sort.Strings(g.keys)
	return g
}

// Keys returns the group keys in sorted order.
func (g *Grouped) Keys() []string {
	out := make([]string, len(g.keys))
	copy(out, g.keys)
	return out
}

// Count returns the number of rows per group.
func (g *Grouped) Count() map[string]int {
	out := make(map[string]int, len(g.keys))
	for _, k := range g.keys {
		out[k] = len(g.groups[k])
	}
	return out
}

// Get returns the rows of one group as a frame.
func (g *Grouped) Get(key string) *Frame {
	idx, ok := g.groups[key]
	if !ok {
		panic(&QueryError{Op: "Get", Msg: fmt.Sprintf("no group %q", key)})
	}
	return g.f.take(idx)
}

// Sum aggregates a numeric column per group.
func (g *Grouped) Sum(col string) map[string]float64 {
	return g.agg(col, "Sum", func(c *Column) float64 { return c.Sum() })
}

// Mean aggregates a numeric column per group.
func (g *Grouped) Mean(col string) map[string]float64 {
	return g.agg(col, "Mean", func(c *Column) float64 { return c.Mean() })
}

// Min aggregates a numeric column per group.
func (g *Grouped) Min(col string) map[string]float64 {
	return g.agg(col, "Min", func(c *Column) float64 { return c.Min() })
}

// Max aggregates a numeric column per group.
func (g *Grouped) Max(col string) map[string]float64 {
	return g.agg(col, "Max", func(c *Column) float64 { return c.Max() })
}

func (g *Grouped) agg(col, op string, fn func(*Column) float64) map[string]float64 {
	c := g.f.Col(col)
	c.mustNumeric(op)
	out := make(map[string]float64, len(g.keys))
	for _, k := range g.keys {
		out[k] = fn(c.take(g.groups[k]))
	}
	return out
}

// Corr returns the Pearson correlation of two numeric columns over rows where
// both values are present. It is NaN with fewer than two pairs or zero variance.
func (f *Frame) Corr(a, b string) float64 {
	ca, cb := f.Col(a), f.Col(b)
	ca.mustNumeric("Corr")
	cb.mustNumeric("Corr")
	var n int
	var sumX, sumY, sumXX, sumYY, sumXY float64
	for i := 0; i < f.rows; i++ {
		x, okx := ca.valueOK(i)
		y, oky := cb.valueOK(i)
		if !okx || !oky {
			continue
		}
		n++
		sumX += x
		sumY += y
		sumXX += x * x
		sumYY += y * y
		sumXY += x * y
	}
	if n < 2 {
		return math.NaN()
	}
	nf := float64(n)
	num := nf*sumXY - sumX*sumY
	den := math.Sqrt((nf*sumXX - sumX*sumX) * (nf*sumYY - sumY*sumY))
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

// Describe returns per-column summary statistics for the numeric columns as a
// frame with one row per column.
func (f *Frame) Describe() *Frame {
	header := []string{"column", "count", "mean", "std", "min", "25%", "50%", "75%", "max"}
	var recs [][]string
	for _, c := range f.cols {
		if c.kind != KindNumeric {
			continue
		}
		recs = append(recs, []string{
			c.name,
			strconv.Itoa(len(c.Floats())),
			fmtStat(c.Mean()),
			fmtStat(c.Std()),
			fmtStat(c.Min()),
			fmtStat(c.Quantile(0.25)),
			fmtStat(c.Median()),
			fmtStat(c.Quantile(0.75)),
			fmtStat(c.Max()),
		})
	}
	return New(f.name+" (describe)", header, recs, ParseOptions{DecimalSeparator: '.', ThousandsSeparator: ','})
}

func fmtStat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}
