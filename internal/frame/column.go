package frame

import (
	"math"
	"sort"
	"strings"
)

// Column is one named column of a Frame.
type Column struct {
	name string
	base string // header without unit suffix
	unit string
	kind Kind
	raw  []string
	nums []float64
	ok   []bool // nums[i] holds a parsed value
}

func newColumn(header string, raw []string, opt ParseOptions) *Column {
	base, unit := splitUnits(header)
	c := &Column{name: header, base: base, unit: unit, raw: raw}
	c.nums = make([]float64, len(raw))
	c.ok = make([]bool, len(raw))
	var numCnt, dtCnt, txtCnt int
	for i, v := range raw {
		if v == "" {
			continue
		}
		if strings.Contains(v, "%") && c.unit == "" {
			c.unit = "%"
		}
		if x, ok := parseNumeric(v, opt); ok {
			c.nums[i] = x
			c.ok[i] = true
			numCnt++
			continue
		}
		if _, ok := parseTimeMaybe(v); ok {
			dtCnt++
			continue
		}
		txtCnt++
	}
	switch {
	case numCnt > 0 && numCnt >= dtCnt && numCnt >= txtCnt:
		c.kind = KindNumeric
	case dtCnt > 0 && dtCnt >= txtCnt:
		c.kind = KindDatetime
	default:
		c.kind = KindText
	}
	if c.kind != KindNumeric {
		c.nums, c.ok = nil, nil
	}
	return c
}

func (c *Column) take(idx []int) *Column {
	out := &Column{name: c.name, base: c.base, unit: c.unit, kind: c.kind, raw: make([]string, len(idx))}
	if c.nums != nil {
		out.nums = make([]float64, len(idx))
		out.ok = make([]bool, len(idx))
	}
	for k, i := range idx {
		out.raw[k] = c.raw[i]
		if c.nums != nil {
			out.nums[k] = c.nums[i]
			out.ok[k] = c.ok[i]
		}
	}
	return out
}

// Name returns the column header as it appears in the source.
func (c *Column) Name() string { return c.name }

// BaseName returns the header with any unit suffix removed.
func (c *Column) BaseName() string { return c.base }

// Unit returns the unit parsed from the header, if any.
func (c *Column) Unit() string { return c.unit }

// Kind returns "numeric", "datetime" or "text".
func (c *Column) Kind() string { return string(c.kind) }

// IsNumeric reports whether the column was inferred as numeric.
func (c *Column) IsNumeric() bool { return c.kind == KindNumeric }

// Len returns the number of rows, including missing cells.
func (c *Column) Len() int { return len(c.raw) }

// Count returns the number of non-missing cells.
func (c *Column) Count() int {
	n := 0
	for _, v := range c.raw {
		if v != "" {
			n++
		}
	}
	return n
}

// Missing returns the number of empty cells.
func (c *Column) Missing() int { return len(c.raw) - c.Count() }

// At returns the raw cell text at row i.
func (c *Column) At(i int) string {
	if i < 0 || i >= len(c.raw) {
		panic(&QueryError{Op: "At", Msg: "row index out of range"})
	}
	return c.raw[i]
}

// Float returns the numeric value at row i, or NaN when missing or unparsable.
func (c *Column) Float(i int) float64 {
	c.mustNumeric("Float")
	if i < 0 || i >= len(c.raw) {
		panic(&QueryError{Op: "Float", Msg: "row index out of range"})
	}
	if !c.ok[i] {
		return math.NaN()
	}
	return c.nums[i]
}

func (c *Column) valueOK(i int) (float64, bool) {
	if c.nums == nil || !c.ok[i] {
		return 0, false
	}
	return c.nums[i], true
}

// Values returns a copy of the raw cell texts.
func (c *Column) Values() []string {
	out := make([]string, len(c.raw))
	copy(out, c.raw)
	return out
}

// Floats returns the parsed numeric values, skipping missing cells.
func (c *Column) Floats() []float64 { return c.floats("Floats") }

func (c *Column) floats(op string) []float64 {
	c.mustNumeric(op)
	out := make([]float64, 0, len(c.nums))
	for i, v := range c.nums {
		if c.ok[i] {
			out = append(out, v)
		}
	}
	return out
}

func (c *Column) mustNumeric(op string) {
	if c.kind != KindNumeric {
		panic(&TypeError{Column: c.name, Op: op, Kind: c.kind})
	}
}

// Sum returns the sum of numeric values.
func (c *Column) Sum() float64 {
	var s float64
	for _, v := range c.floats("Sum") {
		s += v
	}
	return s
}

// Mean returns the arithmetic mean, or NaN for an all-missing column.
func (c *Column) Mean() float64 {
	vals := c.floats("Mean")
	if len(vals) == 0 {
		return math.NaN()
	}
	var s float64
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals))
}

// Median returns the 0.5 quantile.
func (c *Column) Median() float64 { return c.Quantile(0.5) }

// Quantile returns the linearly interpolated q-quantile (0 <= q <= 1).
func (c *Column) Quantile(q float64) float64 {
	vals := c.floats("Quantile")
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	return quantile(vals, q)
}

// Min returns the smallest numeric value.
func (c *Column) Min() float64 {
	vals := c.floats("Min")
	if len(vals) == 0 {
		return math.NaN()
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest numeric value.
func (c *Column) Max() float64 {
	vals := c.floats("Max")
	if len(vals) == 0 {
		return math.NaN()
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Std returns the sample standard deviation (n-1 denominator).
func (c *Column) Std() float64 {
	vals := c.floats("Std")
	if len(vals) < 2 {
		return math.NaN()
	}
	// Welford
	var n int
	var mean, m2 float64
	for _, x := range vals {
		n++
		d := x - mean
		mean += d / float64(n)
		m2 += d * (x - mean)
	}
	return math.Sqrt(m2 / float64(n-1))
}

// Unique returns distinct non-missing values in first-seen order.
func (c *Column) Unique() []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range c.raw {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// NUnique returns the number of distinct non-missing values.
func (c *Column) NUnique() int { return len(c.Unique()) }

// ValueCounts counts occurrences of each non-missing value.
func (c *Column) ValueCounts() map[string]int {
	out := make(map[string]int)
	for _, v := range c.raw {
		if v != "" {
			out[v]++
		}
	}
	return out
}

// TopValues returns up to n values ordered by descending count, ties by value.
func (c *Column) TopValues(n int) []ValueCount {
	counts := c.ValueCounts()
	out := make([]ValueCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, ValueCount{Value: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Value < out[j].Value
		}
		return out[i].Count > out[j].Count
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ValueCount pairs a value with its frequency.
type ValueCount struct {
	Value string
	Count int
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}
