// Package frame holds a loaded tabular dataset in memory and exposes the small
// analysis surface that model-authored snippets run against.
//
// Frames are immutable: every operation that selects or reorders rows returns a
// new Frame that shares nothing mutable with its parent. Methods are deliberately
// non-generic so they can be exported into the snippet interpreter by reflection.
package frame

import (
	"fmt"
	"strings"
)

// Kind is the inferred type of a column.
type Kind string

const (
	KindNumeric  Kind = "numeric"
	KindDatetime Kind = "datetime"
	KindText     Kind = "text"
)

// Frame is a two-dimensional table of named, typed columns.
type Frame struct {
	name  string
	cols  []*Column
	index map[string]int
	rows  int
	// total is the number of data rows seen in the source before MaxRows applied.
	total int
}

// ParseOptions controls how raw cells are interpreted when building a Frame.
type ParseOptions struct {
	// DecimalSeparator pins the decimal mark. If 0, auto-detect per value.
	DecimalSeparator rune
	// ThousandsSeparator pins the grouping mark. If 0, auto-detect common separators.
	ThousandsSeparator rune
}

// New builds a Frame from a header and string records. Short records are padded,
// long records are truncated to the header width.
func New(name string, header []string, records [][]string, opt ParseOptions) *Frame {
	f := &Frame{name: name, rows: len(records), total: len(records)}
	f.cols = make([]*Column, len(header))
	for j, h := range header {
		raw := make([]string, len(records))
		for i, rec := range records {
			if j < len(rec) {
				raw[i] = strings.TrimSpace(rec[j])
			}
		}
		f.cols[j] = newColumn(strings.TrimSpace(h), raw, opt)
	}
	f.reindex()
	return f
}

func (f *Frame) reindex() {
	f.index = make(map[string]int, len(f.cols)*2)
	for i, c := range f.cols {
		key := strings.ToLower(c.name)
		if _, dup := f.index[key]; !dup {
			f.index[key] = i
		}
	}
	// Second pass so a full header name always wins over a unit-stripped alias.
	for i, c := range f.cols {
		alias := strings.ToLower(c.base)
		if _, taken := f.index[alias]; !taken {
			f.index[alias] = i
		}
	}
}

// Name returns the source name of the dataset (usually the file base name).
func (f *Frame) Name() string { return f.name }

// Len returns the number of rows held in memory.
func (f *Frame) Len() int { return f.rows }

// TotalRows returns the number of rows in the source, which exceeds Len when a
// row cap was applied at load time.
func (f *Frame) TotalRows() int { return f.total }

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.cols) }

// Columns returns the column names in source order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.cols))
	for i, c := range f.cols {
		out[i] = c.name
	}
	return out
}

// Has reports whether a column can be resolved by name.
func (f *Frame) Has(name string) bool {
	_, ok := f.lookup(name)
	return ok
}

func (f *Frame) lookup(name string) (*Column, bool) {
	i, ok := f.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return f.cols[i], true
}

// Col returns the named column. Lookup is case-insensitive and accepts the header
// with or without its unit suffix. An unknown name panics with *ColumnError.
func (f *Frame) Col(name string) *Column {
	c, ok := f.lookup(name)
	if !ok {
		panic(&ColumnError{Name: name, Available: f.Columns()})
	}
	return c
}

// ColumnAt returns the column at position i.
func (f *Frame) ColumnAt(i int) *Column {
	if i < 0 || i >= len(f.cols) {
		panic(&QueryError{Op: "ColumnAt", Msg: fmt.Sprintf("index %d out of range [0,%d)", i, len(f.cols))})
	}
	return f.cols[i]
}

// Head returns the first n rows.
func (f *Frame) Head(n int) *Frame {
	if n < 0 {
		n = 0
	}
	if n > f.rows {
		n = f.rows
	}
	return f.take(seq(0, n))
}

// Tail returns the last n rows.
func (f *Frame) Tail(n int) *Frame {
	if n < 0 {
		n = 0
	}
	if n > f.rows {
		n = f.rows
	}
	return f.take(seq(f.rows-n, f.rows))
}

// Select returns a frame with only the named columns, in the given order.
func (f *Frame) Select(names ...string) *Frame {
	out := &Frame{name: f.name, rows: f.rows, total: f.total}
	for _, n := range names {
		out.cols = append(out.cols, f.Col(n))
	}
	out.reindex()
	return out
}

// take builds a new frame from the given row positions.
func (f *Frame) take(idx []int) *Frame {
	out := &Frame{name: f.name, rows: len(idx), total: len(idx), cols: make([]*Column, len(f.cols))}
	for j, c := range f.cols {
		out.cols[j] = c.take(idx)
	}
	out.reindex()
	return out
}

func seq(from, to int) []int {
	if to < from {
		return nil
	}
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

// String renders up to 20 rows as a markdown table.
func (f *Frame) String() string {
	return f.Markdown(20)
}

// Markdown renders up to limit rows as a markdown table.
func (f *Frame) Markdown(limit int) string {
	var b strings.Builder
	if len(f.cols) == 0 {
		return "(empty frame)"
	}
	b.WriteString("| ")
	for i, c := range f.cols {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(cellText(c.name))
	}
	b.WriteString(" |\n|")
	for range f.cols {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	n := f.rows
	if limit >= 0 && n > limit {
		n = limit
	}
	for i := 0; i < n; i++ {
		b.WriteString("| ")
		for j, c := range f.cols {
			if j > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(cellText(c.raw[i]))
		}
		b.WriteString(" |\n")
	}
	if n < f.rows {
		b.WriteString(fmt.Sprintf("... (%d rows total)\n", f.rows))
	}
	return b.String()
}

func cellText(s string) string {
	s = strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/")
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
