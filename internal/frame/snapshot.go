package frame

import (
	"fmt"
	"strconv"
)

// Snapshot is a serializable copy of a Frame. It carries the inferred column
// kinds and parsed values, so a frame rebuilt from it needs no ParseOptions.
type Snapshot struct {
	Name    string           `json:"name"`
	Rows    int              `json:"rows"`
	Total   int              `json:"total"`
	Columns []ColumnSnapshot `json:"columns"`
}

// ColumnSnapshot is one column of a Snapshot.
type ColumnSnapshot struct {
	Name string   `json:"name"`
	Base string   `json:"base"`
	Unit string   `json:"unit,omitempty"`
	Kind Kind     `json:"kind"`
	Raw  []string `json:"raw"`
	// Nums holds parsed values in strconv 'g' form, "" where the cell did not
	// parse. Strings keep NaN and Inf cells encodable as JSON.
	Nums []string `json:"nums,omitempty"`
}

// Snapshot copies f into a Snapshot.
func (f *Frame) Snapshot() *Snapshot {
	s := &Snapshot{Name: f.name, Rows: f.rows, Total: f.total, Columns: make([]ColumnSnapshot, len(f.cols))}
	for j, c := range f.cols {
		cs := ColumnSnapshot{Name: c.name, Base: c.base, Unit: c.unit, Kind: c.kind, Raw: c.raw}
		if c.nums != nil {
			cs.Nums = make([]string, len(c.nums))
			for i, x := range c.nums {
				if c.ok[i] {
					cs.Nums[i] = strconv.FormatFloat(x, 'g', -1, 64)
				}
			}
		}
		s.Columns[j] = cs
	}
	return s
}

// FromSnapshot rebuilds the Frame a Snapshot was taken from.
func FromSnapshot(s *Snapshot) (*Frame, error) {
	if s == nil {
		return nil, fmt.Errorf("frame snapshot is empty")
	}
	f := &Frame{name: s.Name, rows: s.Rows, total: s.Total, cols: make([]*Column, len(s.Columns))}
	for j, cs := range s.Columns {
		if len(cs.Raw) != s.Rows {
			return nil, fmt.Errorf("frame snapshot: column %q has %d cells, want %d", cs.Name, len(cs.Raw), s.Rows)
		}
		c := &Column{name: cs.Name, base: cs.Base, unit: cs.Unit, kind: cs.Kind, raw: cs.Raw}
		if cs.Nums != nil {
			if len(cs.Nums) != s.Rows {
				return nil, fmt.Errorf("frame snapshot: column %q has %d values, want %d", cs.Name, len(cs.Nums), s.Rows)
			}
			c.nums = make([]float64, s.Rows)
			c.ok = make([]bool, s.Rows)
			for i, v := range cs.Nums {
				if v == "" {
					continue
				}
				x, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("frame snapshot: column %q row %d: %w", cs.Name, i, err)
				}
				c.nums[i], c.ok[i] = x, true
			}
		}
		f.cols[j] = c
	}
	f.reindex()
	return f, nil
}
