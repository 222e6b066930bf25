// Package analysis profiles a loaded dataset and renders the textual brief the
// model receives at session start.
package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/KaramelBytes/dataloom-cli/internal/frame"
)

// Options controls analysis behavior for tabular data.
type Options struct {
	// SampleRows determines how many example rows to include in the report.
	SampleRows int
	// GroupBy computes per-group summaries for the given column names.
	GroupBy []string
	// Correlations computes Pearson correlations among numeric columns.
	Correlations bool
	// CorrPerGroup computes correlations per group key.
	CorrPerGroup bool
	// Outlier detection via robust Z-score (MAD). If Outliers is true, counts |z|>threshold.
	Outliers         bool
	OutlierThreshold float64
}

// DefaultOptions returns reasonable defaults for dataset analysis.
func DefaultOptions() Options {
	return Options{SampleRows: 5}
}

// Report is a markdown-friendly analysis of a tabular dataset.
type Report struct {
	Name      string
	Rows      int
	Processed int
	Cols      []ColumnSummary
	Samples   [][]string
	Warnings  []string
	Groups    []GroupResult
	Corr      *CorrMatrix
}

// ColumnSummary captures inferred type and statistics per column.
type ColumnSummary struct {
	Name    string
	Kind    string // numeric|datetime|categorical|text|unknown
	Unit    string
	NonNull int
	Missing int
	Unique  int
	// Numeric stats
	Min  float64
	Max  float64
	Mean float64
	Std  float64
	// Outliers (robust Z via MAD)
	OutliersCount    int
	OutliersMaxAbsZ  float64
	OutlierThreshold float64
	// Categorical top values
	TopValues    []CategoryCount
	ExampleTexts []string
}

type CategoryCount struct {
	Value string
	Count int
}

// GroupResult captures aggregated metrics per group key.
type GroupResult struct {
	Key       string
	Size      int
	Metrics   map[string]NumSummary // by column name
	CorrPairs []PairCorr            // top correlation pairs (by |r|)
}

type NumSummary struct {
	Count          int
	Min, Max, Mean float64
}

// CorrMatrix holds a symmetric Pearson correlation matrix across numeric columns.
type CorrMatrix struct {
	Columns []string
	Values  [][]float64 // row-major, Values[i][j]
}

// PairCorr is a simple correlation pair summary.
type PairCorr struct {
	A, B string
	R    float64
}

// Summarize profiles f. Group-by names that do not resolve to a column are ignored.
func Summarize(f *frame.Frame, opt Options) *Report {
	rep := &Report{Name: f.Name(), Rows: f.TotalRows(), Processed: f.Len()}
	if f.NumCols() == 0 {
		return rep
	}
	sampleRows := opt.SampleRows
	if sampleRows <= 0 {
		sampleRows = 5
	}
	head := f.Head(sampleRows)
	for i := 0; i < head.Len(); i++ {
		row := make([]string, head.NumCols())
		for j := range row {
			row[j] = head.ColumnAt(j).At(i)
		}
		rep.Samples = append(rep.Samples, row)
	}

	var numCols []*frame.Column
	for j := 0; j < f.NumCols(); j++ {
		c := f.ColumnAt(j)
		rep.Cols = append(rep.Cols, summarizeColumn(c, opt))
		if c.IsNumeric() {
			numCols = append(numCols, c)
		}
	}
	if rep.Processed < rep.Rows {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("processed only %d/%d rows due to MaxRows", rep.Processed, rep.Rows))
	}

	var by []string
	for _, name := range opt.GroupBy {
		if f.Has(name) {
			by = append(by, name)
		}
	}
	if len(by) > 0 {
		rep.Groups = summarizeGroups(f, by, numCols, opt)
	}

	if opt.Correlations && len(numCols) >= 2 {
		n := len(numCols)
		names := make([]string, n)
		mat := make([][]float64, n)
		for a := range numCols {
			names[a] = numCols[a].BaseName()
			mat[a] = make([]float64, n)
		}
		for a := 0; a < n; a++ {
			mat[a][a] = 1
			for b := a + 1; b < n; b++ {
				r := clampCorr(f.Corr(numCols[a].Name(), numCols[b].Name()))
				if math.IsNaN(r) {
					r = 0
				}
				mat[a][b], mat[b][a] = r, r
			}
		}
		rep.Corr = &CorrMatrix{Columns: names, Values: mat}
	}
	return rep
}

func summarizeColumn(c *frame.Column, opt Options) ColumnSummary {
	s := ColumnSummary{Name: c.BaseName(), Unit: c.Unit(), NonNull: c.Count(), Missing: c.Missing()}
	switch {
	case s.NonNull == 0:
		s.Kind = "unknown"
	case c.IsNumeric():
		s.Kind = "numeric"
		s.Min, s.Max, s.Mean = c.Min(), c.Max(), c.Mean()
		if std := c.Std(); !math.IsNaN(std) {
			s.Std = std
		}
		vals := c.Floats()
		if opt.Outliers && len(vals) >= 8 {
			thr := opt.OutlierThreshold
			if thr <= 0 {
				thr = 3.5
			}
			s.OutliersCount, s.OutliersMaxAbsZ = robustOutliers(vals, thr)
			s.OutlierThreshold = thr
		}
	case c.Kind() == string(frame.KindDatetime):
		s.Kind = "datetime"
	default:
		var tops []CategoryCount
		for k, v := range c.ValueCounts() {
			if len(k) <= 64 {
				tops = append(tops, CategoryCount{Value: k, Count: v})
			}
		}
		if len(tops) == 0 {
			s.Kind = "text"
			for _, v := range c.Values() {
				if v != "" && len(s.ExampleTexts) < 3 {
					s.ExampleTexts = append(s.ExampleTexts, v)
				}
			}
			break
		}
		s.Kind = "categorical"
		sort.Slice(tops, func(i, j int) bool {
			if tops[i].Count == tops[j].Count {
				return tops[i].Value < tops[j].Value
			}
			return tops[i].Count > tops[j].Count
		})
		s.Unique = len(tops)
		if len(tops) > 8 {
			tops = tops[:8]
		}
		s.TopValues = tops
	}
	return s
}

func summarizeGroups(f *frame.Frame, by []string, numCols []*frame.Column, opt Options) []GroupResult {
	g := f.GroupBy(by...)
	out := make([]GroupResult, 0, len(g.Keys()))
	for _, key := range g.Keys() {
		sub := g.Get(key)
		parts := make([]string, len(by))
		for i, name := range by {
			col := sub.Col(name)
			parts[i] = fmt.Sprintf("%s=%s", col.BaseName(), safeVal(col.At(0)))
		}
		gr := GroupResult{Key: strings.Join(parts, " | "), Size: sub.Len(), Metrics: map[string]NumSummary{}}
		for _, nc := range numCols {
			col := sub.Col(nc.Name())
			vals := col.Floats()
			if len(vals) == 0 {
				continue
			}
			gr.Metrics[nc.BaseName()] = NumSummary{Count: len(vals), Min: col.Min(), Max: col.Max(), Mean: col.Mean()}
		}
		if opt.CorrPerGroup {
			gr.CorrPairs = topPairs(sub, numCols, 10)
		}
		out = append(out, gr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size == out[j].Size {
			return out[i].Key < out[j].Key
		}
		return out[i].Size > out[j].Size
	})
	if len(out) > 20 {
		out = out[:20]
	}
	return out
}

func topPairs(f *frame.Frame, numCols []*frame.Column, limit int) []PairCorr {
	var pairs []PairCorr
	for a := 0; a < len(numCols); a++ {
		for b := a + 1; b < len(numCols); b++ {
			r := clampCorr(f.Corr(numCols[a].Name(), numCols[b].Name()))
			if math.IsNaN(r) || math.IsInf(r, 0) {
				continue
			}
			pairs = append(pairs, PairCorr{A: numCols[a].BaseName(), B: numCols[b].BaseName(), R: r})
		}
	}
	sortPairs(pairs)
	if len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

func sortPairs(pairs []PairCorr) {
	sort.Slice(pairs, func(i, j int) bool {
		ai, aj := math.Abs(pairs[i].R), math.Abs(pairs[j].R)
		if ai == aj {
			return pairs[i].A+pairs[i].B < pairs[j].A+pairs[j].B
		}
		return ai > aj
	})
}

func clampCorr(r float64) float64 {
	if r > 1 {
		return 1
	}
	if r < -1 {
		return -1
	}
	return r
}

func robustOutliers(vals []float64, thr float64) (count int, maxAbsZ float64) {
	median, mad := medianMAD(vals)
	if mad == 0 {
		return 0, 0
	}
	for _, v := range vals {
		az := math.Abs(0.6745 * (v - median) / mad)
		if az > thr {
			count++
		}
		if az > maxAbsZ {
			maxAbsZ = az
		}
	}
	return count, maxAbsZ
}

// medianMAD computes median and MAD (median absolute deviation) of values.
func medianMAD(vals []float64) (median, mad float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	cp := make([]float64, len(vals))
	copy(cp, vals)
	sort.Float64s(cp)
	median = quantile(cp, 0.5)
	dev := make([]float64, len(cp))
	for i, v := range cp {
		dev[i] = math.Abs(v - median)
	}
	sort.Float64s(dev)
	mad = quantile(dev, 0.5)
	return
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
