package analysis

import (
	"fmt"
	"sort"
	"strings"
)

// Markdown renders the compact dataset brief used as model context and by the
// analyze command.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	if r.Name != "" {
		fmt.Fprintf(&b, "File: %s\n", r.Name)
	}
	switch {
	case r.Processed > 0 && r.Processed < r.Rows:
		fmt.Fprintf(&b, "Rows: ~%d (processed %d)\n", r.Rows, r.Processed)
	default:
		fmt.Fprintf(&b, "Rows: %d\n", r.Rows)
	}
	fmt.Fprintf(&b, "Columns: %d\n", len(r.Cols))

	r.writeSchema(&b)
	r.writeGroups(&b)
	r.writeCorrelations(&b)
	r.writeSamples(&b)
	if len(r.Warnings) > 0 {
		b.WriteString("\n[NOTES]\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

func (r *Report) writeSchema(b *strings.Builder) {
	b.WriteString("\n[SCHEMA]\n")
	for _, c := range r.Cols {
		total := c.NonNull + c.Missing
		missPct := 0.0
		if total > 0 {
			missPct = float64(c.Missing) * 100.0 / float64(total)
		}
		name := safeName(c.Name)
		if c.Unit != "" {
			name = fmt.Sprintf("%s [%s]", name, c.Unit)
		}
		fmt.Fprintf(b, "- %s: %s (non-null %d, missing %.1f%%)", name, c.Kind, c.NonNull, missPct)
		switch c.Kind {
		case "numeric":
			fmt.Fprintf(b, " — min %.4g, max %.4g, mean %.4g, std %.4g", c.Min, c.Max, c.Mean, c.Std)
			if c.OutlierThreshold > 0 {
				fmt.Fprintf(b, "; outliers: %d above |z|>%.1f", c.OutliersCount, c.OutlierThreshold)
				if c.OutliersMaxAbsZ > 0 {
					fmt.Fprintf(b, " (max |z|≈%.2f)", c.OutliersMaxAbsZ)
				}
			}
		case "categorical":
			if len(c.TopValues) > 0 {
				tops := make([]string, len(c.TopValues))
				for i, kv := range c.TopValues {
					tops[i] = fmt.Sprintf("%s(%d)", safeVal(kv.Value), kv.Count)
				}
				b.WriteString(" — top: " + strings.Join(tops, ", "))
				if c.Unique > len(c.TopValues) {
					fmt.Fprintf(b, "; unique=%d", c.Unique)
				}
			}
		case "text":
			if len(c.ExampleTexts) > 0 {
				ex := make([]string, len(c.ExampleTexts))
				for i, v := range c.ExampleTexts {
					ex[i] = safeVal(v)
				}
				b.WriteString(" — e.g., " + strings.Join(ex, " | "))
			}
		}
		b.WriteString("\n")
	}
}

func (r *Report) writeGroups(b *strings.Builder) {
	if len(r.Groups) == 0 {
		return
	}
	b.WriteString("\n[GROUP-BY SUMMARY]\n")
	for _, g := range r.Groups {
		fmt.Fprintf(b, "- %s (n=%d)\n", g.Key, g.Size)
		keys := make([]string, 0, len(g.Metrics))
		for k := range g.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 6 {
			keys = keys[:6]
		}
		for _, k := range keys {
			m := g.Metrics[k]
			fmt.Fprintf(b, "  • %s: mean %.4g (min %.4g, max %.4g)\n", k, m.Mean, m.Min, m.Max)
		}
	}
	var withPairs []GroupResult
	for _, g := range r.Groups {
		if len(g.CorrPairs) > 0 {
			withPairs = append(withPairs, g)
		}
	}
	if len(withPairs) == 0 {
		return
	}
	b.WriteString("\n[PER-GROUP CORRELATIONS]\n")
	for _, g := range withPairs {
		fmt.Fprintf(b, "- %s:\n", g.Key)
		pairs := g.CorrPairs
		if len(pairs) > 8 {
			pairs = pairs[:8]
		}
		for _, p := range pairs {
			fmt.Fprintf(b, "  • %s ~ %s: r=%.3f\n", p.A, p.B, p.R)
		}
	}
}

func (r *Report) writeCorrelations(b *strings.Builder) {
	if r.Corr == nil || len(r.Corr.Columns) < 2 {
		return
	}
	var pairs []PairCorr
	n := len(r.Corr.Columns)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, PairCorr{A: r.Corr.Columns[i], B: r.Corr.Columns[j], R: r.Corr.Values[i][j]})
		}
	}
	sortPairs(pairs)
	if len(pairs) > 10 {
		pairs = pairs[:10]
	}
	b.WriteString("\n[CORRELATIONS]\n")
	for _, p := range pairs {
		fmt.Fprintf(b, "- %s ~ %s: r=%.3f\n", p.A, p.B, p.R)
	}
}

func (r *Report) writeSamples(b *strings.Builder) {
	if len(r.Samples) == 0 {
		return
	}
	b.WriteString("\n[HEAD AND SAMPLE ROWS]\n")
	names := make([]string, len(r.Cols))
	seps := make([]string, len(r.Cols))
	for i, c := range r.Cols {
		names[i] = safeName(c.Name)
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(names, " | ") + " |\n")
	b.WriteString("| " + strings.Join(seps, " | ") + " |\n")
	for _, row := range r.Samples {
		cells := make([]string, len(r.Cols))
		for i := range r.Cols {
			if i < len(row) {
				val := row[i]
				if len(val) > 80 {
					val = val[:77] + "..."
				}
				cells[i] = safeVal(val)
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
