package frame

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmpty is returned when a source holds no header row.
var ErrEmpty = errors.New("dataset is empty")

// LoadOptions controls how a dataset file is read.
type LoadOptions struct {
	// Delimiter for CSV. If 0, auto-detects among ',', ';', '\t'.
	Delimiter rune
	// MaxRows limits rows kept in memory; 0 means unlimited.
	MaxRows int
	// Numeric parsing locale. If DecimalSeparator is 0, auto-detect per value.
	DecimalSeparator   rune
	ThousandsSeparator rune
	// XLSX sheet selection. SheetIndex is 1-based; both empty means the first sheet.
	SheetName  string
	SheetIndex int
}

// DefaultLoadOptions returns the loader defaults.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{MaxRows: 100000}
}

func (o LoadOptions) parse() ParseOptions {
	return ParseOptions{DecimalSeparator: o.DecimalSeparator, ThousandsSeparator: o.ThousandsSeparator}
}

// Load reads a CSV, TSV or XLSX file based on its extension.
func Load(path string, opt LoadOptions) (*Frame, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return LoadXLSX(path, opt)
	case ".csv", ".tsv", ".txt", "":
		return LoadCSV(path, opt)
	case ".xls":
		return nil, &LoadError{Path: path, Err: errors.New("legacy .xls is not supported; save the workbook as .xlsx or .csv")}
	default:
		return nil, &LoadError{Path: path, Err: fmt.Errorf("unsupported file type %q (want .csv, .tsv or .xlsx)", filepath.Ext(path))}
	}
}

// LoadCSV reads a delimited text file.
func LoadCSV(path string, opt LoadOptions) (*Frame, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if opt.Delimiter == 0 && strings.HasSuffix(strings.ToLower(path), ".tsv") {
		opt.Delimiter = '\t'
	}
	f, err := ReadCSV(bytes.NewReader(b), filepath.Base(path), opt)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return f, nil
}

// ReadCSV reads delimited text from r. name labels the resulting frame.
func ReadCSV(r io.Reader, name string, opt LoadOptions) (*Frame, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	delim := opt.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(b)
	}
	cr := csv.NewReader(bytes.NewReader(b))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	cr.Comma = delim

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &LoadError{Path: name, Err: ErrEmpty}
		}
		return nil, &LoadError{Path: name, Err: fmt.Errorf("read header: %w", err)}
	}
	if len(header) == 0 {
		return nil, &LoadError{Path: name, Err: ErrEmpty}
	}
	header = dedupeHeader(header)
	var recs [][]string
	total := 0
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &LoadError{Path: name, Err: fmt.Errorf("read row %d: %w", total+1, err)}
		}
		if isBlank(rec) {
			continue
		}
		total++
		if opt.MaxRows > 0 && len(recs) >= opt.MaxRows {
			continue
		}
		recs = append(recs, rec)
	}
	f := New(name, header, recs, opt.parse())
	f.total = total
	return f, nil
}

// sniffDelimiter picks the most frequent candidate separator on the first line.
func sniffDelimiter(b []byte) rune {
	line := b
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		line = b[:i]
	}
	best, bestN := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// dedupeHeader names blank headers and suffixes repeats so every column is addressable.
func dedupeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		key := strings.ToLower(h)
		if n := seen[key]; n > 0 {
			h = fmt.Sprintf("%s_%d", h, n+1)
		}
		seen[key]++
		out[i] = h
	}
	return out
}
