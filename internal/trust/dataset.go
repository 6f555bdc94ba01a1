package trust

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrEmptyDataset is returned when a CSV has no header.
var ErrEmptyDataset = errors.New("trust: empty dataset")

// Dataset is a table of records with named columns.
// Cells are kept as read so accepted rows are exported unchanged.
type Dataset struct {
	Columns []string
	Rows    [][]string
}

// ReadCSV parses a dataset with a header line.
func ReadCSV(r io.Reader) (Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Dataset{}, ErrEmptyDataset
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("read header:\n%w", err)
	}

	ds := Dataset{Columns: make([]string, len(header))}
	for i, name := range header {
		ds.Columns[i] = strings.TrimSpace(name)
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("read record %d:\n%w", len(ds.Rows)+1, err)
		}
		ds.Rows = append(ds.Rows, record)
	}

	return ds, nil
}

// WriteCSV writes the header and every row.
func WriteCSV(w io.Writer, ds Dataset) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(ds.Columns); err != nil {
		return fmt.Errorf("write header:\n%w", err)
	}
	if err := cw.WriteAll(ds.Rows); err != nil {
		return fmt.Errorf("write rows:\n%w", err)
	}

	return nil
}

// Index returns the position of column name, or -1.
func (ds Dataset) Index(name string) int {
	for i, c := range ds.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// NumericColumns returns the positions of columns where most cells are
// finite numbers, in column order. A few unparsable cells do not demote a
// column; the filter rejects those rows instead. A dataset without rows has none.
func (ds Dataset) NumericColumns() []int {
	if len(ds.Rows) == 0 {
		return nil
	}

	var cols []int
	for j := range ds.Columns {
		parsed := 0
		for _, row := range ds.Rows {
			if _, ok := parseCell(row, j); ok {
				parsed++
			}
		}
		if 2*parsed > len(ds.Rows) {
			cols = append(cols, j)
		}
	}

	return cols
}

// columns resolves names to positions, returning the first missing name.
func (ds Dataset) columns(names []string) ([]int, string) {
	cols := make([]int, len(names))
	for i, name := range names {
		j := ds.Index(name)
		if j < 0 {
			return nil, name
		}
		cols[i] = j
	}
	return cols, ""
}

// parseCell reads row[j] as a finite float.
func parseCell(row []string, j int) (float64, bool) {
	if j >= len(row) {
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(row[j]), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}

	return v, true
}

// names maps column positions to names.
func (ds Dataset) names(cols []int) []string {
	out := make([]string, len(cols))
	for i, j := range cols {
		out[i] = ds.Columns[j]
	}
	return out
}
