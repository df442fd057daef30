// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/stockparfait/errors"
)

// Row interface that a table row representation must implement.
type Row interface {
	CSV() []string // an encoding/csv compatible row representation
}

// Cells is the simplest Row: a slice of already formatted cells.
type Cells []string

var _ Row = Cells{}

// CSV implements Row.
func (c Cells) CSV() []string { return c }

// Table is a row-oriented container used for printing, either as CSV or as
// aligned text. Frame.Table() and Summary.Table() produce one.
type Table struct {
	Header []string // optional, may be nil
	Rows   []Row
}

// NewTable creates a new Table instance with optional column headers. When
// present, the number of headers must be the same as the number of elements in
// each Row.
func NewTable(header ...string) *Table {
	return &Table{Header: header}
}

// AddRow adds one or more rows to the table.
func (t *Table) AddRow(rows ...Row) {
	t.Rows = append(t.Rows, rows...)
}

// Params are parameters for pretty-printing or CSV export of Table data.
type Params struct {
	Rows        int  // max. number of rows to write; 0 = unlimited (default)
	NoHeader    bool // whether to print the header, default - yes
	MaxColWidth int  // for WriteText only; 0 = unlimited, otherwise must be >= 4
}

// rows returns the rows to write, including the header, as string slices.
func (t *Table) rows(p Params) [][]string {
	var res [][]string
	if !p.NoHeader && len(t.Header) > 0 {
		res = append(res, t.Header)
	}
	for i, r := range t.Rows {
		if p.Rows > 0 && i >= p.Rows {
			break
		}
		res = append(res, r.CSV())
	}
	return res
}

// WriteCSV writes the table to w in CSV format.
func (t *Table) WriteCSV(w io.Writer, p Params) error {
	cw := csv.NewWriter(w)
	for i, row := range t.rows(p) {
		if err := cw.Write(row); err != nil {
			return errors.Annotate(err, "failed to write CSV row %d", i)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Annotate(err, "failed to flush written rows")
	}
	return nil
}

// columnWidths computes the width of each column in runes, capped at maxWidth
// when it's positive.
func columnWidths(rows [][]string, maxWidth int) ([]int, error) {
	var widths []int
	for i, row := range rows {
		if len(row) == 0 {
			return nil, errors.Reason("row %d is empty", i)
		}
		if widths == nil {
			widths = make([]int, len(row))
		}
		if len(row) != len(widths) {
			return nil, errors.Reason("row %d size [%d] != expected size [%d]",
				i, len(row), len(widths))
		}
		for j, s := range row {
			n := len([]rune(s))
			if maxWidth > 0 && n > maxWidth {
				n = maxWidth
			}
			if widths[j] < n {
				widths[j] = n
			}
		}
	}
	return widths, nil
}

// fitCell right-aligns s in the given width, eliding the tail with ".." when
// it's too long.
func fitCell(s string, width int) string {
	if r := []rune(s); len(r) > width {
		s = string(r[:width-2]) + ".."
	}
	return fmt.Sprintf("%[2]*[1]s", s, width)
}

// WriteText writes the table as a text formatted for ease of reading.
func (t *Table) WriteText(w io.Writer, p Params) error {
	if p.MaxColWidth != 0 && p.MaxColWidth < 4 {
		return errors.Reason("MaxColWidth [%d] must be 0 or >= 4", p.MaxColWidth)
	}
	rows := t.rows(p)
	if len(rows) == 0 {
		return nil
	}
	widths, err := columnWidths(rows, p.MaxColWidth)
	if err != nil {
		return errors.Annotate(err, "failed to compute column widths")
	}
	writeLine := func(row []string) error {
		cells := make([]string, len(row))
		for i, s := range row {
			cells[i] = fitCell(s, widths[i])
		}
		_, err := fmt.Fprintf(w, "%s\n", strings.Join(cells, " | "))
		return err
	}
	for i, row := range rows {
		if err := writeLine(row); err != nil {
			return errors.Annotate(err, "failed to write row %d", i)
		}
		if i == 0 && !p.NoHeader && len(t.Header) > 0 {
			dashes := make([]string, len(widths))
			for j, wd := range widths {
				dashes[j] = strings.Repeat("-", wd)
			}
			if err := writeLine(dashes); err != nil {
				return errors.Annotate(err, "failed to write header separator")
			}
		}
	}
	return nil
}
