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

// Frame is a columnar table of strings: columns are addressed by name and kept
// in the order they were first added, rows are addressed by position. Columns
// may have different lengths; a missing cell reads as an empty string.
type Frame struct {
	names   []string
	columns map[string][]string
}

// NewFrame creates an empty Frame.
func NewFrame() *Frame {
	return &Frame{columns: make(map[string][]string)}
}

// SetColumn assigns the values to the named column. An existing column is
// replaced in place, otherwise the column is appended.
func (f *Frame) SetColumn(name string, values []string) {
	if _, ok := f.columns[name]; !ok {
		f.names = append(f.names, name)
	}
	f.columns[name] = values
}

// Column returns the values of the named column, if present.
func (f *Frame) Column(name string) ([]string, bool) {
	v, ok := f.columns[name]
	return v, ok
}

// Names of the columns, in order. The caller must not modify the slice.
func (f *Frame) Names() []string {
	return f.names
}

// NumColumns in the frame.
func (f *Frame) NumColumns() int {
	return len(f.names)
}

// NumRows is the length of the longest column.
func (f *Frame) NumRows() int {
	n := 0
	for _, v := range f.columns {
		if len(v) > n {
			n = len(v)
		}
	}
	return n
}

// Row returns the i-th row with cells in the column order.
func (f *Frame) Row(i int) []string {
	row := make([]string, len(f.names))
	for j, name := range f.names {
		if v := f.columns[name]; i < len(v) {
			row[j] = v[i]
		}
	}
	return row
}

// pad extends the named column with empty cells up to n rows.
func (f *Frame) pad(name string, n int) {
	v := f.columns[name]
	for len(v) < n {
		v = append(v, "")
	}
	f.columns[name] = v
}

// Append adds the rows of other below the rows of f. Columns are matched by
// name; columns present in only one of the frames get empty cells for the rows
// of the other.
func (f *Frame) Append(other *Frame) {
	n := f.NumRows()
	for _, name := range f.names {
		f.pad(name, n)
	}
	for _, name := range other.names {
		if _, ok := f.columns[name]; !ok {
			f.names = append(f.names, name)
			f.pad(name, n)
		}
		f.columns[name] = append(f.columns[name], other.columns[name]...)
	}
	total := n + other.NumRows()
	for _, name := range f.names {
		f.pad(name, total)
	}
}

// Table converts the frame into a printable Table with the column names as
// the header.
func (f *Frame) Table() *Table {
	t := NewTable(f.names...)
	for i := 0; i < f.NumRows(); i++ {
		t.AddRow(Cells(f.Row(i)))
	}
	return t
}
