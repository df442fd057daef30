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
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ColumnSummary is the summary of the numeric cells of a single column.
type ColumnSummary struct {
	Name  string
	Count int // the number of numeric cells; the rest are skipped
	Mean  float64
	Std   float64 // sample standard deviation; 0 for a single value
	Min   float64
	Max   float64
}

// Summary of all the columns of a Frame.
type Summary []ColumnSummary

// numbers parses the numeric cells of a column.
func numbers(values []string) []float64 {
	res := make([]float64, 0, len(values))
	for _, s := range values {
		x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			continue
		}
		res = append(res, x)
	}
	return res
}

// Describe summarizes the numeric cells of each column of the frame.
func Describe(f *Frame) Summary {
	s := make(Summary, len(f.names))
	for i, name := range f.names {
		x := numbers(f.columns[name])
		s[i] = ColumnSummary{Name: name, Count: len(x)}
		if len(x) == 0 {
			continue
		}
		s[i].Mean, s[i].Std = stat.MeanStdDev(x, nil)
		if len(x) == 1 {
			s[i].Std = 0
		}
		s[i].Min = floats.Min(x)
		s[i].Max = floats.Max(x)
	}
	return s
}

// CSV implements Row.
func (c ColumnSummary) CSV() []string {
	if c.Count == 0 {
		return []string{c.Name, "0", "-", "-", "-", "-"}
	}
	format := func(x float64) string { return fmt.Sprintf("%.6g", x) }
	return []string{
		c.Name,
		strconv.Itoa(c.Count),
		format(c.Mean),
		format(c.Std),
		format(c.Min),
		format(c.Max),
	}
}

// Table converts the summary into a printable Table, one row per column.
func (s Summary) Table() *Table {
	t := NewTable("Column", "Count", "Mean", "Std", "Min", "Max")
	for _, c := range s {
		t.AddRow(c)
	}
	return t
}
