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

package partition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/schema"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
	"golang.org/x/exp/slices"

	"github.com/galv-team/galv-fetch/table"
)

// Ext is the file extension of partition files.
const Ext = ".parquet"

// magic marks both ends of a parquet file.
var magic = []byte("PAR1")

// checkMagic verifies the leading and trailing magic bytes, so that truncated
// and non-parquet files are rejected before the footer is decoded.
func checkMagic(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return errors.Annotate(err, "failed to stat file")
	}
	size := info.Size()
	if size < int64(2*len(magic)+4) {
		return errors.Reason("file is too short for parquet: %d bytes", size)
	}
	head := make([]byte, len(magic))
	tail := make([]byte, len(magic))
	if _, err := f.ReadAt(head, 0); err != nil {
		return errors.Annotate(err, "failed to read file header")
	}
	if _, err := f.ReadAt(tail, size-int64(len(magic))); err != nil {
		return errors.Annotate(err, "failed to read file trailer")
	}
	if !bytes.Equal(head, magic) || !bytes.Equal(tail, magic) {
		return errors.Reason("not a parquet file")
	}
	return nil
}

// columnID is the identifier of the schema element at index i, used in place
// of the element's name inside parquet-go.
func columnID(i int) string {
	return fmt.Sprintf("C%d", i)
}

type schemaGroup struct {
	labels   []string // original names from the root
	ids      []string // positional identifiers from the root
	children int32    // children not yet visited
}

// renameColumns replaces the names of the schema elements by positional
// identifiers, updates the column chunk paths accordingly and returns the
// dotted original paths of the leaf columns in the schema order. parquet-go
// addresses columns by identifiers derived from their names, and names such
// as "V" and "v" or "a b" and "a32b" map to the same identifier.
func renameColumns(footer *parquet.FileMetaData) ([]string, error) {
	elements := footer.GetSchema()
	if len(elements) == 0 {
		return nil, errors.Reason("empty schema")
	}
	paths := make(map[string][]string) // original chunk path -> renamed
	var labels []string
	stack := []schemaGroup{{children: elements[0].GetNumChildren()}}
	for i := 1; i < len(elements); i++ {
		for len(stack) > 0 && stack[len(stack)-1].children <= 0 {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			return nil, errors.Reason("schema element %d has no parent", i)
		}
		parent := &stack[len(stack)-1]
		parent.children--

		el := elements[i]
		orig := append(append([]string{}, parent.labels...), el.GetName())
		ids := append(append([]string{}, parent.ids...), columnID(i))
		el.Name = columnID(i)
		if el.GetNumChildren() > 0 {
			stack = append(stack, schemaGroup{labels: orig, ids: ids, children: el.GetNumChildren()})
			continue
		}
		paths[common.PathToStr(orig)] = ids
		labels = append(labels, strings.Join(orig, "."))
	}
	for _, rg := range footer.GetRowGroups() {
		for _, chunk := range rg.GetColumns() {
			md := chunk.GetMetaData()
			if md == nil {
				return nil, errors.Reason("column chunk without metadata")
			}
			ids, ok := paths[common.PathToStr(md.GetPathInSchema())]
			if !ok {
				return nil, errors.Reason("column chunk %v is not in the schema",
					md.GetPathInSchema())
			}
			md.PathInSchema = ids
		}
	}
	return labels, nil
}

// openColumns prepares a reader of the file by column index, returning the
// labels of the columns in the index order. The caller must call ReadStop.
func openColumns(fr source.ParquetFile) (pr *reader.ParquetReader, labels []string, err error) {
	// The footer decoder panics on some kinds of corrupted input.
	defer func() {
		if r := recover(); r != nil {
			pr, labels = nil, nil
			err = errors.Reason("failed to decode footer: %v", r)
		}
	}()
	pr = &reader.ParquetReader{
		NP:            1,
		PFile:         fr,
		ColumnBuffers: make(map[string]*reader.ColumnBufferType),
	}
	if err = pr.ReadFooter(); err != nil {
		return nil, nil, errors.Annotate(err, "failed to read footer")
	}
	if labels, err = renameColumns(pr.Footer); err != nil {
		return nil, nil, errors.Annotate(err, "invalid schema")
	}
	pr.SchemaHandler = schema.NewSchemaHandlerFromSchemaList(pr.Footer.GetSchema())
	pr.RenameSchema()
	return pr, labels, nil
}

// Validate checks that the file at path is a readable parquet file.
func Validate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Annotate(err, "failed to open '%s'", path)
	}
	defer f.Close()
	if err := checkMagic(f); err != nil {
		return errors.Annotate(err, "invalid partition file '%s'", path)
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return errors.Annotate(err, "failed to open '%s'", path)
	}
	defer fr.Close()
	pr, _, err := openColumns(fr)
	if err != nil {
		return errors.Annotate(err, "failed to read parquet footer of '%s'", path)
	}
	pr.ReadStop()
	return nil
}

// cell renders a single parquet value as a string.
func cell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}

// ReadFile loads a single parquet file into a Frame. Nested schemas are
// flattened to their leaf columns.
func ReadFile(path string) (frame *table.Frame, err error) {
	if err := Validate(path); err != nil {
		return nil, err
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open '%s'", path)
	}
	defer fr.Close()
	pr, labels, err := openColumns(fr)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read parquet footer of '%s'", path)
	}
	defer pr.ReadStop()
	// The decoder panics on some kinds of corrupted pages.
	defer func() {
		if r := recover(); r != nil {
			frame = nil
			err = errors.Reason("failed to decode '%s': %v", path, r)
		}
	}()

	numRows := pr.GetNumRows()
	frame = table.NewFrame()
	for i, name := range labels {
		values := []string{}
		if numRows > 0 {
			raw, _, _, err := pr.ReadColumnByIndex(int64(i), numRows)
			if err != nil {
				return nil, errors.Annotate(err, "failed to read column '%s' of '%s'", name, path)
			}
			values = make([]string, len(raw))
			for j, v := range raw {
				values[j] = cell(v)
			}
		}
		frame.SetColumn(name, values)
	}
	return frame, nil
}

// partitionIndex parses the index from a partition file name like "3.parquet".
func partitionIndex(name string) (int, bool) {
	if !strings.HasSuffix(name, Ext) {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSuffix(name, Ext))
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// LoadDir reads all the partition files in dir in the order of their indices
// and combines them into a single Frame. Files not named by a partition index
// are ignored. An empty directory yields an empty Frame.
func LoadDir(ctx context.Context, dir string) (*table.Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Annotate(err, "failed to list '%s'", dir)
	}
	var indices []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		i, ok := partitionIndex(e.Name())
		if !ok {
			logging.Debugf(ctx, "ignoring '%s' in %s", e.Name(), dir)
			continue
		}
		indices = append(indices, i)
	}
	slices.Sort(indices)

	frame := table.NewFrame()
	for _, i := range indices {
		path := filepath.Join(dir, fmt.Sprintf("%d%s", i, Ext))
		f, err := ReadFile(path)
		if err != nil {
			return nil, errors.Annotate(err, "failed to load partition %d", i)
		}
		logging.Debugf(ctx, "loaded partition %d: %d rows, %d columns",
			i, f.NumRows(), f.NumColumns())
		frame.Append(f)
	}
	return frame, nil
}

// jsonSchema builds a parquet-go JSON schema of optional UTF-8 columns. The
// columns are addressed by their positional IDs, see columnID.
func jsonSchema(names []string) (string, error) {
	fields := make([]map[string]string, len(names))
	for i, name := range names {
		if name == "" || strings.ContainsAny(name, ",\t") || strings.TrimSpace(name) != name {
			return "", errors.Reason("column name '%s' cannot be stored in parquet", name)
		}
		fields[i] = map[string]string{
			"Tag": fmt.Sprintf(
				"name=%s, inname=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL",
				name, columnID(i)),
		}
	}
	b, err := json.Marshal(map[string]interface{}{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	})
	if err != nil {
		return "", errors.Annotate(err, "failed to marshal schema")
	}
	return string(b), nil
}

// Encode writes the frame to w as a parquet file of string columns.
func Encode(w io.Writer, frame *table.Frame) error {
	names := frame.Names()
	if len(names) == 0 {
		return errors.Reason("cannot encode a frame without columns")
	}
	schema, err := jsonSchema(names)
	if err != nil {
		return err
	}
	pf := writerfile.NewWriterFile(w)
	defer pf.Close()
	pw, err := writer.NewJSONWriter(schema, pf, 4)
	if err != nil {
		return errors.Annotate(err, "failed to create parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := 0; i < frame.NumRows(); i++ {
		row := make(map[string]string, len(names))
		for j, v := range frame.Row(i) {
			row[columnID(j)] = v
		}
		b, err := json.Marshal(row)
		if err != nil {
			pw.WriteStop()
			return errors.Annotate(err, "failed to marshal row %d", i)
		}
		if err := pw.Write(string(b)); err != nil {
			pw.WriteStop()
			return errors.Annotate(err, "failed to write row %d", i)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return errors.Annotate(err, "failed to finalize parquet file")
	}
	return nil
}
