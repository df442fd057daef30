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

package galv

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/stockparfait/errors"
)

// Variant is the shape in which the API exposes the data of a dataset.
type Variant string

// Values of Variant.
const (
	ColumnVariant    = Variant("columns")
	PartitionVariant = Variant("partitions")
)

// Key is the field of the dataset resource listing the variant's items.
func (v Variant) Key() string {
	if v == PartitionVariant {
		return "parquet_partitions"
	}
	return "columns"
}

// ParseVariant converts a string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case ColumnVariant, PartitionVariant:
		return v, nil
	}
	return "", errors.Reason("unknown variant '%s', expected one of: %s, %s",
		s, ColumnVariant, PartitionVariant)
}

// Dataset is the metadata of a dataset, which the API calls a file.
type Dataset struct {
	ID   string
	Name string
	URL  string                 // the resource URL it was fetched from
	Raw  map[string]interface{} // all the fields returned by the API
}

// Refs returns the list of item references for the variant: column URLs for
// ColumnVariant, partition URLs for PartitionVariant. A null list is empty,
// while a missing one is a schema error.
func (d *Dataset) Refs(v Variant) ([]string, error) {
	key := v.Key()
	raw, ok := d.Raw[key]
	if !ok {
		return nil, schemaError(d.URL, "missing field '%s'", key)
	}
	if raw == nil {
		return []string{}, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, schemaError(d.URL, "field '%s' is not a list: %v", key, raw)
	}
	refs := make([]string, len(list))
	for i, r := range list {
		s, ok := r.(string)
		if !ok {
			return nil, schemaError(d.URL, "%s[%d] is not a string: %v", key, i, r)
		}
		refs[i] = s
	}
	return refs, nil
}

func stringField(obj map[string]interface{}, key string) (string, bool) {
	s, ok := obj[key].(string)
	return s, ok
}

// FetchDataset obtains the metadata of the dataset by its ID.
func FetchDataset(ctx context.Context, id string) (*Dataset, error) {
	client := GetClient(ctx)
	if client == nil {
		return nil, errors.Reason("no client in context")
	}
	uri := client.endpoint("files", id)
	obj, err := client.getObject(ctx, uri)
	if err != nil {
		return nil, err
	}
	d := Dataset{ID: id, URL: uri, Raw: obj}
	if s, ok := stringField(obj, "id"); ok {
		d.ID = s
	}
	d.Name, _ = stringField(obj, "name")
	return &d, nil
}

// isDigits tests if s is a non-empty string of ASCII digits.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ColumnID extracts the numeric column ID from a column reference URL. It is
// the last path segment consisting only of digits, e.g. 42 in
// "https://host/columns/42/?format=json".
func ColumnID(ref string) (int, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return 0, schemaError(ref, "invalid column reference: %s", err.Error())
	}
	segments := strings.Split(u.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if !isDigits(segments[i]) {
			continue
		}
		id, err := strconv.Atoi(segments[i])
		if err != nil {
			return 0, schemaError(ref, "column ID out of range: %s", segments[i])
		}
		return id, nil
	}
	return 0, schemaError(ref, "no numeric ID in column reference")
}

// Column metadata.
type Column struct {
	ID         int
	Name       string
	NameInFile string // used as the column label in the dataset table
	URL        string
	Raw        map[string]interface{}
}

// FetchColumn obtains the column metadata by its ID.
func FetchColumn(ctx context.Context, id int) (*Column, error) {
	client := GetClient(ctx)
	if client == nil {
		return nil, errors.Reason("no client in context")
	}
	uri := client.endpoint("columns", strconv.Itoa(id))
	obj, err := client.getObject(ctx, uri)
	if err != nil {
		return nil, err
	}
	nameInFile, ok := stringField(obj, "name_in_file")
	if !ok {
		return nil, schemaError(uri, "missing string field 'name_in_file'")
	}
	c := Column{ID: id, NameInFile: nameInFile, URL: uri, Raw: obj}
	c.Name, _ = stringField(obj, "name")
	return &c, nil
}

// FetchColumnValues downloads the values of the column as newline-separated
// UTF-8 text and splits it into individual values.
func FetchColumnValues(ctx context.Context, id int) ([]string, error) {
	client := GetClient(ctx)
	if client == nil {
		return nil, errors.Reason("no client in context")
	}
	uri := client.endpoint("columns", strconv.Itoa(id), "values")
	body, err := client.getBytes(ctx, uri, client.files)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(body) {
		return nil, decodeError(uri, "column values are not valid UTF-8", nil)
	}
	return strings.Split(string(body), "\n"), nil
}

// Partition is the reference document of a single parquet partition.
type Partition struct {
	Number      int
	ParquetFile string // URL of the actual parquet file
	URL         string
	Raw         map[string]interface{}
}

// FetchPartition obtains the partition document from its reference URL.
func FetchPartition(ctx context.Context, ref string) (*Partition, error) {
	client := GetClient(ctx)
	if client == nil {
		return nil, errors.Reason("no client in context")
	}
	uri, err := client.resolve(ref)
	if err != nil {
		return nil, err
	}
	obj, err := client.getObject(ctx, uri)
	if err != nil {
		return nil, err
	}
	file, ok := stringField(obj, "parquet_file")
	if !ok || file == "" {
		return nil, schemaError(uri, "missing string field 'parquet_file'")
	}
	p := Partition{ParquetFile: file, URL: uri, Raw: obj}
	if n, ok := obj["partition_number"].(float64); ok {
		p.Number = int(n)
	}
	return &p, nil
}

// Download streams the raw bytes at uri into w, presenting the same
// credentials as the other API calls. It returns the number of bytes written.
func Download(ctx context.Context, uri string, w io.Writer) (int64, error) {
	client := GetClient(ctx)
	if client == nil {
		return 0, errors.Reason("no client in context")
	}
	abs, err := client.resolve(uri)
	if err != nil {
		return 0, err
	}
	return client.download(ctx, abs, w)
}
