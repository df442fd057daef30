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

package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stockparfait/errors"

	"github.com/galv-team/galv-fetch/galv"
	"github.com/galv-team/galv-fetch/partition"
	"github.com/galv-team/galv-fetch/table"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeGalv serves canned bodies by URL path; unknown paths are 404.
type fakeGalv struct {
	server *httptest.Server
	mu     sync.Mutex
	bodies map[string][]byte
	status map[string]int
}

func newFakeGalv() *fakeGalv {
	g := &fakeGalv{bodies: map[string][]byte{}, status: map[string]int{}}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if code, ok := g.status[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		body, ok := g.bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	return g
}

func (g *fakeGalv) Close() { g.server.Close() }

func (g *fakeGalv) url(path string) string { return g.server.URL + path }

func (g *fakeGalv) set(path, body string) { g.bodies[path] = []byte(body) }

// column registers a column with its values.
func (g *fakeGalv) column(id int, nameInFile, values string) {
	g.set(fmt.Sprintf("/columns/%d/", id),
		fmt.Sprintf(`{"id": %d, "name": "%s column", "name_in_file": "%s"}`, id, nameInFile, nameInFile))
	g.set(fmt.Sprintf("/columns/%d/values/", id), values)
}

// dataset registers a dataset resource listing the given references.
func (g *fakeGalv) dataset(id, key string, refs ...string) {
	quoted := make([]string, len(refs))
	for i, r := range refs {
		quoted[i] = fmt.Sprintf(`"%s"`, r)
	}
	g.set("/files/"+id+"/", fmt.Sprintf(`{"id": "%s", "name": "%s.csv", "%s": [%s]}`,
		id, id, key, strings.Join(quoted, ", ")))
}

// partition registers a partition document pointing at a blob.
func (g *fakeGalv) partition(n int, blob []byte) string {
	ref := fmt.Sprintf("/parquet_partitions/%d/", n)
	blobPath := fmt.Sprintf("/blobs/%d.parquet", n)
	g.set(ref, fmt.Sprintf(`{"partition_number": %d, "parquet_file": "%s"}`, n, g.url(blobPath)))
	if blob != nil {
		g.bodies[blobPath] = blob
	}
	return g.url(ref)
}

func (g *fakeGalv) context() context.Context {
	return galv.UseClient(context.Background(),
		galv.NewClient(g.server.URL, "token", g.server.Client()))
}

func parquetBlob(columns ...[]string) []byte {
	f := table.NewFrame()
	for _, c := range columns {
		f.SetColumn(c[0], c[1:])
	}
	var buf bytes.Buffer
	if err := partition.Encode(&buf, f); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func column(f *table.Frame, name string) []string {
	v, _ := f.Column(name)
	return v
}

func TestFetchAll(t *testing.T) {
	t.Parallel()

	Convey("FetchAll with columns", t, func() {
		g := newFakeGalv()
		defer g.Close()
		ctx := g.context()

		g.status["/files/A/"] = http.StatusNotFound
		g.dataset("B", "columns", g.url("/columns/1/"), g.url("/columns/2/?x=1"))
		g.column(1, "V", "3.1\n3.2\n3.3")
		g.column(2, "I", "0.5\n0.6")
		g.dataset("Z", "columns")

		Convey("skips a dataset which fails and reports the tally", func() {
			res, err := FetchAll(ctx, []string{"A", "B"}, Options{})
			So(err, ShouldBeNil)
			So(res.Total, ShouldEqual, 2)
			So(res.Successes, ShouldEqual, 1)
			So(res.Variant, ShouldEqual, galv.ColumnVariant)
			So(res.RunID, ShouldNotEqual, "")
			So(res.Summary(), ShouldStartWith, "Successfully downloaded 1/2 datasets in ")

			_, ok := res.Tables["A"]
			So(ok, ShouldBeFalse)
			_, ok = res.Metadata["A"]
			So(ok, ShouldBeFalse)
			So(len(res.Failures), ShouldEqual, 1)
			So(res.Failures[0].DatasetID, ShouldEqual, "A")
			So(res.Failures[0].Item, ShouldEqual, -1)
			So(res.Failures[0].Kind, ShouldEqual, galv.KindHTTPStatus)
			So(res.Failures[0].Status, ShouldEqual, 404)
			So(res.Failures[0].String(), ShouldContainSubstring, "dataset A: HTTP404")

			b := res.Tables["B"]
			So(b, ShouldNotBeNil)
			So(b.Names(), ShouldResemble, []string{"V", "I"})
			So(column(b, "V"), ShouldResemble, []string{"3.1", "3.2", "3.3"})
			So(column(b, "I"), ShouldResemble, []string{"0.5", "0.6"})
			So(res.Metadata["B"].Name, ShouldEqual, "B.csv")
			So(len(res.Columns["B"]), ShouldEqual, 2)
			So(res.Columns["B"][1].NameInFile, ShouldEqual, "I")
			So(res.IDs(), ShouldResemble, []string{"B"})
			_, ok = res.DatasetElapsed["B"]
			So(ok, ShouldBeTrue)
		})

		Convey("every dataset failing still completes", func() {
			g.status["/files/C/"] = http.StatusInternalServerError
			res, err := FetchAll(ctx, []string{"A", "C"}, Options{})
			So(err, ShouldBeNil)
			So(res.Successes, ShouldEqual, 0)
			So(res.Summary(), ShouldStartWith, "Successfully downloaded 0/2 datasets")
			So(len(res.Tables), ShouldEqual, 0)
			So(len(res.Failures), ShouldEqual, 2)
		})

		Convey("a dataset without columns is an empty success", func() {
			res, err := FetchAll(ctx, []string{"Z"}, Options{})
			So(err, ShouldBeNil)
			So(res.Successes, ShouldEqual, 1)
			z, ok := res.Tables["Z"]
			So(ok, ShouldBeTrue)
			So(z.NumColumns(), ShouldEqual, 0)
			So(z.NumRows(), ShouldEqual, 0)
		})

		Convey("failed columns are skipped", func() {
			g.dataset("D", "columns",
				g.url("/columns/abc/"),  // no numeric ID
				g.url("/columns/3/"),    // 404
				g.url("/columns/1/"),    // fine
				g.url("/columns/4/"),    // bad values
				g.url("/columns/5/"))    // no name_in_file
			g.set("/columns/4/", `{"id": 4, "name_in_file": "T"}`)
			g.set("/columns/4/values/", "1\n\xff")
			g.set("/columns/5/", `{"id": 5}`)

			res, err := FetchAll(ctx, []string{"D"}, Options{})
			So(err, ShouldBeNil)
			So(res.Successes, ShouldEqual, 1)
			d := res.Tables["D"]
			So(d.Names(), ShouldResemble, []string{"V"})

			cols := res.Columns["D"]
			So(len(cols), ShouldEqual, 5)
			So(cols[0], ShouldBeNil)
			So(cols[1], ShouldBeNil)
			So(cols[2].ID, ShouldEqual, 1)
			So(cols[3].NameInFile, ShouldEqual, "T") // metadata arrived, values did not
			So(cols[4], ShouldBeNil)

			So(len(res.Failures), ShouldEqual, 4)
			kinds := make([]galv.Kind, len(res.Failures))
			items := make([]int, len(res.Failures))
			for i, f := range res.Failures {
				kinds[i] = f.Kind
				items[i] = f.Item
			}
			So(items, ShouldResemble, []int{0, 1, 3, 4})
			So(kinds, ShouldResemble, []galv.Kind{
				galv.KindSchema, galv.KindHTTPStatus, galv.KindDecode, galv.KindSchema})
		})

		Convey("a dataset without the columns field fails", func() {
			g.set("/files/E/", `{"id": "E", "parquet_partitions": []}`)
			res, err := FetchAll(ctx, []string{"E"}, Options{})
			So(err, ShouldBeNil)
			So(res.Successes, ShouldEqual, 0)
			_, ok := res.Metadata["E"]
			So(ok, ShouldBeTrue) // partial population
			_, ok = res.Tables["E"]
			So(ok, ShouldBeFalse)
			So(res.Failures[0].Kind, ShouldEqual, galv.KindSchema)
		})

		Convey("duplicate IDs are processed independently", func() {
			res, err := FetchAll(ctx, []string{"B", "A", "B"}, Options{})
			So(err, ShouldBeNil)
			So(res.Total, ShouldEqual, 3)
			So(res.Successes, ShouldEqual, 2)
			So(res.IDs(), ShouldResemble, []string{"B"})
		})

		Convey("workers give the same result", func() {
			ids := []string{"A", "B", "Z", "B", "A"}
			seq, err := FetchAll(ctx, ids, Options{})
			So(err, ShouldBeNil)
			par, err := FetchAll(ctx, ids, Options{Workers: 3})
			So(err, ShouldBeNil)
			So(par.Successes, ShouldEqual, seq.Successes)
			So(par.Successes, ShouldEqual, 3)
			So(par.IDs(), ShouldResemble, seq.IDs())
			So(par.Tables["B"].Names(), ShouldResemble, []string{"V", "I"})
			So(len(par.Failures), ShouldEqual, len(seq.Failures))
			for i := range par.Failures {
				So(par.Failures[i].DatasetID, ShouldEqual, seq.Failures[i].DatasetID)
			}
		})

		Convey("a canceled run reports every dataset", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			for _, workers := range []int{1, 3} {
				res, err := FetchAll(cctx, []string{"A", "B", "Z"}, Options{Workers: workers})
				So(err, ShouldBeNil)
				So(res.Successes, ShouldEqual, 0)
				So(res.Summary(), ShouldStartWith, "Successfully downloaded 0/3 datasets")
				So(len(res.Failures), ShouldEqual, 3)
				for i, id := range []string{"A", "B", "Z"} {
					So(res.Failures[i].DatasetID, ShouldEqual, id)
					So(res.Failures[i].Kind, ShouldEqual, galv.KindTransport)
				}
			}
		})

		Convey("result keys are a subset of the requested IDs", func() {
			ids := []string{"A", "B", "Z", "nope"}
			res, err := FetchAll(ctx, ids, Options{Workers: 2})
			So(err, ShouldBeNil)
			So(res.Successes, ShouldBeLessThanOrEqualTo, len(ids))
			for id := range res.Tables {
				So(ids, ShouldContain, id)
			}
			for id := range res.Metadata {
				So(ids, ShouldContain, id)
			}
		})

		Convey("invalid arguments", func() {
			_, err := FetchAll(ctx, nil, Options{})
			So(err, ShouldNotBeNil)
			_, err = FetchAll(context.Background(), []string{"B"}, Options{})
			So(err, ShouldNotBeNil)
			_, err = FetchAll(ctx, []string{"B"}, Options{Variant: "rows"})
			So(err, ShouldNotBeNil)
		})
	})

	Convey("FetchAll with partitions", t, func() {
		g := newFakeGalv()
		defer g.Close()
		ctx := g.context()

		tmpdir, err := os.MkdirTemp("", "test_fetcher")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tmpdir)
		opts := Options{Variant: galv.PartitionVariant, TempDir: tmpdir}

		p0 := g.partition(0, parquetBlob([]string{"V", "1", "2"}, []string{"current (A)", "0.1", "0.2"}))
		p1 := g.partition(1, nil) // the blob is missing
		p2 := g.partition(2, parquetBlob([]string{"V", "3"}))
		p3 := g.partition(3, []byte("definitely not parquet"))
		g.dataset("P", "parquet_partitions", p0, p1, p2)

		Convey("combines the downloaded partitions", func() {
			res, err := FetchAll(ctx, []string{"P"}, opts)
			So(err, ShouldBeNil)
			So(res.Successes, ShouldEqual, 1)
			p := res.Tables["P"]
			So(p.Names(), ShouldResemble, []string{"V", "current (A)"})
			So(column(p, "V"), ShouldResemble, []string{"1", "2", "3"})
			So(column(p, "current (A)"), ShouldResemble, []string{"0.1", "0.2", ""})

			So(len(res.Partitions["P"]), ShouldEqual, 3)
			So(res.Partitions["P"][1].Number, ShouldEqual, 1)
			So(len(res.Failures), ShouldEqual, 1)
			So(res.Failures[0].Item, ShouldEqual, 1)
			So(res.Failures[0].Kind, ShouldEqual, galv.KindHTTPStatus)

			entries, err := os.ReadDir(tmpdir)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 0) // scratch dir removed
		})

		Convey("corrupt partitions are skipped", func() {
			g.dataset("Q", "parquet_partitions", p3, p2)
			res, err := FetchAll(ctx, []string{"Q"}, opts)
			So(err, ShouldBeNil)
			So(res.Successes, ShouldEqual, 1)
			So(column(res.Tables["Q"], "V"), ShouldResemble, []string{"3"})
			So(res.Failures[0].Item, ShouldEqual, 0)
			So(res.Failures[0].Kind, ShouldEqual, galv.KindDecode)
		})

		Convey("no partitions give an empty table", func() {
			g.dataset("R", "parquet_partitions")
			res, err := FetchAll(ctx, []string{"R"}, opts)
			So(err, ShouldBeNil)
			So(res.Successes, ShouldEqual, 1)
			So(res.Tables["R"].NumRows(), ShouldEqual, 0)
		})

		Convey("partition documents without a file fail the item", func() {
			g.set("/parquet_partitions/9/", `{"partition_number": 9}`)
			g.dataset("S", "parquet_partitions", g.url("/parquet_partitions/9/"), p2)
			res, err := FetchAll(ctx, []string{"S"}, opts)
			So(err, ShouldBeNil)
			So(res.Successes, ShouldEqual, 1)
			So(res.Partitions["S"][0], ShouldBeNil)
			So(res.Failures[0].Kind, ShouldEqual, galv.KindSchema)
		})

		Convey("a failed load leaves an empty table", func() {
			r := runner{opts: opts, load: func(context.Context, string) (*table.Frame, error) {
				return nil, errors.Reason("disk trouble")
			}}
			d := r.fetchDataset(ctx, job{index: 0, id: "P"})
			So(d.ok, ShouldBeTrue)
			So(d.table.NumColumns(), ShouldEqual, 0)
			So(len(d.failures), ShouldEqual, 2)
			So(d.failures[0].Item, ShouldEqual, 1)
			So(d.failures[1].Item, ShouldEqual, -1)
			So(d.failures[1].Kind, ShouldEqual, galv.KindDecode)
			So(d.failures[1].Message, ShouldContainSubstring, "disk trouble")

			entries, err := os.ReadDir(tmpdir)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 0)
		})

		Convey("KeepTemp leaves the files", func() {
			opts.KeepTemp = true
			res, err := FetchAll(ctx, []string{"P", "P"}, opts)
			So(err, ShouldBeNil)
			So(res.Successes, ShouldEqual, 2)
			entries, err := os.ReadDir(tmpdir)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 2) // unique dir per dataset run
			files, err := filepath.Glob(filepath.Join(tmpdir, "P-*", "*.parquet"))
			So(err, ShouldBeNil)
			So(len(files), ShouldEqual, 4) // partitions 0 and 2, twice
		})
	})
}
