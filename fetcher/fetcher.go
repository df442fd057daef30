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

// Package fetcher downloads a list of Galv datasets into in-memory tables.
//
// FetchAll walks the datasets in order and, within each dataset, its columns
// or partitions in the order listed by the metadata. A failure of a dataset's
// metadata request skips that dataset; a failure of a single column or
// partition skips that item only. Neither stops the run, which always ends
// with a Result and its "<successes>/<total>" summary.
package fetcher

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/iterator"
	"github.com/stockparfait/logging"

	"github.com/galv-team/galv-fetch/galv"
	"github.com/galv-team/galv-fetch/partition"
	"github.com/galv-team/galv-fetch/table"
)

// Options of a FetchAll run.
type Options struct {
	Variant  galv.Variant // default: galv.ColumnVariant
	TempDir  string       // root of partition scratch dirs; default: system temp dir
	KeepTemp bool         // keep downloaded partition files after the run
	Workers  int          // datasets downloaded concurrently; <= 1 means sequentially
}

// datasetResult is the outcome of a single dataset, owned by one worker until
// it's merged into the Result.
type datasetResult struct {
	index      int // position in the requested IDs
	id         string
	metadata   *galv.Dataset
	columns    []*galv.Column
	partitions []*galv.Partition
	table      *table.Frame
	failures   []Failure
	ok         bool
	elapsed    time.Duration
}

// datasetFailed records and logs a dataset-level failure.
func (d *datasetResult) datasetFailed(ctx context.Context, err error) {
	f := newFailure(d.id, -1, err)
	d.failures = append(d.failures, f)
	logging.Errorf(ctx, "Error downloading %s", f)
}

// itemFailed records and logs an item-level failure. A non-zero kind overrides
// the kind derived from err.
func (d *datasetResult) itemFailed(ctx context.Context, item int, kind galv.Kind, err error) {
	f := newFailure(d.id, item, err)
	if kind != 0 {
		f.Kind = kind
	}
	d.failures = append(d.failures, f)
	logging.Warningf(ctx, "Error downloading %s; skipping", f)
}

type job struct {
	index int
	id    string
}

type runner struct {
	opts Options
	load func(ctx context.Context, dir string) (*table.Frame, error)
}

// fetchColumns downloads every column of the dataset into a new table.
func (r *runner) fetchColumns(ctx context.Context, d *datasetResult, refs []string) {
	d.columns = make([]*galv.Column, len(refs))
	d.table = table.NewFrame()
	for i, ref := range refs {
		logging.Infof(ctx, "Downloading dataset %s column %d", d.id, i)
		id, err := galv.ColumnID(ref)
		if err != nil {
			d.itemFailed(ctx, i, 0, err)
			continue
		}
		c, err := galv.FetchColumn(ctx, id)
		if err != nil {
			d.itemFailed(ctx, i, 0, err)
			continue
		}
		d.columns[i] = c
		values, err := galv.FetchColumnValues(ctx, id)
		if err != nil {
			d.itemFailed(ctx, i, 0, err)
			continue
		}
		d.table.SetColumn(c.NameInFile, values)
	}
}

// downloadPartition fetches the partition document and its parquet file into
// the scratch dir. A file that fails to download or validate is discarded.
func (r *runner) downloadPartition(ctx context.Context, s *partition.Scratch, d *datasetResult, i int, ref string) {
	p, err := galv.FetchPartition(ctx, ref)
	if err != nil {
		d.itemFailed(ctx, i, 0, err)
		return
	}
	d.partitions[i] = p

	f, err := s.Create(i)
	if err != nil {
		d.itemFailed(ctx, i, 0, err)
		return
	}
	n, err := galv.Download(ctx, p.ParquetFile, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Annotate(cerr, "failed to close partition file %d", i)
	}
	kind := galv.Kind(0)
	if err == nil {
		if err = partition.Validate(s.Path(i)); err != nil {
			kind = galv.KindDecode
		}
	}
	if err != nil {
		if derr := s.Discard(i); derr != nil {
			logging.Warningf(ctx, "dataset %s: %s", d.id, derr.Error())
		}
		d.itemFailed(ctx, i, kind, err)
		return
	}
	logging.Debugf(ctx, "dataset %s partition %d: %d bytes", d.id, i, n)
}

// fetchPartitions downloads every partition of the dataset into a scratch dir
// and loads them as a single table. The scratch dir is released on return.
func (r *runner) fetchPartitions(ctx context.Context, d *datasetResult, refs []string) {
	d.table = table.NewFrame() // even when no partition can be loaded
	s, err := partition.NewScratch(r.opts.TempDir, d.id)
	if err != nil {
		d.datasetFailed(ctx, err)
		return
	}
	s.Keep = r.opts.KeepTemp
	defer func() {
		if err := s.Close(); err != nil {
			logging.Warningf(ctx, "dataset %s: %s", d.id, err.Error())
		}
	}()

	d.partitions = make([]*galv.Partition, len(refs))
	for i, ref := range refs {
		logging.Infof(ctx, "Downloading dataset %s partition %d", d.id, i)
		r.downloadPartition(ctx, s, d, i, ref)
	}
	frame, err := r.load(ctx, s.Dir())
	if err != nil {
		d.datasetFailed(ctx, &galv.Error{
			Kind:   galv.KindDecode,
			URL:    d.metadata.URL,
			Reason: "failed to load partitions",
			Err:    err,
		})
		return
	}
	if s.Keep {
		logging.Infof(ctx, "Partition files of dataset %s are kept in %s", d.id, s.Dir())
	}
	d.table = frame
}

// fetchDataset downloads a single dataset. It never fails as a whole: all the
// failures are recorded in the result.
func (r *runner) fetchDataset(ctx context.Context, j job) *datasetResult {
	start := time.Now()
	d := &datasetResult{index: j.index, id: j.id}
	defer func() { d.elapsed = time.Since(start) }()

	logging.Infof(ctx, "Downloading dataset %s", j.id)
	md, err := galv.FetchDataset(ctx, j.id)
	if err != nil {
		d.datasetFailed(ctx, err)
		return d
	}
	d.metadata = md

	refs, err := md.Refs(r.opts.Variant)
	if err != nil {
		d.datasetFailed(ctx, err)
		return d
	}
	logging.Infof(ctx, "Dataset %s has %d %s to download", j.id, len(refs), r.opts.Variant)

	switch r.opts.Variant {
	case galv.PartitionVariant:
		r.fetchPartitions(ctx, d, refs)
	default:
		r.fetchColumns(ctx, d, refs)
	}
	if d.table == nil {
		return d
	}
	d.ok = true
	logging.Infof(ctx, "Finished downloading dataset %s in %.2fs",
		j.id, time.Since(start).Seconds())
	return d
}

// run processes the jobs, sequentially or by a pool of workers, and returns
// their results in the job order.
func (r *runner) run(ctx context.Context, jobs []job) []*datasetResult {
	results := make([]*datasetResult, len(jobs))
	if r.opts.Workers > 1 && len(jobs) > 1 {
		pctx, cancel := context.WithCancel(ctx)
		defer cancel()
		f := func(j job) *datasetResult { return r.fetchDataset(pctx, j) }
		pm := iterator.ParallelMap(pctx, r.opts.Workers, iterator.FromSlice(jobs), f)
		results = iterator.Reduce[*datasetResult, []*datasetResult](pm, results,
			func(d *datasetResult, acc []*datasetResult) []*datasetResult {
				acc[d.index] = d
				return acc
			})
	}
	// Jobs not started by the pool, if its context was canceled, run here and
	// fail fast.
	for i, j := range jobs {
		if results[i] == nil {
			results[i] = r.fetchDataset(ctx, j)
		}
	}
	return results
}

// FetchAll downloads the datasets with the given IDs using the galv.Client in
// the context. Only invalid arguments result in an error; all download
// failures are logged and recorded in the Result.
func FetchAll(ctx context.Context, ids []string, opts Options) (*Result, error) {
	if len(ids) == 0 {
		return nil, errors.Reason("no dataset IDs to download")
	}
	client := galv.GetClient(ctx)
	if client == nil {
		return nil, errors.Reason("no client in context")
	}
	if opts.Variant == "" {
		opts.Variant = galv.ColumnVariant
	}
	if _, err := galv.ParseVariant(string(opts.Variant)); err != nil {
		return nil, errors.Annotate(err, "invalid options")
	}
	if opts.Variant == galv.PartitionVariant && opts.TempDir != "" {
		if err := os.MkdirAll(opts.TempDir, 0700); err != nil {
			return nil, errors.Annotate(err, "failed to create temp dir '%s'", opts.TempDir)
		}
	}

	start := time.Now()
	res := newResult(uuid.NewString(), opts.Variant, ids)
	logging.Infof(ctx, "Downloading %d datasets from %s", len(ids), client.Host())

	jobs := make([]job, len(ids))
	for i, id := range ids {
		jobs[i] = job{index: i, id: id}
	}
	r := runner{opts: opts, load: partition.LoadDir}
	for _, d := range r.run(ctx, jobs) {
		res.merge(d)
	}
	res.Elapsed = time.Since(start)
	logging.Infof(ctx, "%s", res.Summary())
	return res, nil
}
