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
	"fmt"
	"time"

	"github.com/galv-team/galv-fetch/galv"
	"github.com/galv-team/galv-fetch/table"
)

// Failure records a dataset or an item of a dataset which could not be
// downloaded.
type Failure struct {
	DatasetID string
	Item      int       // index of the column or partition; -1 for the dataset itself
	Kind      galv.Kind // 0 when the failure is not an API request failure
	Status    int       // HTTP status for galv.KindHTTPStatus
	Message   string
}

// newFailure classifies err into a Failure.
func newFailure(id string, item int, err error) Failure {
	f := Failure{DatasetID: id, Item: item, Message: err.Error()}
	if e := galv.AsError(err); e != nil {
		f.Kind = e.Kind
		f.Status = e.Status
	}
	return f
}

func (f Failure) String() string {
	where := "dataset " + f.DatasetID
	if f.Item >= 0 {
		where = fmt.Sprintf("%s item %d", where, f.Item)
	}
	switch f.Kind {
	case galv.KindHTTPStatus:
		return fmt.Sprintf("%s: HTTP%d: %s", where, f.Status, f.Message)
	case galv.KindTransport, galv.KindDecode, galv.KindSchema:
		return fmt.Sprintf("%s: %s: %s", where, f.Kind, f.Message)
	}
	return fmt.Sprintf("%s: %s", where, f.Message)
}

// Result of a FetchAll run. All the maps are keyed by dataset ID and contain
// only the IDs of the run; a failed dataset may be missing from some of them
// or be partially populated.
type Result struct {
	RunID     string
	Variant   galv.Variant
	Total     int // number of requested datasets, including duplicates
	Successes int
	Elapsed   time.Duration

	Metadata map[string]*galv.Dataset
	// Columns and Partitions hold the per-item metadata in the order of the
	// dataset's references, with nil for the items that failed. Only the map of
	// the run's Variant is populated.
	Columns        map[string][]*galv.Column
	Partitions     map[string][]*galv.Partition
	Tables         map[string]*table.Frame
	DatasetElapsed map[string]time.Duration
	Failures       []Failure

	ids []string // requested IDs, in order
}

func newResult(runID string, v galv.Variant, ids []string) *Result {
	return &Result{
		RunID:          runID,
		Variant:        v,
		Total:          len(ids),
		Metadata:       make(map[string]*galv.Dataset),
		Columns:        make(map[string][]*galv.Column),
		Partitions:     make(map[string][]*galv.Partition),
		Tables:         make(map[string]*table.Frame),
		DatasetElapsed: make(map[string]time.Duration),
		ids:            ids,
	}
}

// merge records the outcome of a single dataset. A later outcome for the same
// ID overwrites the parts it has.
func (r *Result) merge(d *datasetResult) {
	if d.metadata != nil {
		r.Metadata[d.id] = d.metadata
	}
	if d.columns != nil {
		r.Columns[d.id] = d.columns
	}
	if d.partitions != nil {
		r.Partitions[d.id] = d.partitions
	}
	if d.table != nil {
		r.Tables[d.id] = d.table
	}
	r.DatasetElapsed[d.id] = d.elapsed
	r.Failures = append(r.Failures, d.failures...)
	if d.ok {
		r.Successes++
	}
}

// IDs returns the requested dataset IDs which have a table, in the request
// order and without duplicates.
func (r *Result) IDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, id := range r.ids {
		if _, ok := r.Tables[id]; !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Summary is the one-line report of the run.
func (r *Result) Summary() string {
	return fmt.Sprintf("Successfully downloaded %d/%d datasets in %.2fs",
		r.Successes, r.Total, r.Elapsed.Seconds())
}
