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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/stockparfait/errors"
)

// Scratch is a temporary directory holding the downloaded partition files of a
// single dataset. The directory name is unique per call, so concurrent runs
// and duplicate dataset IDs never collide. Close removes the directory unless
// Keep is set; callers defer it right after a successful NewScratch.
type Scratch struct {
	Keep bool // leave the files on disk after Close
	dir  string
}

// sanitize makes a dataset ID safe to use in a file name.
func sanitize(id string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
	if strings.Trim(s, "._") == "" {
		return "dataset"
	}
	return s
}

// NewScratch creates a new scratch directory for the dataset under root. An
// empty root means the system temporary directory.
func NewScratch(root, datasetID string) (*Scratch, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, sanitize(datasetID)+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Annotate(err, "failed to create scratch dir '%s'", dir)
	}
	return &Scratch{dir: dir}, nil
}

// Dir is the path of the scratch directory.
func (s *Scratch) Dir() string {
	return s.dir
}

// Path of the i-th partition file.
func (s *Scratch) Path(i int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d%s", i, Ext))
}

// Create the i-th partition file for writing, truncating any previous one.
func (s *Scratch) Create(i int) (*os.File, error) {
	f, err := os.OpenFile(s.Path(i), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create partition file %d", i)
	}
	return f, nil
}

// Discard removes the i-th partition file, e.g. after a failed download. A
// missing file is not an error.
func (s *Scratch) Discard(i int) error {
	if err := os.Remove(s.Path(i)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Annotate(err, "failed to remove partition file %d", i)
	}
	return nil
}

// Close releases the scratch directory. It is safe to call more than once.
func (s *Scratch) Close() error {
	if s.Keep || s.dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return errors.Annotate(err, "failed to remove scratch dir '%s'", s.dir)
	}
	return nil
}
