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

package main

import (
	"os"
	"strings"
	"unicode"

	"github.com/stockparfait/errors"

	"github.com/galv-team/galv-fetch/galv"
	"github.com/galv-team/galv-fetch/message"

	toml "github.com/pelletier/go-toml/v2"
)

// Environment variables recognized as configuration.
const (
	EnvHost     = "GALV_API_HOST"
	EnvToken    = "GALV_USER_TOKEN"
	EnvDatasets = "GALV_DATASET_IDS" // comma or whitespace separated
)

// Config of a download run, assembled from a TOML file, the environment and
// the command line, in the order of increasing priority.
type Config struct {
	Host     string   `json:"host" required:"true"`     // e.g. https://api.galv.example.org
	Token    string   `json:"token" required:"true"`    // Galv user API token
	Datasets []string `json:"datasets" required:"true"` // dataset (file) IDs
	Variant  string   `json:"variant" default:"columns" choices:"columns,partitions"`
	Verbose  bool     `json:"verbose" default:"true"`
	Workers  int      `json:"workers" default:"1"`
	TempDir  string   `json:"temp_dir"` // default: system temp dir
	KeepTemp bool     `json:"keep_temp"`
}

var _ message.Message = &Config{}

// InitMessage implements message.Message.
func (c *Config) InitMessage(js interface{}) error {
	if err := message.Init(c, js); err != nil {
		return err
	}
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		return errors.Reason("host must not be empty")
	}
	if c.Token == "" {
		return errors.Reason("token must not be empty")
	}
	if len(c.Datasets) == 0 {
		return errors.Reason("at least one dataset ID is required")
	}
	for i, id := range c.Datasets {
		if id == "" {
			return errors.Reason("dataset ID %d is empty", i)
		}
	}
	if c.Workers < 1 {
		return errors.Reason("workers must be >= 1, got %d", c.Workers)
	}
	return nil
}

// FetchVariant is the typed form of Variant.
func (c *Config) FetchVariant() galv.Variant {
	v, err := galv.ParseVariant(c.Variant)
	if err != nil { // guarded by the choices tag
		return galv.ColumnVariant
	}
	return v
}

// splitIDs splits a list of IDs separated by commas and/or whitespace.
func splitIDs(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// readTOML reads the config file into a generic tree.
func readTOML(path string) (map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open config file %s", path)
	}
	defer f.Close()

	tree := make(map[string]interface{})
	if err := toml.NewDecoder(f).Decode(&tree); err != nil {
		return nil, errors.Annotate(err, "failed to read config file %s", path)
	}
	return tree, nil
}

// applyEnv overrides the tree with the configuration environment variables.
func applyEnv(tree map[string]interface{}, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvHost); ok && v != "" {
		tree["host"] = v
	}
	if v, ok := lookup(EnvToken); ok && v != "" {
		tree["token"] = v
	}
	if v, ok := lookup(EnvDatasets); ok && strings.TrimSpace(v) != "" {
		tree["datasets"] = splitIDs(v)
	}
}

// applyFlags overrides the tree with the explicitly set command line flags.
func applyFlags(tree map[string]interface{}, flags *Flags) {
	set := func(flag, key string, v interface{}) {
		if flags.set[flag] {
			tree[key] = v
		}
	}
	set("host", "host", flags.Host)
	set("token", "token", flags.Token)
	set("datasets", "datasets", splitIDs(flags.Datasets))
	set("variant", "variant", flags.Variant)
	set("verbose", "verbose", flags.Verbose)
	set("workers", "workers", flags.Workers)
	set("tmp", "temp_dir", flags.TempDir)
	set("keep-tmp", "keep_temp", flags.KeepTemp)
}

// parseConfig assembles and validates the configuration.
func parseConfig(flags *Flags, lookup func(string) (string, bool)) (*Config, error) {
	tree := make(map[string]interface{})
	if flags.Config != "" {
		t, err := readTOML(flags.Config)
		if err != nil {
			return nil, err
		}
		tree = t
	}
	applyEnv(tree, lookup)
	applyFlags(tree, flags)

	var c Config
	if err := c.InitMessage(tree); err != nil {
		return nil, errors.Annotate(err, "invalid configuration")
	}
	return &c, nil
}
