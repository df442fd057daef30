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

// Command galv-fetch downloads datasets from a Galv server and prints or saves
// them as tables.
//
// Example:
//
//   export GALV_API_HOST=https://api.galv.example.org
//   export GALV_USER_TOKEN=...
//   galv-fetch -datasets 1f3a...,9c2e... -variant partitions -out data -format csv
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	"github.com/galv-team/galv-fetch/fetcher"
	"github.com/galv-team/galv-fetch/galv"
	"github.com/galv-team/galv-fetch/message"
	"github.com/galv-team/galv-fetch/partition"
	"github.com/galv-team/galv-fetch/table"
)

type Flags struct {
	Config   string // optional TOML config file
	Host     string
	Token    string
	Datasets string // comma or whitespace separated IDs
	Variant  string
	Workers  int
	TempDir  string
	KeepTemp bool
	Verbose  bool
	Timeout  time.Duration // per request; 0 = none
	Out      string        // output directory; default: print to stdout
	Format   string        // csv, text or parquet
	Rows     int           // rows to print per dataset without -out; 0 = all
	Describe bool          // print column summaries
	LogLevel logging.Level

	set map[string]bool // flags present on the command line
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("galv-fetch", flag.ExitOnError)
	fs.StringVar(&flags.Config, "config", "", "TOML config file")
	fs.StringVar(&flags.Host, "host", "", "Galv API host (overrides $"+EnvHost+")")
	fs.StringVar(&flags.Token, "token", "", "Galv user token (overrides $"+EnvToken+")")
	fs.StringVar(&flags.Datasets, "datasets", "",
		"comma separated dataset IDs (overrides $"+EnvDatasets+")")
	fs.StringVar(&flags.Variant, "variant", string(galv.ColumnVariant),
		"download method: columns or partitions")
	fs.IntVar(&flags.Workers, "workers", 1, "datasets to download concurrently")
	fs.StringVar(&flags.TempDir, "tmp", "", "directory for partition downloads")
	fs.BoolVar(&flags.KeepTemp, "keep-tmp", false, "keep downloaded partition files")
	fs.BoolVar(&flags.Verbose, "verbose", true, "log progress; otherwise only failures")
	fs.DurationVar(&flags.Timeout, "timeout", 0, "HTTP request timeout, e.g. 30s")
	fs.StringVar(&flags.Out, "out", "", "write one file per dataset to this directory")
	fs.StringVar(&flags.Format, "format", "csv", "output format: csv, text, parquet")
	fs.IntVar(&flags.Rows, "rows", 10, "rows to print per dataset; 0 for all")
	fs.BoolVar(&flags.Describe, "describe", false, "print numeric column summaries")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errors.Reason("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if !message.StringIn(flags.Format, "csv", "text", "parquet") {
		return nil, errors.Reason("unsupported -format: %s", flags.Format)
	}
	if flags.Rows < 0 {
		return nil, errors.Reason("-rows must be >= 0")
	}
	flags.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { flags.set[f.Name] = true })
	return &flags, nil
}

// fileName turns a dataset ID into a safe file name.
func fileName(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r < ' ' {
			return '_'
		}
		return r
	}, id)
}

func extension(format string) string {
	switch format {
	case "text":
		return ".txt"
	case "parquet":
		return partition.Ext
	}
	return ".csv"
}

func writeFrame(w io.Writer, f *table.Frame, format string) error {
	switch format {
	case "parquet":
		return partition.Encode(w, f)
	case "text":
		return f.Table().WriteText(w, table.Params{})
	}
	return f.Table().WriteCSV(w, table.Params{})
}

func saveFrame(path string, f *table.Frame, format string) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return errors.Annotate(err, "failed to create %s", path)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = errors.Annotate(cerr, "failed to close %s", path)
		}
	}()
	if err = writeFrame(out, f, format); err != nil {
		return errors.Annotate(err, "failed to write %s", path)
	}
	return nil
}

// printResult saves or prints every successfully downloaded dataset.
func printResult(ctx context.Context, flags *Flags, res *fetcher.Result, w io.Writer) error {
	if flags.Out != "" {
		if err := os.MkdirAll(flags.Out, 0755); err != nil {
			return errors.Annotate(err, "failed to create output dir %s", flags.Out)
		}
	}
	for _, id := range res.IDs() {
		f := res.Tables[id]
		if flags.Out != "" {
			if flags.Format == "parquet" && f.NumColumns() == 0 {
				logging.Warningf(ctx, "dataset %s has no columns, not saved", id)
				continue
			}
			path := filepath.Join(flags.Out, fileName(id)+extension(flags.Format))
			if err := saveFrame(path, f, flags.Format); err != nil {
				return errors.Annotate(err, "failed to save dataset %s", id)
			}
			logging.Infof(ctx, "saved %s", path)
		} else {
			name := ""
			if d := res.Metadata[id]; d != nil && d.Name != "" {
				name = " (" + d.Name + ")"
			}
			fmt.Fprintf(w, "Dataset %s%s: %d columns, %d rows\n",
				id, name, f.NumColumns(), f.NumRows())
			if err := f.Table().WriteText(w, table.Params{Rows: flags.Rows}); err != nil {
				return errors.Annotate(err, "failed to print dataset %s", id)
			}
		}
		if flags.Describe {
			fmt.Fprintf(w, "Summary of %s:\n", id)
			if err := table.Describe(f).Table().WriteText(w, table.Params{}); err != nil {
				return errors.Annotate(err, "failed to print summary of %s", id)
			}
		}
	}
	return nil
}

// download runs the whole fetch. Only configuration and output errors are
// returned; dataset failures are logged and reflected in the tally.
func download(ctx context.Context, flags *Flags, config *Config, w io.Writer) error {
	hc := &http.Client{Timeout: flags.Timeout}
	ctx = galv.UseClient(ctx, galv.NewClient(config.Host, config.Token, hc))
	res, err := fetcher.FetchAll(ctx, config.Datasets, fetcher.Options{
		Variant:  config.FetchVariant(),
		TempDir:  config.TempDir,
		KeepTemp: config.KeepTemp,
		Workers:  config.Workers,
	})
	if err != nil {
		return errors.Annotate(err, "failed to start download")
	}
	if err := printResult(ctx, flags, res, w); err != nil {
		return err
	}
	fmt.Fprintln(w, res.Summary())
	return nil
}

// logLevel applies the verbose setting: non-verbose runs report only
// failures.
func logLevel(flags *Flags, config *Config) logging.Level {
	if !config.Verbose && flags.LogLevel < logging.Warning {
		return logging.Warning
	}
	return flags.LogLevel
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	config, err := parseConfig(flags, os.LookupEnv)
	if err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(logLevel(flags, config)))

	if err := download(ctx, flags, config, os.Stdout); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
