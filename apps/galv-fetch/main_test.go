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
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stockparfait/logging"
	"github.com/stockparfait/testutil"

	"github.com/galv-team/galv-fetch/galv"
	"github.com/galv-team/galv-fetch/partition"

	. "github.com/smartystreets/goconvey/convey"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestGalvFetch(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_galv_fetch")
	defer os.RemoveAll(tmpdir)

	Convey("Setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("parseFlags", t, func() {
		Convey("defaults", func() {
			flags, err := parseFlags([]string{})
			So(err, ShouldBeNil)
			So(flags.Variant, ShouldEqual, "columns")
			So(flags.Workers, ShouldEqual, 1)
			So(flags.Verbose, ShouldBeTrue)
			So(flags.Format, ShouldEqual, "csv")
			So(flags.Rows, ShouldEqual, 10)
			So(flags.LogLevel, ShouldEqual, logging.Info)
			So(len(flags.set), ShouldEqual, 0)
		})

		Convey("all flags", func() {
			flags, err := parseFlags([]string{
				"-config", "path/to/config.toml", "-host", "http://galv",
				"-token", "tok", "-datasets", "a,b", "-variant", "partitions",
				"-workers", "4", "-tmp", "path/to/tmp", "-keep-tmp",
				"-verbose=false", "-timeout", "30s", "-out", "out",
				"-format", "parquet", "-rows", "0", "-describe",
				"-log-level", "warning"})
			So(err, ShouldBeNil)
			So(flags.Config, ShouldEqual, "path/to/config.toml")
			So(flags.Host, ShouldEqual, "http://galv")
			So(flags.Token, ShouldEqual, "tok")
			So(flags.Datasets, ShouldEqual, "a,b")
			So(flags.Variant, ShouldEqual, "partitions")
			So(flags.Workers, ShouldEqual, 4)
			So(flags.TempDir, ShouldEqual, "path/to/tmp")
			So(flags.KeepTemp, ShouldBeTrue)
			So(flags.Verbose, ShouldBeFalse)
			So(flags.Timeout.Seconds(), ShouldEqual, 30)
			So(flags.Out, ShouldEqual, "out")
			So(flags.Format, ShouldEqual, "parquet")
			So(flags.Rows, ShouldEqual, 0)
			So(flags.Describe, ShouldBeTrue)
			So(flags.LogLevel, ShouldEqual, logging.Warning)
			So(flags.set["host"], ShouldBeTrue)
			So(flags.set["keep-tmp"], ShouldBeTrue)
		})

		Convey("bad values", func() {
			_, err := parseFlags([]string{"-format", "xlsx"})
			So(err, ShouldNotBeNil)
			_, err = parseFlags([]string{"-rows", "-1"})
			So(err, ShouldNotBeNil)
			_, err = parseFlags([]string{"extra"})
			So(err, ShouldNotBeNil)
		})
	})

	Convey("parseConfig", t, func() {
		configPath := filepath.Join(tmpdir, "config.toml")
		So(testutil.WriteFile(configPath, `
host = "http://from-file"
token = "file-token"
datasets = ["f1", "f2"]
variant = "partitions"
workers = 2
temp_dir = "/tmp/galv"
`), ShouldBeNil)

		Convey("from the file only", func() {
			flags, err := parseFlags([]string{"-config", configPath})
			So(err, ShouldBeNil)
			c, err := parseConfig(flags, env(nil))
			So(err, ShouldBeNil)
			So(c, ShouldResemble, &Config{
				Host:     "http://from-file",
				Token:    "file-token",
				Datasets: []string{"f1", "f2"},
				Variant:  "partitions",
				Verbose:  true,
				Workers:  2,
				TempDir:  "/tmp/galv",
			})
			So(c.FetchVariant(), ShouldEqual, galv.PartitionVariant)
		})

		Convey("environment overrides the file", func() {
			flags, err := parseFlags([]string{"-config", configPath})
			So(err, ShouldBeNil)
			c, err := parseConfig(flags, env(map[string]string{
				EnvHost:     "http://from-env",
				EnvDatasets: "e1, e2\ne3",
			}))
			So(err, ShouldBeNil)
			So(c.Host, ShouldEqual, "http://from-env")
			So(c.Token, ShouldEqual, "file-token")
			So(c.Datasets, ShouldResemble, []string{"e1", "e2", "e3"})
		})

		Convey("flags override the environment", func() {
			flags, err := parseFlags([]string{"-config", configPath,
				"-token", "flag-token", "-datasets", "x", "-variant", "columns",
				"-workers", "3", "-verbose=false"})
			So(err, ShouldBeNil)
			c, err := parseConfig(flags, env(map[string]string{
				EnvToken: "env-token",
			}))
			So(err, ShouldBeNil)
			So(c.Host, ShouldEqual, "http://from-file")
			So(c.Token, ShouldEqual, "flag-token")
			So(c.Datasets, ShouldResemble, []string{"x"})
			So(c.FetchVariant(), ShouldEqual, galv.ColumnVariant)
			So(c.Workers, ShouldEqual, 3)
			So(c.Verbose, ShouldBeFalse)
			So(logLevel(flags, c), ShouldEqual, logging.Warning)
		})

		Convey("environment only", func() {
			flags, err := parseFlags([]string{})
			So(err, ShouldBeNil)
			c, err := parseConfig(flags, env(map[string]string{
				EnvHost:     "http://h",
				EnvToken:    "t",
				EnvDatasets: "d",
			}))
			So(err, ShouldBeNil)
			So(c.Variant, ShouldEqual, "columns")
			So(c.Workers, ShouldEqual, 1)
			So(logLevel(flags, c), ShouldEqual, logging.Info)
		})

		Convey("errors", func() {
			flags, err := parseFlags([]string{"-host", "http://h", "-token", "t"})
			So(err, ShouldBeNil)
			_, err = parseConfig(flags, env(nil))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "missing required fields: datasets")

			flags, err = parseFlags([]string{"-host", "http://h", "-token", "t",
				"-datasets", "a", "-variant", "rows"})
			So(err, ShouldBeNil)
			_, err = parseConfig(flags, env(nil))
			So(err, ShouldNotBeNil)

			flags, err = parseFlags([]string{"-host", "http://h", "-token", "t",
				"-datasets", " , "})
			So(err, ShouldBeNil)
			_, err = parseConfig(flags, env(nil))
			So(err, ShouldNotBeNil)

			flags, err = parseFlags([]string{"-host", "http://h", "-token", "t",
				"-datasets", "a", "-workers", "0"})
			So(err, ShouldBeNil)
			_, err = parseConfig(flags, env(nil))
			So(err, ShouldNotBeNil)

			badPath := filepath.Join(tmpdir, "bad.toml")
			So(testutil.WriteFile(badPath, `host = "h"
colour = "blue"
`), ShouldBeNil)
			flags, err = parseFlags([]string{"-config", badPath, "-token", "t",
				"-datasets", "a"})
			So(err, ShouldBeNil)
			_, err = parseConfig(flags, env(nil))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "unsupported fields for Config: colour")

			flags, err = parseFlags([]string{"-config", filepath.Join(tmpdir, "none.toml")})
			So(err, ShouldBeNil)
			_, err = parseConfig(flags, env(nil))
			So(err, ShouldNotBeNil)
		})
	})

	Convey("download", t, func() {
		bodies := map[string]string{
			"/files/B/":          `{"id": "B", "name": "cell.csv", "columns": ["/columns/1/", "/columns/2/"]}`,
			"/columns/1/":        `{"id": 1, "name_in_file": "V"}`,
			"/columns/1/values/": "1\n2\n3",
			"/columns/2/":        `{"id": 2, "name_in_file": "I"}`,
			"/columns/2/values/": "0.5\n0.5\n0.5",
		}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, ok := bodies[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(b))
		}))
		defer server.Close()

		ctx := context.Background()
		config := &Config{
			Host:     server.URL,
			Token:    "t",
			Datasets: []string{"A", "B"},
			Variant:  "columns",
			Workers:  1,
		}

		Convey("prints to stdout", func() {
			flags, err := parseFlags([]string{"-rows", "2", "-describe"})
			So(err, ShouldBeNil)
			var buf bytes.Buffer
			So(download(ctx, flags, config, &buf), ShouldBeNil)
			out := buf.String()
			So(out, ShouldStartWith, `Dataset B (cell.csv): 2 columns, 3 rows
V |   I
- | ---
1 | 0.5
2 | 0.5
Summary of B:
Column | Count | Mean | Std | Min | Max
------ | ----- | ---- | --- | --- | ---
     V |     3 |    2 |   1 |   1 |   3
     I |     3 |  0.5 |   0 | 0.5 | 0.5
`)
			So(out, ShouldContainSubstring, "Successfully downloaded 1/2 datasets in ")
		})

		Convey("saves CSV files", func() {
			outDir := filepath.Join(tmpdir, "csv")
			flags, err := parseFlags([]string{"-out", outDir})
			So(err, ShouldBeNil)
			var buf bytes.Buffer
			So(download(ctx, flags, config, &buf), ShouldBeNil)
			b, err := os.ReadFile(filepath.Join(outDir, "B.csv"))
			So(err, ShouldBeNil)
			So("\n"+string(b), ShouldEqual, `
V,I
1,0.5
2,0.5
3,0.5
`)
			_, err = os.Stat(filepath.Join(outDir, "A.csv"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("saves parquet files", func() {
			outDir := filepath.Join(tmpdir, "parquet")
			flags, err := parseFlags([]string{"-out", outDir, "-format", "parquet"})
			So(err, ShouldBeNil)
			var buf bytes.Buffer
			So(download(ctx, flags, config, &buf), ShouldBeNil)
			f, err := partition.ReadFile(filepath.Join(outDir, "B.parquet"))
			So(err, ShouldBeNil)
			So(f.Names(), ShouldResemble, []string{"V", "I"})
			v, _ := f.Column("V")
			So(v, ShouldResemble, []string{"1", "2", "3"})
		})
	})

	Convey("fileName", t, func() {
		So(fileName("a/b:c"), ShouldEqual, "a_b_c")
		So(fileName("1f3a-9c"), ShouldEqual, "1f3a-9c")
	})
}
