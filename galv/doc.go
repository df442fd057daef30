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

// Package galv implements a client for the REST API of Galv, a battery
// experiment data server.
//
// A dataset (the API calls it a file) exposes its data in one of two shapes,
// see Variant. In the column variant the dataset resource lists column URLs;
// each column has its own metadata at /columns/{id}/ and its values as
// newline-separated text at /columns/{id}/values/. In the partition variant
// the dataset lists parquet partition URLs; each partition document holds the
// URL of the actual parquet file.
//
// All requests carry the bearer token of the Client injected into the context
// by UseClient. Nothing is retried. Every failed request yields an *Error
// whose Kind tells a transport failure, a non-2xx status, an undecodable body
// and a missing field apart.
package galv
