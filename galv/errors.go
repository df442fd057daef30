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
	"fmt"
)

// Kind classifies a failed request.
type Kind int

// Values of Kind. The zero value means "not a request failure".
const (
	KindTransport  Kind = iota + 1 // the request could not be sent or completed
	KindHTTPStatus                 // the server answered with a non-2xx status
	KindDecode                     // the body is not valid JSON or UTF-8
	KindSchema                     // a required field is missing or malformed
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindHTTPStatus:
		return "HTTPStatusError"
	case KindDecode:
		return "DecodeError"
	case KindSchema:
		return "SchemaError"
	}
	return "UnknownError"
}

// Error is the result of a failed API request. Exactly one Kind applies;
// Status and Reason are set for KindHTTPStatus, Reason alone carries the
// detail for the other kinds.
type Error struct {
	Kind   Kind
	URL    string
	Status int
	Reason string
	Err    error // underlying error, if any
}

var _ error = &Error{}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("%s: GET %s: HTTP%d: %s", e.Kind, e.URL, e.Status, e.Reason)
	case KindTransport, KindDecode:
		if e.Err != nil {
			return fmt.Sprintf("%s: GET %s: %s: %s", e.Kind, e.URL, e.Reason, e.Err.Error())
		}
	}
	return fmt.Sprintf("%s: GET %s: %s", e.Kind, e.URL, e.Reason)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of a request failure, following the chain of wrapped
// errors. It returns 0 for nil and for errors which are not request failures.
func KindOf(err error) Kind {
	if e := AsError(err); e != nil {
		return e.Kind
	}
	return 0
}

// AsError finds the first *Error in the chain of wrapped errors, or returns
// nil.
func AsError(err error) *Error {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

func transportError(uri, reason string, err error) *Error {
	return &Error{Kind: KindTransport, URL: uri, Reason: reason, Err: err}
}

func statusError(uri string, status int, reason string) *Error {
	return &Error{Kind: KindHTTPStatus, URL: uri, Status: status, Reason: reason}
}

func decodeError(uri, reason string, err error) *Error {
	return &Error{Kind: KindDecode, URL: uri, Reason: reason, Err: err}
}

func schemaError(uri, format string, args ...interface{}) *Error {
	return &Error{Kind: KindSchema, URL: uri, Reason: fmt.Sprintf(format, args...)}
}
