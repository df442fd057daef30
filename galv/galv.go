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
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/stockparfait/fetch"
	"github.com/stockparfait/logging"
)

type contextKey int

const (
	clientContextKey contextKey = iota
)

// Client for querying the Galv REST API.
type Client struct {
	host  string       // the base URL of the server, without a trailing slash
	token string       // bearer token of the user
	api   *http.Client // accepts JSON
	files *http.Client // accepts any content
}

// authTransport sets the Galv request headers. A redirect to another host
// does not get the token.
type authTransport struct {
	token  string
	accept string
	base   http.RoundTripper
}

var _ http.RoundTripper = &authTransport{}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if req.Response == nil || req.Response.Request.URL.Host == req.URL.Host {
		r.Header.Set("Authorization", "Bearer "+t.token)
	}
	r.Header.Set("Accept", t.accept)
	return t.base.RoundTrip(r)
}

// withHeaders copies hc with its transport wrapped into authTransport.
func withHeaders(hc *http.Client, token, accept string) *http.Client {
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport:     &authTransport{token: token, accept: accept, base: base},
		CheckRedirect: hc.CheckRedirect,
		Jar:           hc.Jar,
		Timeout:       hc.Timeout,
	}
}

// NewClient creates a new client. When hc is nil, http.DefaultClient is used.
func NewClient(host, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		host:  strings.TrimRight(host, "/"),
		token: token,
		api:   withHeaders(hc, token, "application/json"),
		files: withHeaders(hc, token, "*/*"),
	}
}

// Host returns the base URL of the server.
func (c *Client) Host() string {
	return c.host
}

// GetClient extracts the Client from the context, if any.
func GetClient(ctx context.Context) *Client {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok {
		return nil
	}
	return c
}

// UseClient injects the client into the context.
func UseClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, c)
}

// endpoint builds an API URL from path segments, with the trailing slash the
// API expects.
func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.host + "/" + strings.Join(escaped, "/") + "/"
}

// resolve makes a possibly relative resource reference absolute with respect
// to the host.
func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", schemaError(ref, "invalid resource reference: %s", err.Error())
	}
	if u.IsAbs() {
		return ref, nil
	}
	base, err := url.Parse(c.host + "/")
	if err != nil {
		return "", transportError(c.host, "invalid host URL", err)
	}
	return base.ResolveReference(u).String(), nil
}

// statusReason extracts the reason phrase from the response status line.
func statusReason(resp *http.Response) string {
	reason := strings.TrimSpace(
		strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

// get issues an authenticated GET request with the given HTTP client. On
// success the response status is 2xx and the caller must close the body.
func (c *Client) get(ctx context.Context, uri string, hc *http.Client) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(uri, "request canceled", err)
	}
	logging.Debugf(ctx, "GET %s", uri)
	resp, err := fetch.Get(fetch.UseClient(ctx, hc), uri, nil)
	if resp == nil {
		return nil, transportError(uri, "request failed", err)
	}
	if !fetch.ResponseOK(resp) {
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) // allow connection reuse
		return nil, statusError(uri, resp.StatusCode, statusReason(resp))
	}
	return resp, nil
}

// getBytes reads the entire response body of a successful GET.
func (c *Client) getBytes(ctx context.Context, uri string, hc *http.Client) ([]byte, error) {
	resp, err := c.get(ctx, uri, hc)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(uri, "failed to read response body", err)
	}
	return body, nil
}

// getObject fetches a JSON object.
func (c *Client) getObject(ctx context.Context, uri string) (map[string]interface{}, error) {
	body, err := c.getBytes(ctx, uri, c.api)
	if err != nil {
		return nil, err
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, decodeError(uri, "invalid JSON object", err)
	}
	if obj == nil {
		return nil, decodeError(uri, "expected a JSON object, got null", nil)
	}
	return obj, nil
}

// download streams the body of a successful GET into w.
func (c *Client) download(ctx context.Context, uri string, w io.Writer) (int64, error) {
	resp, err := c.get(ctx, uri, c.files)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, transportError(uri, "failed to read response body", err)
	}
	return n, nil
}
