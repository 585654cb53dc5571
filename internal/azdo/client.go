// Package azdo is a small Azure DevOps REST client covering the work item
// tracking, work (boards, iterations), core (projects, teams) and profile
// APIs. Responses are returned as decoded JSON so callers can reshape them
// without a typed model in between.
package azdo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
)

const (
	apiVersion         = "7.1"
	commentsAPIVersion = "7.1-preview.3"

	defaultBaseURL  = "https://dev.azure.com"
	defaultVSSPSURL = "https://app.vssps.visualstudio.com"

	defaultRetryBase = 500 * time.Millisecond
	maxRetryDelay    = 10 * time.Second
	maxRetryAfter    = time.Minute
)

// Client calls Azure DevOps on behalf of the signed-in user. It is safe for
// concurrent use and holds no per-request state.
type Client struct {
	http       *http.Client
	tokens     TokenSource
	baseURL    string
	vsspsURL   string
	maxRetries int
	retryBase  time.Duration
	log        *slog.Logger
}

// Option configures New.
type Option func(*Client)

// WithHTTPClient replaces the default client (60s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURL sets the organization host, normally https://dev.azure.com.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithVSSPSURL sets the profile/accounts host.
func WithVSSPSURL(u string) Option {
	return func(c *Client) { c.vsspsURL = strings.TrimRight(u, "/") }
}

// WithMaxRetries bounds retries of 429 and 5xx responses.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryBase sets the first backoff interval.
func WithRetryBase(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryBase = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a Client that authenticates with tokens.
func New(tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 60 * time.Second},
		tokens:     tokens,
		baseURL:    defaultBaseURL,
		vsspsURL:   defaultVSSPSURL,
		maxRetries: 3,
		retryBase:  defaultRetryBase,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the organization host the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

func esc(s string) string { return url.PathEscape(s) }

func (c *Client) projectURL(org, project, path string) string {
	return fmt.Sprintf("%s/%s/%s/_apis/%s", c.baseURL, esc(org), esc(project), path)
}

func (c *Client) orgURL(org, path string) string {
	return fmt.Sprintf("%s/%s/_apis/%s", c.baseURL, esc(org), path)
}

func (c *Client) teamURL(org, project, team, path string) string {
	return fmt.Sprintf("%s/%s/%s/%s/_apis/%s", c.baseURL, esc(org), esc(project), esc(team), path)
}

func (c *Client) profileURL(path string) string {
	return fmt.Sprintf("%s/_apis/%s", c.vsspsURL, path)
}

type request struct {
	method      string
	url         string
	query       url.Values
	body        []byte
	contentType string
	accept      string
	apiVersion  string
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func jsonRequest(method, u string, v any) (request, error) {
	req := request{method: method, url: u}
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return req, fmt.Errorf("encode request body: %w", err)
		}
		req.body = b
		req.contentType = "application/json"
	}
	return req, nil
}

func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return min(time.Duration(secs)*time.Second, maxRetryAfter)
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return min(d, maxRetryAfter)
		}
	}
	return 0
}

// do sends req, retrying 429 and 5xx with capped exponential backoff. A
// Retry-After header replaces the next backoff interval.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range req.query {
		q[k] = v
	}
	ver := req.apiVersion
	if ver == "" {
		ver = apiVersion
	}
	q.Set("api-version", ver)
	target := req.url + "?" + q.Encode()

	var retryAfter time.Duration
	exp := retry.WithCappedDuration(maxRetryDelay, retry.NewExponential(c.retryBase))
	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := exp.Next()
		if retryAfter > 0 {
			next, retryAfter = retryAfter, 0
		}
		return next, stop
	}))

	var res *response
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		start := time.Now()

		var body io.Reader
		if req.body != nil {
			body = bytes.NewReader(req.body)
		}
		hreq, err := http.NewRequestWithContext(ctx, req.method, target, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		hreq.Header.Set("Authorization", "Bearer "+token)
		accept := req.accept
		if accept == "" {
			accept = "application/json"
		}
		hreq.Header.Set("Accept", accept)
		if req.contentType != "" {
			hreq.Header.Set("Content-Type", req.contentType)
		}

		c.log.DebugContext(ctx, "azdo.request", slog.String("method", req.method), slog.String("url", target), slog.Int("attempt", attempt))

		hres, err := c.http.Do(hreq)
		if err != nil {
			return fmt.Errorf("%s %s: %w", req.method, req.url, err)
		}
		defer hres.Body.Close()

		b, err := io.ReadAll(hres.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		if hres.StatusCode >= 200 && hres.StatusCode < 300 {
			res = &response{status: hres.StatusCode, header: hres.Header, body: b}
			c.log.DebugContext(ctx, "azdo.request.ok", slog.Int("status", hres.StatusCode), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return nil
		}

		apiErr := newAPIError(req.method, req.url, hres.StatusCode, b)
		c.log.WarnContext(ctx, "azdo.request.fail",
			slog.String("method", req.method),
			slog.String("url", req.url),
			slog.Int("status", hres.StatusCode),
			slog.Int("attempt", attempt),
			slog.String("err", apiErr.Message),
		)
		if isRetryable(hres.StatusCode) {
			retryAfter = parseRetryAfter(hres.Header.Get("Retry-After"))
			return retry.RetryableError(apiErr)
		}
		return apiErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// doJSON sends req and decodes a JSON object response.
func (c *Client) doJSON(ctx context.Context, req request) (map[string]any, error) {
	res, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodeObject(res.body)
}

// doRaw sends req and returns the response body.
func (c *Client) doRaw(ctx context.Context, req request) ([]byte, error) {
	res, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.body, nil
}

func decodeObject(b []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out == nil {
		return nil, errors.New("decode response: expected JSON object")
	}
	return out, nil
}

func decodeInto(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// names pulls value[].<field> out of a list response.
func names(b []byte, field string) []string {
	out := []string{}
	for _, v := range gjson.GetBytes(b, "value.#."+field).Array() {
		out = append(out, v.String())
	}
	return out
}
