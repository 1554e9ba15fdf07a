// Package caseclient is the stateless request/response client for the
// backend case API. It owns DTO normalization at the wire boundary and maps
// HTTP failures onto the caseflow error taxonomy; callers never see raw
// status codes or the backend's dual field casing.
package caseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clinicdesk/clinicdesk/pkg/caseflow"
	"github.com/clinicdesk/clinicdesk/pkg/session"
)

const basePath = "/api/PatientCase"

// Client talks to the case API on behalf of one session.
type Client struct {
	baseURL string
	sess    *session.Session
	httpc   *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// New creates a client rooted at baseURL (scheme://host[:port], no trailing
// slash required) authenticating with the given session.
func New(baseURL string, sess *session.Session, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		sess:    sess,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns case summaries, optionally filtered by status. An empty list
// is a valid result, not an error.
func (c *Client) List(ctx context.Context, status caseflow.Status) ([]caseflow.CaseSummary, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", string(status))
	}

	var out []caseflow.CaseSummary
	if err := c.do(ctx, http.MethodGet, basePath, query, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []caseflow.CaseSummary{}
	}
	return out, nil
}

// Get returns the full detail of one case, or caseflow.ErrNotFound.
func (c *Client) Get(ctx context.Context, caseID string) (*caseflow.CaseDetail, error) {
	var out caseflow.CaseDetail
	if err := c.do(ctx, http.MethodGet, basePath+"/"+url.PathEscape(caseID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostVitals submits a partial vitals snapshot. The write is not guaranteed
// idempotent on retry; the caller decides whether to resubmit on failure.
func (c *Client) PostVitals(ctx context.Context, caseID string, vitals caseflow.Vitals) error {
	return c.do(ctx, http.MethodPost, basePath+"/"+url.PathEscape(caseID)+"/vitals", nil, vitals, nil)
}

// PostReport submits the diagnosis/therapy report.
func (c *Client) PostReport(ctx context.Context, caseID string, report caseflow.Report) error {
	return c.do(ctx, http.MethodPost, basePath+"/"+url.PathEscape(caseID)+"/report", nil, report, nil)
}

// PatchStatus requests a status change. The target travels as a query
// parameter, matching the backend contract.
func (c *Client) PatchStatus(ctx context.Context, caseID string, status caseflow.Status) error {
	query := url.Values{}
	query.Set("status", string(status))
	return c.do(ctx, http.MethodPatch, basePath+"/"+url.PathEscape(caseID)+"/status", query, nil, nil)
}

// do performs one request/response cycle: auth header, JSON body, error
// mapping, response decoding.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &caseflow.NetworkError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.sess.Token()
	if err != nil {
		return caseflow.ErrUnauthorized
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &caseflow.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := mapStatus(op, resp); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &caseflow.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// mapStatus translates a non-2xx response into the caseflow taxonomy.
func mapStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return caseflow.ErrUnauthorized
	case http.StatusNotFound:
		return caseflow.ErrNotFound
	}

	// Everything else, 4xx included, surfaces as a transient failure with
	// the backend's message attached. No automatic retry happens anywhere.
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &caseflow.NetworkError{
		Op:  op,
		Err: fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
	}
}
