package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dmagent/internal/desired"
	"dmagent/internal/journal"
)

// Client talks to a running agent's API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient targets bind ("host:port" or a full URL).
func NewClient(bind, token string, timeout time.Duration) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{base: base, token: token, http: &http.Client{Timeout: timeout}}
}

// APIError is a non-2xx reply.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %s: %s", http.StatusText(e.StatusCode), e.Message)
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp)
	return resp, err
}

// Apply submits a raw desired-state document. With wait set the call returns
// after every section task has finished.
func (c *Client) Apply(ctx context.Context, doc []byte, wait bool) (SubmitResponse, error) {
	path := "/api/desired"
	if wait {
		path += "?wait=1"
	}
	var resp SubmitResponse
	err := c.do(ctx, http.MethodPut, path, doc, &resp)
	return resp, err
}

// Reported fetches GET /api/reported.
func (c *Client) Reported(ctx context.Context) (desired.Reported, error) {
	var resp desired.Reported
	err := c.do(ctx, http.MethodGet, "/api/reported", nil, &resp)
	return resp, err
}

// Tasks lists journal entries.
func (c *Client) Tasks(ctx context.Context, opts journal.ListOptions) ([]TaskRecord, error) {
	query := url.Values{}
	if opts.Name != "" {
		query.Set("name", opts.Name)
	}
	if opts.Status != "" {
		query.Set("status", string(opts.Status))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/api/tasks"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp TasksResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Invoke runs a direct method.
func (c *Client) Invoke(ctx context.Context, method string) (MethodResponse, error) {
	var resp MethodResponse
	err := c.do(ctx, http.MethodPost, "/api/methods/"+url.PathEscape(method), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact agent: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body errorResponse
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
		} else {
			var m MethodResponse
			if json.Unmarshal(data, &m) == nil && m.Error != "" {
				apiErr.Message = m.Error
			}
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
