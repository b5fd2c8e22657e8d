// Package client is a thin HTTP client for a running keepr supervisor.
package client

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

	"github.com/loykin/keepr/pkg/template"
)

// DefaultBaseURL matches the supervisor's default listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:8420/api"

// Client provides HTTP client functionality to communicate with the keepr daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 30 * time.Second,
	}
}

// New creates a new keepr API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// APIError is a non-2xx response from the supervisor.
type APIError struct {
	Status  int
	Code    string
	Message string
	// Kind and Field are set for validation errors.
	Kind  string
	Field string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/settings", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Debug("Daemon reachability check", "status", resp.StatusCode)
	return true
}

// Create registers a new process record in state not_started.
func (c *Client) Create(ctx context.Context, req CreateRequest) (ActionResult, error) {
	var out ActionResult
	err := c.do(ctx, http.MethodPost, "/processes", nil, req, &out)
	return out, err
}

// List returns the records matching query, ordered by id.
func (c *Client) List(ctx context.Context, query ListQuery) ([]Process, error) {
	q := url.Values{}
	if query.Filter != "" {
		q.Set("filter", query.Filter)
	}
	if query.Name != "" {
		q.Set("name", query.Name)
	}
	var out []Process
	err := c.do(ctx, http.MethodGet, "/processes", q, nil, &out)
	return out, err
}

// Status returns one record; running records carry uptime and usage.
func (c *Client) Status(ctx context.Context, id string) (Process, error) {
	var out Process
	err := c.do(ctx, http.MethodGet, "/processes/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// Update patches the configuration of a record that is not running.
func (c *Client) Update(ctx context.Context, id string, req UpdateRequest) (Process, error) {
	var out Process
	err := c.do(ctx, http.MethodPatch, "/processes/"+url.PathEscape(id), nil, req, &out)
	return out, err
}

// Remove deletes a record that is not running.
func (c *Client) Remove(ctx context.Context, id string) (ActionResult, error) {
	var out ActionResult
	err := c.do(ctx, http.MethodDelete, "/processes/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// Start spawns the process.
func (c *Client) Start(ctx context.Context, id string) (ActionResult, error) {
	return c.action(ctx, id, "start", 0)
}

// Stop terminates the process, escalating to SIGKILL after timeout. A zero
// timeout uses the supervisor's default.
func (c *Client) Stop(ctx context.Context, id string, timeout time.Duration) (ActionResult, error) {
	return c.action(ctx, id, "stop", timeout)
}

// Restart stops the process if it is running and starts it again.
func (c *Client) Restart(ctx context.Context, id string, timeout time.Duration) (ActionResult, error) {
	return c.action(ctx, id, "restart", timeout)
}

func (c *Client) action(ctx context.Context, id, verb string, timeout time.Duration) (ActionResult, error) {
	c.logger.Debug("Process action", "process_id", id, "action", verb)
	q := url.Values{}
	if timeout > 0 {
		q.Set("timeout_ms", strconv.FormatInt(timeout.Milliseconds(), 10))
	}
	var out ActionResult
	err := c.do(ctx, http.MethodPost, "/processes/"+url.PathEscape(id)+"/"+verb, q, nil, &out)
	return out, err
}

// Output returns buffered output lines of a process.
func (c *Client) Output(ctx context.Context, id string, query OutputQuery) (Output, error) {
	q := url.Values{}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Stream != "" {
		q.Set("stream", query.Stream)
	}
	var out Output
	err := c.do(ctx, http.MethodGet, "/processes/"+url.PathEscape(id)+"/output", q, nil, &out)
	return out, err
}

// Templates lists the registered templates matching query.
func (c *Client) Templates(ctx context.Context, query TemplateQuery) ([]template.Template, error) {
	q := url.Values{}
	if query.Category != "" {
		q.Set("category", query.Category)
	}
	for _, tag := range query.Tags {
		q.Add("tag", tag)
	}
	var out []template.Template
	err := c.do(ctx, http.MethodGet, "/templates", q, nil, &out)
	return out, err
}

// CreateTemplate registers a template.
func (c *Client) CreateTemplate(ctx context.Context, t template.Template) (template.Template, error) {
	var out template.Template
	err := c.do(ctx, http.MethodPost, "/templates", nil, t, &out)
	return out, err
}

// DeleteTemplate removes a template.
func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/templates/"+url.PathEscape(id), nil, nil, nil)
}

// Instantiate creates a process record from a template.
func (c *Client) Instantiate(ctx context.Context, templateID, processID string, values map[string]string) (Process, error) {
	body := map[string]any{"process_id": processID, "values": values}
	var out Process
	err := c.do(ctx, http.MethodPost, "/templates/"+url.PathEscape(templateID)+"/instantiate", nil, body, &out)
	return out, err
}

// Settings returns all settings.
func (c *Client) Settings(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := c.do(ctx, http.MethodGet, "/settings", nil, nil, &out)
	return out, err
}

// UpdateSettings sets the given keys and returns the full settings map.
func (c *Client) UpdateSettings(ctx context.Context, kv map[string]string) (map[string]string, error) {
	var out map[string]string
	err := c.do(ctx, http.MethodPut, "/settings", nil, kv, &out)
	return out, err
}

// SaveSnapshot forces an immediate snapshot write.
func (c *Client) SaveSnapshot(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/snapshot", nil, nil, nil)
}

// Export writes the supervisor's state to an absolute path on its host.
func (c *Client) Export(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPost, "/snapshot/export", nil, map[string]string{"path": path}, nil)
}

// Import merges a snapshot file on the supervisor's host into its state.
func (c *Client) Import(ctx context.Context, path string) (ImportReport, error) {
	var out ImportReport
	err := c.do(ctx, http.MethodPost, "/snapshot/import", nil, map[string]string{"path": path}, &out)
	return out, err
}

// do performs HTTP request with common error handling. in is JSON-encoded
// when non-nil; out is decoded from a 2xx body when non-nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		er = ErrorResponse{Error: http.StatusText(resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", er.Error, "code", er.Code, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Code: er.Code, Message: er.Error, Kind: er.Kind, Field: er.Field}
}
