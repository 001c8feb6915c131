package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

// DefaultHTTPTimeout bounds every fallback request.
const DefaultHTTPTimeout = 5 * time.Second

// HTTPClient talks to the relay's REST endpoints. It doubles as the patch
// transport whenever the websocket is down.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client with the given request timeout (0 means DefaultHTTPTimeout).
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the relay address.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

type patchResponse struct {
	OK      bool   `json:"ok"`
	Version int64  `json:"version"`
	Error   string `json:"error,omitempty"`
}

// Send posts one patch and returns the project version after it was applied.
func (c *HTTPClient) Send(ctx context.Context, p patch.Patch) (int64, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/api/patch", p)
	if err != nil {
		return 0, err
	}
	var resp patchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode patch response (%d): %w", status, err)
	}
	if !resp.OK {
		return 0, fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	return resp.Version, nil
}

// LoadProject fetches the current snapshot of a project.
func (c *HTTPClient) LoadProject(ctx context.Context, project string) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := c.getJSON(ctx, "/api/projects/"+url.PathEscape(project), &snap); err != nil {
		return nil, err
	}
	snap.Normalize()
	return &snap, nil
}

// Version fetches the project's current version number.
func (c *HTTPClient) Version(ctx context.Context, project string) (int64, error) {
	var resp struct {
		Version int64 `json:"version"`
	}
	if err := c.getJSON(ctx, "/api/projects/"+url.PathEscape(project)+"/version", &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// Grid fetches the legacy grid export of a project.
func (c *HTTPClient) Grid(ctx context.Context, project string) (*patch.Grid, error) {
	var g patch.Grid
	if err := c.getJSON(ctx, "/api/projects/"+url.PathEscape(project)+"/grid", &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// TaskLogs fetches change-log entries touching a task, newest first.
func (c *HTTPClient) TaskLogs(ctx context.Context, project string, taskID int) ([]models.ChangeEntry, error) {
	q := url.Values{}
	q.Set("project", project)
	q.Set("taskId", strconv.Itoa(taskID))
	var resp struct {
		OK      bool                 `json:"ok"`
		Entries []models.ChangeEntry `json:"entries"`
	}
	if err := c.getJSON(ctx, "/api/task-logs?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// HealthResponse matches the relay's health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Health checks the relay. The parsed payload is returned alongside the
// error on non-200 responses so callers can inspect it.
func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	body, status, err := c.raw(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("parse health response: %w", err)
	}
	if status != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", status, string(body))
	}
	return &health, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	body, _, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do performs a request and turns 4xx/5xx into errors. A patch rejection
// comes back as 4xx with a JSON body, which is surfaced as ErrRejected.
func (c *HTTPClient) do(ctx context.Context, method, path string, in any) ([]byte, int, error) {
	body, status, err := c.raw(ctx, method, path, in)
	if err != nil {
		return nil, 0, err
	}
	if status >= 400 {
		var resp patchResponse
		if json.Unmarshal(body, &resp) == nil && resp.Error != "" {
			return nil, status, fmt.Errorf("%w (%d): %s", ErrRejected, status, resp.Error)
		}
		return nil, status, fmt.Errorf("API error (%d): %s", status, string(body))
	}
	return body, status, nil
}

func (c *HTTPClient) raw(ctx context.Context, method, path string, in any) ([]byte, int, error) {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
