// Package client is the HTTP client for the pilot daemon API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"autopilot/internal/config"
	"autopilot/internal/fullauto"
)

type Client struct {
	baseURL   string
	tokenPath string
	token     string
	http      *http.Client
}

func New() (*Client, error) {
	cfg, err := config.LoadCoreConfig()
	if err != nil {
		return nil, err
	}
	tokenPath, err := config.TokenPath()
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:   cfg.DaemonBaseURL(),
		tokenPath: tokenPath,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	_ = c.loadToken()
	return c, nil
}

func NewWithBaseURL(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListRuns(ctx context.Context) ([]fullauto.RunSummary, error) {
	var resp RunListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runs", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*fullauto.RunSummary, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	var resp fullauto.RunSummary
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runs/"+runID, nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) StartRun(ctx context.Context, req fullauto.StartRunRequest) (*fullauto.RunMetadata, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, errors.New("goal is required")
	}
	var resp StartRunResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/runs", req, true, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.runAction(ctx, runID, "cancel")
}

func (c *Client) ResumeRun(ctx context.Context, runID string) error {
	return c.runAction(ctx, runID, "resume")
}

func (c *Client) DisableRun(ctx context.Context, runID string) error {
	return c.runAction(ctx, runID, "disable")
}

func (c *Client) runAction(ctx context.Context, runID, action string) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("run id is required")
	}
	path := fmt.Sprintf("/v1/runs/%s/%s", runID, action)
	return c.doJSON(ctx, http.MethodPost, path, nil, true, nil)
}

// RunLog fetches a run's decision log. lines > 0 limits the result to
// the newest entries.
func (c *Client) RunLog(ctx context.Context, runID string, lines int) ([]fullauto.DecisionLogEntry, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	path := "/v1/runs/" + runID + "/log"
	if lines > 0 {
		path += "?lines=" + strconv.Itoa(lines)
	}
	var resp RunLogResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) Metrics(ctx context.Context) (*fullauto.RunMetricsSnapshot, error) {
	var resp fullauto.RunMetricsSnapshot
	if err := c.doJSON(ctx, http.MethodGet, "/v1/metrics", nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ShutdownDaemon(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/shutdown", nil, true, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, requireAuth bool, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		if err := c.ensureToken(); err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ensureToken() error {
	if strings.TrimSpace(c.token) == "" {
		if err := c.loadToken(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.token) == "" {
		return errors.New("token not found; is the daemon running?")
	}
	return nil
}

func (c *Client) loadToken() error {
	if c.tokenPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.token = ""
			return nil
		}
		return err
	}
	c.token = strings.TrimSpace(string(data))
	return nil
}

func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error string `json:"error"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
