// Package poller polls the external workflow engine for execution progress and
// feeds it into the tracker as stage reports.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/content-runs/internal/schemas"
	"github.com/jonathan/content-runs/internal/tracking"
)

// maxExecutionBytes caps the size of an execution payload read from the engine.
const maxExecutionBytes = 16 << 20

// Client reads executions from the engine's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client. timeout bounds each request.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchExecution retrieves one execution with its per-node run data.
// Transport failures and non-2xx responses are *tracking.ErrUpstream; an
// exceeded deadline is *tracking.ErrTimeout.
func (c *Client) FetchExecution(ctx context.Context, executionID string) (*Execution, error) {
	endpoint := fmt.Sprintf("%s/api/v1/executions/%s?includeData=true", c.baseURL, url.PathEscape(executionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build execution request: %w", err)
	}
	req.Header.Set("X-N8N-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &tracking.ErrTimeout{Op: "fetch execution " + executionID, Cause: err}
		}
		return nil, &tracking.ErrUpstream{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &tracking.ErrUpstream{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExecutionBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, &tracking.ErrTimeout{Op: "read execution " + executionID, Cause: err}
		}
		return nil, &tracking.ErrUpstream{Cause: err}
	}

	if err := schemas.Validate(schemas.Execution, body); err != nil {
		return nil, &tracking.ErrUpstream{Cause: err}
	}

	var exec Execution
	if err := json.Unmarshal(body, &exec); err != nil {
		return nil, &tracking.ErrUpstream{Cause: fmt.Errorf("failed to decode execution: %w", err)}
	}
	return &exec, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
