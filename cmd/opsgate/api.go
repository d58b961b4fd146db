// Package main provides the HTTP client for communicating with opsgated.
//
// The apiClient talks to the opsgated daemon over a Unix socket using
// HTTP. All responses are JSON-encoded; error responses carry an
// "error" message and a stable "code".
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultSocketPath = "/run/opsgate/opsgated.sock"

const maxJSONOutputBytes = 4 << 20 // 4MB maximum JSON response size

// apiClient is an HTTP client for communicating with opsgated over a
// Unix socket.
type apiClient struct {
	socketPath string
	httpClient *http.Client
	timeout    time.Duration
}

// apiError represents an error response from the opsgated API.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type changeResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Target    string `json:"target"`
	Preview   string `json:"preview"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type changeDetailResponse struct {
	changeResponse
	CommandPlan []string `json:"command_plan"`
}

type changeListResponse struct {
	Changes []changeResponse `json:"changes"`
}

type commandResult struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

type applyResponse struct {
	Change  changeResponse  `json:"change"`
	Results []commandResult `json:"results"`
}

type serviceRow struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Ports string `json:"ports"`
}

type servicesResponse struct {
	Services []serviceRow `json:"services"`
}

type logsResponse struct {
	Target string `json:"target"`
	Lines  string `json:"lines"`
}

type fileResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type crontabResponse struct {
	Owner   string `json:"owner"`
	Content string `json:"content"`
}

type eventResponse struct {
	Timestamp string `json:"ts"`
	Kind      string `json:"kind"`
	Message   string `json:"msg,omitempty"`
	JSON      string `json:"json,omitempty"`
}

type eventsResponse struct {
	Events []eventResponse `json:"events"`
}

// newAPIClient creates an API client speaking HTTP over the daemon's
// Unix socket.
func newAPIClient(socketPath string, timeout time.Duration) *apiClient {
	path := socketPath
	if path == "" {
		path = defaultSocketPath
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	return &apiClient{
		socketPath: path,
		httpClient: &http.Client{Transport: transport},
		timeout:    timeout,
	}
}

// doJSON sends an HTTP request with an optional JSON payload and returns
// the raw JSON response body.
func (c *apiClient) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s via %s: %w", method, path, c.socketPath, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONOutputBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return data, nil
}

// parseAPIError converts an HTTP error response into an error, keeping
// the daemon's message and code when present.
func parseAPIError(status int, data []byte) error {
	if len(data) > 0 {
		var apiErr apiError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			if apiErr.Code != "" {
				return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
	}
	return fmt.Errorf("request failed with status %d", status)
}

func (c *apiClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c == nil || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// prettyPrintJSON formats JSON data with indentation and writes it out.
func prettyPrintJSON(w io.Writer, data []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	out.WriteByte('\n')
	_, err := w.Write(out.Bytes())
	return err
}
