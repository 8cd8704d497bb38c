// Package agent is the HTTP client for the in-sandbox agent process. Every
// sandbox image ships the agent as its entrypoint; it exposes command
// execution, file access and a process listing on a fixed port. All sandbox
// interaction goes through this polling surface.
package agent

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

	"github.com/mehular0ra/forge/internal/sandbox"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client talks to one agent instance. It implements the sandbox operations;
// provisioning and teardown belong to the Provisioner that created it.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   90 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type runRequest struct {
	Command    string `json:"command"`
	Background bool   `json:"background"`
	TimeoutMS  int64  `json:"timeoutMs,omitempty"`
}

type runResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

func (c *Client) RunCommand(ctx context.Context, cmd string, opts sandbox.RunOptions) (sandbox.CommandResult, error) {
	req := runRequest{Command: cmd, Background: opts.Background}
	if opts.Timeout > 0 {
		req.TimeoutMS = opts.Timeout.Milliseconds()
	}

	var resp runResponse
	if err := c.postJSON(ctx, "/v1/commands", req, &resp); err != nil {
		return sandbox.CommandResult{}, err
	}
	return sandbox.CommandResult{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, nil
}

type writeFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (c *Client) WriteFile(ctx context.Context, path string, content []byte) error {
	return c.postJSON(ctx, "/v1/files", writeFileRequest{Path: path, Content: string(content)}, nil)
}

func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	u := c.baseURL + "/v1/files?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, sandbox.ErrFileNotFound
	default:
		return nil, fmt.Errorf("agent read file: status %d", resp.StatusCode)
	}
}

type processesResponse struct {
	Processes []string `json:"processes"`
}

func (c *Client) ListProcesses(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/processes", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent list processes: status %d", resp.StatusCode)
	}

	var parsed processesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed.Processes, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("agent %s: status %d: %s", path, resp.StatusCode, snippet)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
