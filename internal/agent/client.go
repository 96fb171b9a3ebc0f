// Package agent is the HTTP client for the external healing pipeline. The
// gateway hands accepted submissions to it and probes its health; everything
// after dispatch flows back through the internal ingest endpoints.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FeatureFlags toggles optional pipeline behaviors per run. The zero value
// is not meaningful; use DefaultFeatureFlags.
type FeatureFlags struct {
	EnableKBLookup            bool `json:"ENABLE_KB_LOOKUP"`
	EnableSpeculativeBranches bool `json:"ENABLE_SPECULATIVE_BRANCHES"`
	EnableAdversarialTests    bool `json:"ENABLE_ADVERSARIAL_TESTS"`
	EnableCausalGraph         bool `json:"ENABLE_CAUSAL_GRAPH"`
	EnableProvenancePass      bool `json:"ENABLE_PROVENANCE_PASS"`
}

// DefaultFeatureFlags returns the pipeline's default toggles.
func DefaultFeatureFlags() FeatureFlags {
	return FeatureFlags{
		EnableKBLookup:         true,
		EnableAdversarialTests: true,
		EnableCausalGraph:      true,
		EnableProvenancePass:   true,
	}
}

// StartRequest is the dispatch payload for one accepted submission.
type StartRequest struct {
	RunID         string       `json:"run_id"`
	RepoURL       string       `json:"repo_url"`
	TeamName      string       `json:"team_name"`
	LeaderName    string       `json:"leader_name"`
	BranchName    string       `json:"branch_name"`
	MaxIterations int          `json:"max_iterations"`
	FeatureFlags  FeatureFlags `json:"feature_flags"`
}

// StartResponse acknowledges a dispatch.
type StartResponse struct {
	Accepted bool   `json:"accepted"`
	RunID    string `json:"run_id"`
}

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the pipeline service.
	BaseURL string

	// Timeout applies to individual requests. Defaults to 10 seconds.
	Timeout time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("agent: BaseURL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// StartRun dispatches a run to the pipeline.
func (c *Client) StartRun(ctx context.Context, req StartRequest) (*StartResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("agent: marshal start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/start", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent: dispatch run %s: %w", req.RunID, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("agent: dispatch run %s: status %d: %s",
			req.RunID, httpResp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var resp StartResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("agent: decode start response: %w", err)
	}
	if !resp.Accepted {
		return nil, fmt.Errorf("agent: pipeline refused run %s", req.RunID)
	}
	return &resp, nil
}

// Healthy probes the pipeline's health endpoint. Any 2xx counts as up.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("agent: build health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("agent: health probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agent: health probe: status %d", resp.StatusCode)
	}
	return nil
}
