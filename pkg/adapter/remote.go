package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteConfig configures the HTTP transport shared by the DGM and
// OpenEvolve remote-mode adapters.
type RemoteConfig struct {
	BaseURL        string
	AuthToken      string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	Client         *http.Client
}

// RemoteClient implements the submit -> poll -> result job protocol
// shared between the DGM and OpenEvolve adapters (they differ only in
// URL path prefix and payload shapes).
type RemoteClient struct {
	cfg    RemoteConfig
	client *http.Client
}

// NewRemoteClient constructs a RemoteClient with sane defaults for
// unset fields (300s request timeout, 2s poll interval).
func NewRemoteClient(cfg RemoteConfig) *RemoteClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 300 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &RemoteClient{cfg: cfg, client: client}
}

// jobStatus mirrors the {status} shape returned by GET .../status.
type jobStatus struct {
	Status string `json:"status"`
}

// jobSubmitResponse mirrors the {jobId} shape returned by POST submit
// endpoints.
type jobSubmitResponse struct {
	JobID string `json:"jobId"`
}

// RunJob executes the full submit+poll+result sequence against
// path (e.g. "dgm/jobs/advance") and returns the decoded "result"
// field of the final GET .../jobs/{jobId}/result response. The entire
// sequence is bounded by cfg.RequestTimeout.
func (c *RemoteClient) RunJob(ctx context.Context, submitPath string, statusPathf, resultPathf func(jobID string) string, payload any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	jobID, err := c.submit(ctx, submitPath, payload)
	if err != nil {
		return nil, err
	}

	if err := c.pollUntilDone(ctx, statusPathf(jobID)); err != nil {
		return nil, err
	}

	return c.fetchResult(ctx, resultPathf(jobID))
}

func (c *RemoteClient) submit(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal submit payload: %v", ErrProtocol, err)
	}

	resp, err := c.doJSON(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: submit %s returned status %d", ErrTransport, path, resp.StatusCode)
	}

	var decoded jobSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode submit response: %v", ErrProtocol, err)
	}
	if decoded.JobID == "" {
		return "", fmt.Errorf("%w: submit response missing jobId", ErrProtocol)
	}
	return decoded.JobID, nil
}

func (c *RemoteClient) pollUntilDone(ctx context.Context, statusPath string) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := c.fetchStatus(ctx, statusPath)
		if err != nil {
			return err
		}
		switch status {
		case "completed":
			return nil
		case "failed":
			return fmt.Errorf("%w: job reported status failed", ErrTransport)
		case "running":
			// keep polling
		default:
			return fmt.Errorf("%w: unrecognized job status %q", ErrProtocol, status)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *RemoteClient) fetchStatus(ctx context.Context, path string) (string, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %s returned %d", ErrTransport, path, resp.StatusCode)
	}

	var decoded jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode status response: %v", ErrProtocol, err)
	}
	return decoded.Status, nil
}

func (c *RemoteClient) fetchResult(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: result %s returned %d", ErrTransport, path, resp.StatusCode)
	}

	var decoded struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode result response: %v", ErrProtocol, err)
	}
	return decoded.Result, nil
}

// RunJobDirect performs a single POST against path and returns its raw
// JSON body, for endpoints that respond synchronously rather than
// through the submit/poll/result job protocol (e.g. the archive
// update endpoint, which answers directly with {ok, updated, count}).
func (c *RemoteClient) RunJobDirect(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", ErrProtocol, err)
	}

	resp, err := c.doJSON(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrTransport, path, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	return raw, nil
}

// doJSON builds and executes an HTTP request against cfg.BaseURL+path
// with a JSON content type and optional bearer auth, omitting the
// Authorization header entirely when no token is configured.
func (c *RemoteClient) doJSON(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+"/"+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return resp, nil
}
