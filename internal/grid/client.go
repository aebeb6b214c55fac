package grid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client talks to the compute grid proxy.
type Client struct {
	baseURL     string
	clientAgent string
	apiKey      string
	httpClient  *http.Client
}

// NewClient builds a grid client. apiKey may be empty for anonymous access.
func NewClient(baseURL, clientAgent, apiKey string) *Client {
	return &Client{
		baseURL:     baseURL,
		clientAgent: clientAgent,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithAPIKey returns a copy of the client submitting under the given key.
// Callers may bring their own grid key instead of using the service one.
func (c *Client) WithAPIKey(apiKey string) *Client {
	clone := *c
	clone.apiKey = apiKey
	return &clone
}

// CreateJob submits a generation job. Anything other than 202 Accepted is an
// error.
func (c *Client) CreateJob(ctx context.Context, request JobRequest) (*JobAccepted, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	slog.Debug("grid submit", "models", request.Models, "mediaType", request.MediaType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate/async", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Agent", c.clientAgent)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("create job failed (%d): %s", resp.StatusCode, body)
	}

	var accepted JobAccepted
	if err := json.Unmarshal(body, &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

// JobStatus polls the state of a submitted job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/generate/status/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Agent", c.clientAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("job status failed (%d): %s", resp.StatusCode, body)
	}

	var status JobStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ModelStats fetches the grid's per-model availability report.
func (c *Client) ModelStats(ctx context.Context) ([]ModelStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Agent", c.clientAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model stats failed (%d): %s", resp.StatusCode, body)
	}

	var stats []ModelStatus
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return stats, nil
}
