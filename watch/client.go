package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clipsmith/store"
)

// StatusClient is a thin HTTP client for the pipeline API's status
// projection.
type StatusClient struct {
	baseURL string
	client  *http.Client
}

// NewStatusClient creates a status client for the given API base URL.
func NewStatusClient(baseURL string) *StatusClient {
	return &StatusClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// ActiveVideos fetches the projection of jobs still moving through the
// pipeline.
func (c *StatusClient) ActiveVideos() ([]store.StatusProjection, error) {
	resp, err := c.client.Get(c.baseURL + "/api/videos/status")
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Videos []store.StatusProjection `json:"videos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return parsed.Videos, nil
}

// ErrorEntry is one failed job in the error log projection.
type ErrorEntry struct {
	VideoID      uint   `json:"video_id"`
	SourceURL    string `json:"source_url"`
	FailedStep   string `json:"failed_step"`
	ErrorMessage string `json:"error_message"`
}

// RecentErrors fetches jobs currently in Error status.
func (c *StatusClient) RecentErrors() ([]ErrorEntry, error) {
	resp, err := c.client.Get(c.baseURL + "/api/videos/errors")
	if err != nil {
		return nil, fmt.Errorf("failed to get error log: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Errors []ErrorEntry `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return parsed.Errors, nil
}
