package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type hostDiscoveryResponse struct {
	IngestHost string `json:"ingest_host"`
}

// discoverHost calls the control-plane hostname endpoint once. The result
// is memoized by the caller.
func (c *Client) discoverHost(ctx context.Context) (string, error) {
	url := c.cfg.ControlBase + "/v2/streaming/hostname"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	if err := c.authHeader(req, ctx); err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Op: "host discovery", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body hostDiscoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if body.IngestHost == "" {
		return "", fmt.Errorf("response missing ingest_host")
	}
	return body.IngestHost, nil
}
