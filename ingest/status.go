package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type statusRequest struct {
	ChannelNames []string `json:"channel_names"`
}

type statusResponse struct {
	Channels map[string]struct {
		LastCommittedOffsetToken string `json:"last_committed_offset_token"`
	} `json:"channels"`
}

// Status polls the pipe's bulk-channel-status endpoint and returns the
// server's last-committed offset token for this client's channel.
func (c *Client) Status(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/v2/streaming/databases/%s/schemas/%s/pipes/%s:bulk-channel-status",
		c.baseURL(), c.cfg.Database, c.cfg.Schema, c.cfg.Pipe)

	body, err := json.Marshal(statusRequest{ChannelNames: []string{c.cfg.ChannelName}})
	if err != nil {
		return "", fmt.Errorf("encoding status request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authHeader(req, ctx); err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Op: "status poll", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status poll: unexpected status %d", resp.StatusCode)
	}

	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding status response: %w", err)
	}

	entry, ok := parsed.Channels[c.cfg.ChannelName]
	if !ok {
		return "", fmt.Errorf("status poll: no entry for channel %q", c.cfg.ChannelName)
	}
	return entry.LastCommittedOffsetToken, nil
}
