package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type openRequest struct {
	WriteMode string `json:"write_mode"`
	Role      string `json:"role"`
}

type openResponse struct {
	NextContinuationToken string          `json:"next_continuation_token"`
	ChannelStatus         json.RawMessage `json:"channel_status"`
}

// openChannel issues the channel :open call. It
// seeds continuationToken from the response and, on first open, sets
// nextOffset to 1. A recovery open (Broken -> Opening) leaves nextOffset
// untouched to preserve monotonicity.
func (c *Client) openChannel(ctx context.Context) error {
	url := fmt.Sprintf("%s/v2/streaming/databases/%s/schemas/%s/pipes/%s/channels/%s:open",
		c.baseURL(), c.cfg.Database, c.cfg.Schema, c.cfg.Pipe, c.cfg.ChannelName)

	body, err := json.Marshal(openRequest{WriteMode: "CLOUD_STORAGE", Role: c.cfg.Role})
	if err != nil {
		return fmt.Errorf("encoding open request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building open request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authHeader(req, ctx); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.transition(Broken)
		return &NetworkError{Op: "channel open", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.transition(Broken)
		return fmt.Errorf("channel open: unexpected status %d", resp.StatusCode)
	}

	var parsed openResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.transition(Broken)
		return fmt.Errorf("decoding open response: %w", err)
	}

	c.mu.Lock()
	c.ch.continuationToken = parsed.NextContinuationToken
	if c.ch.nextOffset == 0 {
		c.ch.nextOffset = 1
	}
	c.ch.state = Open
	c.ch.openedAt = time.Now()
	c.ch.consecutive5xx = 0
	c.mu.Unlock()

	logComponent().WithFields(map[string]interface{}{
		"channel": c.cfg.ChannelName,
		"state":   Open.String(),
	}).Info("channel opened")
	return nil
}

func (c *Client) transition(s State) {
	c.mu.Lock()
	c.ch.state = s
	c.mu.Unlock()
	logComponent().WithFields(map[string]interface{}{
		"channel": c.cfg.ChannelName,
		"state":   s.String(),
	}).Info("channel state transition")
}
