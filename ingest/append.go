package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tspannhw/RPIThermalStreaming/reading"
)

type appendResponse struct {
	NextContinuationToken string `json:"next_continuation_token"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// invalidator is implemented by token.Signed; Static tokens have nothing
// to invalidate and are left alone.
type invalidator interface {
	Invalidate()
}

// Append serializes rows as NDJSON and appends them to the channel,
// advancing the offset token exactly once on success. It retries
// throttled and transient failures with backoff, forces a token refresh
// once on 401, and re-opens and retries the batch once on channel
// invalidation, per the classification table.
func (c *Client) Append(ctx context.Context, rows []reading.Reading) error {
	body, err := reading.EncodeNDJSON(rows)
	if err != nil {
		return fmt.Errorf("ingest: encoding batch: %w", err)
	}

	err = c.attemptAppend(ctx, body, len(rows))

	var chErr *ChannelError
	if errors.As(err, &chErr) {
		logComponent().WithField("channel", c.cfg.ChannelName).Info("channel invalidated, reopening")
		if reopenErr := c.openChannel(ctx); reopenErr != nil {
			appendErrorsTotal.WithLabelValues("channel").Inc()
			return fmt.Errorf("ingest: batch dropped, reopen failed: %w", reopenErr)
		}
		if err2 := c.attemptAppend(ctx, body, len(rows)); err2 != nil {
			appendErrorsTotal.WithLabelValues("channel").Inc()
			return fmt.Errorf("ingest: batch dropped after reopen retry: %w", err2)
		}
		return nil
	}
	return err
}

// attemptAppend runs one offset-token's worth of retries: throttled and
// transient-server responses are retried with backoff on the same
// (continuationToken, offsetToken, body); a 401 forces one token refresh
// and one retry without advancing the offset; a channel-level response is
// returned to the caller for reopen-and-retry; any other 4xx is returned
// immediately without retry.
func (c *Client) attemptAppend(ctx context.Context, body []byte, rowCount int) error {
	c.mu.Lock()
	ct := c.ch.continuationToken
	offset := c.ch.nextOffset
	c.mu.Unlock()
	offsetStr := strconv.FormatUint(offset, 10)

	authRetried := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		status, respBody, nextCT, doErr := c.doAppend(ctx, ct, offsetStr, body)
		appendLatencySeconds.Observe(time.Since(start).Seconds())

		if doErr != nil {
			if retry := c.handleTransient(attempt); !retry {
				appendErrorsTotal.WithLabelValues("network").Inc()
				return &NetworkError{Op: "append", Err: doErr}
			}
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		switch class := classify(status, respBody); class {
		case classSuccess:
			c.commitOffset(nextCT)
			rowsSentTotal.Add(float64(rowCount))
			return nil

		case classThrottled, classTransient:
			retry := true
			if class == classTransient {
				retry = c.handleTransient(attempt)
			}
			if !retry {
				appendErrorsTotal.WithLabelValues("network").Inc()
				return &NetworkError{Op: "append", Err: fmt.Errorf("status %d", status)}
			}
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
			continue

		case classAuth:
			appendErrorsTotal.WithLabelValues("auth").Inc()
			if authRetried {
				return fmt.Errorf("ingest: append: auth retry exhausted, status %d", status)
			}
			authRetried = true
			if inv, ok := c.tokens.(invalidator); ok {
				inv.Invalidate()
			}
			continue

		case classChannel:
			appendErrorsTotal.WithLabelValues("channel").Inc()
			c.transition(Broken)
			return &ChannelError{Channel: c.cfg.ChannelName, Code: envelopeCode(respBody), Err: fmt.Errorf("status %d", status)}

		default: // classClient
			appendErrorsTotal.WithLabelValues("client").Inc()
			logComponent().WithFields(map[string]interface{}{
				"status": status,
				"body":   string(respBody),
			}).Debug("client error appending batch; dropping")
			return &ClientError{StatusCode: status, Body: string(respBody)}
		}
	}

	appendErrorsTotal.WithLabelValues("exhausted").Inc()
	return fmt.Errorf("ingest: append: retries exhausted after %d attempts", maxAttempts)
}

// handleTransient records a 5xx/network failure against the channel's
// consecutive-failure counter and reports whether the caller should still
// retry (false once the channel has just been marked Broken).
func (c *Client) handleTransient(attempt int) bool {
	c.mu.Lock()
	c.ch.consecutive5xx++
	broken := c.ch.consecutive5xx >= 2
	if broken {
		c.ch.state = Broken
	}
	c.mu.Unlock()

	if broken {
		logComponent().WithField("channel", c.cfg.ChannelName).Info("channel state transition: Broken (consecutive transient failures)")
		return false
	}
	return attempt < maxAttempts-1
}

func (c *Client) commitOffset(nextCT string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch.continuationToken = nextCT
	c.ch.nextOffset++
	c.ch.consecutive5xx = 0
}

func sleepBackoff(ctx context.Context, attempt int) error {
	select {
	case <-time.After(backoff(attempt)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type responseClass int

const (
	classSuccess responseClass = iota
	classThrottled
	classTransient
	classAuth
	classChannel
	classClient
)

func classify(status int, body []byte) responseClass {
	switch {
	case status >= 200 && status < 300:
		return classSuccess
	case status == 429:
		return classThrottled
	case status == 401:
		return classAuth
	case status == 404 || status == 410:
		return classChannel
	case status == 400 && isChannelCode(body):
		return classChannel
	case status >= 500:
		return classTransient
	default:
		return classClient
	}
}

func isChannelCode(body []byte) bool {
	return envelopeCode(body) == "ERR_CHANNEL_DOES_NOT_EXIST_OR_IS_NOT_AUTHORIZED"
}

func envelopeCode(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Code
}

// doAppend issues the raw POST for one attempt and returns the HTTP status,
// the raw response body, and the next continuation token on success.
func (c *Client) doAppend(ctx context.Context, ct, offset string, body []byte) (int, []byte, string, error) {
	reqURL := fmt.Sprintf("%s/v2/streaming/data/databases/%s/schemas/%s/pipes/%s/channels/%s/rows?continuationToken=%s&offsetToken=%s",
		c.baseURL(), c.cfg.Database, c.cfg.Schema, c.cfg.Pipe, c.cfg.ChannelName, url.QueryEscape(ct), url.QueryEscape(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, "", fmt.Errorf("building append request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if err := c.authHeader(req, ctx); err != nil {
		return 0, nil, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, "", fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, respBody, "", nil
	}

	var parsed appendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return resp.StatusCode, respBody, "", fmt.Errorf("decoding append response: %w", err)
	}
	return resp.StatusCode, respBody, parsed.NextContinuationToken, nil
}
