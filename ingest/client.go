// Package ingest implements the streaming channel protocol: host
// discovery, channel open, row append with offset-token discipline,
// status polling, and the channel lifecycle state machine.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tspannhw/RPIThermalStreaming/token"
)

// Config names the account/pipe coordinates and endpoint bases the client
// needs
type Config struct {
	ControlBase string
	IngestBase  string
	Database    string
	Schema      string
	Pipe        string
	ChannelName string
	Role        string

	// IngestScheme defaults to "https"; overridable for tests against a
	// plain-HTTP fake server.
	IngestScheme string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Client is the protocol-layer driver. A Client owns exactly one Channel;
// the caller (scheduler.Scheduler) must never issue concurrent Appends.
type Client struct {
	cfg    Config
	tokens token.Source

	httpClient *http.Client
	ingestHost string

	mu sync.Mutex
	ch channel
}

// NewClient performs host discovery and channel open inline, and returns
// a Client with its channel already Open.
func NewClient(ctx context.Context, cfg Config, tokens token.Source) (*Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.IngestScheme == "" {
		cfg.IngestScheme = "https"
	}

	c := &Client{
		cfg:    cfg,
		tokens: tokens,
		httpClient: &http.Client{
			Transport: newTransport(cfg.ConnectTimeout),
			Timeout:   cfg.RequestTimeout,
		},
		ch: channel{name: cfg.ChannelName, state: Opening},
	}

	host, err := c.discoverHost(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: host discovery: %w", err)
	}
	c.ingestHost = host

	if err := c.openChannel(ctx); err != nil {
		return nil, fmt.Errorf("ingest: channel open: %w", err)
	}
	return c, nil
}

// State returns the channel's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.state
}

// NextOffset returns the offset the next successful append will claim.
func (c *Client) NextOffset() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.nextOffset
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	return c.tokens.Get(ctx)
}

func (c *Client) authHeader(req *http.Request, ctx context.Context) error {
	bearer, err := c.bearer(ctx)
	if err != nil {
		return fmt.Errorf("acquiring bearer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	return nil
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("%s://%s", c.cfg.IngestScheme, c.ingestHost)
}

func logComponent() *log.Entry {
	return log.WithField("component", "ingest.Client")
}

// Close best-effort invalidates the channel server-side. Failures are
// logged at DEBUG and never returned as fatal; the server garbage-collects
// abandoned channels regardless.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	name := c.ch.name
	c.ch.state = Closed
	c.mu.Unlock()

	url := fmt.Sprintf("%s/v2/streaming/databases/%s/schemas/%s/pipes/%s/channels/%s:close",
		c.baseURL(), c.cfg.Database, c.cfg.Schema, c.cfg.Pipe, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		logComponent().WithError(err).Debug("building close request")
		return
	}
	if err := c.authHeader(req, ctx); err != nil {
		logComponent().WithError(err).Debug("authorizing close request")
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logComponent().WithError(err).Debug("channel close call failed")
		return
	}
	defer resp.Body.Close()
	logComponent().WithField("status", resp.StatusCode).Debug("channel close call completed")
}
