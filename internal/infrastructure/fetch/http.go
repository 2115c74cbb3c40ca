// Package fetch implements the outbound document fetch capability.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/progscrape/progscrape/internal/config"
	"github.com/progscrape/progscrape/internal/ports"
)

// Client fetches raw documents with the scraper User-Agent and a
// bounded per-call deadline.
type Client struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	maxBody   int64
}

var _ ports.Fetcher = (*Client)(nil)

// New wires an HTTP client from config; a nil http.Client gets sane
// defaults.
func New(cfg config.FetchConfig, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 4 << 20
	}
	return &Client{
		client:    client,
		userAgent: cfg.UserAgent,
		timeout:   timeout,
		maxBody:   maxBody,
	}
}

// Fetch retrieves a document body. The call deadline is the tighter of
// the caller's context and the configured timeout.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return body, nil
}
