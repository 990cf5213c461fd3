package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustinober1/studysync/internal/card"
)

// Client talks to the hosted flashcard document API over HTTP JSON.
//
// Routes:
//
//	GET    /v1/flashcards/{id}
//	PUT    /v1/flashcards/{id}
//	PATCH  /v1/flashcards/{id}
//	DELETE /v1/flashcards/{id}
//	GET    /v1/flashcards?user_id={uid}
//	POST   /v1/flashcards/batch
//
// Every call is bounded by the configured timeout; a hung call surfaces as
// ErrUnavailable, which the sync engine treats as "try again next pass".
type Client struct {
	base  string
	token string
	httpc *http.Client
}

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	// BaseURL of the document API, e.g. https://api.example.com
	BaseURL string

	// Token is sent as a bearer token when non-empty.
	Token string

	// Timeout bounds each request (default: 10s).
	Timeout time.Duration
}

// NewClient creates an HTTP-backed Store.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		httpc: &http.Client{Timeout: timeout},
	}, nil
}

// Get implements Store.Get.
func (c *Client) Get(ctx context.Context, id string) (*card.Card, error) {
	var out card.Card
	if err := c.do(ctx, http.MethodGet, "/v1/flashcards/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Put implements Store.Put.
func (c *Client) Put(ctx context.Context, crd *card.Card) error {
	return c.do(ctx, http.MethodPut, "/v1/flashcards/"+url.PathEscape(crd.ID), crd, nil)
}

// Update implements Store.Update.
func (c *Client) Update(ctx context.Context, id string, fields map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/v1/flashcards/"+url.PathEscape(id), fields, nil)
}

// Delete implements Store.Delete.
func (c *Client) Delete(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/flashcards/"+url.PathEscape(id), nil, nil)
	if err == ErrNotFound {
		return nil
	}
	return err
}

// QueryByUser implements Store.QueryByUser.
func (c *Client) QueryByUser(ctx context.Context, userID string) ([]*card.Card, error) {
	var out []*card.Card
	path := "/v1/flashcards?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchPut implements Store.BatchPut. The server commits the batch
// atomically; a non-2xx response means no card landed.
func (c *Client) BatchPut(ctx context.Context, cards []*card.Card) error {
	return c.do(ctx, http.MethodPost, "/v1/flashcards/batch", cards, nil)
}

// do executes one request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		// Drain a little of the body for the log line, then discard.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrUnavailable, method, path, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %s %s: decode: %v", ErrUnavailable, method, path, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return nil
}
