// Package httpstore talks to the remote shared document store over HTTP.
// The remote service exposes one document per collection and no optimistic
// version token, so callers must follow the re-read-before-write protocol.
package httpstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orderline/internal/store"
)

// Client implements store.Store against the remote document service.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, apiKey string) *Client {
	timeout := 15 * time.Second
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Timeout:    timeout,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("store api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Fetch reads a collection document. A 404 maps to store.ErrNotFound.
func (c *Client) Fetch(ctx context.Context, collection string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, collection, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, store.ErrNotFound
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return io.ReadAll(resp.Body)
}

// Replace overwrites a collection document in one request.
func (c *Client) Replace(ctx context.Context, collection string, doc []byte) error {
	req, err := c.newRequest(ctx, http.MethodPut, collection, bytes.NewReader(doc))
	if err != nil {
		return err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, collection string, body io.Reader) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/collections/%s", strings.TrimRight(c.BaseURL, "/"), url.PathEscape(collection))
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return req, nil
}

// client never writes back to the struct; Fetch and Replace run
// concurrently from server handlers.
func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}
