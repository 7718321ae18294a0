package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
)

// Client is an HTTP client bound to one application instance with overrides
// installed. Paths are relative to the server root; cookies persist across
// requests so session flows can be exercised.
type Client struct {
	srv *httptest.Server
	hc  *http.Client
}

// NewClient starts an in-process server for handler and returns a client
// bound to it. Close stops the server.
func NewClient(handler http.Handler) (*Client, error) {
	srv := httptest.NewServer(handler)
	jar, err := cookiejar.New(nil)
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Client{
		srv: srv,
		hc:  &http.Client{Jar: jar},
	}, nil
}

// BaseURL returns the root URL of the bound server.
func (c *Client) BaseURL() string {
	return c.srv.URL
}

// Close shuts the bound server down.
func (c *Client) Close() {
	c.srv.Close()
}

// Get issues a GET request for path.
func (c *Client) Get(path string) (*http.Response, error) {
	return c.hc.Get(c.srv.URL + path)
}

// PostJSON issues a POST request with a JSON-encoded body.
func (c *Client) PostJSON(path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.hc.Post(c.srv.URL+path, "application/json", bytes.NewReader(payload))
}

// GetJSON issues a GET request and decodes the JSON response into out.
// Non-2xx statuses are an error.
func (c *Client) GetJSON(path string, out any) error {
	resp, err := c.Get(path)
	if err != nil {
		return err
	}
	return DecodeJSON(resp, out)
}

// DecodeJSON decodes a response body into out, failing on non-2xx statuses.
// The body is always drained and closed.
func DecodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
