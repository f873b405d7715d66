// Package httputil provides the bounded HTTP primitives shared by the
// uploader pipeline and the platform adapters.
package httputil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultFetchTimeout bounds a single remote-image fetch.
const DefaultFetchTimeout = 30 * time.Second

// maxBodyBytes caps any response body read through this package.
const maxBodyBytes = 32 << 20

// ReadAllWithLimit reads up to limit bytes and reports whether the body was
// truncated.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads up to limit bytes and errors when the body exceeds it.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return data, nil
}

// Client wraps an http.Client with the read limits and timeouts the engine
// relies on. The zero value is not usable; use NewClient.
type Client struct {
	hc *http.Client
}

// NewClient creates a client. A nil base client gets sensible pooling.
func NewClient(base *http.Client) *Client {
	if base == nil {
		base = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{hc: base}
}

// Image is the fetched remote-image payload.
type Image struct {
	Data []byte
	MIME string
}

// FetchImage downloads the bytes behind url within DefaultFetchTimeout,
// linked to ctx so an external cancellation also stops the fetch.
func (c *Client) FetchImage(ctx context.Context, url string) (*Image, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := ReadAllStrict(resp.Body, maxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return &Image{Data: data, MIME: mime}, nil
}

// PostXML posts an XML-RPC body and returns the raw response body. Any HTTP
// 200 body is returned as-is for the lenient decoder; non-2xx is an error.
func (c *Client) PostXML(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rpc post %s: status %d", url, resp.StatusCode)
	}
	return ReadAllStrict(resp.Body, maxBodyBytes)
}

// PostJSON posts a JSON body with a token header and returns the raw
// response body plus status code.
func (c *Client) PostJSON(ctx context.Context, url, token string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build json request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("json post %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := ReadAllStrict(resp.Body, maxBodyBytes)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// GetJSON performs a GET with a token header and returns the raw body plus
// status code.
func (c *Client) GetJSON(ctx context.Context, url, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build json request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("json get %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := ReadAllStrict(resp.Body, maxBodyBytes)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return data, resp.StatusCode, nil
}
