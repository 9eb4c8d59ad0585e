// Package proxy builds the HTTP client the proxy-side download worker
// uses to fetch crates from the upstream registry, and knows how to
// chase redirects and undo upstream response compression.
package proxy

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
)

// MaxRedirects bounds how many 3xx responses a single download will
// chase before giving up, so a misbehaving or malicious upstream can't
// spin a worker forever (spec §4.C).
const MaxRedirects = 10

// Client fetches crate tarballs from a single upstream registry.
type Client struct {
	http *http.Client
}

// New builds a Client with the teacher's connection-pool tuning,
// redirects disabled at the transport level (Fetch chases them itself
// so it can enforce MaxRedirects and reject a missing or invalid
// Location).
func New(dialer *net.Dialer) *Client {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	}
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxConnsPerHost:       100,
				MaxIdleConns:          1000,
				MaxIdleConnsPerHost:   100,
				IdleConnTimeout:       10 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				DisableCompression:    true,
				DialContext:           dialer.DialContext,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Fetch GETs url, following redirects itself (up to MaxRedirects) so it
// can decide what counts as a terminal response, and decompresses the
// body if the upstream used gzip or brotli content-encoding.
func (c *Client) Fetch(ctx context.Context, url string) (*http.Response, error) {
	for redirects := 0; ; redirects++ {
		if redirects > MaxRedirects {
			return nil, fmt.Errorf("proxy: too many redirects fetching %s", url)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("proxy: build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("proxy: fetch %s: %w", url, err)
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("proxy: redirect without Location from %s", url)
			}
			next, err := req.URL.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("proxy: invalid redirect Location %q: %w", loc, err)
			}
			url = next.String()
			continue
		}

		return uncompress(resp)
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func uncompress(resp *http.Response) (*http.Response, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp, fmt.Errorf("proxy: gzip reader: %w", err)
		}
		resp.ContentLength = -1
		resp.Body = &struct {
			io.Closer
			io.Reader
		}{Closer: resp.Body, Reader: reader}
	case "br":
		reader := brotli.NewReader(resp.Body)
		resp.ContentLength = -1
		resp.Body = &struct {
			io.Closer
			io.Reader
		}{Closer: resp.Body, Reader: reader}
	}
	return resp, nil
}
