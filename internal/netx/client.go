package netx

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client wraps an http.Client with retry behavior for transient failures,
// rotating browser headers and an optional shared bandwidth cap.
type Client struct {
	httpClient *http.Client
	retry      RetryOptions
	headers    map[string]string
	limiter    *rate.Limiter
}

// Options configures NewClient. The zero value is usable.
type Options struct {
	Timeout     time.Duration
	Retry       RetryOptions
	InsecureTLS bool
	// Proxy is an http, https or socks5 proxy URL. Empty uses the environment.
	Proxy string
	// Cookies is sent verbatim as the Cookie header.
	Cookies string
	// Headers are added to every request after the rotating defaults.
	Headers map[string]string
	// MaxBandwidth caps the combined body read rate in bytes per second.
	MaxBandwidth int64
}

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// NewClient builds a Client with a tuned transport and timeout.
//
// It centralizes retry semantics used by Do/GetBytes, and uses a
// 30-second timeout when timeout is zero or negative.
func NewClient(opts Options) (*Client, error) {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if opts.Proxy != "" {
		u, err := url.Parse(opts.Proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", opts.Proxy)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	if opts.InsecureTLS {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return newClient(&http.Client{Timeout: opts.Timeout, Transport: tr}, opts), nil
}

// newClient wraps httpClient with the retry, header and bandwidth settings
// of opts. A nil client is replaced with a default one, and a non-positive
// timeout is normalized to 30 seconds.
func newClient(httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: httpClient,
		retry:      opts.Retry,
		headers:    mergeHeaders(opts),
		limiter:    newLimiter(opts.MaxBandwidth),
	}
}

func mergeHeaders(opts Options) map[string]string {
	h := make(map[string]string, len(opts.Headers)+1)
	for k, v := range opts.Headers {
		h[k] = v
	}
	if opts.Cookies != "" {
		h["Cookie"] = opts.Cookies
	}
	return h
}

// Do executes req with RetryOperation.
//
// Retryable transport errors and HTTP 5xx/429 responses are retried. Errors
// deemed non-retryable are wrapped as permanentError so RetryOperation stops
// retrying; callers can unwrap with unwrapPermanent.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	return RetryOperation(ctx, c.retry, func() (*http.Response, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if isRetryableError(err) {
				return nil, err
			}
			return nil, &permanentError{err: err}
		}
		if resp.StatusCode >= 500 || resp.StatusCode == 429 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("retryable status: %d", resp.StatusCode)
		}
		return resp, nil
	})
}

func (c *Client) newRequest(ctx context.Context, rawURL string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range RandomHeaders() {
		req.Header[k] = v
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) readBody(ctx context.Context, r io.Reader) ([]byte, error) {
	if c.limiter != nil {
		r = &limitedReader{ctx: ctx, r: r, limiter: c.limiter}
	}
	return io.ReadAll(r)
}

// GetBytes sends a GET request and returns status code plus raw response body.
//
// Any permanentError from Do is unwrapped before returning.
func (c *Client) GetBytes(ctx context.Context, rawURL string, headers map[string]string) (int, []byte, error) {
	req, err := c.newRequest(ctx, rawURL, headers)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, nil, unwrapPermanent(err)
	}
	defer resp.Body.Close()
	b, err := c.readBody(ctx, resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

// Fetch is GetBytes for callers that only accept a 2xx response. Other
// statuses are returned as *StatusError.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	status, b, err := c.GetBytes(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &StatusError{Code: status, URL: rawURL}
	}
	return b, nil
}

// FetchSegment performs a single GET for a media segment without retrying.
// A positive length requests the byte range [offset, offset+length).
func (c *Client) FetchSegment(ctx context.Context, rawURL string, offset, length int64) ([]byte, error) {
	req, err := c.newRequest(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if length > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}
	b, err := c.readBody(ctx, resp.Body)
	if err != nil {
		return nil, err
	}
	// Servers that ignore Range send the whole resource.
	if length > 0 && resp.StatusCode == http.StatusOK && int64(len(b)) > length {
		end := offset + length
		if end > int64(len(b)) {
			return nil, fmt.Errorf("byte range %d@%d exceeds body of %d bytes", length, offset, len(b))
		}
		b = b[offset:end]
	}
	return b, nil
}

type permanentError struct{ err error }

// permanentError marks failures that should bypass retry logic.
func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func unwrapPermanent(err error) error {
	if p, ok := err.(*permanentError); ok {
		return p.err
	}
	return err
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if nerr, ok := err.(net.Error); ok {
		return nerr.Timeout() || nerr.Temporary()
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection reset") || strings.Contains(s, "timeout") || strings.Contains(s, "eof")
}
