// Package httpclient implements the provider-aware throttled, retrying GET
// client shared by the harvester and the analyzer. It follows the same
// shape as the teacher's tuned *http.Client plus retry/backoff loop in
// internal/downloader (Mirror-Rust-Crates), generalized from a
// fire-and-forget crate mirror into a client that also honors per-provider
// rate-limit headers and exposes its throttle state for a progress
// reporter to read.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Known provider throttle keys. httpclient deliberately does not import
// internal/provider to avoid a cycle (provider adapters import httpclient);
// callers pass the provider's Kind as a plain string.
const (
	ProviderDryad    = "dryad"
	ProviderFigshare = "figshare"
	ProviderZenodo   = "zenodo"
)

// ErrUndefined marks a failure that never produced an HTTP status code
// (connection error, TLS error, timeout) surfaced after retries are
// exhausted, matching the core specification's "undefined" token.
var ErrUndefined = errors.New("httpclient: undefined (non-HTTP) failure")

const maxAttempts = 6

// Options configures a Client for one provider.
type Options struct {
	Provider  string
	Timeout   time.Duration
	UserAgent string
}

// GetOptions are per-request overrides.
type GetOptions struct {
	Query map[string]string
}

// Response is the result of a successful or permanently-failed GET. Body
// and Header are set for a 2xx or a non-retryable 4xx response, and
// callers must close Body; a Response for exhausted 429/5xx retries
// carries only StatusCode, with a nil Body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client issues throttled, retrying GET requests for one content
// provider.
type Client struct {
	http      *http.Client
	provider  string
	userAgent string
	throttle  *throttleRecord
}

// New builds a Client tuned the way the teacher tunes its mirroring
// transport: modest per-host connection reuse, no global concurrency cap
// (the pipeline bounds concurrency via its worker pools instead).
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "geoextent-harvest/0.1"
	}
	return &Client{
		http:      &http.Client{Transport: tr, Timeout: timeout},
		provider:  opts.Provider,
		userAgent: ua,
		throttle:  &throttleRecord{},
	}
}

// SleepingUntil reports the provider's active extended-sleep deadline, or
// nil. No progress reporter in this repository calls it.
func (c *Client) SleepingUntil() *time.Time {
	return c.throttle.SleepingUntil()
}

// Get issues a throttled GET with up to six attempts. A final non-HTTP
// failure is returned as ErrUndefined. A final HTTP failure (429 or 5xx
// exhausted, or a non-retryable 4xx) is returned as a *Response with a
// nil error (only the status code for exhausted retries; status, header
// and body for a 4xx), so callers can distinguish
// "we got a status code" from "we never got a response at all".
func (c *Client) Get(ctx context.Context, url string, opts GetOptions) (*Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.3

	var lastStatus int
	haveStatus := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.throttle.wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)
		if len(opts.Query) > 0 {
			q := req.URL.Query()
			for k, v := range opts.Query {
				q.Set(k, v)
			}
			req.URL.RawQuery = q.Encode()
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxAttempts {
				return nil, fmt.Errorf("%w: %v", ErrUndefined, err)
			}
			if sleepErr := c.sleepBackoff(ctx, bo); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header)
			wait := retryAfter
			if wait < 60*time.Second {
				wait = 60 * time.Second
			}
			resp.Body.Close()
			resetAt := time.Now().Add(wait)
			c.throttle.setSleepingUntil(&resetAt)
			lastStatus, haveStatus = resp.StatusCode, true
			if attempt == maxAttempts {
				c.throttle.setSleepingUntil(nil)
				return &Response{StatusCode: resp.StatusCode}, nil
			}
			if err := c.sleepChunked(ctx, wait); err != nil {
				c.throttle.setSleepingUntil(nil)
				return nil, err
			}
			c.throttle.setSleepingUntil(nil)
			c.throttle.delayUntil(resetAt)

		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastStatus, haveStatus = resp.StatusCode, true
			if attempt == maxAttempts {
				return &Response{StatusCode: resp.StatusCode}, nil
			}
			if err := c.sleepBackoff(ctx, bo); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 400:
			// permanent 4xx: no retry, no throttle sleep.
			return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil

		default:
			c.applyThrottle(resp)
			return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
		}
	}

	if haveStatus {
		return &Response{StatusCode: lastStatus}, nil
	}
	return nil, ErrUndefined
}

func (c *Client) sleepBackoff(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) sleepChunked(ctx context.Context, d time.Duration) error {
	for d > 0 {
		chunk := d
		if chunk > chunkSize {
			chunk = chunkSize
		}
		timer := time.NewTimer(chunk)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		d -= chunk
	}
	return nil
}

// applyThrottle implements the provider-specific post-request delay,
// invoked only on a successful (2xx) response.
func (c *Client) applyThrottle(resp *http.Response) {
	switch c.provider {
	case ProviderDryad:
		c.throttle.delayNext(500 * time.Millisecond)

	case ProviderFigshare:
		c.throttle.delayNext(1 * time.Second)

	case ProviderZenodo:
		remaining, reset, ok := zenodoRateLimit(resp.Header)
		if !ok {
			c.throttle.delayNext(2 * time.Second)
			return
		}
		c.throttle.delayNext(500 * time.Millisecond)
		if remaining < 2 {
			c.throttle.delayUntil(reset)
		}

	default:
		c.throttle.delayNext(500 * time.Millisecond)
	}
}

func zenodoRateLimit(h http.Header) (remaining int, reset time.Time, ok bool) {
	pairs := [][2]string{
		{"x-ratelimit-remaining", "x-ratelimit-reset"},
		{"ratelimit-remaining", "ratelimit-reset"},
	}
	for _, p := range pairs {
		remStr := h.Get(p[0])
		resetStr := h.Get(p[1])
		if remStr == "" || resetStr == "" {
			continue
		}
		rem, err1 := strconv.Atoi(remStr)
		resetEpoch, err2 := strconv.ParseInt(resetStr, 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		return rem, time.Unix(resetEpoch, 0), true
	}
	return 0, time.Time{}, false
}

func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 60 * time.Second
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 60 * time.Second
}
