package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maltedev/search-spider/internal/models"
	"github.com/maltedev/search-spider/internal/ratelimit"
)

// DefaultHeaders is sent with every request unless the descriptor sets
// the same header.
var DefaultHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
	"Cache-Control":   "no-cache",
}

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type HTTPOptions struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Concurrency int
	MaxBodySize int64
	UserAgents  []string
	Proxies     []string
	Limiter     ratelimit.RateLimiter
	Transport   http.RoundTripper
}

// HTTPClient fetches static pages over plain HTTP.
type HTTPClient struct {
	client     *http.Client
	opts       HTTPOptions
	sem        *semaphore.Weighted
	userAgents []string
	uaIndex    atomic.Uint64
	logger     *slog.Logger
}

func NewHTTPClient(opts HTTPOptions, logger *slog.Logger) (*HTTPClient, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 10 * 1024 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if len(opts.Proxies) > 0 {
			proxy, err := roundRobinProxy(opts.Proxies)
			if err != nil {
				return nil, err
			}
			t.Proxy = proxy
		}
		transport = t
	}

	userAgents := opts.UserAgents
	if len(userAgents) == 0 {
		userAgents = []string{DefaultUserAgent}
	}

	return &HTTPClient{
		client:     &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:       opts,
		sem:        semaphore.NewWeighted(int64(opts.Concurrency)),
		userAgents: userAgents,
		logger:     logger.With("component", "http_fetcher"),
	}, nil
}

func roundRobinProxy(proxies []string) (func(*http.Request) (*url.URL, error), error) {
	urls := make([]*url.URL, 0, len(proxies))
	for _, p := range proxies {
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q", p)
		}
		urls = append(urls, u)
	}
	var next atomic.Uint64
	return func(*http.Request) (*url.URL, error) {
		i := next.Add(1) - 1
		return urls[i%uint64(len(urls))], nil
	}, nil
}

func (c *HTTPClient) userAgent() string {
	i := c.uaIndex.Add(1) - 1
	return c.userAgents[i%uint64(len(c.userAgents))]
}

// Fetch performs the request with retries. Errors are *Failure values.
func (c *HTTPClient) Fetch(ctx context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, &Failure{Request: req, Cause: err}
	}
	defer c.sem.Release(1)

	var (
		lastErr    error
		lastStatus int
		attempts   int
	)
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.opts.RetryDelay * time.Duration(1<<(attempt-1))
			c.logger.Info("retrying request", "url", req.URL(), "attempt", attempt+1, "delay", delay, "error", lastErr)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, &Failure{Request: req, Status: lastStatus, Attempts: attempts, Cause: ctx.Err()}
			case <-timer.C:
			}
		}

		if c.opts.Limiter != nil {
			if err := c.opts.Limiter.Wait(ctx); err != nil {
				return nil, &Failure{Request: req, Status: lastStatus, Attempts: attempts, Cause: err}
			}
		}

		attempts++
		resp, status, retry, err := c.do(ctx, req)
		c.feedback(err)
		if err == nil {
			return resp, nil
		}
		lastErr, lastStatus = err, status
		if !retry || ctx.Err() != nil {
			break
		}
	}

	if ctx.Err() != nil {
		lastErr = ctx.Err()
	}
	return nil, &Failure{Request: req, Status: lastStatus, Attempts: attempts, Cause: lastErr}
}

func (c *HTTPClient) feedback(err error) {
	fb, ok := c.opts.Limiter.(ratelimit.Feedback)
	if !ok {
		return
	}
	if err != nil {
		fb.RecordError()
	} else {
		fb.RecordSuccess()
	}
}

// do runs one attempt and reports whether a failure is worth retrying.
func (c *HTTPClient) do(ctx context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, int, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method(), req.URL(), nil)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("User-Agent", c.userAgent())
	for k, v := range req.Headers() {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, 0, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodySize+1))
	if err != nil {
		return nil, resp.StatusCode, true, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > c.opts.MaxBodySize {
		return nil, resp.StatusCode, false, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, c.opts.MaxBodySize)
	}

	c.logger.Debug("fetched",
		"url", req.URL(),
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, resp.StatusCode, true, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		if reason, blocked := DetectBlocked(body); blocked {
			return nil, resp.StatusCode, true, fmt.Errorf("%w: %s", ErrBlocked, reason)
		}
		return nil, resp.StatusCode, false, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	if reason, blocked := DetectBlocked(body); blocked {
		return nil, resp.StatusCode, true, fmt.Errorf("%w: %s", ErrBlocked, reason)
	}

	return &models.ResponseEnvelope{
		Status:   resp.StatusCode,
		FinalURL: resp.Request.URL.String(),
		Body:     body,
		Meta:     req.Meta(),
	}, resp.StatusCode, false, nil
}
