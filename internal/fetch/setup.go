package fetch

import (
	"fmt"
	"log/slog"

	"github.com/maltedev/search-spider/internal/browser"
	"github.com/maltedev/search-spider/internal/config"
	"github.com/maltedev/search-spider/internal/ratelimit"
)

// Stack is the fetcher a process runs searches with, plus whatever must be
// released on shutdown.
type Stack struct {
	*Router
	browser *browser.Browser
}

// NewStack builds the shared rate limiter, the HTTP client and, when
// cfg.Browser is set, a headless browser for rendered sources. HTTP and
// browser fetches draw from the same limiter.
func NewStack(cfg config.ScraperConfig, logger *slog.Logger) (*Stack, error) {
	limiter := ratelimit.New(cfg.RateLimitMin, cfg.RateLimitMax, cfg.Burst)

	httpClient, err := NewHTTPClient(HTTPOptions{
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		Concurrency: cfg.Concurrency,
		MaxBodySize: cfg.MaxBodySize,
		UserAgents:  cfg.UserAgents,
		Proxies:     cfg.Proxies,
		Limiter:     limiter,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	s := &Stack{Router: &Router{HTTP: httpClient, Logger: logger}}
	if !cfg.Browser {
		return s, nil
	}

	opts := browser.DefaultOptions()
	opts.Headless = cfg.Headless
	opts.Timeout = cfg.Timeout
	if len(cfg.UserAgents) > 0 {
		opts.UserAgent = cfg.UserAgents[0]
	}
	if len(cfg.Proxies) > 0 {
		opts.ProxyServer = cfg.Proxies[0]
	}

	b, err := browser.New(opts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}
	s.browser = b
	s.Router.Browser = NewBrowserFetcher(b, cfg.BrowserPages, limiter, cfg.MaxRetries, logger)
	return s, nil
}

func (s *Stack) Close() error {
	if s.browser == nil {
		return nil
	}
	return s.browser.Close()
}
