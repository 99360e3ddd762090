package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/maltedev/search-spider/internal/browser"
	"github.com/maltedev/search-spider/internal/models"
	"github.com/maltedev/search-spider/internal/ratelimit"
)

// Renderer is the part of *browser.Browser the fetcher needs.
type Renderer interface {
	Render(ctx context.Context, url, waitSelector string, attempts int) (*browser.Rendered, error)
}

// BrowserFetcher fetches pages that only have content after scripts run.
type BrowserFetcher struct {
	renderer Renderer
	sem      *semaphore.Weighted
	limiter  ratelimit.RateLimiter
	attempts int
	logger   *slog.Logger
}

func NewBrowserFetcher(r Renderer, pages int, limiter ratelimit.RateLimiter, maxRetries int, logger *slog.Logger) *BrowserFetcher {
	if pages <= 0 {
		pages = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserFetcher{
		renderer: r,
		sem:      semaphore.NewWeighted(int64(pages)),
		limiter:  limiter,
		attempts: maxRetries + 1,
		logger:   logger.With("component", "browser_fetcher"),
	}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, &Failure{Request: req, Cause: err}
	}
	defer f.sem.Release(1)

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &Failure{Request: req, Cause: err}
		}
	}

	meta := req.Meta()
	f.logger.Debug("rendering page", "url", req.URL(), "wait_selector", meta.WaitSelector)

	page, err := f.renderer.Render(ctx, req.URL(), meta.WaitSelector, f.attempts)
	if err != nil {
		if errors.Is(err, browser.ErrBotCheck) {
			err = fmt.Errorf("%w: %w", ErrBlocked, err)
		}
		return nil, &Failure{Request: req, Attempts: f.attempts, Cause: err}
	}
	if page.Status >= 400 {
		return nil, &Failure{Request: req, Status: page.Status, Attempts: 1,
			Cause: fmt.Errorf("%w: %d", ErrStatus, page.Status)}
	}

	body := []byte(page.HTML)
	if reason, blocked := DetectBlocked(body); blocked {
		return nil, &Failure{Request: req, Status: page.Status, Attempts: 1,
			Cause: fmt.Errorf("%w: %s", ErrBlocked, reason)}
	}

	finalURL := page.FinalURL
	if finalURL == "" {
		finalURL = req.URL()
	}
	return &models.ResponseEnvelope{
		Status:   page.Status,
		FinalURL: finalURL,
		Body:     body,
		Meta:     meta,
	}, nil
}
