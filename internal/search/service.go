// Package search runs one spider per request with the configured source
// settings. The CLI, the API and the job workers all go through it.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maltedev/search-spider/internal/collector"
	"github.com/maltedev/search-spider/internal/config"
	"github.com/maltedev/search-spider/internal/diagnostics"
	"github.com/maltedev/search-spider/internal/sources"
	"github.com/maltedev/search-spider/internal/spider"
)

var ErrInvalidRequest = errors.New("invalid search request")

type Request struct {
	Source  string `json:"source"`
	Keyword string `json:"keyword"`
	// Limit of zero falls back to the configured default.
	Limit int `json:"limit"`
}

type Service struct {
	fetcher spider.Fetcher
	sink    diagnostics.Sink
	cfg     config.SpiderConfig
	logger  *slog.Logger
}

// NewService builds a search service. sink receives every diagnostic of
// every run and may be nil.
func NewService(fetcher spider.Fetcher, sink diagnostics.Sink, cfg config.SpiderConfig, logger *slog.Logger) *Service {
	if sink == nil {
		sink = diagnostics.Discard{}
	}
	return &Service{
		fetcher: fetcher,
		sink:    sink,
		cfg:     cfg,
		logger:  logger.With("component", "search"),
	}
}

// Normalize fills defaults and validates req.
func (s *Service) Normalize(req Request) (Request, error) {
	req.Keyword = strings.TrimSpace(req.Keyword)
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))
	if req.Source == "" {
		req.Source = s.cfg.DefaultSource
	}

	if req.Keyword == "" {
		return req, fmt.Errorf("%w: keyword is required", ErrInvalidRequest)
	}
	if req.Limit < 0 {
		return req, fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest)
	}
	if req.Limit == 0 {
		req.Limit = s.cfg.DefaultLimit
	}
	if !s.known(req.Source) {
		return req, fmt.Errorf("%w: %w: %q", ErrInvalidRequest, sources.ErrUnknownSource, req.Source)
	}
	return req, nil
}

func (s *Service) known(name string) bool {
	for _, n := range sources.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Sources lists the names Run accepts.
func (s *Service) Sources() []string {
	return sources.Names()
}

// Run executes one search. Extraction and fetch problems come back as
// diagnostics on the result, not as errors.
func (s *Service) Run(ctx context.Context, req Request) (*spider.Result, error) {
	req, err := s.Normalize(req)
	if err != nil {
		return nil, err
	}

	src, err := sources.Lookup(req.Source, sources.Config{
		PageSize: s.cfg.PageSizes[req.Source],
		MaxItems: s.cfg.MaxItems,
	})
	if err != nil {
		return nil, err
	}

	opts := []spider.Option{
		spider.WithLogger(s.logger),
		spider.WithSink(s.sink),
		spider.WithHardCap(s.cfg.HardCap),
	}
	if s.cfg.MaxRequests > 0 {
		opts = append(opts, spider.WithMaxRequests(s.cfg.MaxRequests))
	}

	sp := spider.New(src, s.fetcher, collector.New(req.Limit), opts...)

	s.logger.Info("running search", "source", req.Source, "keyword", req.Keyword, "limit", req.Limit)
	res, err := sp.Run(ctx, req.Keyword)
	if err != nil && res == nil {
		return nil, fmt.Errorf("failed to run search: %w", err)
	}
	return res, err
}
