// Package spider runs one keyword search against one source: it seeds the
// first search page, fans out to the planned pages and detail pages, and
// stops dispatching once the collector reaches its limit.
package spider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/search-spider/internal/collector"
	"github.com/maltedev/search-spider/internal/diagnostics"
	"github.com/maltedev/search-spider/internal/models"
	"github.com/maltedev/search-spider/internal/pagination"
	"github.com/maltedev/search-spider/internal/parser"
	"github.com/maltedev/search-spider/internal/sources"
)

// Fetcher performs one request. It owns timeouts, retries and politeness;
// it must return promptly once ctx is cancelled.
type Fetcher interface {
	Fetch(ctx context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, error)
}

// State is the lifecycle phase of a run.
type State int

const (
	StateSeeding State = iota
	StateAwaitingFirstPage
	StateFannedOut
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSeeding:
		return "seeding"
	case StateAwaitingFirstPage:
		return "awaiting_first_page"
	case StateFannedOut:
		return "fanned_out"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrAlreadyRun = errors.New("spider has already been run")

// Stats counts what happened to the requests of a run.
type Stats struct {
	Dispatched   int `json:"dispatched"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	Abandoned    int `json:"abandoned"`
	Suppressed   int `json:"suppressed"`
	PagesPlanned int `json:"pages_planned"`
	Dropped      int `json:"dropped"`
}

// Result is the outcome of a run. It is returned even when the run was
// cut short by the caller's context.
type Result struct {
	Source       string               `json:"source"`
	Keyword      string               `json:"keyword"`
	Records      []models.Record      `json:"records"`
	Diagnostics  []*models.Diagnostic `json:"diagnostics"`
	Stats        Stats                `json:"stats"`
	StoppedEarly bool                 `json:"stopped_early"`
	Duration     time.Duration        `json:"duration"`
}

type Option func(*Spider)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Spider) {
		s.logger = logger
	}
}

// WithSink adds a diagnostics sink next to the in-memory one that feeds
// Result.Diagnostics.
func WithSink(sink diagnostics.Sink) Option {
	return func(s *Spider) {
		s.sink = sink
	}
}

// WithHardCap bounds the number of search pages, the first one included.
func WithHardCap(pages int) Option {
	return func(s *Spider) {
		s.planner.HardCap = pages
	}
}

// WithPageSize overrides the page size the source reports.
func WithPageSize(size int) Option {
	return func(s *Spider) {
		s.planner.PageSize = size
	}
}

// WithMaxRequests caps the total number of dispatched requests.
func WithMaxRequests(n int) Option {
	return func(s *Spider) {
		s.maxRequests = n
	}
}

type Spider struct {
	source      sources.Source
	fetcher     Fetcher
	collector   *collector.Collector
	planner     pagination.Planner
	sink        diagnostics.Sink
	logger      *slog.Logger
	maxRequests int

	mu    sync.Mutex
	state State
	ran   bool
}

// New wires a spider. The collector belongs to this spider's single run.
func New(src sources.Source, fetcher Fetcher, c *collector.Collector, opts ...Option) *Spider {
	s := &Spider{
		source:    src,
		fetcher:   fetcher,
		collector: c,
		planner: pagination.Planner{
			PageSize: src.PageSize(),
			HardCap:  pagination.DefaultHardCap,
			Build:    src.SearchRequest,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "spider", "source", src.Name())
	s.planner.Logger = s.logger
	return s
}

func (s *Spider) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Spider) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.logger.Debug("state transition", "from", prev.String(), "to", st.String())
	}
}

// Collector exposes the run's collector, e.g. for progress reporting.
func (s *Spider) Collector() *collector.Collector {
	return s.collector
}

type completion struct {
	req  models.RequestDescriptor
	resp *models.ResponseEnvelope
	err  error
}

// run holds the state owned by the Run loop goroutine.
type run struct {
	*Spider
	keyword     string
	ctx         context.Context
	completions chan completion
	sink        diagnostics.Sink
	inFlight    int
	draining    bool
	planned     bool
	stats       Stats
}

// Run executes the search. Per-request problems never fail the run; they
// are reported as diagnostics. If ctx is cancelled, Run drains in-flight
// requests and returns the partial result together with ctx.Err().
func (s *Spider) Run(ctx context.Context, keyword string) (*Result, error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	s.ran = true
	s.mu.Unlock()

	start := time.Now()
	s.setState(StateSeeding)

	seed, err := s.source.SearchRequest(keyword, 1)
	if err != nil {
		s.setState(StateDone)
		return nil, fmt.Errorf("failed to build seed request: %w", err)
	}

	collecting := diagnostics.NewCollecting()
	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		Spider:      s,
		keyword:     keyword,
		ctx:         dispatchCtx,
		completions: make(chan completion),
		sink:        diagnostics.Multi{collecting, s.sink},
	}

	s.logger.Info("starting search", "keyword", keyword, "limit", s.collector.Limit())
	r.dispatch(seed)
	if r.inFlight > 0 {
		s.setState(StateAwaitingFirstPage)
	}

	var ctxErr error
	stop := s.collector.Stop()
	done := ctx.Done()
	for r.inFlight > 0 {
		select {
		case c := <-r.completions:
			r.inFlight--
			r.handle(c)
		case <-stop:
			stop = nil
			r.drain(cancel, "limit reached")
		case <-done:
			done = nil
			ctxErr = ctx.Err()
			r.drain(cancel, "context cancelled")
		}
	}
	s.setState(StateDone)
	if ctxErr == nil {
		ctxErr = ctx.Err()
	}

	r.stats.Dropped = s.collector.Dropped()
	res := &Result{
		Source:       s.source.Name(),
		Keyword:      keyword,
		Records:      s.collector.Records(),
		Diagnostics:  collecting.Diagnostics(),
		Stats:        r.stats,
		StoppedEarly: s.collector.Done(),
		Duration:     time.Since(start),
	}

	s.logger.Info("search finished",
		"keyword", keyword,
		"records", len(res.Records),
		"dispatched", res.Stats.Dispatched,
		"failed", res.Stats.Failed,
		"suppressed", res.Stats.Suppressed,
		"dropped", res.Stats.Dropped,
		"stopped_early", res.StoppedEarly,
		"duration", res.Duration)

	return res, ctxErr
}

func (r *run) drain(cancel context.CancelFunc, reason string) {
	if r.draining {
		return
	}
	r.draining = true
	cancel()
	r.logger.Info("draining in-flight requests", "reason", reason, "in_flight", r.inFlight)
	r.setState(StateDraining)
}

func (r *run) dispatch(req models.RequestDescriptor) {
	if r.draining || r.collector.Done() || r.ctx.Err() != nil {
		r.stats.Suppressed++
		return
	}
	if r.maxRequests > 0 && r.stats.Dispatched >= r.maxRequests {
		r.stats.Suppressed++
		r.logger.Warn("request cap reached, not dispatching", "url", req.URL(), "max_requests", r.maxRequests)
		return
	}

	r.stats.Dispatched++
	r.inFlight++
	go func(ctx context.Context) {
		resp, err := r.fetcher.Fetch(ctx, req)
		r.completions <- completion{req: req, resp: resp, err: err}
	}(r.ctx)
}

func (r *run) handle(c completion) {
	meta := c.req.Meta()

	if c.err != nil || c.resp == nil {
		err := c.err
		if err == nil {
			err = errors.New("fetcher returned no response")
		}
		if (r.draining || r.ctx.Err() != nil) && errors.Is(err, context.Canceled) {
			r.stats.Abandoned++
			return
		}
		r.stats.Failed++
		d := models.NewDiagnostic(models.DiagnosticFetchFailure, fmt.Sprintf("%s %s", c.req.Method(), c.req.URL()), nil)
		d.URL = c.req.URL()
		d.Meta = meta
		d.Cause = err
		r.sink.Report(d)
		r.advance(meta)
		return
	}

	r.stats.Succeeded++
	resp := *c.resp
	resp.Meta = meta
	if resp.FinalURL == "" {
		resp.FinalURL = c.req.URL()
	}

	var ex parser.Extractor
	switch meta.Kind {
	case models.KindSearch:
		ex = r.source.SearchExtractor()
	case models.KindDetail:
		ex = r.source.DetailExtractor()
	}
	if ex == nil {
		r.sink.Report(models.NewDiagnostic(models.DiagnosticMalformedPayload,
			fmt.Sprintf("no extractor for %s pages", meta.Kind), &resp))
		r.advance(meta)
		return
	}

	res := ex.Extract(&resp)
	if res.Diagnostic != nil {
		r.sink.Report(res.Diagnostic)
	}

	for _, rec := range res.Records {
		r.collector.Offer(rec)
	}

	for _, f := range res.FollowUps {
		r.dispatch(f)
	}

	if meta.IsFirstSearchPage() && !r.planned {
		r.planned = true
		if res.Summary != nil {
			plan := r.planner.Plan(*res.Summary, r.keyword)
			r.stats.PagesPlanned = len(plan)
			r.logger.Info("planned search pages",
				"total_count", res.Summary.TotalCount,
				"page_size", res.Summary.PageSize,
				"pages", len(plan))
			for _, p := range plan {
				r.dispatch(p)
			}
		} else {
			r.logger.Debug("first page reported no total count, not paginating")
		}
	}

	r.logger.Debug("handled response",
		"kind", meta.Kind,
		"page", meta.Page,
		"position", meta.Position,
		"records", len(res.Records),
		"follow_ups", len(res.FollowUps),
		"skipped", res.Skipped)

	r.advance(meta)
}

// advance moves past AwaitingFirstPage once the first search page settled,
// successfully or not.
func (r *run) advance(meta models.Metadata) {
	if r.draining || !meta.IsFirstSearchPage() {
		return
	}
	if r.State() == StateAwaitingFirstPage {
		r.setState(StateFannedOut)
	}
}
