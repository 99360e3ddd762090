package spider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/search-spider/internal/collector"
	"github.com/maltedev/search-spider/internal/diagnostics"
	"github.com/maltedev/search-spider/internal/models"
	"github.com/maltedev/search-spider/internal/parser"
	"github.com/maltedev/search-spider/internal/sources"
)

type fixture struct {
	body  string
	err   error
	block bool
}

// fakeFetcher serves fixtures keyed by full request URL.
type fakeFetcher struct {
	mu       sync.Mutex
	fixtures map[string]fixture
	calls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{fixtures: make(map[string]fixture), calls: make(map[string]int)}
}

func (f *fakeFetcher) set(url string, fx fixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixtures[url] = fx
}

func (f *fakeFetcher) Fetch(ctx context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, error) {
	f.mu.Lock()
	f.calls[req.URL()]++
	fx, ok := f.fixtures[req.URL()]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no fixture for %s", req.URL())
	}
	if fx.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fx.err != nil {
		return nil, fx.err
	}
	return &models.ResponseEnvelope{Status: 200, FinalURL: req.URL(), Body: []byte(fx.body), Meta: req.Meta()}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type extractorFunc func(resp *models.ResponseEnvelope) parser.Result

func (f extractorFunc) Extract(resp *models.ResponseEnvelope) parser.Result { return f(resp) }

// stubSource lists "items" separated by commas in the page body. Search
// pages emit a detail follow-up per item, detail pages a record named
// after the body.
type stubSource struct {
	total int
}

func (s stubSource) Name() string  { return "stub" }
func (s stubSource) PageSize() int { return 3 }

func (s stubSource) SearchRequest(keyword string, page int) (models.RequestDescriptor, error) {
	return models.NewRequest(fmt.Sprintf("https://stub.example/search?q=%s&page=%d", keyword, page),
		models.Metadata{Kind: models.KindSearch, Source: "stub", Keyword: keyword, Page: page})
}

func (s stubSource) SearchExtractor() parser.Extractor {
	return extractorFunc(func(resp *models.ResponseEnvelope) parser.Result {
		var res parser.Result
		if s.total > 0 {
			res.Summary = &models.PageSummary{TotalCount: s.total}
		}
		for i, item := range strings.Split(resp.Text(), ",") {
			if item == "" {
				continue
			}
			meta := resp.Meta
			meta.Kind = models.KindDetail
			meta.Position = i + 1
			req, err := models.NewRequest("https://stub.example/item/"+item, meta)
			if err == nil {
				res.FollowUps = append(res.FollowUps, req)
			}
		}
		if len(res.FollowUps) == 0 {
			res.Diagnostic = models.NewDiagnostic(models.DiagnosticNoMatch, "empty listing", resp)
		}
		return res
	})
}

func (s stubSource) DetailExtractor() parser.Extractor {
	return extractorFunc(func(resp *models.ResponseEnvelope) parser.Result {
		rec := models.NewRecord(resp.Meta, resp.FinalURL)
		name := resp.Text()
		rec.Name = &name
		return parser.Result{Records: []models.Record{rec}}
	})
}

func searchURL(page int) string {
	return fmt.Sprintf("https://stub.example/search?page=%d&q=laptop", page)
}

func names(recs []models.Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, models.StringValue(r.Name))
	}
	return out
}

func amazonPage(n, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><div data-component-type="s-result-info-bar">1-%d of %d results</div>`, n, total)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<div data-component-type="s-search-result"><h2><a href="/dp/B%03d"><span>Laptop %d</span></a></h2>
			<span class="a-price"><span class="a-offscreen">$%d.99</span></span></div>`, i, i, 300+i)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func TestRun_LimitReachedOnFirstPage(t *testing.T) {
	src, err := sources.Lookup("amazon", sources.Config{PageSize: 5})
	require.NoError(t, err)

	fetcher := newFakeFetcher()
	page := func(n int) string { return fmt.Sprintf("https://www.amazon.com/s?k=laptop&page=%d", n) }
	fetcher.set(page(1), fixture{body: amazonPage(5, 15)})
	fetcher.set(page(2), fixture{body: amazonPage(5, 15)})
	fetcher.set(page(3), fixture{body: amazonPage(5, 15)})

	s := New(src, fetcher, collector.New(3))
	res, err := s.Run(context.Background(), "laptop")
	require.NoError(t, err)

	assert.Equal(t, StateDone, s.State())
	require.Len(t, res.Records, 3)
	assert.Equal(t, []string{"Laptop 1", "Laptop 2", "Laptop 3"}, names(res.Records))
	assert.True(t, res.StoppedEarly)
	assert.Equal(t, 2, res.Stats.PagesPlanned)
	assert.Equal(t, 2, res.Stats.Suppressed)
	assert.Equal(t, 2, res.Stats.Dropped)
	assert.Equal(t, 1, res.Stats.Dispatched)
	assert.Zero(t, fetcher.callCount(page(2)), "page 2 is never dispatched once the limit is hit")
	assert.Zero(t, fetcher.callCount(page(3)))
}

func TestRun_CollectsAcrossPages(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(searchURL(1), fixture{body: "a,b,c"})
	fetcher.set(searchURL(2), fixture{body: "d,e"})
	for _, item := range []string{"a", "b", "c", "d", "e"} {
		fetcher.set("https://stub.example/item/"+item, fixture{body: item})
	}

	s := New(stubSource{total: 5}, fetcher, collector.New(100))
	res, err := s.Run(context.Background(), "laptop")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, names(res.Records))
	assert.False(t, res.StoppedEarly)
	assert.Equal(t, 1, res.Stats.PagesPlanned)
	assert.Equal(t, 7, res.Stats.Dispatched)
	assert.Equal(t, 7, res.Stats.Succeeded)
	assert.Empty(t, res.Diagnostics)

	for _, r := range res.Records {
		if models.StringValue(r.Name) == "e" {
			assert.Equal(t, 2, r.Page)
			assert.Equal(t, 2, r.Position)
		}
	}
}

func TestRun_FetchFailureDoesNotBlockSiblings(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(searchURL(1), fixture{body: "a,b,c"})
	fetcher.set("https://stub.example/item/a", fixture{body: "a"})
	fetcher.set("https://stub.example/item/b", fixture{err: errors.New("connection reset")})
	fetcher.set("https://stub.example/item/c", fixture{body: "c"})

	s := New(stubSource{}, fetcher, collector.New(10))
	res, err := s.Run(context.Background(), "laptop")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "c"}, names(res.Records))
	assert.Equal(t, 1, res.Stats.Failed)
	require.Len(t, res.Diagnostics, 1)
	d := res.Diagnostics[0]
	assert.Equal(t, models.DiagnosticFetchFailure, d.Kind)
	assert.Equal(t, "https://stub.example/item/b", d.URL)
	assert.Equal(t, 2, d.Meta.Position)
	assert.EqualError(t, d.Cause, "connection reset")
}

func TestRun_PlansOnlyOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	for page := 1; page <= 5; page++ {
		fetcher.set(searchURL(page), fixture{body: ""})
	}

	// Every page reports a huge total; only the first may plan.
	s := New(stubSource{total: 1000}, fetcher, collector.New(10), WithHardCap(4))
	res, err := s.Run(context.Background(), "laptop")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Stats.PagesPlanned)
	for page := 1; page <= 4; page++ {
		assert.Equal(t, 1, fetcher.callCount(searchURL(page)), "page %d", page)
	}
	assert.Zero(t, fetcher.callCount(searchURL(5)))
	assert.Len(t, res.Diagnostics, 4, "every empty listing reports no_match")
}

func TestRun_FailedFirstPage(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(searchURL(1), fixture{err: errors.New("503")})

	sink := diagnostics.NewCollecting()
	s := New(stubSource{total: 30}, fetcher, collector.New(5), WithSink(sink))
	res, err := s.Run(context.Background(), "laptop")
	require.NoError(t, err)

	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Stats.Failed)
	assert.Zero(t, res.Stats.PagesPlanned)
	assert.Len(t, sink.Diagnostics(), 1)
	assert.Equal(t, StateDone, s.State())
}

func TestRun_DrainsInFlightOnLimit(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(searchURL(1), fixture{body: "a,b,c"})
	fetcher.set("https://stub.example/item/a", fixture{body: "a"})
	fetcher.set("https://stub.example/item/b", fixture{block: true})
	fetcher.set("https://stub.example/item/c", fixture{block: true})

	s := New(stubSource{}, fetcher, collector.New(1))

	done := make(chan struct{})
	var res *Result
	var err error
	go func() {
		res, err = s.Run(context.Background(), "laptop")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not drain blocked requests")
	}
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(res.Records))
	assert.Equal(t, 2, res.Stats.Abandoned)
	assert.Zero(t, res.Stats.Failed)
	assert.Empty(t, res.Diagnostics, "abandoned requests are not failures")
}

func TestRun_ContextCancelled(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(searchURL(1), fixture{body: "a,b"})
	fetcher.set("https://stub.example/item/a", fixture{body: "a"})
	fetcher.set("https://stub.example/item/b", fixture{block: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(stubSource{}, fetcher, collector.New(10))
	go func() {
		for s.Collector().Len() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res, err := s.Run(ctx, "laptop")
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, []string{"a"}, names(res.Records))
	assert.False(t, res.StoppedEarly)
}

func TestRun_ZeroLimit(t *testing.T) {
	fetcher := newFakeFetcher()
	s := New(stubSource{}, fetcher, collector.New(0))

	res, err := s.Run(context.Background(), "laptop")
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Zero(t, fetcher.totalCalls())
	assert.Equal(t, 1, res.Stats.Suppressed)
}

func TestRun_MaxRequests(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(searchURL(1), fixture{body: "a,b,c"})
	for _, item := range []string{"a", "b", "c"} {
		fetcher.set("https://stub.example/item/"+item, fixture{body: item})
	}

	s := New(stubSource{}, fetcher, collector.New(10), WithMaxRequests(3))
	res, err := s.Run(context.Background(), "laptop")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Stats.Dispatched)
	assert.Equal(t, 1, res.Stats.Suppressed)
	assert.Len(t, res.Records, 2)
}

func TestRun_OnlyOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	s := New(stubSource{}, fetcher, collector.New(0))

	_, err := s.Run(context.Background(), "laptop")
	require.NoError(t, err)
	_, err = s.Run(context.Background(), "laptop")
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestRun_SeedError(t *testing.T) {
	s := New(stubSource{}, newFakeFetcher(), collector.New(1))
	_, err := s.Run(context.Background(), "bad key\x7f")
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_first_page", StateAwaitingFirstPage.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "state(42)", State(42).String())
}
