package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/search-spider/internal/config"
	"github.com/maltedev/search-spider/internal/diagnostics"
	"github.com/maltedev/search-spider/internal/models"
	"github.com/maltedev/search-spider/internal/sources"
)

const usbHubPage = `<html><body>
<div data-component-type="s-result-info-bar"><span>1-3 of 3 results for "usb hub"</span></div>
<div data-component-type="s-search-result" data-asin="A1">
	<h2><a href="/anker-hub/dp/A1"><span>Anker 7-in-1 USB-C Hub</span></a></h2>
	<span class="a-price"><span class="a-offscreen">$35.99</span></span>
</div>
<div data-component-type="s-search-result" data-asin="A2">
	<h2><a href="/ugreen-hub/dp/A2"><span>UGREEN USB 3.0 Hub</span></a></h2>
</div>
<div data-component-type="s-search-result" data-asin="A3">
	<h2><a href="/sabrent-hub/dp/A3"><span>Sabrent 4-Port Hub</span></a></h2>
</div>
</body></html>`

type fetcherFunc func(ctx context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, error)

func (f fetcherFunc) Fetch(ctx context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, error) {
	return f(ctx, req)
}

type recordingFetcher struct {
	mu   sync.Mutex
	urls []string
	body string
}

func (f *recordingFetcher) Fetch(_ context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, error) {
	f.mu.Lock()
	f.urls = append(f.urls, req.URL())
	f.mu.Unlock()
	return &models.ResponseEnvelope{
		Status:   200,
		FinalURL: req.URL(),
		Body:     []byte(f.body),
		Meta:     req.Meta(),
	}, nil
}

func testConfig() config.SpiderConfig {
	return config.SpiderConfig{
		DefaultSource: "amazon",
		DefaultLimit:  2,
		HardCap:       5,
		PageSizes:     map[string]int{},
	}
}

func TestService_Normalize(t *testing.T) {
	svc := NewService(&recordingFetcher{}, nil, testConfig(), slog.Default())

	tests := []struct {
		name    string
		in      Request
		want    Request
		wantErr bool
	}{
		{"defaults", Request{Keyword: " usb hub "}, Request{Source: "amazon", Keyword: "usb hub", Limit: 2}, false},
		{"explicit", Request{Source: "Walmart", Keyword: "tv", Limit: 9}, Request{Source: "walmart", Keyword: "tv", Limit: 9}, false},
		{"empty keyword", Request{Source: "amazon", Keyword: "  "}, Request{}, true},
		{"negative limit", Request{Keyword: "tv", Limit: -1}, Request{}, true},
		{"unknown source", Request{Source: "ebay", Keyword: "tv"}, Request{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Normalize(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := svc.Normalize(Request{Source: "ebay", Keyword: "tv"})
	assert.ErrorIs(t, err, sources.ErrUnknownSource)
}

func TestService_Run(t *testing.T) {
	fetcher := &recordingFetcher{body: usbHubPage}
	sink := diagnostics.NewCollecting()
	svc := NewService(fetcher, sink, testConfig(), slog.Default())

	res, err := svc.Run(context.Background(), Request{Keyword: "usb hub"})
	require.NoError(t, err)

	assert.Equal(t, "amazon", res.Source)
	require.Len(t, res.Records, 2, "default limit applies")
	assert.Equal(t, "Anker 7-in-1 USB-C Hub", models.StringValue(res.Records[0].Name))
	assert.True(t, res.StoppedEarly)
	assert.Equal(t, []string{"https://www.amazon.com/s?k=usb+hub&page=1"}, fetcher.urls)
	assert.Empty(t, sink.Diagnostics())
}

func TestService_RunReportsDiagnostics(t *testing.T) {
	fetcher := fetcherFunc(func(_ context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, error) {
		return nil, errors.New("connection reset by peer")
	})
	sink := diagnostics.NewCollecting()
	svc := NewService(fetcher, sink, testConfig(), slog.Default())

	res, err := svc.Run(context.Background(), Request{Source: "amazon", Keyword: "usb hub", Limit: 5})
	require.NoError(t, err, "fetch failures are diagnostics, not errors")
	assert.Empty(t, res.Records)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, models.DiagnosticFetchFailure, res.Diagnostics[0].Kind)
	assert.Len(t, sink.Diagnostics(), 1, "the configured sink sees the same diagnostics")
}

func TestService_RunInvalid(t *testing.T) {
	svc := NewService(&recordingFetcher{}, nil, testConfig(), slog.Default())

	_, err := svc.Run(context.Background(), Request{Source: "amazon"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_RunCancelled(t *testing.T) {
	fetcher := fetcherFunc(func(ctx context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc := NewService(fetcher, nil, testConfig(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.Run(ctx, Request{Keyword: "usb hub"})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res, "partial results come back with the error")
	assert.Empty(t, res.Records)
}

func TestService_Sources(t *testing.T) {
	svc := NewService(&recordingFetcher{}, nil, testConfig(), slog.Default())
	assert.Equal(t, "amazon,snapdeal,walmart", strings.Join(svc.Sources(), ","))
}
