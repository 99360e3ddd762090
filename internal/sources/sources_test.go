package sources

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/search-spider/internal/models"
)

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			src, err := Lookup(name, Config{})
			require.NoError(t, err)
			assert.Equal(t, name, src.Name())
			assert.NotNil(t, src.SearchExtractor())
			assert.Positive(t, src.PageSize())
		})
	}

	_, err := Lookup("ebay", Config{})
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"amazon", "snapdeal", "walmart"}, Names())
}

func TestSearchRequest(t *testing.T) {
	tests := []struct {
		source    string
		page      int
		url       string
		rendering bool
	}{
		{"amazon", 1, "https://www.amazon.com/s?k=gaming+laptop&page=1", false},
		{"walmart", 3, "https://www.walmart.com/search?affinityOverride=default&page=3&q=gaming+laptop&sort=best_seller", false},
		{"snapdeal", 2, "https://www.snapdeal.com/search?keyword=gaming+laptop&page=2&sort=rlvncy", true},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			src, err := Lookup(tt.source, Config{})
			require.NoError(t, err)

			req, err := src.SearchRequest("gaming laptop", tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.url, req.URL())

			meta := req.Meta()
			assert.Equal(t, models.KindSearch, meta.Kind)
			assert.Equal(t, tt.source, meta.Source)
			assert.Equal(t, "gaming laptop", meta.Keyword)
			assert.Equal(t, tt.page, meta.Page)
			assert.Equal(t, tt.rendering, meta.RequiresRendering)
		})
	}
}

func TestSearchRequest_Invalid(t *testing.T) {
	src, err := Lookup("amazon", Config{})
	require.NoError(t, err)

	_, err = src.SearchRequest("", 1)
	assert.Error(t, err)
	_, err = src.SearchRequest("laptop", 0)
	assert.Error(t, err)
}

func TestConfigOverrides(t *testing.T) {
	src, err := Lookup("walmart", Config{PageSize: 25, Render: true})
	require.NoError(t, err)
	assert.Equal(t, 25, src.PageSize())

	req, err := src.SearchRequest("tv", 1)
	require.NoError(t, err)
	assert.True(t, req.Meta().RequiresRendering)

	amazon, err := Lookup("amazon", Config{})
	require.NoError(t, err)
	assert.Equal(t, amazonPageSize, amazon.PageSize())
	assert.Nil(t, amazon.DetailExtractor())

	req, err = amazon.SearchRequest("tv", 1)
	require.NoError(t, err)
	assert.Equal(t, "https://www.amazon.com/", req.Headers()["Referer"])
}

const walmartSearchPage = `<html><head><script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"initialData":{"searchResult":{"aggregatedCount":95,"itemStacks":[{"items":[
	{"name":"onn. 32in TV","canonicalUrl":"/ip/onn-32-TV/100?athbdg=L1600"},
	{"name":"TCL 55in","canonicalUrl":"/ip/TCL-55/200"}
]}]}}}}}
</script></head></html>`

func TestWalmartSearchBuildsDetailFollowUps(t *testing.T) {
	src, err := Lookup("walmart", Config{})
	require.NoError(t, err)

	req, err := src.SearchRequest("tv", 1)
	require.NoError(t, err)
	res := src.SearchExtractor().Extract(&models.ResponseEnvelope{
		Status:   200,
		FinalURL: req.URL(),
		Body:     []byte(walmartSearchPage),
		Meta:     req.Meta(),
	})

	require.Nil(t, res.Diagnostic)
	require.Len(t, res.FollowUps, 2)
	assert.Equal(t, "https://www.walmart.com/ip/onn-32-TV/100", res.FollowUps[0].URL())
	assert.Equal(t, models.KindDetail, res.FollowUps[0].Meta().Kind)
	assert.Equal(t, "walmart", res.FollowUps[0].Meta().Source)
	require.NotNil(t, res.Summary)
	assert.Equal(t, models.PageSummary{TotalCount: 95, PageSize: 40}, *res.Summary)
}

func TestSnapdealDetailDefaultsCurrency(t *testing.T) {
	src, err := Lookup("snapdeal", Config{})
	require.NoError(t, err)
	require.NotNil(t, src.DetailExtractor())

	res := src.DetailExtractor().Extract(&models.ResponseEnvelope{
		Status:   200,
		FinalURL: "https://www.snapdeal.com/product/acer/1",
		Body:     []byte(`<html><body><h1 class="pdp-e-i-head">Acer Aspire 7</h1><span class="payBlkBig">49,990</span></body></html>`),
		Meta:     models.Metadata{Kind: models.KindDetail, Source: "snapdeal", Keyword: "laptop", Page: 1, Position: 2},
	})

	require.Len(t, res.Records, 1)
	assert.Equal(t, "Acer Aspire 7", models.StringValue(res.Records[0].Name))
	assert.Equal(t, "INR", models.StringValue(res.Records[0].Currency))
	require.NotNil(t, res.Records[0].Price)
	assert.InDelta(t, 49990, *res.Records[0].Price, 0.001)
}

func TestAmazonSearchNoMatch(t *testing.T) {
	src, err := Lookup("amazon", Config{})
	require.NoError(t, err)

	res := src.SearchExtractor().Extract(&models.ResponseEnvelope{
		Status:   200,
		FinalURL: "https://www.amazon.com/s?k=tv",
		Body:     []byte(`<html><body>Enter the characters you see below</body></html>`),
		Meta:     models.Metadata{Kind: models.KindSearch, Source: "amazon", Keyword: "tv", Page: 1},
	})
	assert.Empty(t, res.Records)
	require.NotNil(t, res.Diagnostic)
	assert.Equal(t, models.DiagnosticNoMatch, res.Diagnostic.Kind)
}
