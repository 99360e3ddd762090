package parser

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/search-spider/internal/models"
)

const amazonSearchHTML = `<html><body>
<div data-component-type="s-result-info-bar"><span>1-2 of over 1,000 results for "laptop"</span></div>
<div data-component-type="s-search-result" data-asin="B0001">
	<h2><a href="/Dell-Inspiron/dp/B0001"><span>Dell Inspiron 15</span></a></h2>
	<span class="a-price"><span class="a-offscreen">$549.99</span></span>
	<span class="a-icon-alt">4.4 out of 5 stars</span>
	<span class="s-underline-text">(2,130)</span>
	<img class="s-image" src="https://m.media-amazon.com/images/I/dell.jpg">
</div>
<div data-component-type="s-search-result" data-asin="B0002">
	<h2><a href="/HP-Pavilion/dp/B0002"><span>HP Pavilion</span></a></h2>
</div>
<div data-component-type="s-search-result" data-asin="">
	<div class="sponsored-banner"></div>
</div>
</body></html>`

func amazonRules() SelectorRules {
	return SelectorRules{
		Dialect:   CSS,
		Container: `[data-component-type="s-search-result"]`,
		Fields: map[string]Field{
			FieldName:        {Selector: "h2 a span, h2 span"},
			FieldPrice:       {Selector: ".a-price .a-offscreen"},
			FieldRating:      {Selector: ".a-icon-alt"},
			FieldReviewCount: {Selector: ".s-underline-text"},
			FieldImageURL:    {Selector: "img.s-image", Attr: "src"},
		},
		Link:         Field{Selector: "h2 a", Attr: "href"},
		Mode:         ModeRecords,
		TotalCount:   &Field{Selector: `[data-component-type="s-result-info-bar"]`},
		TotalPattern: regexp.MustCompile(`of\s+(?:over\s+)?([\d,.]+)\s+results`),
		PageSize:     48,
	}
}

func searchResponse(body, url string) *models.ResponseEnvelope {
	return &models.ResponseEnvelope{
		Status:   200,
		FinalURL: url,
		Body:     []byte(body),
		Meta:     models.Metadata{Kind: models.KindSearch, Source: "amazon", Keyword: "laptop", Page: 1},
	}
}

func TestSelectorExtractor_CSSRecords(t *testing.T) {
	e, err := NewSelectorExtractor(amazonRules(), nil)
	require.NoError(t, err)

	res := e.Extract(searchResponse(amazonSearchHTML, "https://www.amazon.com/s?k=laptop"))

	require.Nil(t, res.Diagnostic)
	require.Len(t, res.Records, 2)
	assert.Empty(t, res.FollowUps)
	assert.Equal(t, 1, res.Skipped)

	first := res.Records[0]
	assert.Equal(t, "Dell Inspiron 15", models.StringValue(first.Name))
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, "laptop", first.Keyword)
	assert.Equal(t, "https://www.amazon.com/Dell-Inspiron/dp/B0001", first.URL)
	require.NotNil(t, first.Price)
	assert.InDelta(t, 549.99, *first.Price, 0.001)
	assert.Equal(t, "USD", models.StringValue(first.Currency))
	require.NotNil(t, first.Rating)
	assert.InDelta(t, 4.4, *first.Rating, 0.001)
	require.NotNil(t, first.ReviewCount)
	assert.Equal(t, 2130, *first.ReviewCount)
	assert.Equal(t, "https://m.media-amazon.com/images/I/dell.jpg", models.StringValue(first.ImageURL))

	second := res.Records[1]
	assert.Equal(t, "HP Pavilion", models.StringValue(second.Name))
	assert.Equal(t, 2, second.Position)
	assert.Nil(t, second.Price, "missing fields stay absent")
	assert.Nil(t, second.Rating)
	assert.Nil(t, second.ImageURL)

	require.NotNil(t, res.Summary)
	assert.Equal(t, 1000, res.Summary.TotalCount)
	assert.Equal(t, 48, res.Summary.PageSize)
}

func TestSelectorExtractor_MaxItems(t *testing.T) {
	rules := amazonRules()
	rules.MaxItems = 1
	e, err := NewSelectorExtractor(rules, nil)
	require.NoError(t, err)

	res := e.Extract(searchResponse(amazonSearchHTML, "https://www.amazon.com/s?k=laptop"))
	assert.Len(t, res.Records, 1)
}

func TestSelectorExtractor_NoMatch(t *testing.T) {
	e, err := NewSelectorExtractor(amazonRules(), nil)
	require.NoError(t, err)

	body := `<html><body><form action="/errors/validateCaptcha"></form></body></html>`
	res := e.Extract(searchResponse(body, "https://www.amazon.com/s?k=laptop"))

	assert.Empty(t, res.Records)
	assert.Empty(t, res.FollowUps)
	require.NotNil(t, res.Diagnostic)
	assert.Equal(t, models.DiagnosticNoMatch, res.Diagnostic.Kind)
	assert.Equal(t, []byte(body), res.Diagnostic.Body)
	assert.Equal(t, 1, res.Diagnostic.Meta.Page)
}

func TestSelectorExtractor_GarbageInput(t *testing.T) {
	e, err := NewSelectorExtractor(amazonRules(), nil)
	require.NoError(t, err)

	for _, body := range []string{"", "\x00\x01\x02", "{not html}", strings.Repeat("<div>", 500)} {
		res := e.Extract(searchResponse(body, "https://www.amazon.com/s"))
		assert.Empty(t, res.Records)
		require.NotNil(t, res.Diagnostic)
	}
}

const snapdealSearchHTML = `<html><body>
<span class="search-result-txt-section">We have 134 results for laptop</span>
<section>
	<div class="product-tuple-listing js-tuple">
		<a class="dp-widget-link" href="/product/lenovo-ideapad/111">Lenovo</a>
	</div>
	<div class="product-tuple-listing js-tuple">
		<a class="dp-widget-link" href="https://www.snapdeal.com/product/asus-vivobook/222">Asus</a>
	</div>
	<div class="product-tuple-listing js-tuple">
		<span>no link here</span>
	</div>
</section>
</body></html>`

func snapdealRules() SelectorRules {
	return SelectorRules{
		Dialect:      XPath,
		Container:    `//div[contains(@class, "product-tuple-listing")]`,
		Link:         Field{Selector: `.//a[@class="dp-widget-link"]/@href`},
		Mode:         ModeFollowUps,
		TotalCount:   &Field{Selector: `//span[contains(@class, "search-result-txt-section")]`},
		TotalPattern: regexp.MustCompile(`([\d,]+)\s+results`),
		PageSize:     20,
	}
}

func detailBuilder(url string, meta models.Metadata) (models.RequestDescriptor, error) {
	return models.NewRequest(url, meta)
}

func TestSelectorExtractor_XPathFollowUps(t *testing.T) {
	e, err := NewSelectorExtractor(snapdealRules(), detailBuilder)
	require.NoError(t, err)

	resp := searchResponse(snapdealSearchHTML, "https://www.snapdeal.com/search?keyword=laptop")
	resp.Meta.Source = "snapdeal"
	resp.Meta.Page = 2
	res := e.Extract(resp)

	require.Nil(t, res.Diagnostic)
	assert.Empty(t, res.Records)
	require.Len(t, res.FollowUps, 2)
	assert.Equal(t, 1, res.Skipped)

	first := res.FollowUps[0]
	assert.Equal(t, "https://www.snapdeal.com/product/lenovo-ideapad/111", first.URL())
	assert.Equal(t, models.KindDetail, first.Meta().Kind)
	assert.Equal(t, 2, first.Meta().Page)
	assert.Equal(t, 1, first.Meta().Position)
	assert.Equal(t, "laptop", first.Meta().Keyword)

	assert.Equal(t, "https://www.snapdeal.com/product/asus-vivobook/222", res.FollowUps[1].URL())
	assert.Equal(t, 2, res.FollowUps[1].Meta().Position)

	require.NotNil(t, res.Summary)
	assert.Equal(t, 134, res.Summary.TotalCount)
}

func TestSelectorExtractor_XPathDetail(t *testing.T) {
	rules := SelectorRules{
		Dialect:   XPath,
		Container: `//body`,
		Fields: map[string]Field{
			FieldName:        {Selector: `.//h1[@class="pdp-e-i-head"]`},
			FieldPrice:       {Selector: `.//span[contains(@class, "payBlkBig")]`},
			FieldImageURL:    {Selector: `.//img[@class="cloudzoom"]/@src`},
			FieldDescription: {Selector: `.//div[@class="spec-section"]`},
		},
	}
	e, err := NewSelectorExtractor(rules, nil)
	require.NoError(t, err)

	body := `<html><body>
		<h1 class="pdp-e-i-head" title="Lenovo IdeaPad">  Lenovo IdeaPad Slim 3 </h1>
		<span class="pdp-final-price"><span class="payBlkBig">32,990</span></span>
		<img class="cloudzoom" src="//n1.sdlcdn.com/imgs/lenovo.jpg">
		<div class="spec-section"><h3>Highlights</h3><ul><li>8 GB RAM</li><li>512 GB SSD</li></ul></div>
	</body></html>`
	resp := &models.ResponseEnvelope{
		Status:   200,
		FinalURL: "https://www.snapdeal.com/product/lenovo-ideapad/111",
		Body:     []byte(body),
		Meta:     models.Metadata{Kind: models.KindDetail, Source: "snapdeal", Keyword: "laptop", Page: 1, Position: 4},
	}
	res := e.Extract(resp)

	require.Nil(t, res.Diagnostic)
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, "Lenovo IdeaPad Slim 3", models.StringValue(rec.Name))
	assert.Equal(t, 4, rec.Position, "detail pages keep the position of their listing")
	require.NotNil(t, rec.Price)
	assert.InDelta(t, 32990, *rec.Price, 0.001)
	assert.Equal(t, "https://n1.sdlcdn.com/imgs/lenovo.jpg", models.StringValue(rec.ImageURL))
	assert.Equal(t, "Highlights 8 GB RAM 512 GB SSD", models.StringValue(rec.Description))
	assert.Equal(t, "https://www.snapdeal.com/product/lenovo-ideapad/111", rec.URL)
}

func TestSelectorExtractor_DetailWithoutFields(t *testing.T) {
	rules := SelectorRules{
		Dialect:   XPath,
		Container: `//body`,
		Fields:    map[string]Field{FieldName: {Selector: `.//h1[@class="pdp-e-i-head"]`}},
	}
	e, err := NewSelectorExtractor(rules, nil)
	require.NoError(t, err)

	resp := &models.ResponseEnvelope{
		FinalURL: "https://www.snapdeal.com/product/x/1",
		Body:     []byte(`<html><body><p>Access denied</p></body></html>`),
		Meta:     models.Metadata{Kind: models.KindDetail},
	}
	res := e.Extract(resp)

	assert.Empty(t, res.Records)
	require.NotNil(t, res.Diagnostic)
	assert.Equal(t, models.DiagnosticNoMatch, res.Diagnostic.Kind)
}

func TestNewSelectorExtractor_InvalidRules(t *testing.T) {
	tests := []struct {
		name  string
		rules SelectorRules
	}{
		{"no container", SelectorRules{Dialect: CSS}},
		{"bad css", SelectorRules{Dialect: CSS, Container: "div[["}},
		{"bad xpath", SelectorRules{Dialect: XPath, Container: "//div[@class="}},
		{"bad field", SelectorRules{Dialect: CSS, Container: "div", Fields: map[string]Field{FieldName: {Selector: "a[href"}}}},
		{"follow-ups without link", SelectorRules{Dialect: CSS, Container: "div", Mode: ModeFollowUps}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSelectorExtractor(tt.rules, nil)
			assert.Error(t, err)
		})
	}
}
