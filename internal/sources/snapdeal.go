package sources

import (
	"regexp"

	"github.com/maltedev/search-spider/internal/parser"
)

const snapdealPageSize = 20

// Snapdeal renders its listing client-side, so requests always go through
// the headless browser.
func newSnapdeal(cfg Config) (Source, error) {
	s := &site{
		name:      "snapdeal",
		searchURL: "https://www.snapdeal.com/search",
		params: func(keyword string, page int) map[string]string {
			return map[string]string{"keyword": keyword, "sort": "rlvncy", "page": pageParam(page)}
		},
		pageSize:   pageSize(cfg, snapdealPageSize),
		render:     true,
		searchWait: "div.product-tuple-listing",
		detailWait: "h1.pdp-e-i-head",
	}

	search, err := parser.NewSelectorExtractor(parser.SelectorRules{
		Dialect:   parser.XPath,
		Container: `//div[contains(@class, "product-tuple-listing")]`,
		Link:      parser.Field{Selector: `.//a[@class="dp-widget-link"]/@href`},
		Mode:      parser.ModeFollowUps,
		MaxItems:  cfg.MaxItems,
		TotalCount: &parser.Field{
			Selector: `//*[@id="searchMessageContainer"] | //span[contains(@class, "search-result-txt-section")]`,
		},
		TotalPattern: regexp.MustCompile(`([\d,]+)\s+(?:results|items)`),
		PageSize:     s.pageSize,
	}, s.detailRequest)
	if err != nil {
		return nil, err
	}

	detail, err := parser.NewSelectorExtractor(parser.SelectorRules{
		Dialect:   parser.XPath,
		Container: `//body`,
		Fields: map[string]parser.Field{
			parser.FieldName:        {Selector: `.//h1[@class="pdp-e-i-head"]`},
			parser.FieldPrice:       {Selector: `.//span[contains(@class, "payBlkBig")]`},
			parser.FieldImageURL:    {Selector: `.//img[@class="cloudzoom"]/@src`},
			parser.FieldDescription: {Selector: `.//div[@class="spec-section"]`},
		},
		Mode: parser.ModeRecords,
	}, nil)
	if err != nil {
		return nil, err
	}

	s.searchEx = parser.Safe(search)
	s.detailEx = parser.Safe(defaultCurrency{inner: detail, currency: "INR"})
	return s, nil
}
