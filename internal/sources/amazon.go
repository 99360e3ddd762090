package sources

import (
	"regexp"

	"github.com/maltedev/search-spider/internal/parser"
)

const amazonPageSize = 48

func newAmazon(cfg Config) (Source, error) {
	s := &site{
		name:      "amazon",
		searchURL: "https://www.amazon.com/s",
		params: func(keyword string, page int) map[string]string {
			return map[string]string{"k": keyword, "page": pageParam(page)}
		},
		headers:    map[string]string{"Referer": "https://www.amazon.com/"},
		pageSize:   pageSize(cfg, amazonPageSize),
		render:     cfg.Render,
		searchWait: `[data-component-type="s-search-result"]`,
	}

	ex, err := parser.NewSelectorExtractor(parser.SelectorRules{
		Dialect:   parser.CSS,
		Container: `[data-component-type="s-search-result"]`,
		Fields: map[string]parser.Field{
			parser.FieldName:        {Selector: "h2 a span, h2 span"},
			parser.FieldPrice:       {Selector: ".a-price .a-offscreen, .a-price-whole"},
			parser.FieldRating:      {Selector: ".a-icon-alt"},
			parser.FieldReviewCount: {Selector: `[aria-label$="ratings"], .s-underline-text`},
			parser.FieldImageURL:    {Selector: "img.s-image", Attr: "src"},
		},
		Link:         parser.Field{Selector: "h2 a, a.a-link-normal.s-no-outline", Attr: "href"},
		Mode:         parser.ModeRecords,
		MaxItems:     cfg.MaxItems,
		TotalCount:   &parser.Field{Selector: `[data-component-type="s-result-info-bar"]`},
		TotalPattern: regexp.MustCompile(`of\s+(?:over\s+)?([\d,.]+)\s+results`),
		PageSize:     s.pageSize,
	}, nil)
	if err != nil {
		return nil, err
	}
	s.searchEx = parser.Safe(ex)
	return s, nil
}
