package sources

import (
	"github.com/maltedev/search-spider/internal/parser"
)

const walmartPageSize = 40

func newWalmart(cfg Config) (Source, error) {
	s := &site{
		name:      "walmart",
		searchURL: "https://www.walmart.com/search",
		params: func(keyword string, page int) map[string]string {
			return map[string]string{
				"q":                keyword,
				"sort":             "best_seller",
				"page":             pageParam(page),
				"affinityOverride": "default",
			}
		},
		pageSize: pageSize(cfg, walmartPageSize),
		render:   cfg.Render,
	}

	search, err := parser.NewEmbeddedJSONExtractor(parser.EmbeddedRules{
		ItemsPath:      parser.MustKeyPath("props.pageProps.initialData.searchResult.itemStacks[0].items"),
		Link:           parser.MustKeyPath("canonicalUrl"),
		StripLinkQuery: true,
		Mode:           parser.ModeFollowUps,
		MaxItems:       cfg.MaxItems,
		TotalPath:      parser.MustKeyPath("props.pageProps.initialData.searchResult.aggregatedCount"),
		PageSize:       s.pageSize,
	}, s.detailRequest)
	if err != nil {
		return nil, err
	}

	detail, err := parser.NewEmbeddedJSONExtractor(parser.EmbeddedRules{
		ItemsPath: parser.MustKeyPath("props.pageProps.initialData.data.product"),
		Fields: map[string]parser.KeyPath{
			parser.FieldName:        parser.MustKeyPath("name"),
			parser.FieldBrand:       parser.MustKeyPath("brand"),
			parser.FieldRating:      parser.MustKeyPath("averageRating"),
			parser.FieldReviewCount: parser.MustKeyPath("numberOfReviews"),
			parser.FieldDescription: parser.MustKeyPath("shortDescription"),
			parser.FieldImageURL:    parser.MustKeyPath("imageInfo.thumbnailUrl"),
			parser.FieldPrice:       parser.MustKeyPath("priceInfo.currentPrice.price"),
			parser.FieldCurrency:    parser.MustKeyPath("priceInfo.currentPrice.currencyUnit"),
		},
	}, nil)
	if err != nil {
		return nil, err
	}

	s.searchEx = parser.Safe(search)
	s.detailEx = parser.Safe(detail)
	return s, nil
}
