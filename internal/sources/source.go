// Package sources holds the per-site request and extraction rules.
package sources

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/maltedev/search-spider/internal/models"
	"github.com/maltedev/search-spider/internal/parser"
)

var ErrUnknownSource = errors.New("unknown source")

// Source is everything the orchestrator needs to know about one site.
type Source interface {
	Name() string
	SearchRequest(keyword string, page int) (models.RequestDescriptor, error)
	SearchExtractor() parser.Extractor
	// DetailExtractor is nil for sources whose search pages carry the
	// complete record.
	DetailExtractor() parser.Extractor
	PageSize() int
}

// Config tunes a source without changing its rules.
type Config struct {
	// PageSize overrides the site's known page size when positive.
	PageSize int
	// MaxItems caps items read per search page; zero keeps them all.
	MaxItems int
	// Render forces headless rendering for every request of the source.
	Render bool
}

type factory func(cfg Config) (Source, error)

var registry = map[string]factory{
	"amazon":   newAmazon,
	"walmart":  newWalmart,
	"snapdeal": newSnapdeal,
}

// Lookup builds the named source.
func Lookup(name string, cfg Config) (Source, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	src, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build source %s: %w", name, err)
	}
	return src, nil
}

// Names lists the registered sources in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// site is the shared Source implementation; the per-site files only fill
// in rules.
type site struct {
	name       string
	searchURL  string
	params     func(keyword string, page int) map[string]string
	headers    map[string]string
	pageSize   int
	render     bool
	searchWait string
	detailWait string
	searchEx   parser.Extractor
	detailEx   parser.Extractor
}

func (s *site) Name() string                      { return s.name }
func (s *site) PageSize() int                     { return s.pageSize }
func (s *site) SearchExtractor() parser.Extractor { return s.searchEx }
func (s *site) DetailExtractor() parser.Extractor { return s.detailEx }

func (s *site) SearchRequest(keyword string, page int) (models.RequestDescriptor, error) {
	if keyword == "" {
		return models.RequestDescriptor{}, fmt.Errorf("keyword is required")
	}
	if page < 1 {
		return models.RequestDescriptor{}, fmt.Errorf("page must be >= 1, got %d", page)
	}

	meta := models.Metadata{
		Kind:              models.KindSearch,
		Source:            s.name,
		Keyword:           keyword,
		Page:              page,
		RequiresRendering: s.render,
		WaitSelector:      s.searchWait,
	}
	opts := s.headerOptions()
	for k, v := range s.params(keyword, page) {
		opts = append(opts, models.WithQuery(k, v))
	}
	return models.NewRequest(s.searchURL, meta, opts...)
}

// detailRequest is the FollowUpBuilder handed to search extractors.
func (s *site) detailRequest(url string, meta models.Metadata) (models.RequestDescriptor, error) {
	meta.Kind = models.KindDetail
	meta.RequiresRendering = s.render
	meta.WaitSelector = s.detailWait
	return models.NewRequest(url, meta, s.headerOptions()...)
}

func (s *site) headerOptions() []models.RequestOption {
	opts := make([]models.RequestOption, 0, len(s.headers))
	for k, v := range s.headers {
		opts = append(opts, models.WithHeader(k, v))
	}
	return opts
}

func pageSize(cfg Config, known int) int {
	if cfg.PageSize > 0 {
		return cfg.PageSize
	}
	return known
}

func pageParam(page int) string {
	return strconv.Itoa(page)
}

// defaultCurrency fills Currency on priced records of sites that print
// bare numbers.
type defaultCurrency struct {
	inner    parser.Extractor
	currency string
}

func (d defaultCurrency) Extract(resp *models.ResponseEnvelope) parser.Result {
	res := d.inner.Extract(resp)
	for i := range res.Records {
		if res.Records[i].Price != nil && res.Records[i].Currency == nil {
			c := d.currency
			res.Records[i].Currency = &c
		}
	}
	return res
}
