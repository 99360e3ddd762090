// Package pagination decides which additional search pages a run fetches.
package pagination

import (
	"log/slog"

	"github.com/maltedev/search-spider/internal/models"
)

// DefaultHardCap bounds fan-out when a source reports an absurd total.
const DefaultHardCap = 5

// PageBuilder builds the search request for one page of a keyword.
type PageBuilder func(keyword string, page int) (models.RequestDescriptor, error)

// Planner computes the follow-up search pages from a first page summary.
type Planner struct {
	PageSize int
	HardCap  int
	Build    PageBuilder
	Logger   *slog.Logger
}

// MaxPages returns min(HardCap, ceil(total/pageSize)). The summary's page
// size is used when it reports one.
func (p Planner) MaxPages(summary models.PageSummary) int {
	pageSize := p.PageSize
	if summary.PageSize > 0 {
		pageSize = summary.PageSize
	}
	if summary.TotalCount <= 0 || pageSize <= 0 {
		return 0
	}

	pages := summary.TotalCount / pageSize
	if summary.TotalCount%pageSize != 0 {
		pages++
	}
	hardCap := p.HardCap
	if hardCap <= 0 {
		hardCap = DefaultHardCap
	}
	if pages > hardCap {
		pages = hardCap
	}
	return pages
}

// Plan returns requests for pages 2..MaxPages. Page 1 is never included.
// A page whose request cannot be built is skipped and logged.
func (p Planner) Plan(summary models.PageSummary, keyword string) []models.RequestDescriptor {
	maxPages := p.MaxPages(summary)
	if maxPages < 2 || p.Build == nil {
		return nil
	}

	plan := make([]models.RequestDescriptor, 0, maxPages-1)
	for page := 2; page <= maxPages; page++ {
		req, err := p.Build(keyword, page)
		if err != nil {
			if p.Logger != nil {
				p.Logger.Warn("failed to build page request", "page", page, "error", err)
			}
			continue
		}
		plan = append(plan, req)
	}
	return plan
}
