package fetch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/maltedev/search-spider/internal/models"
)

// Fetcher is implemented by every fetcher in this package.
type Fetcher interface {
	Fetch(ctx context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, error)
}

// Router sends requests flagged RequiresRendering to the browser and
// everything else over HTTP. Without a browser, rendering requests fall
// back to HTTP.
type Router struct {
	HTTP    Fetcher
	Browser Fetcher
	Logger  *slog.Logger

	warnOnce sync.Once
}

func (r *Router) Fetch(ctx context.Context, req models.RequestDescriptor) (*models.ResponseEnvelope, error) {
	if req.Meta().RequiresRendering {
		if r.Browser != nil {
			return r.Browser.Fetch(ctx, req)
		}
		r.warnOnce.Do(func() {
			if r.Logger != nil {
				r.Logger.Warn("request needs rendering but no browser is configured, using HTTP",
					"source", req.Meta().Source)
			}
		})
	}
	return r.HTTP.Fetch(ctx, req)
}
