package models

import (
	"time"
)

// Record is one extracted product. Optional fields are nil when the page
// did not provide them.
type Record struct {
	Source      string    `json:"source"`
	Keyword     string    `json:"keyword"`
	Page        int       `json:"page"`
	Position    int       `json:"position"`
	URL         string    `json:"url"`
	Name        *string   `json:"name,omitempty"`
	Brand       *string   `json:"brand,omitempty"`
	Price       *float64  `json:"price,omitempty"`
	Currency    *string   `json:"currency,omitempty"`
	Rating      *float64  `json:"rating,omitempty"`
	ReviewCount *int      `json:"review_count,omitempty"`
	ImageURL    *string   `json:"image_url,omitempty"`
	Description *string   `json:"description,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// NewRecord seeds a record with the positional fields of the response it
// was extracted from.
func NewRecord(meta Metadata, url string) Record {
	return Record{
		Source:    meta.Source,
		Keyword:   meta.Keyword,
		Page:      meta.Page,
		Position:  meta.Position,
		URL:       url,
		ScrapedAt: time.Now().UTC(),
	}
}

// HasContent reports whether at least one domain field was extracted.
func (r *Record) HasContent() bool {
	return r.Name != nil || r.Price != nil || r.Brand != nil ||
		r.ImageURL != nil || r.Description != nil || r.Rating != nil
}

// StringValue dereferences an optional string for display and export.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// PageSummary is what a search page reports about the whole result set.
type PageSummary struct {
	TotalCount int `json:"total_count"`
	PageSize   int `json:"page_size"`
}
