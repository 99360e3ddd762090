package parser

import (
	"fmt"

	"github.com/maltedev/search-spider/internal/models"
)

// Extractor turns one fetched page into records and follow-up requests.
// Implementations must not perform I/O and must not fail: problems are
// reported through Result.Diagnostic.
type Extractor interface {
	Extract(resp *models.ResponseEnvelope) Result
}

// Result is everything an extractor learned from a single response.
type Result struct {
	Records    []models.Record
	FollowUps  []models.RequestDescriptor
	Summary    *models.PageSummary
	Diagnostic *models.Diagnostic
	// Skipped counts items found on the page but dropped because they
	// were unusable on their own.
	Skipped int
}

// Mode selects what an extractor produces for each item it finds.
type Mode int

const (
	// ModeRecords emits one record per item.
	ModeRecords Mode = iota
	// ModeFollowUps emits one detail request per item.
	ModeFollowUps
)

// FollowUpBuilder builds the detail request for an item link.
type FollowUpBuilder func(url string, meta models.Metadata) (models.RequestDescriptor, error)

// Record field names used by selector and JSON mappings.
const (
	FieldName        = "name"
	FieldBrand       = "brand"
	FieldPrice       = "price"
	FieldCurrency    = "currency"
	FieldRating      = "rating"
	FieldReviewCount = "review_count"
	FieldImageURL    = "image_url"
	FieldDescription = "description"
	FieldURL         = "url"
)

// Safe wraps an extractor so a panic inside it becomes a malformed-payload
// diagnostic instead of taking down the run.
func Safe(e Extractor) Extractor {
	return safeExtractor{inner: e}
}

type safeExtractor struct {
	inner Extractor
}

func (s safeExtractor) Extract(resp *models.ResponseEnvelope) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Diagnostic: models.NewDiagnostic(models.DiagnosticMalformedPayload,
					fmt.Sprintf("extractor panic: %v", r), resp),
			}
		}
	}()
	if resp == nil {
		return Result{
			Diagnostic: models.NewDiagnostic(models.DiagnosticMalformedPayload, "nil response", nil),
		}
	}
	return s.inner.Extract(resp)
}

// itemMeta derives the metadata for the item at index idx of a page.
func itemMeta(resp *models.ResponseEnvelope, idx int) models.Metadata {
	meta := resp.Meta
	if meta.Kind == models.KindSearch {
		meta.Position = idx + 1
	}
	return meta
}

// setField stores a raw extracted value on the record, parsing numbers.
// Values that do not parse are left absent.
func setField(rec *models.Record, resp *models.ResponseEnvelope, field, raw string) {
	raw = CleanText(raw)
	if raw == "" {
		return
	}

	switch field {
	case FieldName:
		rec.Name = &raw
	case FieldBrand:
		rec.Brand = &raw
	case FieldDescription:
		rec.Description = &raw
	case FieldCurrency:
		rec.Currency = &raw
	case FieldImageURL:
		if u, ok := resp.ResolveURL(raw); ok {
			rec.ImageURL = &u
		}
	case FieldURL:
		if u, ok := resp.ResolveURL(raw); ok {
			rec.URL = u
		}
	case FieldPrice:
		if amount, currency, ok := ParsePrice(raw); ok {
			rec.Price = &amount
			if currency != "" && rec.Currency == nil {
				rec.Currency = &currency
			}
		}
	case FieldRating:
		if rating, ok := ParseRating(raw); ok {
			rec.Rating = &rating
		}
	case FieldReviewCount:
		if n, ok := ParseCount(raw); ok {
			rec.ReviewCount = &n
		}
	}
}

func buildFollowUp(build FollowUpBuilder, resp *models.ResponseEnvelope, href string, idx int) (models.RequestDescriptor, bool) {
	if build == nil {
		return models.RequestDescriptor{}, false
	}
	u, ok := resp.ResolveURL(href)
	if !ok {
		return models.RequestDescriptor{}, false
	}
	meta := itemMeta(resp, idx)
	meta.Kind = models.KindDetail
	req, err := build(u, meta)
	if err != nil {
		return models.RequestDescriptor{}, false
	}
	return req, true
}
