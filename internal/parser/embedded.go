package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/search-spider/internal/models"
)

// DefaultScriptSelector finds the Next.js data island most storefronts ship.
const DefaultScriptSelector = "script#__NEXT_DATA__"

// EmbeddedRules describe where product data lives inside a JSON blob
// embedded in the page.
type EmbeddedRules struct {
	ScriptSelector string
	// ItemsPath resolves to an array of items, or to a single object for
	// detail pages.
	ItemsPath KeyPath
	// Fields map record fields to paths relative to one item.
	Fields map[string]KeyPath
	// Link is the item URL path relative to one item.
	Link           KeyPath
	StripLinkQuery bool
	Mode           Mode
	MaxItems       int

	TotalPath KeyPath
	PageSize  int
}

// EmbeddedJSONExtractor is the structured-data variant of Extractor.
type EmbeddedJSONExtractor struct {
	rules    EmbeddedRules
	followUp FollowUpBuilder
}

func NewEmbeddedJSONExtractor(rules EmbeddedRules, followUp FollowUpBuilder) (*EmbeddedJSONExtractor, error) {
	if len(rules.ItemsPath) == 0 {
		return nil, fmt.Errorf("items path is required")
	}
	if rules.Mode == ModeFollowUps && len(rules.Link) == 0 {
		return nil, fmt.Errorf("follow-up mode requires a link path")
	}
	if rules.ScriptSelector == "" {
		rules.ScriptSelector = DefaultScriptSelector
	}
	return &EmbeddedJSONExtractor{rules: rules, followUp: followUp}, nil
}

func (e *EmbeddedJSONExtractor) Extract(resp *models.ResponseEnvelope) Result {
	payload, diag := e.payload(resp)
	if diag != nil {
		return Result{Diagnostic: diag}
	}

	var res Result
	if len(e.rules.TotalPath) > 0 {
		if v, ok := e.rules.TotalPath.Lookup(payload); ok {
			if total, ok := toInt(v); ok {
				res.Summary = &models.PageSummary{TotalCount: total, PageSize: e.rules.PageSize}
			}
		}
	}

	node, werr := e.rules.ItemsPath.Walk(payload)
	if werr != nil {
		kind := models.DiagnosticMissingKey
		if !werr.Missing {
			kind = models.DiagnosticMalformedPayload
		}
		res.Diagnostic = models.NewDiagnostic(kind, werr.Error(), resp)
		return res
	}

	var items []any
	switch v := node.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		res.Diagnostic = models.NewDiagnostic(models.DiagnosticMalformedPayload,
			fmt.Sprintf("unexpected-type: %s is %T", e.rules.ItemsPath, node), resp)
		return res
	}
	if e.rules.MaxItems > 0 && len(items) > e.rules.MaxItems {
		items = items[:e.rules.MaxItems]
	}

	for idx, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			res.Skipped++
			continue
		}

		href := ""
		if len(e.rules.Link) > 0 {
			if v, ok := e.rules.Link.Lookup(item); ok {
				href, _ = v.(string)
				if e.rules.StripLinkQuery {
					href, _, _ = strings.Cut(href, "?")
				}
			}
		}

		if e.rules.Mode == ModeFollowUps {
			req, ok := buildFollowUp(e.followUp, resp, href, idx)
			if !ok {
				res.Skipped++
				continue
			}
			res.FollowUps = append(res.FollowUps, req)
			continue
		}

		rec := models.NewRecord(itemMeta(resp, idx), resp.FinalURL)
		if href != "" {
			setField(&rec, resp, FieldURL, href)
		}
		for name, path := range e.rules.Fields {
			if v, ok := path.Lookup(item); ok {
				setJSONField(&rec, resp, name, v)
			}
		}
		if !rec.HasContent() {
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
	}

	if len(items) == 0 {
		res.Diagnostic = models.NewDiagnostic(models.DiagnosticNoMatch,
			fmt.Sprintf("%s is empty", e.rules.ItemsPath), resp)
	} else if len(res.Records) == 0 && len(res.FollowUps) == 0 {
		res.Diagnostic = models.NewDiagnostic(models.DiagnosticNoMatch,
			fmt.Sprintf("%d items under %s but none were usable", len(items), e.rules.ItemsPath), resp)
	}
	return res
}

func (e *EmbeddedJSONExtractor) payload(resp *models.ResponseEnvelope) (any, *models.Diagnostic) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, models.NewDiagnostic(models.DiagnosticMalformedPayload,
			fmt.Sprintf("failed to parse HTML: %v", err), resp)
	}

	script := doc.Find(e.rules.ScriptSelector).First()
	if script.Length() == 0 {
		return nil, models.NewDiagnostic(models.DiagnosticMalformedPayload,
			fmt.Sprintf("no element matched %q", e.rules.ScriptSelector), resp)
	}

	var payload any
	if err := json.Unmarshal([]byte(script.Text()), &payload); err != nil {
		return nil, models.NewDiagnostic(models.DiagnosticMalformedPayload,
			fmt.Sprintf("failed to decode embedded JSON: %v", err), resp)
	}
	return payload, nil
}

// setJSONField stores decoded JSON values, keeping numbers numeric so
// they are not reparsed from text.
func setJSONField(rec *models.Record, resp *models.ResponseEnvelope, field string, v any) {
	switch field {
	case FieldPrice, FieldRating:
		if f, ok := v.(float64); ok {
			if field == FieldPrice {
				if f >= 0 {
					rec.Price = &f
				}
			} else if f >= 0 && f <= 5 {
				rec.Rating = &f
			}
			return
		}
	case FieldReviewCount:
		if n, ok := toInt(v); ok {
			rec.ReviewCount = &n
			return
		}
	}

	if s, ok := toString(v); ok {
		setField(rec, resp, field, s)
	}
}

func toString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || t < 0 || t >= math.MaxInt || t != math.Trunc(t) {
			return 0, false
		}
		return int(t), true
	case string:
		return ParseCount(t)
	default:
		return 0, false
	}
}
