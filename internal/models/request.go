package models

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// PageKind tags a request with the extractor that must handle its response.
type PageKind string

const (
	KindSearch PageKind = "search"
	KindDetail PageKind = "detail"
)

func (k PageKind) Valid() bool {
	return k == KindSearch || k == KindDetail
}

// Metadata travels with a request and is copied onto its response.
type Metadata struct {
	Kind              PageKind `json:"kind"`
	Source            string   `json:"source"`
	Keyword           string   `json:"keyword"`
	Page              int      `json:"page"`
	Position          int      `json:"position,omitempty"`
	RequiresRendering bool     `json:"requires_rendering,omitempty"`
	WaitSelector      string   `json:"wait_selector,omitempty"`
}

// IsFirstSearchPage reports whether the metadata identifies the page that
// gates pagination planning.
func (m Metadata) IsFirstSearchPage() bool {
	return m.Kind == KindSearch && m.Page == 1
}

// RequestDescriptor describes one outbound fetch. Fields are unexported so
// a descriptor cannot change after NewRequest returns it.
type RequestDescriptor struct {
	url     string
	method  string
	headers map[string]string
	query   url.Values
	meta    Metadata
}

// RequestOption customizes a descriptor while it is being built.
type RequestOption func(*RequestDescriptor)

func WithMethod(method string) RequestOption {
	return func(r *RequestDescriptor) {
		r.method = method
	}
}

func WithHeader(key, value string) RequestOption {
	return func(r *RequestDescriptor) {
		r.headers[key] = value
	}
}

func WithQuery(key, value string) RequestOption {
	return func(r *RequestDescriptor) {
		r.query.Set(key, value)
	}
}

// NewRequest builds an immutable descriptor. Query parameters already
// present on rawURL are merged with the ones given via WithQuery.
func NewRequest(rawURL string, meta Metadata, opts ...RequestOption) (RequestDescriptor, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RequestDescriptor{}, fmt.Errorf("failed to parse request URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return RequestDescriptor{}, fmt.Errorf("request URL must be absolute: %q", rawURL)
	}
	if !meta.Kind.Valid() {
		return RequestDescriptor{}, fmt.Errorf("invalid page kind %q", meta.Kind)
	}

	r := RequestDescriptor{
		method:  http.MethodGet,
		headers: make(map[string]string),
		query:   u.Query(),
		meta:    meta,
	}
	u.RawQuery = ""
	r.url = u.String()

	for _, opt := range opts {
		opt(&r)
	}
	return r, nil
}

func (r RequestDescriptor) Method() string { return r.method }

func (r RequestDescriptor) Meta() Metadata { return r.meta }

// URL returns the full URL including the encoded query.
func (r RequestDescriptor) URL() string {
	if len(r.query) == 0 {
		return r.url
	}
	return r.url + "?" + r.query.Encode()
}

func (r RequestDescriptor) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

func (r RequestDescriptor) Query() url.Values {
	out := make(url.Values, len(r.query))
	for k, v := range r.query {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (r RequestDescriptor) String() string {
	return fmt.Sprintf("%s %s [%s page=%d pos=%d]",
		r.method, r.URL(), r.meta.Kind, r.meta.Page, r.meta.Position)
}

// ResponseEnvelope is the read-only result of a completed fetch.
type ResponseEnvelope struct {
	Status   int
	FinalURL string
	Body     []byte
	Meta     Metadata
}

func (r *ResponseEnvelope) Text() string {
	return string(r.Body)
}

// ResolveURL resolves href against the final URL of the response.
func (r *ResponseEnvelope) ResolveURL(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	base, err := url.Parse(r.FinalURL)
	if err != nil || base.Host == "" {
		if ref.IsAbs() {
			return ref.String(), true
		}
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}
