package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DiagnosticKind classifies a non-fatal, per-response problem.
type DiagnosticKind string

const (
	DiagnosticNoMatch          DiagnosticKind = "no_match"
	DiagnosticMissingKey       DiagnosticKind = "missing_key"
	DiagnosticMalformedPayload DiagnosticKind = "malformed_payload"
	DiagnosticFetchFailure     DiagnosticKind = "fetch_failure"
)

// Diagnostic reports why one response contributed no (or fewer) records.
// Body is set for extraction problems so a sink can keep the page around.
type Diagnostic struct {
	Kind      DiagnosticKind `json:"kind"`
	Context   string         `json:"context"`
	URL       string         `json:"url"`
	Meta      Metadata       `json:"meta"`
	Cause     error          `json:"-"`
	Body      []byte         `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewDiagnostic(kind DiagnosticKind, context string, resp *ResponseEnvelope) *Diagnostic {
	d := &Diagnostic{
		Kind:      kind,
		Context:   context,
		CreatedAt: time.Now().UTC(),
	}
	if resp != nil {
		d.URL = resp.FinalURL
		d.Meta = resp.Meta
		d.Body = resp.Body
	}
	return d
}

func (d *Diagnostic) Error() string {
	if d.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", d.Kind, d.Context, d.Cause)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Context)
}

// MarshalJSON adds the cause as an "error" string, since error values do
// not encode themselves.
func (d Diagnostic) MarshalJSON() ([]byte, error) {
	type plain Diagnostic
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(d)}
	if d.Cause != nil {
		out.Error = d.Cause.Error()
	}
	return json.Marshal(out)
}
