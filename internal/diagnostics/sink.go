// Package diagnostics receives the non-fatal problems a run reports.
package diagnostics

import (
	"log/slog"
	"sync"

	"github.com/maltedev/search-spider/internal/config"
	"github.com/maltedev/search-spider/internal/models"
)

// Sink receives one diagnostic per failed or empty response. Report must
// not block for long and is called from the orchestrator loop.
type Sink interface {
	Report(d *models.Diagnostic)
}

// LogSink writes diagnostics to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "diagnostics")}
}

func (s *LogSink) Report(d *models.Diagnostic) {
	attrs := []any{
		"kind", d.Kind,
		"context", d.Context,
		"url", d.URL,
		"source", d.Meta.Source,
		"page_kind", d.Meta.Kind,
		"page", d.Meta.Page,
		"position", d.Meta.Position,
	}
	if d.Cause != nil {
		attrs = append(attrs, "error", d.Cause)
	}
	s.logger.Warn("response produced no records", attrs...)
}

// Collecting keeps every diagnostic in memory so a run can return them.
type Collecting struct {
	mu    sync.Mutex
	items []*models.Diagnostic
}

func NewCollecting() *Collecting {
	return &Collecting{}
}

func (c *Collecting) Report(d *models.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, d)
}

func (c *Collecting) Diagnostics() []*models.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Diagnostic, len(c.items))
	copy(out, c.items)
	return out
}

// CountByKind groups the collected diagnostics by kind.
func (c *Collecting) CountByKind() map[models.DiagnosticKind]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[models.DiagnosticKind]int)
	for _, d := range c.items {
		counts[d.Kind]++
	}
	return counts
}

// Multi fans each diagnostic out to several sinks.
type Multi []Sink

func (m Multi) Report(d *models.Diagnostic) {
	for _, s := range m {
		if s != nil {
			s.Report(d)
		}
	}
}

// Discard drops every diagnostic.
type Discard struct{}

func (Discard) Report(*models.Diagnostic) {}

// FromConfig returns a log sink, plus a file sink when dumps are enabled.
func FromConfig(cfg config.DiagnosticsConfig, logger *slog.Logger) (Sink, error) {
	logSink := NewLogSink(logger)
	if !cfg.Enabled {
		return logSink, nil
	}
	fileSink, err := NewFileSink(cfg.DumpDir, cfg.MaxDumps, logger)
	if err != nil {
		return nil, err
	}
	return Multi{logSink, fileSink}, nil
}
