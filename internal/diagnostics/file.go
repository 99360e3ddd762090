package diagnostics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/search-spider/internal/models"
)

// DumpEntry is one line of the dump index.
type DumpEntry struct {
	ID        string                `json:"id"`
	Kind      models.DiagnosticKind `json:"kind"`
	Context   string                `json:"context"`
	URL       string                `json:"url"`
	Meta      models.Metadata       `json:"meta"`
	Error     string                `json:"error,omitempty"`
	BodyFile  string                `json:"body_file,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// FileSink keeps response bodies of extraction diagnostics on disk for
// offline selector debugging, plus an index.json describing them.
type FileSink struct {
	mu       sync.Mutex
	dir      string
	maxDumps int
	entries  []DumpEntry
	logger   *slog.Logger
}

// NewFileSink creates dir if needed and loads an existing index. maxDumps
// of zero means unlimited.
func NewFileSink(dir string, maxDumps int, logger *slog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dump directory: %w", err)
	}

	s := &FileSink{
		dir:      dir,
		maxDumps: maxDumps,
		logger:   logger.With("component", "diagnostics_file"),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load dump index: %w", err)
	}
	return s, nil
}

func (s *FileSink) Report(d *models.Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxDumps > 0 && len(s.entries) >= s.maxDumps {
		return
	}

	entry := DumpEntry{
		ID:        uuid.New().String(),
		Kind:      d.Kind,
		Context:   d.Context,
		URL:       d.URL,
		Meta:      d.Meta,
		CreatedAt: d.CreatedAt,
	}
	if d.Cause != nil {
		entry.Error = d.Cause.Error()
	}

	if len(d.Body) > 0 {
		name := fmt.Sprintf("%s_%s_%s.html", safeName(d.Meta.Source), d.Kind, entry.ID[:8])
		if err := os.WriteFile(filepath.Join(s.dir, name), d.Body, 0o644); err != nil {
			s.logger.Error("failed to write response dump", "error", err, "url", d.URL)
		} else {
			entry.BodyFile = name
		}
	}

	s.entries = append(s.entries, entry)
	if err := s.save(); err != nil {
		s.logger.Error("failed to save dump index", "error", err)
	}
}

// Entries returns a copy of the index.
func (s *FileSink) Entries() []DumpEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DumpEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *FileSink) indexPath() string {
	return filepath.Join(s.dir, "index.json")
}

func (s *FileSink) save() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.indexPath())
}

func (s *FileSink) load() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.entries)
}

func safeName(s string) string {
	if s == "" {
		return "unknown"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
