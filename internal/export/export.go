// Package export writes collected records as CSV or JSON Lines feeds.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/maltedev/search-spider/internal/models"
)

const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// Columns is the CSV header, in order.
var Columns = []string{
	"source", "keyword", "page", "position", "name", "brand", "price", "currency",
	"rating", "review_count", "url", "image_url", "description", "scraped_at",
}

// Write encodes records to w in the given format.
func Write(w io.Writer, format string, records []models.Record) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, records)
	case FormatJSONL:
		return writeJSONL(w, records)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// DefaultPath names a feed file after its source and start time, e.g.
// data/walmart_2024-05-01T10-00-00.csv.
func DefaultPath(dir, source, format string, at time.Time) string {
	name := fmt.Sprintf("%s_%s.%s", source, at.UTC().Format("2006-01-02T15-04-05"), format)
	return filepath.Join(dir, name)
}

// WriteFile writes the feed to path, creating parent directories.
func WriteFile(path, format string, records []models.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := Write(f, format, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeCSV(w io.Writer, records []models.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range records {
		row := []string{
			r.Source,
			r.Keyword,
			strconv.Itoa(r.Page),
			strconv.Itoa(r.Position),
			models.StringValue(r.Name),
			models.StringValue(r.Brand),
			formatFloat(r.Price),
			models.StringValue(r.Currency),
			formatFloat(r.Rating),
			formatInt(r.ReviewCount),
			r.URL,
			models.StringValue(r.ImageURL),
			models.StringValue(r.Description),
			r.ScrapedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func writeJSONL(w io.Writer, records []models.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return nil
}

// Absent values are written as empty cells.
func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
