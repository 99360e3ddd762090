package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/search-spider/internal/diagnostics"
	"github.com/maltedev/search-spider/internal/export"
	"github.com/maltedev/search-spider/internal/fetch"
	"github.com/maltedev/search-spider/internal/search"
	"github.com/maltedev/search-spider/internal/spider"
	"github.com/maltedev/search-spider/pkg/logger"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one keyword search and export its records",
		Long: `Run searches one source for a keyword and writes the records found.

Examples:
  # First 50 walmart results for "usb hub" into data/
  spider run -s walmart -k "usb hub" -l 50

  # Amazon results as JSON Lines on stdout
  spider run -s amazon -k laptop -f jsonl -o -

  # HTTP only, no headless browser
  spider run -s snapdeal -k shoes --no-browser`,
		Args: cobra.NoArgs,
		RunE: runRunCmd,
	}

	cmd.Flags().StringP("source", "s", "", "Source to search (default from config)")
	cmd.Flags().StringP("keyword", "k", "", "Search keyword")
	cmd.Flags().IntP("limit", "l", 0, "Maximum number of records (0 uses the configured default)")
	cmd.Flags().StringP("format", "f", "", "Output format: csv or jsonl (default from config)")
	cmd.Flags().StringP("output", "o", "", `Output file, "-" for stdout (default: a timestamped file in the export dir)`)
	cmd.Flags().Int("hard-cap", 0, "Maximum number of search pages, page 1 included")
	cmd.Flags().Bool("no-browser", false, "Fetch every page over plain HTTP")
	_ = cmd.MarkFlagRequired("keyword")

	return cmd
}

type runOptions struct {
	request search.Request
	format  string
	output  string
	dir     string
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := runOptions{dir: cfg.Export.Dir, format: cfg.Export.Format}
	opts.request.Source, _ = cmd.Flags().GetString("source")
	opts.request.Keyword, _ = cmd.Flags().GetString("keyword")
	opts.request.Limit, _ = cmd.Flags().GetInt("limit")
	if f, _ := cmd.Flags().GetString("format"); f != "" {
		opts.format = f
	}
	opts.output, _ = cmd.Flags().GetString("output")
	if err := validateFormat(opts.format); err != nil {
		return err
	}

	if hardCap, _ := cmd.Flags().GetInt("hard-cap"); hardCap > 0 {
		cfg.Spider.HardCap = hardCap
	}
	if noBrowser, _ := cmd.Flags().GetBool("no-browser"); noBrowser {
		cfg.Scraper.Browser = false
	}

	// Logs go to stderr so records can be piped from stdout.
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	fetcher, err := fetch.NewStack(cfg.Scraper, log)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	sink, err := diagnostics.FromConfig(cfg.Diagnostics, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return execute(ctx, search.NewService(fetcher, sink, cfg.Spider, log), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func validateFormat(format string) error {
	switch format {
	case export.FormatCSV, export.FormatJSONL:
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

type searcher interface {
	Run(ctx context.Context, req search.Request) (*spider.Result, error)
}

// execute runs the search and writes whatever it collected, also when
// the run was interrupted.
func execute(ctx context.Context, s searcher, opts runOptions, stdout, stderr io.Writer) error {
	res, runErr := s.Run(ctx, opts.request)
	if res == nil {
		return runErr
	}

	switch opts.output {
	case "-":
		if err := export.Write(stdout, opts.format, res.Records); err != nil {
			return fmt.Errorf("failed to write records: %w", err)
		}
	default:
		path := opts.output
		if path == "" {
			path = export.DefaultPath(opts.dir, res.Source, opts.format, time.Now())
		}
		if err := export.WriteFile(path, opts.format, res.Records); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "wrote %d records to %s\n", len(res.Records), path)
	}

	printSummary(stderr, res)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func printSummary(w io.Writer, res *spider.Result) {
	fmt.Fprintf(w, "%s %q: %d records, %d/%d requests ok, %d pages planned, %d diagnostics, %s\n",
		res.Source, res.Keyword, len(res.Records),
		res.Stats.Succeeded, res.Stats.Dispatched, res.Stats.PagesPlanned,
		len(res.Diagnostics), res.Duration.Round(time.Millisecond))
	if res.StoppedEarly {
		fmt.Fprintln(w, "stopped early: record limit reached")
	}
}
