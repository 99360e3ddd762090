package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

var ErrBotCheck = errors.New("bot check page")

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	timeout time.Duration
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		TimezoneID:     "America/New_York",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"DNT":             "1",
		},
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		timeout: opts.Timeout,
		logger:  logger.With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.timeout.Milliseconds()))

	return page, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Rendered is the DOM of a page after scripts ran.
type Rendered struct {
	Status   int
	FinalURL string
	HTML     string
}

// Render opens url in a fresh page, waits for waitSelector when given and
// returns the resulting DOM. Navigation is tried at most attempts times.
func (b *Browser) Render(ctx context.Context, url, waitSelector string, attempts int) (*Rendered, error) {
	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	status, err := b.NavigateWithRetry(ctx, page, url, attempts)
	if err != nil {
		return nil, err
	}

	if waitSelector != "" {
		err := page.Locator(waitSelector).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateAttached,
			Timeout: playwright.Float(float64(b.timeout.Milliseconds())),
		})
		if err != nil {
			// The extractor reports the missing listing with the body attached.
			b.logger.Warn("wait selector not found", "url", url, "selector", waitSelector, "error", err)
		}
	}

	if err := b.HumanizeInteraction(ctx, page); err != nil {
		return nil, err
	}

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to get page content: %w", err)
	}

	return &Rendered{Status: status, FinalURL: page.URL(), HTML: content}, nil
}

// NavigateWithRetry loads url, trying at most attempts times, and returns
// the main document's status code.
func (b *Browser) NavigateWithRetry(ctx context.Context, page playwright.Page, url string, attempts int) (int, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		resp, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.timeout.Milliseconds())),
		})
		if err != nil {
			lastErr = err
			b.logger.Error("navigation failed", "error", err, "attempt", i+1, "url", url)
			continue
		}

		status := 200
		if resp != nil {
			status = resp.Status()
		}

		if err := b.CheckBotProtection(page); err != nil {
			if errors.Is(err, ErrBotCheck) {
				return status, err
			}
			lastErr = err
			continue
		}
		return status, nil
	}

	return 0, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

var botCheckMarkers = []string{
	"Enter the characters you see below",
	"Type the characters you see in this image",
	"Robot or human?",
	"Activate and hold the button to confirm that you’re human",
	"/errors/validateCaptcha",
}

// IsBotCheck reports whether a page title or body belongs to a robot
// check interstitial.
func IsBotCheck(title, content string) bool {
	if strings.Contains(strings.ToLower(title), "robot check") {
		return true
	}
	for _, m := range botCheckMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}

// CheckBotProtection tries the "continue shopping" interstitial once and
// returns ErrBotCheck if a robot check remains.
func (b *Browser) CheckBotProtection(page playwright.Page) error {
	title, err := page.Title()
	if err != nil {
		return fmt.Errorf("failed to get page title: %w", err)
	}
	content, err := page.Content()
	if err != nil {
		return fmt.Errorf("failed to get page content: %w", err)
	}

	if strings.Contains(content, "Continue shopping") && strings.Contains(content, "Click the button below") {
		button := page.Locator(`button:has-text("Continue shopping"), input[type="submit"]`).First()
		if count, err := button.Count(); err == nil && count > 0 {
			b.logger.Info("continue-shopping interstitial detected, clicking through")
			if err := button.Click(); err != nil {
				return fmt.Errorf("failed to click through interstitial: %w", err)
			}
			if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
				State: playwright.LoadStateDomcontentloaded,
			}); err != nil {
				return fmt.Errorf("failed to wait after interstitial: %w", err)
			}
			title, _ = page.Title()
			content, _ = page.Content()
		}
	}

	if IsBotCheck(title, content) {
		return ErrBotCheck
	}
	return nil
}

// HumanizeInteraction moves the mouse and scrolls so lazy-loaded listings
// render.
func (b *Browser) HumanizeInteraction(ctx context.Context, page playwright.Page) error {
	for i := 0; i < 3; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		x := float64(100 + i*200)
		y := float64(100 + i*150)
		page.Mouse().Move(x, y)
		time.Sleep(time.Millisecond * time.Duration(100+i*50))
	}

	if _, err := page.Evaluate(`window.scrollBy(0, document.body.scrollHeight / 2)`); err != nil {
		b.logger.Debug("scroll failed", "error", err)
	}
	return nil
}
