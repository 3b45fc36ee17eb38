// CLAUDE:SUMMARY Rod implementation of the metric-scraper boundary — navigate, extract counters, screenshot evidence.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/pulse/telemetry"
)

// Config configures the rod-backed scraper.
type Config struct {
	// BaseURL of the platform, e.g. "https://x.com". Post pages are
	// resolved as BaseURL + "/i/status/" + postID.
	BaseURL string `yaml:"base_url"`

	// NavTimeout bounds one navigate+extract pass. A hung page fails
	// closed to "no metrics collected". Default: 30s.
	NavTimeout time.Duration `yaml:"nav_timeout"`

	// Retry bounds repeated attempts within one Collect call.
	Retry RetryPolicy `yaml:"retry"`

	// Logger for scrape diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://x.com"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scraper renders post pages in Chrome and reads the public counters off
// the DOM. It satisfies telemetry.Scraper.
type Scraper struct {
	cfg     Config
	browser *Browser
}

// New creates a Scraper over a started Browser.
func New(cfg Config, browser *Browser) *Scraper {
	cfg.defaults()
	return &Scraper{cfg: cfg, browser: browser}
}

var _ telemetry.Scraper = (*Scraper)(nil)

// rawCounters is what the in-page extraction script returns: the visible
// label text per metric, empty string when the element is absent.
type rawCounters struct {
	Likes     string `json:"likes"`
	Retweets  string `json:"retweets"`
	Replies   string `json:"replies"`
	Quotes    string `json:"quotes"`
	Bookmarks string `json:"bookmarks"`
	Views     string `json:"views"`
}

// extractScript reads counter labels from the post page. It prefers
// aria-labels (full numbers) over the abbreviated button text. Missing
// elements come back empty rather than failing the whole extraction.
const extractScript = `() => {
	const label = (testid) => {
		const el = document.querySelector('[data-testid="' + testid + '"]');
		if (!el) return "";
		return el.getAttribute("aria-label") || el.textContent || "";
	};
	const views = () => {
		const el = document.querySelector('a[href*="/analytics"]');
		if (!el) return "";
		return el.getAttribute("aria-label") || el.textContent || "";
	};
	return {
		likes:     label("like") || label("unlike"),
		retweets:  label("retweet") || label("unretweet"),
		replies:   label("reply"),
		quotes:    label("quote"),
		bookmarks: label("bookmark") || label("removeBookmark"),
		views:     views(),
	};
}`

// Collect navigates to the post page and reads its counters. Counters the
// page does not show come back nil; a navigation or extraction failure is
// an error, retried per the policy before surfacing.
func (s *Scraper) Collect(ctx context.Context, postID string) (*telemetry.RawMeasurement, error) {
	var m *telemetry.RawMeasurement
	err := s.cfg.Retry.do(ctx, s.cfg.Logger, "collect "+postID, func() error {
		var err error
		m, err = s.collectOnce(ctx, postID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: collect %s: %w", postID, err)
	}
	return m, nil
}

func (s *Scraper) collectOnce(ctx context.Context, postID string) (*telemetry.RawMeasurement, error) {
	page, err := s.openPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	res, err := page.Context(navCtx).Eval(extractScript)
	if err != nil {
		return nil, fmt.Errorf("extract counters: %w", err)
	}

	var raw rawCounters
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &raw); err != nil {
		return nil, fmt.Errorf("decode counters: %w", err)
	}

	m := &telemetry.RawMeasurement{
		Likes:     parseCounter(raw.Likes),
		Retweets:  parseCounter(raw.Retweets),
		Replies:   parseCounter(raw.Replies),
		Quotes:    parseCounter(raw.Quotes),
		Bookmarks: parseCounter(raw.Bookmarks),
		Views:     parseCounter(raw.Views),
	}
	s.cfg.Logger.Debug("scraper: collected", "post_id", postID,
		"likes", raw.Likes, "views", raw.Views)
	return m, nil
}

// CaptureEvidence screenshots the rendered post page. Used as the visual
// attachment on validation alerts.
func (s *Scraper) CaptureEvidence(ctx context.Context, postID string) ([]byte, error) {
	page, err := s.openPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("scraper: evidence %s: %w", postID, err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	png, err := page.Context(navCtx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: screenshot %s: %w", postID, err)
	}
	return png, nil
}

// openPost opens a stealth tab on the post page and waits for load within
// the navigation timeout.
func (s *Scraper) openPost(ctx context.Context, postID string) (*rod.Page, error) {
	page, err := s.browser.Tab()
	if err != nil {
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	url := s.cfg.BaseURL + "/i/status/" + postID
	if err := page.Context(navCtx).Navigate(url); err != nil {
		page.Close()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		s.cfg.Logger.Warn("scraper: wait load timed out", "url", url, "error", err)
	}
	return page, nil
}

// parseCounter turns label text into a counter pointer; unparseable or
// absent text stays nil so the validator sees "unscraped", not zero.
func parseCounter(text string) *int64 {
	n, err := firstCount(text)
	if err != nil {
		return nil
	}
	return &n
}
