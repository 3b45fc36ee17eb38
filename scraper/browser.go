// CLAUDE:SUMMARY Chrome lifecycle for metric scraping — launch/connect, stealth tabs, memory and age recycling.
// Package scraper collects public engagement counters for published posts
// by rendering them in headless Chrome. It implements the telemetry.Scraper
// boundary: best-effort counters, typed failure, optional page capture for
// diagnostics.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the shared Chrome instance.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty launches
	// a local headless Chrome via the rod launcher.
	RemoteURL string `yaml:"remote_url"`

	// MemoryLimit in bytes; Chrome is recycled past it. Default: 1GB.
	MemoryLimit int64 `yaml:"memory_limit"`

	// RecycleInterval is the maximum Chrome process lifetime. Default: 4h.
	// Long-lived scraping sessions leak renderer memory; periodic restarts
	// keep collection stable.
	RecycleInterval time.Duration `yaml:"recycle_interval"`

	// Logger for lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

func (c *BrowserConfig) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser owns one Chrome process shared by all scrape invocations. Each
// scrape gets its own stealth tab, so concurrent posts never share page
// state; only the process itself is shared.
type Browser struct {
	cfg BrowserConfig

	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool
}

// NewBrowser creates the manager. Call Start before opening tabs.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

// Start launches Chrome (or connects to RemoteURL) and begins the recycle
// monitor. The monitor stops when ctx is cancelled.
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("scraper: browser manager is closed")
	}
	br, err := b.launch()
	if err != nil {
		return err
	}
	b.browser = br
	b.startAt = time.Now()
	go b.monitorLoop(ctx)
	return nil
}

// Tab opens a fresh stealth page. The caller owns it and must Close it.
func (b *Browser) Tab() (*rod.Page, error) {
	b.mu.RLock()
	br := b.browser
	b.mu.RUnlock()
	if br == nil {
		return nil, fmt.Errorf("scraper: browser not started")
	}
	page, err := stealth.Page(br)
	if err != nil {
		return nil, fmt.Errorf("scraper: open tab: %w", err)
	}
	return page, nil
}

// Recycle kills Chrome and relaunches it. In-flight tabs fail; callers
// retry on the next cycle.
func (b *Browser) Recycle() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("scraper: browser manager is closed")
	}
	b.cfg.Logger.Info("scraper: recycling chrome", "uptime", time.Since(b.startAt).String())
	b.cleanup()
	br, err := b.launch()
	if err != nil {
		return fmt.Errorf("scraper: relaunch: %w", err)
	}
	b.browser = br
	b.startAt = time.Now()
	return nil
}

// Close shuts Chrome down for good.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cleanup()
	return nil
}

func (b *Browser) launch() (*rod.Browser, error) {
	var wsURL string
	if b.cfg.RemoteURL != "" {
		wsURL = b.cfg.RemoteURL
		b.cfg.Logger.Info("scraper: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("scraper: launch chrome: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("scraper: launched local chrome")
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("scraper: connect chrome: %w", err)
	}
	return br, nil
}

func (b *Browser) cleanup() {
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
}

func (b *Browser) monitorLoop(ctx context.Context) {
	log := b.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.RLock()
			if b.closed || b.browser == nil {
				b.mu.RUnlock()
				return
			}
			startAt := b.startAt
			br := b.browser
			b.mu.RUnlock()

			if time.Since(startAt) > b.cfg.RecycleInterval {
				log.Info("scraper: recycle interval reached")
				if err := b.Recycle(); err != nil {
					log.Error("scraper: recycle failed", "error", err)
				}
				continue
			}

			heap, err := jsHeapUsage(br)
			if err != nil {
				log.Debug("scraper: heap check failed", "error", err)
				continue
			}
			if heap > b.cfg.MemoryLimit {
				log.Info("scraper: memory limit exceeded", "used", heap, "limit", b.cfg.MemoryLimit)
				if err := b.Recycle(); err != nil {
					log.Error("scraper: recycle failed", "error", err)
				}
			}
		}
	}
}

// jsHeapUsage samples the first open page's JS heap as a proxy for overall
// renderer memory.
func jsHeapUsage(br *rod.Browser) (int64, error) {
	pages, err := br.Pages()
	if err != nil || len(pages) == 0 {
		return 0, fmt.Errorf("no pages to sample")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
