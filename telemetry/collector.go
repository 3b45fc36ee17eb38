// CLAUDE:SUMMARY Collection scheduler — polls tracked posts, picks the due lifecycle phase, feeds the orchestrator.
package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// Phase names an offset from publication at which metrics are collected.
type Phase struct {
	Name  string        `yaml:"name"`
	After time.Duration `yaml:"after"`
}

// DefaultPhases cover the lifecycle stages worth separate snapshots.
func DefaultPhases() []Phase {
	return []Phase{
		{Name: "1h", After: time.Hour},
		{Name: "6h", After: 6 * time.Hour},
		{Name: "24h", After: 24 * time.Hour},
		{Name: "72h", After: 72 * time.Hour},
	}
}

// PostLister supplies the tracked-post inventory. The inventory itself
// (which posts exist, their accounts) is owned outside this subsystem.
type PostLister func(ctx context.Context) ([]TrackedPost, error)

// CollectorConfig tunes the collection loop.
type CollectorConfig struct {
	// CheckInterval is how often due posts are polled. Default: 5 minutes.
	CheckInterval time.Duration `yaml:"check_interval"`
	// Phases are the collection offsets. Default: DefaultPhases.
	Phases []Phase `yaml:"phases"`
	// MaxConcurrent bounds parallel scrapes. Default: 4.
	MaxConcurrent int `yaml:"max_concurrent"`
}

func (c *CollectorConfig) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
	if len(c.Phases) == 0 {
		c.Phases = DefaultPhases()
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
}

// Collector drives periodic collection: every tick it lists tracked posts,
// determines each post's current due phase, and hands due pairs to the
// orchestrator. Per-post ingestion is idempotent, so overlap with a retry
// is harmless.
type Collector struct {
	svc    *Service
	list   PostLister
	config CollectorConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewCollector creates a Collector.
func NewCollector(svc *Service, list PostLister, cfg CollectorConfig, logger *slog.Logger) *Collector {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		svc:    svc,
		list:   list,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run polls on a ticker. Blocks until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	// Run once immediately on start.
	c.collectDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collectDue(ctx)
		}
	}
}

// CollectOnce runs a single pass, for manual triggers.
func (c *Collector) CollectOnce(ctx context.Context) {
	c.collectDue(ctx)
}

func (c *Collector) collectDue(ctx context.Context) {
	posts, err := c.list(ctx)
	if err != nil {
		c.logger.Error("collector: list posts", "error", err)
		return
	}

	sem := make(chan struct{}, c.config.MaxConcurrent)
	done := make(chan struct{})
	launched := 0

	for _, post := range posts {
		phase := c.duePhase(ctx, post)
		if phase == "" {
			continue
		}

		launched++
		sem <- struct{}{}
		go func(post TrackedPost, phase string) {
			defer func() { <-sem; done <- struct{}{} }()
			if _, err := c.svc.ScrapeAndStore(ctx, post, phase); err != nil {
				c.logger.Warn("collector: collect", "post_id", post.PostID, "phase", phase, "error", err)
			}
		}(post, phase)
	}

	for i := 0; i < launched; i++ {
		<-done
	}
	if launched > 0 {
		c.logger.Debug("collector: pass complete", "collected", launched)
	}
}

// duePhase returns the most recent phase the post has aged into that has no
// snapshot yet, or "" when nothing is due.
func (c *Collector) duePhase(ctx context.Context, post TrackedPost) string {
	age := c.now().Sub(post.PostedAt)
	due := ""
	for _, p := range c.config.Phases {
		if age >= p.After {
			due = p.Name
		}
	}
	if due == "" {
		return ""
	}

	snap, err := c.svc.store.GetSnapshot(ctx, post.PostID, due)
	if err != nil {
		c.logger.Debug("collector: snapshot lookup", "post_id", post.PostID, "error", err)
		return ""
	}
	if snap != nil {
		return ""
	}
	return due
}
