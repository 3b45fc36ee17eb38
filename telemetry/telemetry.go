// CLAUDE:SUMMARY Scraping Orchestrator — cache lookup, scrape, validate, conditional persist/alert/cache per post.
// Package telemetry ingests scraped engagement metrics for published posts,
// validates them against plausibility and historical-consistency rules, and
// persists the surviving snapshots.
//
// The package deliberately trusts nothing: measurements come from an
// untrusted scrape of a third-party page, so every counter passes the
// Validator before it can influence stored history or reward signal.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pulse/idgen"
)

// Scraper is the metric-scraper collaborator boundary. Any non-error return
// counts as a scrape attempt, even if every field is nil.
type Scraper interface {
	// Collect returns the post's current public counters.
	Collect(ctx context.Context, postID string) (*RawMeasurement, error)
	// CaptureEvidence returns a rendered-page capture (PNG) for diagnostics.
	CaptureEvidence(ctx context.Context, postID string) ([]byte, error)
}

// Config configures the telemetry Service.
type Config struct {
	// Thresholds tune the Validator.
	Thresholds Thresholds `yaml:"thresholds"`
	// HistoryWindow bounds the trailing-average query. Default: 30 days.
	HistoryWindow time.Duration `yaml:"history_window"`
	// AlertTimeout bounds the diagnostic side-channel. Default: 15s.
	AlertTimeout time.Duration `yaml:"alert_timeout"`
}

func (c *Config) defaults() {
	c.Thresholds.defaults()
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 30 * 24 * time.Hour
	}
	if c.AlertTimeout <= 0 {
		c.AlertTimeout = 15 * time.Second
	}
}

// Service coordinates one ingestion cycle per post. All collaborators are
// injected; concurrent ScrapeAndStore calls share no mutable state beyond
// the store and the advisory cache.
type Service struct {
	scraper   Scraper
	store     *Store
	cache     Cache
	alerter   Alerter
	validator *Validator
	config    Config
	logger    *slog.Logger
	newID     idgen.Generator
	now       func() time.Time
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithCache sets the dedupe cache. Default: in-process hourly cache.
func WithCache(c Cache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithAlerter sets the diagnostic alert sink. Default: NopAlerter.
func WithAlerter(a Alerter) ServiceOption {
	return func(s *Service) { s.alerter = a }
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides ID generation (for tests).
func WithIDGenerator(gen idgen.Generator) ServiceOption {
	return func(s *Service) { s.newID = gen }
}

// NewService creates the orchestrator.
func NewService(scraper Scraper, store *Store, cfg Config, logger *slog.Logger, opts ...ServiceOption) *Service {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		scraper:   scraper,
		store:     store,
		cache:     NewMemoryCache(),
		alerter:   NopAlerter{},
		validator: NewValidator(cfg.Thresholds),
		config:    cfg,
		logger:    logger,
		newID:     idgen.New,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Validator exposes the service's validator (read-only, for diagnostics).
func (s *Service) Validator() *Validator { return s.validator }

// ScrapeAndStore runs one ingestion cycle for a post.
//
// A scrape failure is recoverable and comes back as Success=false with a
// nil error — the scheduler retries next cycle. A persistence failure is
// structural and returned as an error. Cache reads and writes are advisory
// and can never block ingestion.
func (s *Service) ScrapeAndStore(ctx context.Context, post TrackedPost, phase string) (*CollectResult, error) {
	started := s.now()

	// 1. Hourly dedupe: a snapshot already collected this hour short-circuits.
	if cached := s.cache.Get(post.PostID, started); cached != nil {
		s.logCollection(ctx, post.PostID, phase, StatusCached, cached.Confidence, "", s.now().Sub(started))
		return &CollectResult{Success: true, Cached: true, Snapshot: cached}, nil
	}

	// 2. Scrape.
	m, err := s.scraper.Collect(ctx, post.PostID)
	if err != nil {
		s.logger.Warn("telemetry: scrape failed", "post_id", post.PostID, "error", err)
		s.logCollection(ctx, post.PostID, phase, StatusScrapeFailed, 0, err.Error(), s.now().Sub(started))
		return &CollectResult{Success: false, Err: err.Error()}, nil
	}

	// 3. Historical context; missing context is neutral, never fatal.
	prev, err := s.store.LatestSnapshot(ctx, post.PostID)
	if err != nil {
		s.logger.Debug("telemetry: previous snapshot lookup failed", "post_id", post.PostID, "error", err)
		prev = nil
	}
	avg, err := s.store.AccountAvgEngagement(ctx, post.AccountID, started.Add(-s.config.HistoryWindow).UnixMilli())
	if err != nil {
		s.logger.Debug("telemetry: avg engagement lookup failed", "account_id", post.AccountID, "error", err)
		avg = 0
	}

	// 4. Validate.
	res := s.validator.Validate(m, ValidationContext{
		FollowerCount: post.FollowerCount,
		AvgEngagement: avg,
		Previous:      prev,
		ObservedAt:    started.UnixMilli(),
	})

	// 5. Diagnostic side-channel, best-effort.
	if res.ShouldAlert {
		s.raiseAlert(ctx, post.PostID, phase, m, &res)
	}

	result := &CollectResult{Success: true, Validation: &res}

	// 6. Conditional persist. Persistence failure surfaces to the caller
	// but leaves cache and reward state untouched (persist happens first).
	if res.ShouldStore {
		snap := &MetricSnapshot{
			ID:             s.newID(),
			PostID:         post.PostID,
			AccountID:      post.AccountID,
			Phase:          phase,
			CollectedAt:    started.UnixMilli(),
			Likes:          m.Likes,
			Retweets:       m.Retweets,
			Replies:        m.Replies,
			Quotes:         m.Quotes,
			Bookmarks:      m.Bookmarks,
			Views:          m.Views,
			EngagementRate: m.EngagementRate(),
			Confidence:     res.Confidence,
			Anomalies:      res.Anomalies,
			Warnings:       res.Warnings,
			IsVerified:     res.IsValid && res.Confidence >= s.config.Thresholds.CacheConfidence,
		}
		if err := s.store.UpsertSnapshot(ctx, snap); err != nil {
			s.logger.Error("telemetry: persist snapshot", "post_id", post.PostID, "error", err)
			result.Success = false
			result.Err = err.Error()
			return result, fmt.Errorf("telemetry: persist snapshot %s: %w", post.PostID, err)
		}
		result.Snapshot = snap
		s.logCollection(ctx, post.PostID, phase, StatusStored, res.Confidence, "", s.now().Sub(started))

		// 7. Seed the dedupe cache only with high-confidence valid data.
		if res.IsValid && res.Confidence >= s.config.Thresholds.CacheConfidence {
			s.cache.Put(post.PostID, started, snap)
		}
		return result, nil
	}

	s.logCollection(ctx, post.PostID, phase, StatusRejected, res.Confidence, "", s.now().Sub(started))
	return result, nil
}

// raiseAlert captures evidence and delivers the alert. Both steps are
// best-effort: a broken capture or sink must not fail ingestion.
func (s *Service) raiseAlert(ctx context.Context, postID, phase string, m *RawMeasurement, res *ValidationResult) {
	alertCtx, cancel := context.WithTimeout(ctx, s.config.AlertTimeout)
	defer cancel()

	evidence, err := s.scraper.CaptureEvidence(alertCtx, postID)
	if err != nil {
		s.logger.Warn("telemetry: evidence capture failed", "post_id", postID, "error", err)
	}

	alert := &Alert{
		PostID:      postID,
		Phase:       phase,
		Measurement: m,
		Anomalies:   res.Anomalies,
		Confidence:  res.Confidence,
		RaisedAt:    s.now().UnixMilli(),
		Evidence:    evidence,
	}
	if err := s.alerter.Send(alertCtx, alert); err != nil {
		s.logger.Warn("telemetry: alert delivery failed", "post_id", postID, "error", err)
	}
}

func (s *Service) logCollection(ctx context.Context, postID, phase, status string, confidence float64, errMsg string, d time.Duration) {
	if err := s.store.RecordCollection(ctx, s.newID(), postID, phase, status, confidence, errMsg, d); err != nil {
		s.logger.Debug("telemetry: collection log write failed", "post_id", postID, "error", err)
	}
}

// Stats reports aggregate ingestion health since the given time.
func (s *Service) Stats(ctx context.Context, since time.Time) (*HealthStats, error) {
	return s.store.Stats(ctx, since.UnixMilli())
}
