// CLAUDE:SUMMARY Engagement Validator — four independent plausibility checks folded into one confidence score.
package telemetry

import (
	"fmt"
)

// Thresholds are the empirically chosen plausibility bounds. They are
// configuration defaults to be tuned, not physical constants.
type Thresholds struct {
	// MaxLikesPerFollower caps likes at N× the account's followers.
	MaxLikesPerFollower float64 `yaml:"max_likes_per_follower"`
	// MaxEngagementRate caps likes/views.
	MaxEngagementRate float64 `yaml:"max_engagement_rate"`
	// MaxRetweetsPerLike caps retweets at N× likes.
	MaxRetweetsPerLike float64 `yaml:"max_retweets_per_like"`
	// MaxLikesPerMinute bounds like growth between snapshots.
	MaxLikesPerMinute float64 `yaml:"max_likes_per_minute"`
	// MaxQuotesPerRetweet caps quote tweets at N× retweets.
	MaxQuotesPerRetweet float64 `yaml:"max_quotes_per_retweet"`
	// MaxBookmarksPerLike caps bookmarks at N× likes.
	MaxBookmarksPerLike float64 `yaml:"max_bookmarks_per_like"`
	// ReplyWarnRatio and ReplyWarnMinLikes flag reply-heavy posts (soft).
	ReplyWarnRatio    float64 `yaml:"reply_warn_ratio"`
	ReplyWarnMinLikes int64   `yaml:"reply_warn_min_likes"`
	// MaxHistoricalMultiplier bounds engagement vs the account average (soft).
	MaxHistoricalMultiplier float64 `yaml:"max_historical_multiplier"`

	// StoreConfidence is the minimum confidence to persist an invalid result.
	StoreConfidence float64 `yaml:"store_confidence"`
	// AlertConfidence: invalid results below it raise a diagnostic alert.
	AlertConfidence float64 `yaml:"alert_confidence"`
	// CacheConfidence is the minimum confidence to seed the dedupe cache.
	CacheConfidence float64 `yaml:"cache_confidence"`
}

func (t *Thresholds) defaults() {
	if t.MaxLikesPerFollower <= 0 {
		t.MaxLikesPerFollower = 20
	}
	if t.MaxEngagementRate <= 0 {
		t.MaxEngagementRate = 0.5
	}
	if t.MaxRetweetsPerLike <= 0 {
		t.MaxRetweetsPerLike = 3
	}
	if t.MaxLikesPerMinute <= 0 {
		t.MaxLikesPerMinute = 20
	}
	if t.MaxQuotesPerRetweet <= 0 {
		t.MaxQuotesPerRetweet = 2
	}
	if t.MaxBookmarksPerLike <= 0 {
		t.MaxBookmarksPerLike = 2
	}
	if t.ReplyWarnRatio <= 0 {
		t.ReplyWarnRatio = 0.5
	}
	if t.ReplyWarnMinLikes <= 0 {
		t.ReplyWarnMinLikes = 100
	}
	if t.MaxHistoricalMultiplier <= 0 {
		t.MaxHistoricalMultiplier = 50
	}
	if t.StoreConfidence <= 0 {
		t.StoreConfidence = 0.7
	}
	if t.AlertConfidence <= 0 {
		t.AlertConfidence = 0.5
	}
	if t.CacheConfidence <= 0 {
		t.CacheConfidence = 0.8
	}
}

// Validator applies plausibility and consistency rules to scraped
// measurements. It is pure: no I/O, no side effects, safe for concurrent use.
type Validator struct {
	t Thresholds
}

// NewValidator creates a Validator. Zero threshold fields get defaults.
func NewValidator(t Thresholds) *Validator {
	t.defaults()
	return &Validator{t: t}
}

// Thresholds returns the effective (defaulted) thresholds.
func (v *Validator) Thresholds() Thresholds { return v.t }

// checkResult is the outcome of one independent rule check.
// A skipped check (missing context) is excluded from the confidence mean.
type checkResult struct {
	skipped   bool
	anomalies []string
	warnings  []string
}

func (c *checkResult) anomaly(format string, args ...any) {
	c.anomalies = append(c.anomalies, fmt.Sprintf(format, args...))
}

func (c *checkResult) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// confidence maps findings to [0,1]: any hard anomaly zeroes the check,
// each warning costs 0.15 down to a floor of 0.5.
func (c *checkResult) confidence() float64 {
	if len(c.anomalies) > 0 {
		return 0
	}
	conf := 1.0 - 0.15*float64(len(c.warnings))
	if conf < 0.5 {
		conf = 0.5
	}
	return conf
}

// Validate runs all checks on a candidate measurement. It never panics for
// well-formed input; an internal error fails open with confidence 0.5 and
// should_store=true — partial telemetry beats no telemetry.
func (v *Validator) Validate(m *RawMeasurement, vctx ValidationContext) (res ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			res = ValidationResult{
				IsValid:     false,
				Confidence:  0.5,
				Anomalies:   []string{fmt.Sprintf("validator internal error: %v", r)},
				ShouldStore: true,
			}
		}
	}()

	spike := v.checkSuspiciousSpike(m, vctx)
	checks := []checkResult{
		v.checkImpossibleValues(m, vctx),
		spike,
		v.checkMetricRatios(m),
		v.checkHistoricalConsistency(m, vctx),
	}

	res.IsValid = true
	executed := 0
	sum := 0.0
	for _, c := range checks {
		res.Warnings = append(res.Warnings, c.warnings...)
		if c.skipped {
			continue
		}
		executed++
		sum += c.confidence()
		if len(c.anomalies) > 0 {
			res.IsValid = false
			res.Anomalies = append(res.Anomalies, c.anomalies...)
		}
	}
	if executed > 0 {
		res.Confidence = sum / float64(executed)
	} else {
		res.Confidence = 1.0
	}

	// A failed spike/monotonicity check vetoes storage outright, no matter
	// how well the other checks score: stored history must never contain a
	// snapshot whose counters moved backwards or jumped implausibly.
	res.ShouldStore = res.IsValid || (res.Confidence >= v.t.StoreConfidence && len(spike.anomalies) == 0)
	res.ShouldAlert = !res.IsValid && res.Confidence < v.t.AlertConfidence
	return res
}

// checkImpossibleValues flags counter combinations that cannot occur on a
// real post: likes far beyond the follower base, engagement rates above
// what the platform physically delivers, more interactions than views.
func (v *Validator) checkImpossibleValues(m *RawMeasurement, vctx ValidationContext) checkResult {
	var c checkResult

	likes := val(m.Likes)
	if vctx.FollowerCount > 0 && m.Likes != nil {
		limit := v.t.MaxLikesPerFollower * float64(vctx.FollowerCount)
		if float64(likes) > limit {
			c.anomaly("likes %d exceed %.0fx follower count %d",
				likes, v.t.MaxLikesPerFollower, vctx.FollowerCount)
		}
	}

	if m.Views != nil && *m.Views > 0 {
		if rate := float64(likes) / float64(*m.Views); rate > v.t.MaxEngagementRate {
			c.anomaly("like rate %.2f exceeds maximum %.2f of views", rate, v.t.MaxEngagementRate)
		}
		total := likes + val(m.Retweets) + val(m.Replies) + val(m.Bookmarks)
		if total > *m.Views {
			c.anomaly("total engagement %d exceeds views %d", total, *m.Views)
		}
	}

	if m.Retweets != nil && m.Likes != nil && likes > 0 {
		if float64(*m.Retweets) > v.t.MaxRetweetsPerLike*float64(likes) {
			c.anomaly("retweets %d exceed %.0fx likes %d", *m.Retweets, v.t.MaxRetweetsPerLike, likes)
		}
	}

	return c
}

// checkSuspiciousSpike compares against the previous snapshot. Skipped when
// no previous snapshot exists. Counter decreases and like growth beyond the
// configured rate are hard anomalies — this is the monotonicity gate.
func (v *Validator) checkSuspiciousSpike(m *RawMeasurement, vctx ValidationContext) checkResult {
	var c checkResult
	prev := vctx.Previous
	if prev == nil {
		c.skipped = true
		return c
	}

	elapsedMin := float64(vctx.ObservedAt-prev.CollectedAt) / 60_000.0
	if elapsedMin < 1 {
		elapsedMin = 1
	}

	if m.Likes != nil && prev.Likes != nil {
		growth := float64(*m.Likes - *prev.Likes)
		if growth > v.t.MaxLikesPerMinute*elapsedMin {
			c.anomaly("like growth %.0f in %.0f min exceeds realistic rate of %.0f/min",
				growth, elapsedMin, v.t.MaxLikesPerMinute)
		}
	}

	for _, pair := range []struct {
		name string
		cur  *int64
		prev *int64
	}{
		{"likes", m.Likes, prev.Likes},
		{"retweets", m.Retweets, prev.Retweets},
		{"replies", m.Replies, prev.Replies},
		{"bookmarks", m.Bookmarks, prev.Bookmarks},
		{"views", m.Views, prev.Views},
	} {
		if pair.cur != nil && pair.prev != nil && *pair.cur < *pair.prev {
			c.anomaly("%s decreased from %d to %d", pair.name, *pair.prev, *pair.cur)
		}
	}

	return c
}

// checkMetricRatios flags implausible relationships between secondary
// counters. The reply-heavy case is a soft warning only: controversial
// posts genuinely attract reply storms.
func (v *Validator) checkMetricRatios(m *RawMeasurement) checkResult {
	var c checkResult

	if m.Quotes != nil && m.Retweets != nil && *m.Retweets > 0 {
		if float64(*m.Quotes) > v.t.MaxQuotesPerRetweet*float64(*m.Retweets) {
			c.anomaly("quotes %d exceed %.0fx retweets %d", *m.Quotes, v.t.MaxQuotesPerRetweet, *m.Retweets)
		}
	}

	if m.Bookmarks != nil && m.Likes != nil && *m.Likes > 0 {
		if float64(*m.Bookmarks) > v.t.MaxBookmarksPerLike*float64(*m.Likes) {
			c.anomaly("bookmarks %d exceed %.0fx likes %d", *m.Bookmarks, v.t.MaxBookmarksPerLike, *m.Likes)
		}
	}

	if m.Replies != nil && m.Likes != nil && *m.Likes > v.t.ReplyWarnMinLikes {
		if float64(*m.Replies) > v.t.ReplyWarnRatio*float64(*m.Likes) {
			c.warn("unusually high reply ratio %d/%d may indicate a reply storm",
				*m.Replies, *m.Likes)
		}
	}

	return c
}

// checkHistoricalConsistency compares against the account's trailing
// average. Skipped when no average is known. Exceeding the multiplier is a
// soft warning, not a hard failure — genuine virality can blow past it.
func (v *Validator) checkHistoricalConsistency(m *RawMeasurement, vctx ValidationContext) checkResult {
	var c checkResult
	if vctx.AvgEngagement <= 0 {
		c.skipped = true
		return c
	}

	current := float64(val(m.Likes) + val(m.Retweets) + val(m.Replies))
	if current > v.t.MaxHistoricalMultiplier*vctx.AvgEngagement {
		c.warn("engagement %.0f is unusually high vs account average %.1f (%.0fx limit)",
			current, vctx.AvgEngagement, v.t.MaxHistoricalMultiplier)
	}

	return c
}
