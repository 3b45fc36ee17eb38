// CLAUDE:SUMMARY Typed records for engagement telemetry: raw measurements, snapshots, validation results, tracked posts.
package telemetry

import "time"

// RawMeasurement is one best-effort scrape of a post's public counters.
// Nil fields were not visible on the page; zero is a real observed zero.
type RawMeasurement struct {
	Likes     *int64 `json:"likes"`
	Retweets  *int64 `json:"retweets"`
	Replies   *int64 `json:"replies"`
	Quotes    *int64 `json:"quotes"`
	Bookmarks *int64 `json:"bookmarks"`
	Views     *int64 `json:"views"`
}

// Empty reports whether the scrape produced no counters at all.
func (m *RawMeasurement) Empty() bool {
	return m.Likes == nil && m.Retweets == nil && m.Replies == nil &&
		m.Quotes == nil && m.Bookmarks == nil && m.Views == nil
}

// EngagementRate derives (likes+retweets+replies)/views with a safe
// denominator of at least 1.
func (m *RawMeasurement) EngagementRate() float64 {
	total := float64(val(m.Likes) + val(m.Retweets) + val(m.Replies))
	denom := float64(val(m.Views))
	if denom < 1 {
		denom = 1
	}
	return total / denom
}

// val dereferences an optional counter, treating nil as 0.
func val(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// MetricSnapshot is one validated observation of a post's engagement,
// superseded (never deleted) by later snapshots for the same key.
type MetricSnapshot struct {
	ID          string
	PostID      string
	AccountID   string
	Phase       string // collection phase name, e.g. "1h", "24h"
	CollectedAt int64  // ms since epoch

	Likes     *int64
	Retweets  *int64
	Replies   *int64
	Quotes    *int64
	Bookmarks *int64
	Views     *int64

	EngagementRate float64
	Confidence     float64
	Anomalies      []string
	Warnings       []string
	IsVerified     bool
}

// Measurement re-assembles the raw counter tuple from a stored snapshot,
// used as "previous metrics" context on the next validation pass.
func (s *MetricSnapshot) Measurement() *RawMeasurement {
	return &RawMeasurement{
		Likes:     s.Likes,
		Retweets:  s.Retweets,
		Replies:   s.Replies,
		Quotes:    s.Quotes,
		Bookmarks: s.Bookmarks,
		Views:     s.Views,
	}
}

// ValidationContext supplies the optional historical context a validation
// pass can use. Zero values mean "unknown" and disable the dependent checks.
type ValidationContext struct {
	// FollowerCount of the posting account, 0 if unknown.
	FollowerCount int64
	// AvgEngagement is the account's trailing average of
	// likes+retweets+replies per post, 0 if unknown.
	AvgEngagement float64
	// Previous is the last stored snapshot for this post, nil if none.
	Previous *MetricSnapshot
	// ObservedAt is when the candidate measurement was taken (ms since
	// epoch). Spike-rate math uses it against Previous.CollectedAt; when 0
	// the elapsed time is floored to one minute.
	ObservedAt int64
}

// ValidationResult is the ephemeral outcome of one validation pass. It is
// not persisted as its own entity; its confidence and anomaly lists are
// folded into the stored MetricSnapshot.
type ValidationResult struct {
	// IsValid is the AND of all executed checks.
	IsValid bool
	// Confidence is the arithmetic mean of the executed checks' confidences.
	Confidence float64
	// Anomalies are hard findings: any one of them fails validation.
	Anomalies []string
	// Warnings are soft findings: reported but never fail validation.
	Warnings []string
	// ShouldStore recommends persisting the snapshot anyway.
	ShouldStore bool
	// ShouldAlert recommends raising a diagnostic alert.
	ShouldAlert bool
}

// TrackedPost is one published post the collector watches. The post
// inventory itself lives outside this subsystem; a PostLister callback
// supplies it.
type TrackedPost struct {
	PostID        string
	AccountID     string
	FollowerCount int64
	PostedAt      time.Time
}

// CollectResult is the outcome of one ScrapeAndStore invocation.
type CollectResult struct {
	Success    bool
	Cached     bool
	Snapshot   *MetricSnapshot
	Validation *ValidationResult
	Err        string
}
