// CLAUDE:SUMMARY Candidate scoring types — Candidate, Components, ScoredCandidate, Weights.
// Package scoring ranks engagement candidates by a weighted combination of
// four independent feature scores: topic fit (embedding similarity against a
// set of anchor texts), engagement velocity, author influence, and recency.
//
// Every feature is defensive about missing inputs: a candidate with no text,
// no timestamps and no counters still scores, just on neutral defaults. The
// only network dependency is the optional embedding call behind topic fit,
// and it degrades to a neutral score on any failure.
package scoring

import "time"

// Candidate is one targeting/engagement opportunity to rank. Counter fields
// are pointers so "not scraped" stays distinguishable from zero.
type Candidate struct {
	ID              string `json:"candidate_id"`
	StrategyID      string `json:"strategy_id"`
	StrategyVersion int    `json:"strategy_version"`

	// Text is the candidate's tweet text, used for topic fit.
	Text string `json:"text,omitempty"`

	AuthorFollowers *int64 `json:"author_followers,omitempty"`
	Likes           *int64 `json:"likes,omitempty"`
	Retweets        *int64 `json:"retweets,omitempty"`
	Replies         *int64 `json:"replies,omitempty"`
	Views           *int64 `json:"views,omitempty"`

	// PostedAt is the publication time in Unix milliseconds. Zero means
	// unknown.
	PostedAt int64 `json:"posted_at,omitempty"`

	EligibilityReason string `json:"eligibility_reason,omitempty"`
}

// Components is the per-feature score breakdown, each in [0,1].
type Components struct {
	TopicFit           float64 `json:"topic_fit"`
	EngagementVelocity float64 `json:"engagement_velocity"`
	AuthorInfluence    float64 `json:"author_influence"`
	Recency            float64 `json:"recency"`

	// FallbackUsed marks that topic fit came from the neutral fallback
	// (missing text, disabled embeddings, or an embedding error) rather
	// than a real similarity computation.
	FallbackUsed bool `json:"fallback_used,omitempty"`
}

// ScoredCandidate is a Candidate with its computed score breakdown.
type ScoredCandidate struct {
	Candidate
	Components Components `json:"scoring_components"`
	TotalScore float64    `json:"total_score"`
}

// Weights are the mixing coefficients for the four components. They must
// sum to 1.0 so total scores stay in [0,1].
type Weights struct {
	TopicFit           float64 `json:"topic_fit" yaml:"topic_fit"`
	EngagementVelocity float64 `json:"engagement_velocity" yaml:"engagement_velocity"`
	AuthorInfluence    float64 `json:"author_influence" yaml:"author_influence"`
	Recency            float64 `json:"recency" yaml:"recency"`
}

// DefaultWeights returns the default component mix.
func DefaultWeights() Weights {
	return Weights{
		TopicFit:           0.35,
		EngagementVelocity: 0.25,
		AuthorInfluence:    0.20,
		Recency:            0.20,
	}
}

// Sum returns the total of all four weights.
func (w Weights) Sum() float64 {
	return w.TopicFit + w.EngagementVelocity + w.AuthorInfluence + w.Recency
}

// apply computes the weighted total for a component breakdown.
func (w Weights) apply(c Components) float64 {
	return w.TopicFit*c.TopicFit +
		w.EngagementVelocity*c.EngagementVelocity +
		w.AuthorInfluence*c.AuthorInfluence +
		w.Recency*c.Recency
}

// age returns the candidate's age relative to now, or -1 when PostedAt is
// unknown.
func (c *Candidate) age(now time.Time) time.Duration {
	if c.PostedAt <= 0 {
		return -1
	}
	return now.Sub(time.UnixMilli(c.PostedAt))
}
