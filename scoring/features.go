// CLAUDE:SUMMARY Feature scores — engagement velocity, author influence, recency; pure and defensive.
package scoring

import (
	"math"
	"time"
)

// Feature tuning constants. These normalize raw counters into [0,1]; they
// are scale anchors, not physical limits.
const (
	// likesPerMinuteCap saturates engagement velocity: 10 likes/minute
	// sustained scores 1.0.
	likesPerMinuteCap = 10.0

	// engagementRateCap saturates the rate-based velocity fallback: a 5%
	// engagement rate scores 1.0.
	engagementRateCap = 0.05

	// followerLogScale normalizes author influence: log10 of followers
	// divided by 6, so 1M followers scores 1.0.
	followerLogScale = 6.0

	// likesLogScale normalizes the like-count influence proxy: 10k likes
	// scores 1.0.
	likesLogScale = 4.0

	neutralVelocity  = 0.3
	neutralInfluence = 0.2
	neutralRecency   = 0.9
	neutralTopicFit  = 0.5
)

// engagementVelocity scores how fast a candidate is accumulating likes.
// Preference order: likes-per-minute when timing is known, engagement rate
// when counters allow it, neutral otherwise.
func engagementVelocity(c *Candidate, now time.Time) float64 {
	if age := c.age(now); age >= 0 && c.Likes != nil {
		elapsedMin := math.Max(1, age.Minutes())
		perMin := float64(*c.Likes) / elapsedMin
		return math.Min(1, perMin/likesPerMinuteCap)
	}
	if c.Likes != nil && c.Views != nil && *c.Views > 0 {
		rate := float64(*c.Likes+val(c.Retweets)+val(c.Replies)) / float64(*c.Views)
		return math.Min(1, rate/engagementRateCap)
	}
	return neutralVelocity
}

// authorInfluence scores the author's reach on a log scale. Falls back to a
// like-count proxy when the follower count is unknown.
func authorInfluence(c *Candidate) float64 {
	if c.AuthorFollowers != nil {
		f := math.Max(1, float64(*c.AuthorFollowers))
		return math.Min(1, math.Log10(f)/followerLogScale)
	}
	if c.Likes != nil {
		l := math.Max(1, float64(*c.Likes))
		return math.Min(1, math.Log10(l)/likesLogScale)
	}
	return neutralInfluence
}

// recency decays linearly from 1.0 at post time to 0.0 at maxAge. Unknown
// timestamps score 0.9 on the assumption the candidate was just scraped.
func recency(c *Candidate, now time.Time, maxAge time.Duration) float64 {
	age := c.age(now)
	if age < 0 {
		return neutralRecency
	}
	if age >= maxAge {
		return 0
	}
	return 1 - age.Seconds()/maxAge.Seconds()
}

func val(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
