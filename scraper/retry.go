// CLAUDE:SUMMARY Bounded retry with jittered exponential backoff, used around every navigation.
package scraper

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how persistently a scrape is retried. Every call site
// goes through the same policy so backoff behavior stays uniform.
type RetryPolicy struct {
	// MaxAttempts including the first try. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay before the second attempt, doubled each retry with up to
	// 50% random jitter added. Default: 500ms.
	BaseDelay time.Duration `yaml:"base_delay"`
}

func (p *RetryPolicy) defaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
}

// do runs fn until it succeeds, attempts run out, or ctx is cancelled.
func (p RetryPolicy) do(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	p.defaults()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.BaseDelay << uint(attempt-1)
		wait += time.Duration(rand.Int64N(int64(wait)/2 + 1))
		logger.Warn("scraper: retrying",
			"op", op, "attempt", attempt, "max_attempts", p.MaxAttempts,
			"backoff", wait.String(), "error", lastErr)
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(wait):
		}
	}
	return lastErr
}
