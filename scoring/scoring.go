// CLAUDE:SUMMARY Candidate Scorer — parallel weighted feature scoring, topic-fit embeddings, top-K.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/pulse/embeddings"
)

// minTopicTextLen is the shortest text worth embedding. Anything shorter
// carries no topical signal and gets the neutral fallback.
const minTopicTextLen = 8

// Config configures the Scorer.
type Config struct {
	// Weights mix the four component scores. Must sum to 1.0.
	Weights Weights `yaml:"weights"`

	// TopK truncates the ranked output. Default: 10.
	TopK int `yaml:"top_k"`

	// MaxAge is the recency decay horizon: a candidate this old scores
	// zero recency. Default: 24h.
	MaxAge time.Duration `yaml:"max_age"`

	// TopicAnchors are the reference texts candidates are matched against
	// for topic fit. Empty disables topic fit (neutral fallback).
	TopicAnchors []string `yaml:"topic_anchors"`

	// Logger for scoring diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scorer ranks candidates. Safe for concurrent use; the anchor embedding
// cache is computed once on first use.
type Scorer struct {
	cfg      Config
	embedder embeddings.Embedder
	clock    func() time.Time

	anchorOnce sync.Once
	anchorVecs [][]float32
	anchorErr  error
}

// Option customizes a Scorer.
type Option func(*Scorer)

// WithClock overrides the time source. Tests use this to pin "now".
func WithClock(clock func() time.Time) Option {
	return func(s *Scorer) { s.clock = clock }
}

// New creates a Scorer. A nil embedder disables topic fit.
func New(cfg Config, embedder embeddings.Embedder, opts ...Option) (*Scorer, error) {
	cfg.defaults()
	if sum := cfg.Weights.Sum(); math.Abs(sum-1.0) > 1e-9 {
		return nil, fmt.Errorf("scoring: weights sum to %.4f, want 1.0", sum)
	}
	if embedder == nil {
		embedder = embeddings.New(embeddings.Config{})
	}
	s := &Scorer{
		cfg:      cfg,
		embedder: embedder,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Score computes the weighted score for every candidate, in parallel, and
// returns them sorted by total score descending, truncated to TopK.
//
// Candidates never share mutable state during scoring; the only remote call
// is the optional topic-fit embedding, and any embedding failure downgrades
// that candidate to the neutral fallback with a single warning for the
// whole batch.
func (s *Scorer) Score(ctx context.Context, candidates []Candidate) []ScoredCandidate {
	if len(candidates) == 0 {
		return nil
	}
	now := s.clock()

	// One warning per batch regardless of how many candidates hit the
	// embedding fallback.
	var warnOnce sync.Once
	warn := func(err error) {
		warnOnce.Do(func() {
			s.cfg.Logger.Warn("topic fit degraded to neutral fallback", "error", err)
		})
	}

	scored := make([]ScoredCandidate, len(candidates))
	var wg sync.WaitGroup
	for i := range candidates {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scored[i] = s.scoreOne(ctx, &candidates[i], now, warn)
		}(i)
	}
	wg.Wait()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].TotalScore > scored[j].TotalScore
	})
	if len(scored) > s.cfg.TopK {
		scored = scored[:s.cfg.TopK]
	}
	return scored
}

func (s *Scorer) scoreOne(ctx context.Context, c *Candidate, now time.Time, warn func(error)) ScoredCandidate {
	fit, fallback := s.topicFit(ctx, c.Text, warn)
	comp := Components{
		TopicFit:           fit,
		EngagementVelocity: engagementVelocity(c, now),
		AuthorInfluence:    authorInfluence(c),
		Recency:            recency(c, now, s.cfg.MaxAge),
		FallbackUsed:       fallback,
	}
	return ScoredCandidate{
		Candidate:  *c,
		Components: comp,
		TotalScore: s.cfg.Weights.apply(comp),
	}
}

// topicFit returns the best cosine similarity between the candidate text
// and the anchor set, clamped to [0,1]. The second return reports whether
// the neutral fallback was used instead of a real similarity.
func (s *Scorer) topicFit(ctx context.Context, text string, warn func(error)) (float64, bool) {
	text = strings.TrimSpace(text)
	if len(text) < minTopicTextLen || len(s.cfg.TopicAnchors) == 0 || !s.embedder.Enabled() {
		return neutralTopicFit, true
	}

	anchors, err := s.anchorVectors(ctx)
	if err != nil {
		warn(err)
		return neutralTopicFit, true
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		warn(err)
		return neutralTopicFit, true
	}

	best := 0.0
	for _, a := range anchors {
		if sim := embeddings.CosineSimilarity(vec, a); sim > best {
			best = sim
		}
	}
	return math.Min(1, math.Max(0, best)), false
}

// anchorVectors embeds the configured anchors once and caches the result.
// An error is cached too: a dead embedding server should not be retried on
// every candidate of every batch.
func (s *Scorer) anchorVectors(ctx context.Context) ([][]float32, error) {
	s.anchorOnce.Do(func() {
		vecs, err := s.embedder.EmbedBatch(ctx, s.cfg.TopicAnchors)
		if err != nil {
			s.anchorErr = fmt.Errorf("embed topic anchors: %w", err)
			return
		}
		s.anchorVecs = vecs
	})
	return s.anchorVecs, s.anchorErr
}
