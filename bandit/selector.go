// CLAUDE:SUMMARY Epsilon-greedy Selector — explore/exploit/fallback strategy choice, never-empty candidate pool.
package bandit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hazyhaar/pulse/scoring"
)

// ErrNoCandidates is returned when Select is called with nothing to choose
// from.
var ErrNoCandidates = errors.New("bandit: no candidates to select from")

// Selection modes.
const (
	ModeExplore = "explore"
	ModeExploit = "exploit"
)

// strategyKey identifies a strategy variant.
type strategyKey struct {
	ID      string
	Version int
}

func (k strategyKey) String() string {
	return fmt.Sprintf("%s/v%d", k.ID, k.Version)
}

// Selection is the outcome of one epsilon-greedy decision. Candidates is
// the subset belonging to the selected strategy; it is never empty — if the
// selected strategy somehow matches nothing, the full input list is
// returned instead.
type Selection struct {
	StrategyID      string                    `json:"strategy_id"`
	StrategyVersion int                       `json:"strategy_version"`
	Mode            string                    `json:"selection_mode"`
	Reason          string                    `json:"reason"`
	Candidates      []scoring.ScoredCandidate `json:"candidates"`
}

// SelectorConfig tunes the explore/exploit balance.
type SelectorConfig struct {
	// Epsilon is the exploration probability. Default: 0.10.
	Epsilon float64 `yaml:"epsilon"`

	// MinSamples is how many reward observations a strategy needs before
	// its mean is trusted for exploitation. Default: 10.
	MinSamples int64 `yaml:"min_samples"`

	// Logger for selection diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

func (c *SelectorConfig) defaults() {
	if c.Epsilon <= 0 {
		c.Epsilon = 0.10
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Selector makes the per-cycle strategy decision. It only reads reward
// state; recording rewards is the caller's job after outcomes land.
type Selector struct {
	cfg     SelectorConfig
	rewards *RewardStore
}

// NewSelector creates a Selector over the given reward store.
func NewSelector(cfg SelectorConfig, rewards *RewardStore) *Selector {
	cfg.defaults()
	return &Selector{cfg: cfg, rewards: rewards}
}

// SelectOptions customizes one Select call.
type SelectOptions struct {
	// Seed, when non-nil, makes the random draws deterministic.
	Seed *int64

	// Epsilon, when non-nil, overrides the configured exploration rate for
	// this call. The policy updater feeds the active control-plane rate
	// through here.
	Epsilon *float64
}

// Select picks which strategy's candidates to act on.
//
// With probability epsilon (and at least two strategies represented) it
// explores uniformly at random. Otherwise it exploits the highest-mean-
// reward strategy that has enough samples and is present among the
// candidates. When no strategy qualifies yet, it falls back to the strategy
// of the single highest-scoring candidate.
func (s *Selector) Select(ctx context.Context, candidates []scoring.ScoredCandidate, opts *SelectOptions) (*Selection, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	if opts == nil {
		opts = &SelectOptions{}
	}

	draw := platformSource()
	if opts.Seed != nil {
		draw = newLCG(*opts.Seed)
	}
	epsilon := s.cfg.Epsilon
	if opts.Epsilon != nil {
		epsilon = *opts.Epsilon
	}

	byStrategy := groupByStrategy(candidates)
	keys := sortedKeys(byStrategy)

	if draw() < epsilon && len(keys) > 1 {
		pick := keys[int(draw()*float64(len(keys)))%len(keys)]
		return s.selection(pick, ModeExplore,
			fmt.Sprintf("exploring %d represented strategies", len(keys)),
			byStrategy, candidates), nil
	}

	// Exploit: best trusted mean reward among represented strategies.
	// A reward store read failure degrades to the cold-start fallback
	// rather than blocking the decision.
	ranked, err := s.rewards.ByMeanReward(ctx, s.cfg.MinSamples)
	if err != nil {
		s.cfg.Logger.Warn("reward stats unavailable, using score fallback", "error", err)
		ranked = nil
	}
	for _, st := range ranked {
		key := strategyKey{ID: st.StrategyID, Version: st.StrategyVersion}
		if _, ok := byStrategy[key]; ok {
			return s.selection(key, ModeExploit,
				fmt.Sprintf("best mean reward %.4f over %d samples", st.MeanReward, st.SampleCount),
				byStrategy, candidates), nil
		}
	}

	// Cold start: nothing has enough samples yet, so trust the scorer.
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.TotalScore > best.TotalScore {
			best = c
		}
	}
	key := strategyKey{ID: best.StrategyID, Version: best.StrategyVersion}
	return s.selection(key, ModeExploit,
		fmt.Sprintf("cold-start fallback to top-scored candidate %s (score %.4f)", best.ID, best.TotalScore),
		byStrategy, candidates), nil
}

// selection builds the result, falling back to the full candidate list if
// the chosen strategy matches nothing.
func (s *Selector) selection(key strategyKey, mode, reason string, byStrategy map[strategyKey][]scoring.ScoredCandidate, all []scoring.ScoredCandidate) *Selection {
	chosen := byStrategy[key]
	if len(chosen) == 0 {
		s.cfg.Logger.Warn("selected strategy matched no candidates, returning full pool",
			"strategy", key.String())
		chosen = all
	}
	return &Selection{
		StrategyID:      key.ID,
		StrategyVersion: key.Version,
		Mode:            mode,
		Reason:          reason,
		Candidates:      chosen,
	}
}

func groupByStrategy(candidates []scoring.ScoredCandidate) map[strategyKey][]scoring.ScoredCandidate {
	out := make(map[strategyKey][]scoring.ScoredCandidate)
	for _, c := range candidates {
		key := strategyKey{ID: c.StrategyID, Version: c.StrategyVersion}
		out[key] = append(out[key], c)
	}
	return out
}

// sortedKeys gives a stable strategy ordering so seeded explore draws are
// reproducible across runs.
func sortedKeys(m map[strategyKey][]scoring.ScoredCandidate) []strategyKey {
	keys := make([]strategyKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ID != keys[j].ID {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].Version < keys[j].Version
	})
	return keys
}
