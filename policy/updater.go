// CLAUDE:SUMMARY Policy Updater — trailing-window reward aggregation, clamped normalized weights, threshold nudging.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hazyhaar/pulse/bandit"
	"github.com/hazyhaar/pulse/idgen"
)

// Weight and threshold bounds. Weights are multipliers around 1.0; the
// threshold moves one small step per run so a single noisy week cannot
// swing acceptance behavior.
const (
	weightMin = 0.5
	weightMax = 2.0

	thresholdStep = 0.01
	thresholdMin  = 0.3
	thresholdMax  = 0.9

	explorationMin = 0.05
	explorationMax = 0.15
)

// UpdaterConfig configures the batch policy update.
type UpdaterConfig struct {
	// Window is how far back decision outcomes are aggregated.
	// Default: 7 days.
	Window time.Duration `yaml:"window"`

	// Interval is the cadence of Loop. Default: 24h.
	Interval time.Duration `yaml:"interval"`

	// HighReward and LowReward bracket the threshold nudge: overall
	// average reward above HighReward raises the acceptance threshold one
	// step, below LowReward lowers it one step. Defaults: 0.7 / 0.3.
	HighReward float64 `yaml:"high_reward"`
	LowReward  float64 `yaml:"low_reward"`

	// UpdatedBy is the provenance tag written to new state rows.
	// Default: "policy-updater".
	UpdatedBy string `yaml:"updated_by"`

	// Logger for update diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

func (c *UpdaterConfig) defaults() {
	if c.Window <= 0 {
		c.Window = 7 * 24 * time.Hour
	}
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.HighReward <= 0 {
		c.HighReward = 0.7
	}
	if c.LowReward <= 0 {
		c.LowReward = 0.3
	}
	if c.UpdatedBy == "" {
		c.UpdatedBy = "policy-updater"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// UpdateStats summarizes what one run saw.
type UpdateStats struct {
	WindowStart      int64   `json:"window_start"`
	Outcomes         int     `json:"outcomes"`
	Templates        int     `json:"templates"`
	OverallAvgReward float64 `json:"overall_avg_reward"`
}

// UpdateReport is the result of one run, dry or committed.
type UpdateReport struct {
	Updated bool               `json:"updated"`
	DryRun  bool               `json:"dry_run"`
	Before  *ControlPlaneState `json:"before"`
	After   *ControlPlaneState `json:"after"`
	Stats   UpdateStats        `json:"stats"`
}

// Updater recomputes the control-plane state from the trailing outcome
// window. It is a single exclusive batch job; Loop never overlaps runs,
// and the transactional Transition keeps a crashed run from leaving two
// active rows.
type Updater struct {
	cfg     UpdaterConfig
	store   *Store
	rewards *bandit.RewardStore
	gen     idgen.Generator
	clock   func() time.Time
}

// UpdaterOption customizes an Updater.
type UpdaterOption func(*Updater)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) UpdaterOption {
	return func(u *Updater) { u.clock = clock }
}

// WithIDGenerator overrides state row ID generation.
func WithIDGenerator(gen idgen.Generator) UpdaterOption {
	return func(u *Updater) { u.gen = gen }
}

// NewUpdater creates the batch updater.
func NewUpdater(cfg UpdaterConfig, store *Store, rewards *bandit.RewardStore, opts ...UpdaterOption) *Updater {
	cfg.defaults()
	u := &Updater{
		cfg:     cfg,
		store:   store,
		rewards: rewards,
		gen:     idgen.Prefixed("cps_", idgen.Default),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Run executes one policy update. With dryRun the would-be before/after is
// computed and returned without writing anything.
//
// Unlike reward recording, failures here are loud: a half-applied policy
// update must surface to the scheduler, not vanish into a warning.
func (u *Updater) Run(ctx context.Context, dryRun bool) (*UpdateReport, error) {
	now := u.clock()
	since := now.Add(-u.cfg.Window).UnixMilli()

	current, err := u.store.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: load active state: %w", err)
	}
	if current == nil {
		current = DefaultState()
	}

	outcomes, err := u.rewards.OutcomesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("policy: load outcome window: %w", err)
	}

	report := &UpdateReport{
		DryRun: dryRun,
		Before: current,
		Stats:  UpdateStats{WindowStart: since, Outcomes: len(outcomes)},
	}
	if len(outcomes) == 0 {
		u.cfg.Logger.Info("policy update skipped, no outcomes in window",
			"window", u.cfg.Window.String())
		report.After = current
		return report, nil
	}

	next := u.compute(current, outcomes, &report.Stats)
	next.ID = u.gen()
	next.EffectiveAt = now.UnixMilli()
	next.UpdatedBy = u.cfg.UpdatedBy
	next.UpdateReason = fmt.Sprintf("retrained from %d outcomes over %s (avg reward %.4f)",
		len(outcomes), u.cfg.Window, report.Stats.OverallAvgReward)
	report.After = next

	if dryRun {
		return report, nil
	}
	if err := u.store.Transition(ctx, next); err != nil {
		return nil, fmt.Errorf("policy: commit new state: %w", err)
	}
	report.Updated = true
	u.cfg.Logger.Info("policy updated",
		"state_id", next.ID,
		"outcomes", len(outcomes),
		"templates", report.Stats.Templates,
		"threshold", next.AcceptanceThreshold)
	return report, nil
}

// Loop runs updates on the configured cadence until ctx is done. Runs are
// strictly sequential.
func (u *Updater) Loop(ctx context.Context) error {
	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := u.Run(ctx, false); err != nil {
				u.cfg.Logger.Error("policy update failed", "error", err)
			}
		}
	}
}

// rewardAgg accumulates reward samples for one grouping key.
type rewardAgg struct {
	count int
	total float64
}

func (a *rewardAgg) mean() float64 {
	if a.count == 0 {
		return 0
	}
	return a.total / float64(a.count)
}

// compute derives the successor state from the outcome window. Pure.
func (u *Updater) compute(current *ControlPlaneState, outcomes []*bandit.Outcome, stats *UpdateStats) *ControlPlaneState {
	next := current.clone()

	overall := &rewardAgg{}
	perTemplate := map[string]*rewardAgg{}
	perVersion := map[string]map[string]*rewardAgg{}
	for _, o := range outcomes {
		overall.count++
		overall.total += o.Reward
		if o.TemplateID == "" {
			continue
		}
		agg := perTemplate[o.TemplateID]
		if agg == nil {
			agg = &rewardAgg{}
			perTemplate[o.TemplateID] = agg
			perVersion[o.TemplateID] = map[string]*rewardAgg{}
		}
		agg.count++
		agg.total += o.Reward
		if o.PromptVersion != "" {
			vagg := perVersion[o.TemplateID][o.PromptVersion]
			if vagg == nil {
				vagg = &rewardAgg{}
				perVersion[o.TemplateID][o.PromptVersion] = vagg
			}
			vagg.count++
			vagg.total += o.Reward
		}
	}
	stats.OverallAvgReward = overall.mean()
	stats.Templates = len(perTemplate)

	// Template weights: relative performance against the overall mean,
	// clamped, then normalized to mean 1.0. Templates absent from this
	// window keep their previous weight.
	computed := map[string]float64{}
	for id, agg := range perTemplate {
		computed[id] = relativeWeight(agg.mean(), stats.OverallAvgReward)
	}
	normalizeWeights(computed)
	for id, w := range computed {
		next.TemplateWeights[id] = w
	}

	// Same shape one level down: prompt versions measured against their
	// template's mean.
	for tid, versions := range perVersion {
		if len(versions) == 0 {
			continue
		}
		tmean := perTemplate[tid].mean()
		vw := map[string]float64{}
		for v, agg := range versions {
			vw[v] = relativeWeight(agg.mean(), tmean)
		}
		normalizeWeights(vw)
		if next.PromptVersionWeights[tid] == nil {
			next.PromptVersionWeights[tid] = map[string]float64{}
		}
		for v, w := range vw {
			next.PromptVersionWeights[tid][v] = w
		}
	}

	next.AcceptanceThreshold = clamp(
		current.AcceptanceThreshold+thresholdDelta(stats.OverallAvgReward, u.cfg.HighReward, u.cfg.LowReward),
		thresholdMin, thresholdMax)
	next.ExplorationRate = clamp(current.ExplorationRate, explorationMin, explorationMax)
	return next
}

// relativeWeight is a template's mean reward relative to the baseline,
// clamped to the allowed multiplier range.
func relativeWeight(mean, baseline float64) float64 {
	if baseline <= 0 {
		return 1.0
	}
	return clamp(mean/baseline, weightMin, weightMax)
}

// thresholdDelta nudges the acceptance threshold one step: up when the
// system is doing well (raise the bar), down when rewards are scarce
// (lower it to gather more signal).
func thresholdDelta(avgReward, high, low float64) float64 {
	switch {
	case avgReward > high:
		return thresholdStep
	case avgReward < low:
		return -thresholdStep
	default:
		return 0
	}
}

// normalizeWeights rescales the map in place so the mean is 1.0 while
// every value stays within [weightMin, weightMax]. Rescaling can push a
// clamped value back out of range, so clamp and rescale alternate until
// the mean settles.
func normalizeWeights(weights map[string]float64) {
	if len(weights) == 0 {
		return
	}
	for iter := 0; iter < 100; iter++ {
		var sum float64
		for _, w := range weights {
			sum += w
		}
		mean := sum / float64(len(weights))
		if math.Abs(mean-1.0) < 1e-12 {
			return
		}
		for k, w := range weights {
			weights[k] = clamp(w/mean, weightMin, weightMax)
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
