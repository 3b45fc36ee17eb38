package policy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/hazyhaar/pulse/bandit"
	"github.com/hazyhaar/pulse/dbopen"
	_ "modernc.org/sqlite"
)

func newTestUpdater(t *testing.T, cfg UpdaterConfig) (*Updater, *Store, *bandit.RewardStore) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema), dbopen.WithSchema(bandit.Schema))
	cfg.Logger = slog.New(slog.DiscardHandler)
	store := NewStore(db)
	rewards := bandit.NewRewardStore(db)
	return NewUpdater(cfg, store, rewards), store, rewards
}

var outcomeSeq int

func seedOutcomes(t *testing.T, rewards *bandit.RewardStore, template, version string, n int, reward float64) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		outcomeSeq++
		err := rewards.RecordOutcome(ctx, &bandit.Outcome{
			ID:            fmt.Sprintf("out_%d", outcomeSeq),
			StrategyID:    template,
			TemplateID:    template,
			PromptVersion: version,
			Reward:        reward,
			DecidedAt:     time.Now().Add(-time.Hour).UnixMilli(),
		})
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
}

func TestRun_NoOutcomesIsNoop(t *testing.T) {
	// WHAT: An empty window returns an unchanged report and writes
	// nothing.
	u, store, _ := newTestUpdater(t, UpdaterConfig{})
	report, err := u.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Updated {
		t.Error("Updated = true with no outcomes")
	}
	if st, _ := store.Active(context.Background()); st != nil {
		t.Errorf("state written despite empty window: %+v", st)
	}
}

func TestRun_WeightsFollowRelativePerformance(t *testing.T) {
	// WHAT: Templates above the overall mean gain weight, templates below
	// lose it, proportionally.
	u, store, rewards := newTestUpdater(t, UpdaterConfig{})
	seedOutcomes(t, rewards, "strong", "v1", 10, 0.9)
	seedOutcomes(t, rewards, "weak", "v1", 10, 0.3)

	report, err := u.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Updated {
		t.Fatal("Updated = false")
	}

	st, err := store.Active(context.Background())
	if err != nil || st == nil {
		t.Fatalf("Active: %v, %+v", err, st)
	}
	// Overall mean 0.6: strong is 1.5x, weak 0.5x.
	if w := st.TemplateWeights["strong"]; math.Abs(w-1.5) > 1e-9 {
		t.Errorf("strong weight = %v, want 1.5", w)
	}
	if w := st.TemplateWeights["weak"]; math.Abs(w-0.5) > 1e-9 {
		t.Errorf("weak weight = %v, want 0.5", w)
	}
}

func TestRun_NormalizationProperty(t *testing.T) {
	// WHAT: After an update, template weights average 1.0 within floating
	// point tolerance and every weight stays in [0.5, 2.0], even when the
	// raw performance ratios are extreme.
	u, _, rewards := newTestUpdater(t, UpdaterConfig{})
	seedOutcomes(t, rewards, "viral", "v1", 10, 1.0)
	seedOutcomes(t, rewards, "dud", "v1", 10, 0.01)
	seedOutcomes(t, rewards, "mid", "v1", 10, 0.5)

	report, err := u.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	weights := report.After.TemplateWeights
	var sum float64
	for id, w := range weights {
		if w < 0.5-1e-9 || w > 2.0+1e-9 {
			t.Errorf("weight[%s] = %v out of [0.5, 2.0]", id, w)
		}
		sum += w
	}
	mean := sum / float64(len(weights))
	if math.Abs(mean-1.0) > 1e-9 {
		t.Errorf("mean weight = %v, want 1.0", mean)
	}
}

func TestRun_NestedPromptVersionWeights(t *testing.T) {
	// WHAT: Prompt versions are normalized against their own template's
	// mean, independent of other templates.
	u, _, rewards := newTestUpdater(t, UpdaterConfig{})
	seedOutcomes(t, rewards, "tmpl", "v1", 5, 0.8)
	seedOutcomes(t, rewards, "tmpl", "v2", 5, 0.4)

	report, err := u.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	vw := report.After.PromptVersionWeights["tmpl"]
	if vw == nil {
		t.Fatal("no prompt version weights for tmpl")
	}
	// Template mean 0.6: v1 is 4/3x, v2 is 2/3x.
	if math.Abs(vw["v1"]-4.0/3.0) > 1e-9 || math.Abs(vw["v2"]-2.0/3.0) > 1e-9 {
		t.Errorf("version weights = %v, want v1=1.333 v2=0.667", vw)
	}
}

func TestRun_MergePreservesAbsentTemplates(t *testing.T) {
	// WHAT: Templates with no outcomes this window keep their previous
	// weight instead of being dropped or reset.
	u, store, rewards := newTestUpdater(t, UpdaterConfig{})

	prev := DefaultState()
	prev.ID = "cps_prev"
	prev.TemplateWeights = map[string]float64{"dormant": 1.3}
	if err := store.Transition(context.Background(), prev); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	seedOutcomes(t, rewards, "fresh", "v1", 10, 0.5)
	report, err := u.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	weights := report.After.TemplateWeights
	if weights["dormant"] != 1.3 {
		t.Errorf("dormant weight = %v, want preserved 1.3", weights["dormant"])
	}
	if _, ok := weights["fresh"]; !ok {
		t.Error("fresh template missing from merged weights")
	}
}

func TestRun_ThresholdNudges(t *testing.T) {
	// WHAT: The acceptance threshold moves one step per run, up on high
	// average reward, down on low, clamped at the band edges.
	cases := []struct {
		name      string
		reward    float64
		prevThr   float64
		wantAfter float64
	}{
		{"high reward raises", 0.9, 0.5, 0.51},
		{"low reward lowers", 0.1, 0.5, 0.49},
		{"mid reward holds", 0.5, 0.5, 0.5},
		{"clamped at floor", 0.1, 0.3, 0.3},
		{"clamped at ceiling", 0.9, 0.9, 0.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, store, rewards := newTestUpdater(t, UpdaterConfig{})
			prev := DefaultState()
			prev.ID = "cps_prev"
			prev.AcceptanceThreshold = tc.prevThr
			if err := store.Transition(context.Background(), prev); err != nil {
				t.Fatalf("Transition: %v", err)
			}
			seedOutcomes(t, rewards, "t", "v1", 10, tc.reward)

			report, err := u.Run(context.Background(), false)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := report.After.AcceptanceThreshold; math.Abs(got-tc.wantAfter) > 1e-9 {
				t.Errorf("threshold = %v, want %v", got, tc.wantAfter)
			}
		})
	}
}

func TestRun_ExplorationRateClamped(t *testing.T) {
	// WHAT: An out-of-band exploration rate is pulled back into
	// [0.05, 0.15] during the update.
	u, store, rewards := newTestUpdater(t, UpdaterConfig{})
	prev := DefaultState()
	prev.ID = "cps_prev"
	prev.ExplorationRate = 0.5
	if err := store.Transition(context.Background(), prev); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	seedOutcomes(t, rewards, "t", "v1", 10, 0.5)

	report, err := u.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.After.ExplorationRate != 0.15 {
		t.Errorf("exploration rate = %v, want clamped 0.15", report.After.ExplorationRate)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	// WHAT: dry_run computes the full before/after without committing.
	// WHY: Operators inspect a would-be update before trusting it.
	u, store, rewards := newTestUpdater(t, UpdaterConfig{})
	seedOutcomes(t, rewards, "strong", "v1", 10, 0.9)
	seedOutcomes(t, rewards, "weak", "v1", 10, 0.3)

	report, err := u.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Updated || !report.DryRun {
		t.Errorf("report flags = updated:%v dry:%v, want false/true", report.Updated, report.DryRun)
	}
	if report.After == nil || report.After.TemplateWeights["strong"] == 0 {
		t.Error("dry run did not compute the would-be state")
	}
	if st, _ := store.Active(context.Background()); st != nil {
		t.Errorf("dry run wrote state: %+v", st)
	}
}
