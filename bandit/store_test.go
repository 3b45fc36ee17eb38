package bandit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/pulse/dbopen"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *RewardStore {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewRewardStore(db)
}

func TestRewardStore_RecordAggregates(t *testing.T) {
	// WHAT: Repeated Record calls accumulate sample count and total reward;
	// mean reward is derived from them.
	// WHY: The update rule is the learning signal everything else reads.
	ctx := context.Background()
	s := newTestStore(t)

	for _, r := range []float64{1.0, 0.5, 0.0} {
		if err := s.Record(ctx, "reply-guy", 2, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	st, err := s.Stats(ctx, "reply-guy", 2)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st == nil {
		t.Fatal("Stats returned nil for recorded strategy")
	}
	if st.SampleCount != 3 {
		t.Errorf("sample_count = %d, want 3", st.SampleCount)
	}
	if st.TotalReward != 1.5 {
		t.Errorf("total_reward = %v, want 1.5", st.TotalReward)
	}
	if st.MeanReward != 0.5 {
		t.Errorf("mean_reward = %v, want 0.5", st.MeanReward)
	}
}

func TestRewardStore_StatsMissingIsNil(t *testing.T) {
	// WHAT: An unrewarded strategy yields (nil, nil), not an error.
	s := newTestStore(t)
	st, err := s.Stats(context.Background(), "never-seen", 1)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st != nil {
		t.Errorf("Stats = %+v, want nil", st)
	}
}

func TestRewardStore_ConcurrentIncrements(t *testing.T) {
	// WHAT: Concurrent Record calls for the same key lose no updates.
	// WHY: Reward recording happens from parallel decision workers; the
	// increment is a single SQL upsert so it must stay exact.
	ctx := context.Background()
	s := newTestStore(t)

	const workers, perWorker = 10, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := s.Record(ctx, "hot-key", 1, 1.0); err != nil {
					t.Errorf("Record: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	st, err := s.Stats(ctx, "hot-key", 1)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.SampleCount != workers*perWorker {
		t.Errorf("sample_count = %d, want %d", st.SampleCount, workers*perWorker)
	}
	if st.TotalReward != float64(workers*perWorker) {
		t.Errorf("total_reward = %v, want %d", st.TotalReward, workers*perWorker)
	}
}

func TestRewardStore_ByMeanReward(t *testing.T) {
	// WHAT: ByMeanReward filters by minimum samples and sorts by mean
	// descending.
	ctx := context.Background()
	s := newTestStore(t)

	seed := func(id string, n int, reward float64) {
		for i := 0; i < n; i++ {
			if err := s.Record(ctx, id, 1, reward); err != nil {
				t.Fatalf("Record %s: %v", id, err)
			}
		}
	}
	seed("strong", 20, 0.9)
	seed("weak", 20, 0.1)
	seed("young", 3, 1.0) // highest mean but too few samples

	ranked, err := s.ByMeanReward(ctx, 10)
	if err != nil {
		t.Fatalf("ByMeanReward: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("len = %d, want 2 (young filtered out)", len(ranked))
	}
	if ranked[0].StrategyID != "strong" || ranked[1].StrategyID != "weak" {
		t.Errorf("order = [%s, %s], want [strong, weak]", ranked[0].StrategyID, ranked[1].StrategyID)
	}
}

func TestRewardStore_OutcomesSince(t *testing.T) {
	// WHAT: OutcomesSince returns only rows inside the window, oldest
	// first.
	// WHY: The policy updater trains on exactly the trailing 7 days.
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UnixMilli()
	day := int64(24 * time.Hour / time.Millisecond)
	for i, age := range []int64{10 * day, 3 * day, 1 * day} {
		o := &Outcome{
			ID:         fmt.Sprintf("o%d", i),
			StrategyID: "s", TemplateID: "t", PromptVersion: "v1",
			Reward:    0.5,
			DecidedAt: now - age,
		}
		if err := s.RecordOutcome(ctx, o); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	got, err := s.OutcomesSince(ctx, now-7*day)
	if err != nil {
		t.Fatalf("OutcomesSince: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (10-day-old row excluded)", len(got))
	}
	if got[0].ID != "o1" || got[1].ID != "o2" {
		t.Errorf("order = [%s, %s], want [o1, o2]", got[0].ID, got[1].ID)
	}
}
