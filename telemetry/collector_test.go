package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestCollector_DuePhaseProgression(t *testing.T) {
	// WHAT: duePhase picks the newest phase the post has aged into that has
	// no snapshot, and "" once it is covered.
	// WHY: Each lifecycle stage gets exactly one snapshot row.
	scraper := &fakeScraper{m: &RawMeasurement{Likes: i64(10), Views: i64(1000)}}
	svc, st := newTestService(t, scraper)
	ctx := context.Background()

	post := TrackedPost{PostID: "p1", AccountID: "a", PostedAt: time.Now().Add(-7 * time.Hour)}
	c := NewCollector(svc, nil, CollectorConfig{}, testLogger(t))

	if got := c.duePhase(ctx, post); got != "6h" {
		t.Errorf("duePhase = %q, want 6h for a 7-hour-old post", got)
	}

	snap := &MetricSnapshot{ID: "s", PostID: "p1", Phase: "6h", CollectedAt: 1}
	if err := st.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := c.duePhase(ctx, post); got != "" {
		t.Errorf("duePhase = %q, want empty once covered", got)
	}
}

func TestCollector_TooYoungPostNotDue(t *testing.T) {
	// WHAT: A post younger than the first phase offset is never due.
	// WHY: Premature snapshots would waste scrapes on empty counters.
	scraper := &fakeScraper{m: &RawMeasurement{}}
	svc, _ := newTestService(t, scraper)

	post := TrackedPost{PostID: "p1", PostedAt: time.Now().Add(-10 * time.Minute)}
	c := NewCollector(svc, nil, CollectorConfig{}, testLogger(t))

	if got := c.duePhase(context.Background(), post); got != "" {
		t.Errorf("duePhase = %q, want empty for a 10-minute-old post", got)
	}
}

func TestCollector_CollectOncePersistsDuePosts(t *testing.T) {
	// WHAT: One pass collects every due post and stores its snapshot.
	// WHY: The collector is the only driver of routine ingestion.
	scraper := &fakeScraper{m: &RawMeasurement{Likes: i64(10), Views: i64(1000)}}
	svc, st := newTestService(t, scraper)

	posts := []TrackedPost{
		{PostID: "p1", AccountID: "a", PostedAt: time.Now().Add(-2 * time.Hour)},
		{PostID: "p2", AccountID: "a", PostedAt: time.Now().Add(-30 * time.Hour)},
		{PostID: "young", AccountID: "a", PostedAt: time.Now().Add(-5 * time.Minute)},
	}
	list := func(ctx context.Context) ([]TrackedPost, error) { return posts, nil }

	c := NewCollector(svc, list, CollectorConfig{}, testLogger(t))
	c.CollectOnce(context.Background())

	ctx := context.Background()
	if snap, _ := st.GetSnapshot(ctx, "p1", "1h"); snap == nil {
		t.Error("p1 1h snapshot missing")
	}
	if snap, _ := st.GetSnapshot(ctx, "p2", "24h"); snap == nil {
		t.Error("p2 24h snapshot missing")
	}
	if snaps, _ := st.ListSnapshots(ctx, "young"); len(snaps) != 0 {
		t.Errorf("young post collected prematurely: %d rows", len(snaps))
	}
}
