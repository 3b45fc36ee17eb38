package policy

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestWatcher_DeliversNewActiveState(t *testing.T) {
	// WHAT: A transition landing after the watcher starts triggers exactly
	// one reload carrying the new active state.
	// WHY: Selectors pick up retrained policy without a restart.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := newTestStore(t)
	w := NewWatcher(store, WatchOptions{
		Interval: 10 * time.Millisecond,
		Logger:   slog.New(slog.DiscardHandler),
	})

	got := make(chan *ControlPlaneState, 1)
	go w.Run(ctx, func(st *ControlPlaneState) error {
		select {
		case got <- st:
		default:
		}
		return nil
	})

	// Give the watcher a moment to seed before the transition.
	time.Sleep(50 * time.Millisecond)

	next := DefaultState()
	next.ID = "cps_hot"
	next.AcceptanceThreshold = 0.6
	if err := store.Transition(ctx, next); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	select {
	case st := <-got:
		if st.ID != "cps_hot" || st.AcceptanceThreshold != 0.6 {
			t.Errorf("reloaded state = %+v, want cps_hot", st)
		}
	case <-ctx.Done():
		t.Fatal("watcher never delivered the new state")
	}
}

func TestWatcher_StartupStateIsNotAChange(t *testing.T) {
	// WHAT: The state already active when the watcher starts does not fire
	// the callback.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(t)
	pre := DefaultState()
	pre.ID = "cps_existing"
	if err := store.Transition(ctx, pre); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	w := NewWatcher(store, WatchOptions{
		Interval: 10 * time.Millisecond,
		Logger:   slog.New(slog.DiscardHandler),
	})
	go w.Run(ctx, func(*ControlPlaneState) error { return nil })

	time.Sleep(100 * time.Millisecond)
	if n := w.Reloads(); n != 0 {
		t.Errorf("reloads = %d, want 0 for pre-existing state", n)
	}
}
