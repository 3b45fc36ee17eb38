// CLAUDE:SUMMARY Policy hot reload — polls for control-plane transitions, debounces, hands the new state to a callback.
package policy

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// WatchOptions tunes the hot-reload poll loop.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 5s.
	Interval time.Duration `yaml:"interval"`

	// Debounce is the quiet period after a transition is noticed before
	// the callback fires; a rapid series of transitions collapses into one
	// reload. 0 fires immediately.
	Debounce time.Duration `yaml:"debounce"`

	// Logger for reload diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher notices control-plane transitions made by other connections or
// processes and delivers the freshly active state to a callback. Selectors
// and scorers read their epsilon/threshold/weights from whatever the
// callback installed last, so a policy update takes effect without a
// restart.
type Watcher struct {
	store *Store
	opts  WatchOptions

	// lastID is the state row ID the callback last saw.
	lastID atomic.Value // string

	reloads atomic.Int64
	errors  atomic.Int64
}

// NewWatcher creates a Watcher over the policy store.
func NewWatcher(store *Store, opts WatchOptions) *Watcher {
	opts.defaults()
	w := &Watcher{store: store, opts: opts}
	w.lastID.Store("")
	return w
}

// Reloads reports how many times the callback has fired.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Run polls until ctx is done, invoking onChange with the active state
// every time a new transition lands. The callback error keeps lastID
// unchanged so the reload retries on the next poll.
func (w *Watcher) Run(ctx context.Context, onChange func(*ControlPlaneState) error) error {
	log := w.opts.Logger

	// Seed with whatever is active now so startup does not count as a
	// change.
	if cur, err := w.store.Active(ctx); err == nil && cur != nil {
		w.lastID.Store(cur.ID)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	var pending *ControlPlaneState

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return ctx.Err()

		case <-ticker.C:
			cur, err := w.store.Active(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("policy watch: active state check failed", "error", err)
				continue
			}
			if cur == nil || cur.ID == w.lastID.Load().(string) {
				continue
			}
			if pending != nil && cur.ID == pending.ID {
				continue
			}
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(onChange, pending, log)
				pending = nil
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.opts.Debounce)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			if pending != nil {
				w.fire(onChange, pending, log)
				pending = nil
			}
		}
	}
}

func (w *Watcher) fire(onChange func(*ControlPlaneState) error, st *ControlPlaneState, log *slog.Logger) {
	if err := onChange(st); err != nil {
		w.errors.Add(1)
		log.Error("policy watch: reload failed", "state_id", st.ID, "error", err)
		return
	}
	w.lastID.Store(st.ID)
	w.reloads.Add(1)
	log.Info("policy watch: reloaded", "state_id", st.ID, "effective_at", st.EffectiveAt)
}
