// CLAUDE:SUMMARY Entry point for the pulse service — chi router over telemetry, scoring, bandit, and policy.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pulse/bandit"
	"github.com/hazyhaar/pulse/dbopen"
	"github.com/hazyhaar/pulse/embeddings"
	"github.com/hazyhaar/pulse/idgen"
	"github.com/hazyhaar/pulse/policy"
	"github.com/hazyhaar/pulse/scoring"
	"github.com/hazyhaar/pulse/scraper"
	"github.com/hazyhaar/pulse/telemetry"
)

func main() {
	port := env("PORT", "8086")
	configPath := os.Getenv("CONFIG")

	// Logging.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// One database, every subsystem's tables.
	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(telemetry.Schema),
		dbopen.WithSchema(bandit.Schema),
		dbopen.WithSchema(policy.Schema),
		dbopen.WithSchema(trackedPostsSchema))
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Browser + scraper.
	browser := scraper.NewBrowser(cfg.Browser)
	if err := browser.Start(ctx); err != nil {
		slog.Error("start browser", "error", err)
		os.Exit(1)
	}
	defer browser.Close()
	cfg.Scraper.Logger = logger
	scr := scraper.New(cfg.Scraper, browser)

	// Telemetry orchestrator.
	metricStore := telemetry.NewStore(db)
	var alerter telemetry.Alerter = telemetry.NopAlerter{}
	if cfg.AlertWebhook != "" {
		alerter = telemetry.NewWebhookAlerter(cfg.AlertWebhook, 0, logger)
	}
	svc := telemetry.NewService(scr, metricStore, cfg.Telemetry, logger,
		telemetry.WithAlerter(alerter))

	collector := telemetry.NewCollector(svc, listTrackedPosts(db), cfg.Collector, logger)
	go collector.Run(ctx)

	// Scoring.
	cfg.Embeddings.Logger = logger
	cfg.Scoring.Logger = logger
	scorer, err := scoring.New(cfg.Scoring, embeddings.New(cfg.Embeddings))
	if err != nil {
		slog.Error("scorer", "error", err)
		os.Exit(1)
	}

	// Bandit + policy.
	rewards := bandit.NewRewardStore(db)
	cfg.Selector.Logger = logger
	selector := bandit.NewSelector(cfg.Selector, rewards)

	policyStore := policy.NewStore(db)
	cfg.Updater.Logger = logger
	updater := policy.NewUpdater(cfg.Updater, policyStore, rewards)
	go updater.Loop(ctx)

	// The live exploration rate follows the active control-plane state.
	var epsilon atomic.Value // float64
	if st, err := policyStore.Active(ctx); err == nil && st != nil {
		epsilon.Store(st.ExplorationRate)
	} else {
		epsilon.Store(policy.DefaultState().ExplorationRate)
	}
	cfg.Watch.Logger = logger
	watcher := policy.NewWatcher(policyStore, cfg.Watch)
	go watcher.Run(ctx, func(st *policy.ControlPlaneState) error {
		epsilon.Store(st.ExplorationRate)
		return nil
	})

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Ingestion health.
	r.Get("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		hours := queryInt(r, "hours", 24)
		stats, err := svc.Stats(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, stats)
	})

	// Tracked post inventory.
	r.Route("/api/posts", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			posts, err := listTrackedPosts(db)(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, posts)
		})
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				PostID        string `json:"post_id"`
				AccountID     string `json:"account_id"`
				FollowerCount int64  `json:"follower_count"`
				PostedAt      int64  `json:"posted_at"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if req.PostID == "" {
				writeJSON(w, 400, map[string]string{"error": "post_id is required"})
				return
			}
			if req.PostedAt == 0 {
				req.PostedAt = time.Now().UnixMilli()
			}
			_, err := db.ExecContext(r.Context(),
				`INSERT INTO tracked_posts (post_id, account_id, follower_count, posted_at, tracked_at, active)
				VALUES (?, ?, ?, ?, ?, 1)
				ON CONFLICT (post_id) DO UPDATE SET
					account_id = excluded.account_id,
					follower_count = excluded.follower_count,
					active = 1`,
				req.PostID, req.AccountID, req.FollowerCount, req.PostedAt, time.Now().UnixMilli())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"post_id": req.PostID, "status": "tracked"})
		})
		r.Delete("/{postID}", func(w http.ResponseWriter, r *http.Request) {
			_, err := db.ExecContext(r.Context(),
				`UPDATE tracked_posts SET active = 0 WHERE post_id = ?`, chi.URLParam(r, "postID"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "untracked"})
		})
	})

	// Manual collection + stored snapshots.
	r.Post("/api/collect/{postID}", func(w http.ResponseWriter, r *http.Request) {
		postID := chi.URLParam(r, "postID")
		post, err := trackedPost(r.Context(), db, postID)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if post == nil {
			writeJSON(w, 404, map[string]string{"error": "post not tracked"})
			return
		}
		phase := r.URL.Query().Get("phase")
		if phase == "" {
			phase = "manual"
		}
		res, err := svc.ScrapeAndStore(r.Context(), *post, phase)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, res)
	})
	r.Get("/api/snapshots/{postID}", func(w http.ResponseWriter, r *http.Request) {
		snaps, err := metricStore.ListSnapshots(r.Context(), chi.URLParam(r, "postID"))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, snaps)
	})

	// Score a candidate batch, then optionally pick a strategy over it.
	r.Post("/api/score", func(w http.ResponseWriter, r *http.Request) {
		var candidates []scoring.Candidate
		if err := json.NewDecoder(r.Body).Decode(&candidates); err != nil {
			writeError(w, 400, err)
			return
		}
		writeJSON(w, 200, scorer.Score(r.Context(), candidates))
	})
	r.Post("/api/decide", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Candidates []scoring.Candidate `json:"candidates"`
			Seed       *int64              `json:"seed,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		scored := scorer.Score(r.Context(), req.Candidates)
		eps := epsilon.Load().(float64)
		sel, err := selector.Select(r.Context(), scored, &bandit.SelectOptions{
			Seed:    req.Seed,
			Epsilon: &eps,
		})
		if err != nil {
			writeError(w, 400, err)
			return
		}
		writeJSON(w, 200, sel)
	})

	// Reward feedback.
	r.Post("/api/rewards", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			StrategyID      string  `json:"strategy_id"`
			StrategyVersion int     `json:"strategy_version"`
			TemplateID      string  `json:"template_id"`
			PromptVersion   string  `json:"prompt_version"`
			Reward          float64 `json:"reward"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		if req.StrategyID == "" {
			writeJSON(w, 400, map[string]string{"error": "strategy_id is required"})
			return
		}
		// Reward tracking is best-effort: log failures, keep serving.
		if err := rewards.Record(r.Context(), req.StrategyID, req.StrategyVersion, req.Reward); err != nil {
			logger.Warn("record reward", "strategy", req.StrategyID, "error", err)
		}
		outcome := &bandit.Outcome{
			ID:              idgen.New(),
			StrategyID:      req.StrategyID,
			StrategyVersion: req.StrategyVersion,
			TemplateID:      req.TemplateID,
			PromptVersion:   req.PromptVersion,
			Reward:          req.Reward,
		}
		if err := rewards.RecordOutcome(r.Context(), outcome); err != nil {
			logger.Warn("record outcome", "strategy", req.StrategyID, "error", err)
		}
		writeJSON(w, 200, map[string]string{"status": "recorded"})
	})
	r.Get("/api/strategies", func(w http.ResponseWriter, r *http.Request) {
		minSamples := int64(queryInt(r, "min_samples", 10))
		ranked, err := rewards.ByMeanReward(r.Context(), minSamples)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, ranked)
	})

	// Control-plane state.
	r.Route("/api/policy", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			st, err := policyStore.Active(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if st == nil {
				st = policy.DefaultState()
			}
			writeJSON(w, 200, st)
		})
		r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
			hist, err := policyStore.History(r.Context(), queryInt(r, "limit", 50))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, hist)
		})
		r.Post("/update", func(w http.ResponseWriter, r *http.Request) {
			dryRun := r.URL.Query().Get("dry_run") == "1"
			report, err := updater.Run(r.Context(), dryRun)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, report)
		})
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Tracked post inventory ---

const trackedPostsSchema = `
CREATE TABLE IF NOT EXISTS tracked_posts (
    post_id        TEXT PRIMARY KEY,
    account_id     TEXT NOT NULL DEFAULT '',
    follower_count INTEGER NOT NULL DEFAULT 0,
    posted_at      INTEGER NOT NULL,
    tracked_at     INTEGER NOT NULL,
    active         INTEGER NOT NULL DEFAULT 1
);
`

func listTrackedPosts(db *sql.DB) telemetry.PostLister {
	return func(ctx context.Context) ([]telemetry.TrackedPost, error) {
		rows, err := db.QueryContext(ctx,
			`SELECT post_id, account_id, follower_count, posted_at
			FROM tracked_posts WHERE active = 1 ORDER BY posted_at DESC`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var posts []telemetry.TrackedPost
		for rows.Next() {
			var p telemetry.TrackedPost
			var postedAt int64
			if err := rows.Scan(&p.PostID, &p.AccountID, &p.FollowerCount, &postedAt); err != nil {
				return nil, err
			}
			p.PostedAt = time.UnixMilli(postedAt)
			posts = append(posts, p)
		}
		return posts, rows.Err()
	}
}

func trackedPost(ctx context.Context, db *sql.DB, postID string) (*telemetry.TrackedPost, error) {
	var p telemetry.TrackedPost
	var postedAt int64
	err := db.QueryRowContext(ctx,
		`SELECT post_id, account_id, follower_count, posted_at
		FROM tracked_posts WHERE post_id = ? AND active = 1`, postID).
		Scan(&p.PostID, &p.AccountID, &p.FollowerCount, &postedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.PostedAt = time.UnixMilli(postedAt)
	return &p, nil
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
