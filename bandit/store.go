// CLAUDE:SUMMARY Reward store — atomic strategy_rewards upserts, decision_outcomes log, reward-ordered stats.
// Package bandit tracks per-strategy reward statistics and selects which
// strategy's candidates to act on each cycle via an epsilon-greedy policy.
//
// The reward tables are the learning state of the whole system: every acted
// decision eventually lands a reward here, and the policy updater folds the
// trailing window of outcomes back into strategy weights.
package bandit

import (
	"context"
	"database/sql"
	"time"
)

// Schema is the bandit table set, applied via dbopen.WithSchema.
const Schema = `
-- Aggregated learning state per strategy variant. sample_count only ever
-- grows; mean reward is derived at query time.
CREATE TABLE IF NOT EXISTS strategy_rewards (
    strategy_id      TEXT NOT NULL,
    strategy_version INTEGER NOT NULL,
    sample_count     INTEGER NOT NULL DEFAULT 0,
    total_reward     REAL NOT NULL DEFAULT 0,
    updated_at       INTEGER NOT NULL,
    PRIMARY KEY (strategy_id, strategy_version)
);

-- One row per rewarded decision. Append-only; the policy updater reads the
-- trailing window grouped by (template_id, prompt_version).
CREATE TABLE IF NOT EXISTS decision_outcomes (
    id               TEXT PRIMARY KEY,
    strategy_id      TEXT NOT NULL,
    strategy_version INTEGER NOT NULL,
    template_id      TEXT NOT NULL DEFAULT '',
    prompt_version   TEXT NOT NULL DEFAULT '',
    reward           REAL NOT NULL,
    decided_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_time ON decision_outcomes(decided_at DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_template ON decision_outcomes(template_id, prompt_version);
`

// StrategyRewardStats is the aggregated reward state for one strategy
// variant.
type StrategyRewardStats struct {
	StrategyID      string  `json:"strategy_id"`
	StrategyVersion int     `json:"strategy_version"`
	SampleCount     int64   `json:"sample_count"`
	TotalReward     float64 `json:"total_reward"`
	MeanReward      float64 `json:"mean_reward"`
}

// Outcome is one rewarded decision, logged for policy retraining.
type Outcome struct {
	ID              string  `json:"id"`
	StrategyID      string  `json:"strategy_id"`
	StrategyVersion int     `json:"strategy_version"`
	TemplateID      string  `json:"template_id"`
	PromptVersion   string  `json:"prompt_version"`
	Reward          float64 `json:"reward"`
	DecidedAt       int64   `json:"decided_at"`
}

// RewardStore persists reward statistics and the decision outcome log.
type RewardStore struct {
	DB *sql.DB
}

// NewRewardStore wraps an existing database handle.
func NewRewardStore(db *sql.DB) *RewardStore {
	return &RewardStore{DB: db}
}

// Record folds one reward observation into the strategy's aggregate. The
// increment runs as a single SQL upsert, so concurrent writers for the same
// key never lose updates.
func (s *RewardStore) Record(ctx context.Context, strategyID string, version int, reward float64) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO strategy_rewards (strategy_id, strategy_version, sample_count, total_reward, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (strategy_id, strategy_version) DO UPDATE SET
			sample_count = sample_count + 1,
			total_reward = total_reward + excluded.total_reward,
			updated_at = excluded.updated_at`,
		strategyID, version, reward, time.Now().UnixMilli())
	return err
}

// RecordOutcome appends one row to the decision outcome log.
func (s *RewardStore) RecordOutcome(ctx context.Context, o *Outcome) error {
	if o.DecidedAt == 0 {
		o.DecidedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO decision_outcomes (id, strategy_id, strategy_version, template_id, prompt_version, reward, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.StrategyID, o.StrategyVersion, o.TemplateID, o.PromptVersion, o.Reward, o.DecidedAt)
	return err
}

// Stats returns the aggregate for one strategy variant, or nil when the
// variant has never been rewarded.
func (s *RewardStore) Stats(ctx context.Context, strategyID string, version int) (*StrategyRewardStats, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT strategy_id, strategy_version, sample_count, total_reward
		FROM strategy_rewards WHERE strategy_id = ? AND strategy_version = ?`,
		strategyID, version)
	st, err := scanStats(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

// ByMeanReward returns all variants with at least minSamples observations,
// sorted by mean reward descending.
func (s *RewardStore) ByMeanReward(ctx context.Context, minSamples int64) ([]*StrategyRewardStats, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT strategy_id, strategy_version, sample_count, total_reward
		FROM strategy_rewards
		WHERE sample_count >= ?
		ORDER BY total_reward / sample_count DESC`, minSamples)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StrategyRewardStats
	for rows.Next() {
		st, err := scanStats(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// OutcomesSince returns all decision outcomes recorded at or after the
// given time, oldest first.
func (s *RewardStore) OutcomesSince(ctx context.Context, since int64) ([]*Outcome, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, strategy_id, strategy_version, template_id, prompt_version, reward, decided_at
		FROM decision_outcomes WHERE decided_at >= ? ORDER BY decided_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.ID, &o.StrategyID, &o.StrategyVersion,
			&o.TemplateID, &o.PromptVersion, &o.Reward, &o.DecidedAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func scanStats(scan func(...any) error) (*StrategyRewardStats, error) {
	var st StrategyRewardStats
	if err := scan(&st.StrategyID, &st.StrategyVersion, &st.SampleCount, &st.TotalReward); err != nil {
		return nil, err
	}
	if st.SampleCount > 0 {
		st.MeanReward = st.TotalReward / float64(st.SampleCount)
	}
	return &st, nil
}
