// CLAUDE:SUMMARY Control-plane state — versioned policy rows, exactly one active, atomic expire+insert transition.
// Package policy owns the versioned control-plane state (strategy weights,
// acceptance threshold, exploration rate) and the batch updater that
// retrains it from the trailing window of decision outcomes.
//
// State rows are never mutated: an update expires the active row and
// inserts its successor inside one transaction, so history is a complete
// audit trail and a crash can never leave two rows active at once.
package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Schema is the control-plane table, applied via dbopen.WithSchema. The
// partial unique index is the "exactly one active row" invariant enforced
// at the storage layer.
const Schema = `
CREATE TABLE IF NOT EXISTS control_plane_state (
    id                          TEXT PRIMARY KEY,
    effective_at                INTEGER NOT NULL,
    expires_at                  INTEGER,
    acceptance_threshold        REAL NOT NULL,
    exploration_rate            REAL NOT NULL,
    template_weights_json       TEXT NOT NULL DEFAULT '{}',
    prompt_version_weights_json TEXT NOT NULL DEFAULT '{}',
    updated_by                  TEXT NOT NULL DEFAULT '',
    update_reason               TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_cps_single_active
    ON control_plane_state(expires_at) WHERE expires_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_cps_effective ON control_plane_state(effective_at DESC);
`

// ControlPlaneState is one versioned policy snapshot. ExpiresAt is nil
// while the row is active.
type ControlPlaneState struct {
	ID          string `json:"id"`
	EffectiveAt int64  `json:"effective_at"`
	ExpiresAt   *int64 `json:"expires_at,omitempty"`

	AcceptanceThreshold float64 `json:"acceptance_threshold"`
	ExplorationRate     float64 `json:"exploration_rate"`

	// TemplateWeights multiply per-template scores, each in [0.5, 2.0]
	// with mean 1.0 after an update.
	TemplateWeights map[string]float64 `json:"template_weights"`

	// PromptVersionWeights nest the same normalization per prompt version
	// within each template.
	PromptVersionWeights map[string]map[string]float64 `json:"prompt_version_weights"`

	UpdatedBy    string `json:"updated_by"`
	UpdateReason string `json:"update_reason"`
}

// DefaultState is the policy in force before any update has run.
func DefaultState() *ControlPlaneState {
	return &ControlPlaneState{
		AcceptanceThreshold:  0.5,
		ExplorationRate:      0.10,
		TemplateWeights:      map[string]float64{},
		PromptVersionWeights: map[string]map[string]float64{},
		UpdatedBy:            "default",
		UpdateReason:         "initial state",
	}
}

// clone deep-copies the state so updater math never aliases stored maps.
func (s *ControlPlaneState) clone() *ControlPlaneState {
	out := *s
	out.TemplateWeights = make(map[string]float64, len(s.TemplateWeights))
	for k, v := range s.TemplateWeights {
		out.TemplateWeights[k] = v
	}
	out.PromptVersionWeights = make(map[string]map[string]float64, len(s.PromptVersionWeights))
	for t, vs := range s.PromptVersionWeights {
		inner := make(map[string]float64, len(vs))
		for v, w := range vs {
			inner[v] = w
		}
		out.PromptVersionWeights[t] = inner
	}
	return &out
}

// Store persists control-plane state rows.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

const stateCols = `id, effective_at, expires_at, acceptance_threshold, exploration_rate,
	template_weights_json, prompt_version_weights_json, updated_by, update_reason`

// Active returns the row with a null expires_at, or nil when no policy has
// been written yet (callers fall back to DefaultState).
func (s *Store) Active(ctx context.Context) (*ControlPlaneState, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+stateCols+` FROM control_plane_state WHERE expires_at IS NULL`)
	st, err := scanState(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

// Transition expires the active row (if any) and inserts the successor, as
// one transaction. The successor becomes active with a nil expires_at.
func (s *Store) Transition(ctx context.Context, next *ControlPlaneState) error {
	if next.ID == "" {
		return fmt.Errorf("policy: transition requires a state id")
	}
	now := time.Now().UnixMilli()
	if next.EffectiveAt == 0 {
		next.EffectiveAt = now
	}
	next.ExpiresAt = nil

	tw, err := json.Marshal(next.TemplateWeights)
	if err != nil {
		return fmt.Errorf("policy: marshal template weights: %w", err)
	}
	pvw, err := json.Marshal(next.PromptVersionWeights)
	if err != nil {
		return fmt.Errorf("policy: marshal prompt version weights: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("policy: begin transition: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE control_plane_state SET expires_at = ? WHERE expires_at IS NULL`, now); err != nil {
		return fmt.Errorf("policy: expire active state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO control_plane_state (`+stateCols+`)
		VALUES (?, ?, NULL, ?, ?, ?, ?, ?, ?)`,
		next.ID, next.EffectiveAt, next.AcceptanceThreshold, next.ExplorationRate,
		string(tw), string(pvw), next.UpdatedBy, next.UpdateReason); err != nil {
		return fmt.Errorf("policy: insert new state: %w", err)
	}
	return tx.Commit()
}

// History returns state rows newest first, active row included.
func (s *Store) History(ctx context.Context, limit int) ([]*ControlPlaneState, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+stateCols+` FROM control_plane_state
		ORDER BY effective_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ControlPlaneState
	for rows.Next() {
		st, err := scanState(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanState(scan func(...any) error) (*ControlPlaneState, error) {
	var st ControlPlaneState
	var expires sql.NullInt64
	var tw, pvw string
	err := scan(&st.ID, &st.EffectiveAt, &expires, &st.AcceptanceThreshold, &st.ExplorationRate,
		&tw, &pvw, &st.UpdatedBy, &st.UpdateReason)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		v := expires.Int64
		st.ExpiresAt = &v
	}
	st.TemplateWeights = map[string]float64{}
	st.PromptVersionWeights = map[string]map[string]float64{}
	if err := json.Unmarshal([]byte(tw), &st.TemplateWeights); err != nil {
		return nil, fmt.Errorf("policy: corrupt template weights for %s: %w", st.ID, err)
	}
	if err := json.Unmarshal([]byte(pvw), &st.PromptVersionWeights); err != nil {
		return nil, fmt.Errorf("policy: corrupt prompt version weights for %s: %w", st.ID, err)
	}
	return &st, nil
}
