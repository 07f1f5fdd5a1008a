// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/assistd-org/assistd/internal/types"
)

// ErrPlanNotFound indicates the requested plan id has no stored snapshot.
var ErrPlanNotFound = errors.New("coredb: plan not found")

// PlanStore persists full plan snapshots. The payload column carries the plan
// as JSON; status, request and lineage are lifted into columns for listing.
type PlanStore struct {
	db *sql.DB
}

// NewPlanStore returns a store backed by the provided DB.
func NewPlanStore(db *DB) *PlanStore {
	if db == nil {
		return nil
	}
	return &PlanStore{db: db.sql}
}

// Save upserts the plan snapshot. The orchestrator calls this on every status
// transition so a restart can show the last known state of each plan.
func (s *PlanStore) Save(ctx context.Context, plan *types.Plan) error {
	if s == nil {
		return nil
	}
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("save plan: plan id required")
	}
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan %s: %w", plan.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO core_plans (id, status, request, revision_of, payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  payload = excluded.payload,
  updated_at = excluded.updated_at;
`, plan.ID, string(plan.Status), plan.Request, plan.RevisionOf, payload,
		plan.CreatedAt.UnixMilli(), plan.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}
	return nil
}

// Get returns the stored snapshot for the plan id.
func (s *PlanStore) Get(ctx context.Context, id string) (*types.Plan, error) {
	if s == nil {
		return nil, ErrPlanNotFound
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM core_plans WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", id, err)
	}
	var plan types.Plan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", id, err)
	}
	return &plan, nil
}

// PlanSummary is one row of a plan listing.
type PlanSummary struct {
	ID         string           `json:"id"`
	Status     types.PlanStatus `json:"status"`
	Request    string           `json:"request"`
	RevisionOf string           `json:"revision_of,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// List returns plan summaries newest-first, optionally filtered by status.
func (s *PlanStore) List(ctx context.Context, status types.PlanStatus, limit int) ([]PlanSummary, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, status, request, revision_of, updated_at FROM core_plans`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []PlanSummary
	for rows.Next() {
		var sum PlanSummary
		var statusText string
		var updatedMillis int64
		if err := rows.Scan(&sum.ID, &statusText, &sum.Request, &sum.RevisionOf, &updatedMillis); err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}
		sum.Status = types.PlanStatus(statusText)
		sum.UpdatedAt = time.UnixMilli(updatedMillis).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plans rows: %w", err)
	}
	return out, nil
}
