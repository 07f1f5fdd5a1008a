// SPDX-License-Identifier: AGPL-3.0-or-later

// Package handlers implements the HTTP surface over the orchestrator: task
// submission, plan review and control, the risky-command gate and the SSE
// event stream.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/assistd-org/assistd/internal/coredb"
	"github.com/assistd-org/assistd/internal/llm"
	"github.com/assistd-org/assistd/internal/orchestrator"
	"github.com/assistd-org/assistd/internal/server/response"
	"github.com/assistd-org/assistd/internal/types"
)

// PlanService is the orchestrator surface the handlers depend on.
type PlanService interface {
	SubmitTask(ctx context.Context, request string) (*types.Plan, error)
	Plan(id string) (*types.Plan, error)
	PendingConfirmation(planID string) (types.ConfirmationRequest, bool)
	AcceptPlan(ctx context.Context, planID string) error
	RejectPlan(ctx context.Context, planID, feedback string) (*types.Plan, error)
	ContinuePlan(ctx context.Context, planID string, action orchestrator.Action, feedback string) error
	AbortPlan(ctx context.Context, planID, reason string) error
	ConfirmCommand(ctx context.Context, commandID string, approve bool, feedback string) error
}

// PlanArchive is the persisted-plan surface used for listing and for plans
// that predate the current process.
type PlanArchive interface {
	Get(ctx context.Context, id string) (*types.Plan, error)
	List(ctx context.Context, status types.PlanStatus, limit int) ([]coredb.PlanSummary, error)
}

// writeServiceError maps orchestrator and provider errors onto problem
// responses.
func writeServiceError(w http.ResponseWriter, err error) {
	var provider *llm.ProviderError
	switch {
	case errors.Is(err, orchestrator.ErrPlanNotFound), errors.Is(err, coredb.ErrPlanNotFound):
		response.Write(w, response.New(http.StatusNotFound, "plan not found"))
	case errors.Is(err, orchestrator.ErrStaleReference):
		response.Write(w, response.New(http.StatusConflict, "stale reference",
			response.WithType("https://assistd.dev/problems/stale-reference"),
			response.WithDetail(err.Error())))
	case errors.Is(err, orchestrator.ErrInvalidState):
		response.Write(w, response.New(http.StatusConflict, "invalid plan state",
			response.WithDetail(err.Error())))
	case errors.Is(err, orchestrator.ErrInvalidDecision):
		response.Write(w, response.New(http.StatusUnprocessableEntity, "invalid decision",
			response.WithDetail(err.Error())))
	case errors.As(err, &provider):
		response.Write(w, response.New(http.StatusBadGateway, "plan provider unavailable",
			response.WithType("https://assistd.dev/problems/provider-unavailable"),
			response.WithDetail(err.Error())))
	default:
		response.Write(w, response.New(http.StatusInternalServerError, "internal error",
			response.WithDetail(err.Error())))
	}
}
