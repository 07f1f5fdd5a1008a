// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/assistd-org/assistd/internal/coredb"
	"github.com/assistd-org/assistd/internal/orchestrator"
	"github.com/assistd-org/assistd/internal/types"
)

func newTestDB(t *testing.T) *coredb.DB {
	t.Helper()
	db, err := coredb.Open(context.Background(), coredb.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testPlan(id string) *types.Plan {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	return &types.Plan{
		ID:      id,
		Request: "tidy the downloads folder",
		Status:  types.PlanPendingReview,
		Steps: []*types.Step{
			{
				Number:      1,
				Description: "list downloads",
				Status:      types.StepPending,
				Command:     &types.Command{ID: "cmd-1", Kind: types.CommandShell, Text: "ls ~/Downloads"},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// fakeService records calls and plays back canned results.
type fakeService struct {
	plan    *types.Plan
	revised *types.Plan
	pending *types.ConfirmationRequest

	submitErr   error
	planErr     error
	acceptErr   error
	rejectErr   error
	continueErr error
	abortErr    error
	confirmErr  error

	submitCount int
	gotRequest  string
	gotFeedback string
	gotAction   orchestrator.Action
	gotReason   string
	confirmedID string
	approved    bool
}

func (f *fakeService) SubmitTask(_ context.Context, request string) (*types.Plan, error) {
	f.submitCount++
	f.gotRequest = request
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.plan, nil
}

func (f *fakeService) Plan(id string) (*types.Plan, error) {
	if f.planErr != nil {
		return nil, f.planErr
	}
	if f.plan == nil || f.plan.ID != id {
		return nil, orchestrator.ErrPlanNotFound
	}
	return f.plan, nil
}

func (f *fakeService) PendingConfirmation(planID string) (types.ConfirmationRequest, bool) {
	if f.pending == nil || f.pending.PlanID != planID {
		return types.ConfirmationRequest{}, false
	}
	return *f.pending, true
}

func (f *fakeService) AcceptPlan(_ context.Context, planID string) error {
	return f.acceptErr
}

func (f *fakeService) RejectPlan(_ context.Context, planID, feedback string) (*types.Plan, error) {
	f.gotFeedback = feedback
	if f.rejectErr != nil {
		return nil, f.rejectErr
	}
	return f.revised, nil
}

func (f *fakeService) ContinuePlan(_ context.Context, planID string, action orchestrator.Action, feedback string) error {
	f.gotAction = action
	f.gotFeedback = feedback
	return f.continueErr
}

func (f *fakeService) AbortPlan(_ context.Context, planID, reason string) error {
	f.gotReason = reason
	return f.abortErr
}

func (f *fakeService) ConfirmCommand(_ context.Context, commandID string, approve bool, feedback string) error {
	f.confirmedID = commandID
	f.approved = approve
	f.gotFeedback = feedback
	return f.confirmErr
}
