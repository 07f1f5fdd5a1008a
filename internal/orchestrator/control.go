// SPDX-License-Identifier: AGPL-3.0-or-later
package orchestrator

import (
	"context"
	"fmt"

	"github.com/assistd-org/assistd/internal/types"
)

// AcceptPlan starts execution of a reviewed plan. Accepting a plan that is
// already executing is a no-op; accepting a terminal plan fails.
func (o *Orchestrator) AcceptPlan(ctx context.Context, planID string) error {
	o.mu.Lock()
	s, ok := o.sessions[planID]
	if !ok {
		o.mu.Unlock()
		return ErrPlanNotFound
	}
	switch s.plan.Status {
	case types.PlanPendingReview, types.PlanDraft:
	case types.PlanAccepted, types.PlanExecuting, types.PlanPaused:
		o.mu.Unlock()
		return nil
	default:
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot accept plan in status %s", ErrInvalidState, s.plan.Status)
	}

	s.plan.Status = types.PlanAccepted
	touch(s.plan)
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	snapshot := s.plan.Clone()
	o.mu.Unlock()

	o.persist(ctx, snapshot)
	o.logger.Info("plan accepted", "plan_id", planID)
	go s.run()
	return nil
}

// RejectPlan sends a plan under review back through revision. The rejected
// plan becomes terminal and the revised successor awaits review.
func (o *Orchestrator) RejectPlan(ctx context.Context, planID, feedback string) (*types.Plan, error) {
	o.mu.Lock()
	s, ok := o.sessions[planID]
	if !ok {
		o.mu.Unlock()
		return nil, ErrPlanNotFound
	}
	if s.plan.Status != types.PlanPendingReview && s.plan.Status != types.PlanDraft {
		status := s.plan.Status
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot reject plan in status %s", ErrInvalidState, status)
	}
	prior := s.plan.Clone()
	o.mu.Unlock()

	revised, err := o.planner.RevisePlan(ctx, prior, feedback)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if s.plan.Status != types.PlanPendingReview && s.plan.Status != types.PlanDraft {
		o.mu.Unlock()
		return nil, ErrStaleReference
	}
	o.mu.Unlock()

	return o.finishRevision(ctx, s, revised), nil
}

// ConfirmCommand resolves the risky-command gate identified by commandID.
// References to commands that are not currently awaiting confirmation are
// stale and rejected without effect.
func (o *Orchestrator) ConfirmCommand(ctx context.Context, commandID string, approve bool, feedback string) error {
	o.mu.Lock()
	var target *session
	for _, s := range o.sessions {
		if s.pendingConfirm != nil && s.pendingConfirm.CommandID == commandID {
			target = s
			break
		}
	}
	if target == nil {
		o.mu.Unlock()
		return ErrStaleReference
	}
	target.pendingConfirm = nil
	target.pause = pauseNone
	action := ActionProceed
	if !approve {
		action = actionDeny
	}
	o.mu.Unlock()

	select {
	case target.decisions <- decision{action: action, feedback: feedback}:
	default:
		return ErrStaleReference
	}
	o.logger.Info("risky command resolved", "command_id", commandID, "approved", approve)
	return nil
}

// ContinuePlan resumes a paused plan with the user's decision. The valid
// decision set depends on why the plan paused: a failed step accepts skip,
// revise or abort; an observation step accepts proceed, skip, revise or abort.
func (o *Orchestrator) ContinuePlan(ctx context.Context, planID string, action Action, feedback string) error {
	o.mu.Lock()
	s, ok := o.sessions[planID]
	if !ok {
		o.mu.Unlock()
		return ErrPlanNotFound
	}
	if s.plan.Status != types.PlanPaused {
		status := s.plan.Status
		o.mu.Unlock()
		return fmt.Errorf("%w: plan is %s, not paused", ErrInvalidState, status)
	}
	switch s.pause {
	case pauseFailure:
		if action != ActionSkip && action != ActionRevise && action != ActionAbort {
			o.mu.Unlock()
			return fmt.Errorf("%w: %s after step failure", ErrInvalidDecision, action)
		}
	case pauseObservation:
		if action != ActionProceed && action != ActionSkip && action != ActionRevise && action != ActionAbort {
			o.mu.Unlock()
			return fmt.Errorf("%w: %s for observation step", ErrInvalidDecision, action)
		}
	default:
		o.mu.Unlock()
		return ErrStaleReference
	}
	s.pause = pauseNone
	o.mu.Unlock()

	select {
	case s.decisions <- decision{action: action, feedback: feedback}:
	default:
		return ErrStaleReference
	}
	return nil
}

// AbortPlan terminates a plan. A running command is killed; a waiting plan is
// released. Aborting an already aborted plan is a no-op.
func (o *Orchestrator) AbortPlan(ctx context.Context, planID, reason string) error {
	o.mu.Lock()
	s, ok := o.sessions[planID]
	if !ok {
		o.mu.Unlock()
		return ErrPlanNotFound
	}
	switch s.plan.Status {
	case types.PlanAborted:
		o.mu.Unlock()
		return nil
	case types.PlanCompleted, types.PlanRevised:
		status := s.plan.Status
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot abort plan in status %s", ErrInvalidState, status)
	}
	if reason == "" {
		reason = "aborted by user"
	}
	s.abortReason = reason

	if s.cancel != nil {
		// The run goroutine observes cancellation and finalizes.
		cancel := s.cancel
		o.mu.Unlock()
		cancel()
		return nil
	}

	// No goroutine yet (plan still under review); finalize inline.
	s.plan.Status = types.PlanAborted
	touch(s.plan)
	snapshot := s.plan.Clone()
	o.mu.Unlock()
	o.emitter.PlanAborted(planID, reason)
	o.persist(ctx, snapshot)
	o.logger.Info("plan aborted", "plan_id", planID, "reason", reason)
	return nil
}

// finishRevision retires the prior plan and registers its successor. The diff
// between the two renderings rides on the plan_revised event so reviewers can
// see exactly what changed.
func (o *Orchestrator) finishRevision(ctx context.Context, s *session, revised *types.Plan) *types.Plan {
	o.annotate(revised)
	revised.Status = types.PlanPendingReview

	o.mu.Lock()
	s.plan.Status = types.PlanRevised
	s.pause = pauseNone
	s.pendingConfirm = nil
	touch(s.plan)
	priorSnapshot := s.plan.Clone()
	o.sessions[revised.ID] = newSession(o, revised)
	revisedSnapshot := revised.Clone()
	o.mu.Unlock()

	diff := renderPlanDiff(priorSnapshot, revisedSnapshot)
	o.emitter.PlanRevised(priorSnapshot.ID, revised.ID, revised.RevisionSummary, diff)
	o.persist(ctx, priorSnapshot)
	o.persist(ctx, revisedSnapshot)
	o.logger.Info("plan revised",
		"plan_id", priorSnapshot.ID,
		"revised_plan_id", revised.ID)
	return revisedSnapshot
}
