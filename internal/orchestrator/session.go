// SPDX-License-Identifier: AGPL-3.0-or-later
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/assistd-org/assistd/internal/types"
)

// Action is a user decision delivered to a paused or gated plan.
type Action string

const (
	ActionProceed Action = "proceed"
	ActionSkip    Action = "skip"
	ActionRevise  Action = "revise"
	ActionAbort   Action = "abort"

	// actionDeny is the internal form of a rejected confirmation.
	actionDeny Action = "deny"
)

type pauseKind int

const (
	pauseNone pauseKind = iota
	pauseConfirmation
	pauseFailure
	pauseObservation
)

type decision struct {
	action   Action
	feedback string
}

type stepOutcome int

const (
	outcomeAdvance stepOutcome = iota
	outcomeStop
)

// session owns one plan. The run goroutine is the only writer of step results;
// status fields are guarded by the orchestrator lock.
type session struct {
	orch *Orchestrator
	plan *types.Plan

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	decisions      chan decision
	pause          pauseKind
	pendingConfirm *types.ConfirmationRequest
	abortReason    string
}

func newSession(o *Orchestrator, plan *types.Plan) *session {
	return &session{
		orch:      o,
		plan:      plan,
		done:      make(chan struct{}),
		decisions: make(chan decision, 1),
	}
}

// run executes the plan step by step until completion, abort or revision.
// Callers hold no locks.
func (s *session) run() {
	defer close(s.done)
	o := s.orch

	o.mu.Lock()
	if s.plan.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	s.plan.Status = types.PlanExecuting
	touch(s.plan)
	snapshot := s.plan.Clone()
	o.mu.Unlock()
	o.persist(s.runCtx, snapshot)

	entities := make(map[string]string)
	for i := 0; i < len(s.plan.Steps); {
		o.mu.Lock()
		if s.plan.Status.Terminal() {
			o.mu.Unlock()
			return
		}
		step := s.plan.Steps[i]
		if step.Status.Done() {
			o.mu.Unlock()
			i++
			continue
		}
		o.mu.Unlock()

		if s.runCtx.Err() != nil {
			s.finalizeAbort()
			return
		}
		switch s.executeStep(step, entities) {
		case outcomeAdvance:
			i++
		case outcomeStop:
			return
		}
	}
	s.finalizeComplete()
}

func (s *session) executeStep(step *types.Step, entities map[string]string) stepOutcome {
	o := s.orch
	planID := s.plan.ID

	if step.IsObserve && step.Command == nil {
		return s.awaitObservation(step)
	}

	if step.Command == nil {
		cmd, err := o.generator.Generate(s.runCtx, step.Description, entities)
		if err != nil {
			o.logger.Warn("command generation failed",
				"plan_id", planID, "step", step.Number, "error", err)
			return s.handleFailure(step, -1, fmt.Sprintf("command generation failed: %v", err))
		}
		if cmd.ID == "" {
			cmd.ID = uuid.NewString()
		}
		o.mu.Lock()
		step.Command = &cmd
		o.mu.Unlock()
	}

	if step.Assessment == nil && o.checker != nil {
		assessment := o.checker.Assess(*step.Command)
		o.mu.Lock()
		step.Assessment = &assessment
		if assessment.Risky {
			step.IsRisky = true
		}
		o.mu.Unlock()
	}
	for k, v := range step.Command.Entities {
		entities[k] = v
	}

	if step.IsRisky && step.Status != types.StepConfirmed {
		if outcome, proceed := s.awaitConfirmation(step); !proceed {
			return outcome
		}
	}

	o.mu.Lock()
	step.Status = types.StepRunning
	touch(s.plan)
	o.mu.Unlock()
	o.emitter.StepStarted(planID, step.Number, step.Command.ID, step.Command.Text)

	result, err := o.runner.Run(s.runCtx, *step.Command, o.timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) || s.runCtx.Err() != nil {
			s.finalizeAbort()
			return outcomeStop
		}
		return s.handleFailure(step, -1, err.Error())
	}

	o.mu.Lock()
	exit := result.ExitCode
	step.Stdout = result.Stdout
	step.Stderr = result.Stderr
	step.ExitCode = &exit
	touch(s.plan)
	o.mu.Unlock()

	if result.TimedOut {
		return s.handleFailure(step, result.ExitCode, result.Stderr)
	}
	if result.ExitCode != 0 {
		return s.handleFailure(step, result.ExitCode, result.Stderr)
	}

	if o.verify && o.planner != nil {
		verdict, verr := o.planner.VerifyResult(s.runCtx, step, result)
		if verr != nil {
			// Verification is advisory; a provider outage must not fail a
			// command that exited cleanly.
			o.logger.Warn("result verification unavailable",
				"plan_id", planID, "step", step.Number, "error", verr)
		} else {
			o.mu.Lock()
			v := verdict
			step.Verification = &v
			o.mu.Unlock()
			if !verdict.Success {
				return s.handleFailure(step, result.ExitCode, verdict.Explanation)
			}
		}
	}

	o.mu.Lock()
	step.Status = types.StepSucceeded
	touch(s.plan)
	snapshot := s.plan.Clone()
	o.mu.Unlock()
	o.emitter.StepCompleted(planID, step.Number, result.ExitCode, result.Stdout, result.Stderr)
	o.persist(s.runCtx, snapshot)
	return outcomeAdvance
}

// awaitConfirmation opens the risky-command gate and blocks until the user
// responds or the plan is aborted. Returns proceed=true when execution of the
// step should continue.
func (s *session) awaitConfirmation(step *types.Step) (stepOutcome, bool) {
	o := s.orch
	req := &types.ConfirmationRequest{
		CommandID:  step.Command.ID,
		PlanID:     s.plan.ID,
		StepNumber: step.Number,
		CreatedAt:  time.Now().UTC(),
	}
	var rationales []string
	if step.Assessment != nil {
		for _, m := range step.Assessment.Matches {
			rationales = append(rationales, m.Description)
		}
	}

	o.mu.Lock()
	s.pendingConfirm = req
	s.pause = pauseConfirmation
	o.mu.Unlock()
	o.emitter.ConfirmationRequired(s.plan.ID, step.Number, step.Command.ID, step.Command.Text, rationales)

	d, ok := s.waitDecision()
	if !ok {
		s.finalizeAbort()
		return outcomeStop, false
	}
	switch d.action {
	case ActionProceed:
		o.mu.Lock()
		step.Status = types.StepConfirmed
		step.Feedback = d.feedback
		touch(s.plan)
		o.mu.Unlock()
		return outcomeAdvance, true
	case actionDeny:
		o.mu.Lock()
		step.Feedback = d.feedback
		o.mu.Unlock()
		return s.handleFailure(step, -1, "command rejected by user"), false
	case ActionAbort:
		s.finalizeAbort()
		return outcomeStop, false
	default:
		return s.handleFailure(step, -1, "command rejected by user"), false
	}
}

// awaitObservation pauses the plan for a step the user must perform or check
// by hand.
func (s *session) awaitObservation(step *types.Step) stepOutcome {
	o := s.orch

	o.mu.Lock()
	s.pause = pauseObservation
	s.plan.Status = types.PlanPaused
	touch(s.plan)
	snapshot := s.plan.Clone()
	o.mu.Unlock()
	o.emitter.ObservationRequired(s.plan.ID, step.Number, step.Description)
	o.emitter.PlanPaused(s.plan.ID, step.Number, "awaiting observation")
	o.persist(s.runCtx, snapshot)

	for {
		d, ok := s.waitDecision()
		if !ok {
			s.finalizeAbort()
			return outcomeStop
		}
		switch d.action {
		case ActionSkip:
			o.mu.Lock()
			step.Status = types.StepSkipped
			step.Feedback = d.feedback
			s.plan.Status = types.PlanExecuting
			touch(s.plan)
			o.mu.Unlock()
			return outcomeAdvance
		case ActionAbort:
			s.finalizeAbort()
			return outcomeStop
		case ActionRevise:
			if outcome := s.reviseFromRun(step, d.feedback); outcome == outcomeStop {
				return outcomeStop
			}
			o.mu.Lock()
			s.pause = pauseObservation
			o.mu.Unlock()
		default: // proceed
			o.mu.Lock()
			step.Status = types.StepSucceeded
			step.Feedback = d.feedback
			s.plan.Status = types.PlanExecuting
			touch(s.plan)
			snapshot := s.plan.Clone()
			o.mu.Unlock()
			o.emitter.StepCompleted(s.plan.ID, step.Number, 0, "", "")
			o.persist(s.runCtx, snapshot)
			return outcomeAdvance
		}
	}
}

// handleFailure records the step failure, pauses the plan and blocks on the
// user's skip / revise / abort decision.
func (s *session) handleFailure(step *types.Step, exitCode int, reason string) stepOutcome {
	o := s.orch

	o.mu.Lock()
	step.Status = types.StepFailed
	if step.Stderr == "" {
		step.Stderr = reason
	}
	if step.ExitCode == nil {
		code := exitCode
		step.ExitCode = &code
	}
	s.pause = pauseFailure
	s.plan.Status = types.PlanPaused
	touch(s.plan)
	snapshot := s.plan.Clone()
	o.mu.Unlock()
	o.emitter.StepFailed(s.plan.ID, step.Number, exitCode, step.Stderr, reason)
	o.emitter.PlanPaused(s.plan.ID, step.Number, reason)
	o.persist(s.runCtx, snapshot)

	for {
		d, ok := s.waitDecision()
		if !ok {
			s.finalizeAbort()
			return outcomeStop
		}
		switch d.action {
		case ActionSkip:
			o.mu.Lock()
			step.Status = types.StepSkipped
			step.Feedback = d.feedback
			s.plan.Status = types.PlanExecuting
			touch(s.plan)
			resumed := s.plan.Clone()
			o.mu.Unlock()
			o.persist(s.runCtx, resumed)
			return outcomeAdvance
		case ActionRevise:
			if outcome := s.reviseFromRun(step, d.feedback); outcome == outcomeStop {
				return outcomeStop
			}
			// Revision failed; stay paused and wait for another decision.
			o.mu.Lock()
			s.pause = pauseFailure
			o.mu.Unlock()
		case ActionAbort:
			s.finalizeAbort()
			return outcomeStop
		default:
			// Not part of the failure decision set; keep waiting.
			o.mu.Lock()
			s.pause = pauseFailure
			o.mu.Unlock()
		}
	}
}

// reviseFromRun replaces the plan mid-execution. On success the current plan
// becomes terminal (revised) and the successor awaits review. On provider
// failure the plan is left paused and outcomeAdvance signals the caller to
// keep waiting.
func (s *session) reviseFromRun(step *types.Step, feedback string) stepOutcome {
	o := s.orch

	o.mu.Lock()
	step.Feedback = feedback
	prior := s.plan.Clone()
	o.mu.Unlock()

	revised, err := o.planner.RevisePlan(s.runCtx, prior, feedback)
	if err != nil {
		o.logger.Warn("plan revision failed", "plan_id", s.plan.ID, "error", err)
		return outcomeAdvance
	}
	o.finishRevision(s.runCtx, s, revised)
	return outcomeStop
}

func (s *session) waitDecision() (decision, bool) {
	select {
	case d := <-s.decisions:
		return d, true
	case <-s.runCtx.Done():
		return decision{}, false
	}
}

func (s *session) finalizeComplete() {
	o := s.orch
	o.mu.Lock()
	if s.plan.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	s.plan.Status = types.PlanCompleted
	s.pause = pauseNone
	s.pendingConfirm = nil
	touch(s.plan)
	snapshot := s.plan.Clone()
	o.mu.Unlock()
	o.emitter.PlanCompleted(s.plan.ID)
	o.persist(context.Background(), snapshot)
	o.logger.Info("plan completed", "plan_id", s.plan.ID)
}

func (s *session) finalizeAbort() {
	o := s.orch
	o.mu.Lock()
	if s.plan.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	reason := s.abortReason
	if reason == "" {
		reason = "aborted"
	}
	s.plan.Status = types.PlanAborted
	s.pause = pauseNone
	s.pendingConfirm = nil
	touch(s.plan)
	snapshot := s.plan.Clone()
	o.mu.Unlock()
	o.emitter.PlanAborted(s.plan.ID, reason)
	o.persist(context.Background(), snapshot)
	o.logger.Info("plan aborted", "plan_id", s.plan.ID, "reason", reason)
}
