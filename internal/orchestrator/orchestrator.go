// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator drives plans through their lifecycle: generation,
// review, supervised execution with risky-command gates, failure handling and
// revision. It is the only component that mutates plan state.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/assistd-org/assistd/internal/events"
	"github.com/assistd-org/assistd/internal/execengine"
	"github.com/assistd-org/assistd/internal/types"
)

// Planner produces and revises plans and judges execution output.
type Planner interface {
	GeneratePlan(ctx context.Context, request string) (*types.Plan, error)
	RevisePlan(ctx context.Context, prior *types.Plan, feedback string) (*types.Plan, error)
	VerifyResult(ctx context.Context, step *types.Step, result types.ExecutionResult) (types.Verification, error)
}

// CommandGenerator resolves a step description into an executable command.
type CommandGenerator interface {
	Generate(ctx context.Context, description string, prior map[string]string) (types.Command, error)
}

// SafetyChecker assesses a concrete command against the rule set.
type SafetyChecker interface {
	Assess(cmd types.Command) types.RiskAssessment
}

// Runner executes one command to completion or timeout.
type Runner interface {
	Run(ctx context.Context, command types.Command, timeout time.Duration) (types.ExecutionResult, error)
}

// Store persists plan snapshots across status transitions.
type Store interface {
	Save(ctx context.Context, plan *types.Plan) error
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Planner   Planner
	Generator CommandGenerator
	Checker   SafetyChecker
	Runner    Runner
	Emitter   *events.Emitter
	Store     Store
	Logger    *slog.Logger

	// CommandTimeout bounds each command run. Zero uses the engine default.
	CommandTimeout time.Duration
	// VerifyResults enables the post-step LLM judgment of command output.
	VerifyResults bool
}

// Orchestrator owns every live plan. All state transitions happen under its
// lock; execution itself runs in one goroutine per plan.
type Orchestrator struct {
	planner   Planner
	generator CommandGenerator
	checker   SafetyChecker
	runner    Runner
	emitter   *events.Emitter
	store     Store
	logger    *slog.Logger
	timeout   time.Duration
	verify    bool

	mu       sync.Mutex
	sessions map[string]*session
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = execengine.DefaultTimeout
	}
	return &Orchestrator{
		planner:   cfg.Planner,
		generator: cfg.Generator,
		checker:   cfg.Checker,
		runner:    cfg.Runner,
		emitter:   cfg.Emitter,
		store:     cfg.Store,
		logger:    logger,
		timeout:   timeout,
		verify:    cfg.VerifyResults,
		sessions:  make(map[string]*session),
	}
}

// SubmitTask turns a natural-language request into a plan awaiting review.
// Every command the model proposed is safety-assessed before the plan is
// shown to the user.
func (o *Orchestrator) SubmitTask(ctx context.Context, request string) (*types.Plan, error) {
	plan, err := o.planner.GeneratePlan(ctx, request)
	if err != nil {
		return nil, err
	}
	o.annotate(plan)
	plan.Status = types.PlanPendingReview

	o.mu.Lock()
	o.sessions[plan.ID] = newSession(o, plan)
	snapshot := plan.Clone()
	o.mu.Unlock()

	o.persist(ctx, snapshot)
	o.logger.Info("plan generated",
		"plan_id", plan.ID,
		"steps", len(plan.Steps),
		"request", request)
	return snapshot, nil
}

// Plan returns a snapshot of the identified plan.
func (o *Orchestrator) Plan(id string) (*types.Plan, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return s.plan.Clone(), nil
}

// PendingConfirmation returns the open risky-command gate for the plan, if any.
func (o *Orchestrator) PendingConfirmation(planID string) (types.ConfirmationRequest, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[planID]
	if !ok || s.pendingConfirm == nil {
		return types.ConfirmationRequest{}, false
	}
	return *s.pendingConfirm, true
}

// annotate assigns command ids and risk assessments to every step that
// already carries a command.
func (o *Orchestrator) annotate(plan *types.Plan) {
	for _, step := range plan.Steps {
		if step.Command == nil {
			continue
		}
		if step.Command.ID == "" {
			step.Command.ID = uuid.NewString()
		}
		if o.checker != nil {
			assessment := o.checker.Assess(*step.Command)
			step.Assessment = &assessment
			if assessment.Risky {
				step.IsRisky = true
			}
		}
	}
}

// persist writes the snapshot through the store. Persistence is an audit
// concern and must not fail the operation itself.
func (o *Orchestrator) persist(ctx context.Context, plan *types.Plan) {
	if o.store == nil || plan == nil {
		return
	}
	if err := o.store.Save(ctx, plan); err != nil {
		o.logger.Warn("plan snapshot not persisted", "plan_id", plan.ID, "error", err)
	}
}

// touch updates the plan's modification time. Callers hold o.mu.
func touch(plan *types.Plan) {
	plan.UpdatedAt = time.Now().UTC()
}
