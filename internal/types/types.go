// SPDX-License-Identifier: AGPL-3.0-or-later

// Package types defines the data model shared by the assistd core: plans,
// steps, commands, risk assessments, confirmation gates and execution results.
package types

import (
	"fmt"
	"strings"
	"time"
)

// PlanStatus tracks the lifecycle of a plan as a whole.
type PlanStatus string

const (
	PlanDraft         PlanStatus = "draft"
	PlanPendingReview PlanStatus = "pending_review"
	PlanAccepted      PlanStatus = "accepted"
	PlanExecuting     PlanStatus = "executing"
	PlanPaused        PlanStatus = "paused"
	PlanCompleted     PlanStatus = "completed"
	PlanAborted       PlanStatus = "aborted"
	PlanRevised       PlanStatus = "revised"
)

// Terminal reports whether no further transitions are possible for the plan.
func (s PlanStatus) Terminal() bool {
	switch s {
	case PlanCompleted, PlanAborted, PlanRevised:
		return true
	default:
		return false
	}
}

// StepStatus tracks the per-step sub-cycle while a plan executes.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepConfirmed StepStatus = "confirmed"
	StepSkipped   StepStatus = "skipped"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// Done reports whether the step counts towards plan completion. A failed step
// is terminal for the step but blocks the plan until skipped or revised away.
func (s StepStatus) Done() bool {
	return s == StepSucceeded || s == StepSkipped
}

// CommandKind selects the execution path for a command.
type CommandKind string

const (
	CommandShell       CommandKind = "shell"
	CommandAppleScript CommandKind = "applescript"
)

// Command is the literal executable string for a step, plus the entity
// bindings that produced it so the command can be audited or regenerated.
type Command struct {
	ID       string            `json:"id"`
	Kind     CommandKind       `json:"kind"`
	Text     string            `json:"text"`
	Entities map[string]string `json:"entities,omitempty"`
}

// RuleMatch is one triggered safety rule: the pattern text and its
// human-readable rationale.
type RuleMatch struct {
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
}

// RiskAssessment is the safety checker's verdict for a single command. It is
// produced fresh per command and never cached; the same step can resolve to
// different commands across revisions.
type RiskAssessment struct {
	Risky   bool        `json:"risky"`
	Matches []RuleMatch `json:"matches,omitempty"`
}

// ExecutionResult captures one command run to completion or timeout.
type ExecutionResult struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	TimedOut  bool          `json:"timed_out"`
	Truncated bool          `json:"truncated"`
}

// Verification is the LLM's best-effort judgment of whether a step's output
// actually satisfies its description.
type Verification struct {
	Success     bool   `json:"success"`
	Explanation string `json:"explanation,omitempty"`
}

// Step is one unit of work within a plan. Numbers are 1-based and contiguous
// and define execution order.
type Step struct {
	Number      int           `json:"number"`
	Description string        `json:"description"`
	Command     *Command      `json:"command,omitempty"`
	IsRisky     bool          `json:"is_risky"`
	IsObserve   bool          `json:"is_observe,omitempty"`
	Status      StepStatus    `json:"status"`
	Stdout      string        `json:"stdout,omitempty"`
	Stderr      string        `json:"stderr,omitempty"`
	ExitCode    *int          `json:"exit_code,omitempty"`
	Feedback    string        `json:"feedback,omitempty"`
	Assessment  *RiskAssessment `json:"assessment,omitempty"`
	Verification *Verification  `json:"verification,omitempty"`
}

// Plan is an ordered set of steps derived from one user task request. A plan
// is owned exclusively by the orchestrator for its lifetime and is immutable
// once completed or aborted.
type Plan struct {
	ID              string     `json:"id"`
	Request         string     `json:"request"`
	Steps           []*Step    `json:"steps"`
	Status          PlanStatus `json:"status"`
	RevisionOf      string     `json:"revision_of,omitempty"`
	RevisionSummary string     `json:"revision_summary,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ConfirmationRequest is a pending risky-command gate. It exists only between
// "risky command produced" and "user responds"; at most one per step.
type ConfirmationRequest struct {
	CommandID  string    `json:"command_id"`
	PlanID     string    `json:"plan_id"`
	StepNumber int       `json:"step_number"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks plan shape at the LLM ingestion boundary: at least one step,
// contiguous 1-based numbering, non-empty descriptions. Shape mismatches are
// rejected here rather than propagated as partial objects.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan must include at least one step")
	}
	for i, step := range p.Steps {
		if step == nil {
			return fmt.Errorf("step %d: missing step", i+1)
		}
		if step.Number != i+1 {
			return fmt.Errorf("step %d: expected number %d, got %d", i+1, i+1, step.Number)
		}
		if strings.TrimSpace(step.Description) == "" {
			return fmt.Errorf("step %d: description is required", step.Number)
		}
	}
	return nil
}

// Step returns the step with the given 1-based number, or nil.
func (p *Plan) Step(number int) *Step {
	if p == nil || number < 1 || number > len(p.Steps) {
		return nil
	}
	return p.Steps[number-1]
}

// Clone returns a deep copy safe to hand to event consumers and snapshots.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]*Step, len(p.Steps))
	for i, step := range p.Steps {
		s := *step
		if step.Command != nil {
			cmd := *step.Command
			if step.Command.Entities != nil {
				cmd.Entities = make(map[string]string, len(step.Command.Entities))
				for k, v := range step.Command.Entities {
					cmd.Entities[k] = v
				}
			}
			s.Command = &cmd
		}
		if step.ExitCode != nil {
			code := *step.ExitCode
			s.ExitCode = &code
		}
		if step.Assessment != nil {
			a := *step.Assessment
			a.Matches = append([]RuleMatch(nil), step.Assessment.Matches...)
			s.Assessment = &a
		}
		if step.Verification != nil {
			v := *step.Verification
			s.Verification = &v
		}
		out.Steps[i] = &s
	}
	return &out
}
