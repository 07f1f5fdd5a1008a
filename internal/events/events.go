// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events carries the orchestrator's progress stream: every state
// change a supervising user needs to see, in emission order.
package events

import (
	"sync"
	"time"
)

const (
	TypeStepStarted           = "step_started"
	TypeStepCompleted         = "step_completed"
	TypeStepFailed            = "step_failed"
	TypeConfirmationRequired  = "risky_command_confirmation_required"
	TypeObservationRequired   = "observation_required"
	TypePlanCompleted         = "plan_completed"
	TypePlanAborted           = "plan_aborted"
	TypePlanPaused            = "plan_paused"
	TypePlanRevised           = "plan_revised"
)

// Event is one entry in a plan's progress stream. Sequence is assigned by the
// emitter and is strictly increasing across all plans it serves.
type Event struct {
	Sequence   int64                  `json:"sequence"`
	Timestamp  time.Time              `json:"timestamp"`
	Type       string                 `json:"type"`
	PlanID     string                 `json:"plan_id"`
	StepNumber int                    `json:"step_number,omitempty"`
	CommandID  string                 `json:"command_id,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Sink consumes stamped events. Implementations must tolerate concurrent
// calls; the emitter serialises emission but sinks may be shared.
type Sink interface {
	Emit(Event)
}

// Emitter stamps events with a sequence number and timestamp and fans them
// out to its sinks. A nil *Emitter drops everything, so callers never guard.
type Emitter struct {
	mu   sync.Mutex
	seq  int64
	sink Sink
}

func NewEmitter(sinks ...Sink) *Emitter {
	sink := NewCompositeSink(sinks...)
	if sink == nil {
		return nil
	}
	return &Emitter{sink: sink}
}

func (e *Emitter) emit(ev Event) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.seq++
	ev.Sequence = e.seq
	ev.Timestamp = time.Now().UTC()
	e.sink.Emit(ev)
	e.mu.Unlock()
}

func (e *Emitter) StepStarted(planID string, step int, commandID, commandText string) {
	e.emit(Event{
		Type:       TypeStepStarted,
		PlanID:     planID,
		StepNumber: step,
		CommandID:  commandID,
		Data:       map[string]interface{}{"command": commandText},
	})
}

func (e *Emitter) StepCompleted(planID string, step int, exitCode int, stdout, stderr string) {
	e.emit(Event{
		Type:       TypeStepCompleted,
		PlanID:     planID,
		StepNumber: step,
		Data: map[string]interface{}{
			"exit_code": exitCode,
			"stdout":    stdout,
			"stderr":    stderr,
		},
	})
}

func (e *Emitter) StepFailed(planID string, step int, exitCode int, stderr, reason string) {
	e.emit(Event{
		Type:       TypeStepFailed,
		PlanID:     planID,
		StepNumber: step,
		Message:    reason,
		Data: map[string]interface{}{
			"exit_code": exitCode,
			"stderr":    stderr,
		},
	})
}

func (e *Emitter) ConfirmationRequired(planID string, step int, commandID, commandText string, rationales []string) {
	e.emit(Event{
		Type:       TypeConfirmationRequired,
		PlanID:     planID,
		StepNumber: step,
		CommandID:  commandID,
		Data: map[string]interface{}{
			"command":    commandText,
			"rationales": rationales,
		},
	})
}

func (e *Emitter) ObservationRequired(planID string, step int, description string) {
	e.emit(Event{
		Type:       TypeObservationRequired,
		PlanID:     planID,
		StepNumber: step,
		Message:    description,
	})
}

func (e *Emitter) PlanCompleted(planID string) {
	e.emit(Event{Type: TypePlanCompleted, PlanID: planID})
}

func (e *Emitter) PlanAborted(planID string, reason string) {
	e.emit(Event{Type: TypePlanAborted, PlanID: planID, Message: reason})
}

func (e *Emitter) PlanPaused(planID string, step int, reason string) {
	e.emit(Event{
		Type:       TypePlanPaused,
		PlanID:     planID,
		StepNumber: step,
		Message:    reason,
	})
}

func (e *Emitter) PlanRevised(planID, revisedPlanID, summary, diff string) {
	e.emit(Event{
		Type:    TypePlanRevised,
		PlanID:  planID,
		Message: summary,
		Data: map[string]interface{}{
			"revised_plan_id": revisedPlanID,
			"diff":            diff,
		},
	})
}
