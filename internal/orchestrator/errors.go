// SPDX-License-Identifier: AGPL-3.0-or-later
package orchestrator

import "errors"

var (
	// ErrPlanNotFound indicates the plan id is unknown to this orchestrator.
	ErrPlanNotFound = errors.New("orchestrator: plan not found")

	// ErrStaleReference indicates a confirmation or control request referenced
	// a command or plan state that has already moved on. Stale requests must
	// never mutate anything.
	ErrStaleReference = errors.New("orchestrator: stale reference")

	// ErrInvalidState indicates the requested operation is not valid for the
	// plan's current status.
	ErrInvalidState = errors.New("orchestrator: invalid plan state")

	// ErrInvalidDecision indicates the supplied continue action is not in the
	// decision set for the current pause.
	ErrInvalidDecision = errors.New("orchestrator: invalid decision for current pause")
)
