// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/assistd-org/assistd/internal/orchestrator"
	"github.com/assistd-org/assistd/internal/server/response"
	"github.com/assistd-org/assistd/internal/types"
)

// PlansConfig wires the plan listing, inspection and control handlers.
type PlansConfig struct {
	Service PlanService
	Archive PlanArchive
}

// NewPlanListHandler serves GET /plans.
func NewPlanListHandler(cfg PlansConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			response.Write(w, response.New(http.StatusMethodNotAllowed, "method not allowed"))
			return
		}
		status := types.PlanStatus(strings.TrimSpace(r.URL.Query().Get("status")))
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				response.Write(w, response.New(http.StatusBadRequest, "invalid limit"))
				return
			}
			limit = parsed
		}
		summaries, err := cfg.Archive.List(r.Context(), status, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"plans": summaries})
	})
}

// NewPlanHandler serves GET /plans/{id} and the POST control verbs
// (:accept, :reject, :continue, :abort).
func NewPlanHandler(cfg PlansConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/plans/")
		if rest == "" || strings.Contains(rest, "/") {
			response.Write(w, response.New(http.StatusNotFound, "plan not found"))
			return
		}

		id, verb := splitVerb(rest)
		if verb == "" {
			handlePlanGet(cfg, w, r, id)
			return
		}

		if r.Method != http.MethodPost {
			response.Write(w, response.New(http.StatusMethodNotAllowed, "method not allowed"))
			return
		}
		switch verb {
		case "accept":
			handlePlanAccept(cfg, w, r, id)
		case "reject":
			handlePlanReject(cfg, w, r, id)
		case "continue":
			handlePlanContinue(cfg, w, r, id)
		case "abort":
			handlePlanAbort(cfg, w, r, id)
		default:
			response.Write(w, response.New(http.StatusNotFound, "unknown plan action"))
		}
	})
}

func handlePlanGet(cfg PlansConfig, w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		response.Write(w, response.New(http.StatusMethodNotAllowed, "method not allowed"))
		return
	}
	plan, err := cfg.Service.Plan(id)
	if errors.Is(err, orchestrator.ErrPlanNotFound) && cfg.Archive != nil {
		// Plans from earlier processes still live in the store.
		plan, err = cfg.Archive.Get(r.Context(), id)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	view := map[string]any{"plan": plan}
	if pending, ok := cfg.Service.PendingConfirmation(id); ok {
		view["pending_confirmation"] = pending
	}
	writeJSON(w, http.StatusOK, view)
}

func handlePlanAccept(cfg PlansConfig, w http.ResponseWriter, r *http.Request, id string) {
	if err := cfg.Service.AcceptPlan(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	plan, err := cfg.Service.Plan(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"plan": plan})
}

func handlePlanReject(cfg PlansConfig, w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Feedback string `json:"feedback"`
	}
	if err := decodeBody(r, &body); err != nil {
		response.Write(w, response.New(http.StatusBadRequest, "invalid JSON body", response.WithDetail(err.Error())))
		return
	}
	revised, err := cfg.Service.RejectPlan(r.Context(), id, body.Feedback)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/plans/"+revised.ID)
	writeJSON(w, http.StatusOK, map[string]any{"plan": revised})
}

func handlePlanContinue(cfg PlansConfig, w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Action   string `json:"action"`
		Feedback string `json:"feedback"`
	}
	if err := decodeBody(r, &body); err != nil {
		response.Write(w, response.New(http.StatusBadRequest, "invalid JSON body", response.WithDetail(err.Error())))
		return
	}
	action := orchestrator.Action(strings.ToLower(strings.TrimSpace(body.Action)))
	switch action {
	case orchestrator.ActionProceed, orchestrator.ActionSkip, orchestrator.ActionRevise, orchestrator.ActionAbort:
	default:
		response.Write(w, response.New(http.StatusUnprocessableEntity, "invalid decision",
			response.WithDetail("action must be one of proceed, skip, revise, abort")))
		return
	}
	if err := cfg.Service.ContinuePlan(r.Context(), id, action, body.Feedback); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"plan_id": id, "action": string(action)})
}

func handlePlanAbort(cfg PlansConfig, w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		response.Write(w, response.New(http.StatusBadRequest, "invalid JSON body", response.WithDetail(err.Error())))
		return
	}
	if err := cfg.Service.AbortPlan(r.Context(), id, body.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"plan_id": id, "status": string(types.PlanAborted)})
}

// splitVerb separates "id:verb" into its parts. Verb is empty for plain ids.
func splitVerb(rest string) (id, verb string) {
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		return rest[:idx], rest[idx+1:]
	}
	return rest, ""
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxTaskBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
