// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/assistd-org/assistd/internal/coredb"
	"github.com/assistd-org/assistd/internal/server/requestctx"
	"github.com/assistd-org/assistd/internal/server/response"
)

const (
	maxTaskBodyBytes      = 64 << 10
	defaultIdempotencyTTL = 24 * time.Hour
	tasksEndpoint         = "POST /tasks"
)

// TasksConfig wires the task submission handler.
type TasksConfig struct {
	Service     PlanService
	Idempotency *coredb.IdempotencyStore
}

type taskRequest struct {
	Request string `json:"request"`
}

type tasksHandler struct {
	cfg TasksConfig
}

// NewTasksHandler serves POST /tasks: one natural-language request in, one
// plan awaiting review out. An Idempotency-Key header makes retries safe.
func NewTasksHandler(cfg TasksConfig) http.Handler {
	return &tasksHandler{cfg: cfg}
}

func (h *tasksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.Write(w, response.New(http.StatusMethodNotAllowed, "method not allowed"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTaskBodyBytes+1))
	if err != nil {
		response.Write(w, response.New(http.StatusBadRequest, "unreadable body"))
		return
	}
	if len(body) > maxTaskBodyBytes {
		response.Write(w, response.New(http.StatusRequestEntityTooLarge, "request too large"))
		return
	}

	var req taskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		response.Write(w, response.New(http.StatusBadRequest, "invalid JSON body", response.WithDetail(err.Error())))
		return
	}
	req.Request = strings.TrimSpace(req.Request)
	if req.Request == "" {
		response.Write(w, response.New(http.StatusUnprocessableEntity, "request text is required"))
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	bodyHash := hashBody(body)
	if idemKey != "" && h.cfg.Idempotency != nil {
		stored, status, storedHash, found, err := h.cfg.Idempotency.Lookup(r.Context(), idemKey, tasksEndpoint, time.Now().UTC())
		if err == nil && found {
			if storedHash != bodyHash {
				response.Write(w, response.New(http.StatusConflict, "idempotency key conflict",
					response.WithType("https://assistd.dev/problems/idempotency-conflict"),
					response.WithDetail("the Idempotency-Key was already used with a different body")))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(status)
			_, _ = w.Write(stored)
			return
		}
		if err != nil {
			if logger := requestctx.Logger(r.Context()); logger != nil {
				logger.Warn("idempotency lookup failed", "error", err)
			}
		}
	}

	plan, err := h.cfg.Service.SubmitTask(r.Context(), req.Request)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	payload, err := json.Marshal(plan)
	if err != nil {
		response.Write(w, response.New(http.StatusInternalServerError, "encode plan"))
		return
	}

	if idemKey != "" && h.cfg.Idempotency != nil {
		expires := time.Now().UTC().Add(defaultIdempotencyTTL)
		if err := h.cfg.Idempotency.Store(r.Context(), idemKey, tasksEndpoint, bodyHash, http.StatusCreated, payload, expires); err != nil {
			if logger := requestctx.Logger(r.Context()); logger != nil {
				logger.Warn("idempotency store failed", "error", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/plans/"+plan.ID)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(payload)
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
