// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"net/http"
	"strings"

	"github.com/assistd-org/assistd/internal/server/response"
)

// NewCommandConfirmHandler serves POST /commands/{id}:confirm. The body
// carries the user's verdict on the risky command; a reference to a command
// that is not awaiting confirmation is rejected as stale.
func NewCommandConfirmHandler(service PlanService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			response.Write(w, response.New(http.StatusMethodNotAllowed, "method not allowed"))
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/commands/")
		id, verb := splitVerb(rest)
		if id == "" || verb != "confirm" || strings.Contains(id, "/") {
			response.Write(w, response.New(http.StatusNotFound, "unknown command action"))
			return
		}

		var body struct {
			Confirmed *bool  `json:"confirmed"`
			Feedback  string `json:"feedback"`
		}
		if err := decodeBody(r, &body); err != nil {
			response.Write(w, response.New(http.StatusBadRequest, "invalid JSON body", response.WithDetail(err.Error())))
			return
		}
		if body.Confirmed == nil {
			response.Write(w, response.New(http.StatusUnprocessableEntity, "confirmed is required"))
			return
		}

		if err := service.ConfirmCommand(r.Context(), id, *body.Confirmed, body.Feedback); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
