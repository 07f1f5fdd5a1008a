// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/assistd-org/assistd/internal/coredb"
	"github.com/assistd-org/assistd/internal/llm"
	"github.com/assistd-org/assistd/internal/types"
)

func postTask(t *testing.T, handler http.Handler, body, idemKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body))
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitTaskCreatesPlan(t *testing.T) {
	t.Parallel()

	svc := &fakeService{plan: testPlan("plan-1")}
	handler := NewTasksHandler(TasksConfig{Service: svc})

	rec := postTask(t, handler, `{"request":"tidy the downloads folder"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != "/plans/plan-1" {
		t.Fatalf("Location = %q", got)
	}
	var plan types.Plan
	if err := json.Unmarshal(rec.Body.Bytes(), &plan); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if plan.ID != "plan-1" || plan.Status != types.PlanPendingReview {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if svc.gotRequest != "tidy the downloads folder" {
		t.Fatalf("request text = %q", svc.gotRequest)
	}
}

func TestSubmitTaskRejectsEmptyRequest(t *testing.T) {
	t.Parallel()

	handler := NewTasksHandler(TasksConfig{Service: &fakeService{}})

	rec := postTask(t, handler, `{"request":"  "}`, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSubmitTaskRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	handler := NewTasksHandler(TasksConfig{Service: &fakeService{}})

	rec := postTask(t, handler, `{"request":`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSubmitTaskMethodNotAllowed(t *testing.T) {
	t.Parallel()

	handler := NewTasksHandler(TasksConfig{Service: &fakeService{}})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSubmitTaskProviderFailure(t *testing.T) {
	t.Parallel()

	svc := &fakeService{submitErr: &llm.ProviderError{Op: "generate plan"}}
	handler := NewTasksHandler(TasksConfig{Service: svc})

	rec := postTask(t, handler, `{"request":"anything"}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSubmitTaskIdempotentReplay(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := &fakeService{plan: testPlan("plan-1")}
	handler := NewTasksHandler(TasksConfig{
		Service:     svc,
		Idempotency: coredb.NewIdempotencyStore(db),
	})

	body := `{"request":"tidy the downloads folder"}`
	first := postTask(t, handler, body, "key-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}

	second := postTask(t, handler, body, "key-1")
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d", second.Code)
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatal("replay not flagged")
	}
	if svc.submitCount != 1 {
		t.Fatalf("submit called %d times, want 1", svc.submitCount)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatal("replayed body differs from original")
	}
}

func TestSubmitTaskIdempotencyConflict(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := &fakeService{plan: testPlan("plan-1")}
	handler := NewTasksHandler(TasksConfig{
		Service:     svc,
		Idempotency: coredb.NewIdempotencyStore(db),
	})

	first := postTask(t, handler, `{"request":"tidy the downloads folder"}`, "key-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}

	conflict := postTask(t, handler, `{"request":"something else entirely"}`, "key-1")
	if conflict.Code != http.StatusConflict {
		t.Fatalf("conflict status = %d", conflict.Code)
	}
	if svc.submitCount != 1 {
		t.Fatalf("submit called %d times, want 1", svc.submitCount)
	}
}
