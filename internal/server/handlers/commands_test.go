// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/assistd-org/assistd/internal/orchestrator"
)

func confirmRequest(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestConfirmCommandApprove(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	handler := NewCommandConfirmHandler(svc)

	rec := confirmRequest(t, handler, "/commands/cmd-1:confirm", `{"confirmed":true,"feedback":"looks fine"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.confirmedID != "cmd-1" || !svc.approved {
		t.Fatalf("recorded %q approved=%v", svc.confirmedID, svc.approved)
	}
	if svc.gotFeedback != "looks fine" {
		t.Fatalf("feedback = %q", svc.gotFeedback)
	}
}

func TestConfirmCommandDeny(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	handler := NewCommandConfirmHandler(svc)

	rec := confirmRequest(t, handler, "/commands/cmd-1:confirm", `{"confirmed":false}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.approved {
		t.Fatal("denial recorded as approval")
	}
}

func TestConfirmCommandRequiresVerdict(t *testing.T) {
	t.Parallel()

	handler := NewCommandConfirmHandler(&fakeService{})
	rec := confirmRequest(t, handler, "/commands/cmd-1:confirm", `{}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestConfirmCommandStaleReference(t *testing.T) {
	t.Parallel()

	svc := &fakeService{confirmErr: orchestrator.ErrStaleReference}
	handler := NewCommandConfirmHandler(svc)

	rec := confirmRequest(t, handler, "/commands/cmd-old:confirm", `{"confirmed":true}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestConfirmCommandUnknownVerb(t *testing.T) {
	t.Parallel()

	handler := NewCommandConfirmHandler(&fakeService{})
	rec := confirmRequest(t, handler, "/commands/cmd-1:cancel", `{"confirmed":true}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestConfirmCommandMethodNotAllowed(t *testing.T) {
	t.Parallel()

	handler := NewCommandConfirmHandler(&fakeService{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/commands/cmd-1:confirm", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}
