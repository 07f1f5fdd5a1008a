// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/assistd-org/assistd/internal/coredb"
	"github.com/assistd-org/assistd/internal/server/sse"
)

func appendEvents(t *testing.T, journal *coredb.Journal, planID string, types ...string) []coredb.JournalEntry {
	t.Helper()
	entries := make([]coredb.JournalEntry, 0, len(types))
	for _, eventType := range types {
		entry, err := journal.Append(context.Background(), planID, eventType, []byte(`{"ok":true}`), time.Now().UTC())
		if err != nil {
			t.Fatalf("append %s: %v", eventType, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func streamOnce(t *testing.T, handler http.Handler, path, lastEventID string) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()
	// Replay is synchronous; give the handler a moment to reach the live loop.
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after context cancel")
	}
	return rec
}

func TestPlanEventsReplaysJournal(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	journal := coredb.NewJournal(db, 0)
	appendEvents(t, journal, "plan-1", "step_started", "step_completed")

	handler := NewPlanEventsHandler(sse.New(sse.Config{}), journal)
	rec := streamOnce(t, handler, "/plans/plan-1/events", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: step_started") || !strings.Contains(body, "event: step_completed") {
		t.Fatalf("replay missing events: %q", body)
	}
	if !strings.Contains(body, "id: 1") || !strings.Contains(body, "id: 2") {
		t.Fatalf("replay missing ids: %q", body)
	}
}

func TestPlanEventsReplaysBacklogLargerThanSubscriberBuffer(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	journal := coredb.NewJournal(db, 0)
	kinds := make([]string, 40)
	for i := range kinds {
		kinds[i] = "step_started"
	}
	appendEvents(t, journal, "plan-1", kinds...)

	handler := NewPlanEventsHandler(sse.New(sse.Config{}), journal)
	rec := streamOnce(t, handler, "/plans/plan-1/events", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "id: 1\n") || !strings.Contains(body, "id: 40\n") {
		t.Fatalf("backlog replay incomplete: %q", body)
	}
}

func TestPlanEventsResumesAfterCursor(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	journal := coredb.NewJournal(db, 0)
	appendEvents(t, journal, "plan-1", "step_started", "step_completed", "plan_completed")

	handler := NewPlanEventsHandler(sse.New(sse.Config{}), journal)
	rec := streamOnce(t, handler, "/plans/plan-1/events", "2")

	body := rec.Body.String()
	if strings.Contains(body, "event: step_started") {
		t.Fatalf("replayed already-seen event: %q", body)
	}
	if !strings.Contains(body, "event: plan_completed") {
		t.Fatalf("missing resumed event: %q", body)
	}
}

func TestPlanEventsExpiredCursor(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	journal := coredb.NewJournal(db, 0)
	appendEvents(t, journal, "plan-1", "step_started")

	handler := NewPlanEventsHandler(sse.New(sse.Config{}), journal)

	req := httptest.NewRequest(http.MethodGet, "/plans/plan-1/events", nil)
	req.Header.Set("Last-Event-ID", "99")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestPlanEventsInvalidCursor(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	journal := coredb.NewJournal(db, 0)

	handler := NewPlanEventsHandler(sse.New(sse.Config{}), journal)

	req := httptest.NewRequest(http.MethodGet, "/plans/plan-1/events", nil)
	req.Header.Set("Last-Event-ID", "not-a-number")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPlanEventsStreamsLiveEvents(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	journal := coredb.NewJournal(db, 0)
	hub := sse.New(sse.Config{})
	handler := NewPlanEventsHandler(hub, journal)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/plans/plan-1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	time.Sleep(100 * time.Millisecond)
	hub.Publish("plan-1", sse.Event{ID: "7", Event: "step_started", Data: `{"step":1}`})
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after context cancel")
	}

	if !strings.Contains(rec.Body.String(), "event: step_started") {
		t.Fatalf("live event missing: %q", rec.Body.String())
	}
}
