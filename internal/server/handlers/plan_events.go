// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/assistd-org/assistd/internal/coredb"
	"github.com/assistd-org/assistd/internal/server/response"
	"github.com/assistd-org/assistd/internal/server/sse"
)

// NewPlanEventsHandler streams events for GET /plans/{id}/events using the
// audit journal for replay and the SSE hub for live fan-out.
func NewPlanEventsHandler(hub EventFeed, journal *coredb.Journal) http.Handler {
	if hub == nil {
		hub = sse.New(sse.Config{})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			response.Write(w, response.New(http.StatusMethodNotAllowed, "method not allowed"))
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/events") {
			return
		}

		planID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/plans/"), "/events")
		if planID == "" || strings.Contains(planID, "/") {
			response.Write(w, response.New(http.StatusNotFound, "plan not found"))
			return
		}

		lastEventID := r.Header.Get("Last-Event-ID")
		if lastEventID == "" {
			lastEventID = r.URL.Query().Get("last_event_id")
		}
		lastSeq, err := coredb.ParseEventID(lastEventID)
		if err != nil {
			response.Write(w, response.New(http.StatusBadRequest, "invalid Last-Event-ID", response.WithDetail(err.Error())))
			return
		}

		ctx := r.Context()
		if journal != nil && lastSeq > 0 {
			earliest, latest, boundsErr := journal.Bounds(ctx, planID)
			if boundsErr != nil {
				response.Write(w, response.New(http.StatusInternalServerError, "journal lookup failed"))
				return
			}
			if earliest > 0 {
				if lastSeq < earliest || (latest > 0 && lastSeq > latest) {
					response.Write(w, response.New(http.StatusGone, "cursor expired",
						response.WithType("https://assistd.dev/problems/cursor-expired"),
						response.WithDetail(fmt.Sprintf("cursor %d no longer retained", lastSeq)),
					))
					return
				}
			}
		}

		// Subscribe before the journal replay so nothing published in
		// between is missed; duplicates are filtered by lastSentSeq below.
		sub := hub.Subscribe(ctx, planID)
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if _, err := w.Write([]byte("retry: 2000\n")); err != nil {
			return
		}
		if _, err := w.Write([]byte(":connected\n\n")); err != nil {
			return
		}
		flush(w)

		lastSentSeq := lastSeq
		if journal != nil {
			err = journal.ForEach(ctx, planID, lastSeq, func(entry coredb.JournalEntry) error {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				event := sse.Event{
					ID:        fmt.Sprintf("%d", entry.Seq),
					Event:     entry.EventType,
					Data:      string(entry.Payload),
					Timestamp: entry.Timestamp,
				}
				if err := writeSSE(w, event); err != nil {
					return err
				}
				lastSentSeq = entry.Seq
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				// Streaming has already begun; the best we can do is abort.
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				msgSeq := extractEventID(msg)
				if msgSeq > 0 && msgSeq <= lastSentSeq {
					continue
				}
				if msgSeq > lastSentSeq {
					lastSentSeq = msgSeq
				}
				if _, err := w.Write(msg); err != nil {
					return
				}
				flush(w)
			}
		}
	})
}

func writeSSE(w http.ResponseWriter, ev sse.Event) error {
	var builder strings.Builder
	if ev.ID != "" {
		builder.WriteString("id: ")
		builder.WriteString(ev.ID)
		builder.WriteByte('\n')
	}
	if ev.Event != "" {
		builder.WriteString("event: ")
		builder.WriteString(ev.Event)
		builder.WriteByte('\n')
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		builder.WriteString("data: ")
		builder.WriteString(line)
		builder.WriteByte('\n')
	}
	builder.WriteByte('\n')
	if _, err := w.Write([]byte(builder.String())); err != nil {
		return err
	}
	flush(w)
	return nil
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func extractEventID(msg []byte) int64 {
	lines := strings.Split(string(msg), "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "id:") {
			id := strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			seq, err := coredb.ParseEventID(id)
			if err == nil {
				return seq
			}
			return 0
		}
		if line == "" {
			break
		}
	}
	return 0
}
