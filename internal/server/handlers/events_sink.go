// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/assistd-org/assistd/internal/coredb"
	"github.com/assistd-org/assistd/internal/events"
	"github.com/assistd-org/assistd/internal/server/sse"
)

// EventPublisher receives rendered SSE events for a plan.
type EventPublisher interface {
	Publish(planID string, ev sse.Event)
}

// EventFeed serves live SSE subscriptions for a plan.
type EventFeed interface {
	Subscribe(ctx context.Context, planID string) *sse.Subscription
}

type journalSink struct {
	journal *coredb.Journal
	hub     EventPublisher
	logger  *slog.Logger
}

// NewJournalSink returns an events.Sink that persists each orchestrator event
// in the audit journal and then broadcasts it to the SSE hub. The journal
// sequence becomes the SSE event ID, so Last-Event-ID replay lines up with
// what was persisted.
func NewJournalSink(journal *coredb.Journal, hub EventPublisher, logger *slog.Logger) events.Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &journalSink{
		journal: journal,
		hub:     hub,
		logger:  logger,
	}
}

func (s *journalSink) Emit(ev events.Event) {
	if s == nil || ev.PlanID == "" {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("encode plan event", slog.String("plan_id", ev.PlanID), slog.String("event", ev.Type), slog.String("error", err.Error()))
		return
	}

	out := sse.Event{
		Event:     ev.Type,
		Data:      string(payload),
		Timestamp: ev.Timestamp,
	}
	if s.journal != nil {
		// Persistence runs on its own context; a canceled request must not
		// lose audit entries.
		entry, err := s.journal.Append(context.Background(), ev.PlanID, ev.Type, payload, ev.Timestamp)
		if err != nil {
			s.logger.Error("persist plan event", slog.String("plan_id", ev.PlanID), slog.String("event", ev.Type), slog.String("error", err.Error()))
			return
		}
		out.ID = strconv.FormatInt(entry.Seq, 10)
		out.Timestamp = entry.Timestamp
	}
	if s.hub != nil {
		s.hub.Publish(ev.PlanID, out)
	}
}
