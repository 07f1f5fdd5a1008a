// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Emit(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func TestEmitterAssignsMonotonicSequence(t *testing.T) {
	t.Parallel()

	capture := &captureSink{}
	emitter := NewEmitter(capture)

	emitter.StepStarted("plan-1", 1, "cmd-1", "df -h")
	emitter.StepCompleted("plan-1", 1, 0, "ok", "")
	emitter.PlanCompleted("plan-1")

	if len(capture.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(capture.events))
	}
	for i, ev := range capture.events {
		if ev.Sequence != int64(i+1) {
			t.Fatalf("event %d has sequence %d", i, ev.Sequence)
		}
		if ev.Timestamp.IsZero() {
			t.Fatalf("event %d missing timestamp", i)
		}
	}
	if capture.events[2].Type != TypePlanCompleted {
		t.Fatalf("unexpected type order: %#v", capture.events)
	}
}

func TestEmitterConcurrentEmissionKeepsSequenceDense(t *testing.T) {
	t.Parallel()

	capture := &captureSink{}
	emitter := NewEmitter(capture)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emitter.StepStarted("plan-1", 1, "cmd", "echo")
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, ev := range capture.events {
		seen[ev.Sequence] = true
	}
	if len(seen) != 50 {
		t.Fatalf("expected 50 distinct sequences, got %d", len(seen))
	}
	for s := int64(1); s <= 50; s++ {
		if !seen[s] {
			t.Fatalf("sequence %d missing", s)
		}
	}
}

func TestNilEmitterDropsEverything(t *testing.T) {
	t.Parallel()

	var emitter *Emitter
	emitter.PlanAborted("plan-1", "user abort")
}

func TestCompositeSinkFansOut(t *testing.T) {
	t.Parallel()

	a, b := &captureSink{}, &captureSink{}
	sink := NewCompositeSink(a, nil, b)
	sink.Emit(Event{Type: TypePlanPaused, PlanID: "plan-1"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("fan-out missed a sink: %d/%d", len(a.events), len(b.events))
	}
}

func TestNewCompositeSinkCollapses(t *testing.T) {
	t.Parallel()

	if NewCompositeSink() != nil {
		t.Fatalf("expected nil for no sinks")
	}
	only := &captureSink{}
	if NewCompositeSink(nil, only) != Sink(only) {
		t.Fatalf("expected single sink passthrough")
	}
}

func TestWriterSinkJSONMode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	emitter := NewEmitter(NewWriterSink(&buf, true))
	emitter.ConfirmationRequired("plan-1", 2, "cmd-9", "rm -rf ~/tmp", []string{"recursive forced deletion"})

	var ev Event
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != TypeConfirmationRequired || ev.CommandID != "cmd-9" || ev.StepNumber != 2 {
		t.Fatalf("unexpected event: %#v", ev)
	}
}

func TestWriterSinkTextMode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	emitter := NewEmitter(NewWriterSink(&buf, false))
	emitter.StepFailed("plan-1", 3, 2, "no such file", "command exited non-zero")

	line := buf.String()
	for _, want := range []string{TypeStepFailed, "plan=plan-1", "step=3", "exit_code=2"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line missing %q: %s", want, line)
		}
	}
}

func TestNilWriterSinkDropsEverything(t *testing.T) {
	t.Parallel()

	sink := NewWriterSink(nil, false)
	sink.Emit(Event{Type: TypePlanCompleted, PlanID: "plan-1"})

	// A typed-nil sink slips past the composite's nil filter; emission must
	// still be safe.
	emitter := NewEmitter(sink)
	emitter.PlanCompleted("plan-1")
}
