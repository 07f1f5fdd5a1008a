// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// WriterSink renders events to a stream, one per line, in either a compact
// human-readable form or JSON. Used by the CLI run path.
type WriterSink struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

// NewWriterSink returns nil for a nil writer; like a nil Emitter, a nil
// *WriterSink silently drops everything.
func NewWriterSink(out io.Writer, json bool) *WriterSink {
	if out == nil {
		return nil
	}
	return &WriterSink{out: out, json: json}
}

func (w *WriterSink) Emit(ev Event) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.json {
		payload, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(w.out, "{\"error\":%q}\n", err.Error())
			return
		}
		fmt.Fprintf(w.out, "%s\n", payload)
		return
	}

	fmt.Fprintf(w.out, "[%d] %s plan=%s", ev.Sequence, ev.Type, ev.PlanID)
	if ev.StepNumber > 0 {
		fmt.Fprintf(w.out, " step=%d", ev.StepNumber)
	}
	if ev.CommandID != "" {
		fmt.Fprintf(w.out, " command=%s", ev.CommandID)
	}
	if ev.Message != "" {
		fmt.Fprintf(w.out, " msg=%q", ev.Message)
	}
	for _, k := range []string{"command", "exit_code", "rationales", "revised_plan_id"} {
		if v, ok := ev.Data[k]; ok {
			fmt.Fprintf(w.out, " %s=%v", k, v)
		}
	}
	fmt.Fprintln(w.out)
}
