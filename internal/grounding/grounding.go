// Package grounding tracks tool executions within a single message turn.
//
// The engine decides whether a reply is "grounded" — backed by at least one
// successful external tool call — before it persists the exchange to memory.
// A tracker is attached to the request context at the start of a turn; the
// tool hardening layer records every tool outcome into it.
package grounding

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Event is one recorded tool execution.
type Event struct {
	// Name is the tool name as invoked by the model.
	Name string
	// OK reports whether the result looked like a success.
	OK bool
}

// Tracker accumulates tool events for one inbound message.
type Tracker struct {
	mu     sync.Mutex
	events []Event
}

type ctxKey struct{}

// NewContext returns a child context carrying a fresh Tracker.
func NewContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, &Tracker{})
}

// FromContext returns the Tracker attached to ctx, or nil when absent.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(ctxKey{}).(*Tracker)
	return t
}

// Record appends a tool event to the tracker in ctx. It is a no-op when no
// tracker is attached, so tool wrappers can call it unconditionally.
func Record(ctx context.Context, name string, ok bool) {
	t := FromContext(ctx)
	if t == nil {
		return
	}
	t.mu.Lock()
	t.events = append(t.events, Event{Name: name, OK: ok})
	t.mu.Unlock()
}

// RecordResult records a tool event, inferring success from the result text.
func RecordResult(ctx context.Context, name, result string) {
	Record(ctx, name, !ErrorLike(result))
}

// Events returns a copy of all events recorded in ctx so far.
func Events(ctx context.Context) []Event {
	t := FromContext(ctx)
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// internalToolNames are orchestration plumbing, not evidence of real work.
var internalToolNames = map[string]struct{}{
	"transfer_back_to_supervisor": {},
	"memory_get_context":          {},
	"get_current_datetime":        {},
}

// handoffPrefix marks the per-agent handoff tools synthesized at boot.
const handoffPrefix = "transfer_to_"

// localToolPrefix marks the in-process language and speech tools. They run
// locally and do not count as grounding by themselves.
const localToolPrefix = "localAudio_"

// InternalTool reports whether name is orchestration-internal. A blank name
// is treated as internal.
func InternalTool(name string) bool {
	if strings.TrimSpace(name) == "" {
		return true
	}
	if _, ok := internalToolNames[name]; ok {
		return true
	}
	return strings.HasPrefix(name, handoffPrefix)
}

// GroundedSuccess reports whether at least one non-internal tool call in ctx
// succeeded. Local language/speech tools are excluded: translating or
// synthesizing audio does not make a reply grounded.
func GroundedSuccess(ctx context.Context) bool {
	for _, e := range Events(ctx) {
		if !e.OK {
			continue
		}
		if InternalTool(e.Name) {
			continue
		}
		if strings.HasPrefix(e.Name, localToolPrefix) {
			continue
		}
		return true
	}
	return false
}

// ErrorLike reports whether a tool result string looks like a failure.
//
// Empty output is a failure. JSON objects are inspected for the error shapes
// the providers and the validation layer emit: an "error_type" or "error"
// key, object=="error", or a numeric status/status_code of 400 and above.
// Anything that is not JSON counts as plain-text success.
func ErrorLike(result string) bool {
	trimmed := strings.TrimSpace(result)
	if trimmed == "" {
		return true
	}

	var data any
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return false
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return false
	}

	if _, ok := obj["error_type"]; ok {
		return true
	}
	if v, ok := obj["object"].(string); ok && v == "error" {
		return true
	}
	if _, ok := obj["error"]; ok {
		return true
	}
	status, ok := obj["status"]
	if !ok {
		status = obj["status_code"]
	}
	if n, ok := status.(float64); ok && n >= 400 {
		return true
	}
	return false
}
