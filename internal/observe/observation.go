// Package observe implements the continuous-learning side of the engine:
// the fan-out bus every processed event is published to, and the
// append-only JSONL observation log written by a bus subscriber.
package observe

import (
	"encoding/json"
	"time"

	"github.com/compresr/hook-engine/internal/event"
)

// Status classifies the outcome of one hook execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
	StatusSkipped Status = "skipped"
)

// Outcome records how one hook execution went.
type Outcome struct {
	Status Status `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	// Async marks a non-blocking command whose result arrives in a
	// follow-up observation.
	Async bool `json:"async,omitempty"`
}

// Observation is the persisted record of one dispatched event. Immutable
// once published. Seq is gap-free and strictly increasing within a process
// lifetime; FollowUpOf links a late async-command result back to the
// observation of the dispatch that spawned it.
type Observation struct {
	Seq        uint64             `json:"seq"`
	FollowUpOf *uint64            `json:"follow_up_of,omitempty"`
	ID         string             `json:"id"`
	Timestamp  time.Time          `json:"timestamp"`
	Event      event.Kind         `json:"event"`
	SessionID  string             `json:"session_id,omitempty"`
	Context    json.RawMessage    `json:"context,omitempty"`
	Matched    []string           `json:"matched_hook_ids"`
	Outcomes   map[string]Outcome `json:"outcomes,omitempty"`
	Failed     bool               `json:"failed,omitempty"`
}
