// Package event defines the lifecycle events the host hands to the engine.
//
// Events carry an opaque JSON context. Matcher expressions and builtin
// handlers address fields inside it by dotted path (e.g. "tool.name");
// resolution only surfaces scalar values, so objects and arrays behave
// like missing fields.
package event

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/gjson"
)

// Kind identifies a lifecycle event. The set is closed.
type Kind string

const (
	SessionStart Kind = "SessionStart"
	SessionEnd   Kind = "SessionEnd"
	PreCompact   Kind = "PreCompact"
	PreToolUse   Kind = "PreToolUse"
	PostToolUse  Kind = "PostToolUse"
	Stop         Kind = "Stop"
	Observe      Kind = "Observe"
)

// Kinds lists every valid event kind.
var Kinds = []Kind{SessionStart, SessionEnd, PreCompact, PreToolUse, PostToolUse, Stop, Observe}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind converts a string to a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// Event is one lifecycle notification from the host.
type Event struct {
	Kind      Kind            `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// New creates an event stamped with the current time.
func New(kind Kind, context json.RawMessage) *Event {
	return &Event{Kind: kind, Timestamp: time.Now().UTC(), Context: context}
}

// SessionID returns the session identifier from the context's "session_id"
// field, falling back to the CLAUDE_SESSION_ID environment variable. Empty
// when neither is set.
func (e *Event) SessionID() string {
	if id, ok := e.Resolve("session_id"); ok {
		return id
	}
	return os.Getenv("CLAUDE_SESSION_ID")
}

// Resolve walks the context by dotted path and returns the canonical string
// form of the scalar found there. Strings resolve verbatim, numbers and
// booleans to their JSON text. Missing paths, nulls, objects and arrays
// resolve as absent.
func (e *Event) Resolve(path string) (string, bool) {
	if len(e.Context) == 0 {
		return "", false
	}
	r := gjson.GetBytes(e.Context, path)
	if !r.Exists() {
		return "", false
	}
	switch r.Type {
	case gjson.String:
		return r.Str, true
	case gjson.Number, gjson.True, gjson.False:
		return r.Raw, true
	default:
		// Null, objects and arrays are not comparable scalars.
		return "", false
	}
}
