package event_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/hook-engine/internal/event"
)

func TestParseKind(t *testing.T) {
	for _, k := range event.Kinds {
		parsed, err := event.ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := event.ParseKind("BeforeLunch")
	assert.Error(t, err)
	assert.False(t, event.Kind("").Valid())
}

func TestResolve_ScalarsOnly(t *testing.T) {
	ev := event.New(event.PreToolUse, json.RawMessage(`{
		"tool": {"name": "bash", "args": "rm -rf /tmp", "depth": 2, "dry_run": false},
		"tags": ["a", "b"],
		"empty": null
	}`))

	cases := []struct {
		path string
		want string
		ok   bool
	}{
		{"tool.name", "bash", true},
		{"tool.args", "rm -rf /tmp", true},
		{"tool.depth", "2", true},
		{"tool.dry_run", "false", true},
		{"tool.missing", "", false},
		{"tool", "", false},  // object, not a scalar
		{"tags", "", false},  // array, not a scalar
		{"empty", "", false}, // null resolves as absent
	}
	for _, tc := range cases {
		got, ok := ev.Resolve(tc.path)
		assert.Equal(t, tc.ok, ok, "path %q", tc.path)
		assert.Equal(t, tc.want, got, "path %q", tc.path)
	}
}

func TestResolve_EmptyContext(t *testing.T) {
	ev := event.New(event.Stop, nil)
	_, ok := ev.Resolve("anything")
	assert.False(t, ok)
}

func TestSessionID_FromContext(t *testing.T) {
	ev := event.New(event.SessionStart, json.RawMessage(`{"session_id": "abc-123"}`))
	assert.Equal(t, "abc-123", ev.SessionID())
}

func TestSessionID_EnvFallback(t *testing.T) {
	t.Setenv("CLAUDE_SESSION_ID", "env-session")
	ev := event.New(event.SessionStart, nil)
	assert.Equal(t, "env-session", ev.SessionID())
}
