package engine

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"

	"github.com/compresr/hook-engine/internal/event"
	"github.com/compresr/hook-engine/internal/observe"
	"github.com/compresr/hook-engine/internal/registry"
)

// stdinPayload builds the JSON envelope piped to an external command:
// the event context with event kind, timestamp and session id injected.
func stdinPayload(ev *event.Event) []byte {
	// sjson may modify its input in place, so work on a copy of the context.
	payload := append([]byte(nil), ev.Context...)
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	payload, _ = sjson.SetBytes(payload, "event", string(ev.Kind))
	payload, _ = sjson.SetBytes(payload, "timestamp", ev.Timestamp.Format(time.RFC3339Nano))
	if id := ev.SessionID(); id != "" {
		payload, _ = sjson.SetBytes(payload, "session_id", id)
	}
	return payload
}

// runCommand spawns the hook's external process with the event envelope on
// stdin, bounded by the hook's timeout. Exceeding the timeout kills the
// process and reports StatusTimeout; a spawn error or non-zero exit is
// StatusFailure. The engine itself never fails because a command did.
func (e *Engine) runCommand(ctx context.Context, h registry.Hook, ev *event.Event) observe.Outcome {
	cctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, h.Action.Path, h.Action.Args...)
	cmd.Stdin = bytes.NewReader(stdinPayload(ev))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		log.Warn().
			Str("hook", h.ID).
			Str("command", h.Action.Path).
			Dur("timeout", h.Timeout).
			Msg("hook command timed out")
		return observe.Outcome{
			Status: observe.StatusTimeout,
			Output: stdout.String(),
			Error:  "command timed out after " + h.Timeout.String(),
		}
	}
	if err != nil {
		reason := err.Error()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			reason = reason + ": " + msg
		}
		return observe.Outcome{Status: observe.StatusFailure, Output: stdout.String(), Error: reason}
	}

	log.Debug().
		Str("hook", h.ID).
		Str("command", h.Action.Path).
		Dur("elapsed", elapsed).
		Msg("hook command completed")
	return observe.Outcome{Status: observe.StatusSuccess, Output: stdout.String()}
}
