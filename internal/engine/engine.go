// Package engine dispatches lifecycle events to configured hooks.
//
// Dispatch is synchronous with respect to the host: hooks run strictly in
// (order, id) sequence on the calling goroutine, because a blocking hook's
// failure must be able to veto host behavior deterministically. External
// commands for non-blocking hooks are the one exception - they run
// fire-and-forget and their late result is published as a follow-up
// observation.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/hook-engine/internal/event"
	"github.com/compresr/hook-engine/internal/observe"
	"github.com/compresr/hook-engine/internal/registry"
	"github.com/compresr/hook-engine/internal/session"
)

// Builtin is an in-process hook action. It receives the event and returns
// output for the observation log; a non-nil error is an execution failure.
type Builtin func(ctx context.Context, ev *event.Event) (string, error)

// Registry is the hook lookup surface the engine depends on. Satisfied by
// *registry.Registry.
type Registry interface {
	HooksFor(kind event.Kind) []registry.Hook
	List() []registry.Hook
	Reload() error
}

// Config controls engine behavior.
type Config struct {
	// CommandsEnabled gates external-command execution entirely. When
	// false, command hooks fail without spawning anything.
	CommandsEnabled bool

	// ScanPatterns are the disallowed patterns the scan_file_patterns
	// builtin looks for in changed files.
	ScanPatterns []string

	// MinSessionMessages is the user-message count below which
	// evaluate_session considers a session too short to learn from.
	MinSessionMessages int
}

// HookResult pairs a hook id with its execution outcome.
type HookResult struct {
	HookID  string
	Outcome observe.Outcome
}

// DispatchResult is what the host gets back from one Dispatch call.
type DispatchResult struct {
	Seq     uint64
	Results []HookResult
	// Failed is set when a blocking hook failed or timed out, halting
	// the remaining hooks for this event.
	Failed bool
}

// Engine wires the registry, the session store and the bus together.
type Engine struct {
	registry Registry
	bus      *observe.Bus
	sessions session.Store
	cfg      Config

	builtins map[string]Builtin

	scanOnce sync.Once
	scanRes  []*regexp.Regexp

	// pubMu orders sequence assignment with bus publication so observers
	// see gap-free, strictly increasing sequence numbers.
	pubMu sync.Mutex
	seq   uint64

	async sync.WaitGroup
}

// New creates an engine. Call BuiltinNames to seed registry validation
// before loading hooks.
func New(reg Registry, bus *observe.Bus, sessions session.Store, cfg Config) *Engine {
	e := &Engine{
		registry: reg,
		bus:      bus,
		sessions: sessions,
		cfg:      cfg,
	}
	e.builtins = defaultBuiltins(e)
	return e
}

// SetRegistry attaches the hook registry. Split from New because the
// registry needs the engine's builtin names for load-time validation.
// Must be called before the first Dispatch.
func (e *Engine) SetRegistry(reg Registry) {
	e.registry = reg
}

// RegisterBuiltin adds or replaces a builtin handler. Must happen before
// the hook configuration referencing it is loaded.
func (e *Engine) RegisterBuiltin(name string, fn Builtin) {
	e.builtins[name] = fn
}

// BuiltinNames returns the names the registry should accept in builtin
// actions.
func (e *Engine) BuiltinNames() []string {
	names := make([]string, 0, len(e.builtins))
	for n := range e.builtins {
		names = append(names, n)
	}
	return names
}

// Dispatch runs every enabled hook registered for the event's kind, in
// (order, id) sequence, then publishes the observation. The registry
// snapshot is captured once at entry; a concurrent Reload does not affect
// an in-flight dispatch.
func (e *Engine) Dispatch(ctx context.Context, ev *event.Event) (*DispatchResult, error) {
	if !ev.Kind.Valid() {
		return nil, fmt.Errorf("dispatch: unknown event kind %q", ev.Kind)
	}

	e.updateSessions(ev)

	hooks := e.registry.HooksFor(ev.Kind)
	res := &DispatchResult{Results: make([]HookResult, 0, len(hooks))}
	var matched []string
	var deferred []registry.Hook // non-blocking commands, started after publish

	for _, h := range hooks {
		if h.Matcher != nil && !h.Matcher.Eval(ev) {
			res.Results = append(res.Results, HookResult{
				HookID:  h.ID,
				Outcome: observe.Outcome{Status: observe.StatusSkipped},
			})
			continue
		}
		matched = append(matched, h.ID)

		outcome, launch := e.execute(ctx, h, ev)
		if launch {
			deferred = append(deferred, h)
		}
		res.Results = append(res.Results, HookResult{HookID: h.ID, Outcome: outcome})

		if h.Blocking && (outcome.Status == observe.StatusFailure || outcome.Status == observe.StatusTimeout) {
			log.Warn().
				Str("hook", h.ID).
				Str("event", string(ev.Kind)).
				Str("status", string(outcome.Status)).
				Msg("blocking hook failed, halting dispatch")
			res.Failed = true
			break
		}
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res.Seq = e.publish(&observe.Observation{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Event:     ev.Kind,
		SessionID: ev.SessionID(),
		Context:   ev.Context,
		Matched:   matched,
		Outcomes:  outcomeMap(res.Results),
		Failed:    res.Failed,
	})

	for _, h := range deferred {
		e.startAsync(h, ev, res.Seq)
	}
	return res, nil
}

// execute runs one matched hook's action. The second return is true for a
// non-blocking command that should be launched once the observation for
// this dispatch has a sequence number.
func (e *Engine) execute(ctx context.Context, h registry.Hook, ev *event.Event) (observe.Outcome, bool) {
	switch h.Action.Type {
	case registry.ActionBuiltin:
		return e.runBuiltin(ctx, h, ev), false
	case registry.ActionCommand:
		if !e.cfg.CommandsEnabled {
			return observe.Outcome{Status: observe.StatusFailure, Error: "external commands disabled"}, false
		}
		if h.Blocking {
			return e.runCommand(ctx, h, ev), false
		}
		// The launch is the non-blocking contract; the real result
		// arrives in a follow-up observation.
		return observe.Outcome{Status: observe.StatusSuccess, Async: true}, true
	}
	return observe.Outcome{Status: observe.StatusFailure, Error: fmt.Sprintf("unknown action type %q", h.Action.Type)}, false
}

func (e *Engine) runBuiltin(ctx context.Context, h registry.Hook, ev *event.Event) observe.Outcome {
	fn, ok := e.builtins[h.Action.Name]
	if !ok {
		// Load-time validation makes this unreachable for registry-loaded hooks.
		return observe.Outcome{Status: observe.StatusFailure, Error: fmt.Sprintf("unknown builtin %q", h.Action.Name)}
	}
	output, err := fn(ctx, ev)
	if err != nil {
		return observe.Outcome{Status: observe.StatusFailure, Output: output, Error: err.Error()}
	}
	return observe.Outcome{Status: observe.StatusSuccess, Output: output}
}

// startAsync runs a non-blocking command hook off the dispatch path and
// publishes its result as a separate observation referencing the dispatch
// it came from.
func (e *Engine) startAsync(h registry.Hook, ev *event.Event, origSeq uint64) {
	e.async.Add(1)
	go func() {
		defer e.async.Done()
		outcome := e.runCommand(context.Background(), h, ev)
		outcome.Async = true
		seq := origSeq
		e.publish(&observe.Observation{
			ID:         uuid.NewString(),
			FollowUpOf: &seq,
			Timestamp:  time.Now().UTC(),
			Event:      ev.Kind,
			SessionID:  ev.SessionID(),
			Matched:    []string{h.ID},
			Outcomes:   map[string]observe.Outcome{h.ID: outcome},
		})
	}()
}

// updateSessions applies the synchronous session-store side of an event.
// Tool-call counting and learned-skill accounting belong to the
// suggest_compact and evaluate_session builtins.
func (e *Engine) updateSessions(ev *event.Event) {
	if e.sessions == nil {
		return
	}
	id := ev.SessionID()
	if id == "" {
		return
	}
	switch ev.Kind {
	case event.SessionStart:
		if err := e.sessions.Start(id); err != nil {
			log.Error().Err(err).Str("session", id).Msg("session start failed")
		}
	case event.SessionEnd:
		if err := e.sessions.End(id); err != nil {
			log.Error().Err(err).Str("session", id).Msg("session end failed")
		}
	}
}

// publish assigns the next sequence number and hands the observation to
// the bus under one lock, keeping sequence order and publish order
// identical.
func (e *Engine) publish(o *observe.Observation) uint64 {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	e.seq++
	o.Seq = e.seq
	e.bus.Publish(o)
	return o.Seq
}

// ListHooks exposes the registry's full hook set for status display.
func (e *Engine) ListHooks() []registry.Hook {
	return e.registry.List()
}

// GetSessionSnapshot exposes a session snapshot for status display.
func (e *Engine) GetSessionSnapshot(id string) (session.Snapshot, bool) {
	if e.sessions == nil {
		return session.Snapshot{}, false
	}
	return e.sessions.Get(id)
}

// Reload swaps in a fresh hook configuration; on failure the active one
// keeps serving.
func (e *Engine) Reload() error {
	return e.registry.Reload()
}

// Shutdown dispatches a final Stop event, waits (bounded by ctx) for
// in-flight async commands, and closes the bus so subscribers flush and
// terminate. Commands past their timeout are force-terminated by their
// own command contexts rather than awaited indefinitely.
func (e *Engine) Shutdown(ctx context.Context) error {
	if _, err := e.Dispatch(ctx, event.New(event.Stop, nil)); err != nil {
		log.Error().Err(err).Msg("stop dispatch failed during shutdown")
	}

	done := make(chan struct{})
	go func() {
		e.async.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("shutdown deadline reached with async hooks still running")
	}

	e.bus.Close()

	if e.sessions != nil {
		if err := e.sessions.Close(); err != nil {
			return err
		}
	}
	return nil
}

func outcomeMap(results []HookResult) map[string]observe.Outcome {
	if len(results) == 0 {
		return nil
	}
	m := make(map[string]observe.Outcome, len(results))
	for _, r := range results {
		m[r.HookID] = r.Outcome
	}
	return m
}
