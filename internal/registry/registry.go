// Package registry owns the hook configuration.
//
// DESIGN: Load is fail-fast. Every problem in a hooks.json - schema
// violations, unknown event kinds, matcher syntax errors, duplicate ids -
// is collected into a single LoadError and the whole load is rejected; the
// engine never sees a partially valid configuration. The active set is held
// behind an atomic pointer so Reload swaps it without locking readers, and
// a dispatch in flight keeps the snapshot it started with.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "embed"

	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/compresr/hook-engine/internal/event"
	"github.com/compresr/hook-engine/internal/matcher"
)

//go:embed schema.json
var schemaJSON []byte

// DefaultCommandTimeout applies to command hooks that omit timeoutMs.
const DefaultCommandTimeout = 10 * time.Second

// ActionType discriminates the two action variants.
type ActionType string

const (
	ActionBuiltin ActionType = "builtin"
	ActionCommand ActionType = "command"
)

// Action is what a matched hook does: run a named in-process handler or
// spawn an external command.
type Action struct {
	Type ActionType `json:"type"`
	Name string     `json:"name,omitempty"` // builtin handler name
	Path string     `json:"path,omitempty"` // command executable
	Args []string   `json:"args,omitempty"`
}

// Hook is one fully resolved, compiled hook.
type Hook struct {
	ID          string
	Event       event.Kind
	MatcherText string
	Matcher     matcher.Expr // nil means always match
	Action      Action
	Blocking    bool
	Timeout     time.Duration
	Order       int
	Enabled     bool
}

// Definition is the raw hooks.json record. Unknown fields are ignored by
// the JSON decoder; absent enabled defaults to true.
type Definition struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Matcher   string `json:"matcher,omitempty"`
	Action    Action `json:"action"`
	Blocking  bool   `json:"blocking"`
	TimeoutMs int    `json:"timeoutMs"`
	Order     int    `json:"order"`
	Enabled   *bool  `json:"enabled"`
}

type configFile struct {
	Hooks []Definition `json:"hooks"`
}

// Problem is one reason a load was rejected.
type Problem struct {
	HookID string
	Err    error
}

// LoadError aggregates every problem found in one load attempt.
type LoadError struct {
	Problems []Problem
}

func (e *LoadError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		id := p.HookID
		if id == "" {
			id = "(config)"
		}
		parts = append(parts, fmt.Sprintf("%s: %v", id, p.Err))
	}
	return fmt.Sprintf("hook configuration invalid: %d problem(s): %s",
		len(e.Problems), strings.Join(parts, "; "))
}

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("registry: bad embedded schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("hooks-schema.json", doc); err != nil {
		panic(fmt.Sprintf("registry: bad embedded schema: %v", err))
	}
	s, err := c.Compile("hooks-schema.json")
	if err != nil {
		panic(fmt.Sprintf("registry: bad embedded schema: %v", err))
	}
	return s
}

// snapshot is an immutable view of the loaded configuration.
type snapshot struct {
	hooks  []Hook // every hook, sorted by (order, id)
	byKind map[event.Kind][]Hook
}

// Registry holds the active hook configuration behind an atomic pointer.
type Registry struct {
	path     string
	builtins map[string]struct{}
	snap     atomic.Pointer[snapshot]
	loaded   atomic.Bool // a configuration file has been read successfully
}

// New creates a registry reading from path. knownBuiltins is the closed
// set of builtin handler names accepted in actions. The registry starts
// empty; call Load before serving.
func New(path string, knownBuiltins []string) *Registry {
	builtins := make(map[string]struct{}, len(knownBuiltins))
	for _, n := range knownBuiltins {
		builtins[n] = struct{}{}
	}
	r := &Registry{path: path, builtins: builtins}
	r.snap.Store(buildSnapshot(nil))
	return r
}

// Load reads and activates the configuration. A missing file activates an
// empty set only when nothing was ever loaded; once a configuration is
// active, a vanished file (the GUI rewrites hooks.json by rename) is an
// error and the previous configuration keeps serving. Any other failure
// also leaves the previous configuration serving.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		if r.loaded.Load() {
			return fmt.Errorf("hooks config %s disappeared, keeping previous configuration", r.path)
		}
		log.Warn().Str("path", r.path).Msg("hooks config not found, running with no hooks")
		r.snap.Store(buildSnapshot(nil))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read hooks config %s: %w", r.path, err)
	}

	hooks, err := Parse(data, r.builtins)
	if err != nil {
		return err
	}
	r.snap.Store(buildSnapshot(hooks))
	r.loaded.Store(true)
	log.Info().Str("path", r.path).Int("hooks", len(hooks)).Msg("hooks config loaded")
	return nil
}

// Reload re-runs Load. On failure the active configuration is unchanged.
func (r *Registry) Reload() error {
	return r.Load()
}

// HooksFor returns the enabled hooks for kind, sorted by (order, id).
// The returned slice is shared and must not be mutated.
func (r *Registry) HooksFor(kind event.Kind) []Hook {
	return r.snap.Load().byKind[kind]
}

// List returns every configured hook, including disabled ones, sorted by
// (order, id). Used by introspection consumers.
func (r *Registry) List() []Hook {
	return r.snap.Load().hooks
}

// Parse validates, decodes and compiles a hooks.json payload. It returns
// either the complete hook set or a *LoadError naming every offender.
func Parse(data []byte, knownBuiltins map[string]struct{}) ([]Hook, error) {
	var problems []Problem

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, &LoadError{Problems: []Problem{{Err: fmt.Errorf("invalid JSON: %w", err)}}}
	}
	if err := compiledSchema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, &LoadError{Problems: schemaProblems(verr, doc)}
		}
		return nil, &LoadError{Problems: []Problem{{Err: fmt.Errorf("schema validation: %w", err)}}}
	}

	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &LoadError{Problems: []Problem{{Err: err}}}
	}

	hooks := make([]Hook, 0, len(cfg.Hooks))
	seen := make(map[string]struct{}, len(cfg.Hooks))
	for i, def := range cfg.Hooks {
		id := def.ID
		if id == "" {
			id = fmt.Sprintf("(record %d)", i)
		}
		if _, dup := seen[def.ID]; dup {
			problems = append(problems, Problem{HookID: id, Err: fmt.Errorf("duplicate hook id")})
			continue
		}
		seen[def.ID] = struct{}{}

		h, errs := resolve(def, knownBuiltins)
		if len(errs) > 0 {
			for _, err := range errs {
				problems = append(problems, Problem{HookID: id, Err: err})
			}
			continue
		}
		hooks = append(hooks, h)
	}

	if len(problems) > 0 {
		return nil, &LoadError{Problems: problems}
	}
	return hooks, nil
}

// schemaProblems flattens a validation error tree into one Problem per
// leaf violation, attributed to the hook record it occurred in. Instance
// locations shaped hooks/<index>/... map back to that record's id when
// the record carries one; everything else reports against the config.
func schemaProblems(verr *jsonschema.ValidationError, doc any) []Problem {
	var problems []Problem
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			problems = append(problems, Problem{
				HookID: recordID(doc, e.InstanceLocation),
				Err:    fmt.Errorf("schema violation %s", e.Error()),
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return problems
}

// recordID resolves an instance location to the id of the hook record it
// points into, or a positional label when the record has no usable id.
func recordID(doc any, location []string) string {
	if len(location) < 2 || location[0] != "hooks" {
		return ""
	}
	idx, err := strconv.Atoi(location[1])
	if err != nil {
		return ""
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	records, ok := root["hooks"].([]any)
	if !ok || idx < 0 || idx >= len(records) {
		return ""
	}
	if rec, ok := records[idx].(map[string]any); ok {
		if id, ok := rec["id"].(string); ok && id != "" {
			return id
		}
	}
	return fmt.Sprintf("(record %d)", idx)
}

// resolve turns one definition into a compiled Hook, collecting every
// problem with the record rather than stopping at the first.
func resolve(def Definition, knownBuiltins map[string]struct{}) (Hook, []error) {
	var errs []error

	kind, err := event.ParseKind(def.Event)
	if err != nil {
		errs = append(errs, err)
	}

	var expr matcher.Expr
	if def.Matcher != "" {
		expr, err = matcher.Compile(def.Matcher)
		if err != nil {
			errs = append(errs, fmt.Errorf("matcher %q: %w", def.Matcher, err))
		}
	}

	switch def.Action.Type {
	case ActionBuiltin:
		if _, ok := knownBuiltins[def.Action.Name]; !ok {
			errs = append(errs, fmt.Errorf("unknown builtin %q", def.Action.Name))
		}
	case ActionCommand:
		if def.Action.Path == "" {
			errs = append(errs, fmt.Errorf("command action requires path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown action type %q", def.Action.Type))
	}

	if len(errs) > 0 {
		return Hook{}, errs
	}

	timeout := DefaultCommandTimeout
	if def.TimeoutMs > 0 {
		timeout = time.Duration(def.TimeoutMs) * time.Millisecond
	}
	enabled := true
	if def.Enabled != nil {
		enabled = *def.Enabled
	}

	return Hook{
		ID:          def.ID,
		Event:       kind,
		MatcherText: def.Matcher,
		Matcher:     expr,
		Action:      def.Action,
		Blocking:    def.Blocking,
		Timeout:     timeout,
		Order:       def.Order,
		Enabled:     enabled,
	}, nil
}

func buildSnapshot(hooks []Hook) *snapshot {
	sorted := make([]Hook, len(hooks))
	copy(sorted, hooks)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].ID < sorted[j].ID
	})

	byKind := make(map[event.Kind][]Hook)
	for _, h := range sorted {
		if !h.Enabled {
			continue
		}
		byKind[h.Event] = append(byKind[h.Event], h)
	}
	return &snapshot{hooks: sorted, byKind: byKind}
}
