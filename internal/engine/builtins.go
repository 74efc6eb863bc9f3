// Builtin hook handlers. The set is closed: names are validated when the
// hook configuration loads, and each resolves to one of these functions.
package engine

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/compresr/hook-engine/internal/event"
)

const defaultMinSessionMessages = 8

var defaultScanPatterns = []string{`console\.log`, `debugger`}

// allowedDocFiles are documentation files block_doc_creation lets through.
var allowedDocFiles = regexp.MustCompile(`(README|CLAUDE|AGENTS|CONTRIBUTING)\.md$`)

var prURLPattern = regexp.MustCompile(`https://github\.com/[^/]+/[^/]+/pull/\d+`)

func defaultBuiltins(e *Engine) map[string]Builtin {
	return map[string]Builtin{
		"session_start":      e.builtinSessionStart,
		"session_end":        e.builtinSessionEnd,
		"pre_compact":        e.builtinPreCompact,
		"suggest_compact":    e.builtinSuggestCompact,
		"evaluate_session":   e.builtinEvaluateSession,
		"scan_file_patterns": e.builtinScanFilePatterns,
		"block_doc_creation": e.builtinBlockDocCreation,
		"pr_create_notice":   e.builtinPRCreateNotice,
	}
}

// builtinSessionStart reports the freshly tracked session.
func (e *Engine) builtinSessionStart(_ context.Context, ev *event.Event) (string, error) {
	id := ev.SessionID()
	if id == "" || e.sessions == nil {
		return "[SessionStart] no session id, nothing to track", nil
	}
	out := fmt.Sprintf("[SessionStart] tracking session %s", id)
	if snap, ok := e.sessions.Get(id); ok && snap.LearnedSkillCount > 0 {
		out += fmt.Sprintf(" (%d learned skill(s) available)", snap.LearnedSkillCount)
	}
	return out, nil
}

// builtinSessionEnd summarizes the finalized session.
func (e *Engine) builtinSessionEnd(_ context.Context, ev *event.Event) (string, error) {
	id := ev.SessionID()
	if id == "" || e.sessions == nil {
		return "", nil
	}
	snap, ok := e.sessions.Get(id)
	if !ok {
		return fmt.Sprintf("[SessionEnd] session %s was not tracked", id), nil
	}
	return fmt.Sprintf("[SessionEnd] session %s: %d tool call(s), %d learned skill(s)",
		id, snap.ToolCallCount, snap.LearnedSkillCount), nil
}

// builtinPreCompact reads the current snapshot without mutating it and
// reports whether compaction looks worthwhile.
func (e *Engine) builtinPreCompact(_ context.Context, ev *event.Event) (string, error) {
	id := ev.SessionID()
	if id == "" || e.sessions == nil {
		return "", nil
	}
	if e.sessions.ShouldSuggestCompact(id) {
		return "[PreCompact] tool call budget reached, compaction recommended", nil
	}
	return "[PreCompact] below compaction threshold", nil
}

// builtinSuggestCompact counts a tool call toward the compaction threshold
// and nudges once the session crosses it. When the context carries a
// transcript, a token estimate is included for scale.
func (e *Engine) builtinSuggestCompact(_ context.Context, ev *event.Event) (string, error) {
	id := ev.SessionID()
	if id == "" || e.sessions == nil {
		return "", nil
	}
	if err := e.sessions.IncrementToolCalls(id); err != nil {
		return "", err
	}

	var out strings.Builder
	if e.sessions.ShouldSuggestCompact(id) {
		out.WriteString("[Hook] Consider /compact to keep context focused")
	}
	if transcript, ok := ev.Resolve("transcript"); ok {
		if tokens, ok := tokenEstimate(transcript); ok {
			if out.Len() > 0 {
				out.WriteString("\n")
			}
			fmt.Fprintf(&out, "[Hook] transcript is roughly %d tokens", tokens)
		}
	}
	return out.String(), nil
}

// builtinEvaluateSession decides whether a finished session is substantial
// enough to record a learned pattern from.
func (e *Engine) builtinEvaluateSession(_ context.Context, ev *event.Event) (string, error) {
	id := ev.SessionID()
	if id == "" || e.sessions == nil {
		return "", nil
	}
	raw, ok := ev.Resolve("user_message_count")
	if !ok {
		return "[Evaluate] no user message count in context", nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return "[Evaluate] no user message count in context", nil
	}

	min := e.cfg.MinSessionMessages
	if min <= 0 {
		min = defaultMinSessionMessages
	}
	if count < min {
		return "[Evaluate] session too short to learn from", nil
	}
	if err := e.sessions.IncrementLearnedSkills(id); err != nil {
		return "", err
	}
	return fmt.Sprintf("[Evaluate] learned pattern recorded for session %s (%d user messages)", id, count), nil
}

// builtinScanFilePatterns warns when a changed file contains disallowed
// patterns. Unreadable or unnamed files are not failures.
func (e *Engine) builtinScanFilePatterns(_ context.Context, ev *event.Event) (string, error) {
	path, ok := ev.Resolve("tool_input.file_path")
	if !ok || path == "" {
		return "", nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", nil
	}

	patterns := e.scanPatterns()
	var findings []string
	for idx, line := range strings.Split(string(content), "\n") {
		for _, re := range patterns {
			if re.MatchString(line) {
				findings = append(findings, fmt.Sprintf("%d: %s", idx+1, strings.TrimSpace(line)))
				break
			}
		}
		if len(findings) >= 5 {
			break
		}
	}
	if len(findings) == 0 {
		return "", nil
	}
	return fmt.Sprintf("[Hook] WARNING: disallowed pattern(s) in %s\n%s", path, strings.Join(findings, "\n")), nil
}

// builtinBlockDocCreation fails on stray documentation file creation.
// Meant for blocking hooks on PreToolUse.
func (e *Engine) builtinBlockDocCreation(_ context.Context, ev *event.Event) (string, error) {
	path, ok := ev.Resolve("tool_input.file_path")
	if !ok || path == "" {
		return "", nil
	}
	if (strings.HasSuffix(path, ".md") || strings.HasSuffix(path, ".txt")) && !allowedDocFiles.MatchString(path) {
		return "", fmt.Errorf("documentation file creation blocked: %s", path)
	}
	return "", nil
}

// builtinPRCreateNotice surfaces a pull request URL found in tool output.
func (e *Engine) builtinPRCreateNotice(_ context.Context, ev *event.Event) (string, error) {
	out, ok := ev.Resolve("tool_output.output")
	if !ok {
		return "", nil
	}
	if url := prURLPattern.FindString(out); url != "" {
		return "[Hook] PR created: " + url, nil
	}
	return "", nil
}

// scanPatterns compiles the configured disallowed patterns once.
func (e *Engine) scanPatterns() []*regexp.Regexp {
	e.scanOnce.Do(func() {
		sources := e.cfg.ScanPatterns
		if len(sources) == 0 {
			sources = defaultScanPatterns
		}
		for _, src := range sources {
			re, err := regexp.Compile(src)
			if err != nil {
				log.Warn().Str("pattern", src).Err(err).Msg("ignoring invalid scan pattern")
				continue
			}
			e.scanRes = append(e.scanRes, re)
		}
	})
	return e.scanRes
}

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// tokenEstimate counts tokens with the cl100k_base encoding. Best effort:
// if the encoding cannot be initialized the estimate is simply absent.
func tokenEstimate(text string) (int, bool) {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("token encoding unavailable, skipping transcript estimates")
			return
		}
		encoder = enc
	})
	if encoder == nil {
		return 0, false
	}
	return len(encoder.Encode(text, nil, nil)), true
}
