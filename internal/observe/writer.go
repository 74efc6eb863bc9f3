package observe

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/hook-engine/internal/event"
)

// DefaultFlushInterval bounds how long a written observation can sit in
// the writer's buffer before reaching disk.
const DefaultFlushInterval = 2 * time.Second

// Writer is the bus subscriber that appends observations to a JSONL log,
// one self-describing record per line. The file handle is owned by the
// writer goroutine exclusively; the log is append-only and never
// rewritten. Flushes happen on a bounded cadence and immediately on a
// Stop event; on bus close the writer drains its buffer, flushes, and
// signals done.
type Writer struct {
	path  string
	flush time.Duration

	f    *os.File
	bw   *bufio.Writer
	done chan struct{}
}

// NewWriter opens (creating if needed) the log file for appending.
func NewWriter(path string, flushInterval time.Duration) (*Writer, error) {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create observation log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open observation log %s: %w", path, err)
	}
	return &Writer{
		path:  path,
		flush: flushInterval,
		f:     f,
		bw:    bufio.NewWriter(f),
		done:  make(chan struct{}),
	}, nil
}

// Start subscribes to the bus and begins consuming in a goroutine.
func (w *Writer) Start(b *Bus) {
	sub := b.Subscribe("observation-log")
	go w.run(sub)
}

// Done is closed once the writer has drained its subscription and synced
// the file after bus close.
func (w *Writer) Done() <-chan struct{} { return w.done }

func (w *Writer) run(sub *Subscription) {
	defer close(w.done)
	defer w.f.Close()

	ticker := time.NewTicker(w.flush)
	defer ticker.Stop()

	for {
		select {
		case o, ok := <-sub.C():
			if !ok {
				w.sync()
				log.Debug().Str("path", w.path).Msg("observation log drained")
				return
			}
			w.append(o)
			if o.Event == event.Stop {
				w.sync()
			}
		case <-ticker.C:
			if err := w.bw.Flush(); err != nil {
				log.Error().Err(err).Str("path", w.path).Msg("observation log flush failed")
			}
		}
	}
}

func (w *Writer) append(o *Observation) {
	data, err := json.Marshal(o)
	if err != nil {
		log.Error().Err(err).Uint64("seq", o.Seq).Msg("observation log marshal failed")
		return
	}
	w.bw.Write(data)
	w.bw.WriteByte('\n')
}

func (w *Writer) sync() {
	if err := w.bw.Flush(); err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("observation log flush failed")
		return
	}
	if err := w.f.Sync(); err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("observation log sync failed")
	}
}

// ReadLog scans an observation log back into records. Lines are decoded in
// file order; a final line not terminated by a newline is an in-progress
// write and is discarded.
func ReadLog(path string) ([]Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := string(data)
	complete := raw
	if idx := strings.LastIndexByte(raw, '\n'); idx >= 0 {
		complete = raw[:idx+1]
	} else {
		complete = ""
	}

	var out []Observation
	for _, line := range strings.Split(complete, "\n") {
		if line == "" {
			continue
		}
		var o Observation
		if err := json.Unmarshal([]byte(line), &o); err != nil {
			return nil, fmt.Errorf("malformed observation record: %w", err)
		}
		out = append(out, o)
	}
	return out, nil
}
