// Package session keeps the most recent session snapshots consumed by the
// SessionStart/SessionEnd/PreCompact builtins and the introspection API.
//
// Retention is most-recent-N: starting a session beyond the cap evicts the
// oldest tracked one. Two implementations exist - an in-memory store and a
// sqlite-backed one for state that survives restarts.
package session

import (
	"sync"
	"time"
)

// Snapshot is the tracked state of one session.
type Snapshot struct {
	SessionID         string    `json:"session_id"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	LearnedSkillCount int       `json:"learned_skill_count"`
	ToolCallCount     int       `json:"tool_call_count"`
	Ended             bool      `json:"ended"`
}

// Store tracks session snapshots.
type Store interface {
	// Start creates or overwrites the snapshot for id.
	Start(id string) error

	// End finalizes the snapshot for id. Unknown ids are ignored.
	End(id string) error

	// Touch updates last-activity time. Unknown ids are ignored.
	Touch(id string) error

	// IncrementToolCalls bumps the tool counter and touches activity.
	IncrementToolCalls(id string) error

	// IncrementLearnedSkills bumps the learned-skill counter.
	IncrementLearnedSkills(id string) error

	// Get returns a copy of the snapshot for id.
	Get(id string) (Snapshot, bool)

	// ShouldSuggestCompact reports whether the session's tool-call count
	// has reached the compaction-suggestion threshold.
	ShouldSuggestCompact(id string) bool

	Close() error
}

// Config controls retention and the compaction-suggestion threshold.
type Config struct {
	Retention        int // most-recent-N sessions kept
	CompactThreshold int // tool calls before compaction is suggested
}

const (
	DefaultRetention        = 20
	DefaultCompactThreshold = 50
)

func (c *Config) applyDefaults() {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.CompactThreshold <= 0 {
		c.CompactThreshold = DefaultCompactThreshold
	}
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Snapshot
	order    []string // ids oldest-first, for eviction
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(cfg Config) *MemoryStore {
	cfg.applyDefaults()
	return &MemoryStore{
		cfg:      cfg,
		sessions: make(map[string]*Snapshot),
	}
}

func (s *MemoryStore) Start(id string) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if _, exists := s.sessions[id]; exists {
		// Restarted session: reset in place, keep its recency slot fresh.
		s.removeFromOrder(id)
	}
	s.sessions[id] = &Snapshot{SessionID: id, StartedAt: now, LastActivityAt: now}
	s.order = append(s.order, id)

	for len(s.order) > s.cfg.Retention {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.sessions, oldest)
	}
	return nil
}

func (s *MemoryStore) End(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.sessions[id]; ok {
		snap.Ended = true
		snap.LastActivityAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.sessions[id]; ok {
		snap.LastActivityAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) IncrementToolCalls(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.sessions[id]; ok {
		snap.ToolCallCount++
		snap.LastActivityAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) IncrementLearnedSkills(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.sessions[id]; ok {
		snap.LearnedSkillCount++
	}
	return nil
}

func (s *MemoryStore) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

func (s *MemoryStore) ShouldSuggestCompact(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.sessions[id]
	return ok && snap.ToolCallCount >= s.cfg.CompactThreshold
}

func (s *MemoryStore) Close() error { return nil }

// removeFromOrder drops id from the recency list. Caller holds the lock.
func (s *MemoryStore) removeFromOrder(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

var _ Store = (*MemoryStore)(nil)
