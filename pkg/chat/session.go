// Package chat owns conversation sessions: per-session state, serialized
// turn execution, history, and idle eviction.
package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/tabletalk/tabletalk/pkg/agent"
	"github.com/tabletalk/tabletalk/pkg/dataset"
	"github.com/tabletalk/tabletalk/pkg/index"
)

// Session-level failures returned directly to the caller.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session busy: a turn is already in flight")
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversation entry. Turns are totally ordered by both
// timestamp and list position.
type Turn struct {
	Role      Role               `json:"role"`
	Content   string             `json:"content"`
	Timestamp time.Time          `json:"timestamp"`
	ToolCalls []agent.Invocation `json:"tool_calls,omitempty"`
}

// Session is one ongoing conversation about one dataset. The table, index
// and history are owned exclusively by this session.
type Session struct {
	ID           string
	DatasetPath  string
	CreatedAt    time.Time
	LastActiveAt time.Time

	mu       sync.Mutex
	table    *dataset.Table
	index    *index.Index
	watcher  *index.Watcher
	history  []Turn
	inFlight bool
	closed   bool
}

// tryAcquire marks the session in flight. A session that lost a race with
// Delete or the sweeper reports ErrSessionNotFound, not ErrSessionBusy, so
// callers holding a stale handle get the same answer a fresh lookup would.
func (s *Session) tryAcquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionNotFound
	}
	if s.inFlight {
		return ErrSessionBusy
	}
	s.inFlight = true
	return nil
}

// release clears the in-flight guard. Always deferred by the caller so no
// failure path leaves the guard set.
func (s *Session) release() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// busy reports whether a turn is executing.
func (s *Session) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// snapshot returns the table, index and a copy of history for a turn.
func (s *Session) snapshot() (*dataset.Table, *index.Index, []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table, s.index, append([]Turn(nil), s.history...)
}

// appendTurns appends turns atomically and bumps LastActiveAt: a turn
// commits both its user and assistant entries or neither.
func (s *Session) appendTurns(turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turns...)
	s.LastActiveAt = time.Now()
}

// historyCopy returns the ordered turn sequence.
func (s *Session) historyCopy() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

// swapDataset replaces the table after a dataset rewrite. The index is
// rebuilt by the caller before the swap becomes visible to turns.
func (s *Session) swapDataset(t *dataset.Table) {
	s.mu.Lock()
	s.table = t
	s.mu.Unlock()
}

// close releases the session's index and watcher and marks the session
// unusable for further turns.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	if s.index != nil {
		s.index.Close()
		s.index = nil
	}
}
