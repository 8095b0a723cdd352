package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/personascope/persona"
)

// Session holds one browser session's state. Its mutex serializes interactions
// within the session, including the inference calls of an upload.
type Session struct {
	ID string

	mu    sync.Mutex
	state persona.SessionState

	lastSeen atomic.Int64 // unix nanos
}

func (s *Session) touch(t time.Time) { s.lastSeen.Store(t.UnixNano()) }

// Do runs fn with the session locked and stores the state it returns.
func (s *Session) Do(fn func(persona.SessionState) persona.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fn(s.state)
}

// State returns the current state value.
func (s *Session) State() persona.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Registry maps session IDs to sessions. Idle sessions are dropped by Sweep.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewRegistry(ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// Acquire returns the session for id, or a new Empty session with a fresh ID when
// id is unknown, malformed, or expired.
func (r *Registry) Acquire(id string) *Session {
	now := r.now()
	if _, err := uuid.Parse(id); err == nil {
		// Touch under the registry lock so Sweep cannot drop s before it is returned.
		r.mu.RLock()
		s, ok := r.sessions[id]
		if ok {
			s.touch(now)
		}
		r.mu.RUnlock()
		if ok {
			return s
		}
	}

	s := &Session{ID: uuid.NewString(), state: persona.NewSessionState()}
	s.touch(now)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	r.logger.Debug("session started", zap.String("session", s.ID))
	return s
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep ends sessions idle for longer than the TTL and returns how many it removed.
// A session busy in an interaction is never swept.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl).UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if !s.mu.TryLock() {
			continue
		}
		idle := s.lastSeen.Load() < cutoff
		s.mu.Unlock()
		if idle {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("expired sessions swept", zap.Int("removed", removed), zap.Int("remaining", len(r.sessions)))
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || r.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
