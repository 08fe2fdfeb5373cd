package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
)

// SessionInfo is the handler-facing view of one session entry.
type SessionInfo struct {
	Key        string    `json:"session"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	IdleSecs   int64     `json:"idle_seconds"`
}

type sessionEntry struct {
	handle     *BrowserContext
	createdAt  time.Time
	lastUsedAt time.Time
}

// evictNotify is called when the store removes a session (LRU or TTL),
// letting the owner publish an event without the store knowing about the
// event bus.
type evictNotify func(key string, reason string)

// SessionStore keeps named long-lived browser contexts so repeat callers
// reuse cookies and clearance state. Idle entries expire on a sliding TTL;
// at capacity the single least-recently-used entry is evicted.
type SessionStore struct {
	engine   Engine
	config   *common.SessionsConfig
	logger   arbor.ILogger
	onEvict  evictNotify
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	closed   bool
}

// NewSessionStore creates an empty session store.
func NewSessionStore(engine Engine, config *common.SessionsConfig, logger arbor.ILogger, onEvict evictNotify) *SessionStore {
	if onEvict == nil {
		onEvict = func(string, string) {}
	}
	return &SessionStore{
		engine:   engine,
		config:   config,
		logger:   logger,
		onEvict:  onEvict,
		sessions: make(map[string]*sessionEntry),
	}
}

// Get returns the session's context if present, bumping its idle clock.
func (s *SessionStore) Get(key string) (*BrowserContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	entry.lastUsedAt = time.Now()
	return entry.handle, true
}

// GetOrCreate returns the session's context, creating it on first use.
// At capacity the least-recently-used entry is evicted first, so the
// store never exceeds its configured maximum.
func (s *SessionStore) GetOrCreate(ctx context.Context, key string) (*BrowserContext, bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, fmt.Errorf("session store is closed")
	}
	if entry, ok := s.sessions[key]; ok {
		entry.lastUsedAt = time.Now()
		handle := entry.handle
		s.mu.Unlock()
		return handle, false, nil
	}

	var evicted *sessionEntry
	var evictedKey string
	if len(s.sessions) >= s.config.MaxSessions {
		evictedKey, evicted = s.oldestLocked()
		delete(s.sessions, evictedKey)
	}
	s.mu.Unlock()

	if evicted != nil {
		s.closeEntry(evictedKey, evicted)
		s.onEvict(evictedKey, "capacity")
	}

	handle, err := s.engine.NewContext(ctx, ContextOptions{
		Locale:   s.config.Locale,
		Timezone: s.config.Timezone,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session context: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.closeEntry(key, &sessionEntry{handle: handle})
		return nil, false, fmt.Errorf("session store is closed")
	}
	if entry, ok := s.sessions[key]; ok {
		// lost a create race; keep the winner
		entry.lastUsedAt = now
		winner := entry.handle
		s.mu.Unlock()
		s.closeEntry(key, &sessionEntry{handle: handle})
		return winner, false, nil
	}
	// Concurrent creates for other keys may have refilled the store while
	// this context was being built, so the capacity check runs again here.
	if len(s.sessions) >= s.config.MaxSessions {
		evictedKey, evicted = s.oldestLocked()
		delete(s.sessions, evictedKey)
	} else {
		evicted = nil
	}
	s.sessions[key] = &sessionEntry{handle: handle, createdAt: now, lastUsedAt: now}
	s.mu.Unlock()

	if evicted != nil {
		s.closeEntry(evictedKey, evicted)
		s.onEvict(evictedKey, "capacity")
	}

	s.logger.Info().Str("session", key).Msg("Session context created")
	return handle, true, nil
}

// oldestLocked finds the least-recently-used entry. Caller holds the lock.
func (s *SessionStore) oldestLocked() (string, *sessionEntry) {
	var oldestKey string
	var oldest *sessionEntry
	for k, e := range s.sessions {
		if oldest == nil || e.lastUsedAt.Before(oldest.lastUsedAt) {
			oldestKey, oldest = k, e
		}
	}
	return oldestKey, oldest
}

func (s *SessionStore) closeEntry(key string, entry *sessionEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.engine.CloseContext(ctx, entry.handle); err != nil {
		s.logger.Warn().Err(err).Str("session", key).Msg("Failed to close session context")
	}
}

// Remove destroys one session. Returns false when the key is unknown.
func (s *SessionStore) Remove(key string) bool {
	s.mu.Lock()
	entry, ok := s.sessions[key]
	if ok {
		delete(s.sessions, key)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.closeEntry(key, entry)
	s.logger.Info().Str("session", key).Msg("Session removed")
	return true
}

// List returns a snapshot of live sessions.
func (s *SessionStore) List() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for k, e := range s.sessions {
		infos = append(infos, SessionInfo{
			Key:        k,
			CreatedAt:  e.createdAt,
			LastUsedAt: e.lastUsedAt,
			IdleSecs:   int64(now.Sub(e.lastUsedAt).Seconds()),
		})
	}
	return infos
}

// StartSweep runs the TTL expiry loop until ctx is cancelled.
func (s *SessionStore) StartSweep(ctx context.Context) {
	common.SafeGoWithContext(ctx, s.logger, "session-sweep", func() {
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	})
}

// sweep removes entries idle strictly longer than the TTL. Expired
// entries are collected under the lock and closed outside it so lookups
// never block on context teardown.
func (s *SessionStore) sweep() {
	cutoff := time.Now().Add(-s.config.TTL)

	s.mu.Lock()
	var expired []string
	var entries []*sessionEntry
	for k, e := range s.sessions {
		if e.lastUsedAt.Before(cutoff) {
			expired = append(expired, k)
			entries = append(entries, e)
			delete(s.sessions, k)
		}
	}
	s.mu.Unlock()

	for i, key := range expired {
		s.logger.Info().Str("session", key).Msg("Session expired")
		s.closeEntry(key, entries[i])
		s.onEvict(key, "ttl")
	}
}

// CloseAll destroys every session. The store refuses new sessions after.
func (s *SessionStore) CloseAll() {
	s.mu.Lock()
	s.closed = true
	remaining := s.sessions
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()

	for k, e := range remaining {
		s.closeEntry(k, e)
	}
	if len(remaining) > 0 {
		s.logger.Info().Int("count", len(remaining)).Msg("All sessions closed")
	}
}

// Stats reports the live count against configured bounds.
func (s *SessionStore) Stats() (count, max int, ttl time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), s.config.MaxSessions, s.config.TTL
}
