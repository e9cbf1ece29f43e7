package session

import (
	"context"
	"time"
)

func (m *Manager) SetEvictionConfig(idle, interval time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.evictIdle = idle
	m.evictInterval = interval
	m.mu.Unlock()
}

// StartEvictionLoop closes idle sessions until ctx is done. It is a no-op
// unless SetEvictionConfig was given positive values.
func (m *Manager) StartEvictionLoop(ctx context.Context) {
	if m == nil {
		return
	}
	if ctx == nil {
		panic("session: StartEvictionLoop requires non-nil ctx")
	}
	m.mu.Lock()
	if m.evictRunning {
		m.mu.Unlock()
		return
	}
	idle := m.evictIdle
	interval := m.evictInterval
	if idle <= 0 || interval <= 0 {
		m.mu.Unlock()
		return
	}
	m.evictRunning = true
	m.mu.Unlock()

	go m.runEvictionLoop(ctx, interval)
}

func (m *Manager) runEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.evictRunning = false
			m.mu.Unlock()
			return
		case now := <-ticker.C:
			m.evictIdleOnce(ctx, now)
		}
	}
}

func (m *Manager) evictIdleOnce(ctx context.Context, now time.Time) int {
	if m == nil {
		return 0
	}
	if now.IsZero() {
		now = time.Now()
	}

	m.mu.Lock()
	idle := m.evictIdle
	if idle <= 0 {
		m.mu.Unlock()
		return 0
	}
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	evicted := 0
	for _, s := range sessions {
		if !shouldEvictSession(now, idle, s) {
			continue
		}
		if !m.forget(s) {
			continue
		}
		if err := s.Close(ctx); err != nil {
			m.log.Warn().Err(err).Str("chat_id", s.ChatID().String()).Msg("failed to close idle session")
		}
		evicted++
	}
	if evicted > 0 {
		m.log.Debug().Int("evicted", evicted).Msg("evicted idle sessions")
	}
	return evicted
}

// shouldEvictSession keeps sessions whose logic runs or that still have
// events to handle.
func shouldEvictSession(now time.Time, idle time.Duration, s *Session) bool {
	if s.Busy() {
		return false
	}
	last := s.LastActivity()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) >= idle
}
