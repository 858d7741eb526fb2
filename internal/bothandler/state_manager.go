package bothandler

import (
	"sync"
	"time"
)

// dialogStep is the position of a chat inside a multi-message dialog.
type dialogStep int

const (
	stepIdle dialogStep = iota
	stepNumber
	stepType
	stepYear
	stepConfirm
	stepReminderTime
)

// session holds the partial input of one chat's dialog.
type session struct {
	Step          dialogStep
	Number        string
	Suffix        string
	Type          string
	Year          int
	ReminderAppID int64
	expiresAt     time.Time
}

// StateManager keeps per-chat dialog sessions with TTL expiry, guarded
// by a mutex because Telegram updates arrive concurrently.
type StateManager struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[int64]*session
}

func NewStateManager(ttl time.Duration) *StateManager {
	return &StateManager{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[int64]*session),
	}
}

// Get returns a copy of the chat's session, creating a fresh one when
// none exists or the previous one expired. Access extends the TTL.
// Mutations must be written back with Set so they happen under the lock.
func (sm *StateManager) Get(chatID int64) session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[chatID]
	if !ok || sm.now().After(s.expiresAt) {
		s = &session{Step: stepIdle}
		sm.sessions[chatID] = s
	}
	s.expiresAt = sm.now().Add(sm.ttl)
	return *s
}

// Set stores the chat's session, renewing the TTL.
func (sm *StateManager) Set(chatID int64, s session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s.expiresAt = sm.now().Add(sm.ttl)
	sm.sessions[chatID] = &s
}

// Clear drops the chat's session entirely.
func (sm *StateManager) Clear(chatID int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, chatID)
}

// Cleanup evicts expired sessions; run it periodically.
func (sm *StateManager) Cleanup() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	now := sm.now()
	for id, s := range sm.sessions {
		if now.After(s.expiresAt) {
			delete(sm.sessions, id)
		}
	}
}

// StartCleanupRoutine evicts expired sessions every interval until the
// returned stop function is called.
func (sm *StateManager) StartCleanupRoutine(interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sm.Cleanup()
			}
		}
	}()
	return func() { close(done) }
}
