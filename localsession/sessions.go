package localsession

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/internal/logging"
)

// shutdownGrace is how long ShutdownAll waits for a session's worker to
// exit after Stop before escalating to SIGKILL.
const shutdownGrace = 5 * time.Second

// LocalSessions is the collection supervisor for every LocalSession a
// client process has started, mirroring arras4_client's LocalSessions.
type LocalSessions struct {
	mu       sync.Mutex
	sessions map[id.UUID]*LocalSession
}

// NewSessions returns an empty registry.
func NewSessions() *LocalSessions {
	return &LocalSessions{sessions: map[id.UUID]*LocalSession{}}
}

// CreateSession allocates a fresh LocalSession for sessionID and
// registers it, failing if one is already registered under that id.
func (ls *LocalSessions) CreateSession(sessionID id.UUID) (*LocalSession, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if _, exists := ls.sessions[sessionID]; exists {
		return nil, fmt.Errorf("localsession: session %s already exists", sessionID)
	}
	s := New(sessionID)
	ls.sessions[sessionID] = s
	return s, nil
}

// LookupSession returns the session registered under sessionID, or nil
// if there isn't one.
func (ls *LocalSessions) LookupSession(sessionID id.UUID) *LocalSession {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.sessions[sessionID]
}

// RemoveSession drops sessionID from the registry without affecting its
// running worker process.
func (ls *LocalSessions) RemoveSession(sessionID id.UUID) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.sessions, sessionID)
}

// ShutdownAll stops every registered session, waiting up to
// shutdownGrace for each worker to exit on its own before sending
// SIGKILL, and clears the registry.
func (ls *LocalSessions) ShutdownAll() {
	ls.mu.Lock()
	sessions := make([]*LocalSession, 0, len(ls.sessions))
	for _, s := range ls.sessions {
		sessions = append(sessions, s)
	}
	ls.sessions = map[id.UUID]*LocalSession{}
	ls.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *LocalSession) {
			defer wg.Done()
			shutdownOne(s)
		}(s)
	}
	wg.Wait()
}

func shutdownOne(s *LocalSession) {
	s.Stop()
	deadline := time.Now().Add(shutdownGrace)
	for time.Now().Before(deadline) {
		if s.State() == StateTerminated {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if s.State() != StateTerminated {
		logging.Warnw("computation did not exit within the grace period, sending SIGKILL", "session", s.Address().Session.String())
		s.signal(syscall.SIGKILL)
	}
}
