package usecase

import (
	"sync"
	"sync/atomic"
	"time"

	"tapmic/internal/domain"
	"tapmic/internal/ports"
)

type activeSession struct {
	id        string
	mode      domain.RecordingMode
	startedAt time.Time

	cancel func()
	audio  ports.AudioSession
	clip   ports.ClipWriter

	stateMu   sync.Mutex
	state     domain.SessionState
	cancelled bool
	claimed   bool
	finished  bool

	bytes     atomic.Int64
	audioDone chan struct{}
}

func (s *activeSession) setState(state domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *activeSession) markCancelled() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.cancelled = true
}

func (s *activeSession) isCancelled() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.cancelled
}

// claim hands the session to exactly one of Stop, Abort or a restarting
// Start. Later callers get false and must leave the session alone.
func (s *activeSession) claim() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.claimed {
		return false
	}
	s.claimed = true
	return true
}

// finish reports whether this call is the one that ends the session.
func (s *activeSession) finish(state domain.SessionState) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	s.state = state
	return true
}
