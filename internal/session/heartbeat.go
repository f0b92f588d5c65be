package session

import (
	"time"

	"github.com/sharefileio/sharefile/internal/protocol"
)

// startHeartbeat launches the ping-emitting and liveness-watchdog loop
// once the control channel opens (spec §4.3/§4.7). A second call while
// one is already running is a no-op.
func (s *Session) startHeartbeat() {
	s.mu.Lock()
	if s.heartbeatStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.heartbeatStop = stop
	s.mu.Unlock()

	s.setStatus(StatusConnected)
	go s.heartbeatLoop(stop)
}

func (s *Session) stopHeartbeat() {
	s.mu.Lock()
	stop := s.heartbeatStop
	s.heartbeatStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (s *Session) heartbeatLoop(stop <-chan struct{}) {
	pingTicker := time.NewTicker(s.heartbeatInterval)
	defer pingTicker.Stop()
	watchdog := time.NewTicker(s.heartbeatInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-stop:
			return
		case <-pingTicker.C:
			_ = s.SendControl(protocol.HeartbeatPing{T: time.Now().UnixMilli()})
		case <-watchdog.C:
			s.checkLiveness()
		}
	}
}

func (s *Session) checkLiveness() {
	s.mu.Lock()
	idle := time.Since(s.lastActivity)
	wasTimedOut := s.peerTimedOut
	timeout := s.heartbeatTimeout
	s.mu.Unlock()

	if idle >= timeout {
		if !wasTimedOut {
			s.mu.Lock()
			s.peerTimedOut = true
			s.mu.Unlock()
			s.setStatus(StatusPeerTimeout)
		}
		return
	}
	if wasTimedOut {
		s.mu.Lock()
		s.peerTimedOut = false
		s.mu.Unlock()
		s.setStatus(StatusConnected)
	}
}

// markActivity records an inbound frame (control or file), per spec
// §4.7: "Mark peer activity on every inbound frame."
func (s *Session) markActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	wasTimedOut := s.peerTimedOut
	if wasTimedOut {
		s.peerTimedOut = false
	}
	s.mu.Unlock()

	if wasTimedOut {
		s.setStatus(StatusConnected)
	}
}
