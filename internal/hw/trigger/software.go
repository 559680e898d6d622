package trigger

import (
	"sync"
	"time"
)

// SoftwareSource is a trigger fed by code instead of hardware: the web
// UI's trigger button, and the fallback when the GPIO trigger is down.
type SoftwareSource struct {
	mu     sync.Mutex
	events chan Event
	closed bool
}

func NewSoftwareSource() *SoftwareSource {
	return &SoftwareSource{
		events: make(chan Event, 1),
	}
}

// Fire emits one trigger event. Non-blocking; returns false if the
// event was dropped (source closed or consumer busy).
func (s *SoftwareSource) Fire(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- Event{Time: time.Now(), Source: source}:
		return true
	default:
		return false
	}
}

func (s *SoftwareSource) Events() <-chan Event { return s.events }

func (s *SoftwareSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
