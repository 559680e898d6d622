// Package session owns the booth state machine: one session at a time,
// trigger → countdown → capture → process → dispatch, with a cooldown
// before the next trigger is accepted.
package session

import (
	"fmt"
	"time"

	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
	"github.com/cjeanneret/BoothGo/internal/sink"
)

// State is the controller's position in one session's lifecycle.
type State int

const (
	Idle State = iota
	Countdown
	Capturing
	Processing
	Dispatching
	// Terminal states. Every session reaches exactly one of them.
	Complete
	Aborted
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Countdown:
		return "countdown"
	case Capturing:
		return "capturing"
	case Processing:
		return "processing"
	case Dispatching:
		return "dispatching"
	case Complete:
		return "complete"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == Complete || s == Aborted || s == Failed
}

// Session is one complete trigger-to-output interaction. Owned
// exclusively by the controller; values escape only through the
// feedback hook after a terminal transition.
type Session struct {
	ID       uint64
	State    State
	Started  time.Time
	Frames   []camera.Frame
	Artifact *pipeline.Artifact
	Results  []sink.Result
	Reason   string
}

// Feedback receives user-visible session progress: countdown ticks for
// the display/LED collaborator and terminal states with their reason,
// so "try again" (Aborted) can read differently from "photo lost"
// (Failed).
type Feedback interface {
	CountdownTick(sessionID uint64, secondsLeft int)
	StateChanged(s *Session)
}

// NopFeedback discards all feedback.
type NopFeedback struct{}

func (NopFeedback) CountdownTick(uint64, int) {}
func (NopFeedback) StateChanged(*Session)     {}
