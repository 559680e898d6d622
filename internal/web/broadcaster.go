package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/BoothGo/internal/logic/session"
)

// StatusEvent represents a single booth status message for SSE.
type StatusEvent struct {
	Time      string `json:"t"`
	Level     string `json:"l,omitempty"`
	Msg       string `json:"msg,omitempty"`
	Session   uint64 `json:"session,omitempty"`
	State     string `json:"state,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Countdown int    `json:"countdown,omitempty"`
}

// StatusBroadcaster distributes booth status to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// BroadcastEvent sends a structured event to all subscribed clients.
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) BroadcastEvent(evt StatusEvent) {
	if evt.Time == "" {
		evt.Time = time.Now().Format(time.RFC3339)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// Broadcast sends a plain message with the given level.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.BroadcastEvent(StatusEvent{Level: level, Msg: msg})
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content
// to SSE clients. Used to mirror the log stream onto the status page.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.Broadcast("log", msg)
	}
	return len(p), nil
}

// Feedback adapts the broadcaster to the session controller's feedback
// hook: countdown ticks and state changes reach every connected client.
type Feedback struct {
	B *StatusBroadcaster
}

func (f Feedback) CountdownTick(sessionID uint64, secondsLeft int) {
	f.B.BroadcastEvent(StatusEvent{
		Session:   sessionID,
		State:     session.Countdown.String(),
		Countdown: secondsLeft,
	})
}

func (f Feedback) StateChanged(s *session.Session) {
	evt := StatusEvent{
		Session: s.ID,
		State:   s.State.String(),
		Reason:  s.Reason,
	}
	// Terminal states carry user-facing wording: an aborted session
	// invites a retry, a failed one asks for help.
	switch s.State {
	case session.Complete:
		evt.Msg = "Your photo is ready!"
	case session.Aborted:
		evt.Msg = "Session cancelled, press the button to try again"
	case session.Failed:
		evt.Msg = "Something went wrong, please contact staff"
	}
	f.B.BroadcastEvent(evt)
}
