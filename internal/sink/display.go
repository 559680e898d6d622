package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
)

// Notifier receives display events. The web status broadcaster
// satisfies this.
type Notifier interface {
	Broadcast(level, msg string)
}

// DisplaySink publishes finished artifacts to the booth display: it
// keeps the latest artifact for the web surface to serve and announces
// it on the status stream.
type DisplaySink struct {
	notify Notifier

	mu   sync.RWMutex
	last *pipeline.Artifact
}

// NewDisplay creates a display sink. notify may be nil when no web
// surface is running.
func NewDisplay(notify Notifier) *DisplaySink {
	return &DisplaySink{notify: notify}
}

func (d *DisplaySink) Name() string { return "display" }

// Latest returns the most recently displayed artifact, or nil.
func (d *DisplaySink) Latest() *pipeline.Artifact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

func (d *DisplaySink) Deliver(_ context.Context, a *pipeline.Artifact) error {
	d.mu.Lock()
	d.last = a
	d.mu.Unlock()

	if d.notify != nil {
		d.notify.Broadcast("photo", fmt.Sprintf("session %d ready: /last?id=%s", a.SessionID, a.ID))
	}
	return nil
}
