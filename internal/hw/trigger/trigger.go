// Package trigger turns physical inputs (GPIO button, remote shutter)
// into a debounced stream of events the session controller consumes.
package trigger

import (
	"sync"
	"time"
)

// Event is a single trigger press. Consumed at most once by the controller.
type Event struct {
	Time   time.Time
	Source string
}

// Source produces a lazy, infinite stream of trigger events.
// The channel is closed when the source is closed.
type Source interface {
	Events() <-chan Event
	Close() error
}

// merged fans multiple sources into one event channel.
type merged struct {
	out     chan Event
	sources []Source
	wg      sync.WaitGroup
	once    sync.Once
}

// Merge combines several sources into one. Closing the merged source
// closes all underlying sources.
func Merge(sources ...Source) Source {
	m := &merged{
		out:     make(chan Event, 1),
		sources: sources,
	}
	for _, s := range sources {
		m.wg.Add(1)
		go func(s Source) {
			defer m.wg.Done()
			for ev := range s.Events() {
				select {
				case m.out <- ev:
				default:
					// controller busy, drop
				}
			}
		}(s)
	}
	go func() {
		m.wg.Wait()
		close(m.out)
	}()
	return m
}

func (m *merged) Events() <-chan Event { return m.out }

func (m *merged) Close() error {
	var err error
	m.once.Do(func() {
		for _, s := range m.sources {
			if cerr := s.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
