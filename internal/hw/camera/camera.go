// Package camera abstracts the booth camera into a single blocking
// capture operation with a bounded latency and a clean failure mode.
package camera

import (
	"fmt"
	"time"
)

// Frame is one captured image: raw encoded bytes plus capture metadata.
// Owned by the session that captured it until the pipeline consumes it.
type Frame struct {
	Data []byte
	Time time.Time
	Shot int
}

// Handle is an open camera device. Obtained per capture and always
// released, whatever the outcome.
type Handle interface {
	// Read blocks until the sensor produces an encoded image.
	Read() ([]byte, error)
	Close() error
}

// Driver is the low-level camera binding: open a handle, read raw
// bytes, close. The booth core never sees the sensor protocol.
type Driver interface {
	Open() (Handle, error)
}

// CaptureError describes a failed capture attempt.
type CaptureError struct {
	Shot   int
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture shot %d: %s: %v", e.Shot, e.Reason, e.Err)
	}
	return fmt.Sprintf("capture shot %d: %s", e.Shot, e.Reason)
}

func (e *CaptureError) Unwrap() error { return e.Err }
