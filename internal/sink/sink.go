// Package sink delivers finished artifacts to their consumers: local
// archive, printer, display, optional WebDAV upload. Sinks fail
// independently; delivery fan-out and retry live in the Dispatcher.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
)

// Sink consumes one finished artifact.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a *pipeline.Artifact) error
}

// State is the delivery outcome for one sink.
type State int

const (
	// Delivered: the sink accepted the artifact.
	Delivered State = iota
	// Retrying: a retryable failure occurred and another attempt is due.
	// Appears only in progress reporting, never in final results.
	Retrying
	// FailedPermanently: the retry budget is exhausted or the error was fatal.
	FailedPermanently
)

func (s State) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Retrying:
		return "retrying"
	case FailedPermanently:
		return "failed-permanently"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result records how delivery to one sink ended.
type Result struct {
	Sink     string
	State    State
	Attempts int
	Err      error
}

// fatalError marks an error as non-retryable (e.g. unknown paper size,
// bad credentials). Everything else is treated as retryable.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the dispatcher will not retry it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked non-retryable.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
