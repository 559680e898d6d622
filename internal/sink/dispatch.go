package sink

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
)

// DispatchConfig tunes fan-out delivery.
type DispatchConfig struct {
	// Attempts is the per-sink retry budget. Default 3.
	Attempts int
	// DeliverTimeout bounds a single Deliver call. Default 10s.
	DeliverTimeout time.Duration
	// BackoffInitial/BackoffMax shape the retry schedule.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// ArchivalSink names the sink whose success is mandatory. Default
	// "storage".
	ArchivalSink string
	// ArchivalOptional relaxes the success criterion so any delivered
	// sink is enough. By default the session only succeeds when the
	// archival sink delivered: a photo that exists nowhere durable is a
	// lost photo.
	ArchivalOptional bool
	Logger           zerolog.Logger

	// Progress receives a Retrying result before each retry, for live
	// status reporting. Optional.
	Progress func(Result)

	// Sleep waits between attempts; injectable for tests. Defaults to a
	// context-aware timer sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand drives backoff jitter. Nil disables jitter.
	Rand *rand.Rand
}

// Outcome aggregates per-sink results for one artifact.
type Outcome struct {
	Results   []Result
	Succeeded bool
}

// Dispatcher fans one artifact out to every configured sink
// concurrently, retrying each sink independently. One sink failing
// never blocks or fails another.
type Dispatcher struct {
	sinks []Sink
	cfg   DispatchConfig
	log   zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(sinks []Sink, cfg DispatchConfig) *Dispatcher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 10 * time.Second
	}
	if cfg.ArchivalSink == "" {
		cfg.ArchivalSink = "storage"
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Dispatcher{
		sinks: sinks,
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "dispatch").Logger(),
	}
}

// Dispatch delivers the artifact to all sinks and blocks until every
// sink has a final result. Cancelling ctx stops further retries but
// never an in-flight delivery: a printer mid-page must not be cut off.
func (d *Dispatcher) Dispatch(ctx context.Context, a *pipeline.Artifact) Outcome {
	results := make([]Result, len(d.sinks))
	var wg sync.WaitGroup
	for i, s := range d.sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			results[i] = d.deliverWithRetry(ctx, s, a)
		}(i, s)
	}
	wg.Wait()

	out := Outcome{Results: results}
	for _, r := range results {
		if r.State != Delivered {
			continue
		}
		if d.cfg.ArchivalOptional || r.Sink == d.cfg.ArchivalSink {
			out.Succeeded = true
		}
	}
	return out
}

// Archive delivers the artifact to the archival sink only, best effort.
// Used to keep a raw frame around when the pipeline failed.
func (d *Dispatcher) Archive(ctx context.Context, a *pipeline.Artifact) Result {
	for _, s := range d.sinks {
		if s.Name() == d.cfg.ArchivalSink {
			return d.deliverWithRetry(ctx, s, a)
		}
	}
	return Result{Sink: d.cfg.ArchivalSink, State: FailedPermanently, Err: errors.New("no archival sink configured")}
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, s Sink, a *pipeline.Artifact) Result {
	log := d.log.With().Str("sink", s.Name()).Uint64("session", a.SessionID).Logger()
	bo := newBackoff(d.cfg.BackoffInitial, d.cfg.BackoffMax, d.cfg.Rand)

	var lastErr error
	for attempt := 1; attempt <= d.cfg.Attempts; attempt++ {
		// Detach from the session context: cancellation must not abort
		// a delivery that already started.
		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.DeliverTimeout)
		err := s.Deliver(deliverCtx, a)
		cancel()

		if err == nil {
			log.Info().Int("attempt", attempt).Msg("artifact delivered")
			return Result{Sink: s.Name(), State: Delivered, Attempts: attempt}
		}
		lastErr = err

		if IsFatal(err) {
			log.Error().Err(err).Int("attempt", attempt).Msg("delivery failed permanently")
			return Result{Sink: s.Name(), State: FailedPermanently, Attempts: attempt, Err: err}
		}
		if attempt == d.cfg.Attempts {
			break
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("delivery failed, retrying")
		if d.cfg.Progress != nil {
			d.cfg.Progress(Result{Sink: s.Name(), State: Retrying, Attempts: attempt, Err: err})
		}
		if serr := d.cfg.Sleep(ctx, bo.Next()); serr != nil {
			// Session cancelled: stop retrying.
			return Result{Sink: s.Name(), State: FailedPermanently, Attempts: attempt, Err: lastErr}
		}
	}

	log.Error().Err(lastErr).Int("attempts", d.cfg.Attempts).Msg("retry budget exhausted")
	return Result{Sink: s.Name(), State: FailedPermanently, Attempts: d.cfg.Attempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
