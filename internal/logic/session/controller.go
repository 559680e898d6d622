package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/hw/trigger"
	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
	"github.com/cjeanneret/BoothGo/internal/sink"
)

// Camera is the capture device as the controller sees it.
type Camera interface {
	WarmUp(ctx context.Context) error
	Capture(ctx context.Context, shot int) (camera.Frame, error)
}

// Processor turns the session's frames into the final artifact.
type Processor interface {
	Process(sessionID uint64, frames []camera.Frame) (*pipeline.Artifact, error)
}

// Dispatcher fans the artifact out to all sinks.
type Dispatcher interface {
	Dispatch(ctx context.Context, a *pipeline.Artifact) sink.Outcome
	Archive(ctx context.Context, a *pipeline.Artifact) sink.Result
}

// Params are the session knobs that may be reloaded between sessions.
type Params struct {
	// Shots per session: 1 for a single photo, N for a collage.
	Shots int
	// CountdownSeconds before the first shot. Default 3.
	CountdownSeconds int
	// ShotCountdownSeconds between shots of a multi-shot session.
	ShotCountdownSeconds int
	// Cooldown after a terminal state, during which triggers are
	// ignored. Default 1s.
	Cooldown time.Duration
	// QueueTrigger keeps one trigger arriving mid-session and starts
	// the next session from it after the cooldown. Off = drop.
	QueueTrigger bool
	// ShotRetries bounds re-capture attempts for a failed shot once at
	// least one shot succeeded.
	ShotRetries int
	// ProceedOnPartial finishes the session with fewer frames when a
	// shot keeps failing, instead of aborting.
	ProceedOnPartial bool
}

func (p *Params) applyDefaults() {
	if p.Shots <= 0 {
		p.Shots = 1
	}
	if p.CountdownSeconds <= 0 {
		p.CountdownSeconds = 3
	}
	if p.ShotCountdownSeconds <= 0 {
		p.ShotCountdownSeconds = 3
	}
	if p.Cooldown <= 0 {
		p.Cooldown = time.Second
	}
}

// Config wires the controller's collaborators and time source.
type Config struct {
	Logger zerolog.Logger
	// Tick is the injectable timer source; defaults to time.After.
	Tick func(d time.Duration) <-chan time.Time
	// Now is the injectable clock; defaults to time.Now.
	Now func() time.Time
}

// Controller runs booth sessions one at a time. A single goroutine
// (Run) owns all session state; concurrency exists only inside the
// dispatcher fan-out.
type Controller struct {
	events <-chan trigger.Event
	cam    Camera
	fb     Feedback
	log    zerolog.Logger
	tick   func(d time.Duration) <-chan time.Time
	now    func() time.Time
	abort  chan struct{}

	mu     sync.Mutex
	params Params
	proc   Processor
	disp   Dispatcher

	pending      *trigger.Event
	eventsClosed bool
	nextID       uint64

	consumed  atomic.Uint64
	dropped   atomic.Uint64
	completed atomic.Uint64
}

// New creates the controller. fb may be nil.
func New(events <-chan trigger.Event, cam Camera, proc Processor, disp Dispatcher, fb Feedback, params Params, cfg Config) *Controller {
	params.applyDefaults()
	if fb == nil {
		fb = NopFeedback{}
	}
	tick := cfg.Tick
	if tick == nil {
		tick = time.After
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		events: events,
		cam:    cam,
		fb:     fb,
		log:    cfg.Logger.With().Str("component", "session").Logger(),
		tick:   tick,
		now:    now,
		abort:  make(chan struct{}, 1),
		params: params,
		proc:   proc,
		disp:   disp,
	}
}

// Reconfigure swaps session parameters and processor. Applied at the
// next session start; the active session keeps its snapshot.
func (c *Controller) Reconfigure(params Params, proc Processor) {
	params.applyDefaults()
	c.mu.Lock()
	c.params = params
	if proc != nil {
		c.proc = proc
	}
	c.mu.Unlock()
	c.log.Info().Msg("session parameters reloaded")
}

// Abort cancels the active session: countdown and capture stop
// promptly, dispatch stops retrying after in-flight deliveries finish.
func (c *Controller) Abort() {
	select {
	case c.abort <- struct{}{}:
	default:
	}
}

// Consumed counts trigger events that started a session.
func (c *Controller) Consumed() uint64 { return c.consumed.Load() }

// Dropped counts trigger events ignored while busy or cooling down.
func (c *Controller) Dropped() uint64 { return c.dropped.Load() }

// Completed counts sessions that reached Complete.
func (c *Controller) Completed() uint64 { return c.completed.Load() }

// eventCh returns the trigger stream, or nil once it has closed so
// selects stop firing on it.
func (c *Controller) eventCh() <-chan trigger.Event {
	if c.eventsClosed {
		return nil
	}
	return c.events
}

// Run processes trigger events until ctx is cancelled or the event
// stream closes. Never returns a session error; every session ends in
// a terminal state and is reported through the feedback hook.
func (c *Controller) Run(ctx context.Context) error {
	for {
		var ev trigger.Event
		if c.pending != nil {
			ev = *c.pending
			c.pending = nil
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case e, ok := <-c.events:
				if !ok {
					return nil
				}
				ev = e
			case <-c.abort:
				// Stray abort while idle, nothing to cancel.
				continue
			}
		}

		c.runSession(ctx, ev)

		if err := c.cooldown(ctx); err != nil {
			return err
		}
	}
}

// cooldown ignores triggers for the configured interval, preventing an
// immediate re-trigger on the same physical press.
func (c *Controller) cooldown(ctx context.Context) error {
	c.mu.Lock()
	d := c.params.Cooldown
	c.mu.Unlock()

	tickCh := c.tick(d)
	for {
		select {
		case <-tickCh:
			return nil
		case _, ok := <-c.eventCh():
			if !ok {
				c.eventsClosed = true
				continue
			}
			c.dropped.Add(1)
		case <-c.abort:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) runSession(parent context.Context, ev trigger.Event) {
	c.mu.Lock()
	params := c.params
	proc := c.proc
	disp := c.disp
	c.mu.Unlock()

	c.nextID++
	c.consumed.Add(1)
	sess := &Session{ID: c.nextID, Started: c.now()}
	log := c.log.With().Uint64("session", sess.ID).Logger()
	log.Info().Str("trigger", ev.Source).Msg("session started")

	// sessCtx cancels promptly on Abort so blocking hardware calls stop.
	sessCtx, cancel := context.WithCancel(parent)
	defer cancel()
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-c.abort:
			cancel()
		case <-watchDone:
		}
	}()

	// Countdown
	if !c.countdown(sessCtx, sess, params.CountdownSeconds, true) {
		return
	}

	// Capturing
	c.transition(sess, Capturing, "")
	if err := c.cam.WarmUp(sessCtx); err != nil {
		c.terminate(sess, Aborted, "cancelled during warm-up")
		return
	}
	for shot := 0; shot < params.Shots; shot++ {
		if shot > 0 && !c.countdown(sessCtx, sess, params.ShotCountdownSeconds, false) {
			return
		}
		frame, err := c.captureShot(sessCtx, sess, shot, params)
		if err != nil {
			if len(sess.Frames) > 0 && params.ProceedOnPartial {
				log.Warn().Err(err).Int("frames", len(sess.Frames)).Msg("proceeding with fewer frames")
				break
			}
			c.terminate(sess, Aborted, "capture failed: "+err.Error())
			return
		}
		sess.Frames = append(sess.Frames, frame)
	}

	// Processing. Runs off the control goroutine so triggers keep being
	// absorbed; only one processing job ever exists at a time.
	c.transition(sess, Processing, "")
	artifact, perr := c.process(sessCtx, proc, sess)
	if errors.Is(perr, context.Canceled) || errors.Is(perr, context.DeadlineExceeded) {
		c.terminate(sess, Aborted, "cancelled during processing")
		return
	}
	if perr != nil {
		if artifact != nil {
			// Best-effort raw archive of a session whose pipeline failed.
			sess.Artifact = artifact
			res := disp.Archive(sessCtx, artifact)
			sess.Results = []sink.Result{res}
			log.Warn().Str("sink", res.Sink).Str("state", res.State.String()).Msg("raw frame archived")
		}
		c.terminate(sess, Failed, "pipeline: "+perr.Error())
		return
	}
	sess.Artifact = artifact

	// Dispatching
	c.transition(sess, Dispatching, "")
	outcome := c.dispatch(sessCtx, disp, sess)
	sess.Results = outcome.Results
	if !outcome.Succeeded {
		c.terminate(sess, Failed, "no sink met the delivery criterion")
		return
	}
	c.completed.Add(1)
	c.terminate(sess, Complete, "")
}

// countdown runs n per-second feedback ticks. During the initial
// countdown a repeated trigger press cancels the session; during shot
// sub-countdowns triggers are absorbed like in any busy phase.
// Returns false if the session was terminated.
func (c *Controller) countdown(ctx context.Context, sess *Session, seconds int, cancellable bool) bool {
	if cancellable {
		c.transition(sess, Countdown, "")
	}
	for s := seconds; s > 0; s-- {
		c.fb.CountdownTick(sess.ID, s)
		tickCh := c.tick(time.Second)
	wait:
		for {
			select {
			case <-tickCh:
				break wait
			case e, ok := <-c.eventCh():
				if !ok {
					c.eventsClosed = true
					continue
				}
				if cancellable {
					c.terminate(sess, Aborted, "cancelled by second trigger press")
					return false
				}
				c.absorb(e)
			case <-ctx.Done():
				c.terminate(sess, Aborted, "cancelled")
				return false
			}
		}
	}
	return true
}

// captureShot takes one shot, retrying a bounded number of times once
// the session already holds at least one good frame. A failure with no
// frames captured is never retried: re-running a countdown mid-failure
// would confuse the subject.
func (c *Controller) captureShot(ctx context.Context, sess *Session, shot int, params Params) (camera.Frame, error) {
	frame, err := c.cam.Capture(ctx, shot)
	if err == nil {
		return frame, nil
	}
	if len(sess.Frames) == 0 {
		return camera.Frame{}, err
	}
	for attempt := 1; attempt <= params.ShotRetries; attempt++ {
		if ctx.Err() != nil {
			return camera.Frame{}, err
		}
		c.log.Warn().Err(err).Uint64("session", sess.ID).Int("shot", shot).
			Int("attempt", attempt).Msg("retrying failed shot")
		frame, err = c.cam.Capture(ctx, shot)
		if err == nil {
			return frame, nil
		}
	}
	return camera.Frame{}, err
}

func (c *Controller) process(ctx context.Context, proc Processor, sess *Session) (*pipeline.Artifact, error) {
	type result struct {
		a   *pipeline.Artifact
		err error
	}
	ch := make(chan result, 1)
	go func() {
		a, err := proc.Process(sess.ID, sess.Frames)
		ch <- result{a, err}
	}()
	for {
		select {
		case r := <-ch:
			return r.a, r.err
		case e, ok := <-c.eventCh():
			if !ok {
				c.eventsClosed = true
				continue
			}
			c.absorb(e)
		case <-ctx.Done():
			// Processing is pure CPU and short; wait it out, the
			// terminal state still reflects the cancellation.
			r := <-ch
			if r.err == nil {
				r.err = ctx.Err()
			}
			return r.a, r.err
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, disp Dispatcher, sess *Session) sink.Outcome {
	ch := make(chan sink.Outcome, 1)
	go func() { ch <- disp.Dispatch(ctx, sess.Artifact) }()
	for {
		select {
		case out := <-ch:
			return out
		case e, ok := <-c.eventCh():
			if !ok {
				c.eventsClosed = true
				continue
			}
			c.absorb(e)
		}
	}
}

// absorb handles a trigger arriving while a session is active: queued
// (depth 1) when configured, dropped otherwise.
func (c *Controller) absorb(ev trigger.Event) {
	c.mu.Lock()
	queue := c.params.QueueTrigger
	c.mu.Unlock()
	if queue && c.pending == nil {
		c.pending = &ev
		c.log.Debug().Str("trigger", ev.Source).Msg("trigger queued for next session")
		return
	}
	c.dropped.Add(1)
	c.log.Debug().Str("trigger", ev.Source).Msg("trigger dropped, session active")
}

func (c *Controller) transition(sess *Session, st State, reason string) {
	sess.State = st
	sess.Reason = reason
	c.log.Info().Uint64("session", sess.ID).Str("state", st.String()).Msg("transition")
	c.fb.StateChanged(sess)
}

func (c *Controller) terminate(sess *Session, st State, reason string) {
	event := c.log.Info().Uint64("session", sess.ID).Str("state", st.String())
	if reason != "" {
		event = event.Str("reason", reason)
	}
	event.Msg("session ended")
	sess.State = st
	sess.Reason = reason
	c.fb.StateChanged(sess)
}
