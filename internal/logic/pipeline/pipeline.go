// Package pipeline applies an ordered list of image transforms to the
// frames of one session and produces the final artifact.
package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // cameras may hand us JPEG frames
	"image/png"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cjeanneret/BoothGo/internal/hw/camera"
)

// Artifact is the finished photo: encoded PNG bytes plus metadata.
// Immutable once produced; shared read-only by all output sinks.
type Artifact struct {
	ID        string
	SessionID uint64
	CreatedAt time.Time
	Version   string
	Warnings  []string
	Data      []byte
}

// Arity declares how many frames a transform consumes.
type Arity int

const (
	// ArityFrame transforms apply to each frame independently.
	ArityFrame Arity = iota
	// ArityAll transforms consume every frame and produce one image
	// (collage composition).
	ArityAll
)

// Transform is one processing step. Apply receives the current working
// set of images and returns the new set: per-frame transforms return
// one image per input, composite transforms return exactly one.
type Transform interface {
	Name() string
	Arity() Arity
	Apply(imgs []image.Image) ([]image.Image, error)
}

// Step pairs a transform with its failure policy. Optional steps that
// fail are skipped with a warning recorded in the artifact; mandatory
// steps that fail abort processing.
type Step struct {
	Transform Transform
	Mandatory bool
}

// TransformError reports a failed mandatory transform.
type TransformError struct {
	Transform string
	Err       error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %q failed: %v", e.Transform, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Pipeline holds an ordered list of steps. Safe for reuse across
// sessions; Process does not mutate pipeline state.
type Pipeline struct {
	steps   []Step
	version string
	now     func() time.Time
	log     zerolog.Logger
}

// Option tweaks pipeline construction.
type Option func(*Pipeline)

// WithClock injects the timestamp source used for artifact metadata.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger attaches a logger for per-step diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log.With().Str("component", "pipeline").Logger() }
}

// New creates a pipeline from the given steps. version identifies the
// transform configuration in artifact metadata.
func New(version string, steps []Step, opts ...Option) *Pipeline {
	p := &Pipeline{
		steps:   steps,
		version: version,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Version returns the configuration version recorded in artifacts.
func (p *Pipeline) Version() string { return p.version }

// Process decodes the session frames, runs every step in order and
// encodes the result as PNG. Output bytes are reproducible for
// identical frames and configuration.
//
// On a mandatory-transform failure Process returns a TransformError
// together with a best-effort raw artifact built from the first frame,
// so the controller can still archive something.
func (p *Pipeline) Process(sessionID uint64, frames []camera.Frame) (*Artifact, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("pipeline: no frames to process")
	}

	imgs := make([]image.Image, 0, len(frames))
	for _, f := range frames {
		img, _, err := image.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return p.rawArtifact(sessionID, frames, "decode failed"),
				&TransformError{Transform: "decode", Err: err}
		}
		imgs = append(imgs, img)
	}

	var warnings []string
	for _, step := range p.steps {
		next, err := p.applyStep(step, imgs)
		if err != nil {
			if step.Mandatory {
				p.log.Error().Err(err).Str("transform", step.Transform.Name()).Msg("mandatory transform failed")
				return p.rawArtifact(sessionID, frames, "mandatory transform failed"),
					&TransformError{Transform: step.Transform.Name(), Err: err}
			}
			warning := fmt.Sprintf("transform %q skipped: %v", step.Transform.Name(), err)
			p.log.Warn().Err(err).Str("transform", step.Transform.Name()).Msg("optional transform skipped")
			warnings = append(warnings, warning)
			continue
		}
		imgs = next
	}

	// Multiple frames with no configured composition end as a plain grid.
	if len(imgs) > 1 {
		composed, err := composeGrid(imgs, 0, 0, nil)
		if err != nil {
			return p.rawArtifact(sessionID, frames, "implicit collage failed"),
				&TransformError{Transform: "collage", Err: err}
		}
		imgs = []image.Image{composed}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, imgs[0]); err != nil {
		return nil, fmt.Errorf("pipeline: encode artifact: %w", err)
	}

	return &Artifact{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		CreatedAt: p.now(),
		Version:   p.version,
		Warnings:  warnings,
		Data:      buf.Bytes(),
	}, nil
}

func (p *Pipeline) applyStep(step Step, imgs []image.Image) ([]image.Image, error) {
	out, err := step.Transform.Apply(imgs)
	if err != nil {
		return nil, err
	}
	switch step.Transform.Arity() {
	case ArityAll:
		if len(out) != 1 {
			return nil, fmt.Errorf("composite transform returned %d images", len(out))
		}
	case ArityFrame:
		if len(out) != len(imgs) {
			return nil, fmt.Errorf("frame transform returned %d images for %d inputs", len(out), len(imgs))
		}
	}
	return out, nil
}

// rawArtifact wraps the first frame's bytes unprocessed, preserving a
// best-effort record of a session whose pipeline failed.
func (p *Pipeline) rawArtifact(sessionID uint64, frames []camera.Frame, reason string) *Artifact {
	return &Artifact{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		CreatedAt: p.now(),
		Version:   p.version,
		Warnings:  []string{"raw frame: " + reason},
		Data:      frames[0].Data,
	}
}
