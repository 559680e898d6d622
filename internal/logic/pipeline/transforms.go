package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"strconv"

	"github.com/disintegration/imaging"
)

var colorBlack = color.NRGBA{A: 255}

// StepConfig describes one transform as it appears in configuration.
type StepConfig struct {
	Name      string
	Mandatory bool
	Params    map[string]string
}

// Build resolves a list of step configurations into pipeline steps.
// Unknown transform names are a configuration error.
func Build(cfgs []StepConfig) ([]Step, error) {
	steps := make([]Step, 0, len(cfgs))
	for _, c := range cfgs {
		t, err := newTransform(c.Name, c.Params)
		if err != nil {
			return nil, err
		}
		steps = append(steps, Step{Transform: t, Mandatory: c.Mandatory})
	}
	return steps, nil
}

func newTransform(name string, params map[string]string) (Transform, error) {
	switch name {
	case "grayscale":
		return frameTransform{name: "grayscale", fn: imaging.Grayscale}, nil
	case "flip":
		return frameTransform{name: "flip", fn: imaging.FlipV}, nil
	case "crop":
		w, err := intParam(params, "width")
		if err != nil {
			return nil, err
		}
		h, err := intParam(params, "height")
		if err != nil {
			return nil, err
		}
		return frameTransform{name: "crop", fn: func(img image.Image) *image.NRGBA {
			return imaging.CropCenter(img, w, h)
		}}, nil
	case "overlay":
		path := params["file"]
		if path == "" {
			return nil, fmt.Errorf("transform %q: missing param %q", name, "file")
		}
		ov, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("transform %q: load overlay: %w", name, err)
		}
		return frameTransform{name: "overlay", fn: func(img image.Image) *image.NRGBA {
			b := img.Bounds()
			scaled := imaging.Resize(ov, b.Dx(), b.Dy(), imaging.Lanczos)
			return imaging.Overlay(img, scaled, image.Pt(0, 0), 1.0)
		}}, nil
	case "collage":
		cols := 0
		if _, ok := params["columns"]; ok {
			v, err := intParam(params, "columns")
			if err != nil {
				return nil, err
			}
			cols = v
		}
		jitter := 0
		if _, ok := params["jitter_px"]; ok {
			v, err := intParam(params, "jitter_px")
			if err != nil {
				return nil, err
			}
			jitter = v
		}
		var seed int64
		if s, ok := params["seed"]; ok {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("transform %q: param %q: %w", name, "seed", err)
			}
			seed = v
		}
		if jitter > 0 && params["seed"] == "" {
			// Unseeded randomness would break reproducibility.
			return nil, fmt.Errorf("transform %q: jitter_px requires an explicit seed", name)
		}
		return &collageTransform{cols: cols, jitter: jitter, seed: seed}, nil
	default:
		return nil, fmt.Errorf("unknown transform: %q", name)
	}
}

func intParam(params map[string]string, key string) (int, error) {
	s, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing param %q", key)
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("param %q must be a positive integer, got %q", key, s)
	}
	return v, nil
}

// frameTransform wraps a pure per-frame image function.
type frameTransform struct {
	name string
	fn   func(image.Image) *image.NRGBA
}

func (t frameTransform) Name() string { return t.name }
func (t frameTransform) Arity() Arity { return ArityFrame }

func (t frameTransform) Apply(imgs []image.Image) ([]image.Image, error) {
	out := make([]image.Image, len(imgs))
	for i, img := range imgs {
		out[i] = t.fn(img)
	}
	return out, nil
}

// collageTransform composes all frames into one grid image. With
// jitter_px set, each cell is offset pseudo-randomly from a fixed seed
// so output stays reproducible.
type collageTransform struct {
	cols   int
	jitter int
	seed   int64
}

func (t *collageTransform) Name() string { return "collage" }
func (t *collageTransform) Arity() Arity { return ArityAll }

func (t *collageTransform) Apply(imgs []image.Image) ([]image.Image, error) {
	var rng *rand.Rand
	if t.jitter > 0 {
		rng = rand.New(rand.NewSource(t.seed))
	}
	composed, err := composeGrid(imgs, t.cols, t.jitter, rng)
	if err != nil {
		return nil, err
	}
	return []image.Image{composed}, nil
}

// composeGrid pastes images into a cols-wide grid. cols <= 0 picks a
// near-square layout. Cell size follows the first image.
func composeGrid(imgs []image.Image, cols, jitter int, rng *rand.Rand) (image.Image, error) {
	if len(imgs) == 0 {
		return nil, fmt.Errorf("collage: no frames")
	}
	if len(imgs) == 1 {
		return imgs[0], nil
	}
	if cols <= 0 {
		cols = int(math.Ceil(math.Sqrt(float64(len(imgs)))))
	}
	rows := (len(imgs) + cols - 1) / cols

	cellW := imgs[0].Bounds().Dx()
	cellH := imgs[0].Bounds().Dy()
	canvas := imaging.New(cols*cellW, rows*cellH, colorBlack)

	for i, img := range imgs {
		cell := imaging.Fill(img, cellW, cellH, imaging.Center, imaging.Lanczos)
		x := (i % cols) * cellW
		y := (i / cols) * cellH
		if rng != nil {
			x += rng.Intn(2*jitter+1) - jitter
			y += rng.Intn(2*jitter+1) - jitter
		}
		canvas = imaging.Paste(canvas, cell, image.Pt(x, y))
	}
	return canvas, nil
}
