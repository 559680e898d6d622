package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
)

// PatternDriver is a camera stand-in for development on PC and for
// tests: every capture yields a small PNG gradient whose hue shifts
// with the capture counter, so frames are distinguishable but each
// individual frame is deterministic.
type PatternDriver struct {
	width, height int
	counter       atomic.Uint64
}

// NewPatternDriver creates a synthetic camera producing w x h frames.
// Zero dimensions default to 640x480.
func NewPatternDriver(w, h int) *PatternDriver {
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}
	return &PatternDriver{width: w, height: h}
}

func (d *PatternDriver) Open() (Handle, error) {
	n := d.counter.Add(1)
	return &patternHandle{w: d.width, h: d.height, seq: n}, nil
}

type patternHandle struct {
	w, h int
	seq  uint64
}

func (p *patternHandle) Read() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, p.w, p.h))
	base := uint8(p.seq * 37)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x*255/p.w) + base,
				G: uint8(y * 255 / p.h),
				B: base,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *patternHandle) Close() error { return nil }
