package camera

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DeviceConfig tunes capture behavior independent of the sensor binding.
type DeviceConfig struct {
	// CaptureTimeout bounds a single Capture call. Default 5s.
	CaptureTimeout time.Duration
	// Warmup is the settle delay before the first capture of a session
	// (autoexposure/autofocus). Default 0.
	Warmup time.Duration
	Logger zerolog.Logger
}

// Device wraps a Driver with timeout handling and scoped handle
// acquisition: every Capture opens a fresh handle and releases it on
// all exit paths, so a timed-out capture never leaves a corrupt handle
// behind.
type Device struct {
	driver  Driver
	timeout time.Duration
	warmup  time.Duration
	log     zerolog.Logger
}

// NewDevice creates a capture device on top of the given driver binding.
func NewDevice(driver Driver, cfg DeviceConfig) *Device {
	timeout := cfg.CaptureTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Device{
		driver:  driver,
		timeout: timeout,
		warmup:  cfg.Warmup,
		log:     cfg.Logger.With().Str("component", "camera").Logger(),
	}
}

// WarmUp waits for the configured settle delay. Called once before the
// first shot of a session.
func (d *Device) WarmUp(ctx context.Context) error {
	if d.warmup <= 0 {
		return nil
	}
	d.log.Debug().Dur("warmup", d.warmup).Msg("camera warming up")
	timer := time.NewTimer(d.warmup)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Capture takes one photo. Blocking, bounded by the configured timeout.
func (d *Device) Capture(ctx context.Context, shot int) (Frame, error) {
	h, err := d.driver.Open()
	if err != nil {
		return Frame{}, &CaptureError{Shot: shot, Reason: "open device", Err: err}
	}

	type readResult struct {
		data []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		data, err := h.Read()
		ch <- readResult{data, err}
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	var res readResult
	select {
	case res = <-ch:
	case <-timer.C:
		_ = h.Close()
		return Frame{}, &CaptureError{Shot: shot, Reason: "timeout"}
	case <-ctx.Done():
		_ = h.Close()
		return Frame{}, &CaptureError{Shot: shot, Reason: "cancelled", Err: ctx.Err()}
	}

	if cerr := h.Close(); cerr != nil {
		d.log.Warn().Err(cerr).Int("shot", shot).Msg("closing camera handle failed")
	}
	if res.err != nil {
		return Frame{}, &CaptureError{Shot: shot, Reason: "device read", Err: res.err}
	}

	frame := Frame{Data: res.data, Time: time.Now(), Shot: shot}
	d.log.Debug().Int("shot", shot).Int("bytes", len(frame.Data)).Msg("frame captured")
	return frame, nil
}
