package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// LibcameraDriver captures stills through the Raspberry Pi libcamera
// stack by running rpicam-still (or libcamera-still on older OS images)
// and reading the encoded image from stdout.
type LibcameraDriver struct {
	command string
	args    []string
}

// NewLibcameraDriver creates a driver invoking the given command.
// An empty command defaults to "rpicam-still". Extra args are appended
// after the defaults, so resolution or tuning flags can come from config.
func NewLibcameraDriver(command string, extraArgs ...string) *LibcameraDriver {
	if command == "" {
		command = "rpicam-still"
	}
	args := []string{"--nopreview", "--immediate", "--encoding", "png", "--output", "-"}
	args = append(args, extraArgs...)
	return &LibcameraDriver{command: command, args: args}
}

func (d *LibcameraDriver) Open() (Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	return &libcameraHandle{
		ctx:     ctx,
		cancel:  cancel,
		command: d.command,
		args:    d.args,
	}, nil
}

// libcameraHandle runs one capture process per Read. The process is
// bound to the handle's context, so Close from another goroutine kills
// it without touching exec.Cmd state concurrently.
type libcameraHandle struct {
	ctx     context.Context
	cancel  context.CancelFunc
	command string
	args    []string
}

func (h *libcameraHandle) Read() ([]byte, error) {
	cmd := exec.CommandContext(h.ctx, h.command, h.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w (%s)", h.command, err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s produced no image data", h.command)
	}
	return stdout.Bytes(), nil
}

func (h *libcameraHandle) Close() error {
	h.cancel()
	return nil
}
