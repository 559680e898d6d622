package sink

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
)

// Submitter is the printer binding: hand over encoded image bytes for
// the given paper size. Implementations classify failures by returning
// either a plain (retryable) error or one wrapped with Fatal.
type Submitter interface {
	Submit(ctx context.Context, data []byte, paper string) error
}

// Paper sizes the booth knows how to drive. Anything else is a
// configuration error, not something retries can fix.
var knownPaperSizes = map[string]bool{
	"A4":               true,
	"A6":               true,
	"Postcard":         true,
	"4x6":              true,
	"custom_102x152mm": true,
}

// PrintSink sends artifacts to a printer. Offline/out-of-paper
// conditions are retryable; an unknown paper size is fatal.
type PrintSink struct {
	submit Submitter
	paper  string
}

// NewPrint creates the print sink. The paper size is validated here so
// misconfiguration fails at startup, not mid-session.
func NewPrint(submit Submitter, paper string) (*PrintSink, error) {
	if !knownPaperSizes[paper] {
		return nil, fmt.Errorf("print: unknown paper size %q", paper)
	}
	return &PrintSink{submit: submit, paper: paper}, nil
}

func (p *PrintSink) Name() string { return "print" }

func (p *PrintSink) Deliver(ctx context.Context, a *pipeline.Artifact) error {
	return p.submit.Submit(ctx, a.Data, p.paper)
}

// LPSubmitter drives a CUPS printer through the lp command, the usual
// path on a Raspberry Pi. A non-zero exit (printer offline, out of
// paper) is retryable; lp not being installed at all is fatal.
type LPSubmitter struct {
	Command string // default "lp"
	Printer string // -d destination; empty = system default
}

func (l *LPSubmitter) Submit(ctx context.Context, data []byte, paper string) error {
	command := l.Command
	if command == "" {
		command = "lp"
	}
	args := []string{"-o", "media=" + paper, "-s"}
	if l.Printer != "" {
		args = append(args, "-d", l.Printer)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			// lp missing or not executable: no amount of retrying helps.
			return Fatal(fmt.Errorf("print: run %s: %w", command, err))
		}
		return fmt.Errorf("print: %s failed: %w (%s)", command, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
