package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
)

type recordingSubmitter struct {
	err   error
	data  []byte
	paper string
}

func (r *recordingSubmitter) Submit(_ context.Context, data []byte, paper string) error {
	r.data = data
	r.paper = paper
	return r.err
}

func TestNewPrint_RejectsUnknownPaper(t *testing.T) {
	if _, err := NewPrint(&recordingSubmitter{}, "B5"); err == nil {
		t.Error("expected error for unknown paper size")
	}
}

func TestPrint_SubmitsArtifactBytes(t *testing.T) {
	sub := &recordingSubmitter{}
	p, err := NewPrint(sub, "Postcard")
	if err != nil {
		t.Fatal(err)
	}

	a := &pipeline.Artifact{ID: "a1", SessionID: 1, CreatedAt: time.Unix(0, 0), Data: []byte("png")}
	if err := p.Deliver(context.Background(), a); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if string(sub.data) != "png" {
		t.Errorf("submitted data = %q", sub.data)
	}
	if sub.paper != "Postcard" {
		t.Errorf("paper = %q, want Postcard", sub.paper)
	}
}

func TestPrint_PropagatesFailureClass(t *testing.T) {
	retryable := errors.New("printer offline")
	p, err := NewPrint(&recordingSubmitter{err: retryable}, "A6")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Deliver(context.Background(), &pipeline.Artifact{}); !errors.Is(err, retryable) || IsFatal(err) {
		t.Errorf("retryable submitter error mangled: %v", err)
	}

	p, err = NewPrint(&recordingSubmitter{err: Fatal(errors.New("lp not found"))}, "A6")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Deliver(context.Background(), &pipeline.Artifact{}); !IsFatal(err) {
		t.Errorf("fatal submitter error mangled: %v", err)
	}
}

func TestLPSubmitter_MissingCommandIsFatal(t *testing.T) {
	sub := &LPSubmitter{Command: "/nonexistent/lp-binary"}
	err := sub.Submit(context.Background(), []byte("png"), "A6")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsFatal(err) {
		t.Errorf("missing lp binary must be fatal, got %v", err)
	}
}

func TestLPSubmitter_ExitErrorIsRetryable(t *testing.T) {
	// false(1) exits non-zero like lp does when the printer is offline.
	sub := &LPSubmitter{Command: "false"}
	err := sub.Submit(context.Background(), []byte("png"), "A6")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsFatal(err) {
		t.Errorf("non-zero lp exit must stay retryable, got %v", err)
	}
}
