package sink

import (
	"context"
	"strings"
	"testing"

	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
)

type fakeNotifier struct {
	level, msg string
}

func (f *fakeNotifier) Broadcast(level, msg string) {
	f.level = level
	f.msg = msg
}

func TestDisplay_KeepsLatestAndNotifies(t *testing.T) {
	notify := &fakeNotifier{}
	d := NewDisplay(notify)

	if d.Latest() != nil {
		t.Error("Latest should be nil before any delivery")
	}

	a := &pipeline.Artifact{ID: "a1", SessionID: 5, Data: []byte("png")}
	if err := d.Deliver(context.Background(), a); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if d.Latest() != a {
		t.Error("Latest should return the delivered artifact")
	}
	if notify.level != "photo" || !strings.Contains(notify.msg, "session 5") {
		t.Errorf("broadcast = %q %q", notify.level, notify.msg)
	}
}

func TestDisplay_NilNotifier(t *testing.T) {
	d := NewDisplay(nil)
	if err := d.Deliver(context.Background(), &pipeline.Artifact{}); err != nil {
		t.Fatalf("Deliver without notifier: %v", err)
	}
}
