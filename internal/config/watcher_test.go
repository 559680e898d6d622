package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFileAtomic(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "booth.yaml")
	writeFileAtomic(t, path, minimalYAML)

	w := NewWatcher(path, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to establish before editing.
	time.Sleep(100 * time.Millisecond)
	writeFileAtomic(t, path, minimalYAML+`
session:
  shots: 4
`)

	select {
	case cfg := <-w.Updates():
		if cfg.Session.Shots != 4 {
			t.Errorf("reloaded shots = %d, want 4", cfg.Session.Shots)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_SkipsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "booth.yaml")
	writeFileAtomic(t, path, minimalYAML)

	w := NewWatcher(path, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeFileAtomic(t, path, "{{{{broken")

	select {
	case cfg := <-w.Updates():
		t.Errorf("invalid config must not be delivered, got %+v", cfg)
	case <-time.After(time.Second):
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "booth.yaml")
	writeFileAtomic(t, path, minimalYAML)

	w := NewWatcher(path, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeFileAtomic(t, filepath.Join(dir, "other.yaml"), "unrelated: true")

	select {
	case cfg := <-w.Updates():
		t.Errorf("sibling file edit must not trigger a reload, got %+v", cfg)
	case <-time.After(time.Second):
	}
}
