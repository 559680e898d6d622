package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
)

// TriggerFunc fires one software trigger event. It returns false when
// the event was dropped (booth busy or shutting down).
type TriggerFunc func(source string) bool

// ArtifactProvider exposes the most recent finished artifact, or nil.
type ArtifactProvider interface {
	Latest() *pipeline.Artifact
}

// BoothInfo holds booth parameters shown on the status page.
type BoothInfo struct {
	Shots            int    `json:"shots"`
	CountdownSeconds int    `json:"countdown_seconds"`
	PipelineVersion  string `json:"pipeline_version"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Trigger     TriggerFunc
	Artifacts   ArtifactProvider
	Info        BoothInfo
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If trigger is nil, POST /trigger returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, trigger TriggerFunc, artifacts ArtifactProvider, info BoothInfo, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Trigger:     trigger,
		Artifacts:   artifacts,
		Info:        info,
		staticFS:    staticFS,
	}
}

// HandleInfo returns the booth parameters as JSON.
func (h *Handlers) HandleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Info)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleTrigger handles POST /trigger: the software trigger, also the
// fallback when the hardware button is down.
func (h *Handlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if h.Trigger == nil {
		http.Error(w, "trigger not configured", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !h.Trigger("web") {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"status": "busy"})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "triggered"})
}

// HandleLast serves the most recent artifact as PNG.
func (h *Handlers) HandleLast(w http.ResponseWriter, r *http.Request) {
	if h.Artifacts == nil {
		http.Error(w, "no display sink", http.StatusNotFound)
		return
	}
	a := h.Artifacts.Latest()
	if a == nil {
		http.Error(w, "no photo yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(a.Data)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
