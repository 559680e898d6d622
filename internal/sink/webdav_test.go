package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
)

type davRequest struct {
	method string
	path   string
	body   []byte
}

// davServer records WebDAV requests and answers with fixed statuses.
// OCS share requests get their own status and canned body.
type davServer struct {
	mu          sync.Mutex
	requests    []davRequest
	status      map[string]int // method -> status; missing = 201
	shareStatus int            // 0 = 200
	shareBody   string
}

func (s *davServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, davRequest{method: r.Method, path: r.URL.Path, body: body})
		s.mu.Unlock()

		if strings.HasPrefix(r.URL.Path, "/ocs/") {
			status := s.shareStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			io.WriteString(w, s.shareBody)
			return
		}

		s.mu.Lock()
		status, ok := s.status[r.Method]
		s.mu.Unlock()
		if !ok {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
	})
}

func (s *davServer) recorded() []davRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]davRequest(nil), s.requests...)
}

func davArtifact() *pipeline.Artifact {
	return &pipeline.Artifact{
		ID:        "a1",
		SessionID: 3,
		CreatedAt: time.Date(2024, 6, 1, 15, 4, 5, 0, time.UTC),
		Data:      []byte("png bytes"),
	}
}

func newDAVSink(t *testing.T, srv *davServer, folder string) *WebDAVSink {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	s, err := NewWebDAV(WebDAVConfig{
		URL:      ts.URL,
		Username: "booth",
		Password: "secret",
		Folder:   folder,
		Client:   ts.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestWebDAV_RequiresURLAndUser(t *testing.T) {
	if _, err := NewWebDAV(WebDAVConfig{URL: "https://cloud"}); err == nil {
		t.Error("expected error without username")
	}
	if _, err := NewWebDAV(WebDAVConfig{Username: "booth"}); err == nil {
		t.Error("expected error without url")
	}
}

func TestWebDAV_UploadsIntoSessionCollection(t *testing.T) {
	srv := &davServer{}
	s := newDAVSink(t, srv, "photobooth")

	if err := s.Deliver(context.Background(), davArtifact()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	reqs := srv.recorded()
	if len(reqs) != 3 {
		t.Fatalf("got %d requests, want MKCOL, MKCOL, PUT", len(reqs))
	}
	base := "/remote.php/dav/files/booth/photobooth"
	if reqs[0].method != "MKCOL" || reqs[0].path != base {
		t.Errorf("request 0 = %s %s", reqs[0].method, reqs[0].path)
	}
	if reqs[1].method != "MKCOL" || reqs[1].path != base+"/session-0003" {
		t.Errorf("request 1 = %s %s", reqs[1].method, reqs[1].path)
	}
	want := base + "/session-0003/2024-06-01_15-04-05_a1.png"
	if reqs[2].method != http.MethodPut || reqs[2].path != want {
		t.Errorf("request 2 = %s %s, want PUT %s", reqs[2].method, reqs[2].path, want)
	}
	if string(reqs[2].body) != "png bytes" {
		t.Errorf("uploaded body = %q", reqs[2].body)
	}
}

func TestWebDAV_ExistingCollectionIsFine(t *testing.T) {
	srv := &davServer{status: map[string]int{"MKCOL": http.StatusMethodNotAllowed}}
	s := newDAVSink(t, srv, "")

	if err := s.Deliver(context.Background(), davArtifact()); err != nil {
		t.Fatalf("MKCOL 405 must be accepted: %v", err)
	}
}

func TestWebDAV_UnauthorizedIsFatal(t *testing.T) {
	srv := &davServer{status: map[string]int{"MKCOL": http.StatusUnauthorized}}
	s := newDAVSink(t, srv, "")

	err := s.Deliver(context.Background(), davArtifact())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsFatal(err) {
		t.Errorf("401 must be fatal, got %v", err)
	}
}

func TestWebDAV_ServerErrorIsRetryable(t *testing.T) {
	srv := &davServer{status: map[string]int{
		"MKCOL": http.StatusCreated,
		"PUT":   http.StatusInternalServerError,
	}}
	s := newDAVSink(t, srv, "")

	err := s.Deliver(context.Background(), davArtifact())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsFatal(err) {
		t.Errorf("500 must stay retryable, got %v", err)
	}
}

func newShareSink(t *testing.T, srv *davServer, notify Notifier) *WebDAVSink {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	s, err := NewWebDAV(WebDAVConfig{
		URL:       ts.URL,
		Username:  "booth",
		Password:  "secret",
		Folder:    "photobooth",
		ShareLink: true,
		Notify:    notify,
		Client:    ts.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestWebDAV_ShareLinkBroadcastsURL(t *testing.T) {
	srv := &davServer{shareBody: `{"ocs":{"data":{"url":"https://cloud/s/AbCd1234"}}}`}
	notify := &fakeNotifier{}
	s := newShareSink(t, srv, notify)

	if err := s.Deliver(context.Background(), davArtifact()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	reqs := srv.recorded()
	if len(reqs) != 4 {
		t.Fatalf("got %d requests, want MKCOL, MKCOL, PUT, POST", len(reqs))
	}
	share := reqs[3]
	if share.method != http.MethodPost || !strings.HasPrefix(share.path, "/ocs/") {
		t.Fatalf("request 3 = %s %s, want POST to the OCS shares endpoint", share.method, share.path)
	}
	form, err := url.ParseQuery(string(share.body))
	if err != nil {
		t.Fatalf("share body is not a form: %v", err)
	}
	if got := form.Get("path"); got != "/photobooth/session-0003/2024-06-01_15-04-05_a1.png" {
		t.Errorf("share path = %q", got)
	}
	if got := form.Get("shareType"); got != "3" {
		t.Errorf("shareType = %q, want 3 (public link)", got)
	}
	if notify.msg != "Photo link: https://cloud/s/AbCd1234" {
		t.Errorf("broadcast = %q %q", notify.level, notify.msg)
	}
}

func TestWebDAV_ShareFailureDoesNotFailUpload(t *testing.T) {
	srv := &davServer{shareStatus: http.StatusInternalServerError}
	notify := &fakeNotifier{}
	s := newShareSink(t, srv, notify)

	if err := s.Deliver(context.Background(), davArtifact()); err != nil {
		t.Fatalf("a failed share must not fail the upload: %v", err)
	}
	if notify.msg != "" {
		t.Errorf("unexpected broadcast %q", notify.msg)
	}
}

func TestWebDAV_NoShareWithoutOptIn(t *testing.T) {
	srv := &davServer{}
	s := newDAVSink(t, srv, "photobooth")

	if err := s.Deliver(context.Background(), davArtifact()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	for _, r := range srv.recorded() {
		if r.method == http.MethodPost {
			t.Errorf("unexpected %s %s without share_link", r.method, r.path)
		}
	}
}
