package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
)

// WebDAVConfig configures the cloud upload sink (Nextcloud-style
// WebDAV endpoint).
type WebDAVConfig struct {
	URL      string // instance base URL, e.g. https://cloud.example.org
	Username string
	Password string
	Folder   string // remote parent folder
	Timeout  time.Duration

	// ShareLink creates a public share for each uploaded artifact
	// through the OCS API. Best effort: a failed share never fails the
	// delivery, the photo is already archived.
	ShareLink bool
	// Notify receives the share link for the status stream. May be nil.
	Notify Notifier

	// Client is swappable for tests. Nil uses an http.Client with the
	// configured timeout.
	Client *http.Client
}

// WebDAVSink uploads artifacts to a WebDAV share, one remote directory
// per session. Auth and path errors are fatal; server and network
// errors are retryable.
type WebDAVSink struct {
	cfg    WebDAVConfig
	client *http.Client
	base   string
}

// NewWebDAV creates the upload sink.
func NewWebDAV(cfg WebDAVConfig) (*WebDAVSink, error) {
	if cfg.URL == "" || cfg.Username == "" {
		return nil, fmt.Errorf("webdav: url and username are required")
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	cfg.Folder = strings.Trim(cfg.Folder, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	base := fmt.Sprintf("%s/remote.php/dav/files/%s", cfg.URL, cfg.Username)
	if cfg.Folder != "" {
		base += "/" + cfg.Folder
	}
	return &WebDAVSink{cfg: cfg, client: client, base: base}, nil
}

func (w *WebDAVSink) Name() string { return "webdav" }

func (w *WebDAVSink) Deliver(ctx context.Context, a *pipeline.Artifact) error {
	dir := fmt.Sprintf("%s/session-%04d", w.base, a.SessionID)

	// MKCOL is fine to repeat: 405 means the collection already exists.
	if err := w.do(ctx, "MKCOL", w.base, nil, http.StatusMethodNotAllowed); err != nil {
		return err
	}
	if err := w.do(ctx, "MKCOL", dir, nil, http.StatusMethodNotAllowed); err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%s.png", a.CreatedAt.Format("2006-01-02_15-04-05"), a.ID)
	if err := w.do(ctx, http.MethodPut, dir+"/"+name, a.Data); err != nil {
		return err
	}

	if w.cfg.ShareLink {
		remote := fmt.Sprintf("/session-%04d/%s", a.SessionID, name)
		if w.cfg.Folder != "" {
			remote = "/" + w.cfg.Folder + remote
		}
		if link, err := w.share(ctx, remote); err == nil && link != "" && w.cfg.Notify != nil {
			w.cfg.Notify.Broadcast("share", "Photo link: "+link)
		}
	}
	return nil
}

const ocsSharesPath = "/ocs/v2.php/apps/files_sharing/api/v1/shares"

// share creates a public link for the uploaded file via the OCS share
// API. shareType 3 is "public link".
func (w *WebDAVSink) share(ctx context.Context, remote string) (string, error) {
	form := url.Values{"path": {remote}, "shareType": {"3"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		w.cfg.URL+ocsSharesPath+"?format=json", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("OCS-APIRequest", "true")
	req.SetBasicAuth(w.cfg.Username, w.cfg.Password)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("webdav: share %s: status %d", remote, resp.StatusCode)
	}

	var body struct {
		Ocs struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"ocs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("webdav: share response: %w", err)
	}
	return body.Ocs.Data.URL, nil
}

// do runs one WebDAV request. Statuses in okExtra are accepted besides
// the 2xx range.
func (w *WebDAVSink) do(ctx context.Context, method, url string, body []byte, okExtra ...int) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Fatal(fmt.Errorf("webdav: build request: %w", err))
	}
	req.SetBasicAuth(w.cfg.Username, w.cfg.Password)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webdav: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	for _, code := range okExtra {
		if resp.StatusCode == code {
			return nil
		}
	}

	err = fmt.Errorf("webdav: %s %s: status %d", method, url, resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		// Credentials or path misconfigured; retries will not fix it.
		return Fatal(err)
	}
	return err
}
