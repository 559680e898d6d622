package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
)

// StorageConfig configures the local archive sink.
type StorageConfig struct {
	// Dir is the archive root. Session artifacts land in numbered
	// subdirectories (0000, 0001, ...).
	Dir string
	// Prefix starts every artifact filename. Default "BoothGo".
	Prefix string
	// MinFreeMB refuses writes when the filesystem has less free space,
	// as a fatal (non-retryable) error. 0 disables the guard.
	MinFreeMB uint64

	// usage is swappable for tests.
	usage func(path string) (*disk.UsageStat, error)
}

// StorageSink archives artifacts on the local filesystem. Writes are
// atomic (tmp file + rename) so a power cut never leaves a torn image.
type StorageSink struct {
	cfg StorageConfig

	mu       sync.Mutex
	dirs     map[uint64]string // session ID -> allocated directory
	lastPath string
}

// NewStorage creates the archive sink and ensures the root exists.
func NewStorage(cfg StorageConfig) (*StorageSink, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("storage: dir is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "BoothGo"
	}
	if cfg.usage == nil {
		cfg.usage = disk.Usage
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &StorageSink{cfg: cfg, dirs: make(map[uint64]string)}, nil
}

func (s *StorageSink) Name() string { return "storage" }

// LastPath returns the most recently archived artifact path, for the
// web surface. Empty until the first delivery.
func (s *StorageSink) LastPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPath
}

func (s *StorageSink) Deliver(_ context.Context, a *pipeline.Artifact) error {
	if s.cfg.MinFreeMB > 0 {
		usage, err := s.cfg.usage(s.cfg.Dir)
		if err != nil {
			return fmt.Errorf("storage: disk usage: %w", err)
		}
		if usage.Free < s.cfg.MinFreeMB*1024*1024 {
			return Fatal(fmt.Errorf("storage: only %d MB free, need %d MB",
				usage.Free/(1024*1024), s.cfg.MinFreeMB))
		}
	}

	dir, err := s.sessionDir(a.SessionID)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s-%s_%d.png", s.cfg.Prefix,
		a.CreatedAt.Format("2006-01-02_15-04-05"), a.SessionID)
	path := filepath.Join(dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, a.Data, 0o644); err != nil {
		return fmt.Errorf("storage: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: rename: %w", err)
	}

	s.mu.Lock()
	s.lastPath = path
	s.mu.Unlock()
	return nil
}

// sessionDir returns the numbered directory for the given session,
// allocating the next free one on first use. Reusing the allocation
// keeps retried deliveries in the same directory.
func (s *StorageSink) sessionDir(sessionID uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir, ok := s.dirs[sessionID]; ok {
		return dir, nil
	}
	for idx := 0; ; idx++ {
		dir := filepath.Join(s.cfg.Dir, fmt.Sprintf("%04d", idx))
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			s.dirs[sessionID] = dir
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("storage: create session dir: %w", err)
		}
	}
}
