package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TriggerConfig describes the physical trigger button.
type TriggerConfig struct {
	Pin            int  `yaml:"pin"`         // GPIO pin (BCM) of the button
	ActiveLow      bool `yaml:"active_low"`  // button wired to ground with pull-up
	DebounceMs     int  `yaml:"debounce_ms"` // minimum interval between presses
	PollIntervalMs int  `yaml:"poll_interval_ms"`
	ErrorThreshold int  `yaml:"error_threshold"` // consecutive read errors before giving up
}

// CameraConfig describes how to communicate with the camera.
// Type selects a concrete implementation ("libcamera" or "pattern").
type CameraConfig struct {
	Type             string   `yaml:"type"`
	Command          string   `yaml:"command"`    // still-capture binary for type "libcamera"
	ExtraArgs        []string `yaml:"extra_args"` // appended to the capture command
	CaptureTimeoutMs int      `yaml:"capture_timeout_ms"`
	WarmupMs         int      `yaml:"warmup_ms"` // autoexposure/autofocus settle before first shot
}

// SessionConfig holds the booth session parameters.
type SessionConfig struct {
	Shots                int  `yaml:"shots"`                  // 1 = single photo, N = collage
	CountdownSeconds     int  `yaml:"countdown_seconds"`      // before the first shot
	ShotCountdownSeconds int  `yaml:"shot_countdown_seconds"` // between shots
	CooldownMs           int  `yaml:"cooldown_ms"`            // triggers ignored after a session
	QueueTrigger         bool `yaml:"queue_trigger"`          // keep one mid-session trigger
	ShotRetries          int  `yaml:"shot_retries"`
	ProceedOnPartial     bool `yaml:"proceed_on_partial"`
}

// TransformConfig is one pipeline step.
type TransformConfig struct {
	Name      string            `yaml:"name"`
	Mandatory bool              `yaml:"mandatory"`
	Params    map[string]string `yaml:"params,omitempty"`
}

// PipelineConfig lists the ordered transforms applied after capture.
type PipelineConfig struct {
	Version    string            `yaml:"version"`
	Transforms []TransformConfig `yaml:"transforms"`
}

// StorageConfig describes the local archive.
type StorageConfig struct {
	Dir       string `yaml:"dir"`
	Prefix    string `yaml:"prefix"`
	MinFreeMB uint64 `yaml:"min_free_mb"` // refuse archiving below this free space
}

// PrinterConfig describes the optional print sink.
type PrinterConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Command   string `yaml:"command"` // default "lp"
	Printer   string `yaml:"printer"` // CUPS destination; empty = default
	PaperSize string `yaml:"paper_size"`
}

// WebDAVConfig describes the optional cloud upload sink.
type WebDAVConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Folder    string `yaml:"folder"`
	ShareLink bool   `yaml:"share_link"` // create a public link per upload
	TimeoutMs int    `yaml:"timeout_ms"`
}

// DispatchConfig tunes artifact delivery.
type DispatchConfig struct {
	Attempts         int `yaml:"attempts"`
	DeliverTimeoutMs int `yaml:"deliver_timeout_ms"`
	BackoffBaseMs    int `yaml:"backoff_base_ms"`
	BackoffMaxMs     int `yaml:"backoff_max_ms"`
	// ArchivalRequired: the session succeeds only if storage delivered.
	// Defaults to true; opting out of durable archiving must be explicit.
	ArchivalRequired *bool `yaml:"archival_required"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	LogLevel string `yaml:"log_level"` // zerolog level name, default "info"
	MockGPIO bool   `yaml:"mock_gpio"` // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	WebPort  int    `yaml:"web_port"`  // 0 = web surface disabled
}

// Config aggregates all application configuration.
type Config struct {
	Trigger  TriggerConfig  `yaml:"trigger"`
	Camera   CameraConfig   `yaml:"camera"`
	Session  SessionConfig  `yaml:"session"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Storage  StorageConfig  `yaml:"storage"`
	Printer  PrinterConfig  `yaml:"printer"`
	WebDAV   WebDAVConfig   `yaml:"webdav"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	if cfg.Camera.Type == "" {
		return nil, fmt.Errorf("camera.type is required")
	}
	switch cfg.Camera.Type {
	case "libcamera", "pattern":
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
	if cfg.Storage.Dir == "" {
		return nil, fmt.Errorf("storage.dir is required")
	}
	if cfg.Printer.Enabled && cfg.Printer.PaperSize == "" {
		return nil, fmt.Errorf("printer.paper_size is required when printing is enabled")
	}
	if cfg.WebDAV.Enabled && (cfg.WebDAV.URL == "" || cfg.WebDAV.Username == "") {
		return nil, fmt.Errorf("webdav.url and webdav.username are required when upload is enabled")
	}
	if cfg.Session.Shots < 0 {
		return nil, fmt.Errorf("session.shots must be >= 0, got %d", cfg.Session.Shots)
	}
	if cfg.Trigger.Pin <= 0 {
		return nil, fmt.Errorf("trigger.pin is required")
	}

	// Defaults
	if cfg.Trigger.DebounceMs <= 0 {
		cfg.Trigger.DebounceMs = 300
	}
	if cfg.Trigger.PollIntervalMs <= 0 {
		cfg.Trigger.PollIntervalMs = 10
	}
	if cfg.Trigger.ErrorThreshold <= 0 {
		cfg.Trigger.ErrorThreshold = 25
	}
	if cfg.Camera.CaptureTimeoutMs <= 0 {
		cfg.Camera.CaptureTimeoutMs = 5000
	}
	if cfg.Camera.WarmupMs < 0 {
		cfg.Camera.WarmupMs = 0
	}
	if cfg.Session.Shots == 0 {
		cfg.Session.Shots = 1
	}
	if cfg.Session.CountdownSeconds <= 0 {
		cfg.Session.CountdownSeconds = 3
	}
	if cfg.Session.ShotCountdownSeconds <= 0 {
		cfg.Session.ShotCountdownSeconds = 3
	}
	if cfg.Session.CooldownMs <= 0 {
		cfg.Session.CooldownMs = 1000
	}
	if cfg.Pipeline.Version == "" {
		cfg.Pipeline.Version = "v1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "BoothGo"
	}
	if cfg.Dispatch.Attempts <= 0 {
		cfg.Dispatch.Attempts = 3
	}
	if cfg.Dispatch.DeliverTimeoutMs <= 0 {
		cfg.Dispatch.DeliverTimeoutMs = 10000
	}
	if cfg.Dispatch.BackoffBaseMs <= 0 {
		cfg.Dispatch.BackoffBaseMs = 500
	}
	if cfg.Dispatch.BackoffMaxMs <= 0 {
		cfg.Dispatch.BackoffMaxMs = 5000
	}
	if cfg.Dispatch.ArchivalRequired == nil {
		required := true
		cfg.Dispatch.ArchivalRequired = &required
	}
	if cfg.WebDAV.TimeoutMs <= 0 {
		cfg.WebDAV.TimeoutMs = 10000
	}
	if cfg.Defaults.LogLevel == "" {
		cfg.Defaults.LogLevel = "info"
	}

	return &cfg, nil
}

// Debounce returns the trigger debounce interval.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Trigger.DebounceMs) * time.Millisecond
}

// PollInterval returns the trigger pin sampling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trigger.PollIntervalMs) * time.Millisecond
}

// CaptureTimeout returns the bound on a single capture call.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.CaptureTimeoutMs) * time.Millisecond
}

// Warmup returns the camera settle delay before the first shot.
func (c *Config) Warmup() time.Duration {
	return time.Duration(c.Camera.WarmupMs) * time.Millisecond
}

// Cooldown returns the post-session interval during which triggers are ignored.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Session.CooldownMs) * time.Millisecond
}

// DeliverTimeout returns the bound on a single sink delivery attempt.
func (c *Config) DeliverTimeout() time.Duration {
	return time.Duration(c.Dispatch.DeliverTimeoutMs) * time.Millisecond
}

// BackoffBase returns the initial retry backoff.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Dispatch.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the retry backoff ceiling.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Dispatch.BackoffMaxMs) * time.Millisecond
}

// WebDAVTimeout returns the upload request timeout.
func (c *Config) WebDAVTimeout() time.Duration {
	return time.Duration(c.WebDAV.TimeoutMs) * time.Millisecond
}
