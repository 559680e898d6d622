package trigger

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cjeanneret/BoothGo/internal/hw/gpio"
)

// GPIOConfig holds the hardware configuration for a button trigger.
type GPIOConfig struct {
	Pin            int
	ActiveLow      bool          // true for a button wired to ground with pull-up
	Debounce       time.Duration // minimum interval between accepted presses
	PollInterval   time.Duration // pin sampling period
	ErrorThreshold int           // consecutive read errors before giving up
	Logger         zerolog.Logger
}

// GPIOSource polls a GPIO pin and emits a debounced event per press.
// Transient read errors are logged and skipped; after ErrorThreshold
// consecutive errors the source stops polling and signals Unavailable.
type GPIOSource struct {
	cfg    GPIOConfig
	driver gpio.Driver
	events chan Event
	done   chan struct{}
	failed chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

// NewGPIOSource sets up the pin as input and starts polling.
func NewGPIOSource(driver gpio.Driver, cfg GPIOConfig) (*GPIOSource, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 25
	}
	if err := driver.SetupPin(cfg.Pin, gpio.Input); err != nil {
		return nil, err
	}

	s := &GPIOSource{
		cfg:    cfg,
		driver: driver,
		events: make(chan Event, 1),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
		log:    cfg.Logger.With().Str("component", "trigger").Int("pin", cfg.Pin).Logger(),
	}
	go s.poll()
	return s, nil
}

func (s *GPIOSource) Events() <-chan Event { return s.events }

// Unavailable is closed when the hardware trigger has failed persistently.
func (s *GPIOSource) Unavailable() <-chan struct{} { return s.failed }

func (s *GPIOSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// pressed maps a raw pin level to "button held down".
func (s *GPIOSource) pressed(level gpio.Level) bool {
	if s.cfg.ActiveLow {
		return level == gpio.Low
	}
	return level == gpio.High
}

func (s *GPIOSource) poll() {
	defer close(s.events)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var (
		wasPressed  bool
		lastAccept  time.Time
		consecutive int
	)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		level, err := s.driver.ReadPin(s.cfg.Pin)
		if err != nil {
			consecutive++
			s.log.Warn().Err(err).Int("consecutive", consecutive).Msg("trigger read failed")
			if consecutive >= s.cfg.ErrorThreshold {
				s.log.Error().Msg("hardware trigger unavailable, stopping poll loop")
				close(s.failed)
				return
			}
			continue
		}
		consecutive = 0

		now := time.Now()
		isPressed := s.pressed(level)
		if isPressed && !wasPressed && now.Sub(lastAccept) >= s.cfg.Debounce {
			lastAccept = now
			ev := Event{Time: now, Source: "gpio"}
			select {
			case s.events <- ev:
			default:
				// controller busy, drop
			}
		}
		wasPressed = isPressed
	}
}
