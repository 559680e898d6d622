package gpio

import (
	"sync"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver is a test implementation backed by an in-memory pin map.
// Input levels can be scripted with SetLevel; read errors can be injected
// with FailReads to exercise degraded-trigger paths.
type MockDriver struct {
	mu        sync.Mutex
	levels    map[int]Level
	modes     map[int]PinMode
	readErr   error
	failReads int
}

// NewMockDriver creates a mock GPIO driver for development and tests.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		levels: make(map[int]Level),
		modes:  make(map[int]PinMode),
	}
}

// SetLevel scripts the level returned by subsequent ReadPin calls.
func (m *MockDriver) SetLevel(pin int, level Level) {
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
}

// FailReads makes the next n ReadPin calls return err.
// n < 0 means fail until cleared.
func (m *MockDriver) FailReads(n int, err error) {
	m.mu.Lock()
	m.failReads = n
	m.readErr = err
	m.mu.Unlock()
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	m.mu.Lock()
	m.modes[pin] = mode
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != 0 && m.readErr != nil {
		if m.failReads > 0 {
			m.failReads--
		}
		return Low, m.readErr
	}
	return m.levels[pin], nil
}

func (m *MockDriver) Close() error { return nil }

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		return NewMockDriver(), nil
	}
	return NewRPiRealDriver()
}
