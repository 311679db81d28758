package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/MountGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	}
	return fmt.Sprintf("PinMode(%d)", int(m))
}

// Driver kinds accepted by NewDriver.
const (
	KindMock = "mock"
	KindRPi  = "rpio"
	KindCdev = "cdev"
)

// Driver defines the abstract interface for controlling GPIOs.
// WritePin is called from the step pulse path and must not block. The real
// drivers read a lock-free pin table; MockDriver locks, which is fine in tests.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver latches written levels and counts rising edges per pin.
// Used for development on PC or testing. The zero value is ready to use.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	rising map[int]int
}

// NewDriver creates a GPIO driver of the given kind.
// chip is only used by the character device driver (e.g. "gpiochip0").
func NewDriver(kind, chip string) (Driver, error) {
	switch kind {
	case KindMock, "":
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	case KindRPi:
		return NewRPiRealDriver()
	case KindCdev:
		return NewCdevDriver(chip)
	default:
		return nil, fmt.Errorf("unknown gpio driver %q", kind)
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
		m.rising = make(map[int]int)
	}
	if level == High && m.levels[pin] == Low {
		m.rising[pin]++
	}
	m.levels[pin] = level
	return nil
}

// ReadPin returns the last level written to pin, Low if never written.
func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

// RisingEdges returns how many low-to-high transitions pin has seen.
func (m *MockDriver) RisingEdges(pin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rising[pin]
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
