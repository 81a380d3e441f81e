package core

import (
	"errors"
	"sync/atomic"
)

// MemoryGPIO is a GPIODriver backed by memory. It is used by the host
// simulator and by tests; SetPin is safe to call from the tick goroutine
// while other goroutines read levels and edge counts.
type MemoryGPIO struct {
	configured [MaxPins]atomic.Bool
	level      [MaxPins]atomic.Bool
	rising     [MaxPins]atomic.Uint64
}

// NewMemoryGPIO creates an empty memory GPIO driver
func NewMemoryGPIO() *MemoryGPIO {
	return &MemoryGPIO{}
}

var errPinRange = errors.New("pin out of range")

// ConfigureOutput marks pin as an output
func (m *MemoryGPIO) ConfigureOutput(pin GPIOPin) error {
	if pin >= MaxPins {
		return errPinRange
	}
	m.configured[pin].Store(true)
	return nil
}

// SetPin stores the level and counts low-to-high transitions
func (m *MemoryGPIO) SetPin(pin GPIOPin, value bool) error {
	if pin >= MaxPins {
		return errPinRange
	}
	if !m.configured[pin].Load() {
		return errors.New("pin not configured as output")
	}
	if old := m.level[pin].Swap(value); value && !old {
		m.rising[pin].Add(1)
	}
	return nil
}

// GetPin reads back the last level written
func (m *MemoryGPIO) GetPin(pin GPIOPin) (bool, error) {
	if pin >= MaxPins {
		return false, errPinRange
	}
	return m.level[pin].Load(), nil
}

// RisingEdges returns how many times pin went from low to high
func (m *MemoryGPIO) RisingEdges(pin GPIOPin) uint64 {
	if pin >= MaxPins {
		return 0
	}
	return m.rising[pin].Load()
}
