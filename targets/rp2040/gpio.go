//go:build rp2040

package main

import (
	"errors"
	"machine"

	"stepcore/core"
)

// numPins is the number of user GPIOs on the RP2040
const numPins = 30

// RPGPIODriver implements the GPIODriver interface for RP2040
type RPGPIODriver struct {
	configured [numPins]bool
}

// NewRPGPIODriver creates a new RP2040 GPIO driver
func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{}
}

var errBadPin = errors.New("invalid pin number")

// ConfigureOutput configures pin as a push-pull output
func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	if pin >= numPins {
		return errBadPin
	}
	if d.configured[pin] {
		// Axes may share an enable line
		return nil
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	d.configured[pin] = true
	return nil
}

// SetPin drives pin. Called from the tick context; it never blocks.
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	if pin >= numPins {
		return errBadPin
	}
	machine.Pin(pin).Set(value)
	return nil
}

// GetPin reads the pin level
func (d *RPGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	if pin >= numPins {
		return false, errBadPin
	}
	return machine.Pin(pin).Get(), nil
}
