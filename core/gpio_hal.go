package core

import "errors"

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// GPIODriver is the abstract GPIO interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output
	// Returns error if pin is invalid or already in use
	ConfigureOutput(pin GPIOPin) error

	// SetPin sets the pin to high (true) or low (false)
	SetPin(pin GPIOPin, value bool) error

	// GetPin reads the current pin state
	GetPin(pin GPIOPin) (bool, error)
}

// DigitalOutput is one logical output line (step, direction or enable).
// Set is called from interrupt context and must not block.
type DigitalOutput interface {
	Set(on bool)
}

// OutputFunc adapts a plain function to DigitalOutput
type OutputFunc func(on bool)

// Set calls f(on)
func (f OutputFunc) Set(on bool) { f(on) }

// NopOutput discards every write. Used for unwired enable lines.
var NopOutput DigitalOutput = OutputFunc(func(bool) {})

// PinOutput drives a single GPIODriver pin, optionally inverted
type PinOutput struct {
	driver GPIODriver
	pin    GPIOPin
	invert bool
}

// NewPinOutput configures pin as an output on driver and drives it to the
// logical low level.
func NewPinOutput(driver GPIODriver, pin GPIOPin, invert bool) (*PinOutput, error) {
	if driver == nil {
		return nil, errors.New("GPIO driver not configured")
	}
	if err := driver.ConfigureOutput(pin); err != nil {
		return nil, err
	}
	p := &PinOutput{driver: driver, pin: pin, invert: invert}
	p.Set(false)
	return p, nil
}

// Set drives the pin to the logical level on
func (p *PinOutput) Set(on bool) {
	// Errors are dropped here: this runs from the tick path.
	_ = p.driver.SetPin(p.pin, on != p.invert)
}

// Pin returns the hardware pin number
func (p *PinOutput) Pin() GPIOPin {
	return p.pin
}

// Global singleton used by target code.
var gpioDriver GPIODriver

// SetGPIODriver is called by target-specific code to register its driver.
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// MustGPIO returns the configured driver or panics if missing.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}
