package core

import "errors"

// MaxPins bounds the pin numbers accepted by ParsePin and MemoryGPIO
const MaxPins = 64

var errBadPin = errors.New("invalid pin name")

// ParsePin converts a configuration pin name ("gpio12", "GPIO12" or "12")
// to a pin number.
func ParsePin(name string) (GPIOPin, error) {
	s := name
	if len(s) > 4 && (s[:4] == "gpio" || s[:4] == "GPIO") {
		s = s[4:]
	}
	if len(s) == 0 {
		return 0, errBadPin
	}

	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, errors.New("invalid pin name: " + name)
		}
		n = n*10 + int(c-'0')
		if n >= MaxPins {
			return 0, errors.New("pin out of range: " + name)
		}
	}
	return GPIOPin(n), nil
}
