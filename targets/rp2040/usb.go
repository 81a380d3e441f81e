//go:build rp2040

package main

import (
	"machine"
)

// InitUSB initializes USB serial communication.
// On RP2040 machine.Serial is USB CDC; TinyGo's runtime sets the descriptors.
func InitUSB() {
	err := machine.Serial.Configure(machine.UARTConfig{})
	if err != nil {
		return
	}
}

// USBAvailable returns the number of bytes available to read from USB
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte from USB
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes every byte of data, giving up after repeated
// failures so a closed port cannot stall the command loop
func USBWriteBytes(data []byte) {
	failures := 0
	for len(data) > 0 && failures < 10 {
		n, err := machine.Serial.Write(data)
		if err != nil || n == 0 {
			failures++
			continue
		}
		data = data[n:]
	}
}
