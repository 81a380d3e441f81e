//go:build rp2040

package main

import (
	"errors"
	"runtime"
	"runtime/volatile"
	"unsafe"

	"stepcore/core"
)

// RP2040 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x24 // Raw timer high word
	timerTIMERAWL = timerBase + 0x28 // Raw timer low word
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// GetHardwareUptime reads the full 64-bit microsecond timer
func GetHardwareUptime() uint64 {
	// Read high, low, high to detect a rollover between the reads
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return (uint64(high1) << 32) | uint64(low)
		}
	}
}

// hwTickSource paces the tick handler from the 1MHz hardware timer. The
// loop catches up on every elapsed period, then yields so the command and
// completion goroutines can run.
type hwTickSource struct {
	freq    uint32
	running volatile.Register8
}

func newHWTickSource(freq uint32) *hwTickSource {
	return &hwTickSource{freq: freq}
}

// Frequency returns the tick frequency in Hz
func (t *hwTickSource) Frequency() uint32 {
	return t.freq
}

// Start begins ticking
func (t *hwTickSource) Start(handler core.TickHandler) error {
	if t.freq == 0 || t.freq > core.MaxTickFrequency {
		return errors.New("tick frequency out of range")
	}
	if t.running.Get() != 0 {
		return errors.New("tick source already started")
	}
	t.running.Set(1)
	go t.run(handler)
	return nil
}

func (t *hwTickSource) run(handler core.TickHandler) {
	// Tick deadlines in 1/freq of a microsecond avoid drift at rates
	// that do not divide 1MHz
	next := GetHardwareUptime() * uint64(t.freq)
	for t.running.Get() != 0 {
		now := GetHardwareUptime() * uint64(t.freq)
		for next <= now {
			handler()
			next += 1000000
		}
		runtime.Gosched()
	}
}

// Stop halts ticking
func (t *hwTickSource) Stop() {
	t.running.Set(0)
}
