//go:build rp2040

package main

import (
	"context"
	"machine"
	"time"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"stepcore/core"
	"stepcore/standalone"
	"stepcore/standalone/config"
)

func main() {
	// Disable the watchdog left running by a previous image
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()
	core.SetDebugWriter(func(s string) { USBWriteBytes([]byte(s + "\n")) })

	core.SetGPIODriver(NewRPGPIODriver())
	gpioDriver := core.MustGPIO()

	cfg := config.DefaultCartesianConfig()
	manager, err := standalone.NewManagerWithConfig(cfg)
	if err != nil {
		fail()
	}
	if err := manager.InitializeOutputs(pioOutputs(gpioDriver, newPIOPulser(rp2pio.PIO0))); err != nil {
		fail()
	}
	manager.SetReplyFunc(USBWriteBytes)

	ticks := newHWTickSource(cfg.TickFrequency)
	if err := ticks.Start(manager.IssueTicks); err != nil {
		fail()
	}
	go func() {
		_ = manager.RunCompletion(context.Background())
	}()

	if err := manager.Start(); err != nil {
		fail()
	}
	blink(3, 200*time.Millisecond)

	// Command context
	for {
		for USBAvailable() > 0 {
			b, err := USBRead()
			if err != nil {
				break
			}
			manager.ProcessByte(b)
		}
		time.Sleep(10 * time.Microsecond)
	}
}

// fail flashes the LED rapidly forever
func fail() {
	for {
		blink(1, 100*time.Millisecond)
	}
}

func blink(n int, d time.Duration) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for i := 0; i < n; i++ {
		led.High()
		time.Sleep(d)
		led.Low()
		time.Sleep(d)
	}
}
