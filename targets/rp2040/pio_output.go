//go:build rp2040

package main

// Hardware-timed step pulses: the tick handler only pushes a word to the
// state machine FIFO and the PIO shapes the pulse

import (
	"errors"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"stepcore/core"
	"stepcore/standalone"
	"stepcore/standalone/config"
)

// buildPulseProgram creates the single pulse PIO program using AssemblerV0.
// Every word pulled from the FIFO produces one pulse of pulseCycles.
func buildPulseProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),                   // 0: pull block
		asm.Set(rp2pio.SetDestPins, 1).Delay(3).Encode(), // 1: set pins, 1 [3]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),          // 2: set pins, 0
		// .wrap
	}
}

// 125MHz / 125 = 1MHz state machine clock, a 4us pulse
const pulseClkDiv = 125

// pioPulser loads the pulse program once and hands out state machines
type pioPulser struct {
	pio    *rp2pio.PIO
	offset uint8
	length uint8
	loaded bool
	nextSM uint8
}

func newPIOPulser(hw *rp2pio.PIO) *pioPulser {
	return &pioPulser{pio: hw}
}

var errNoStateMachine = errors.New("no free PIO state machine")

// Output claims a state machine driving pin
func (p *pioPulser) Output(pin machine.Pin) (*PIOStepOutput, error) {
	if !p.loaded {
		program := buildPulseProgram()
		offset, err := p.pio.AddProgram(program, 0)
		if err != nil {
			return nil, err
		}
		p.offset = offset
		p.length = uint8(len(program))
		p.loaded = true
	}
	if p.nextSM > 3 {
		return nil, errNoStateMachine
	}
	sm := p.pio.StateMachine(p.nextSM)
	if !sm.TryClaim() {
		return nil, errNoStateMachine
	}
	p.nextSM++

	pin.Configure(machine.PinConfig{Mode: p.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(pin, 1)
	cfg.SetWrap(p.offset+p.length-1, p.offset)
	cfg.SetClkDivIntFrac(pulseClkDiv, 0)

	// Pin directions must be set after Init
	sm.Init(p.offset, cfg)
	sm.SetPindirsConsecutive(pin, 1, true)
	sm.SetPinsConsecutive(pin, 1, false)
	sm.SetEnabled(true)

	return &PIOStepOutput{sm: sm}, nil
}

// PIOStepOutput is a step line driven by a PIO state machine. Set(true)
// queues one pulse; the line returns low by itself.
type PIOStepOutput struct {
	sm      rp2pio.StateMachine
	dropped uint32
}

// Set queues a pulse on a rising request. Called from the tick context;
// a full FIFO drops the pulse rather than block.
func (o *PIOStepOutput) Set(on bool) {
	if !on {
		return
	}
	if o.sm.IsTxFIFOFull() {
		o.dropped++
		return
	}
	o.sm.TxPut(1)
}

// Dropped returns how many pulses found the FIFO full
func (o *PIOStepOutput) Dropped() uint32 {
	return o.dropped
}

// pioOutputs drives step lines from PIO0 where possible and everything else
// from plain GPIO. Inverted step lines stay on GPIO.
func pioOutputs(gpio core.GPIODriver, pulser *pioPulser) standalone.OutputFactory {
	plain := standalone.PinOutputs(gpio)
	return func(axis byte, a config.AxisConfig) (standalone.AxisOutputs, error) {
		out, err := plain(axis, a)
		if err != nil || a.InvertStep {
			return out, err
		}
		pin, err := core.ParsePin(a.StepPin)
		if err != nil {
			return out, err
		}
		step, err := pulser.Output(machine.Pin(pin))
		if err != nil {
			// Out of state machines, keep the GPIO step line
			return out, nil
		}
		out.Step = step
		return out, nil
	}
}
