// Package stepgen generates step pulses tick by tick. Each Actuator drives
// one axis; the axes of a block share the dominant axis velocity profile and
// a Bresenham accumulator keeps them in lockstep.
package stepgen

import (
	"sync/atomic"

	"stepcore/core"
)

// Move is one axis's share of a block
type Move struct {
	Steps   uint32   // Steps for this axis
	Reverse bool     // Direction: true = reverse
	Profile *Profile // Dominant axis profile shared by every axis of the block
}

// Actuator represents a single stepper motor axis. IssueMove and Tick must
// not run concurrently; the motion coordinator guarantees that with its
// moving flag.
type Actuator struct {
	name       byte
	stepsPerMM float64

	step   core.DigitalOutput
	dir    core.DigitalOutput
	enable core.DigitalOutput

	// Position in steps, readable from any context
	position atomic.Int64

	// Output state, pushed only on change
	stepHigh  bool
	reverse   bool
	dirKnown  bool
	enabled   bool
	enableSet bool

	// Current move
	prof         Profile
	steps        uint32
	stepsDone    uint32
	dominantDone uint32
	rate         uint64
	acc          uint64
	err          uint32
	active       bool
	lastStepTick uint32
}

// NewActuator creates an actuator for axis name. enable may be nil.
func NewActuator(name byte, stepsPerMM float64, step, dir, enable core.DigitalOutput) *Actuator {
	if enable == nil {
		enable = core.NopOutput
	}
	return &Actuator{
		name:       name,
		stepsPerMM: stepsPerMM,
		step:       step,
		dir:        dir,
		enable:     enable,
	}
}

// Name returns the axis letter
func (a *Actuator) Name() byte {
	return a.name
}

// IssueMove loads a new move and resets the step counters. Direction and
// enable lines are written only when they change.
func (a *Actuator) IssueMove(m Move) {
	a.prof = *m.Profile
	a.steps = m.Steps
	a.stepsDone = 0
	a.dominantDone = 0
	a.rate = a.prof.InitialRate
	a.acc = 0
	a.err = a.prof.TotalSteps / 2
	a.active = m.Steps > 0 && a.prof.TotalSteps > 0

	if !a.active {
		return
	}
	if !a.dirKnown || a.reverse != m.Reverse {
		a.dir.Set(m.Reverse)
		a.reverse = m.Reverse
		a.dirKnown = true
	}
	a.SetEnabled(true)
}

// Tick advances the actuator by one tick and reports whether it still has
// steps pending. n is the tick number within the block and is recorded for
// the last emitted step. Tick never blocks or allocates.
func (a *Actuator) Tick(n uint32) bool {
	// A step pulse lasts one tick
	if a.stepHigh {
		a.step.Set(false)
		a.stepHigh = false
	}
	if !a.active {
		return false
	}

	p := &a.prof
	switch {
	case a.dominantDone < p.AccelerateUntil:
		a.rate += p.Acceleration
		if a.rate > p.NominalRate {
			a.rate = p.NominalRate
		}
	case a.dominantDone >= p.DecelerateAfter:
		if a.rate > p.FinalRate+p.Acceleration {
			a.rate -= p.Acceleration
		} else {
			a.rate = p.FinalRate
		}
	default:
		a.rate = p.NominalRate
	}

	a.acc += a.rate
	if a.acc < RateOne {
		return true
	}
	a.acc -= RateOne
	a.dominantDone++

	// Bresenham share of the dominant step
	a.err += a.steps
	if a.err >= p.TotalSteps {
		a.err -= p.TotalSteps
		a.step.Set(true)
		a.stepHigh = true
		a.stepsDone++
		a.lastStepTick = n
		if a.reverse {
			a.position.Add(-1)
		} else {
			a.position.Add(1)
		}
	}

	if a.stepsDone >= a.steps || a.dominantDone >= p.TotalSteps {
		a.active = false
	}
	return a.active
}

// StepHigh reports whether the last emitted pulse is still high. The next
// Tick lowers it.
func (a *Actuator) StepHigh() bool {
	return a.stepHigh
}

// Stop abandons the current move and lowers the step line. The position
// keeps the steps emitted.
func (a *Actuator) Stop() {
	a.active = false
	if a.stepHigh {
		a.step.Set(false)
		a.stepHigh = false
	}
}

// IsActive returns whether steps are pending
func (a *Actuator) IsActive() bool {
	return a.active
}

// SetEnabled drives the enable line when the state changes
func (a *Actuator) SetEnabled(on bool) {
	if a.enableSet && a.enabled == on {
		return
	}
	a.enable.Set(on)
	a.enabled = on
	a.enableSet = true
}

// IsEnabled returns the last enable state written
func (a *Actuator) IsEnabled() bool {
	return a.enabled
}

// Position returns the current position in steps
func (a *Actuator) Position() int64 {
	return a.position.Load()
}

// PositionMM returns the current position in millimeters
func (a *Actuator) PositionMM() float64 {
	if a.stepsPerMM == 0 {
		return 0
	}
	return float64(a.position.Load()) / a.stepsPerMM
}

// SetPosition sets the current position in steps. Only call while idle.
func (a *Actuator) SetPosition(steps int64) {
	a.position.Store(steps)
}

// StepsPerMM returns the axis scale
func (a *Actuator) StepsPerMM() float64 {
	return a.stepsPerMM
}

// SetStepsPerMM changes the axis scale. Only call while idle.
func (a *Actuator) SetStepsPerMM(v float64) {
	a.stepsPerMM = v
}

// LastStepTick returns the tick number of the last emitted step
func (a *Actuator) LastStepTick() uint32 {
	return a.lastStepTick
}
