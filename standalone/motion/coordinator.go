// Package motion owns the actuators and runs planned blocks on them one
// tick at a time.
package motion

import (
	"sync/atomic"

	"stepcore/standalone/kinematics"
	"stepcore/standalone/planner"
	"stepcore/standalone/stepgen"
)

// Coordinator states. The state says who owns the actuators: the
// completion context while idle or loading, the tick context while moving.
const (
	stateIdle uint32 = iota
	stateLoading
	stateMoving
)

// Coordinator distributes blocks to the actuators and advances all of them
// per tick. It moves between IDLE and MOVING: Claim and Load enter MOVING
// through LOADING, the tick that finishes every axis returns false and the
// caller records IDLE with SetNothingMoving.
type Coordinator struct {
	actuators [kinematics.NumAxes]*stepgen.Actuator
	state     atomic.Uint32
	current   atomic.Uint32 // ID of the block being run
}

// NewCoordinator creates a coordinator over actuators indexed by axis. Nil
// entries are unconfigured axes.
func NewCoordinator(actuators [kinematics.NumAxes]*stepgen.Actuator) *Coordinator {
	return &Coordinator{actuators: actuators}
}

// Claim takes the actuators for loading a block. It fails while a block is
// loaded or running.
func (c *Coordinator) Claim() bool {
	return c.state.CompareAndSwap(stateIdle, stateLoading)
}

// Unclaim hands back a claim that loaded nothing
func (c *Coordinator) Unclaim() {
	c.state.CompareAndSwap(stateLoading, stateIdle)
}

// Load hands each actuator its share of b and publishes the block to the
// tick context. The caller must hold the claim. It returns false, keeping
// the claim, when no configured axis has steps or when cancelled reports
// true once the actuators are loaded; the actuators are then stopped again.
func (c *Coordinator) Load(b *planner.Block, cancelled func() bool) bool {
	started := false
	for i, a := range c.actuators {
		if a == nil {
			continue
		}
		steps := b.Steps[i]
		reverse := steps < 0
		if reverse {
			steps = -steps
		}
		a.IssueMove(stepgen.Move{Steps: uint32(steps), Reverse: reverse, Profile: &b.Profile})
		if a.IsActive() {
			started = true
		}
	}
	if started && cancelled != nil && cancelled() {
		c.stop()
		started = false
	}
	if !started {
		return false
	}
	c.current.Store(b.ID)
	c.state.Store(stateMoving)
	return true
}

// IssueMove claims the actuators and loads b. It returns false when
// something is already moving or b has no steps for a configured axis.
func (c *Coordinator) IssueMove(b *planner.Block) bool {
	if !c.Claim() {
		return false
	}
	if !c.Load(b, nil) {
		c.Unclaim()
		return false
	}
	return true
}

// IssueTicks advances every actuator by one tick. It returns true while any
// axis has steps pending or a step line still high, and false on the tick
// all axes finish with their lines low. Called from interrupt context, only
// while IsRunning.
func (c *Coordinator) IssueTicks(tick uint32) bool {
	busy := false
	for _, a := range c.actuators {
		if a == nil {
			continue
		}
		if a.Tick(tick) || a.StepHigh() {
			busy = true
		}
	}
	return busy
}

// IsAnythingMoving reports whether a block is loading or loaded
func (c *Coordinator) IsAnythingMoving() bool {
	return c.state.Load() != stateIdle
}

// IsRunning reports whether the tick context owns the actuators
func (c *Coordinator) IsRunning() bool {
	return c.state.Load() == stateMoving
}

// SetNothingMoving records that the running block finished. Called from
// the tick context.
func (c *Coordinator) SetNothingMoving() {
	c.state.CompareAndSwap(stateMoving, stateIdle)
}

// CurrentBlock returns the ID of the last issued block
func (c *Coordinator) CurrentBlock() uint32 {
	return c.current.Load()
}

// Abort stops the running block where it is, disabling the motors when
// disable is set. Called from interrupt context. It returns false while a
// block is being loaded; the caller retries on a later tick.
func (c *Coordinator) Abort(disable bool) bool {
	switch c.state.Load() {
	case stateLoading:
		return false
	case stateMoving:
		c.stop()
		if disable {
			c.SetEnabled(false)
		}
		c.state.Store(stateIdle)
	}
	return true
}

func (c *Coordinator) stop() {
	for _, a := range c.actuators {
		if a != nil {
			a.Stop()
		}
	}
}

// SetEnabled drives every enable line. Only call while owning the
// actuators: idle with nothing queued, or from Abort.
func (c *Coordinator) SetEnabled(on bool) {
	for _, a := range c.actuators {
		if a != nil {
			a.SetEnabled(on)
		}
	}
}

// Actuator returns the actuator for axis letter name, or nil
func (c *Coordinator) Actuator(name byte) *stepgen.Actuator {
	i := kinematics.AxisIndex(name)
	if i < 0 {
		return nil
	}
	return c.actuators[i]
}

// Positions returns every axis position in mm
func (c *Coordinator) Positions() kinematics.Position {
	var pos kinematics.Position
	for i, a := range c.actuators {
		if a != nil {
			pos[i] = a.PositionMM()
		}
	}
	return pos
}

// Steps returns every axis position in steps
func (c *Coordinator) Steps() [kinematics.NumAxes]int64 {
	var steps [kinematics.NumAxes]int64
	for i, a := range c.actuators {
		if a != nil {
			steps[i] = a.Position()
		}
	}
	return steps
}
