// Package planner turns motion targets into blocks and plans their speeds
// with look-ahead so consecutive moves join without stopping at every
// corner.
package planner

import (
	"errors"
	"io"
	"math"

	"stepcore/standalone/config"
	"stepcore/standalone/kinematics"
	"stepcore/standalone/stepgen"
)

// Errors returned by the planner
var (
	ErrBadFeedRate = errors.New("feed rate must be positive")
	ErrBadSetting  = errors.New("setting must be positive")
)

// speedEpsilon is the tolerance for treating a planned speed as maximal
const speedEpsilon = 1e-6

// Planner handles motion planning. Block creation and look-ahead run in
// the command context only; the ready queue is the single structure shared
// with the completion context.
type Planner struct {
	kinematics kinematics.Kinematics
	ready      *ReadyQueue

	// Per-axis limits, zero steps/mm marks an unconfigured axis
	stepsPerMM [kinematics.NumAxes]float64
	maxVel     [kinematics.NumAxes]float64
	maxAccel   [kinematics.NumAxes]float64

	accel             float64
	junctionDeviation float64
	lookAhead         int
	tickHz            uint32
	minStepRate       float64

	// Last planned target
	target      kinematics.Position
	targetSteps [kinematics.NumAxes]int64

	pending []*Block
	nextID  uint32
}

// NewPlanner creates a new motion planner feeding ready
func NewPlanner(cfg *config.MachineConfig, kin kinematics.Kinematics, ready *ReadyQueue) *Planner {
	p := &Planner{
		kinematics:        kin,
		ready:             ready,
		accel:             cfg.DefaultAccel,
		junctionDeviation: cfg.JunctionDeviation,
		lookAhead:         cfg.LookAhead,
		tickHz:            cfg.TickFrequency,
		minStepRate:       cfg.MinStepRate,
		pending:           make([]*Block, 0, cfg.LookAhead+1),
		nextID:            1,
	}
	if p.lookAhead < 1 {
		p.lookAhead = 1
	}
	for i, name := range config.AxisNames {
		a, ok := cfg.Axes[name]
		if !ok {
			continue
		}
		p.stepsPerMM[i] = a.StepsPerMM
		p.maxVel[i] = a.MaxVelocity
		p.maxAccel[i] = a.MaxAccel
	}
	return p
}

// Ready returns the ready queue
func (p *Planner) Ready() *ReadyQueue {
	return p.ready
}

// Pending returns the number of blocks still in the look-ahead window
func (p *Planner) Pending() int {
	return len(p.pending)
}

// Position returns the last planned target
func (p *Planner) Position() kinematics.Position {
	return p.target
}

// Plan queues a linear move from the last target to target at feed mm/s.
// A move shorter than one step on every axis is dropped and returns a nil
// block. Blocks whose speeds can no longer change are moved to the ready
// queue.
func (p *Planner) Plan(target kinematics.Position, feed float64) (*Block, error) {
	if feed <= 0 || math.IsNaN(feed) {
		return nil, ErrBadFeedRate
	}
	for i := range target {
		if p.stepsPerMM[i] == 0 {
			target[i] = p.target[i]
		}
	}
	if err := p.kinematics.CheckLimits(target); err != nil {
		return nil, err
	}

	machine := p.kinematics.CalcPosition(target)
	b := &Block{}
	var newSteps [kinematics.NumAxes]int64
	for i := range machine {
		newSteps[i] = int64(math.Round(machine[i] * p.stepsPerMM[i]))
		d := newSteps[i] - p.targetSteps[i]
		b.Steps[i] = int32(d)
		b.Delta[i] = target[i] - p.target[i]
		if s := uint32(abs(float64(d))); s > b.TotalSteps {
			b.TotalSteps = s
			b.DominantAxis = i
		}
	}

	p.target = target
	p.targetSteps = newSteps
	if b.TotalSteps == 0 {
		return nil, nil
	}

	p.initBlock(b, feed)
	p.nextID++

	p.pending = append(p.pending, b)
	p.recalculate()
	p.promote()
	return b, nil
}

// initBlock computes length, direction and the block's own speed limits
func (p *Planner) initBlock(b *Block, feed float64) {
	b.ID = p.nextID

	// Path length over XYZ; extruder-only moves run along E
	var sq float64
	for i := kinematics.AxisX; i <= kinematics.AxisZ; i++ {
		sq += b.Delta[i] * b.Delta[i]
	}
	first, last := kinematics.AxisX, kinematics.AxisZ
	if sq == 0 {
		sq = b.Delta[kinematics.AxisE] * b.Delta[kinematics.AxisE]
		first, last = kinematics.AxisE, kinematics.AxisE
	}
	b.Millimeters = sqrt(sq)
	if b.Millimeters == 0 {
		// Rounding produced steps with no measurable distance
		b.Millimeters = float64(b.TotalSteps) / p.stepsPerMM[b.DominantAxis]
		b.Unit[b.DominantAxis] = sign(float64(b.Steps[b.DominantAxis]))
	} else {
		for i := first; i <= last; i++ {
			b.Unit[i] = b.Delta[i] / b.Millimeters
		}
	}

	speed := feed
	accel := p.accel
	for i := range b.Delta {
		d := abs(b.Delta[i])
		if d == 0 || p.stepsPerMM[i] == 0 {
			continue
		}
		if v := p.maxVel[i] * b.Millimeters / d; v < speed {
			speed = v
		}
		if a := p.maxAccel[i] * b.Millimeters / d; a < accel {
			accel = a
		}
	}
	// A pulse is high for one tick and low for at least one, so the
	// dominant axis steps at most every other tick
	if v := float64(p.tickHz) / 2 * b.Millimeters / float64(b.TotalSteps); v < speed {
		speed = v
	}

	b.NominalSpeed = speed
	b.Acceleration = accel

	if n := len(p.pending); n > 0 {
		b.MaxEntrySpeed = p.junctionSpeed(p.pending[n-1], b)
	}
	// With nothing pending the machine is at rest before this block
}

// junctionSpeed returns the maximum speed through the corner between prev
// and next using the junction deviation model: the corner is treated as an
// arc deviating junctionDeviation from the sharp corner and the speed is
// the one giving centripetal acceleration equal to the smaller acceleration
// limit of the two blocks.
func (p *Planner) junctionSpeed(prev, next *Block) float64 {
	limit := math.Min(prev.NominalSpeed, next.NominalSpeed)

	var dot float64
	for i := range prev.Unit {
		dot += prev.Unit[i] * next.Unit[i]
	}
	cosTheta := -dot

	switch {
	case cosTheta > 0.999999:
		// Full reversal
		return 0
	case cosTheta < -0.999999:
		// Straight line
		return limit
	}

	sinHalf := sqrt(0.5 * (1 - cosTheta))
	accel := math.Min(prev.Acceleration, next.Acceleration)
	v := sqrt(accel * p.junctionDeviation * sinHalf / (1 - sinHalf))
	return math.Min(v, limit)
}

// recalculate runs the look-ahead over the pending window. The backward
// pass limits every entry speed to what still allows stopping at the end of
// the newest block; the forward pass limits every exit speed to what the
// block can reach from its entry. The oldest pending block's entry speed is
// fixed: it is the exit speed of a block already handed off.
func (p *Planner) recalculate() {
	n := len(p.pending)
	if n == 0 {
		return
	}

	// Backward
	p.pending[n-1].ExitSpeed = 0
	for i := n - 1; i > 0; i-- {
		b := p.pending[i]
		entry := math.Min(b.MaxEntrySpeed, b.maxReachable(b.ExitSpeed))
		b.EntrySpeed = entry
		p.pending[i-1].ExitSpeed = entry
	}

	// Forward
	for i := 0; i < n; i++ {
		b := p.pending[i]
		if reach := b.maxReachable(b.EntrySpeed); b.ExitSpeed > reach {
			b.ExitSpeed = reach
		}
		if i+1 < n {
			p.pending[i+1].EntrySpeed = b.ExitSpeed
		}
	}
}

// promote moves pending blocks whose speeds are final to the ready queue.
// The oldest block is final once its exit speed reaches the most it could
// ever be: the lesser of what it can accelerate to and its successor's
// junction limit. The window never grows past lookAhead blocks.
func (p *Planner) promote() {
	for len(p.pending) >= 2 {
		b, next := p.pending[0], p.pending[1]
		best := math.Min(b.maxReachable(b.EntrySpeed), next.MaxEntrySpeed)
		if b.ExitSpeed < best-speedEpsilon && len(p.pending) <= p.lookAhead {
			return
		}
		p.finalize(b)
		p.pending[0] = nil
		p.pending = p.pending[1:]
	}
}

// MoveAllToReady finalizes every pending block. The newest block already
// plans to stop at its end.
func (p *Planner) MoveAllToReady() int {
	n := len(p.pending)
	for _, b := range p.pending {
		p.finalize(b)
	}
	for i := range p.pending {
		p.pending[i] = nil
	}
	p.pending = p.pending[:0]
	return n
}

// finalize freezes b's speeds, builds its step profile and queues it
func (p *Planner) finalize(b *Block) {
	d := b.Millimeters
	a := b.Acceleration
	ve, vx := b.EntrySpeed, b.ExitSpeed
	peak := sqrt((2*a*d + ve*ve + vx*vx) / 2)
	b.CruiseSpeed = math.Min(b.NominalSpeed, peak)
	if b.CruiseSpeed < ve {
		b.CruiseSpeed = ve
	}
	if b.CruiseSpeed < vx {
		b.CruiseSpeed = vx
	}

	// Path speed to dominant axis steps
	f := float64(b.TotalSteps) / d
	b.Profile = stepgen.NewProfile(b.TotalSteps, ve*f, b.CruiseSpeed*f, vx*f, a*f, p.tickHz, p.minStepRate)
	b.Ready = true
	p.ready.Push(b)
}

// SetPosition redefines the current position (G92) for later moves
func (p *Planner) SetPosition(pos kinematics.Position) {
	p.target = pos
	machine := p.kinematics.CalcPosition(pos)
	for i := range machine {
		p.targetSteps[i] = int64(math.Round(machine[i] * p.stepsPerMM[i]))
	}
}

// SyncSteps sets the planned position from actuator step counts, after an
// abort left the machine short of its target.
func (p *Planner) SyncSteps(steps [kinematics.NumAxes]int64) {
	p.targetSteps = steps
	for i := range steps {
		if p.stepsPerMM[i] != 0 {
			p.target[i] = float64(steps[i]) / p.stepsPerMM[i]
		}
	}
}

// Clear drops every pending and ready block
func (p *Planner) Clear() {
	for i := range p.pending {
		p.pending[i] = nil
	}
	p.pending = p.pending[:0]
	p.ready.Clear()
}

// StepsPerMM returns the scale of axis i
func (p *Planner) StepsPerMM(i int) float64 {
	return p.stepsPerMM[i]
}

// SetStepsPerMM changes axis i's scale (M92). The planned position is kept
// in mm.
func (p *Planner) SetStepsPerMM(i int, v float64) error {
	if v <= 0 {
		return ErrBadSetting
	}
	p.stepsPerMM[i] = v
	p.targetSteps[i] = int64(math.Round(p.target[i] * v))
	return nil
}

// SetMaxVelocity changes axis i's speed limit (M203)
func (p *Planner) SetMaxVelocity(i int, v float64) error {
	if v <= 0 {
		return ErrBadSetting
	}
	p.maxVel[i] = v
	return nil
}

// SetMaxAccel changes axis i's acceleration limit (M201)
func (p *Planner) SetMaxAccel(i int, v float64) error {
	if v <= 0 {
		return ErrBadSetting
	}
	p.maxAccel[i] = v
	return nil
}

// SetAcceleration changes the default path acceleration (M204)
func (p *Planner) SetAcceleration(v float64) error {
	if v <= 0 {
		return ErrBadSetting
	}
	p.accel = v
	return nil
}

// SetJunctionDeviation changes the cornering tolerance (M205)
func (p *Planner) SetJunctionDeviation(v float64) error {
	if v < 0 {
		return ErrBadSetting
	}
	p.junctionDeviation = v
	return nil
}

// Settings returns the runtime limits for reporting (M503) and saving (M500)
func (p *Planner) Settings() (stepsPerMM, maxVel, maxAccel [kinematics.NumAxes]float64, accel, junction float64) {
	return p.stepsPerMM, p.maxVel, p.maxAccel, p.accel, p.junctionDeviation
}

// Dump writes the ready blocks then the pending blocks, one per line
func (p *Planner) Dump(w io.Writer) error {
	for _, b := range p.ready.Snapshot() {
		if _, err := io.WriteString(w, b.String()+"\n"); err != nil {
			return err
		}
	}
	for _, b := range p.pending {
		if _, err := io.WriteString(w, b.String()+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Sqrt(x)
}
