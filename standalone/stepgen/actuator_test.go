package stepgen

import (
	"testing"

	"stepcore/core"
)

// line records writes to one output
type line struct {
	level  bool
	writes int
	rising int
}

func (l *line) Set(on bool) {
	l.writes++
	if on && !l.level {
		l.rising++
	}
	l.level = on
}

func newTestActuator(name byte) (*Actuator, *line, *line, *line) {
	step, dir, en := &line{}, &line{}, &line{}
	return NewActuator(name, 80, step, dir, en), step, dir, en
}

func TestActuatorLockstep(t *testing.T) {
	const n, m = 100, 37

	x, xStep, _, _ := newTestActuator('X')
	y, yStep, _, _ := newTestActuator('Y')

	prof := ConstantProfile(n, RateOne)
	x.IssueMove(Move{Steps: n, Profile: &prof})
	y.IssueMove(Move{Steps: m, Profile: &prof})

	for tick := uint32(1); tick <= n; tick++ {
		x.Tick(tick)
		y.Tick(tick)
	}

	if xStep.rising != n {
		t.Errorf("Expected %d dominant pulses, got %d", n, xStep.rising)
	}
	if yStep.rising != m {
		t.Errorf("Expected %d secondary pulses, got %d", m, yStep.rising)
	}
	if x.IsActive() || y.IsActive() {
		t.Error("Both axes should be finished after N ticks")
	}
	if x.LastStepTick() != n {
		t.Errorf("Dominant last step at tick %d, expected %d", x.LastStepTick(), n)
	}
	if y.LastStepTick() > n {
		t.Errorf("Secondary last step at tick %d, after tick %d", y.LastStepTick(), n)
	}
	if x.Position() != n || y.Position() != m {
		t.Errorf("Unexpected positions %d, %d", x.Position(), y.Position())
	}

	// Further ticks emit nothing more and drop the held step line
	x.Tick(n + 1)
	if xStep.rising != n || xStep.level {
		t.Errorf("Expected idle low step line, rising=%d level=%v", xStep.rising, xStep.level)
	}
}

func TestActuatorSecondaryRatios(t *testing.T) {
	tests := []struct{ n, m uint32 }{
		{1, 1}, {2, 1}, {3, 2}, {1000, 1}, {1000, 999}, {997, 500},
	}

	for _, test := range tests {
		a, step, _, _ := newTestActuator('Y')
		prof := ConstantProfile(test.n, RateOne)
		a.IssueMove(Move{Steps: test.m, Profile: &prof})

		for tick := uint32(1); tick <= test.n; tick++ {
			a.Tick(tick)
		}
		if uint32(step.rising) != test.m {
			t.Errorf("n=%d m=%d: emitted %d pulses", test.n, test.m, step.rising)
		}
		if a.LastStepTick() > test.n {
			t.Errorf("n=%d m=%d: last pulse at tick %d", test.n, test.m, a.LastStepTick())
		}
	}
}

func TestActuatorTrapezoid(t *testing.T) {
	a, step, _, _ := newTestActuator('X')
	prof := NewProfile(2000, 0, 20000, 0, 2e6, 100000, 100)
	a.IssueMove(Move{Steps: 2000, Profile: &prof})

	ticks := uint32(0)
	for a.IsActive() && ticks < 1000000 {
		ticks++
		a.Tick(ticks)
	}

	if a.IsActive() {
		t.Fatal("Move did not finish")
	}
	if step.rising != 2000 {
		t.Errorf("Expected 2000 pulses, got %d", step.rising)
	}
	// 2000 steps at a constant 20000 steps/s would take 10000 ticks; the
	// ramps make it take longer.
	if ticks <= 10000 {
		t.Errorf("Expected ramps to lengthen the move, took %d ticks", ticks)
	}
}

func TestActuatorDirectionOnChange(t *testing.T) {
	a, _, dir, en := newTestActuator('X')
	prof := ConstantProfile(10, RateOne)

	run := func(reverse bool) {
		a.IssueMove(Move{Steps: 10, Reverse: reverse, Profile: &prof})
		for tick := uint32(1); a.IsActive(); tick++ {
			a.Tick(tick)
		}
	}

	run(false)
	run(false)
	if dir.writes != 1 {
		t.Errorf("Expected 1 direction write, got %d", dir.writes)
	}
	run(true)
	if dir.writes != 2 || !dir.level {
		t.Errorf("Expected reverse direction write, writes=%d level=%v", dir.writes, dir.level)
	}
	if en.writes != 1 || !a.IsEnabled() {
		t.Errorf("Expected a single enable write, got %d", en.writes)
	}
	if a.Position() != 10 {
		t.Errorf("Expected position 10 after +10 +10 -10, got %d", a.Position())
	}

	a.SetEnabled(false)
	a.SetEnabled(false)
	if en.writes != 2 || en.level {
		t.Errorf("Expected one disable write, writes=%d", en.writes)
	}
}

func TestActuatorHoldAndStop(t *testing.T) {
	a, step, _, _ := newTestActuator('X')
	prof := ConstantProfile(100, RateOne/4)
	a.IssueMove(Move{Steps: 100, Profile: &prof})

	for tick := uint32(1); tick <= 40; tick++ {
		a.Tick(tick)
	}
	// Holding is just not ticking: the position matches the emitted pulses
	if a.Position() != int64(step.rising) || a.Position() != 10 {
		t.Errorf("Expected 10 steps after 40 quarter-rate ticks, got pos=%d pulses=%d",
			a.Position(), step.rising)
	}

	// Resume to completion
	for tick := uint32(41); a.IsActive(); tick++ {
		a.Tick(tick)
	}
	if a.Position() != 100 {
		t.Errorf("Expected 100 steps after resume, got %d", a.Position())
	}

	a.IssueMove(Move{Steps: 100, Reverse: true, Profile: &prof})
	for tick := uint32(1); tick <= 8; tick++ {
		a.Tick(tick)
	}
	a.Stop()
	if a.IsActive() || step.level {
		t.Error("Stop should end the move and lower the step line")
	}
	if a.Position() != 98 {
		t.Errorf("Expected 98 after two reverse steps, got %d", a.Position())
	}
	if mm := a.PositionMM(); mm != 98.0/80 {
		t.Errorf("Unexpected PositionMM %v", mm)
	}
}

func TestActuatorZeroSteps(t *testing.T) {
	a, _, dir, en := newTestActuator('Z')
	prof := ConstantProfile(10, RateOne)
	a.IssueMove(Move{Steps: 0, Profile: &prof})
	if a.Tick(1) {
		t.Error("Axis without steps should not be active")
	}
	if dir.writes != 0 || en.writes != 0 {
		t.Error("Idle axis outputs should not be touched")
	}
}

func TestNewProfileShapes(t *testing.T) {
	const hz = 100000
	tests := []struct {
		name                           string
		total                          uint32
		initial, nominal, final, accel float64
		wantPlateau                    bool
	}{
		{"long move", 10000, 0, 20000, 0, 1e6, true},
		{"short move", 100, 0, 20000, 0, 1e6, false},
		{"cruise in", 5000, 20000, 20000, 0, 1e6, true},
		{"too fast", 1000, 0, 5e6, 0, 1e6, false},
	}

	for _, test := range tests {
		p := NewProfile(test.total, test.initial, test.nominal, test.final, test.accel, hz, 100)
		if p.AccelerateUntil > p.DecelerateAfter || p.DecelerateAfter > p.TotalSteps {
			t.Errorf("%s: bad phase order %+v", test.name, p)
		}
		if p.NominalRate > RateOne || p.InitialRate > p.NominalRate || p.FinalRate > p.NominalRate {
			t.Errorf("%s: bad rates %+v", test.name, p)
		}
		if plateau := p.DecelerateAfter > p.AccelerateUntil; plateau != test.wantPlateau {
			t.Errorf("%s: plateau=%v, expected %v (%+v)", test.name, plateau, test.wantPlateau, p)
		}
	}

	// Tick rate caps the nominal rate at one step per tick
	if p := NewProfile(1000, 0, 5e6, 0, 0, hz, 100); p.NominalRate != RateOne {
		t.Errorf("Expected nominal capped at RateOne, got %d", p.NominalRate)
	}
}

var _ core.DigitalOutput = (*line)(nil)
