package standalone

import (
	"errors"
	"strconv"
	"strings"

	"stepcore/protocol"
	"stepcore/standalone/config"
	"stepcore/standalone/gcode"
	"stepcore/standalone/kinematics"
)

// registerHandlers installs the built-in G-code set
func (m *Manager) registerHandlers() {
	d := m.dispatcher

	d.AddHandler('G', 0, m.doMove)
	d.AddHandler('G', 1, m.doMove)
	d.AddHandler('G', 90, func(cmd *gcode.Command, reply *strings.Builder) error {
		m.state.relative = false
		return nil
	})
	d.AddHandler('G', 91, func(cmd *gcode.Command, reply *strings.Builder) error {
		m.state.relative = true
		return nil
	})
	d.AddHandler('G', 92, m.doSetPosition)

	d.AddHandler('M', 17, m.doEnable(true))
	d.AddHandler('M', 18, m.doEnable(false))
	d.AddHandler('M', 84, m.doEnable(false))
	d.AddHandler('M', 82, func(cmd *gcode.Command, reply *strings.Builder) error {
		m.state.relativeE = false
		return nil
	})
	d.AddHandler('M', 83, func(cmd *gcode.Command, reply *strings.Builder) error {
		m.state.relativeE = true
		return nil
	})
	d.AddHandler('M', 92, m.doStepsPerMM)
	d.AddHandler('M', 112, func(cmd *gcode.Command, reply *strings.Builder) error {
		m.EmergencyStop()
		return nil
	})
	d.AddHandler('M', 114, m.doReportPosition)
	d.AddHandler('M', 115, func(cmd *gcode.Command, reply *strings.Builder) error {
		reply.WriteString("FIRMWARE_NAME:stepcore FIRMWARE_VERSION:" + protocol.Version +
			" KINEMATICS:" + m.config.Kinematics + "\n")
		return nil
	})
	d.AddHandler('M', 201, m.doAxisLimit(m.planner.SetMaxAccel))
	d.AddHandler('M', 203, m.doAxisLimit(m.planner.SetMaxVelocity))
	d.AddHandler('M', 204, func(cmd *gcode.Command, reply *strings.Builder) error {
		v := cmd.GetParameter('S', cmd.GetParameter('P', 0))
		if !cmd.HasParameter('S') && !cmd.HasParameter('P') {
			return nil
		}
		return m.planner.SetAcceleration(v)
	})
	d.AddHandler('M', 205, func(cmd *gcode.Command, reply *strings.Builder) error {
		if !cmd.HasParameter('J') {
			return nil
		}
		return m.planner.SetJunctionDeviation(cmd.GetParameter('J', 0))
	})
	d.AddHandler('M', 400, m.doFinishMoves)
	d.AddHandler('M', 500, m.doSaveConfig)
	d.AddHandler('M', 501, m.doLoadConfig)
	d.AddHandler('M', 503, m.doReportSettings)
}

// doMove executes a linear move (G0/G1)
func (m *Manager) doMove(cmd *gcode.Command, reply *strings.Builder) error {
	if m.resync {
		// The stopped position is not known yet
		return ErrBusy
	}
	if cmd.HasParameter('F') {
		f := cmd.GetParameter('F', 0) / 60 // mm/min to mm/s
		if f <= 0 {
			return errors.New("invalid feed rate")
		}
		m.state.feed = f
	}

	target := m.planner.Position()
	for i, letter := range kinematics.AxisNames {
		if !cmd.HasParameter(letter) {
			continue
		}
		v := cmd.GetParameter(letter, 0)
		relative := m.state.relative
		if i == kinematics.AxisE {
			relative = relative || m.state.relativeE
		}
		if relative {
			target[i] += v
		} else {
			target[i] = v
		}
	}

	feed := m.state.feed
	if cmd.Code == 0 {
		feed = m.config.SeekVelocity
	}

	_, err := m.planner.Plan(target, feed)
	return err
}

// doSetPosition redefines the current position (G92). Axes without an
// argument keep their position; a bare G92 zeroes every axis.
func (m *Manager) doSetPosition(cmd *gcode.Command, reply *strings.Builder) error {
	if m.resync {
		return ErrBusy
	}
	pos := m.planner.Position()
	bare := true
	for i, letter := range kinematics.AxisNames {
		if cmd.HasParameter(letter) {
			pos[i] = cmd.GetParameter(letter, 0)
			bare = false
		}
	}
	if bare {
		pos = kinematics.Position{}
	}
	m.planner.SetPosition(pos)

	// With nothing queued the actuators adopt the new coordinates too
	if m.IsIdle() {
		for i, letter := range kinematics.AxisNames {
			if a := m.motion.Actuator(letter); a != nil {
				a.SetPosition(roundSteps(pos[i] * m.planner.StepsPerMM(i)))
			}
		}
	}
	return nil
}

// doEnable returns the M17/M18 handler
func (m *Manager) doEnable(on bool) gcode.Handler {
	return func(cmd *gcode.Command, reply *strings.Builder) error {
		if !m.IsIdle() {
			return ErrBusy
		}
		m.motion.SetEnabled(on)
		return nil
	}
}

// doStepsPerMM sets or reports steps per mm (M92)
func (m *Manager) doStepsPerMM(cmd *gcode.Command, reply *strings.Builder) error {
	set := false
	for _, letter := range kinematics.AxisNames {
		if cmd.HasParameter(letter) {
			set = true
		}
	}
	if !set {
		spm, _, _, _, _ := m.planner.Settings()
		writeAxes(reply, "M92", spm)
		return nil
	}

	if !m.IsIdle() {
		return ErrBusy
	}
	for i, letter := range kinematics.AxisNames {
		if !cmd.HasParameter(letter) {
			continue
		}
		a := m.motion.Actuator(letter)
		if a == nil {
			continue
		}
		v := cmd.GetParameter(letter, 0)
		if err := m.planner.SetStepsPerMM(i, v); err != nil {
			return err
		}
		// Keep the actuator at the same mm position under the new scale
		mm := a.PositionMM()
		a.SetStepsPerMM(v)
		a.SetPosition(roundSteps(mm * v))
	}
	return nil
}

// doAxisLimit returns a handler applying per-axis values through set
func (m *Manager) doAxisLimit(set func(axis int, v float64) error) gcode.Handler {
	return func(cmd *gcode.Command, reply *strings.Builder) error {
		for i, letter := range kinematics.AxisNames {
			if !cmd.HasParameter(letter) {
				continue
			}
			if err := set(i, cmd.GetParameter(letter, 0)); err != nil {
				return err
			}
		}
		return nil
	}
}

// doReportPosition reports the planned position and the actuator step
// counts (M114)
func (m *Manager) doReportPosition(cmd *gcode.Command, reply *strings.Builder) error {
	pos := m.planner.Position()
	for i, letter := range kinematics.AxisNames {
		if i > 0 {
			reply.WriteByte(' ')
		}
		reply.WriteByte(letter)
		reply.WriteByte(':')
		reply.WriteString(strconv.FormatFloat(pos[i], 'f', 3, 64))
	}
	reply.WriteString(" Count")
	steps := m.motion.Steps()
	for i, letter := range kinematics.AxisNames {
		reply.WriteByte(' ')
		reply.WriteByte(letter)
		reply.WriteByte(':')
		reply.WriteString(strconv.FormatInt(steps[i], 10))
	}
	reply.WriteByte('\n')
	return nil
}

// doFinishMoves hands every pending block to execution and reports whether
// the machine is idle (M400). It never waits for motion.
func (m *Manager) doFinishMoves(cmd *gcode.Command, reply *strings.Builder) error {
	m.planner.MoveAllToReady()
	if m.IsIdle() {
		reply.WriteString("idle\n")
	} else {
		reply.WriteString("busy\n")
	}
	return nil
}

// doSaveConfig stores the runtime settings (M500)
func (m *Manager) doSaveConfig(cmd *gcode.Command, reply *strings.Builder) error {
	if m.store == nil {
		return errors.New("no configuration store")
	}
	return m.store.Save(m.runtimeConfig())
}

// doLoadConfig applies the stored settings (M501)
func (m *Manager) doLoadConfig(cmd *gcode.Command, reply *strings.Builder) error {
	if m.store == nil {
		return errors.New("no configuration store")
	}
	if !m.IsIdle() {
		return ErrBusy
	}
	cfg, err := m.store.Load()
	if err != nil {
		return err
	}
	return m.applySettings(cfg)
}

// doReportSettings prints the runtime settings as G-code (M503)
func (m *Manager) doReportSettings(cmd *gcode.Command, reply *strings.Builder) error {
	spm, vel, acc, accel, jd := m.planner.Settings()
	writeAxes(reply, "M92", spm)
	writeAxes(reply, "M201", acc)
	writeAxes(reply, "M203", vel)
	reply.WriteString("M204 S" + strconv.FormatFloat(accel, 'f', 3, 64) + "\n")
	reply.WriteString("M205 J" + strconv.FormatFloat(jd, 'f', 3, 64) + "\n")
	return nil
}

// runtimeConfig is the configuration with the runtime settings applied
func (m *Manager) runtimeConfig() *config.MachineConfig {
	cfg := m.config.Clone()
	spm, vel, acc, accel, jd := m.planner.Settings()
	for i, name := range config.AxisNames {
		a, ok := cfg.Axes[name]
		if !ok {
			continue
		}
		a.StepsPerMM = spm[i]
		a.MaxVelocity = vel[i]
		a.MaxAccel = acc[i]
		cfg.Axes[name] = a
	}
	cfg.DefaultAccel = accel
	cfg.JunctionDeviation = jd
	return cfg
}

// applySettings applies the runtime settings of cfg. Pins and kinematics
// need a restart and are left alone.
func (m *Manager) applySettings(cfg *config.MachineConfig) error {
	for i, name := range config.AxisNames {
		a, ok := cfg.Axes[name]
		act := m.motion.Actuator(kinematics.AxisNames[i])
		if !ok || act == nil {
			continue
		}
		if err := m.planner.SetStepsPerMM(i, a.StepsPerMM); err != nil {
			return err
		}
		mm := act.PositionMM()
		act.SetStepsPerMM(a.StepsPerMM)
		act.SetPosition(roundSteps(mm * a.StepsPerMM))
		if err := m.planner.SetMaxVelocity(i, a.MaxVelocity); err != nil {
			return err
		}
		if err := m.planner.SetMaxAccel(i, a.MaxAccel); err != nil {
			return err
		}
	}
	if err := m.planner.SetAcceleration(cfg.DefaultAccel); err != nil {
		return err
	}
	if err := m.planner.SetJunctionDeviation(cfg.JunctionDeviation); err != nil {
		return err
	}
	m.config.DefaultVelocity = cfg.DefaultVelocity
	m.config.SeekVelocity = cfg.SeekVelocity
	return nil
}

// IsIdle reports whether nothing is moving or queued
func (m *Manager) IsIdle() bool {
	return !m.motion.IsAnythingMoving() && m.ready.Len() == 0 && m.planner.Pending() == 0
}

func writeAxes(reply *strings.Builder, code string, v [kinematics.NumAxes]float64) {
	reply.WriteString(code)
	for i, letter := range kinematics.AxisNames {
		reply.WriteByte(' ')
		reply.WriteByte(letter)
		reply.WriteString(strconv.FormatFloat(v[i], 'f', 3, 64))
	}
	reply.WriteByte('\n')
}

func roundSteps(v float64) int64 {
	if v < 0 {
		return int64(v - 0.5)
	}
	return int64(v + 0.5)
}
