// Package standalone runs the motion controller: it reads G-code and control
// lines in the command context, steps the axes from the tick interrupt and
// feeds planned blocks to the axes from the completion task.
package standalone

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"stepcore/core"
	"stepcore/protocol"
	"stepcore/standalone/config"
	"stepcore/standalone/gcode"
	"stepcore/standalone/kinematics"
	"stepcore/standalone/motion"
	"stepcore/standalone/planner"
	"stepcore/standalone/stepgen"
)

// Errors returned by the manager and its G-code handlers
var (
	ErrNotInitialized = errors.New("manager not initialized")
	ErrBusy           = errors.New("busy: motion in progress")
)

// AxisOutputs are the three lines driving one axis. Enable may be nil.
type AxisOutputs struct {
	Step   core.DigitalOutput
	Dir    core.DigitalOutput
	Enable core.DigitalOutput
}

// OutputFactory builds the outputs for one configured axis
type OutputFactory func(axis byte, cfg config.AxisConfig) (AxisOutputs, error)

// machineState is the modal G-code state
type machineState struct {
	relative  bool    // G91
	relativeE bool    // M83
	feed      float64 // mm/s from the last F word
}

// Manager coordinates all standalone mode components.
//
// HandleLine and ProcessByte run in the command context, IssueTicks in the
// tick interrupt and RunCompletion in the completion task. Only the ready
// queue lock and atomics are shared between them.
type Manager struct {
	config     *config.MachineConfig
	store      config.Store
	parser     *gcode.Parser
	dispatcher *gcode.Dispatcher
	kinematics kinematics.Kinematics
	planner    *planner.Planner
	ready      *planner.ReadyQueue
	motion     *motion.Coordinator
	notify     *core.Notifier

	// Serial interface
	lines  *protocol.LineBuffer
	output *protocol.FifoBuffer
	reply  func([]byte)

	state machineState

	// Shared between contexts
	execute  atomic.Bool
	abortReq atomic.Bool
	estop    atomic.Bool   // the pending abort also disables the motors
	epoch    atomic.Uint32 // bumped by every abort
	signalAt atomic.Int64  // time the tick context signalled completion

	// Tick context only
	tick         uint32
	wasExecuting bool

	// Completion statistics
	worstNS     atomic.Int64
	overflows   atomic.Uint32
	completions atomic.Uint32

	now func() int64

	// Command context only
	resync      bool
	initialized bool
	running     bool
}

// NewManager creates a new standalone mode manager from YAML configuration
func NewManager(configData []byte) (*Manager, error) {
	// Load configuration
	cfg, err := config.LoadConfig(configData)
	if err != nil {
		return nil, err
	}

	return NewManagerWithConfig(cfg)
}

// NewManagerWithConfig creates a manager with an existing config
func NewManagerWithConfig(cfg *config.MachineConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mgr := &Manager{
		config:     cfg.Clone(),
		parser:     gcode.NewParser(),
		dispatcher: gcode.NewDispatcher(),
		ready:      planner.NewReadyQueue(),
		notify:     core.NewNotifier(),
		lines:      protocol.NewLineBuffer(),
		output:     protocol.NewFifoBuffer(protocol.OutputBufferSize),
		state:      machineState{feed: cfg.DefaultVelocity},
		now:        func() int64 { return time.Now().UnixNano() },
	}
	mgr.reply = mgr.bufferReply
	return mgr, nil
}

// SetStore sets the configuration store used at startup and by M500/M501
func (m *Manager) SetStore(s config.Store) {
	m.store = s
}

// SetReplyFunc replaces the reply transport. fn receives chunks of at most
// protocol.MaxReplyPayload bytes; the slice is only valid during the call.
func (m *Manager) SetReplyFunc(fn func([]byte)) {
	if fn == nil {
		fn = m.bufferReply
	}
	m.reply = fn
}

// Initialize sets up all components, driving the axes through GPIO pins
func (m *Manager) Initialize(gpioDriver core.GPIODriver) error {
	if gpioDriver == nil {
		return errors.New("GPIO driver not configured")
	}
	return m.InitializeOutputs(PinOutputs(gpioDriver))
}

// PinOutputs returns an OutputFactory using the configured pin names
func PinOutputs(gpio core.GPIODriver) OutputFactory {
	return func(axis byte, a config.AxisConfig) (AxisOutputs, error) {
		var out AxisOutputs
		pin, err := core.ParsePin(a.StepPin)
		if err != nil {
			return out, err
		}
		if out.Step, err = core.NewPinOutput(gpio, pin, a.InvertStep); err != nil {
			return out, err
		}
		if pin, err = core.ParsePin(a.DirPin); err != nil {
			return out, err
		}
		if out.Dir, err = core.NewPinOutput(gpio, pin, a.InvertDir); err != nil {
			return out, err
		}
		if a.EnablePin != "" {
			if pin, err = core.ParsePin(a.EnablePin); err != nil {
				return out, err
			}
			// Axes may share one enable pin
			if out.Enable, err = core.NewPinOutput(gpio, pin, a.InvertEnable); err != nil {
				return out, err
			}
		}
		return out, nil
	}
}

// InitializeOutputs sets up all components with outputs from factory
func (m *Manager) InitializeOutputs(factory OutputFactory) error {
	if m.initialized {
		return errors.New("already initialized")
	}

	// Create kinematics based on config
	var kin kinematics.Kinematics
	var err error

	switch m.config.Kinematics {
	case "cartesian":
		kin, err = kinematics.NewCartesian(m.config)
	default:
		return errors.New("unsupported kinematics: " + m.config.Kinematics)
	}

	if err != nil {
		return err
	}

	m.kinematics = kin

	// Create planner
	m.planner = planner.NewPlanner(m.config, kin, m.ready)

	// Create actuators
	var acts [kinematics.NumAxes]*stepgen.Actuator
	for i, name := range config.AxisNames {
		a, ok := m.config.Axes[name]
		if !ok {
			continue
		}
		letter := kinematics.AxisNames[i]
		out, err := factory(letter, a)
		if err != nil {
			return errors.New("axis " + name + ": " + err.Error())
		}
		if out.Step == nil || out.Dir == nil {
			return errors.New("axis " + name + ": step and dir outputs required")
		}
		acts[i] = stepgen.NewActuator(letter, a.StepsPerMM, out.Step, out.Dir, out.Enable)
	}
	m.motion = motion.NewCoordinator(acts)

	m.registerHandlers()

	m.initialized = true
	return nil
}

// Start begins standalone operation. A stored configuration is loaded with
// a synthetic M501.
func (m *Manager) Start() error {
	if !m.initialized {
		return ErrNotInitialized
	}

	if m.store != nil {
		if m.dispatcher.DispatchCode('M', 501) && strings.HasPrefix(m.dispatcher.Result(), "error:") {
			core.DebugPrintln("[STANDALONE] stored config not applied: " + m.dispatcher.Result())
		}
	}

	m.running = true
	m.send("stepcore ready\n")
	return nil
}

// Stop halts all operation
func (m *Manager) Stop() {
	m.running = false
	if m.initialized {
		m.abortMotion()
	}
}

// IsRunning returns whether the manager is running
func (m *Manager) IsRunning() bool {
	return m.running
}

// EmergencyStop aborts motion and drops every queued block like abort, and
// also disables the motors. A running block has its motors disabled by the
// tick context; otherwise they are disabled before the next line runs.
func (m *Manager) EmergencyStop() {
	if !m.initialized {
		return
	}
	m.estop.Store(true)
	m.abortMotion()
	m.syncAfterAbort()
}

// Planner returns the planner
func (m *Manager) Planner() *planner.Planner {
	return m.planner
}

// Motion returns the motion coordinator
func (m *Manager) Motion() *motion.Coordinator {
	return m.motion
}

// Dispatcher returns the G-code dispatcher so platforms can add handlers
func (m *Manager) Dispatcher() *gcode.Dispatcher {
	return m.dispatcher
}

// IsExecuting reports whether execution is enabled (run) or held
func (m *Manager) IsExecuting() bool {
	return m.execute.Load()
}

// ProcessByte processes a single byte of input (for serial streaming)
func (m *Manager) ProcessByte(b byte) {
	line, ok, overflowed := m.lines.Feed(b)
	if overflowed {
		m.send("error:line too long\n")
		return
	}
	if ok {
		m.HandleLine(string(line))
	}
}

// HandleLine processes one line. A line starting with the control prefix
// runs an internal command; anything else is G-code. It reports whether the
// line was handled; unknown control commands are not.
func (m *Manager) HandleLine(line string) bool {
	if !m.initialized {
		m.send("error:" + ErrNotInitialized.Error() + "\n")
		return false
	}
	m.syncAfterAbort()

	if protocol.IsControl([]byte(line)) {
		return m.handleControl(strings.TrimSpace(line[1:]))
	}

	cmds := m.parser.Parse(line)
	replied := false
	for i := range cmds {
		cmd := &cmds[i]
		if cmd.IsEmpty() {
			continue
		}
		if m.dispatcher.Dispatch(cmd) {
			m.send(m.dispatcher.Result())
		} else {
			// Unsupported codes must not stall a running program
			m.send(protocol.ReplyNoHandler)
		}
		replied = true
	}
	if !replied {
		m.send(protocol.ReplyOK)
	}

	m.kick()
	return true
}

// handleControl runs an internal command
func (m *Manager) handleControl(cmd string) bool {
	name := cmd
	if i := strings.IndexByte(cmd, ' '); i >= 0 {
		name = cmd[:i]
	}

	switch name {
	case "dump":
		var b strings.Builder
		m.planner.Dump(&b)
		b.WriteString(protocol.ReplyOK)
		m.send(b.String())

	case "connected":
		m.send(protocol.Banner)

	case "version":
		m.send("stepcore " + protocol.Version + "\n" + protocol.ReplyOK)

	case "run":
		m.planner.MoveAllToReady()
		m.execute.Store(true)
		m.kick()
		m.send(protocol.ReplyOK)

	case "hold":
		// The tick context stops stepping; actuator state is kept
		m.execute.Store(false)
		m.send(protocol.ReplyOK)

	case "stats":
		m.send("Worst time: " + strconv.FormatInt(m.worstNS.Load()/1000, 10) + "uS\n" +
			"Overflows: " + strconv.FormatUint(uint64(m.overflows.Load()), 10) + "\n" +
			"Blocks: " + strconv.FormatUint(uint64(m.completions.Load()), 10) + "\n" +
			protocol.ReplyOK)

	case "trace":
		var b strings.Builder
		core.DumpTimingRing(func(s string) {
			b.WriteString(s)
			b.WriteByte('\n')
		})
		b.WriteString(protocol.ReplyOK)
		m.send(b.String())

	case "abort":
		m.abortMotion()
		m.send(protocol.ReplyOK)

	default:
		m.send("Unknown command: " + cmd + "\n")
		return false
	}
	return true
}

// abortMotion stops execution and drops every queued block. The queue is
// cleared before the epoch moves so a block loaded under the new epoch can
// only be a new one. The tick context stops the actuators on its next tick;
// the planned position is re-read from the actuators before the next move
// is planned.
func (m *Manager) abortMotion() {
	m.execute.Store(false)
	m.planner.Clear()
	m.epoch.Add(1)
	m.abortReq.Store(true)
	m.resync = true
}

// syncAfterAbort moves the planned position to where the axes stopped once
// the tick context has consumed the abort
func (m *Manager) syncAfterAbort() {
	if !m.resync || m.abortReq.Load() || m.motion.IsAnythingMoving() {
		return
	}
	if m.estop.Swap(false) {
		m.motion.SetEnabled(false)
	}
	m.planner.SyncSteps(m.motion.Steps())
	m.resync = false
}

// kick wakes the completion task when execution is enabled, nothing is
// moving and a block is ready. The completion task is the only place
// blocks are issued.
func (m *Manager) kick() {
	if m.execute.Load() && !m.motion.IsAnythingMoving() && m.ready.Len() > 0 {
		m.notify.Notify()
	}
}

// IssueTicks is the tick interrupt handler. It never blocks and never
// allocates. It returns false on the tick a block finishes, after
// signalling the completion task.
func (m *Manager) IssueTicks() bool {
	if m.abortReq.Load() && m.abortReq.CompareAndSwap(true, false) {
		if !m.motion.Abort(m.estop.Load()) {
			// The completion task is loading a block; it sees the new
			// epoch and backs out, so try again next tick
			m.abortReq.Store(true)
			return true
		}
		m.tick = 0
		core.RecordTiming(core.EvtAbort, 0, 0, m.motion.CurrentBlock(), 0)
		return true
	}

	exec := m.execute.Load()
	if exec != m.wasExecuting {
		m.wasExecuting = exec
		evt := uint8(core.EvtHold)
		if exec {
			evt = core.EvtRun
		}
		core.RecordTiming(evt, 0, m.tick, m.motion.CurrentBlock(), 0)
	}
	if !exec {
		return true
	}

	if !m.motion.IsRunning() {
		return true
	}

	if m.tick == 0 {
		core.RecordTiming(core.EvtBlockIssued, 0, 0, m.motion.CurrentBlock(), 0)
	}
	m.tick++
	if m.motion.IssueTicks(m.tick) {
		return true
	}

	// All axes finished: hand off to the completion task
	m.motion.SetNothingMoving()
	core.RecordTiming(core.EvtBlockDone, 0, m.tick, m.motion.CurrentBlock(), 0)
	m.tick = 0
	if p := m.notify.Pending(); p > 0 {
		core.RecordTiming(core.EvtNotifyOverrun, 0, 0, p, 0)
	}
	m.signalAt.Store(m.now())
	m.notify.Notify()
	return false
}

// CompleteMove issues the next ready block if nothing is moving. It runs in
// the completion context and reports whether a block was issued. An empty
// ready queue leaves the machine idle.
//
// The actuators are claimed before the pop and published to the tick
// context only once loaded. A block popped before an abort is backed out
// instead of published.
func (m *Manager) CompleteMove() bool {
	if !m.motion.Claim() {
		// Spurious wake-up, the block in flight will signal again
		return false
	}

	for {
		epoch := m.epoch.Load()
		b, ok := m.ready.Pop()
		if !ok {
			m.motion.Unclaim()
			return false
		}
		aborted := func() bool { return m.epoch.Load() != epoch }
		if m.motion.Load(b, aborted) {
			return true
		}
	}
}

// RunCompletion is the completion task. It blocks until ctx is done.
func (m *Manager) RunCompletion(ctx context.Context) error {
	for {
		n, err := m.notify.Wait(ctx)
		if err != nil {
			return err
		}
		if n > 1 {
			m.overflows.Add(1)
		}

		if m.CompleteMove() {
			m.completions.Add(1)
		}

		if at := m.signalAt.Swap(0); at != 0 {
			if d := m.now() - at; d > m.worstNS.Load() {
				m.worstNS.Store(d)
			}
		}
	}
}

// send chunks s through the reply function
func (m *Manager) send(s string) {
	if s == "" {
		return
	}
	protocol.Chunk([]byte(s), protocol.MaxReplyPayload, func(b []byte) error {
		m.reply(b)
		return nil
	})
}

// bufferReply is the default reply function: it queues output for GetOutput
func (m *Manager) bufferReply(b []byte) {
	if n := m.output.Write(b); n < len(b) {
		core.DebugAsync("[STANDALONE] output buffer full, reply truncated")
	}
}

// GetOutput returns any pending output and clears the buffer
func (m *Manager) GetOutput() []byte {
	if m.output.IsEmpty() {
		return nil
	}

	output := make([]byte, m.output.Available())
	n := m.output.Read(output)
	return output[:n]
}
