package standalone

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"stepcore/core"
	"stepcore/protocol"
	"stepcore/standalone/config"
)

const ctrl = "\x18"

type testMachine struct {
	*Manager
	gpio *core.MemoryGPIO
}

func newTestMachine(t *testing.T) *testMachine {
	t.Helper()
	m, err := NewManagerWithConfig(config.DefaultCartesianConfig())
	if err != nil {
		t.Fatalf("NewManagerWithConfig: %v", err)
	}
	var clock int64
	m.now = func() int64 {
		clock += 1000
		return clock
	}
	gpio := core.NewMemoryGPIO()
	if err := m.Initialize(gpio); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return &testMachine{Manager: m, gpio: gpio}
}

// line sends one line and returns the reply text
func (tm *testMachine) line(t *testing.T, s string) string {
	t.Helper()
	tm.HandleLine(s)
	return string(tm.GetOutput())
}

// runTicks drives the tick context, standing in for the completion task
// whenever a block finishes. It returns the ticks run.
func (tm *testMachine) runTicks(max int) int {
	for i := 0; i < max; i++ {
		if !tm.IssueTicks() {
			tm.CompleteMove()
		}
	}
	return max
}

// runUntilIdle ticks until nothing moves or queues, the way the
// completion task would pick up the first block after "run"
func (tm *testMachine) runUntilIdle(t *testing.T, limit int) {
	t.Helper()
	tm.CompleteMove()
	for i := 0; i < limit; i++ {
		if !tm.motion.IsAnythingMoving() && tm.ready.Len() == 0 {
			return
		}
		if !tm.IssueTicks() {
			tm.CompleteMove()
		}
	}
	t.Fatalf("still moving after %d ticks", limit)
}

func TestManagerRunEmptyQueueStaysIdle(t *testing.T) {
	tm := newTestMachine(t)
	if got := tm.line(t, ctrl+"run"); got != "ok\n" {
		t.Errorf("run reply = %q", got)
	}
	if !tm.IsExecuting() {
		t.Fatal("run did not enable execution")
	}
	if tm.notify.Pending() != 0 {
		t.Errorf("completion task woken with nothing ready")
	}
	tm.runTicks(100)
	if tm.motion.IsAnythingMoving() {
		t.Error("machine left IDLE with an empty queue")
	}
	if tm.CompleteMove() {
		t.Error("CompleteMove issued a block from an empty queue")
	}
}

func TestManagerEndToEnd(t *testing.T) {
	tm := newTestMachine(t)
	tm.line(t, "G1 X1 Y0.5 F600")
	tm.line(t, "G1 X2")
	tm.line(t, ctrl+"run")
	tm.runUntilIdle(t, 1000000)

	if got, want := tm.gpio.RisingEdges(0), uint64(160); got != want {
		t.Errorf("X step pulses = %d, want %d", got, want)
	}
	if got, want := tm.gpio.RisingEdges(2), uint64(40); got != want {
		t.Errorf("Y step pulses = %d, want %d", got, want)
	}
	want := [4]int64{160, 40, 0, 0}
	if diff := cmp.Diff(want, tm.motion.Steps()); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}

	got := tm.line(t, "M114")
	if !strings.HasPrefix(got, "X:2.000 Y:0.500 Z:0.000 E:0.000 Count X:160 Y:40 Z:0 E:0\n") {
		t.Errorf("M114 = %q", got)
	}
}

func TestManagerHoldKeepsPosition(t *testing.T) {
	tm := newTestMachine(t)
	tm.line(t, "G1 X5 F600")
	tm.line(t, ctrl+"run")
	tm.CompleteMove()
	tm.runTicks(20000)

	moved := tm.motion.Steps()
	if moved[0] == 0 || moved[0] >= 400 {
		t.Fatalf("X at %d steps, want mid-move", moved[0])
	}

	tm.line(t, ctrl+"hold")
	tm.runTicks(50000)
	if diff := cmp.Diff(moved, tm.motion.Steps()); diff != "" {
		t.Errorf("axes moved while held (-want +got):\n%s", diff)
	}
	if !tm.motion.IsAnythingMoving() {
		t.Error("hold dropped the block in flight")
	}

	tm.line(t, ctrl+"run")
	tm.runUntilIdle(t, 1000000)
	if got := tm.motion.Steps()[0]; got != 400 {
		t.Errorf("X after resume = %d, want 400", got)
	}
	if got := tm.gpio.RisingEdges(0); got != 400 {
		t.Errorf("X pulses after resume = %d, want 400", got)
	}
}

func TestManagerAbortResync(t *testing.T) {
	tm := newTestMachine(t)
	tm.line(t, "G1 X10 F600")
	tm.line(t, "G1 X20")
	tm.line(t, ctrl+"run")
	tm.CompleteMove()
	tm.runTicks(30000)

	tm.line(t, ctrl+"abort")
	if tm.IsExecuting() {
		t.Error("abort left execution enabled")
	}
	tm.IssueTicks()
	if tm.motion.IsAnythingMoving() {
		t.Fatal("tick context did not stop the axes")
	}
	if n := tm.ready.Len() + tm.planner.Pending(); n != 0 {
		t.Errorf("%d blocks left after abort", n)
	}

	stopped := tm.motion.Steps()[0]
	if stopped == 0 || stopped >= 800 {
		t.Fatalf("X stopped at %d steps, want mid-move", stopped)
	}
	tm.line(t, "G91")
	if got, want := tm.planner.Position()[0], float64(stopped)/80; got != want {
		t.Errorf("planned X = %v, want %v", got, want)
	}

	// A new relative move continues from where the axes stopped
	tm.line(t, "G1 X1")
	tm.line(t, ctrl+"run")
	tm.runUntilIdle(t, 1000000)
	if got := tm.motion.Steps()[0]; got != stopped+80 {
		t.Errorf("X = %d, want %d", got, stopped+80)
	}
}

func TestManagerEmergencyStop(t *testing.T) {
	tm := newTestMachine(t)
	x := tm.motion.Actuator('x')

	tm.line(t, "G1 X10 F600")
	tm.line(t, ctrl+"run")
	tm.CompleteMove()
	tm.runTicks(30000)
	if !x.IsEnabled() {
		t.Fatal("X not enabled by its move")
	}

	if got := tm.line(t, "M112"); got != "ok\n" {
		t.Errorf("M112 = %q", got)
	}
	// Until the tick context consumed the abort the stopped position is
	// unknown, so moves wait
	if got := tm.line(t, "G1 X1"); got != "error:"+ErrBusy.Error()+"\n" {
		t.Errorf("move before resync = %q", got)
	}

	tm.IssueTicks()
	if tm.motion.IsAnythingMoving() {
		t.Fatal("emergency stop left the block running")
	}
	if x.IsEnabled() {
		t.Error("emergency stop left the motors enabled")
	}
	stopped := tm.motion.Steps()[0]
	tm.line(t, "M114")
	if got, want := tm.planner.Position()[0], float64(stopped)/80; got != want {
		t.Errorf("planned X = %v, want %v", got, want)
	}

	// With nothing moving the motors are disabled from the command context
	tm.line(t, "M17")
	if !x.IsEnabled() {
		t.Fatal("M17 did not enable the motors")
	}
	tm.line(t, "M112")
	tm.IssueTicks()
	tm.line(t, "M114")
	if x.IsEnabled() {
		t.Error("idle emergency stop left the motors enabled")
	}
	if got := tm.line(t, "G1 X1"); got != "ok\n" {
		t.Errorf("move after resync = %q", got)
	}
}

func TestManagerControlCommands(t *testing.T) {
	tm := newTestMachine(t)
	tests := []struct {
		line    string
		want    string
		handled bool
	}{
		{ctrl + "connected", protocol.Banner, true},
		{ctrl + "version", "stepcore " + protocol.Version + "\nok\n", true},
		{ctrl + "dump", "ok\n", true},
		{ctrl + "hold", "ok\n", true},
		{ctrl + "bogus arg", "Unknown command: bogus arg\n", false},
		{"M999", protocol.ReplyNoHandler, true},
		{"", "ok\n", true},
		{"; comment only", "ok\n", true},
		{"G90", "ok\n", true},
	}
	for _, tt := range tests {
		handled := tm.HandleLine(tt.line)
		got := string(tm.GetOutput())
		if handled != tt.handled {
			t.Errorf("HandleLine(%q) = %v, want %v", tt.line, handled, tt.handled)
		}
		if got != tt.want {
			t.Errorf("HandleLine(%q) reply = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestManagerDumpListsBlocks(t *testing.T) {
	tm := newTestMachine(t)
	tm.line(t, "G1 X1 F600")
	tm.line(t, "G1 X1 Y1")
	got := tm.line(t, ctrl+"dump")
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	if len(lines) != 3 || lines[2] != "ok" {
		t.Fatalf("dump = %q", got)
	}
	if !strings.HasPrefix(lines[0], "B1 ") || !strings.HasPrefix(lines[1], "B2 ") {
		t.Errorf("dump order = %q", got)
	}
}

func TestManagerChunkedReplies(t *testing.T) {
	tm := newTestMachine(t)
	var chunks []string
	tm.SetReplyFunc(func(b []byte) {
		chunks = append(chunks, string(b))
	})
	tm.HandleLine("M503")

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > protocol.MaxReplyPayload {
			t.Errorf("chunk of %d bytes exceeds %d", len(c), protocol.MaxReplyPayload)
		}
	}
	got := strings.Join(chunks, "")
	if !strings.HasPrefix(got, "M92 X80.000 Y80.000 Z400.000 E96.000\n") || !strings.HasSuffix(got, "M205 J0.050\nok\n") {
		t.Errorf("reassembled reply = %q", got)
	}
}

func TestManagerSettingsStore(t *testing.T) {
	tm := newTestMachine(t)
	store := config.NewMemoryStore(nil)
	tm.SetStore(store)

	if got := tm.line(t, "M501"); !strings.HasPrefix(got, "error:") {
		t.Errorf("M501 with empty store = %q", got)
	}
	tm.line(t, "M92 X100")
	tm.line(t, "M203 X123")
	if got := tm.line(t, "M500"); got != "ok\n" {
		t.Fatalf("M500 = %q", got)
	}
	tm.line(t, "M92 X80")
	tm.line(t, "M203 X300")

	if got := tm.line(t, "M501"); got != "ok\n" {
		t.Fatalf("M501 = %q", got)
	}
	if got := tm.planner.StepsPerMM(0); got != 100 {
		t.Errorf("X steps/mm = %v, want 100", got)
	}
	if got := tm.motion.Actuator('X').StepsPerMM(); got != 100 {
		t.Errorf("actuator X steps/mm = %v, want 100", got)
	}
	_, vel, _, _, _ := tm.planner.Settings()
	if vel[0] != 123 {
		t.Errorf("X max velocity = %v, want 123", vel[0])
	}
	if got := tm.line(t, "M92"); got != "M92 X100.000 Y80.000 Z400.000 E96.000\nok\n" {
		t.Errorf("M92 report = %q", got)
	}
}

func TestManagerBusyRejectsSettings(t *testing.T) {
	tm := newTestMachine(t)
	tm.line(t, "G1 X1 F600")
	for _, line := range []string{"M92 X100", "M18", "M17"} {
		if got := tm.line(t, line); got != "error:"+ErrBusy.Error()+"\n" {
			t.Errorf("%s while queued = %q", line, got)
		}
	}
	if got := tm.line(t, "M400"); got != "busy\nok\n" {
		t.Errorf("M400 = %q", got)
	}
	if tm.planner.Pending() != 0 {
		t.Error("M400 left pending blocks")
	}
}

func TestManagerSetPositionAndModes(t *testing.T) {
	tm := newTestMachine(t)
	tm.line(t, "G92 X10 E5")
	if got := tm.motion.Steps()[0]; got != 800 {
		t.Errorf("X actuator after G92 = %d, want 800", got)
	}

	tm.line(t, "M83")
	tm.line(t, "G1 X12 E1 F600")
	pos := tm.planner.Position()
	if pos[0] != 12 || pos[3] != 6 {
		t.Errorf("position = %v, want X12 E6", pos)
	}

	if got := tm.line(t, "G1 X500"); !strings.HasPrefix(got, "error:") {
		t.Errorf("move out of limits = %q", got)
	}
	if got := tm.line(t, "G1 X1 F0"); !strings.HasPrefix(got, "error:") {
		t.Errorf("zero feed = %q", got)
	}
	if got := tm.line(t, "M115"); !strings.HasPrefix(got, "FIRMWARE_NAME:stepcore") {
		t.Errorf("M115 = %q", got)
	}
}

func TestManagerCompletionStats(t *testing.T) {
	tm := newTestMachine(t)

	// Two signals before the task runs fold into one wake-up
	tm.notify.Notify()
	tm.notify.Notify()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tm.RunCompletion(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for tm.overflows.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("RunCompletion = %v, want context.Canceled", err)
	}

	got := tm.line(t, ctrl+"stats")
	if !strings.Contains(got, "Overflows: 1\n") || !strings.HasSuffix(got, "ok\n") {
		t.Errorf("stats = %q", got)
	}
}

func TestManagerLineFromBytes(t *testing.T) {
	tm := newTestMachine(t)
	for _, b := range []byte("G1 X1 F600\n") {
		tm.ProcessByte(b)
	}
	if got := string(tm.GetOutput()); got != "ok\n" {
		t.Errorf("reply = %q", got)
	}
	if tm.planner.Pending() != 1 {
		t.Errorf("pending = %d, want 1", tm.planner.Pending())
	}

	long := strings.Repeat("X", protocol.MaxLineLength+1) + "\n"
	for _, b := range []byte(long) {
		tm.ProcessByte(b)
	}
	if got := string(tm.GetOutput()); !strings.Contains(got, "line too long") {
		t.Errorf("overflow reply = %q", got)
	}
}

func TestManagerStartAppliesStore(t *testing.T) {
	m, err := NewManagerWithConfig(config.DefaultCartesianConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != ErrNotInitialized {
		t.Errorf("Start before Initialize = %v", err)
	}
	if err := m.Initialize(core.NewMemoryGPIO()); err != nil {
		t.Fatal(err)
	}

	stored := config.DefaultCartesianConfig()
	a := stored.Axes["x"]
	a.StepsPerMM = 160
	stored.Axes["x"] = a
	m.SetStore(config.NewMemoryStore(stored))

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := m.Planner().StepsPerMM(0); got != 160 {
		t.Errorf("X steps/mm = %v, want 160", got)
	}
	if got := string(m.GetOutput()); got != "stepcore ready\n" {
		t.Errorf("startup output = %q", got)
	}
}
