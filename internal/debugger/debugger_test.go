package debugger

import (
	"testing"
	"time"

	"github.com/Samsung/netcoredbg-sub001/internal/breakpoints"
	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/engine/refengine"
	"github.com/Samsung/netcoredbg-sub001/internal/eval"
	"github.com/Samsung/netcoredbg-sub001/internal/launchconfig"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
	"github.com/Samsung/netcoredbg-sub001/internal/variables"
)

// newTestController builds a Controller over a three-line-plus method whose
// sequence points allow a line breakpoint on the middle line and a step to
// the line after it: offset 0 -> line 10, offset 2 -> line 11, offset 4 ->
// line 12, offset 6 -> line 13 (the OpHalt that ends Main).
func newTestController(t *testing.T) (*Controller, *refengine.Process, *breakpoints.Manager) {
	t.Helper()

	prog := refengine.NewProgram()
	prog.Methods[100] = &refengine.Method{
		Def: &engine.MethodDef{
			Token:         100,
			Name:          "Main",
			QualifiedName: "Prog.Main",
			IsStatic:      true,
			SequencePoints: []engine.SequencePoint{
				{Offset: 0, StartLine: 10, Document: "Prog.cs"},
				{Offset: 2, StartLine: 11, Document: "Prog.cs"},
				{Offset: 4, StartLine: 12, Document: "Prog.cs"},
				{Offset: 6, StartLine: 13, Document: "Prog.cs"},
			},
		},
		Code: []refengine.Instr{
			{Op: refengine.OpPush, Operand: 1}, // offset 0
			{Op: refengine.OpPop},               // offset 1
			{Op: refengine.OpPush, Operand: 2},  // offset 2
			{Op: refengine.OpPop},               // offset 3
			{Op: refengine.OpPush, Operand: 3},  // offset 4
			{Op: refengine.OpPop},               // offset 5
			{Op: refengine.OpHalt},               // offset 6
		},
	}
	prog.EntryToken = 100

	proc := refengine.New()
	native := refengine.NewNativeModule(prog, 1, "Prog.dll", "/tmp/Prog.dll", 4096, [16]byte{1})
	proc.LoadProgram(prog, 1, native)

	mods := modules.New(nil, false)
	if _, err := mods.TryLoad(native); err != nil {
		t.Fatalf("TryLoad: %v", err)
	}

	bps := breakpoints.New(mods, proc, nil, nil)
	ev := eval.New(proc, mods, nil, nil)
	vars := variables.New(ev)

	cfg := launchconfig.Default()
	ctrl := New(proc, mods, bps, ev, vars, cfg, nil, nil)
	return ctrl, proc, bps
}

// expectEvent drains ch until it finds an event of kind, failing the test if
// none arrives within the timeout. Events of other kinds are discarded —
// callers only assert on the ones that matter to the scenario being tested.
func expectEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %v", kind)
		}
	}
}

func TestControllerLifecycle(t *testing.T) {
	ctrl, proc, bps := newTestController(t)
	events := ctrl.Events()

	bps.SetLineBreakpoints("Prog.cs", []breakpoints.LineRequest{{Line: 11}})

	if err := ctrl.Launch("", nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	expectEvent(t, events, EventInitialized)

	stopped := expectEvent(t, events, EventStopped)
	if stopped.Reason != StopBreakpoint || stopped.Location.Line != 11 {
		t.Fatalf("got %+v, want a breakpoint stop at line 11", stopped)
	}
	if ctrl.State() != StateStopped {
		t.Fatalf("got state %v, want Stopped", ctrl.State())
	}

	// Clear the breakpoint before resuming so the VM can make forward
	// progress instead of immediately re-hitting the same IL offset.
	bps.SetLineBreakpoints("Prog.cs", nil)

	if err := ctrl.Step(1, StepOver); err != nil {
		t.Fatalf("Step: %v", err)
	}
	expectEvent(t, events, EventContinued)
	stepStopped := expectEvent(t, events, EventStopped)
	if stepStopped.Reason != StopStep || stepStopped.Location.Line != 12 {
		t.Fatalf("got %+v, want a step stop at line 12", stepStopped)
	}

	excVal := &engine.Value{
		Kind: engine.KindObject,
		Type: "System.InvalidOperationException",
		Fields: map[string]*engine.Value{
			"_message": {Kind: engine.KindString, Type: "string", Str: "boom"},
		},
	}
	proc.SimulateThrow(1, excVal, engine.ExceptionUnhandled)
	excStopped := expectEvent(t, events, EventStopped)
	if excStopped.Reason != StopException {
		t.Fatalf("got %+v, want an exception stop", excStopped)
	}
	if excStopped.ExceptionType != "System.InvalidOperationException" || excStopped.ExceptionMessage != "boom" {
		t.Fatalf("got %+v, wrong exception detail", excStopped)
	}
	if excStopped.ExceptionStage != "unhandled" {
		t.Fatalf("got stage %q, want unhandled", excStopped.ExceptionStage)
	}
	if !ctrl.HasUnhandledException(1) {
		t.Fatal("expected thread 1 to be recorded as having an unhandled exception")
	}

	if err := ctrl.Disconnect(DisconnectTerminate); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if ctrl.State() != StateExited {
		t.Fatalf("got state %v, want Exited", ctrl.State())
	}
}

func TestLaunchRequiresUnattachedState(t *testing.T) {
	ctrl, _, bps := newTestController(t)
	bps.SetLineBreakpoints("Prog.cs", []breakpoints.LineRequest{{Line: 11}})

	if err := ctrl.Launch("", nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	expectEvent(t, ctrl.Events(), EventInitialized)
	expectEvent(t, ctrl.Events(), EventStopped)

	if err := ctrl.Launch("", nil); err == nil {
		t.Fatal("expected a second Launch to fail: controller is no longer Unattached")
	}
}

func TestPauseIsNoOpWhenAlreadyStopped(t *testing.T) {
	ctrl, _, bps := newTestController(t)
	bps.SetLineBreakpoints("Prog.cs", []breakpoints.LineRequest{{Line: 11}})

	if err := ctrl.Launch("", nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	expectEvent(t, ctrl.Events(), EventInitialized)
	expectEvent(t, ctrl.Events(), EventStopped)

	if err := ctrl.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	select {
	case ev := <-ctrl.Events():
		t.Fatalf("expected no event from a no-op Pause, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
