package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Samsung/netcoredbg-sub001/internal/breakpoints"
	"github.com/Samsung/netcoredbg-sub001/internal/debugger"
	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/engine/refengine"
	"github.com/Samsung/netcoredbg-sub001/internal/eval"
	"github.com/Samsung/netcoredbg-sub001/internal/launchconfig"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
	"github.com/Samsung/netcoredbg-sub001/internal/variables"
)

// newTestConsole builds the Controller a test Console runs over, using the
// same two-breakpoint-able method shape as internal/debugger's own tests.
func newTestConsole(t *testing.T, out *bytes.Buffer) *debugger.Controller {
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
			},
		},
		Code: []refengine.Instr{
			{Op: refengine.OpPush, Operand: 1},
			{Op: refengine.OpPop},
			{Op: refengine.OpPush, Operand: 2},
			{Op: refengine.OpPop},
			{Op: refengine.OpHalt},
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

	return debugger.New(proc, mods, bps, ev, vars, cfg, nil, nil)
}

func TestConsoleLaunchAndBreak(t *testing.T) {
	out := &bytes.Buffer{}
	ctrl := newTestConsole(t, out)
	console := New(ctrl, strings.NewReader(""), out)

	if err := console.dispatch("break Prog.cs:11"); err != nil {
		t.Fatalf("break: %v", err)
	}
	if err := console.dispatch("run /tmp/Prog.dll"); err != nil {
		t.Fatalf("run: %v", err)
	}
	// Let the event printer goroutine catch up with the Stopped event.
	time.Sleep(50 * time.Millisecond)

	if !strings.Contains(out.String(), "breakpoint") {
		t.Fatalf("expected breakpoint confirmation in output, got %q", out.String())
	}
	if !strings.Contains(out.String(), "stopped") {
		t.Fatalf("expected a stopped event line in output, got %q", out.String())
	}
}

func TestConsoleUnknownCommand(t *testing.T) {
	out := &bytes.Buffer{}
	ctrl := newTestConsole(t, out)
	console := New(ctrl, strings.NewReader(""), out)

	if err := console.dispatch("frobnicate"); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}

func TestConsoleBacktraceRequiresStoppedThread(t *testing.T) {
	out := &bytes.Buffer{}
	ctrl := newTestConsole(t, out)
	console := New(ctrl, strings.NewReader(""), out)

	if err := console.dispatch("break Prog.cs:11"); err != nil {
		t.Fatalf("break: %v", err)
	}
	if err := console.dispatch("run /tmp/Prog.dll"); err != nil {
		t.Fatalf("run: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := console.dispatch("bt"); err != nil {
		t.Fatalf("bt: %v", err)
	}
	if !strings.Contains(out.String(), "frames total") {
		t.Fatalf("expected a frame-count summary line, got %q", out.String())
	}
}
