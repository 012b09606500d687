package mi

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

func newTestInterpreter(t *testing.T, out *bytes.Buffer) *Interpreter {
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
			},
		},
		Code: []refengine.Instr{
			{Op: refengine.OpPush, Operand: 1},
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
	ctrl := debugger.New(proc, mods, bps, ev, vars, cfg, nil, nil)

	i := New(ctrl, strings.NewReader(""), out)
	go i.forwardEvents()
	return i
}

func TestMIBreakInsertAndRun(t *testing.T) {
	out := &bytes.Buffer{}
	m := newTestInterpreter(t, out)

	m.handle("1-break-insert Prog.cs:11")
	if !strings.Contains(out.String(), "1^done,bkpt=") {
		t.Fatalf("expected a ^done bkpt result, got %q", out.String())
	}

	out.Reset()
	m.handle(`2-exec-run`)
	if !strings.Contains(out.String(), "2^done") {
		t.Fatalf("expected run to succeed, got %q", out.String())
	}

	time.Sleep(50 * time.Millisecond)
	if !strings.Contains(out.String(), `*stopped,reason="breakpoint-hit"`) {
		t.Fatalf("expected a breakpoint-hit async record, got %q", out.String())
	}
}

func TestMIUndefinedCommand(t *testing.T) {
	out := &bytes.Buffer{}
	m := newTestInterpreter(t, out)

	m.handle("7-bogus-command")
	if !strings.Contains(out.String(), "7^error") {
		t.Fatalf("expected a ^error result for an undefined command, got %q", out.String())
	}
}

func TestMITokenSplitting(t *testing.T) {
	tok, cmd, rest := token(`42-break-insert main.cs:5 if x > 0`)
	if tok != "42" || cmd != "-break-insert" {
		t.Fatalf("got tok=%q cmd=%q, want tok=42 cmd=-break-insert", tok, cmd)
	}
	if rest != "main.cs:5 if x > 0" {
		t.Fatalf("got rest=%q", rest)
	}
}
