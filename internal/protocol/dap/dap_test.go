package dap

import (
	"bytes"
	"encoding/json"
	"strconv"
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

func newTestAdapter(t *testing.T, out *bytes.Buffer) *Adapter {
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

	a := New(ctrl, strings.NewReader(""), out)
	go a.forwardEvents()
	return a
}

func rawArgs(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return b
}

func TestAdapterSetBreakpointsAndLaunch(t *testing.T) {
	out := &bytes.Buffer{}
	a := newTestAdapter(t, out)

	a.handleRequest(&Request{
		ProtocolMessage: ProtocolMessage{Seq: 1, Type: "request"},
		Command:         "setBreakpoints",
		Arguments: rawArgs(t, setBreakpointsArgs{
			Source:      source{Path: "Prog.cs"},
			Breakpoints: []sourceBreakpoint{{Line: 11}},
		}),
	})
	if !strings.Contains(out.String(), `"verified":true`) {
		t.Fatalf("expected a verified breakpoint response, got %q", out.String())
	}

	out.Reset()
	a.handleRequest(&Request{
		ProtocolMessage: ProtocolMessage{Seq: 2, Type: "request"},
		Command:         "launch",
		Arguments:       rawArgs(t, launchArgs{Program: ""}),
	})
	if !strings.Contains(out.String(), `"success":true`) {
		t.Fatalf("expected launch to succeed, got %q", out.String())
	}

	time.Sleep(50 * time.Millisecond)
	if !strings.Contains(out.String(), `"event":"stopped"`) {
		t.Fatalf("expected a stopped event to have been forwarded, got %q", out.String())
	}
}

func TestAdapterUnsupportedCommand(t *testing.T) {
	out := &bytes.Buffer{}
	a := newTestAdapter(t, out)

	a.handleRequest(&Request{
		ProtocolMessage: ProtocolMessage{Seq: 1, Type: "request"},
		Command:         "bogusCommand",
	})
	if !strings.Contains(out.String(), `"success":false`) {
		t.Fatalf("expected an unsuccessful response, got %q", out.String())
	}
}

func TestReadWriteMessageFraming(t *testing.T) {
	out := &bytes.Buffer{}
	a := &Adapter{writer: out}
	if err := a.writeMessage(map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	body := `{"hello":"world"}`
	want := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
	if out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}
}
