package eval

import (
	"testing"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/engine/refengine"
	"github.com/Samsung/netcoredbg-sub001/internal/errors"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
)

// newTestHarness builds a running reference engine with the main thread
// parked inside "Main" (so CallFunction's eval has a non-empty base depth,
// matching a thread that is actually stopped somewhere), plus an
// Evaluator wired to it and a goroutine dispatching EvalComplete/
// EvalException callbacks back into the evaluator's queue.
func newTestHarness(t *testing.T) (*Evaluator, *refengine.Process, *modules.Registry, engine.Thread) {
	t.Helper()

	prog := refengine.NewProgram()
	prog.Methods[100] = &refengine.Method{
		Def:  &engine.MethodDef{Token: 100, Name: "Main", QualifiedName: "Prog.Main", IsStatic: true},
		Code: []refengine.Instr{{Op: refengine.OpHalt}},
	}
	prog.Methods[200] = &refengine.Method{
		Def:  &engine.MethodDef{Token: 200, Name: "GetFortyTwo", QualifiedName: "Prog.GetFortyTwo", IsStatic: true},
		Code: []refengine.Instr{{Op: refengine.OpPush, Operand: 42}, {Op: refengine.OpReturn}},
	}
	prog.EntryToken = 100

	proc := refengine.New()
	native := refengine.NewNativeModule(prog, 1, "Prog.dll", "/tmp/Prog.dll", 4096, [16]byte{1})
	proc.LoadProgram(prog, 1, native)
	if err := proc.Launch("", nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	reg := modules.New(nil, false)
	if _, err := reg.TryLoad(native); err != nil {
		t.Fatalf("TryLoad: %v", err)
	}

	ev := New(proc, reg, nil, nil)

	go func() {
		for cb := range proc.Callbacks() {
			switch cb.Kind {
			case engine.CbEvalComplete:
				ev.Complete(cb.ThreadID, cb.EvalResult, nil)
			case engine.CbEvalException:
				ev.Complete(cb.ThreadID, nil, cb.EvalError)
			}
		}
	}()

	thread, ok := proc.Thread(1)
	if !ok {
		t.Fatal("main thread not found")
	}
	return ev, proc, reg, thread
}

func TestCallFunction_RoundTrip(t *testing.T) {
	ev, _, _, thread := newTestHarness(t)

	v, err := ev.CallFunction(thread, 1, 200, nil)
	if err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	if v == nil || v.Kind != engine.KindInt || v.Int != 42 {
		t.Fatalf("got %+v, want int 42", v)
	}
}

func TestCallFunction_MandatoryFailure(t *testing.T) {
	ev, proc, _, thread := newTestHarness(t)

	proc.SimulateMarkEvalGate(thread.ID(), true, false, false, false, false)
	_, err := ev.CallFunction(thread, 1, 200, nil)
	if !errors.Is(err, errors.EvalFailed) {
		t.Fatalf("got %v, want an EvalFailed error", err)
	}
	de, ok := err.(*errors.DebugError)
	if !ok || de.Reason != errors.EvalOptimizedCode {
		t.Fatalf("got %+v, want reason EvalOptimizedCode", err)
	}
}

func TestParse_ExceptionPrefix(t *testing.T) {
	isExc, chain, err := Parse("$exception.Message")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !isExc || len(chain) != 1 || chain[0].Name != "Message" {
		t.Fatalf("got isExc=%v chain=%+v", isExc, chain)
	}
}

func TestParse_GenericAndIndexComponents(t *testing.T) {
	_, chain, err := Parse("Map<K,V>.Items[0,1].Value")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"Map<K,V>", "Items", "[0,1]", "Value"}
	if len(chain) != len(want) {
		t.Fatalf("got %d components, want %d: %+v", len(chain), len(want), chain)
	}
	for i, w := range want {
		if chain[i].String() != w {
			t.Fatalf("component %d: got %q, want %q", i, chain[i].String(), w)
		}
	}
}

func TestResolve_LocalVariable(t *testing.T) {
	ev, proc, _, _ := newTestHarness(t)

	// No call is driven here: the test reuses Main's frame and writes a
	// local directly through the engine.Frame interface.
	thread, _ := proc.Thread(1)
	var mframe engine.Frame
	thread.Walk(func(rf engine.RawFrame) bool {
		if rf.Kind == engine.FrameManaged {
			mframe = rf.Managed
			return false
		}
		return true
	})
	if mframe == nil {
		t.Fatal("no managed frame on main thread")
	}
	// Main has no declared locals in its MethodDef, so inject one for the
	// test via SetLocalValue plus a synthetic LocalVarDef lookup: Resolve
	// walks frame.Function().Locals, so attach one to the method def.
	mframe.Function().Locals = []engine.LocalVarDef{{Index: 0, Name: "answer"}}
	if err := mframe.SetLocalValue(0, &engine.Value{Kind: engine.KindInt, Type: "int", Int: 7}); err != nil {
		t.Fatalf("SetLocalValue: %v", err)
	}

	v, err := ev.Resolve(thread, mframe, "answer")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.Kind != engine.KindInt || v.Int != 7 {
		t.Fatalf("got %+v, want int 7", v)
	}
}

func TestEvaluateCondition_BoolLocal(t *testing.T) {
	ev, proc, _, _ := newTestHarness(t)
	thread, _ := proc.Thread(1)

	var mframe engine.Frame
	thread.Walk(func(rf engine.RawFrame) bool {
		if rf.Kind == engine.FrameManaged {
			mframe = rf.Managed
			return false
		}
		return true
	})
	mframe.Function().Locals = []engine.LocalVarDef{{Index: 0, Name: "flag"}}
	mframe.SetLocalValue(0, &engine.Value{Kind: engine.KindBool, Type: "bool", Bool: true})

	ok, err := ev.EvaluateCondition(thread, mframe, "flag")
	if err != nil {
		t.Fatalf("EvaluateCondition: %v", err)
	}
	if !ok {
		t.Fatal("expected condition to evaluate true")
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	d := engine.Decimal{Lo: 12345, Mid: 0, Hi: 0, Negative: true, Scale: 2}
	raw := EncodeDecimal(d)
	got := DecodeDecimal(raw)
	if got != d {
		t.Fatalf("got %+v, want %+v", got, d)
	}
}

func TestWalkMembers_ArrayAndFields(t *testing.T) {
	ev, proc, _, _ := newTestHarness(t)
	thread, _ := proc.Thread(1)

	td := &engine.TypeDef{
		Name:   "Prog.Point",
		Fields: []engine.FieldDef{{Name: "X", TypeName: "int", SigElement: engine.SigPrimitive}},
	}
	obj := &engine.Value{Kind: engine.KindObject, Type: "Prog.Point", Def: td, Fields: map[string]*engine.Value{
		"X": {Kind: engine.KindInt, Type: "int", Int: 3},
	}}

	var names []string
	err := ev.WalkMembers(thread, 1, obj, false, func(m Member) error {
		names = append(names, m.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkMembers: %v", err)
	}
	if len(names) != 1 || names[0] != "X" {
		t.Fatalf("got %+v, want [X]", names)
	}

	arr := &engine.Value{Kind: engine.KindArray, Array: []*engine.Value{
		{Kind: engine.KindInt, Int: 10}, {Kind: engine.KindInt, Int: 20},
	}, LowerBounds: []int{0}}
	var idxNames []string
	ev.WalkMembers(thread, 1, arr, false, func(m Member) error {
		idxNames = append(idxNames, m.Name)
		return nil
	})
	if len(idxNames) != 2 || idxNames[0] != "[0]" || idxNames[1] != "[1]" {
		t.Fatalf("got %+v", idxNames)
	}
}
