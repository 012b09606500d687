package variables

import (
	"testing"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/engine/refengine"
	"github.com/Samsung/netcoredbg-sub001/internal/eval"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
)

func newTestRegistry(t *testing.T) (*Registry, engine.Thread, engine.Frame) {
	t.Helper()

	prog := refengine.NewProgram()
	prog.Methods[100] = &refengine.Method{
		Def:  &engine.MethodDef{Token: 100, Name: "Main", QualifiedName: "Prog.Main", IsStatic: true, Locals: []engine.LocalVarDef{{Index: 0, Name: "count"}}},
		Code: []refengine.Instr{{Op: refengine.OpHalt}},
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

	ev := eval.New(proc, reg, nil, nil)
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
	if err := mframe.SetLocalValue(0, &engine.Value{Kind: engine.KindInt, Type: "int", Int: 5}); err != nil {
		t.Fatalf("SetLocalValue: %v", err)
	}

	return New(ev), thread, mframe
}

func TestScopesAndLocals(t *testing.T) {
	vr, thread, frame := newTestRegistry(t)
	frameID := vr.RegisterFrame(thread, frame)

	scopes, err := vr.GetScopes(frameID)
	if err != nil {
		t.Fatalf("GetScopes: %v", err)
	}
	if len(scopes) != 1 || scopes[0].Name != "Locals" {
		t.Fatalf("got %+v", scopes)
	}

	vars, err := vr.GetVariables(scopes[0].VariablesReference, FilterNamed, 0, 0)
	if err != nil {
		t.Fatalf("GetVariables: %v", err)
	}
	if len(vars) != 1 || vars[0].Name != "count" || vars[0].Value != "5" || !vars[0].Editable {
		t.Fatalf("got %+v", vars)
	}
}

func TestEvaluateAndSetVariable(t *testing.T) {
	vr, thread, frame := newTestRegistry(t)
	frameID := vr.RegisterFrame(thread, frame)

	v, err := vr.Evaluate(frameID, "count", EvalFlagsNone)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Value != "5" || v.Type != "int" {
		t.Fatalf("got %+v", v)
	}

	scopeID, err := vr.CreateScope(frameID)
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}
	printed, err := vr.SetVariable(scopeID, "count", "9")
	if err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	if printed != "9" {
		t.Fatalf("got %q, want 9", printed)
	}

	v2, err := vr.Evaluate(frameID, "count", EvalFlagsNone)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v2.Value != "9" {
		t.Fatalf("got %+v after set", v2)
	}
}

func TestObjectMembersAndStaticsGroup(t *testing.T) {
	vr, thread, frame := newTestRegistry(t)
	frameID := vr.RegisterFrame(thread, frame)

	td := &engine.TypeDef{
		Name: "Prog.Counter",
		Fields: []engine.FieldDef{
			{Name: "Value", TypeName: "int", SigElement: engine.SigPrimitive},
			{Name: "Total", TypeName: "int", SigElement: engine.SigPrimitive, IsStatic: true},
		},
	}
	obj := &engine.Value{Kind: engine.KindObject, Type: "Prog.Counter", Def: td, Fields: map[string]*engine.Value{
		"Value": {Kind: engine.KindInt, Type: "int", Int: 1},
	}}

	scopeID, err := vr.CreateScope(frameID)
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}
	it := item{name: "c", value: obj, evaluateName: "c", thread: thread, module: frame.Module()}
	objVar := vr.toVariable(it)
	if objVar.VariablesReference == 0 {
		t.Fatal("expected a variables reference for an object value")
	}
	_ = scopeID

	members, err := vr.GetVariables(objVar.VariablesReference, FilterNamed, 0, 0)
	if err != nil {
		t.Fatalf("GetVariables on object: %v", err)
	}
	var sawValue, sawStaticsGroup int
	var staticsRef int
	for _, m := range members {
		switch m.Name {
		case "Value":
			sawValue++
		case staticsGroupName:
			sawStaticsGroup++
			staticsRef = m.VariablesReference
		}
	}
	if sawValue != 1 || sawStaticsGroup != 1 {
		t.Fatalf("got %+v", members)
	}

	statics, err := vr.GetVariables(staticsRef, FilterNamed, 0, 0)
	if err != nil {
		t.Fatalf("GetVariables on statics group: %v", err)
	}
	if len(statics) != 1 || statics[0].Name != "Total" {
		t.Fatalf("got %+v", statics)
	}
}
