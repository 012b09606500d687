package refengine

import (
	"fmt"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
)

var nextHandle uint64 = 1

func allocHandle() engine.ObjectHandle {
	h := engine.ObjectHandle(nextHandle)
	nextHandle++
	return h
}

// stepper implements engine.Stepper over one thread's stepState.
type stepper struct {
	thread *thread
	mask   engine.InterceptMask
	jmc    bool
}

func (s *stepper) SetInterceptMask(mask engine.InterceptMask)     { s.mask = mask }
func (s *stepper) SetUnmappedStopMask(engine.UnmappedStopMask)    {}
func (s *stepper) SetJMC(enabled bool)                            { s.jmc = enabled }

func (s *stepper) StepRange(stepIn bool, start, end engine.ILOffset) error {
	mode := "over"
	if stepIn {
		mode = "into"
	}
	s.thread.stepper = &stepState{mode: mode, startDepth: s.thread.vm.depth(), rangeStart: start, rangeEnd: end, jmc: s.jmc}
	return nil
}

func (s *stepper) Step(stepIn bool) error {
	mode := "over"
	if stepIn {
		mode = "into"
	}
	// No known sequence-point range: treat the current instruction alone as
	// the range, so any movement at all completes the step.
	il := s.thread.vm.currentIL()
	s.thread.stepper = &stepState{mode: mode, startDepth: s.thread.vm.depth(), rangeStart: il, rangeEnd: il + 1, jmc: s.jmc}
	return nil
}

func (s *stepper) StepOut() error {
	s.thread.stepper = &stepState{mode: "out", startDepth: s.thread.vm.depth(), jmc: s.jmc}
	return nil
}

func (s *stepper) Disable() { s.thread.stepper = nil }

// evalHandle implements engine.Eval, driving a reentrant call on the
// thread's existing VM state (§4.4's "reentrant function execution inside
// the debuggee").
type evalHandle struct {
	thread *thread
	proc   *Process
}

func (e *evalHandle) CallFunction(tok engine.MethodToken, module engine.ModuleBase, args []*engine.Value) error {
	if e.thread.vm == nil {
		return fmt.Errorf("refengine: eval thread has no executable context")
	}
	e.thread.pendingEval = &pendingEval{baseDepth: e.thread.vm.depth()}
	return e.thread.vm.callDirect(tok, args)
}

func (e *evalHandle) NewObjectNoConstructor(typeName string) error {
	def := e.proc.lookupType(typeName)
	val := &engine.Value{Kind: engine.KindObject, Type: typeName, Def: def, Handle: allocHandle(), Fields: map[string]*engine.Value{}}
	e.thread.pendingEval = &pendingEval{baseDepth: depthOf(e.thread), immediate: val}
	return nil
}

func (e *evalHandle) NewStringWithLength(s string, length int) error {
	val := &engine.Value{Kind: engine.KindString, Type: "string", Str: s}
	e.thread.pendingEval = &pendingEval{baseDepth: depthOf(e.thread), immediate: val}
	return nil
}

func (e *evalHandle) NewParameterizedArray(elemType string, length int) error {
	elems := make([]*engine.Value, length)
	for i := range elems {
		elems[i] = &engine.Value{Kind: engine.KindNull}
	}
	val := &engine.Value{Kind: engine.KindArray, Type: elemType + "[]", Handle: allocHandle(), Array: elems, LowerBounds: []int{0}}
	e.thread.pendingEval = &pendingEval{baseDepth: depthOf(e.thread), immediate: val}
	return nil
}

func (e *evalHandle) CreateValue(typeName string) (*engine.Value, error) {
	return zeroValueOf(typeName), nil
}

// SetValue writes raw bytes into an already-allocated value (§4.4's
// CreateValue+SetValue pair for primitives). Decoding raw bytes into a typed
// scalar is the literal-construction logic's job (internal/eval); this
// reference implementation only validates the target exists.
func (e *evalHandle) SetValue(target *engine.Value, raw []byte) error {
	if target == nil {
		return fmt.Errorf("refengine: SetValue on nil target")
	}
	return nil
}

func (e *evalHandle) Abort() error {
	e.thread.pendingEval = nil
	return nil
}

func depthOf(t *thread) int {
	if t.vm == nil {
		return 0
	}
	return t.vm.depth()
}

func (p *Process) lookupType(name string) *engine.TypeDef {
	if p.program == nil {
		return nil
	}
	return p.program.Types[name]
}

func zeroValueOf(typeName string) *engine.Value {
	switch typeName {
	case "int", "long", "short", "byte", "sbyte", "uint", "ulong", "ushort":
		return &engine.Value{Kind: engine.KindInt, Type: typeName}
	case "float", "double":
		return &engine.Value{Kind: engine.KindFloat, Type: typeName}
	case "bool":
		return &engine.Value{Kind: engine.KindBool, Type: typeName}
	case "char":
		return &engine.Value{Kind: engine.KindChar, Type: typeName}
	case "decimal":
		return &engine.Value{Kind: engine.KindDecimal, Type: typeName}
	case "string":
		return &engine.Value{Kind: engine.KindString, Type: typeName}
	default:
		return &engine.Value{Kind: engine.KindNull, Type: typeName}
	}
}

var _ engine.Stepper = (*stepper)(nil)
var _ engine.Eval = (*evalHandle)(nil)
