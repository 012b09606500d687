package refengine

import (
	"fmt"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
)

// Instr is one bytecode instruction in a Method's code stream.
type Instr struct {
	Op      Opcode
	Operand int32
	Argc    int32 // only meaningful for OpCall
}

// Method is one method's executable body plus its debug-info shadow
// (sequence points, locals), mirroring the split between a method's IL and
// its PDB entry in the real engine.
type Method struct {
	Def  *engine.MethodDef
	Code []Instr
}

// Program is a whole loaded module's worth of methods, addressed by token.
type Program struct {
	Methods map[engine.MethodToken]*Method
	Types   map[string]*engine.TypeDef
	// ClassInitialized tracks which types have had their static constructor
	// run, per §4.4 "Class-constructor forcing".
	ClassInitialized map[string]bool
	// EntryToken, when non-zero, is the discovered managed entry point.
	EntryToken engine.MethodToken
}

// NewProgram creates an empty program ready to have methods registered.
func NewProgram() *Program {
	return &Program{
		Methods:          make(map[engine.MethodToken]*Method),
		Types:            make(map[string]*engine.TypeDef),
		ClassInitialized: make(map[string]bool),
	}
}

// callFrame is one activation record on the VM's call stack.
type callFrame struct {
	method    *Method
	moduleBase engine.ModuleBase
	pc        int
	locals    []*engine.Value
	stackBase int // value-stack depth when this frame was entered
	this      *engine.Value
}

// vm executes one thread's bytecode tape against a shared value stack.
type vm struct {
	program    *Program
	moduleBase engine.ModuleBase
	stack      []*engine.Value
	calls      []*callFrame
	halted     bool
}

func newVM(p *Program, base engine.ModuleBase) *vm {
	return &vm{program: p}
}

func (v *vm) push(val *engine.Value) { v.stack = append(v.stack, val) }

func (v *vm) pop() (*engine.Value, error) {
	if len(v.stack) == 0 {
		return nil, fmt.Errorf("refengine: stack underflow")
	}
	n := len(v.stack) - 1
	val := v.stack[n]
	v.stack = v.stack[:n]
	return val, nil
}

func (v *vm) top() *callFrame {
	if len(v.calls) == 0 {
		return nil
	}
	return v.calls[len(v.calls)-1]
}

func intVal(n int64) *engine.Value { return &engine.Value{Kind: engine.KindInt, Type: "int", Int: n} }
func boolVal(b bool) *engine.Value { return &engine.Value{Kind: engine.KindBool, Type: "bool", Bool: b} }

func truthy(val *engine.Value) bool {
	if val == nil || val.Kind == engine.KindNull {
		return false
	}
	switch val.Kind {
	case engine.KindBool:
		return val.Bool
	case engine.KindInt:
		return val.Int != 0
	default:
		return true
	}
}

// step executes a single instruction in the topmost call frame. It returns
// an error if the instruction fails. When a call enters a new method a new
// callFrame is pushed; when the outermost frame returns, the vm halts.
func (v *vm) step() error {
	f := v.top()
	if f == nil || v.halted {
		v.halted = true
		return nil
	}
	if f.pc >= len(f.method.Code) {
		return fmt.Errorf("refengine: pc out of range in %s", f.method.Def.QualifiedName)
	}
	instr := f.method.Code[f.pc]
	f.pc++

	switch instr.Op {
	case OpPush:
		v.push(intVal(int64(instr.Operand)))
	case OpPop:
		if _, err := v.pop(); err != nil {
			return err
		}
	case OpAdd, OpSub, OpMul, OpEq, OpLt, OpGe:
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}
		v.push(binOp(instr.Op, a, b))
	case OpLoadVar:
		idx := int(instr.Operand)
		if idx < 0 || idx >= len(f.locals) || f.locals[idx] == nil {
			v.push(&engine.Value{Kind: engine.KindNull})
		} else {
			v.push(f.locals[idx])
		}
	case OpStoreVar:
		val, err := v.pop()
		if err != nil {
			return err
		}
		idx := int(instr.Operand)
		for len(f.locals) <= idx {
			f.locals = append(f.locals, nil)
		}
		f.locals[idx] = val
	case OpJump:
		f.pc = int(instr.Operand)
	case OpJumpIfFalse:
		val, err := v.pop()
		if err != nil {
			return err
		}
		if !truthy(val) {
			f.pc = int(instr.Operand)
		}
	case OpCall:
		return v.doCall(engine.MethodToken(instr.Operand), int(instr.Argc))
	case OpReturn:
		return v.doReturn()
	case OpHalt:
		v.halted = true
	default:
		return fmt.Errorf("refengine: unknown opcode 0x%02x", byte(instr.Op))
	}
	return nil
}

func binOp(op Opcode, a, b *engine.Value) *engine.Value {
	ai, bi := a.Int, b.Int
	switch op {
	case OpAdd:
		return intVal(ai + bi)
	case OpSub:
		return intVal(ai - bi)
	case OpMul:
		return intVal(ai * bi)
	case OpEq:
		return boolVal(ai == bi)
	case OpLt:
		return boolVal(ai < bi)
	case OpGe:
		return boolVal(ai >= bi)
	}
	return &engine.Value{Kind: engine.KindNull}
}

func (v *vm) doCall(tok engine.MethodToken, argc int) error {
	m, ok := v.program.Methods[tok]
	if !ok {
		return fmt.Errorf("refengine: unknown method token %d", tok)
	}
	args := make([]*engine.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		a, err := v.pop()
		if err != nil {
			return err
		}
		args[i] = a
	}
	nf := &callFrame{method: m, moduleBase: v.moduleBase, stackBase: len(v.stack)}
	if !m.Def.IsStatic && len(args) > 0 {
		nf.this = args[0]
		args = args[1:]
	}
	nf.locals = append(nf.locals, args...)
	v.calls = append(v.calls, nf)
	return nil
}

func (v *vm) doReturn() error {
	var retVal *engine.Value
	if f := v.top(); f != nil && len(v.stack) > f.stackBase {
		rv, err := v.pop()
		if err != nil {
			return err
		}
		retVal = rv
	}
	if len(v.calls) == 0 {
		return fmt.Errorf("refengine: return with empty call stack")
	}
	v.calls = v.calls[:len(v.calls)-1]
	if len(v.calls) == 0 {
		v.halted = true
		return nil
	}
	if retVal != nil {
		v.push(retVal)
	}
	return nil
}

// enter pushes the initial call frame for a fresh run (Launch/eval-call entry).
func (v *vm) enter(tok engine.MethodToken, args []*engine.Value) error {
	m, ok := v.program.Methods[tok]
	if !ok {
		return fmt.Errorf("refengine: unknown method token %d", tok)
	}
	nf := &callFrame{method: m, moduleBase: v.moduleBase, stackBase: len(v.stack)}
	if !m.Def.IsStatic && len(args) > 0 {
		nf.this = args[0]
		args = args[1:]
	}
	nf.locals = append(nf.locals, args...)
	v.calls = append(v.calls, nf)
	return nil
}

func (v *vm) currentIL() engine.ILOffset {
	f := v.top()
	if f == nil {
		return 0
	}
	return engine.ILOffset(f.pc)
}

func (v *vm) currentToken() engine.MethodToken {
	f := v.top()
	if f == nil {
		return 0
	}
	return f.method.Def.Token
}

func (v *vm) depth() int { return len(v.calls) }

// callDirect pushes a new call frame with args supplied directly (not popped
// from the value stack), used by function-eval (§4.4 step 4 "issue the
// call"), which hands the engine already-resolved argument values.
func (v *vm) callDirect(tok engine.MethodToken, args []*engine.Value) error {
	m, ok := v.program.Methods[tok]
	if !ok {
		return fmt.Errorf("refengine: unknown method token %d", tok)
	}
	nf := &callFrame{method: m, moduleBase: v.moduleBase, stackBase: len(v.stack)}
	rest := args
	if !m.Def.IsStatic && len(rest) > 0 {
		nf.this = rest[0]
		rest = rest[1:]
	}
	nf.locals = append(nf.locals, rest...)
	v.calls = append(v.calls, nf)
	v.halted = false
	return nil
}
