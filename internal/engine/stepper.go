package engine

// InterceptMask controls which runtime event categories a stepper
// intercepts while active; §4.6 sets "ALL except SECURITY and CLASS_INIT".
type InterceptMask uint32

const (
	InterceptNone        InterceptMask = 0
	InterceptAll         InterceptMask = 1 << iota
	InterceptSecurity
	InterceptClassInit
)

// AllExceptSecurityAndClassInit is the mask §4.6 "Step setup" always uses.
func AllExceptSecurityAndClassInit() InterceptMask {
	return InterceptAll &^ (InterceptSecurity | InterceptClassInit)
}

// UnmappedStopMask controls whether a stepper stops on unmapped (no
// sequence-point) IL; §4.6 always sets NONE.
type UnmappedStopMask uint32

const UnmappedStopNone UnmappedStopMask = 0

// Stepper drives one ICorDebugStepper-equivalent.
type Stepper interface {
	SetInterceptMask(mask InterceptMask)
	SetUnmappedStopMask(mask UnmappedStopMask)
	SetJMC(enabled bool)
	StepRange(stepIn bool, start, end ILOffset) error
	Step(stepIn bool) error
	StepOut() error
	Disable()
}

// Eval drives one reentrant function-eval or object-construction call inside
// the debuggee, per §4.4.
type Eval interface {
	CallFunction(tok MethodToken, module ModuleBase, args []*Value) error
	NewObjectNoConstructor(typeName string) error
	NewStringWithLength(s string, length int) error
	NewParameterizedArray(elemType string, length int) error
	CreateValue(typeName string) (*Value, error)
	SetValue(target *Value, raw []byte) error
	Abort() error
}
