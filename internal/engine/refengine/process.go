package refengine

import (
	"fmt"
	"sync"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
)

type pendingEval struct {
	baseDepth int
	immediate *engine.Value // set for evals that complete without executing bytecode
}

type stepState struct {
	mode       string // "into", "over", "out", or "" (no stepper armed)
	startDepth int
	rangeStart engine.ILOffset
	rangeEnd   engine.ILOffset
	jmc        bool
}

// thread is the reference-engine view of a managed thread. Only the main
// thread actually executes bytecode; additional threads registered via
// Process.SimulateCreateThread exist for thread-list and eval-queue tests.
type thread struct {
	id  engine.ThreadID
	vm  *vm // nil for non-executing threads
	proc *Process

	exception *engine.Value
	optimized, gcUnsafe, stackOverflow, crossDomain, nonIL bool

	stepper     *stepState
	pendingEval *pendingEval
	running     bool
}

func (t *thread) ID() engine.ThreadID { return t.id }

func (t *thread) CurrentException() *engine.Value { return t.exception }

func (t *thread) IsAtOptimizedCode() bool { return t.optimized }
func (t *thread) IsGCUnsafe() bool        { return t.gcUnsafe }
func (t *thread) IsInStackOverflow() bool { return t.stackOverflow }
func (t *thread) IsCrossAppDomain() bool  { return t.crossDomain }
func (t *thread) IsNonILFrame() bool      { return t.nonIL }

// Walk yields this thread's raw frame sequence. Real engines interleave
// internal marker frames and native gaps (§4.2); the reference engine's
// synthetic call stack is pure-managed, so it yields FrameManaged entries
// only.
func (t *thread) Walk(cb func(engine.RawFrame) bool) {
	if t.vm == nil {
		return
	}
	for i := len(t.vm.calls) - 1; i >= 0; i-- {
		cf := t.vm.calls[i]
		f := &frame{thread: t, cf: cf}
		rf := engine.RawFrame{
			Kind:         engine.FrameManaged,
			AddressStart: uint64(i + 1),
			AddressEnd:   uint64(i + 2),
			Managed:      f,
		}
		if !cb(rf) {
			return
		}
	}
}

// frame implements engine.Frame over one VM call frame.
type frame struct {
	thread *thread
	cf     *callFrame
}

func (f *frame) Thread() engine.ThreadID   { return f.thread.id }
func (f *frame) Module() engine.ModuleBase { return f.cf.moduleBase }
func (f *frame) Function() *engine.MethodDef { return f.cf.method.Def }
func (f *frame) ILOffset() engine.ILOffset { return engine.ILOffset(f.cf.pc) }
func (f *frame) StackAddress() uint64      { return uint64(f.cf.stackBase) }
func (f *frame) This() *engine.Value       { return f.cf.this }

func (f *frame) LocalValue(index int) (*engine.Value, bool) {
	if index < 0 || index >= len(f.cf.locals) || f.cf.locals[index] == nil {
		return nil, false
	}
	return f.cf.locals[index], true
}

func (f *frame) SetLocalValue(index int, v *engine.Value) error {
	if index < 0 {
		return fmt.Errorf("refengine: negative local index")
	}
	for len(f.cf.locals) <= index {
		f.cf.locals = append(f.cf.locals, nil)
	}
	f.cf.locals[index] = v
	return nil
}

// nativeBreakpoint implements engine.NativeBreakpoint.
type nativeBreakpoint struct {
	proc       *Process
	moduleBase engine.ModuleBase
	methodTok  engine.MethodToken
	ilOffset   engine.ILOffset
	enabled    bool
}

func (b *nativeBreakpoint) Activate(enable bool) error { b.enabled = enable; return nil }
func (b *nativeBreakpoint) Module() engine.ModuleBase    { return b.moduleBase }
func (b *nativeBreakpoint) Function() engine.MethodToken { return b.methodTok }
func (b *nativeBreakpoint) ILOffset() engine.ILOffset    { return b.ilOffset }
func (b *nativeBreakpoint) Release() {
	b.proc.mu.Lock()
	defer b.proc.mu.Unlock()
	for i, x := range b.proc.breakpoints {
		if x == b {
			b.proc.breakpoints = append(b.proc.breakpoints[:i], b.proc.breakpoints[i+1:]...)
			return
		}
	}
}

// Process is the reference engine's Process implementation.
type Process struct {
	mu sync.Mutex

	program    *Program
	moduleBase engine.ModuleBase
	mainPath   string

	threads map[engine.ThreadID]*thread
	main    *thread

	modules     []*engine.NativeModule
	breakpoints []*nativeBreakpoint

	callbacks chan engine.CallbackEvent
	resumeCh  chan struct{}
	started   bool
	exited    bool

	customNotifications map[string]bool
}

// New creates a reference Process. Launch/Attach populate it with a program.
func New() *Process {
	return &Process{
		threads:              make(map[engine.ThreadID]*thread),
		callbacks:            make(chan engine.CallbackEvent, 64),
		resumeCh:             make(chan struct{}, 1),
		customNotifications:  make(map[string]bool),
	}
}

// LoadProgram installs the given program as the process's main module,
// reachable at moduleBase, and creates the main executing thread.
func (p *Process) LoadProgram(prog *Program, base engine.ModuleBase, mod *engine.NativeModule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.program = prog
	p.moduleBase = base
	p.modules = append(p.modules, mod)
	p.main = &thread{id: 1, proc: p, vm: newVM(prog, base), running: true}
	p.main.vm.moduleBase = base
	p.threads[1] = p.main
}

func (p *Process) Launch(exec string, args []string) error {
	p.mu.Lock()
	p.mainPath = exec
	p.started = true
	p.mu.Unlock()
	if p.program != nil && p.program.EntryToken != 0 {
		if err := p.main.vm.enter(p.program.EntryToken, nil); err != nil {
			return err
		}
	}
	go p.runLoop()
	p.emit(engine.CallbackEvent{Kind: engine.CbCreateProcess, ThreadID: p.main.id})
	return nil
}

func (p *Process) Attach(pid int) error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	go p.runLoop()
	p.emit(engine.CallbackEvent{Kind: engine.CbCreateProcess, ThreadID: p.main.id})
	return nil
}

func (p *Process) Detach() error { return nil }

func (p *Process) Terminate() error {
	p.mu.Lock()
	already := p.exited
	p.exited = true
	p.mu.Unlock()
	if !already {
		p.emit(engine.CallbackEvent{Kind: engine.CbExitProcess})
	}
	return nil
}

func (p *Process) Continue() error {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return fmt.Errorf("refengine: process has exited")
	}
	p.mu.Unlock()
	select {
	case p.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

func (p *Process) Stop() error {
	p.emit(engine.CallbackEvent{Kind: engine.CbBreak, ThreadID: p.main.id})
	return nil
}

func (p *Process) Threads() []engine.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]engine.Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	return out
}

func (p *Process) Thread(id engine.ThreadID) (engine.Thread, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[id]
	return t, ok
}

func (p *Process) Modules() []*engine.NativeModule { return p.modules }
func (p *Process) MainModulePath() string          { return p.mainPath }

func (p *Process) CreateStepper(t engine.Thread) engine.Stepper {
	th := t.(*thread)
	return &stepper{thread: th}
}

func (p *Process) CreateEval(t engine.Thread) engine.Eval {
	th := t.(*thread)
	return &evalHandle{thread: th, proc: p}
}

func (p *Process) SetThreadStates(running engine.ThreadID, allRunning bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.threads {
		t.running = allRunning || id == running
	}
}

func (p *Process) SetEnableCustomNotification(typeName string, enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customNotifications[typeName] = enable
}

func (p *Process) InterceptCurrentException(t engine.Thread) error {
	th := t.(*thread)
	th.exception = nil
	return nil
}

func (p *Process) Callbacks() <-chan engine.CallbackEvent { return p.callbacks }

func (p *Process) emit(ev engine.CallbackEvent) { p.callbacks <- ev }

// SimulateCreateThread registers a non-executing thread (for thread-list and
// eval-queue tests) and emits the corresponding callback.
func (p *Process) SimulateCreateThread(id engine.ThreadID) {
	p.mu.Lock()
	p.threads[id] = &thread{id: id, proc: p, running: true}
	p.mu.Unlock()
	p.emit(engine.CallbackEvent{Kind: engine.CbCreateThread, ThreadID: id})
}

// SimulateExitThread removes a thread and emits ExitThread.
func (p *Process) SimulateExitThread(id engine.ThreadID) {
	p.mu.Lock()
	delete(p.threads, id)
	p.mu.Unlock()
	p.emit(engine.CallbackEvent{Kind: engine.CbExitThread, ThreadID: id})
}

// SimulateMarkEvalGate sets the flags a function-eval's mandatory-failure
// checks read (§4.4), for exercising each failure path without needing the
// VM to actually reach one of those states.
func (p *Process) SimulateMarkEvalGate(id engine.ThreadID, optimized, gcUnsafe, stackOverflow, crossDomain, nonIL bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[id]
	if !ok {
		return
	}
	t.optimized, t.gcUnsafe, t.stackOverflow, t.crossDomain, t.nonIL = optimized, gcUnsafe, stackOverflow, crossDomain, nonIL
}

// SimulateLoadModule emits LoadModule for an additional module (beyond the
// one installed by LoadProgram), e.g. to exercise breakpoint re-resolution.
func (p *Process) SimulateLoadModule(mod *engine.NativeModule) {
	p.mu.Lock()
	p.modules = append(p.modules, mod)
	p.mu.Unlock()
	p.emit(engine.CallbackEvent{Kind: engine.CbLoadModule, Module: mod})
}

// SimulateThrow raises an exception on the given thread and emits Exception
// at the requested stage.
func (p *Process) SimulateThrow(id engine.ThreadID, val *engine.Value, stage engine.ExceptionStage) {
	p.mu.Lock()
	t := p.threads[id]
	if t != nil {
		t.exception = val
	}
	p.mu.Unlock()
	p.emit(engine.CallbackEvent{Kind: engine.CbException, ThreadID: id, ExceptionValue: val, ExceptionStage: stage})
}

// SimulateCustomNotification emits CustomNotification for the given thread.
func (p *Process) SimulateCustomNotification(id engine.ThreadID, typeName string) {
	p.emit(engine.CallbackEvent{Kind: engine.CbCustomNotification, ThreadID: id, CustomNotificationType: typeName})
}

// CreateBreakpoint installs a native offset breakpoint, as
// internal/breakpoints' resolution step would via the engine's
// function/IL-code APIs.
func (p *Process) CreateBreakpoint(module engine.ModuleBase, tok engine.MethodToken, off engine.ILOffset) engine.NativeBreakpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	bp := &nativeBreakpoint{proc: p, moduleBase: module, methodTok: tok, ilOffset: off, enabled: true}
	p.breakpoints = append(p.breakpoints, bp)
	return bp
}

// runLoop is the main thread's single execution goroutine: it blocks on
// resumeCh (i.e. Continue()) and then runs bytecode until a pause condition
// (breakpoint, step-complete, exception, or process exit) fires, emitting
// exactly one callback per pause — matching the "engine fires callbacks on
// threads it owns" model in §5.
func (p *Process) runLoop() {
	for range p.resumeCh {
		p.runUntilPause()
	}
}

func (p *Process) runUntilPause() {
	t := p.main
	if t == nil || t.vm == nil {
		return
	}

	if t.pendingEval != nil && t.pendingEval.immediate != nil {
		val := t.pendingEval.immediate
		t.pendingEval = nil
		p.emit(engine.CallbackEvent{Kind: engine.CbEvalComplete, ThreadID: t.id, EvalResult: val})
		return
	}

	for {
		if t.vm.halted {
			p.mu.Lock()
			already := p.exited
			p.exited = true
			p.mu.Unlock()
			if !already {
				p.emit(engine.CallbackEvent{Kind: engine.CbExitProcess})
			}
			return
		}

		if p.checkBreakpoint(t) {
			return
		}

		beforeDepth := t.vm.depth()

		if err := t.vm.step(); err != nil {
			excVal := &engine.Value{Kind: engine.KindObject, Type: "System.Exception", Str: err.Error()}
			t.exception = excVal
			p.emit(engine.CallbackEvent{Kind: engine.CbException, ThreadID: t.id, ExceptionValue: excVal, ExceptionStage: engine.ExceptionUnhandled})
			return
		}

		if t.pendingEval != nil && t.vm.depth() <= t.pendingEval.baseDepth {
			var result *engine.Value
			if len(t.vm.stack) > 0 {
				result, _ = t.vm.pop()
			}
			t.pendingEval = nil
			p.emit(engine.CallbackEvent{Kind: engine.CbEvalComplete, ThreadID: t.id, EvalResult: result})
			return
		}

		if t.vm.halted {
			continue
		}

		if p.checkStepComplete(t, beforeDepth) {
			return
		}
	}
}

func (p *Process) checkBreakpoint(t *thread) bool {
	p.mu.Lock()
	tok := t.vm.currentToken()
	il := t.vm.currentIL()
	base := t.vm.moduleBase
	var hit *nativeBreakpoint
	for _, bp := range p.breakpoints {
		if bp.enabled && bp.methodTok == tok && bp.ilOffset == il && bp.moduleBase == base {
			hit = bp
			break
		}
	}
	p.mu.Unlock()
	if hit == nil {
		return false
	}
	p.emit(engine.CallbackEvent{Kind: engine.CbBreakpoint, ThreadID: t.id, Breakpoint: hit})
	return true
}

func (p *Process) checkStepComplete(t *thread, beforeDepth int) bool {
	s := t.stepper
	if s == nil || s.mode == "" {
		return false
	}
	depth := t.vm.depth()
	switch s.mode {
	case "into":
		if depth > beforeDepth {
			s.mode = ""
			p.emit(engine.CallbackEvent{Kind: engine.CbStepComplete, ThreadID: t.id})
			return true
		}
		if depth < s.startDepth {
			s.mode = ""
			p.emit(engine.CallbackEvent{Kind: engine.CbStepComplete, ThreadID: t.id})
			return true
		}
		if il := t.vm.currentIL(); depth == s.startDepth && (il < s.rangeStart || il >= s.rangeEnd) {
			s.mode = ""
			p.emit(engine.CallbackEvent{Kind: engine.CbStepComplete, ThreadID: t.id})
			return true
		}
	case "over":
		if depth > s.startDepth {
			return false
		}
		if depth < s.startDepth {
			s.mode = ""
			p.emit(engine.CallbackEvent{Kind: engine.CbStepComplete, ThreadID: t.id})
			return true
		}
		if il := t.vm.currentIL(); il < s.rangeStart || il >= s.rangeEnd {
			s.mode = ""
			p.emit(engine.CallbackEvent{Kind: engine.CbStepComplete, ThreadID: t.id})
			return true
		}
	case "out":
		if depth < s.startDepth {
			s.mode = ""
			p.emit(engine.CallbackEvent{Kind: engine.CbStepComplete, ThreadID: t.id})
			return true
		}
	}
	return false
}

var _ engine.Process = (*Process)(nil)
var _ engine.Thread = (*thread)(nil)
var _ engine.Frame = (*frame)(nil)
