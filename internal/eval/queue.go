// Package eval implements the function-eval queue and expression evaluator
// described in spec.md §4.4: a FIFO queue of pending evals with one
// single-use promise per thread, the seven-step eval procedure, the
// expression grammar and six-step name resolution algorithm, member
// walking, and literal construction (including Decimal encode/decode).
//
// Grounded on spec.md §4.4 throughout, on original_source's evalwaiter.cpp
// for the queue/promise shape (I1-I3), and on original_source's
// evalhelpers.cpp for name resolution and WalkMembers. The teacher's
// pkg/debug worker-loop-plus-channel pattern supplies the concurrency idiom
// (one mutex-guarded queue, a channel-backed rendezvous per waiter).
package eval

import (
	"sync"
	"time"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/errors"
	"github.com/Samsung/netcoredbg-sub001/internal/logging"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
	"github.com/Samsung/netcoredbg-sub001/internal/telemetry"
)

// outcome is what a pending eval resolves to: a value on success, or an
// error built from errors.EvalFailure on any of §4.4's failure paths.
type outcome struct {
	value *engine.Value
	err   error
}

// pendingEval is one thread's in-flight eval: the engine-side handle (so a
// cross-thread-dependency abort can call Abort on it) and the single-use
// channel its caller blocks on.
type pendingEval struct {
	thread engine.ThreadID
	native engine.Eval
	issue  func(engine.Eval) error
	result chan outcome
}

// Evaluator owns the eval queue (I1-I3) plus the expression-resolution
// logic that runs without ever touching the engine (locals, fields,
// already-materialized statics).
type Evaluator struct {
	mu sync.Mutex // the concurrency model's evalMutex

	queue   []engine.ThreadID
	pending map[engine.ThreadID]*pendingEval

	noFuncEval bool // EVAL_NOFUNCEVAL: property/constructor calls return null

	process engine.Process
	mods    *modules.Registry
	log     *logging.Scoped
	metrics *telemetry.Metrics
}

// New creates an Evaluator bound to process for issuing reentrant calls and
// mods for metadata/type lookup.
func New(process engine.Process, mods *modules.Registry, log *logging.Scoped, metrics *telemetry.Metrics) *Evaluator {
	return &Evaluator{
		pending: make(map[engine.ThreadID]*pendingEval),
		process: process,
		mods:    mods,
		log:     log,
		metrics: metrics,
	}
}

// SetNoFuncEval toggles EVAL_NOFUNCEVAL: while set, property getters and
// constructor calls resolve to null without contacting the engine.
func (e *Evaluator) SetNoFuncEval(v bool) {
	e.mu.Lock()
	e.noFuncEval = v
	e.mu.Unlock()
}

func (e *Evaluator) noFuncEvalLocked() bool {
	return e.noFuncEval
}

// Pending reports whether any eval is queued or in flight, the check the
// debugger controller's Continue uses to decide whether resuming the engine
// is its own responsibility or already owned by the eval queue (§4.6).
func (e *Evaluator) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) > 0 || len(e.pending) > 0
}

// PendingFor reports whether tid specifically has an eval queued or running,
// the per-thread check the Exception callback handler uses (§4.6: "if an
// eval is running for this thread, continue").
func (e *Evaluator) PendingFor(tid engine.ThreadID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[tid]
	return ok
}

// mandatoryFailure checks §4.4's five mandatory failure cases that abort an
// eval attempt before it is ever queued.
func mandatoryFailure(thread engine.Thread) error {
	switch {
	case thread.IsAtOptimizedCode():
		return errors.EvalFailure("Eval", errors.EvalOptimizedCode, "optimized frame on the call stack")
	case thread.IsGCUnsafe():
		return errors.EvalFailure("Eval", errors.EvalGCUnsafePoint, "thread stopped at a GC-unsafe point")
	case thread.IsInStackOverflow():
		return errors.EvalFailure("Eval", errors.EvalStackOverflow, "thread is in a stack-overflow state")
	case thread.IsCrossAppDomain():
		return errors.EvalFailure("Eval", errors.EvalAppDomainMismatch, "target function lives in a different app domain")
	case thread.IsNonILFrame():
		return errors.EvalFailure("Eval", errors.EvalFunctionNotIL, "starting frame has no IL body")
	}
	return nil
}

// queueEval drives the seven-step eval procedure: create the engine eval
// object, push (threadID, promise), suspend every other thread, issue the
// call, Continue, and block for the matching Complete/abort. issue is
// called with the freshly created engine.Eval once this thread reaches the
// head of the queue (immediately, if the queue was empty).
func (e *Evaluator) queueEval(thread engine.Thread, issue func(engine.Eval) error) (*engine.Value, error) {
	if err := mandatoryFailure(thread); err != nil {
		return nil, err
	}

	tid := thread.ID()
	started := time.Now()

	e.mu.Lock()
	if _, busy := e.pending[tid]; busy {
		e.mu.Unlock()
		return nil, errors.EvalFailure("Eval", errors.EvalBadStartingPoint, "a pending eval already exists for this thread")
	}
	pe := &pendingEval{thread: tid, issue: issue, result: make(chan outcome, 1)}
	e.pending[tid] = pe
	e.queue = append(e.queue, tid)
	isHead := e.queue[0] == tid
	e.mu.Unlock()

	if isHead {
		e.startHead(thread, pe)
	}

	out := <-pe.result
	if e.metrics != nil {
		label := "ok"
		if out.err != nil {
			label = "error"
		}
		e.metrics.RecordEval(label, time.Since(started))
	}
	return out.value, out.err
}

// startHead issues pe's call against the engine and resumes the debuggee
// with every thread but tid suspended, per I2: "the engine is continued for
// an eval only when that eval's thread is at the head of the queue."
func (e *Evaluator) startHead(thread engine.Thread, pe *pendingEval) {
	ev := e.process.CreateEval(thread)
	pe.native = ev
	if err := pe.issue(ev); err != nil {
		e.Complete(pe.thread, nil, errors.Wrap("Eval", errors.EngineError, "issuing eval failed", err))
		return
	}
	e.process.SetThreadStates(pe.thread, false)
	e.process.Continue()
}

// Complete is invoked by the debugger's callback dispatch on an
// EvalComplete/EvalException callback for tid. It implements I3: the head
// pops, its promise resolves, and the new head (if any) starts its turn;
// if the queue is now empty every thread resumes.
func (e *Evaluator) Complete(tid engine.ThreadID, value *engine.Value, evalErr error) {
	e.mu.Lock()
	pe := e.pending[tid]
	delete(e.pending, tid)
	e.removeFromQueueLocked(tid)

	var nextTid engine.ThreadID
	var nextPe *pendingEval
	haveNext := false
	if len(e.queue) > 0 {
		nextTid = e.queue[0]
		nextPe = e.pending[nextTid]
		haveNext = true
	}
	e.mu.Unlock()

	if pe != nil {
		pe.result <- outcome{value: value, err: evalErr}
	}

	if haveNext && nextPe != nil {
		if nextThread, ok := e.process.Thread(nextTid); ok {
			e.startHead(nextThread, nextPe)
			return
		}
		// The next thread in line no longer exists (it exited while
		// queued): fail its eval and keep draining.
		e.Complete(nextTid, nil, errors.EvalFailure("Eval", errors.EvalAborted, "thread exited while queued for eval"))
		return
	}

	if !haveNext {
		e.process.SetThreadStates(0, true)
	}
}

// AbortCrossThreadDependency implements §4.4's "abort on cross-thread
// dependency" rule: a pending eval that would require a second thread to
// run (e.g. that thread is itself blocked waiting on tid) is aborted rather
// than left to deadlock the queue.
func (e *Evaluator) AbortCrossThreadDependency(tid engine.ThreadID) {
	e.mu.Lock()
	pe := e.pending[tid]
	e.mu.Unlock()
	if pe == nil {
		return
	}
	if pe.native != nil {
		pe.native.Abort()
	}
	e.Complete(tid, nil, errors.EvalFailure("Eval", errors.EvalAborted, "cross-thread dependency"))
}

// ThreadExited completes and removes any eval queued or pending for tid
// (a CreateThread/ExitThread bookkeeping hook).
func (e *Evaluator) ThreadExited(tid engine.ThreadID) {
	e.mu.Lock()
	_, has := e.pending[tid]
	e.mu.Unlock()
	if has {
		e.Complete(tid, nil, errors.EvalFailure("Eval", errors.EvalAborted, "thread exited"))
	}
}

// Shutdown implements §4.4's "cleanup on process exit": every pending
// promise completes with failure and the queue empties.
func (e *Evaluator) Shutdown() {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[engine.ThreadID]*pendingEval)
	e.queue = nil
	e.mu.Unlock()

	for _, pe := range pending {
		pe.result <- outcome{err: errors.EvalFailure("Eval", errors.EvalAborted, "process exited")}
	}
}

func (e *Evaluator) removeFromQueueLocked(tid engine.ThreadID) {
	for i, t := range e.queue {
		if t == tid {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// CallFunction runs a full reentrant function-eval of (module, tok) with
// args on thread, blocking until the call completes or fails.
func (e *Evaluator) CallFunction(thread engine.Thread, module engine.ModuleBase, tok engine.MethodToken, args []*engine.Value) (*engine.Value, error) {
	return e.queueEval(thread, func(ev engine.Eval) error {
		return ev.CallFunction(tok, module, args)
	})
}

// Construct runs EvalObjectNoConstructor for typeName on thread. When
// EVAL_NOFUNCEVAL is set this returns null immediately without contacting
// the engine, matching §4.4's "constructor calls return null" rule.
func (e *Evaluator) Construct(thread engine.Thread, typeName string) (*engine.Value, error) {
	e.mu.Lock()
	disabled := e.noFuncEvalLocked()
	e.mu.Unlock()
	if disabled {
		return &engine.Value{Kind: engine.KindNull, Type: typeName}, nil
	}
	return e.queueEval(thread, func(ev engine.Eval) error {
		return ev.NewObjectNoConstructor(typeName)
	})
}

// CallGetter invokes a property getter via function-eval, or returns null
// without engine contact when EVAL_NOFUNCEVAL is set.
func (e *Evaluator) CallGetter(thread engine.Thread, module engine.ModuleBase, getter engine.MethodToken, receiver *engine.Value, typeName string) (*engine.Value, error) {
	e.mu.Lock()
	disabled := e.noFuncEvalLocked()
	e.mu.Unlock()
	if disabled {
		return &engine.Value{Kind: engine.KindNull, Type: typeName}, nil
	}
	var args []*engine.Value
	if receiver != nil {
		args = []*engine.Value{receiver}
	}
	return e.CallFunction(thread, module, getter, args)
}
