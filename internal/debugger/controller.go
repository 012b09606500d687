// Package debugger implements the debugger controller described in
// spec.md §4.6: the lifecycle state machine, the stop counter, step setup,
// and the managed-callback dispatch loop tying internal/modules,
// internal/frames, internal/breakpoints, internal/eval and
// internal/variables together into the one component a protocol adapter
// drives.
//
// Grounded on spec.md §4.6 and §5 throughout. The callback-dispatch loop
// follows the design note in §9 ("model the callback set as a single tagged
// enum delivered over a channel, dispatched in a worker-loop") and the
// teacher's pkg/debug step-mode/call-stack bookkeeping, generalized from a
// bytecode VM's PC-based stepping to IL-range stepping over real stack
// frames.
package debugger

import (
	"sync"
	"sync/atomic"

	"github.com/Samsung/netcoredbg-sub001/internal/breakpoints"
	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/errors"
	"github.com/Samsung/netcoredbg-sub001/internal/eval"
	"github.com/Samsung/netcoredbg-sub001/internal/frames"
	"github.com/Samsung/netcoredbg-sub001/internal/launchconfig"
	"github.com/Samsung/netcoredbg-sub001/internal/logging"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
	"github.com/Samsung/netcoredbg-sub001/internal/telemetry"
	"github.com/Samsung/netcoredbg-sub001/internal/variables"
)

// State is one point in the controller's lifecycle.
type State int

const (
	StateUnattached State = iota
	StateAttachedRunning
	StateStopped
	StateExited
)

func (s State) String() string {
	switch s {
	case StateUnattached:
		return "Unattached"
	case StateAttachedRunning:
		return "AttachedRunning"
	case StateStopped:
		return "Stopped"
	case StateExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// DisconnectAction selects Disconnect's teardown behavior.
type DisconnectAction int

const (
	DisconnectDefault DisconnectAction = iota
	DisconnectDetach
	DisconnectTerminate
)

// Controller is the debugger's central orchestrator: one per debuggee
// process.
type Controller struct {
	cfg launchconfig.Config
	log *logging.Scoped

	process engine.Process
	mods    *modules.Registry
	bps     *breakpoints.Manager
	walker  *frames.Walker
	ev      *eval.Evaluator
	vars    *variables.Registry

	events chan Event

	stateMu sync.Mutex
	state   State

	stopCounter int64 // the concurrency model's stopCounterMutex, kept atomic

	lastStoppedMu     sync.Mutex
	lastStoppedThread engine.ThreadID

	unhandledMu  sync.Mutex
	unhandled    map[engine.ThreadID]bool

	steppersMu sync.Mutex
	steppers   map[engine.ThreadID]engine.Stepper

	jmcMu sync.Mutex
	jmc   bool

	configDone bool
}

// New builds a Controller bound to the given engine process and the
// component set it orchestrates. The callback dispatch loop is started
// immediately so LoadModule/CreateProcess events arriving before
// ConfigurationDone are not lost.
func New(process engine.Process, mods *modules.Registry, bps *breakpoints.Manager, ev *eval.Evaluator, vars *variables.Registry, cfg launchconfig.Config, log *logging.Scoped, metrics *telemetry.Metrics) *Controller {
	c := &Controller{
		cfg:       cfg,
		log:       log,
		process:   process,
		mods:      mods,
		bps:       bps,
		walker:    frames.New(),
		ev:        ev,
		vars:      vars,
		events:    make(chan Event, 256),
		state:     StateUnattached,
		unhandled: make(map[engine.ThreadID]bool),
		steppers:  make(map[engine.ThreadID]engine.Stepper),
		jmc:       cfg.JustMyCode,
	}
	go c.dispatchLoop()
	return c
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Controller) requireState(op string, want State) error {
	if got := c.State(); got != want {
		return errors.New(op, errors.InvalidState, "controller is "+got.String()+", expected "+want.String())
	}
	return nil
}

// Launch spawns exec via the native shim, per §4.6.
func (c *Controller) Launch(exec string, args []string) error {
	if err := c.requireState("Launch", StateUnattached); err != nil {
		return err
	}
	if err := c.process.Launch(exec, args); err != nil {
		return errors.Wrap("Launch", errors.EngineError, "launch failed", err)
	}
	c.setState(StateAttachedRunning)
	c.emit(Event{Kind: EventInitialized})
	return nil
}

// Attach attaches to an already-running process by pid, per §4.6.
func (c *Controller) Attach(pid int) error {
	if err := c.requireState("Attach", StateUnattached); err != nil {
		return err
	}
	c.mods.SetDebuggeePID(pid)
	if err := c.process.Attach(pid); err != nil {
		return errors.Wrap("Attach", errors.EngineError, "attach failed", err)
	}
	c.setState(StateAttachedRunning)
	c.emit(Event{Kind: EventInitialized})
	return nil
}

// ConfigurationDone records that the client has finished its configuration
// requests; it is accepted only in the AttachedRunning state. It does not
// hold back execution: Launch and Attach already let the debuggee run, so
// a breakpoint or exception filter set after Launch/Attach is not
// guaranteed to be in place for the first callbacks.
func (c *Controller) ConfigurationDone() error {
	if err := c.requireState("ConfigurationDone", StateAttachedRunning); err != nil {
		return err
	}
	c.configDone = true
	return nil
}

// Disconnect performs orderly teardown: stop the process, disable every
// breakpoint and stepper, then either detach or terminate, per §4.6.
func (c *Controller) Disconnect(action DisconnectAction) error {
	state := c.State()
	if state == StateUnattached || state == StateExited {
		return nil
	}

	c.process.Stop()

	c.bps.DisableAll()

	c.steppersMu.Lock()
	for tid, st := range c.steppers {
		st.Disable()
		delete(c.steppers, tid)
	}
	c.steppersMu.Unlock()

	c.ev.Shutdown()

	var err error
	switch action {
	case DisconnectTerminate:
		err = c.process.Terminate()
	default:
		err = c.process.Detach()
	}

	c.setState(StateExited)
	if err != nil {
		return errors.Wrap("Disconnect", errors.EngineError, "teardown failed", err)
	}
	return nil
}

// incrementStopCounter records that the process is paused for one more
// reason; callers that actually stop the engine use this before emitting a
// Stopped event, per §5's "stopCounter ≥ 0" invariant.
func (c *Controller) incrementStopCounter() {
	atomic.AddInt64(&c.stopCounter, 1)
	c.setState(StateStopped)
}

// Continue resumes thread's worth of stop-counter debt. It emits a
// Continued event unconditionally, but only actually resumes the engine
// when no eval is queued or in flight, per §4.6: an in-flight eval already
// owns engine continuation and will resume every thread itself on
// completion (eval.Evaluator.Complete).
func (c *Controller) Continue() error {
	if c.State() != StateStopped {
		return errors.New("Continue", errors.InvalidState, "process is not stopped")
	}
	n := atomic.AddInt64(&c.stopCounter, -1)
	if n < 0 {
		atomic.StoreInt64(&c.stopCounter, 0)
		n = 0
	}
	c.emit(Event{Kind: EventContinued})
	if n == 0 {
		c.setState(StateAttachedRunning)
		if !c.ev.Pending() {
			if err := c.process.Continue(); err != nil {
				return errors.Wrap("Continue", errors.EngineError, "resume failed", err)
			}
		}
	}
	return nil
}

// Pause issues an engine Stop for ThreadId.All; a no-op if already stopped.
// On success it locates the first thread whose current frame has a valid
// source location and emits Stopped(Pause) for it.
func (c *Controller) Pause() error {
	if c.State() == StateStopped {
		return nil
	}
	if err := c.process.Stop(); err != nil {
		return errors.Wrap("Pause", errors.EngineError, "stop failed", err)
	}
	c.incrementStopCounter()

	for _, t := range c.process.Threads() {
		if loc, ok := c.locationFor(t); ok {
			c.setLastStopped(t.ID())
			c.emit(Event{Kind: EventStopped, ThreadID: int(t.ID()), Reason: StopPause, Location: loc, HasFrame: true})
			return nil
		}
	}
	c.emit(Event{Kind: EventStopped, Reason: StopPause})
	return nil
}

// HasUnhandledException reports whether tid has already reported an
// unhandled exception this session (the unhandledExceptionsMutex-guarded set
// from §5).
func (c *Controller) HasUnhandledException(tid engine.ThreadID) bool {
	c.unhandledMu.Lock()
	defer c.unhandledMu.Unlock()
	return c.unhandled[tid]
}

func (c *Controller) setLastStopped(tid engine.ThreadID) {
	c.lastStoppedMu.Lock()
	c.lastStoppedThread = tid
	c.lastStoppedMu.Unlock()
}

// LastStoppedThread returns the thread most recently reported in a Stopped
// event, the value a protocol adapter defaults its next thread-scoped
// request to when the client doesn't name one explicitly.
func (c *Controller) LastStoppedThread() engine.ThreadID {
	c.lastStoppedMu.Lock()
	defer c.lastStoppedMu.Unlock()
	return c.lastStoppedThread
}

// locationFor resolves thread's topmost managed frame to a source Location.
func (c *Controller) locationFor(t engine.Thread) (Location, bool) {
	sf, ok := c.walker.GetFrameAt(t, 0)
	if !ok || sf.Kind != frames.Managed || sf.Managed == nil {
		return Location{}, false
	}
	_, sp, ok := c.mods.GetFrameILAndSequencePoint(sf.Managed)
	if !ok || sp.Document == "" {
		return Location{}, false
	}
	return Location{File: sp.Document, Line: sp.StartLine, Column: sp.StartColumn}, true
}
