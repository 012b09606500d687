package debugger

import (
	"fmt"
	"strings"

	"github.com/Samsung/netcoredbg-sub001/internal/breakpoints"
	"github.com/Samsung/netcoredbg-sub001/internal/engine"
)

// dispatchLoop drains engine callbacks for the controller's lifetime,
// per §4.6's "each relevant callback posts to a worker" and §9's
// "tagged enum delivered over a channel, dispatched in a worker-loop".
// Default behavior for every callback kind this switch doesn't name
// explicitly is "ignore, continue the engine" (§9).
func (c *Controller) dispatchLoop() {
	for cb := range c.process.Callbacks() {
		c.dispatch(cb)
	}
}

func (c *Controller) dispatch(cb engine.CallbackEvent) {
	switch cb.Kind {
	case engine.CbBreakpoint:
		c.onBreakpoint(cb)
	case engine.CbStepComplete:
		c.onStepComplete(cb)
	case engine.CbException:
		c.onException(cb)
	case engine.CbEvalComplete:
		c.ev.Complete(cb.ThreadID, cb.EvalResult, nil)
	case engine.CbEvalException:
		c.ev.Complete(cb.ThreadID, nil, cb.EvalError)
	case engine.CbLoadModule:
		c.onLoadModule(cb)
	case engine.CbUnloadModule:
		if cb.Module != nil {
			c.mods.Unload(cb.Module.Base)
		}
		c.process.Continue()
	case engine.CbCreateThread:
		c.emit(Event{Kind: EventThreadStarted, ThreadID: int(cb.ThreadID)})
		c.process.Continue()
	case engine.CbExitThread:
		c.ev.ThreadExited(cb.ThreadID)
		c.emit(Event{Kind: EventThreadExited, ThreadID: int(cb.ThreadID)})
		c.process.Continue()
	case engine.CbExitProcess:
		c.ev.Shutdown()
		c.setState(StateExited)
		c.emit(Event{Kind: EventExited, ExitCode: cb.ExitCode})
		c.emit(Event{Kind: EventTerminated})
	case engine.CbCustomNotification:
		if c.ev.PendingFor(cb.ThreadID) {
			c.ev.AbortCrossThreadDependency(cb.ThreadID)
		}
		c.process.Continue()
	default:
		// CbBreak, CbNameChange, CbBreakpointSetError, CbMDANotification,
		// CbCreateProcess: no action beyond resuming the engine.
		c.process.Continue()
	}
}

func (c *Controller) onBreakpoint(cb engine.CallbackEvent) {
	thread, ok := c.process.Thread(cb.ThreadID)
	if !ok {
		c.process.Continue()
		return
	}
	hit := c.bps.HitBreakpoint(thread, cb.Breakpoint)
	if !hit.Stop {
		c.process.Continue()
		return
	}

	c.incrementStopCounter()
	c.setLastStopped(cb.ThreadID)
	loc, hasLoc := c.locationFor(thread)
	reason := StopBreakpoint
	if hit.AtEntry {
		reason = StopEntry
	}
	c.emit(Event{Kind: EventStopped, ThreadID: int(cb.ThreadID), Reason: reason, Location: loc, HasFrame: hasLoc})
}

func (c *Controller) onStepComplete(cb engine.CallbackEvent) {
	thread, ok := c.process.Thread(cb.ThreadID)
	if !ok {
		c.process.Continue()
		return
	}

	c.jmcMu.Lock()
	jmc := c.jmc
	c.jmcMu.Unlock()

	if jmc {
		if _, hasSource := c.locationFor(thread); !hasSource {
			if err := c.issueStep(cb.ThreadID, StepOver); err == nil {
				c.process.Continue()
				return
			}
			// Stepper setup failed — fall through and stop, rather than
			// spin forever trying to re-issue a broken step.
		}
	}

	c.incrementStopCounter()
	c.setLastStopped(cb.ThreadID)
	loc, hasLoc := c.locationFor(thread)
	c.emit(Event{Kind: EventStopped, ThreadID: int(cb.ThreadID), Reason: StopStep, Location: loc, HasFrame: hasLoc})
}

func (c *Controller) onException(cb engine.CallbackEvent) {
	if c.ev.PendingFor(cb.ThreadID) {
		c.process.Continue()
		return
	}

	typeName := ""
	message := ""
	if cb.ExceptionValue != nil {
		typeName = cb.ExceptionValue.Type
		if m, ok := cb.ExceptionValue.Fields["_message"]; ok && m != nil && m.Kind == engine.KindString {
			message = m.Str
		}
	}

	matched := c.bps.MatchExceptionBreakpoints(breakpoints.CategoryCLR, cb.ExceptionStage, typeName)
	if len(matched) == 0 && cb.ExceptionStage != engine.ExceptionUnhandled {
		c.emit(Event{
			Kind:           EventOutput,
			ThreadID:       int(cb.ThreadID),
			OutputCategory: "stderr",
			OutputText:     fmt.Sprintf("Exception thrown: '%s' in %s", typeName, c.moduleNameFor(cb.ThreadID)),
		})
		c.process.Continue()
		return
	}

	if c.ev.Pending() {
		thread, ok := c.process.Thread(cb.ThreadID)
		if ok {
			c.process.InterceptCurrentException(thread)
		}
		c.process.Continue()
		return
	}

	if cb.ExceptionStage == engine.ExceptionUnhandled {
		c.unhandledMu.Lock()
		c.unhandled[cb.ThreadID] = true
		c.unhandledMu.Unlock()
	}

	c.incrementStopCounter()
	c.setLastStopped(cb.ThreadID)
	thread, _ := c.process.Thread(cb.ThreadID)
	var loc Location
	var hasLoc bool
	if thread != nil {
		loc, hasLoc = c.locationFor(thread)
	}
	c.emit(Event{
		Kind:             EventStopped,
		ThreadID:         int(cb.ThreadID),
		Reason:           StopException,
		Location:         loc,
		HasFrame:         hasLoc,
		ExceptionType:    typeName,
		ExceptionMessage: message,
		ExceptionStage:   exceptionStageLabel(cb.ExceptionStage),
	})
}

func exceptionStageLabel(stage engine.ExceptionStage) string {
	switch stage {
	case engine.ExceptionFirstChance:
		return "first-chance"
	case engine.ExceptionUserUnhandled:
		return "user-unhandled"
	case engine.ExceptionUnhandled:
		return "unhandled"
	default:
		return ""
	}
}

// moduleNameFor is a best-effort label for the output event's "in <module>"
// clause: the module owning the thread's topmost managed frame.
func (c *Controller) moduleNameFor(tid engine.ThreadID) string {
	thread, ok := c.process.Thread(tid)
	if !ok {
		return "?"
	}
	var name string
	thread.Walk(func(raw engine.RawFrame) bool {
		if raw.Kind == engine.FrameManaged && raw.Managed != nil {
			if m := c.mods.ModuleByBase(raw.Managed.Module()); m != nil {
				name = m.Name
			}
			return false
		}
		return true
	})
	if name == "" {
		return "?"
	}
	return name
}

const coreLibName = "System.Private.CoreLib.dll"

func (c *Controller) onLoadModule(cb engine.CallbackEvent) {
	if cb.Module == nil {
		c.process.Continue()
		return
	}
	m, err := c.mods.TryLoad(cb.Module)
	if err != nil {
		c.process.Continue()
		return
	}

	events := c.bps.TryResolveBreakpointsForModule(m)
	c.emit(Event{Kind: EventModuleNew, Module: m})
	for _, ev := range events {
		c.emit(Event{Kind: EventBreakpointChanged, Breakpoint: ev.Line, Function: ev.Function})
	}

	if strings.EqualFold(cb.Module.Name, coreLibName) {
		c.process.SetEnableCustomNotification("System.Diagnostics.Debugger.CrossThreadDependencyNotification", true)
	}

	c.process.Continue()
}
