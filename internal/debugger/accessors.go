package debugger

import (
	"github.com/Samsung/netcoredbg-sub001/internal/breakpoints"
	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/frames"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
	"github.com/Samsung/netcoredbg-sub001/internal/variables"
)

// Breakpoints returns the breakpoint manager, for a protocol adapter's
// setBreakpoints/setFunctionBreakpoints/setExceptionBreakpoints requests.
func (c *Controller) Breakpoints() *breakpoints.Manager { return c.bps }

// Variables returns the variable-handle registry, for a protocol adapter's
// scopes/variables/evaluate/setVariable requests.
func (c *Controller) Variables() *variables.Registry { return c.vars }

// Modules returns the module registry, for a protocol adapter's
// modules/loadedModules requests.
func (c *Controller) Modules() *modules.Registry { return c.mods }

// Threads returns every live thread in the debuggee.
func (c *Controller) Threads() []engine.Thread { return c.process.Threads() }

// GetStackTrace returns frames[startFrame:startFrame+levels) for thread,
// plus the total frame count, per §6's stack-trace request.
func (c *Controller) GetStackTrace(tid engine.ThreadID, startFrame, levels int) ([]frames.StackFrame, int, bool) {
	thread, ok := c.process.Thread(tid)
	if !ok {
		return nil, 0, false
	}
	sf, total := c.walker.GetStackTrace(thread, startFrame, levels)
	return sf, total, true
}

// RegisterFrame hands out a stable frame handle for sf's managed frame, for
// a protocol adapter to pass into Variables().CreateScope/Evaluate. Returns
// false if sf is not a managed frame.
func (c *Controller) RegisterFrame(tid engine.ThreadID, sf frames.StackFrame) (int, bool) {
	if sf.Kind != frames.Managed || sf.Managed == nil {
		return 0, false
	}
	thread, ok := c.process.Thread(tid)
	if !ok {
		return 0, false
	}
	return c.vars.RegisterFrame(thread, sf.Managed), true
}
