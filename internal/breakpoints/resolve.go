package breakpoints

import (
	"os"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
	"github.com/Samsung/netcoredbg-sub001/internal/peheader"
)

// resolveLineLocked attempts immediate resolution of lb against whatever
// modules are already loaded. Called both from SetLineBreakpoints (a fresh
// request) and from TryResolveBreakpointsForModule (a newly loaded module).
func (mgr *Manager) resolveLineLocked(lb *LineBreakpoint) bool {
	if lb.Resolved != nil {
		return false
	}

	var (
		mod  *modules.Module
		tok  engine.MethodToken
		off  engine.ILOffset
		ok   bool
	)
	if constraint := mgr.findModuleByName(lb.Module); constraint != nil {
		tok, off, _, ok = mgr.mods.GetLocationInModule(constraint, lb.FileFullName, lb.Line)
		mod = constraint
	} else if lb.Module == "" {
		mod, tok, off, _, ok = mgr.mods.GetLocationInAny(lb.FileFullName, lb.Line)
	}
	if !ok || mod == nil {
		return false
	}

	nb := mgr.process.CreateBreakpoint(mod.BaseAddress, tok, off)
	if nb == nil {
		return false
	}
	if err := nb.Activate(true); err != nil {
		nb.Release()
		if mgr.log != nil {
			mgr.log.WarnFields("failed to activate line breakpoint", map[string]interface{}{"file": lb.FileFullName, "line": lb.Line, "error": err.Error()})
		}
		return false
	}

	lb.Resolved = &engine.CodeLocation{
		ModuleBase:  mod.BaseAddress,
		MethodToken: tok,
		ILOffset:    off,
	}
	lb.Native = nb
	return true
}

// resolveFunctionLocked enumerates methods in every module matching the
// breakpoint's module constraint (or every loaded module) under the
// suffix-match rule, creating one native breakpoint per match not already
// held in fb.Resolved.
func (mgr *Manager) resolveFunctionLocked(fb *FunctionBreakpoint) int {
	already := make(map[engine.ModuleBase]map[engine.MethodToken]bool)
	for _, inst := range fb.Resolved {
		if already[inst.ModuleBase] == nil {
			already[inst.ModuleBase] = make(map[engine.MethodToken]bool)
		}
		already[inst.ModuleBase][inst.MethodToken] = true
	}

	constraint := mgr.findModuleByName(fb.Module)
	added := 0
	mgr.mods.ResolveFunctionInAny(constraint, fb.MethodName, func(mod *modules.Module, md *engine.MethodDef) {
		if already[mod.BaseAddress][md.Token] {
			return
		}
		nb := mgr.process.CreateBreakpoint(mod.BaseAddress, md.Token, 0)
		if nb == nil {
			return
		}
		if err := nb.Activate(true); err != nil {
			nb.Release()
			if mgr.log != nil {
				mgr.log.WarnFields("failed to activate function breakpoint", map[string]interface{}{"name": fb.MethodName, "error": err.Error()})
			}
			return
		}
		fb.Resolved = append(fb.Resolved, FunctionResolution{
			ModuleBase:  mod.BaseAddress,
			MethodToken: md.Token,
			Native:      nb,
		})
		added++
	})
	return added
}

// TryResolveBreakpointsForModule attempts resolution of every unresolved
// line and function breakpoint (and the entry-point slot) against a newly
// loaded module, per §4.3's "called from the load callback". Returns one
// BreakpointChanged event per breakpoint that gained a new resolution.
func (mgr *Manager) TryResolveBreakpointsForModule(m *modules.Module) []BreakpointEvent {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	var events []BreakpointEvent

	for _, byLine := range mgr.byFileLine {
		for _, lb := range byLine {
			if lb.Resolved != nil {
				continue
			}
			if lb.Module != "" && lb.Module != m.Name {
				continue
			}
			if mgr.resolveLineLocked(lb) {
				events = append(events, BreakpointEvent{Kind: EventChanged, Line: lb})
			}
		}
	}

	for _, fb := range mgr.byQualifiedName {
		if fb.Module != "" && fb.Module != m.Name {
			continue
		}
		if mgr.resolveFunctionLocked(fb) > 0 {
			events = append(events, BreakpointEvent{Kind: EventChanged, Function: fb})
		}
	}

	mgr.tryResolveEntryLocked(m)

	return events
}

// tryResolveEntryLocked implements §4.3's "Entry-point discovery": on module
// load, parse the module's on-disk image for a managed EntryPointToken and,
// the first time one is found, install a function-level breakpoint on it.
// Per §3 "at most one", a later module's entry point is never installed
// once one is already held.
func (mgr *Manager) tryResolveEntryLocked(m *modules.Module) {
	if mgr.entry != nil || m.Native == nil || m.Path == "" {
		return
	}

	f, err := os.Open(m.Path)
	if err != nil {
		return
	}
	defer f.Close()

	tokRaw, err := peheader.EntryPointToken(f)
	if err != nil {
		return
	}

	tok := engine.MethodToken(tokRaw)
	nb := mgr.process.CreateBreakpoint(m.BaseAddress, tok, 0)
	if nb == nil {
		return
	}
	if err := nb.Activate(true); err != nil {
		nb.Release()
		if mgr.log != nil {
			mgr.log.WarnFields("failed to activate entry breakpoint", map[string]interface{}{"module": m.Name, "error": err.Error()})
		}
		return
	}

	mgr.entry = &EntryBreakpoint{
		ModuleBase: m.BaseAddress,
		Token:      tok,
		Native:     nb,
	}
	if mgr.log != nil {
		mgr.log.InfoFields("entry breakpoint installed", map[string]interface{}{"module": m.Name})
	}
}
