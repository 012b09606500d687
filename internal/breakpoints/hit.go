package breakpoints

import (
	"path/filepath"
	"strings"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/frames"
)

// Hit describes which stored breakpoint a native hit corresponds to. Exactly
// one of Line/Function is non-nil, unless AtEntry is set (the entry
// breakpoint is not itself a stored Line/FunctionBreakpoint). Stop reports
// whether the hit should actually suspend the process (false when a
// condition evaluated to non-true).
type Hit struct {
	Line     *LineBreakpoint
	Function *FunctionBreakpoint
	AtEntry  bool
	Stop     bool
}

// HitBreakpoint identifies which stored breakpoint a native breakpoint
// callback corresponds to, per §4.3's "Hit identification": the entry-point
// breakpoint is checked first, then line breakpoints (by canonical file,
// falling back to basename, then line, then IL offset/token), then function
// breakpoints (by resolution-instance equality, then optional parameter
// signature).
func (mgr *Manager) HitBreakpoint(thread engine.Thread, nativeBp engine.NativeBreakpoint) Hit {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	bpModule := nativeBp.Module()
	bpTok := nativeBp.Function()
	bpOff := nativeBp.ILOffset()

	if mgr.entry != nil && mgr.entry.Native == nativeBp {
		mgr.entry.Native.Activate(false)
		mgr.entry.Native.Release()
		mgr.entry = nil
		return Hit{AtEntry: true, Stop: true}
	}

	if lb := mgr.matchLineLocked(thread, bpModule, bpTok, bpOff); lb != nil {
		stop := mgr.evaluateConditionLocked(thread, lb.Condition)
		if stop {
			lb.HitCount++
		}
		return Hit{Line: lb, Stop: stop}
	}

	if fb := mgr.matchFunctionLocked(thread, bpModule, bpTok, bpOff); fb != nil {
		stop := mgr.evaluateConditionLocked(thread, fb.Condition)
		if stop {
			fb.HitCount++
		}
		return Hit{Function: fb, Stop: stop}
	}

	return Hit{}
}

func (mgr *Manager) matchLineLocked(thread engine.Thread, bpModule engine.ModuleBase, bpTok engine.MethodToken, bpOff engine.ILOffset) *LineBreakpoint {
	mod := mgr.mods.ModuleByBase(bpModule)
	if mod == nil || mod.Symbols == nil {
		return nil
	}
	loc, ok := mod.Symbols.GetLineByILOffset(bpTok, bpOff)
	if !ok {
		return nil
	}

	byLine := mgr.byFileLine[loc.FileFullName]
	if byLine == nil {
		// Retry by basename, per §4.3.
		base := filepath.Base(loc.FileFullName)
		for file, m := range mgr.byFileLine {
			if filepath.Base(file) == base {
				byLine = m
				break
			}
		}
	}
	if byLine == nil {
		return nil
	}
	lb, ok := byLine[loc.Line]
	if !ok {
		return nil
	}
	if lb.Resolved == nil || lb.Resolved.MethodToken != bpTok || lb.Resolved.ILOffset != bpOff || lb.Resolved.ModuleBase != bpModule {
		return nil
	}
	return lb
}

func (mgr *Manager) matchFunctionLocked(thread engine.Thread, bpModule engine.ModuleBase, bpTok engine.MethodToken, bpOff engine.ILOffset) *FunctionBreakpoint {
	for _, fb := range mgr.byQualifiedName {
		for _, inst := range fb.Resolved {
			if inst.ModuleBase != bpModule || inst.MethodToken != bpTok {
				continue
			}
			if fb.ParamSignature != "" && !mgr.paramSignatureMatchesLocked(thread, fb.ParamSignature) {
				continue
			}
			return fb
		}
	}
	return nil
}

// paramSignatureMatchesLocked renders the current frame's method parameter
// types the way §4.3 describes ("render each argument's type, join with
// commas, parenthesize") and compares for string equality.
func (mgr *Manager) paramSignatureMatchesLocked(thread engine.Thread, want string) bool {
	sf, ok := mgr.walker.GetFrameAt(thread, 0)
	if !ok || sf.Kind != frames.Managed || sf.Managed == nil {
		return false
	}
	md := sf.Managed.Function()
	if md == nil {
		return false
	}
	got := "(" + strings.Join(md.ParamTypeNames, ",") + ")"
	return got == want
}

func (mgr *Manager) evaluateConditionLocked(thread engine.Thread, condition string) bool {
	if condition == "" {
		return true
	}
	if mgr.cond == nil {
		return true
	}
	sf, ok := mgr.walker.GetFrameAt(thread, 0)
	if !ok || sf.Kind != frames.Managed || sf.Managed == nil {
		return true
	}
	result, err := mgr.cond.EvaluateCondition(thread, sf.Managed, condition)
	if err != nil {
		if mgr.log != nil {
			mgr.log.WarnFields("condition evaluation failed", map[string]interface{}{"condition": condition, "error": err.Error()})
		}
		return false
	}
	return result
}

// MatchExceptionBreakpoints returns every stored exception breakpoint that
// matches the given event, per §4.3's exception-matching rule.
func (mgr *Manager) MatchExceptionBreakpoints(category ExceptionCategory, stage engine.ExceptionStage, typeName string) []*ExceptionBreakpoint {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	var matched []*ExceptionBreakpoint
	for _, eb := range mgr.exceptions {
		if eb.Category != category {
			continue
		}
		if !filterAppliesToStage(eb.Filter, stage) {
			continue
		}
		if !typePermitted(eb, typeName) {
			continue
		}
		matched = append(matched, eb)
	}
	return matched
}

// filterAppliesToStage implements §4.3's per-filter stage rule, including
// ThrowUserUnhandled as the disjunction of Throw and UserUnhandled.
func filterAppliesToStage(filter ExceptionFilter, stage engine.ExceptionStage) bool {
	switch filter {
	case FilterThrow:
		return stage == engine.ExceptionFirstChance
	case FilterUserUnhandled:
		return stage == engine.ExceptionUserUnhandled
	case FilterThrowUserUnhandled:
		return stage == engine.ExceptionFirstChance || stage == engine.ExceptionUserUnhandled
	case FilterUnhandled:
		return stage == engine.ExceptionUnhandled
	default:
		return false
	}
}

// typePermitted implements §3's condition semantics: absent ⇒ match any;
// present ⇒ match iff type-name membership XOR negate.
func typePermitted(eb *ExceptionBreakpoint, typeName string) bool {
	if eb.Condition == nil {
		return true
	}
	_, member := eb.Condition[typeName]
	return member != eb.Negate
}
