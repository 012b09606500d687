package eval

import (
	"strconv"
	"strings"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/errors"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
)

// Resolve evaluates expr against a stopped frame, following §4.4's six-step
// name resolution algorithm and then dereferencing any remaining
// dot/bracket components against the value it lands on.
func (e *Evaluator) Resolve(thread engine.Thread, frame engine.Frame, expr string) (*engine.Value, error) {
	isExc, chain, err := Parse(expr)
	if err != nil {
		return nil, err
	}

	var cur *engine.Value
	consumed := 0

	switch {
	case isExc:
		cur = thread.CurrentException()
		if cur == nil {
			return nil, errors.New("Resolve", errors.NotFound, "no exception is currently in flight on this thread")
		}
	default:
		if len(chain) == 0 {
			return nil, errors.New("Resolve", errors.ParseError, "empty expression")
		}
		cur, consumed, err = e.resolveRoot(thread, frame, chain)
		if err != nil {
			return nil, err
		}
	}

	for _, c := range chain[consumed:] {
		cur, err = e.step(thread, frame, cur, c)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// EvaluateCondition implements breakpoints.ConditionEvaluator: a condition
// is a plain expression whose resolved value must be a bool.
func (e *Evaluator) EvaluateCondition(thread engine.Thread, frame engine.Frame, expression string) (bool, error) {
	v, err := e.Resolve(thread, frame, expression)
	if err != nil {
		return false, err
	}
	if v == nil || v.Kind != engine.KindBool {
		return false, errors.New("EvaluateCondition", errors.ParseError, "condition did not evaluate to a bool")
	}
	return v.Bool, nil
}

// resolveRoot implements steps 1-5 of §4.4's name resolution: locals,
// this-fields, enclosing-type statics, then any-module type lookup.
// consumed reports how many leading chain components the root itself ate.
func (e *Evaluator) resolveRoot(thread engine.Thread, frame engine.Frame, chain []Component) (*engine.Value, int, error) {
	first := chain[0]
	if first.Index != nil {
		return nil, 0, errors.New("Resolve", errors.ParseError, "expression cannot start with an index component")
	}

	// Step 1: locals of the current method.
	if v, ok := findLocal(frame, first.Name); ok {
		return v, 1, nil
	}

	// Step 2: instance fields/properties of `this`.
	if this := frame.This(); this != nil && !this.IsNull() {
		if v, err, ok := e.memberOf(thread, frame.Module(), this, first.Name); ok {
			return v, 1, err
		}
	}

	// Step 3: statics of the enclosing type chain, peeling outward.
	if v, n, ok := e.resolveEnclosingStatic(thread, frame, chain); ok {
		return v, n, nil
	}

	// Step 4-5: any-module type lookup, constructing an uninstantiated
	// instance via EvalObjectNoConstructor so static members can be walked
	// off of it.
	if v, n, ok := e.resolveAnyModuleType(thread, chain); ok {
		return v, n, nil
	}

	return nil, 0, errors.New("Resolve", errors.NotFound, "cannot resolve '"+first.Name+"'")
}

// findLocal searches the current method's local-variable table by name,
// including the special CS$<>/display-class recursion §4.4 describes:
// a display-class "this" or a capture-record local is itself walked for the
// requested name when no ordinary local matches directly.
func findLocal(frame engine.Frame, name string) (*engine.Value, bool) {
	md := frame.Function()
	if md == nil {
		return nil, false
	}
	for _, l := range md.Locals {
		if l.Name == name {
			if v, ok := frame.LocalValue(l.Index); ok {
				return v, true
			}
		}
	}
	// Special locals: closures capture outer locals as fields of a
	// compiler-generated "<>c__DisplayClass" instance, reached through a
	// local literally named "this" (or a "CS$<>..." prefixed capture
	// record); search those instances' fields for name.
	for _, l := range md.Locals {
		if !isSpecialLocalName(l.Name) {
			continue
		}
		v, ok := frame.LocalValue(l.Index)
		if !ok || v.IsNull() || v.Fields == nil {
			continue
		}
		if fv, ok := v.Fields[name]; ok {
			return fv, true
		}
	}
	return nil, false
}

// isSpecialLocalName reports whether a local is a compiler-generated
// capture record or display-class instance, per §4.4's "special locals"
// rule (originally evalhelpers.cpp's FindCapturedLocal).
func isSpecialLocalName(name string) bool {
	return strings.HasPrefix(name, "CS$<>") || strings.Contains(name, "<>c__DisplayClass") || name == "this"
}

// memberOf looks up name as a field or property of owner, the step shared
// by `this`-field resolution and ordinary member dereference. ok reports
// whether name names a member at all (even if invoking its getter failed,
// in which case err is non-nil and ok is true so the caller surfaces the
// failure instead of falling through to the next resolution step).
func (e *Evaluator) memberOf(thread engine.Thread, module engine.ModuleBase, owner *engine.Value, name string) (*engine.Value, error, bool) {
	if owner == nil || owner.IsNull() {
		return nil, nil, false
	}
	if v, ok := owner.Fields[name]; ok {
		return v, nil, true
	}
	td := owner.Def
	for td != nil {
		for _, f := range td.Fields {
			if f.Name != name || f.IsStatic {
				continue
			}
			return e.literalForField(thread, f), nil, true
		}
		for _, p := range td.Properties {
			if p.Name != name || p.IsStatic {
				continue
			}
			v, err := e.CallGetter(thread, module, p.GetterToken, owner, p.TypeName)
			return v, err, true
		}
		td = td.Base
	}
	return nil, nil, false
}

// resolveEnclosingStatic implements §4.4 step 3: peel the current method's
// declaring type outward through its enclosing-type chain, trying each
// prefix of the expression as a type name and the following single
// component as a static member of that type.
func (e *Evaluator) resolveEnclosingStatic(thread engine.Thread, frame engine.Frame, chain []Component) (*engine.Value, int, bool) {
	md := frame.Function()
	if md == nil || md.OwnerType == "" {
		return nil, 0, false
	}
	mod := e.mods.ModuleByBase(frame.Module())
	if mod == nil || mod.Metadata == nil {
		return nil, 0, false
	}
	owner, ok := mod.Metadata.FindTypeDefByName(md.OwnerType)
	if !ok {
		return nil, 0, false
	}

	candidates := append(append([]*engine.TypeDef{}, owner.EnclosingTypes...), owner)
	for i := len(candidates) - 1; i >= 0; i-- {
		td := candidates[i]
		if td == nil {
			continue
		}
		for n := 1; n < len(chain); n++ {
			if chain[n-1].Index != nil || chain[n].Index != nil {
				break
			}
			if !strings.HasSuffix(td.Name, joinNames(chain[:n])) {
				continue
			}
			if v, ok := e.staticMemberOf(thread, mod, td, chain[n].Name); ok {
				return v, n + 1, true
			}
		}
	}
	return nil, 0, false
}

// resolveAnyModuleType implements §4.4 steps 4-5: try progressively longer
// dotted prefixes of chain as a type name across every loaded module, and on
// a match construct an uninstantiated instance (EvalObjectNoConstructor) so
// its static members can be walked.
func (e *Evaluator) resolveAnyModuleType(thread engine.Thread, chain []Component) (*engine.Value, int, bool) {
	for n := len(chain); n >= 1; n-- {
		skip := false
		for _, c := range chain[:n] {
			if c.Index != nil {
				skip = true
			}
		}
		if skip {
			continue
		}
		name := joinNames(chain[:n])
		mod, td, ok := e.findTypeAnywhere(name)
		if !ok {
			continue
		}
		e.forceClassConstructor(thread, mod, td)
		v, err := e.Construct(thread, td.Name)
		if err != nil {
			continue
		}
		v.Def = td
		if v.Fields == nil {
			v.Fields = map[string]*engine.Value{}
		}
		return v, n, true
	}
	return nil, 0, false
}

func (e *Evaluator) findTypeAnywhere(name string) (*modules.Module, *engine.TypeDef, bool) {
	var (
		foundMod *modules.Module
		foundTD  *engine.TypeDef
		found    bool
	)
	e.mods.ForEachModule(func(m *modules.Module) bool {
		if m.Metadata == nil {
			return true
		}
		if td, ok := m.Metadata.FindTypeDefByName(name); ok {
			foundMod, foundTD, found = m, td, true
			return false
		}
		return true
	})
	return foundMod, foundTD, found
}

// forceClassConstructor implements §4.4's "class-constructor forcing": a
// type's static initializer runs (via RunClassConstructor, modeled here as
// a function-eval of the type's static ".cctor" method) before its statics
// are listed, if the type declares one.
func (e *Evaluator) forceClassConstructor(thread engine.Thread, mod *modules.Module, td *engine.TypeDef) {
	for _, m := range td.Methods {
		if m.IsStatic && m.Name == ".cctor" {
			e.CallFunction(thread, mod.BaseAddress, m.Token, nil)
			return
		}
	}
}

// staticMemberOf looks up name as a static field or property of td,
// forcing its class constructor first.
func (e *Evaluator) staticMemberOf(thread engine.Thread, mod *modules.Module, td *engine.TypeDef, name string) (*engine.Value, bool) {
	e.forceClassConstructor(thread, mod, td)
	for _, f := range td.Fields {
		if f.Name == name && f.IsStatic {
			return e.literalForField(thread, f), true
		}
	}
	for _, p := range td.Properties {
		if p.Name == name && p.IsStatic {
			v, err := e.CallGetter(thread, mod.BaseAddress, p.GetterToken, nil, p.TypeName)
			if err != nil {
				return nil, false
			}
			return v, true
		}
	}
	return nil, false
}

// step dereferences one chain component against cur: a bracketed index
// indexes an array, otherwise the component names a field/property.
func (e *Evaluator) step(thread engine.Thread, frame engine.Frame, cur *engine.Value, c Component) (*engine.Value, error) {
	if c.Index != nil {
		return IndexInto(cur, c.Index)
	}
	v, err, ok := e.memberOf(thread, frame.Module(), cur, c.Name)
	if !ok {
		return nil, errors.New("Resolve", errors.NotFound, "no member '"+c.Name+"' on "+cur.Type)
	}
	return v, err
}

// ForceClassConstructor runs typeName's static initializer, if it has one,
// before its statics are read — §4.5's "expanding 'Static members' triggers
// RunClassConstructor" rule, exposed for internal/variables to call ahead
// of a statics-group expansion.
func (e *Evaluator) ForceClassConstructor(thread engine.Thread, typeName string) {
	mod, td, ok := e.findTypeAnywhere(typeName)
	if !ok {
		return
	}
	e.forceClassConstructor(thread, mod, td)
}

// HasStaticMember reports whether td or any type in its base chain declares
// at least one static field or property, the check §4.5 uses to decide
// whether an object's instance-member listing gets a synthetic
// "Static members" entry appended.
func HasStaticMember(td *engine.TypeDef) bool {
	for ; td != nil; td = td.Base {
		for _, f := range td.Fields {
			if f.IsStatic {
				return true
			}
		}
		for _, p := range td.Properties {
			if p.IsStatic {
				return true
			}
		}
	}
	return false
}

// IndexInto applies a (possibly multi-dimensional) index list to an array
// value. Only the single-dimension case is supported directly; a
// multi-index request against a rank-1 array is rejected rather than
// silently misreading memory, since Value carries no per-rank extents to
// compute a row-major offset from.
func IndexInto(cur *engine.Value, idx []string) (*engine.Value, error) {
	if cur == nil || cur.Kind != engine.KindArray {
		return nil, errors.New("Resolve", errors.ParseError, "indexing a non-array value")
	}
	if len(idx) != 1 {
		return nil, errors.New("Resolve", errors.ParseError, "multi-dimensional indexing is not supported")
	}
	n, err := strconv.Atoi(idx[0])
	if err != nil {
		return nil, errors.Wrap("Resolve", errors.ParseError, "non-integer array index", err)
	}
	base := 0
	if len(cur.LowerBounds) > 0 {
		base = cur.LowerBounds[0]
	}
	off := n - base
	if off < 0 || off >= len(cur.Array) {
		return nil, errors.New("Resolve", errors.NotFound, "array index out of range")
	}
	return cur.Array[off], nil
}
