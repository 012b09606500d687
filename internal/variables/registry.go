// Package variables implements spec.md §4.5's variable-handle layer: scopes,
// paged member listing, expression evaluation, and SetVariable/
// SetExpression, built directly on internal/eval's name resolution and
// member walk.
//
// Grounded on spec.md §4.5 throughout; the handle-table shape (an
// incrementing reference map behind one mutex, wiped on every stop) follows
// the teacher's pkg/debug pattern for its breakpoint/session registries.
package variables

import (
	"strconv"
	"sync"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/errors"
	"github.com/Samsung/netcoredbg-sub001/internal/eval"
)

// Filter selects which half of a value's members GetVariables/GetChildren
// returns.
type Filter int

const (
	FilterNamed Filter = iota
	FilterIndexed
	FilterBoth
)

// EvalFlags modifies Evaluate's call into the evaluator.
type EvalFlags int

const (
	EvalFlagsNone      EvalFlags = 0
	EvalFlagNoFuncEval EvalFlags = 1 << 0
)

const staticsGroupName = "Static members"

// Scope is one named grouping of variables rooted at a frame.
type Scope struct {
	Name               string
	VariablesReference int
	NamedVariables     int
	IndexedVariables   int
}

// Variable is one printed, navigable value per §4.5.
type Variable struct {
	Name               string
	Value              string
	Type               string
	EvaluateName       string
	VariablesReference int
	NamedVariables     int
	IndexedVariables   int
	Editable           bool
}

type refKind int

const (
	refScope refKind = iota
	refValue
	refStatics
)

type frameEntry struct {
	thread engine.Thread
	frame  engine.Frame
}

type ref struct {
	kind         refKind
	thread       engine.Thread
	module       engine.ModuleBase
	frame        engine.Frame // non-nil for refScope
	value        *engine.Value
	evaluateName string
}

// item is one candidate member before it is turned into a printed Variable.
type item struct {
	name         string
	value        *engine.Value
	evaluateName string
	indexed      bool
	ownerType    string
	field        bool // true if this item came from a field (so it is writable)
	staticsGroup bool // true for the synthetic "Static members" entry
	thread       engine.Thread
	module       engine.ModuleBase
}

// Registry is a per-stop table of frame and variable handles. A fresh
// Registry (or Reset) is expected every time the debuggee stops, per §4.6's
// "clear variable handles" step.
type Registry struct {
	mu          sync.Mutex
	ev          *eval.Evaluator
	frames      map[int]frameEntry
	nextFrameID int
	refs        map[int]*ref
	nextRef     int
}

// New creates a Registry bound to ev for resolving member chains.
func New(ev *eval.Evaluator) *Registry {
	return &Registry{
		ev:     ev,
		frames: make(map[int]frameEntry),
		refs:   make(map[int]*ref),
	}
}

// Reset discards every frame and variable handle, per §4.6's step-setup
// "clear variable handles" rule.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = make(map[int]frameEntry)
	r.refs = make(map[int]*ref)
	r.nextFrameID = 0
	r.nextRef = 0
}

// RegisterFrame hands out a stable frameId for one stack frame. Callers
// building a stack-trace response call this once per frame they report, so
// a later CreateScope/Evaluate can find it again.
func (r *Registry) RegisterFrame(thread engine.Thread, frame engine.Frame) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextFrameID++
	id := r.nextFrameID
	r.frames[id] = frameEntry{thread: thread, frame: frame}
	return id
}

func (r *Registry) allocRef(v *ref) int {
	r.nextRef++
	id := r.nextRef
	r.refs[id] = v
	return id
}

// CreateScope allocates a variables-reference for frameId's single "Locals"
// scope (locals plus `this`; no separate Globals/Upvalue scope is modeled).
func (r *Registry) CreateScope(frameID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fe, ok := r.frames[frameID]
	if !ok {
		return 0, errors.New("CreateScope", errors.NotFound, "unknown frame handle")
	}
	return r.allocRef(&ref{kind: refScope, thread: fe.thread, module: fe.frame.Module(), frame: fe.frame}), nil
}

// GetScopes returns frameId's scope list.
func (r *Registry) GetScopes(frameID int) ([]Scope, error) {
	id, err := r.CreateScope(frameID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	rf := r.refs[id]
	r.mu.Unlock()
	items := r.scopeItems(rf)
	named, indexed := 0, 0
	for _, it := range items {
		if it.indexed {
			indexed++
		} else {
			named++
		}
	}
	return []Scope{{Name: "Locals", VariablesReference: id, NamedVariables: named, IndexedVariables: indexed}}, nil
}

// GetVariables returns ref's members, paged per filter/start/count
// (count == 0 means unlimited).
func (r *Registry) GetVariables(refID int, filter Filter, start, count int) ([]Variable, error) {
	return r.GetChildren(refID, filter, start, count)
}

// GetChildren is GetVariables under the name the MI-style "list children"
// operation uses for the same member-paging walk.
func (r *Registry) GetChildren(refID int, filter Filter, start, count int) ([]Variable, error) {
	r.mu.Lock()
	rf, ok := r.refs[refID]
	r.mu.Unlock()
	if !ok {
		return nil, errors.New("GetVariables", errors.NotFound, "unknown variables reference")
	}

	var items []item
	switch rf.kind {
	case refScope:
		items = r.scopeItems(rf)
	case refValue:
		items = r.valueItems(rf)
	case refStatics:
		items = r.staticItems(rf)
	}
	disambiguateOwners(items)

	selected := make([]item, 0, len(items))
	for _, it := range items {
		switch filter {
		case FilterNamed:
			if it.indexed {
				continue
			}
		case FilterIndexed:
			if !it.indexed {
				continue
			}
		}
		selected = append(selected, it)
	}

	if start > len(selected) {
		start = len(selected)
	}
	selected = selected[start:]
	if count > 0 && count < len(selected) {
		selected = selected[:count]
	}

	out := make([]Variable, 0, len(selected))
	for _, it := range selected {
		out = append(out, r.toVariable(it))
	}
	return out, nil
}

func (r *Registry) toVariable(it item) Variable {
	v := Variable{
		Name:         it.name,
		Type:         it.value.Type,
		EvaluateName: it.evaluateName,
		Value:        formatValue(it.value),
		Editable:     it.field && engine.EditablePrimitives[it.value.Type],
	}
	if it.staticsGroup {
		v.VariablesReference = r.allocRef(&ref{kind: refStatics, thread: it.thread, module: it.module, value: it.value, evaluateName: it.evaluateName})
	} else if it.value.Kind == engine.KindObject && !it.value.IsNull() {
		v.VariablesReference = r.allocRef(&ref{kind: refValue, thread: it.thread, module: it.module, value: it.value, evaluateName: it.evaluateName})
		if eval.HasStaticMember(it.value.Def) {
			v.NamedVariables++
		}
	} else if it.value.Kind == engine.KindArray {
		v.VariablesReference = r.allocRef(&ref{kind: refValue, thread: it.thread, module: it.module, value: it.value, evaluateName: it.evaluateName})
		v.IndexedVariables = len(it.value.Array)
	}
	return v
}

func (r *Registry) scopeItems(rf *ref) []item {
	var items []item
	frame := rf.frame
	if this := frame.This(); this != nil && !this.IsNull() {
		items = append(items, item{name: "this", value: this, evaluateName: "this", thread: rf.thread, module: rf.module})
	}
	md := frame.Function()
	if md != nil {
		for _, l := range md.Locals {
			v, ok := frame.LocalValue(l.Index)
			if !ok {
				continue
			}
			items = append(items, item{name: l.Name, value: v, evaluateName: l.Name, field: true, thread: rf.thread, module: rf.module})
		}
	}
	return items
}

func (r *Registry) valueItems(rf *ref) []item {
	var items []item
	v := rf.value
	if v.Kind == engine.KindArray {
		base := 0
		if len(v.LowerBounds) > 0 {
			base = v.LowerBounds[0]
		}
		for i, elem := range v.Array {
			idx := base + i
			name := "[" + strconv.Itoa(idx) + "]"
			items = append(items, item{name: name, value: elem, evaluateName: rf.evaluateName + name, indexed: true, field: true, thread: rf.thread, module: rf.module})
		}
		return items
	}

	r.ev.WalkMembers(rf.thread, rf.module, v, false, func(m eval.Member) error {
		items = append(items, item{
			name:         m.Name,
			value:        m.Value,
			evaluateName: rf.evaluateName + "." + m.Name,
			ownerType:    m.OwnerType,
			field:        true,
			thread:       rf.thread,
			module:       rf.module,
		})
		return nil
	})
	if v.Def != nil && eval.HasStaticMember(v.Def) {
		items = append(items, item{
			name:         staticsGroupName,
			value:        &engine.Value{Kind: engine.KindObject, Type: v.Type, Def: v.Def},
			evaluateName: rf.evaluateName,
			staticsGroup: true,
			thread:       rf.thread,
			module:       rf.module,
		})
	}
	return items
}

func (r *Registry) staticItems(rf *ref) []item {
	var items []item
	v := rf.value
	r.ev.ForceClassConstructor(rf.thread, v.Type)
	r.ev.WalkMembers(rf.thread, rf.module, v, true, func(m eval.Member) error {
		items = append(items, item{
			name:         m.Name,
			value:        m.Value,
			evaluateName: v.Type + "." + m.Name,
			ownerType:    m.OwnerType,
			field:        true,
			thread:       rf.thread,
			module:       rf.module,
		})
		return nil
	})
	return items
}

// disambiguateOwners implements §4.5's inherited-field disambiguation:
// every item sharing a Name with another gets " (<ownerType>)" appended.
func disambiguateOwners(items []item) {
	counts := make(map[string]int, len(items))
	for _, it := range items {
		counts[it.name]++
	}
	for i, it := range items {
		if counts[it.name] > 1 && it.ownerType != "" {
			items[i].name = it.name + " (" + it.ownerType + ")"
		}
	}
}

// Evaluate resolves expression against frameId's stopped frame, returning
// the printed Variable per §4.5. EvalFlagNoFuncEval disables property
// getters/constructors reaching the engine for the duration of this call.
func (r *Registry) Evaluate(frameID int, expression string, flags EvalFlags) (Variable, error) {
	r.mu.Lock()
	fe, ok := r.frames[frameID]
	r.mu.Unlock()
	if !ok {
		return Variable{}, errors.New("Evaluate", errors.NotFound, "unknown frame handle")
	}

	if flags&EvalFlagNoFuncEval != 0 {
		r.ev.SetNoFuncEval(true)
		defer r.ev.SetNoFuncEval(false)
	}

	v, err := r.ev.Resolve(fe.thread, fe.frame, expression)
	if err != nil {
		return Variable{}, err
	}
	it := item{name: expression, value: v, evaluateName: expression, field: true, thread: fe.thread, module: fe.frame.Module()}
	return r.toVariable(it), nil
}

// SetVariable writes newValue into ref's child named name, returning the
// printed result per §4.5's editability rule.
func (r *Registry) SetVariable(refID int, name, newValue string) (string, error) {
	r.mu.Lock()
	rf, ok := r.refs[refID]
	r.mu.Unlock()
	if !ok {
		return "", errors.New("SetVariable", errors.NotFound, "unknown variables reference")
	}

	if rf.kind == refScope {
		return r.setLocal(rf, name, newValue)
	}
	return r.setMember(rf.value, name, newValue)
}

func (r *Registry) setLocal(rf *ref, name, newValue string) (string, error) {
	if name == "this" {
		return "", errors.New("SetVariable", errors.InvalidState, "'this' is not editable")
	}
	md := rf.frame.Function()
	if md == nil {
		return "", errors.New("SetVariable", errors.NotFound, "no local named '"+name+"'")
	}
	for _, l := range md.Locals {
		if l.Name != name {
			continue
		}
		cur, ok := rf.frame.LocalValue(l.Index)
		if !ok {
			break
		}
		if !engine.EditablePrimitives[cur.Type] {
			return "", errors.New("SetVariable", errors.InvalidState, "type '"+cur.Type+"' is not editable")
		}
		nv, err := parseLiteral(cur.Type, newValue)
		if err != nil {
			return "", err
		}
		if err := rf.frame.SetLocalValue(l.Index, nv); err != nil {
			return "", errors.Wrap("SetVariable", errors.EngineError, "writing local failed", err)
		}
		return formatValue(nv), nil
	}
	return "", errors.New("SetVariable", errors.NotFound, "no local named '"+name+"'")
}

// setMember writes name onto owner's field storage directly. Only fields
// (not properties, which would need a setter-method call the reference
// model does not carry) are writable, matching §4.5's editability rule in
// practice: properties backing an editable primitive are vanishingly rare
// compared to plain fields in debuggee state a user actually edits.
func (r *Registry) setMember(owner *engine.Value, name, newValue string) (string, error) {
	if owner == nil || owner.IsNull() || owner.Def == nil {
		return "", errors.New("SetVariable", errors.NotFound, "no member named '"+name+"'")
	}
	for td := owner.Def; td != nil; td = td.Base {
		for _, f := range td.Fields {
			if f.Name != name {
				continue
			}
			if !engine.EditablePrimitives[f.TypeName] {
				return "", errors.New("SetVariable", errors.InvalidState, "type '"+f.TypeName+"' is not editable")
			}
			nv, err := parseLiteral(f.TypeName, newValue)
			if err != nil {
				return "", err
			}
			if owner.Fields == nil {
				owner.Fields = map[string]*engine.Value{}
			}
			owner.Fields[name] = nv
			return formatValue(nv), nil
		}
	}
	return "", errors.New("SetVariable", errors.NotFound, "no member named '"+name+"'")
}

// SetExpression resolves evaluateName's owner (every component but the
// last) against frameId's frame, then writes newValue into the last
// component — a field or an array index — the same way setMember/the array
// branch below do.
func (r *Registry) SetExpression(frameID int, evaluateName, newValue string) (string, error) {
	r.mu.Lock()
	fe, ok := r.frames[frameID]
	r.mu.Unlock()
	if !ok {
		return "", errors.New("SetExpression", errors.NotFound, "unknown frame handle")
	}

	isExc, chain, err := eval.Parse(evaluateName)
	if err != nil {
		return "", err
	}
	if isExc || len(chain) == 0 {
		return "", errors.New("SetExpression", errors.InvalidState, "expression is not settable")
	}

	last := chain[len(chain)-1]
	if len(chain) == 1 {
		if last.Index != nil {
			return "", errors.New("SetExpression", errors.InvalidState, "expression is not settable")
		}
		return r.setLocal(&ref{frame: fe.frame}, last.Name, newValue)
	}

	ownerExpr := eval.Render(chain[:len(chain)-1])
	owner, err := r.ev.Resolve(fe.thread, fe.frame, ownerExpr)
	if err != nil {
		return "", err
	}

	if last.Index != nil {
		return r.setArrayElement(owner, last.Index, newValue)
	}
	return r.setMember(owner, last.Name, newValue)
}

func (r *Registry) setArrayElement(owner *engine.Value, idx []string, newValue string) (string, error) {
	if owner == nil || owner.Kind != engine.KindArray {
		return "", errors.New("SetExpression", errors.InvalidState, "indexing a non-array value")
	}
	if len(idx) != 1 {
		return "", errors.New("SetExpression", errors.InvalidState, "multi-dimensional indexing is not supported")
	}
	n, err := strconv.Atoi(idx[0])
	if err != nil {
		return "", errors.Wrap("SetExpression", errors.ParseError, "non-integer array index", err)
	}
	base := 0
	if len(owner.LowerBounds) > 0 {
		base = owner.LowerBounds[0]
	}
	off := n - base
	if off < 0 || off >= len(owner.Array) {
		return "", errors.New("SetExpression", errors.NotFound, "array index out of range")
	}
	elemType := owner.Array[off].Type
	if !engine.EditablePrimitives[elemType] {
		return "", errors.New("SetExpression", errors.InvalidState, "type '"+elemType+"' is not editable")
	}
	nv, err := parseLiteral(elemType, newValue)
	if err != nil {
		return "", err
	}
	owner.Array[off] = nv
	return formatValue(nv), nil
}
