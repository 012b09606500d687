// Package breakpoints implements the breakpoint manager: §4.3's storage,
// resolution, hit identification, and exception-filter matching for line,
// function, exception, and entry-point breakpoints.
//
// Grounded on spec.md §4.3 and on original_source's breakpoints.cpp for the
// resolution/hit-identification ordering (canonical file lookup falling
// back to basename, entry-point matched before line/function). The registry
// shape (two maps plus a shared id counter, guarded by one mutex) follows
// the teacher's pkg/debug breakpoint-table pattern.
package breakpoints

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/frames"
	"github.com/Samsung/netcoredbg-sub001/internal/logging"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
)

// ExceptionCategory classifies where an exception event originated.
type ExceptionCategory int

const (
	CategoryCLR ExceptionCategory = iota
	CategoryMDA
)

func (c ExceptionCategory) String() string {
	if c == CategoryMDA {
		return "MDA"
	}
	return "CLR"
}

// ExceptionFilter selects which stage of an exception's lifecycle a
// breakpoint reacts to.
type ExceptionFilter int

const (
	FilterThrow ExceptionFilter = iota
	FilterUserUnhandled
	FilterThrowUserUnhandled
	FilterUnhandled
)

// LineBreakpoint is a source-line breakpoint, pending or resolved.
type LineBreakpoint struct {
	ID           int
	Module       string // optional module-name constraint, "" = any
	FileFullName string
	Line         int
	Condition    string
	Enabled      bool

	Resolved *engine.CodeLocation // nil until resolution succeeds
	Native   engine.NativeBreakpoint
	HitCount int
}

// FunctionResolution is one module/method instance a FunctionBreakpoint has
// resolved against; one logical breakpoint may hold several.
type FunctionResolution struct {
	ModuleBase  engine.ModuleBase
	MethodToken engine.MethodToken
	Native      engine.NativeBreakpoint
}

// FunctionBreakpoint is a by-name breakpoint, matched by suffix against
// every loaded module's methods.
type FunctionBreakpoint struct {
	ID             int
	Module         string // optional module-name constraint, "" = any
	MethodName     string
	ParamSignature string
	Condition      string

	Resolved []FunctionResolution
	HitCount int
}

// ExceptionBreakpoint matches first-chance/user-unhandled/unhandled
// exception events by type-name set membership.
type ExceptionBreakpoint struct {
	ID        int
	Category  ExceptionCategory
	Filter    ExceptionFilter
	Condition map[string]bool // nil ⇒ match any type
	Negate    bool
}

// EntryBreakpoint is the process's single entry-point breakpoint, installed
// by parsing the main module's image headers (see tryResolveEntryLocked in
// resolve.go).
type EntryBreakpoint struct {
	ModuleBase engine.ModuleBase
	Token      engine.MethodToken
	Native     engine.NativeBreakpoint
}

// EventKind classifies a BreakpointEvent emitted by resolution.
type EventKind int

const (
	EventNew EventKind = iota
	EventChanged
	EventRemoved
)

// BreakpointEvent reports a resolution-state change for one stored
// breakpoint, for forwarding as a protocol Breakpoint(New|Changed|Removed)
// event.
type BreakpointEvent struct {
	Kind     EventKind
	Line     *LineBreakpoint
	Function *FunctionBreakpoint
}

// ConditionEvaluator evaluates a boolean condition expression in a stopped
// frame. Implemented by internal/eval; declared here (rather than imported)
// to avoid a breakpoints↔eval import cycle, since eval's name resolution
// itself needs to ask the breakpoint manager nothing, but future condition
// evaluation could in principle need frame/variable context eval owns.
type ConditionEvaluator interface {
	EvaluateCondition(thread engine.Thread, frame engine.Frame, expression string) (bool, error)
}

// Manager owns every stored breakpoint, guarded by its own mutex per the
// concurrency model's breakpointsMutex.
type Manager struct {
	mu sync.Mutex

	nextID int

	byFileLine     map[string]map[int]*LineBreakpoint
	byQualifiedName map[string]*FunctionBreakpoint
	exceptions     []*ExceptionBreakpoint
	entry          *EntryBreakpoint

	mods    *modules.Registry
	process engine.Process
	walker  *frames.Walker
	cond    ConditionEvaluator
	log     *logging.Scoped
}

// New creates an empty breakpoint manager.
func New(mods *modules.Registry, process engine.Process, cond ConditionEvaluator, log *logging.Scoped) *Manager {
	return &Manager{
		nextID:          1,
		byFileLine:      make(map[string]map[int]*LineBreakpoint),
		byQualifiedName: make(map[string]*FunctionBreakpoint),
		mods:            mods,
		process:         process,
		walker:          frames.New(),
		cond:            cond,
		log:             log,
	}
}

func (mgr *Manager) allocID() int {
	id := mgr.nextID
	mgr.nextID++
	return id
}

// functionKey builds the "<module>!<name><params>" storage key §4.3 names.
func functionKey(module, name, params string) string {
	return fmt.Sprintf("%s!%s%s", module, name, params)
}

// ForEachLine visits every stored line breakpoint across every file, for
// callers that need the full set without a per-file key.
func (mgr *Manager) ForEachLine(cb func(*LineBreakpoint)) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, byLine := range mgr.byFileLine {
		for _, lb := range byLine {
			cb(lb)
		}
	}
}

// ForEachFunction visits every stored function breakpoint.
func (mgr *Manager) ForEachFunction(cb func(*FunctionBreakpoint)) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, fb := range mgr.byQualifiedName {
		cb(fb)
	}
}

// DisableAll deactivates and releases every native breakpoint handle this
// manager holds — line, function, and entry — without removing the stored
// records, the "disable all breakpoints" step of Disconnect's teardown
// (§4.6). The storage maps stay intact in case the caller is torn down
// rather than actually exiting (a future resume would otherwise have lost
// track of what the user asked for).
func (mgr *Manager) DisableAll() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	for _, byLine := range mgr.byFileLine {
		for _, lb := range byLine {
			mgr.releaseLineLocked(lb)
		}
	}
	for _, fb := range mgr.byQualifiedName {
		mgr.releaseFunctionLocked(fb)
	}
	if mgr.entry != nil && mgr.entry.Native != nil {
		mgr.entry.Native.Activate(false)
		mgr.entry.Native.Release()
		mgr.entry = nil
	}
}

// LineRequest is one requested (line, condition) pair for SetLineBreakpoints.
type LineRequest struct {
	Line      int
	Condition string
}

// SetLineBreakpoints replaces the stored breakpoint set for file with
// exactly the lines in reqs: existing entries matching a requested line have
// their condition updated in place; new lines are allocated fresh ids and
// resolved immediately; stored lines absent from reqs are removed (which
// deactivates and releases their native handle).
func (mgr *Manager) SetLineBreakpoints(file string, reqs []LineRequest) []*LineBreakpoint {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	existing := mgr.byFileLine[file]
	if existing == nil {
		existing = make(map[int]*LineBreakpoint)
	}

	wanted := make(map[int]bool, len(reqs))
	result := make([]*LineBreakpoint, 0, len(reqs))

	for _, req := range reqs {
		wanted[req.Line] = true
		if lb, ok := existing[req.Line]; ok {
			lb.Condition = req.Condition
			result = append(result, lb)
			continue
		}
		lb := &LineBreakpoint{
			ID:           mgr.allocID(),
			FileFullName: file,
			Line:         req.Line,
			Condition:    req.Condition,
			Enabled:      true,
		}
		mgr.resolveLineLocked(lb)
		existing[req.Line] = lb
		result = append(result, lb)
	}

	for line, lb := range existing {
		if !wanted[line] {
			mgr.releaseLineLocked(lb)
			delete(existing, line)
		}
	}

	mgr.byFileLine[file] = existing
	return result
}

// DeleteLineBreakpoints removes stored line breakpoints by id, across all
// files.
func (mgr *Manager) DeleteLineBreakpoints(ids []int) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for file, byLine := range mgr.byFileLine {
		for line, lb := range byLine {
			if want[lb.ID] {
				mgr.releaseLineLocked(lb)
				delete(byLine, line)
			}
		}
		if len(byLine) == 0 {
			delete(mgr.byFileLine, file)
		}
	}
}

// FunctionRequest is one requested function breakpoint for SetFunctionBreakpoints.
type FunctionRequest struct {
	Module         string
	Name           string
	ParamSignature string
	Condition      string
}

// SetFunctionBreakpoints replaces the stored function breakpoint set,
// matching SetLineBreakpoints' replace discipline but keyed by
// "<module>!<name><params>".
func (mgr *Manager) SetFunctionBreakpoints(reqs []FunctionRequest) []*FunctionBreakpoint {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	wanted := make(map[string]bool, len(reqs))
	result := make([]*FunctionBreakpoint, 0, len(reqs))

	for _, req := range reqs {
		key := functionKey(req.Module, req.Name, req.ParamSignature)
		wanted[key] = true
		if fb, ok := mgr.byQualifiedName[key]; ok {
			fb.Condition = req.Condition
			result = append(result, fb)
			continue
		}
		fb := &FunctionBreakpoint{
			ID:             mgr.allocID(),
			Module:         req.Module,
			MethodName:     req.Name,
			ParamSignature: req.ParamSignature,
			Condition:      req.Condition,
		}
		mgr.resolveFunctionLocked(fb)
		mgr.byQualifiedName[key] = fb
		result = append(result, fb)
	}

	for key, fb := range mgr.byQualifiedName {
		if !wanted[key] {
			mgr.releaseFunctionLocked(fb)
			delete(mgr.byQualifiedName, key)
		}
	}

	return result
}

// DeleteFuncBreakpoints removes stored function breakpoints by id.
func (mgr *Manager) DeleteFuncBreakpoints(ids []int) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for key, fb := range mgr.byQualifiedName {
		if want[fb.ID] {
			mgr.releaseFunctionLocked(fb)
			delete(mgr.byQualifiedName, key)
		}
	}
}

// SetExceptionBreakpoints replaces the entire exception breakpoint set.
func (mgr *Manager) SetExceptionBreakpoints(specs []ExceptionBreakpoint) []*ExceptionBreakpoint {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	out := make([]*ExceptionBreakpoint, 0, len(specs))
	for i := range specs {
		eb := specs[i]
		eb.ID = mgr.allocID()
		out = append(out, &eb)
	}
	mgr.exceptions = out
	return append([]*ExceptionBreakpoint(nil), out...)
}

// DeleteExceptionBreakpoints removes stored exception breakpoints by id.
func (mgr *Manager) DeleteExceptionBreakpoints(ids []int) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	kept := mgr.exceptions[:0]
	for _, eb := range mgr.exceptions {
		if !want[eb.ID] {
			kept = append(kept, eb)
		}
	}
	mgr.exceptions = kept
}

func (mgr *Manager) releaseLineLocked(lb *LineBreakpoint) {
	if lb.Native != nil {
		lb.Native.Activate(false)
		lb.Native.Release()
		lb.Native = nil
	}
	lb.Resolved = nil
}

func (mgr *Manager) releaseFunctionLocked(fb *FunctionBreakpoint) {
	for _, inst := range fb.Resolved {
		if inst.Native != nil {
			inst.Native.Activate(false)
			inst.Native.Release()
		}
	}
	fb.Resolved = nil
}

// findModuleByName returns the registered module whose base name equals
// name, or nil if name is empty (no constraint) or nothing matches.
func (mgr *Manager) findModuleByName(name string) *modules.Module {
	if name == "" {
		return nil
	}
	var found *modules.Module
	mgr.mods.ForEachModule(func(m *modules.Module) bool {
		if filepath.Base(m.Name) == name || m.Name == name {
			found = m
			return false
		}
		return true
	})
	return found
}
