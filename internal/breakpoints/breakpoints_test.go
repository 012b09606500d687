package breakpoints

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/engine/refengine"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
)

func newTestProgram() *refengine.Program {
	prog := refengine.NewProgram()
	prog.Methods[100] = &refengine.Method{
		Def: &engine.MethodDef{
			Token:         100,
			Name:          "Main",
			QualifiedName: "Prog.Main",
			SequencePoints: []engine.SequencePoint{
				{Offset: 0, StartLine: 10, Document: "Prog.cs"},
				{Offset: 5, StartLine: 11, Document: "Prog.cs"},
			},
		},
	}
	return prog
}

func newTestRegistry(t *testing.T) (*modules.Registry, *refengine.Process, *modules.Module) {
	t.Helper()
	prog := newTestProgram()
	proc := refengine.New()
	native := refengine.NewNativeModule(prog, 1, "Prog.dll", "/tmp/Prog.dll", 4096, [16]byte{1})
	proc.LoadProgram(prog, 1, native)

	reg := modules.New(nil, false)
	mod, err := reg.TryLoad(native)
	require.NoError(t, err)
	return reg, proc, mod
}

func TestLineBreakpoint_ResolvesAndHits(t *testing.T) {
	reg, proc, _ := newTestRegistry(t)
	mgr := New(reg, proc, nil, nil)

	bps := mgr.SetLineBreakpoints("Prog.cs", []LineRequest{{Line: 10}})
	require.Len(t, bps, 1)
	lb := bps[0]
	require.NotNil(t, lb.Resolved)
	require.NotNil(t, lb.Native)
	require.Equal(t, 1, lb.ID, "single shared counter starting at 1")

	thread, ok := proc.Thread(1)
	require.True(t, ok, "main thread not found")

	hit := mgr.HitBreakpoint(thread, lb.Native)
	require.Equal(t, lb, hit.Line)
	require.True(t, hit.Stop)
	require.False(t, hit.AtEntry)
	require.Equal(t, 1, lb.HitCount)

	// A second identical line set must keep the same id/native handle.
	again := mgr.SetLineBreakpoints("Prog.cs", []LineRequest{{Line: 10}})
	require.Equal(t, lb.ID, again[0].ID, "re-set with same line should not reallocate")
	require.Equal(t, lb.Native, again[0].Native)

	// Dropping the line from the set must release the native handle.
	mgr.SetLineBreakpoints("Prog.cs", nil)
	require.Nil(t, lb.Native, "breakpoint not released after removal")
	require.Nil(t, lb.Resolved)
}

func TestFunctionBreakpoint_SuffixMatchResolves(t *testing.T) {
	reg, proc, _ := newTestRegistry(t)
	mgr := New(reg, proc, nil, nil)

	bps := mgr.SetFunctionBreakpoints([]FunctionRequest{{Name: "Main"}})
	require.Len(t, bps, 1)
	fb := bps[0]
	require.Len(t, fb.Resolved, 1)

	thread, _ := proc.Thread(1)
	hit := mgr.HitBreakpoint(thread, fb.Resolved[0].Native)
	require.Equal(t, fb, hit.Function)
	require.True(t, hit.Stop)
	require.Equal(t, 1, fb.HitCount)
}

func TestLineAndFunctionBreakpoints_ShareOneIDCounter(t *testing.T) {
	reg, proc, _ := newTestRegistry(t)
	mgr := New(reg, proc, nil, nil)

	line := mgr.SetLineBreakpoints("Prog.cs", []LineRequest{{Line: 10}})
	fn := mgr.SetFunctionBreakpoints([]FunctionRequest{{Name: "Main"}})
	require.NotEqual(t, fn[0].ID, line[0].ID, "expected distinct ids across kinds")
	require.Equal(t, line[0].ID+1, fn[0].ID, "expected the shared counter to keep incrementing")
}

func TestExceptionBreakpoint_ConditionAndStageMatching(t *testing.T) {
	mgr := New(nil, nil, nil, nil)

	set := mgr.SetExceptionBreakpoints([]ExceptionBreakpoint{
		{Category: CategoryCLR, Filter: FilterThrowUserUnhandled, Condition: map[string]bool{"System.ArgumentException": true}},
		{Category: CategoryCLR, Filter: FilterUnhandled, Negate: true, Condition: map[string]bool{"System.IO.IOException": true}},
	})
	require.Len(t, set, 2)

	matched := mgr.MatchExceptionBreakpoints(CategoryCLR, engine.ExceptionFirstChance, "System.ArgumentException")
	require.Len(t, matched, 1, "first-chance ArgumentException should match breakpoint 0 only")
	require.Equal(t, set[0], matched[0])

	matched = mgr.MatchExceptionBreakpoints(CategoryCLR, engine.ExceptionUnhandled, "System.NullReferenceException")
	require.Len(t, matched, 1, "unhandled non-IOException should match the negated breakpoint")
	require.Equal(t, set[1], matched[0])

	matched = mgr.MatchExceptionBreakpoints(CategoryCLR, engine.ExceptionUnhandled, "System.IO.IOException")
	require.Empty(t, matched, "negated condition must exclude the named type")
}

func TestDeleteLineBreakpoints(t *testing.T) {
	reg, proc, _ := newTestRegistry(t)
	mgr := New(reg, proc, nil, nil)

	bps := mgr.SetLineBreakpoints("Prog.cs", []LineRequest{{Line: 10}, {Line: 11}})
	mgr.DeleteLineBreakpoints([]int{bps[0].ID})

	remaining := mgr.SetLineBreakpoints("Prog.cs", []LineRequest{{Line: 11}})
	require.Len(t, remaining, 1)
	require.Equal(t, bps[1].ID, remaining[0].ID, "expected only line 11 to remain")
}
