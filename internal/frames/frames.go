// Package frames implements the frame walker: §4.2's unified walk over
// managed, internal marker, and native frames, stitched by stack address
// into one ordered stack trace.
//
// Grounded on spec.md §4.2's state-machine description (itself distilled
// from netcoredbg's stack-walk stitching) and on the teacher's pkg/debug
// for the StackFrame/CallFrame naming convention.
package frames

import (
	"github.com/Samsung/netcoredbg-sub001/internal/engine"
)

// Kind mirrors engine.FrameKind for the walker's output, plus the
// synthesized frame that callers see (never a FrameRuntimeUnwindable —
// those are dropped before they reach a callback).
type Kind int

const (
	Managed Kind = iota
	Internal
	Native
)

// StackFrame is one entry in a produced stack trace.
type StackFrame struct {
	Kind Kind

	// AddressStart is the frame's stack-range start, used for ordering.
	AddressStart uint64

	Managed      engine.Frame // non-nil iff Kind == Managed
	InternalName string       // non-empty iff Kind == Internal
	NativeSymbol string       // non-empty iff Kind == Native; "?" when unknown
}

// Walker produces ordered stack traces from a Thread's raw engine walk.
type Walker struct{}

// New creates a Walker. It carries no state: all stitching state lives on
// the stack of one WalkFrames call, per spec.md §4.2.
func New() *Walker { return &Walker{} }

// unmanagedChain tracks the native gap's context: the stack-address bounds
// seen since the last managed frame, and the internal markers buffered
// inside that gap (they may be sandwiched inside native code, per §4.2).
type unmanagedChain struct {
	active      bool
	chainStart  uint64 // AddressStart of the native frame that opened the gap
	buffered    []StackFrame
}

// WalkFrames drives cb with every stitched frame for thread, topmost first.
// cb returning false stops the walk early (its return value is not
// propagated further — WalkFrames always finishes stitching any pending
// buffer before returning, so no frame is silently dropped on early stop
// other than those after the cutoff).
func (w *Walker) WalkFrames(thread engine.Thread, cb func(StackFrame) bool) {
	var (
		savedManaged *StackFrame
		gap          unmanagedChain
		stopped      bool
	)

	emit := func(f StackFrame) {
		if stopped {
			return
		}
		if !cb(f) {
			stopped = true
		}
	}

	flushGap := func(upperBound uint64) {
		if !gap.active || stopped {
			gap.buffered = nil
			gap.active = false
			return
		}
		// Order the buffered internal frames (and the synthetic native-gap
		// frame itself) by ascending stack address, per §4.2.
		all := append([]StackFrame{{Kind: Native, AddressStart: gap.chainStart, NativeSymbol: "?"}}, gap.buffered...)
		sortByAddress(all)
		for _, f := range all {
			if f.AddressStart >= upperBound {
				continue
			}
			emit(f)
		}
		gap.buffered = nil
		gap.active = false
	}

	thread.Walk(func(raw engine.RawFrame) bool {
		if stopped {
			return false
		}
		switch raw.Kind {
		case engine.FrameRuntimeUnwindable:
			return true

		case engine.FrameNative:
			gap.active = true
			gap.chainStart = raw.AddressStart
			savedManaged = nil
			return true

		case engine.FrameInternal:
			if gap.active {
				gap.buffered = append(gap.buffered, StackFrame{Kind: Internal, AddressStart: raw.AddressStart, InternalName: raw.InternalName})
				return true
			}
			emit(StackFrame{Kind: Internal, AddressStart: raw.AddressStart, InternalName: raw.InternalName})
			return true

		case engine.FrameManaged:
			flushGap(raw.AddressStart)
			mf := StackFrame{Kind: Managed, AddressStart: raw.AddressStart, Managed: raw.Managed}
			savedManaged = &mf
			emit(mf)
			return true
		}
		return true
	})

	_ = savedManaged
	flushGap(^uint64(0))
}

func sortByAddress(frames []StackFrame) {
	for i := 1; i < len(frames); i++ {
		for j := i; j > 0 && frames[j].AddressStart < frames[j-1].AddressStart; j-- {
			frames[j], frames[j-1] = frames[j-1], frames[j]
		}
	}
}

// GetStackTrace returns frames[startFrame:startFrame+levels) (levels == 0
// means unbounded) plus the total walked frame count.
func (w *Walker) GetStackTrace(thread engine.Thread, startFrame, levels int) ([]StackFrame, int) {
	var all []StackFrame
	w.WalkFrames(thread, func(f StackFrame) bool {
		all = append(all, f)
		return true
	})

	total := len(all)
	if startFrame >= total {
		return nil, total
	}
	end := total
	if levels > 0 && startFrame+levels < total {
		end = startFrame + levels
	}
	return all[startFrame:end], total
}

// GetFrameAt returns the single frame at the given zero-based level.
func (w *Walker) GetFrameAt(thread engine.Thread, level int) (StackFrame, bool) {
	frames, _ := w.GetStackTrace(thread, level, 1)
	if len(frames) == 0 {
		return StackFrame{}, false
	}
	return frames[0], true
}
