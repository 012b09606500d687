// Package errors implements the debugger's error taxonomy and user-facing
// formatting. Adapted from the teacher's pkg/errors: the same
// Error()-plus-colored-FormatError shape, generalized from "compile error at
// a source line" to "debugger operation failed with a Code", and using
// fatih/color instead of raw ANSI escapes so color auto-disables on
// non-terminal outputs (piped MI/DAP transports).
package errors

import (
	"fmt"

	"github.com/fatih/color"
)

// Code classifies a debugger-level failure.
type Code int

const (
	// NotFound: a thread, frame, module, breakpoint id, or variable handle
	// named by the caller does not exist.
	NotFound Code = iota
	// InvalidState: the operation isn't valid in the controller's current
	// lifecycle state (e.g. stepping while the process is running).
	InvalidState
	// EvalFailed: a function-eval was attempted but could not run; see
	// EvalFailure for the specific reason.
	EvalFailed
	// ResolveFailed: a breakpoint or expression could not be resolved
	// against currently loaded modules.
	ResolveFailed
	// EngineError: the underlying native engine reported a failure that
	// doesn't map to any of the above.
	EngineError
	// ParseError: an expression or literal failed to parse.
	ParseError
	// ProcessGone: the debuggee process has exited or was never attached.
	ProcessGone
)

func (c Code) String() string {
	switch c {
	case NotFound:
		return "NotFound"
	case InvalidState:
		return "InvalidState"
	case EvalFailed:
		return "EvalFailed"
	case ResolveFailed:
		return "ResolveFailed"
	case EngineError:
		return "EngineError"
	case ParseError:
		return "ParseError"
	case ProcessGone:
		return "ProcessGone"
	default:
		return "Unknown"
	}
}

// EvalReason narrows an EvalFailed error to one of the mandatory
// function-eval failure cases.
type EvalReason int

const (
	EvalReasonNone EvalReason = iota
	EvalOptimizedCode
	EvalGCUnsafePoint
	EvalStackOverflow
	EvalAppDomainMismatch
	EvalFunctionNotIL
	EvalBadStartingPoint
	EvalTimeout
	EvalDisabled
	EvalAborted
)

func (r EvalReason) String() string {
	switch r {
	case EvalOptimizedCode:
		return "optimized code on the call stack"
	case EvalGCUnsafePoint:
		return "thread stopped at a GC-unsafe point"
	case EvalStackOverflow:
		return "thread is in a stack-overflow state"
	case EvalAppDomainMismatch:
		return "target function lives in a different app domain"
	case EvalFunctionNotIL:
		return "target function has no IL body"
	case EvalBadStartingPoint:
		return "thread cannot currently be used as an eval starting point"
	case EvalTimeout:
		return "evaluation timed out"
	case EvalDisabled:
		return "evaluation is disabled for this session"
	case EvalAborted:
		return "evaluation was aborted"
	default:
		return ""
	}
}

// DebugError is the concrete error type returned by every internal/*
// package. Callers type-assert to it to recover Code and (for EvalFailed)
// Reason, rather than string-matching messages.
type DebugError struct {
	Op     string // the operation that failed, e.g. "SetLineBreakpoints"
	Code   Code
	Reason EvalReason // only meaningful when Code == EvalFailed
	Detail string
	Cause  error
}

func (e *DebugError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Detail)
}

func (e *DebugError) Unwrap() error { return e.Cause }

// New builds a DebugError with no wrapped cause.
func New(op string, code Code, detail string) *DebugError {
	return &DebugError{Op: op, Code: code, Detail: detail}
}

// Wrap builds a DebugError that carries an underlying cause.
func Wrap(op string, code Code, detail string, cause error) *DebugError {
	return &DebugError{Op: op, Code: code, Detail: detail, Cause: cause}
}

// EvalFailure builds an EvalFailed DebugError for one of the mandatory
// failure cases.
func EvalFailure(op string, reason EvalReason, detail string) *DebugError {
	return &DebugError{Op: op, Code: EvalFailed, Reason: reason, Detail: detail}
}

var (
	errorLabel = color.New(color.Bold, color.FgRed)
	codeLabel  = color.New(color.FgYellow)
	reasonText = color.New(color.FgCyan)
)

// FormatForUser renders err the way a human-facing CLI front-end should
// display it: colored when the cobra-level color policy allows it (color
// auto-detects non-tty output and no-ops), plain otherwise.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}
	de, ok := err.(*DebugError)
	if !ok {
		return errorLabel.Sprint("error: ") + err.Error()
	}

	msg := errorLabel.Sprint("error: ") + codeLabel.Sprint(de.Code.String())
	if de.Detail != "" {
		msg += ": " + de.Detail
	}
	if de.Code == EvalFailed && de.Reason != EvalReasonNone {
		msg += " (" + reasonText.Sprint(de.Reason.String()) + ")"
	}
	if de.Cause != nil {
		msg += fmt.Sprintf(": %v", de.Cause)
	}
	return msg
}

// Is reports whether err is a DebugError with the given Code, walking
// Unwrap chains the way errors.Is does for sentinel errors.
func Is(err error, code Code) bool {
	for err != nil {
		if de, ok := err.(*DebugError); ok {
			return de.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
