// Package dap implements a Debug Adapter Protocol front end over the
// debugger controller: Content-Length-framed JSON messages carrying DAP's
// request/response/event envelope, translated to and from
// internal/debugger.Controller calls and Events.
//
// Grounded on the teacher's pkg/lsp (server.go's Content-Length framing and
// protocol.go's request/response/notification envelope), generalized from
// JSON-RPC 2.0's envelope to DAP's seq/request_seq numbering.
package dap

import "encoding/json"

// ProtocolMessage is the envelope every DAP message shares.
type ProtocolMessage struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"`
}

// Request is a client-to-adapter DAP request.
type Request struct {
	ProtocolMessage
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response is an adapter-to-client DAP response.
type Response struct {
	ProtocolMessage
	RequestSeq int         `json:"request_seq"`
	Success    bool        `json:"success"`
	Command    string      `json:"command"`
	Message    string      `json:"message,omitempty"`
	Body       interface{} `json:"body,omitempty"`
}

// Event is an adapter-to-client DAP event.
type Event struct {
	ProtocolMessage
	Event string      `json:"event"`
	Body  interface{} `json:"body,omitempty"`
}

type source struct {
	Path string `json:"path"`
}

type sourceBreakpoint struct {
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
}

type launchArgs struct {
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
}

type attachArgs struct {
	ProcessID int `json:"processId"`
}

type setBreakpointsArgs struct {
	Source      source             `json:"source"`
	Breakpoints []sourceBreakpoint `json:"breakpoints"`
}

type setFunctionBreakpointsArgs struct {
	Breakpoints []struct {
		Name      string `json:"name"`
		Condition string `json:"condition,omitempty"`
	} `json:"breakpoints"`
}

type exceptionFilterOptions struct {
	FilterID string `json:"filterId"`
}

type setExceptionBreakpointsArgs struct {
	Filters        []string                 `json:"filters"`
	FilterOptions  []exceptionFilterOptions  `json:"filterOptions,omitempty"`
}

type threadArgs struct {
	ThreadID int `json:"threadId"`
}

type stackTraceArgs struct {
	ThreadID   int `json:"threadId"`
	StartFrame int `json:"startFrame"`
	Levels     int `json:"levels"`
}

type variablesArgs struct {
	VariablesReference int    `json:"variablesReference"`
	Filter             string `json:"filter,omitempty"`
	Start              int    `json:"start,omitempty"`
	Count              int    `json:"count,omitempty"`
}

type setVariableArgs struct {
	VariablesReference int    `json:"variablesReference"`
	Name               string `json:"name"`
	Value              string `json:"value"`
}

type evaluateArgs struct {
	Expression string `json:"expression"`
	FrameID    int    `json:"frameId"`
}

type setExpressionArgs struct {
	Expression string `json:"expression"`
	Value      string `json:"value"`
	FrameID    int    `json:"frameId"`
}

type disconnectArgs struct {
	TerminateDebuggee bool `json:"terminateDebuggee"`
}

// stackFrameBody is the subset of a DAP StackFrame body this adapter fills
// in; frames without a resolved source omit Source/Line/Column entirely.
type stackFrameBody struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	Source  *source `json:"source,omitempty"`
	Line    int     `json:"line,omitempty"`
	Column  int     `json:"column,omitempty"`
}
