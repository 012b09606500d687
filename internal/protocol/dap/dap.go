package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/Samsung/netcoredbg-sub001/internal/breakpoints"
	"github.com/Samsung/netcoredbg-sub001/internal/debugger"
	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/frames"
	"github.com/Samsung/netcoredbg-sub001/internal/variables"
)

// Adapter is a DAP session bound to one Controller and one byte-stream
// transport (stdio, or a websocket wrapped as an io.ReadWriter).
type Adapter struct {
	ctrl   *debugger.Controller
	reader *bufio.Reader
	writer io.Writer

	writeMu sync.Mutex
	seq     int
}

// New creates an Adapter. r and w are typically os.Stdin and os.Stdout, or
// both the *Conn returned by Accept when the configured transport is "ws".
func New(ctrl *debugger.Controller, r io.Reader, w io.Writer) *Adapter {
	return &Adapter{ctrl: ctrl, reader: bufio.NewReader(r), writer: w}
}

// Start drains the Controller's event stream onto its own goroutine and
// then runs the request loop until EOF.
func (a *Adapter) Start() error {
	go a.forwardEvents()

	for {
		msg, err := a.readMessage()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		a.handleRequest(&req)
	}
}

// readMessage parses one Content-Length-framed JSON payload, the same
// header-then-body shape the teacher's LSP server reads.
func (a *Adapter) readMessage() (json.RawMessage, error) {
	headers := make(map[string]string)
	for {
		line, err := a.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	lengthStr, ok := headers["Content-Length"]
	if !ok {
		return nil, fmt.Errorf("dap: missing Content-Length header")
	}
	length, err := strconv.Atoi(lengthStr)
	if err != nil {
		return nil, fmt.Errorf("dap: invalid Content-Length: %w", err)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(a.reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (a *Adapter) writeMessage(msg interface{}) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := io.WriteString(a.writer, header); err != nil {
		return err
	}
	_, err = a.writer.Write(body)
	return err
}

func (a *Adapter) nextSeq() int {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.seq++
	return a.seq
}

func (a *Adapter) sendEvent(event string, body interface{}) {
	a.writeMessage(&Event{
		ProtocolMessage: ProtocolMessage{Seq: a.nextSeq(), Type: "event"},
		Event:           event,
		Body:            body,
	})
}

func (a *Adapter) respond(req *Request, body interface{}, err error) {
	resp := &Response{
		ProtocolMessage: ProtocolMessage{Seq: a.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Command:         req.Command,
		Success:         err == nil,
		Body:            body,
	}
	if err != nil {
		resp.Message = err.Error()
	}
	a.writeMessage(resp)
}

// forwardEvents translates Controller events into DAP events for the
// session's lifetime.
func (a *Adapter) forwardEvents() {
	for ev := range a.ctrl.Events() {
		switch ev.Kind {
		case debugger.EventInitialized:
			a.sendEvent("initialized", nil)
		case debugger.EventStopped:
			body := map[string]interface{}{
				"reason":            strings.ToLower(ev.Reason.String()),
				"threadId":          ev.ThreadID,
				"allThreadsStopped": true,
			}
			if ev.Reason == debugger.StopException {
				body["text"] = ev.ExceptionType
				body["description"] = ev.ExceptionMessage
			}
			a.sendEvent("stopped", body)
		case debugger.EventContinued:
			a.sendEvent("continued", map[string]interface{}{"threadId": ev.ThreadID, "allThreadsContinued": true})
		case debugger.EventThreadStarted:
			a.sendEvent("thread", map[string]interface{}{"reason": "started", "threadId": ev.ThreadID})
		case debugger.EventThreadExited:
			a.sendEvent("thread", map[string]interface{}{"reason": "exited", "threadId": ev.ThreadID})
		case debugger.EventModuleNew:
			if ev.Module != nil {
				a.sendEvent("module", map[string]interface{}{"reason": "new", "module": map[string]interface{}{"id": ev.Module.BaseAddress, "name": ev.Module.Name, "path": ev.Module.Path}})
			}
		case debugger.EventOutput:
			a.sendEvent("output", map[string]interface{}{"category": ev.OutputCategory, "output": ev.OutputText + "\n"})
		case debugger.EventBreakpointChanged:
			if ev.Breakpoint != nil {
				a.sendEvent("breakpoint", map[string]interface{}{"reason": "changed", "breakpoint": lineBreakpointBody(ev.Breakpoint)})
			}
			if ev.Function != nil {
				a.sendEvent("breakpoint", map[string]interface{}{"reason": "changed", "breakpoint": map[string]interface{}{"id": ev.Function.ID, "verified": len(ev.Function.Resolved) > 0}})
			}
		case debugger.EventExited:
			a.sendEvent("exited", map[string]interface{}{"exitCode": ev.ExitCode})
		case debugger.EventTerminated:
			a.sendEvent("terminated", nil)
		}
	}
}

func lineBreakpointBody(lb *breakpoints.LineBreakpoint) map[string]interface{} {
	body := map[string]interface{}{
		"id":       lb.ID,
		"verified": lb.Resolved != nil,
		"line":     lb.Line,
	}
	if lb.FileFullName != "" {
		body["source"] = map[string]interface{}{"path": lb.FileFullName}
	}
	return body
}

func (a *Adapter) handleRequest(req *Request) {
	switch req.Command {
	case "initialize":
		a.respond(req, map[string]interface{}{"supportsConfigurationDoneRequest": true, "supportsFunctionBreakpoints": true, "supportsSetVariable": true, "supportsEvaluateForHovers": true}, nil)
	case "launch":
		a.handleLaunch(req)
	case "attach":
		a.handleAttach(req)
	case "configurationDone":
		a.respond(req, nil, a.ctrl.ConfigurationDone())
	case "setBreakpoints":
		a.handleSetBreakpoints(req)
	case "setFunctionBreakpoints":
		a.handleSetFunctionBreakpoints(req)
	case "setExceptionBreakpoints":
		a.handleSetExceptionBreakpoints(req)
	case "threads":
		a.handleThreads(req)
	case "stackTrace":
		a.handleStackTrace(req)
	case "scopes":
		a.handleScopes(req)
	case "variables":
		a.handleVariables(req)
	case "setVariable":
		a.handleSetVariable(req)
	case "evaluate":
		a.handleEvaluate(req)
	case "continue":
		a.respond(req, map[string]interface{}{"allThreadsContinued": true}, a.ctrl.Continue())
	case "next":
		a.respondStep(req, debugger.StepOver)
	case "stepIn":
		a.respondStep(req, debugger.StepIn)
	case "stepOut":
		a.respondStep(req, debugger.StepOut)
	case "pause":
		a.respond(req, nil, a.ctrl.Pause())
	case "disconnect":
		a.handleDisconnect(req)
	default:
		a.respond(req, nil, fmt.Errorf("dap: unsupported command %q", req.Command))
	}
}

func (a *Adapter) handleLaunch(req *Request) {
	var args launchArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		a.respond(req, nil, err)
		return
	}
	a.respond(req, nil, a.ctrl.Launch(args.Program, args.Args))
}

func (a *Adapter) handleAttach(req *Request) {
	var args attachArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		a.respond(req, nil, err)
		return
	}
	a.respond(req, nil, a.ctrl.Attach(args.ProcessID))
}

func (a *Adapter) handleSetBreakpoints(req *Request) {
	var args setBreakpointsArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		a.respond(req, nil, err)
		return
	}
	reqs := make([]breakpoints.LineRequest, len(args.Breakpoints))
	for i, b := range args.Breakpoints {
		reqs[i] = breakpoints.LineRequest{Line: b.Line, Condition: b.Condition}
	}
	set := a.ctrl.Breakpoints().SetLineBreakpoints(args.Source.Path, reqs)
	body := make([]map[string]interface{}, len(set))
	for i, lb := range set {
		body[i] = lineBreakpointBody(lb)
	}
	a.respond(req, map[string]interface{}{"breakpoints": body}, nil)
}

func (a *Adapter) handleSetFunctionBreakpoints(req *Request) {
	var args setFunctionBreakpointsArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		a.respond(req, nil, err)
		return
	}
	reqs := make([]breakpoints.FunctionRequest, len(args.Breakpoints))
	for i, b := range args.Breakpoints {
		reqs[i] = breakpoints.FunctionRequest{Name: b.Name, Condition: b.Condition}
	}
	set := a.ctrl.Breakpoints().SetFunctionBreakpoints(reqs)
	body := make([]map[string]interface{}, len(set))
	for i, fb := range set {
		body[i] = map[string]interface{}{"id": fb.ID, "verified": len(fb.Resolved) > 0}
	}
	a.respond(req, map[string]interface{}{"breakpoints": body}, nil)
}

func (a *Adapter) handleSetExceptionBreakpoints(req *Request) {
	var args setExceptionBreakpointsArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		a.respond(req, nil, err)
		return
	}
	var specs []breakpoints.ExceptionBreakpoint
	for _, f := range args.Filters {
		filter, ok := exceptionFilterFromDAP(f)
		if !ok {
			continue
		}
		specs = append(specs, breakpoints.ExceptionBreakpoint{Category: breakpoints.CategoryCLR, Filter: filter})
	}
	a.ctrl.Breakpoints().SetExceptionBreakpoints(specs)
	a.respond(req, nil, nil)
}

// exceptionFilterFromDAP maps well-known DAP exception filter ids to
// breakpoints.ExceptionFilter. initialize does not advertise an
// exceptionBreakpointFilters capability; unknown ids are ignored.
func exceptionFilterFromDAP(id string) (breakpoints.ExceptionFilter, bool) {
	switch id {
	case "throw":
		return breakpoints.FilterThrow, true
	case "user-unhandled":
		return breakpoints.FilterUserUnhandled, true
	case "throw+user-unhandled":
		return breakpoints.FilterThrowUserUnhandled, true
	case "unhandled":
		return breakpoints.FilterUnhandled, true
	default:
		return 0, false
	}
}

func (a *Adapter) handleThreads(req *Request) {
	threads := a.ctrl.Threads()
	body := make([]map[string]interface{}, len(threads))
	for i, t := range threads {
		body[i] = map[string]interface{}{"id": int(t.ID()), "name": fmt.Sprintf("Thread #%d", t.ID())}
	}
	a.respond(req, map[string]interface{}{"threads": body}, nil)
}

func (a *Adapter) handleStackTrace(req *Request) {
	var args stackTraceArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		a.respond(req, nil, err)
		return
	}
	tid := engine.ThreadID(args.ThreadID)
	stack, total, ok := a.ctrl.GetStackTrace(tid, args.StartFrame, args.Levels)
	if !ok {
		a.respond(req, nil, fmt.Errorf("dap: no such thread %d", args.ThreadID))
		return
	}
	body := make([]stackFrameBody, len(stack))
	for i, sf := range stack {
		id, _ := a.ctrl.RegisterFrame(tid, sf)
		fb := stackFrameBody{ID: id}
		switch sf.Kind {
		case frames.Managed:
			md := sf.Managed.Function()
			fb.Name = md.QualifiedName
			if _, sp, ok := a.ctrl.Modules().GetFrameILAndSequencePoint(sf.Managed); ok && sp.Document != "" {
				fb.Source = &source{Path: sp.Document}
				fb.Line = sp.StartLine
				fb.Column = sp.StartColumn
			}
		case frames.Internal:
			fb.Name = sf.InternalName
		default:
			fb.Name = sf.NativeSymbol
		}
		body[i] = fb
	}
	a.respond(req, map[string]interface{}{"stackFrames": body, "totalFrames": total}, nil)
}

func (a *Adapter) handleScopes(req *Request) {
	var args struct {
		FrameID int `json:"frameId"`
	}
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		a.respond(req, nil, err)
		return
	}
	scopeID, err := a.ctrl.Variables().CreateScope(args.FrameID)
	if err != nil {
		a.respond(req, nil, err)
		return
	}
	scopes, err := a.ctrl.Variables().GetScopes(args.FrameID)
	if err != nil {
		a.respond(req, nil, err)
		return
	}
	_ = scopeID
	body := make([]map[string]interface{}, len(scopes))
	for i, s := range scopes {
		body[i] = map[string]interface{}{"name": s.Name, "variablesReference": s.VariablesReference, "namedVariables": s.NamedVariables, "indexedVariables": s.IndexedVariables, "expensive": false}
	}
	a.respond(req, map[string]interface{}{"scopes": body}, nil)
}

func (a *Adapter) handleVariables(req *Request) {
	var args variablesArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		a.respond(req, nil, err)
		return
	}
	filter := variables.FilterBoth
	switch args.Filter {
	case "named":
		filter = variables.FilterNamed
	case "indexed":
		filter = variables.FilterIndexed
	}
	vars, err := a.ctrl.Variables().GetVariables(args.VariablesReference, filter, args.Start, args.Count)
	if err != nil {
		a.respond(req, nil, err)
		return
	}
	body := make([]map[string]interface{}, len(vars))
	for i, v := range vars {
		body[i] = map[string]interface{}{
			"name":               v.Name,
			"value":              v.Value,
			"type":               v.Type,
			"evaluateName":       v.EvaluateName,
			"variablesReference": v.VariablesReference,
			"namedVariables":     v.NamedVariables,
			"indexedVariables":   v.IndexedVariables,
		}
	}
	a.respond(req, map[string]interface{}{"variables": body}, nil)
}

func (a *Adapter) handleSetVariable(req *Request) {
	var args setVariableArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		a.respond(req, nil, err)
		return
	}
	printed, err := a.ctrl.Variables().SetVariable(args.VariablesReference, args.Name, args.Value)
	if err != nil {
		a.respond(req, nil, err)
		return
	}
	a.respond(req, map[string]interface{}{"value": printed}, nil)
}

func (a *Adapter) handleEvaluate(req *Request) {
	var args evaluateArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		a.respond(req, nil, err)
		return
	}
	v, err := a.ctrl.Variables().Evaluate(args.FrameID, args.Expression, variables.EvalFlagsNone)
	if err != nil {
		a.respond(req, nil, err)
		return
	}
	a.respond(req, map[string]interface{}{
		"result":             v.Value,
		"type":               v.Type,
		"variablesReference": v.VariablesReference,
	}, nil)
}

func (a *Adapter) respondStep(req *Request, kind debugger.StepKind) {
	var args threadArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		a.respond(req, nil, err)
		return
	}
	a.respond(req, nil, a.ctrl.Step(engine.ThreadID(args.ThreadID), kind))
}

func (a *Adapter) handleDisconnect(req *Request) {
	var args disconnectArgs
	json.Unmarshal(req.Arguments, &args)
	action := debugger.DisconnectDetach
	if args.TerminateDebuggee {
		action = debugger.DisconnectTerminate
	}
	a.respond(req, nil, a.ctrl.Disconnect(action))
}
