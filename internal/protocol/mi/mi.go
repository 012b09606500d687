// Package mi implements a GDB/MI-style line-based text protocol front end
// over the debugger controller: one command per input line, "^done"/
// "^error" result records on completion, and "*stopped"/"=thread-created"/
// "~..." asynchronous and console-stream records pushed as they occur.
//
// Grounded on the teacher's pkg/repl (repl.go's read-loop shape, commands.go's
// token-dispatch table), generalized from a language REPL's line syntax to
// MI's token-prefixed command/result-record syntax.
package mi

import (
	"bufio"
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

// Interpreter is one MI session bound to a Controller.
type Interpreter struct {
	ctrl   *debugger.Controller
	reader *bufio.Reader
	writer io.Writer

	mu sync.Mutex
}

// New creates an Interpreter reading MI commands from r and writing result/
// async/stream records to w.
func New(ctrl *debugger.Controller, r io.Reader, w io.Writer) *Interpreter {
	return &Interpreter{ctrl: ctrl, reader: bufio.NewReader(r), writer: w}
}

// Start runs the command loop until EOF, with a second goroutine turning
// Controller events into MI async records for the session's lifetime.
func (m *Interpreter) Start() error {
	go m.forwardEvents()

	m.writeLine(`(gdb)`)
	for {
		line, err := m.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m.handle(line)
	}
}

func (m *Interpreter) writeLine(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.writer, "%s\n", s)
}

// token splits MI's optional leading numeric token from the rest of the
// command, e.g. "12-break-insert main.cs:5" -> ("12", "-break-insert",
// "main.cs:5").
func token(line string) (tok, cmd, rest string) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	tok = line[:i]
	remainder := strings.TrimSpace(line[i:])
	cmd, rest, _ = strings.Cut(remainder, " ")
	rest = strings.TrimSpace(rest)
	return tok, cmd, rest
}

func (m *Interpreter) resultDone(tok string, fields ...string) {
	m.writeLine(tok + "^done" + resultSuffix(fields))
	m.writeLine("(gdb)")
}

func (m *Interpreter) resultError(tok string, err error) {
	m.writeLine(tok + fmt.Sprintf(`^error,msg="%s"`, quote(err.Error())))
	m.writeLine("(gdb)")
}

func resultSuffix(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return "," + strings.Join(fields, ",")
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func (m *Interpreter) handle(line string) {
	tok, cmd, rest := token(line)
	args := splitArgs(rest)

	switch cmd {
	case "-gdb-exit":
		m.ctrl.Disconnect(debugger.DisconnectTerminate)
		m.resultDone(tok)
	case "-exec-run", "-exec-arguments":
		m.cmdRun(tok, args)
	case "-target-attach":
		m.cmdAttach(tok, args)
	case "-break-insert":
		m.cmdBreakInsert(tok, args)
	case "-break-delete":
		m.cmdBreakDelete(tok, args)
	case "-exec-continue":
		m.respond(tok, m.ctrl.Continue())
	case "-exec-next":
		m.respondStep(tok, debugger.StepOver)
	case "-exec-step":
		m.respondStep(tok, debugger.StepIn)
	case "-exec-finish":
		m.respondStep(tok, debugger.StepOut)
	case "-exec-interrupt":
		m.respond(tok, m.ctrl.Pause())
	case "-thread-info":
		m.cmdThreadInfo(tok)
	case "-stack-list-frames":
		m.cmdStackListFrames(tok)
	case "-var-create":
		m.cmdVarCreate(tok, args)
	case "-data-evaluate-expression":
		m.cmdEvaluate(tok, args)
	default:
		m.resultError(tok, fmt.Errorf("undefined MI command: %s", cmd))
	}
}

// splitArgs is a minimal MI argument tokenizer: fields are whitespace
// separated, except a double-quoted field which may contain spaces.
func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}

func (m *Interpreter) respond(tok string, err error) {
	if err != nil {
		m.resultError(tok, err)
		return
	}
	m.resultDone(tok)
}

func (m *Interpreter) respondStep(tok string, kind debugger.StepKind) {
	m.respond(tok, m.ctrl.Step(m.lastThread(), kind))
}

func (m *Interpreter) lastThread() engine.ThreadID {
	return m.ctrl.LastStoppedThread()
}

func (m *Interpreter) cmdRun(tok string, args []string) {
	var exe string
	if len(args) > 0 {
		exe = args[0]
		args = args[1:]
	}
	if err := m.ctrl.Launch(exe, args); err != nil {
		m.resultError(tok, err)
		return
	}
	if err := m.ctrl.ConfigurationDone(); err != nil {
		m.resultError(tok, err)
		return
	}
	m.resultDone(tok)
}

func (m *Interpreter) cmdAttach(tok string, args []string) {
	if len(args) != 1 {
		m.resultError(tok, fmt.Errorf("usage: -target-attach <pid>"))
		return
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		m.resultError(tok, fmt.Errorf("invalid pid %q", args[0]))
		return
	}
	if err := m.ctrl.Attach(pid); err != nil {
		m.resultError(tok, err)
		return
	}
	if err := m.ctrl.ConfigurationDone(); err != nil {
		m.resultError(tok, err)
		return
	}
	m.resultDone(tok)
}

// cmdBreakInsert parses "file:line" or "file:line if <cond>" forms.
func (m *Interpreter) cmdBreakInsert(tok string, args []string) {
	if len(args) == 0 {
		m.resultError(tok, fmt.Errorf("usage: -break-insert <file:line>"))
		return
	}
	loc := args[0]
	file, lineStr, ok := strings.Cut(loc, ":")
	if !ok {
		m.resultError(tok, fmt.Errorf("invalid location %q", loc))
		return
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil {
		m.resultError(tok, fmt.Errorf("invalid line %q", lineStr))
		return
	}
	var cond string
	if len(args) >= 3 && args[1] == "if" {
		cond = strings.Join(args[2:], " ")
	}

	reqs := existingLineRequests(m.ctrl.Breakpoints(), file)
	reqs = append(reqs, breakpoints.LineRequest{Line: line, Condition: cond})
	set := m.ctrl.Breakpoints().SetLineBreakpoints(file, reqs)

	for _, bp := range set {
		if bp.Line == line {
			m.resultDone(tok, fmt.Sprintf(`bkpt={number="%d",type="breakpoint",file="%s",line="%d"}`, bp.ID, quote(file), line))
			return
		}
	}
	m.resultError(tok, fmt.Errorf("failed to set breakpoint at %s:%d", file, line))
}

func existingLineRequests(mgr *breakpoints.Manager, file string) []breakpoints.LineRequest {
	var out []breakpoints.LineRequest
	mgr.ForEachLine(func(lb *breakpoints.LineBreakpoint) {
		if lb.FileFullName == file {
			out = append(out, breakpoints.LineRequest{Line: lb.Line, Condition: lb.Condition})
		}
	})
	return out
}

func (m *Interpreter) cmdBreakDelete(tok string, args []string) {
	var ids []int
	for _, a := range args {
		if id, err := strconv.Atoi(a); err == nil {
			ids = append(ids, id)
		}
	}
	m.ctrl.Breakpoints().DeleteLineBreakpoints(ids)
	m.resultDone(tok)
}

func (m *Interpreter) cmdThreadInfo(tok string) {
	threads := m.ctrl.Threads()
	var parts []string
	for _, t := range threads {
		parts = append(parts, fmt.Sprintf(`{id="%d",state="stopped"}`, t.ID()))
	}
	m.resultDone(tok, fmt.Sprintf(`threads=[%s]`, strings.Join(parts, ",")))
}

func (m *Interpreter) cmdStackListFrames(tok string) {
	tid := m.lastThread()
	stack, _, ok := m.ctrl.GetStackTrace(tid, 0, 0)
	if !ok {
		m.resultError(tok, fmt.Errorf("no such thread %d", tid))
		return
	}
	var parts []string
	for i, sf := range stack {
		name := sf.NativeSymbol
		switch sf.Kind {
		case frames.Managed:
			name = sf.Managed.Function().QualifiedName
		case frames.Internal:
			name = sf.InternalName
		}
		parts = append(parts, fmt.Sprintf(`frame={level="%d",func="%s"}`, i, quote(name)))
	}
	m.resultDone(tok, fmt.Sprintf(`stack=[%s]`, strings.Join(parts, ",")))
}

func (m *Interpreter) cmdVarCreate(tok string, args []string) {
	if len(args) < 3 {
		m.resultError(tok, fmt.Errorf("usage: -var-create <name> <frame> <expr>"))
		return
	}
	expr := strings.Join(args[2:], " ")
	tid := m.lastThread()
	stack, _, ok := m.ctrl.GetStackTrace(tid, 0, 1)
	if !ok || len(stack) == 0 {
		m.resultError(tok, fmt.Errorf("no current frame for thread %d", tid))
		return
	}
	frameID, ok := m.ctrl.RegisterFrame(tid, stack[0])
	if !ok {
		m.resultError(tok, fmt.Errorf("topmost frame is not managed"))
		return
	}
	v, err := m.ctrl.Variables().Evaluate(frameID, expr, variables.EvalFlagsNone)
	if err != nil {
		m.resultError(tok, err)
		return
	}
	m.resultDone(tok, fmt.Sprintf(`name="%s",value="%s",type="%s"`, args[0], quote(v.Value), quote(v.Type)))
}

func (m *Interpreter) cmdEvaluate(tok string, args []string) {
	if len(args) == 0 {
		m.resultError(tok, fmt.Errorf("usage: -data-evaluate-expression <expr>"))
		return
	}
	expr := strings.Join(args, " ")
	tid := m.lastThread()
	stack, _, ok := m.ctrl.GetStackTrace(tid, 0, 1)
	if !ok || len(stack) == 0 {
		m.resultError(tok, fmt.Errorf("no current frame for thread %d", tid))
		return
	}
	frameID, ok := m.ctrl.RegisterFrame(tid, stack[0])
	if !ok {
		m.resultError(tok, fmt.Errorf("topmost frame is not managed"))
		return
	}
	v, err := m.ctrl.Variables().Evaluate(frameID, expr, variables.EvalFlagsNone)
	if err != nil {
		m.resultError(tok, err)
		return
	}
	m.resultDone(tok, fmt.Sprintf(`value="%s"`, quote(v.Value)))
}

func (m *Interpreter) forwardEvents() {
	for ev := range m.ctrl.Events() {
		switch ev.Kind {
		case debugger.EventStopped:
			reason := strings.ToLower(ev.Reason.String())
			if ev.Reason == debugger.StopBreakpoint {
				reason = "breakpoint-hit"
			}
			loc := ""
			if ev.HasFrame {
				loc = fmt.Sprintf(`,frame={func="?",file="%s",line="%d"}`, quote(ev.Location.File), ev.Location.Line)
			}
			m.writeLine(fmt.Sprintf(`*stopped,reason="%s",thread-id="%d"%s`, reason, ev.ThreadID, loc))
		case debugger.EventContinued:
			m.writeLine(fmt.Sprintf(`*running,thread-id="%d"`, ev.ThreadID))
		case debugger.EventThreadStarted:
			m.writeLine(fmt.Sprintf(`=thread-created,id="%d"`, ev.ThreadID))
		case debugger.EventThreadExited:
			m.writeLine(fmt.Sprintf(`=thread-exited,id="%d"`, ev.ThreadID))
		case debugger.EventModuleNew:
			if ev.Module != nil {
				m.writeLine(fmt.Sprintf(`=library-loaded,id="%s",target-name="%s"`, quote(ev.Module.Name), quote(ev.Module.Path)))
			}
		case debugger.EventOutput:
			m.writeLine(fmt.Sprintf(`~"%s\n"`, quote(ev.OutputText)))
		case debugger.EventBreakpointChanged:
			if ev.Breakpoint != nil {
				m.writeLine(fmt.Sprintf(`=breakpoint-modified,bkpt={number="%d",line="%d"}`, ev.Breakpoint.ID, ev.Breakpoint.Line))
			}
		case debugger.EventExited:
			m.writeLine(fmt.Sprintf(`*stopped,reason="exited",exit-code="%d"`, ev.ExitCode))
		case debugger.EventTerminated:
			m.writeLine(`=thread-group-exited,id="i1"`)
		}
	}
}
