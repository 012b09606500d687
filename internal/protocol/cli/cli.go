// Package cli implements a GDB-style interactive command console over the
// debugger controller: a bufio.Reader read loop, whitespace-split command
// dispatch, and a goroutine that prints asynchronous Stopped/Continued/
// Output events as they arrive.
//
// Grounded on the teacher's pkg/repl (repl.go's Start/readLine loop shape,
// commands.go's lowercase-command switch table), generalized from a
// language REPL's expression evaluator to a debugger console's command set.
package cli

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

// Console is the interactive command-line front end for one Controller.
type Console struct {
	ctrl   *debugger.Controller
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex // guards writer, shared between the command loop and the event printer

	running bool
}

// New creates a Console reading commands from r and printing prompts,
// command output, and asynchronous events to w.
func New(ctrl *debugger.Controller, r io.Reader, w io.Writer) *Console {
	return &Console{
		ctrl:   ctrl,
		reader: bufio.NewReader(r),
		writer: w,
	}
}

// Start runs the console until EOF or a "quit" command. Asynchronous
// controller events print on their own goroutine so a Stopped event arriving
// mid-command-entry doesn't get lost.
func (c *Console) Start() error {
	c.running = true
	go c.printEvents()

	c.printf("netcoredbg-sub001 console. Type 'help' for a command list.\n")
	for c.running {
		c.printf("(dbg) ")
		line, err := c.reader.ReadString('\n')
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
		if err := c.dispatch(line); err != nil {
			c.printf("error: %v\n", err)
		}
	}
	return nil
}

func (c *Console) printEvents() {
	for ev := range c.ctrl.Events() {
		c.printEvent(ev)
	}
}

func (c *Console) printEvent(ev debugger.Event) {
	switch ev.Kind {
	case debugger.EventInitialized:
		c.printf("* initialized\n")
	case debugger.EventStopped:
		loc := ""
		if ev.HasFrame {
			loc = fmt.Sprintf(" at %s:%d", ev.Location.File, ev.Location.Line)
		}
		c.printf("* stopped (thread %d, reason=%s)%s\n", ev.ThreadID, ev.Reason, loc)
		if ev.Reason == debugger.StopException {
			c.printf("  exception: %s (%s): %s\n", ev.ExceptionType, ev.ExceptionStage, ev.ExceptionMessage)
		}
	case debugger.EventContinued:
		c.printf("* running\n")
	case debugger.EventThreadStarted:
		c.printf("* thread %d started\n", ev.ThreadID)
	case debugger.EventThreadExited:
		c.printf("* thread %d exited\n", ev.ThreadID)
	case debugger.EventModuleNew:
		if ev.Module != nil {
			c.printf("* module loaded: %s\n", ev.Module.Name)
		}
	case debugger.EventOutput:
		c.printf("%s\n", ev.OutputText)
	case debugger.EventBreakpointChanged:
		if ev.Breakpoint != nil {
			c.printf("* breakpoint %d resolved at %s:%d\n", ev.Breakpoint.ID, ev.Breakpoint.FileFullName, ev.Breakpoint.Line)
		}
	case debugger.EventExited:
		c.printf("* process exited, code %d\n", ev.ExitCode)
	case debugger.EventTerminated:
		c.printf("* terminated\n")
	}
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.writer, format, args...)
}

func (c *Console) dispatch(line string) error {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "help", "h":
		return c.cmdHelp()
	case "run", "launch":
		return c.cmdLaunch(args)
	case "attach":
		return c.cmdAttach(args)
	case "break", "b":
		return c.cmdBreak(args)
	case "continue", "c":
		return c.ctrl.Continue()
	case "next", "n":
		return c.ctrl.Step(c.lastThread(), debugger.StepOver)
	case "step", "s":
		return c.ctrl.Step(c.lastThread(), debugger.StepIn)
	case "finish", "out":
		return c.ctrl.Step(c.lastThread(), debugger.StepOut)
	case "pause":
		return c.ctrl.Pause()
	case "print", "p":
		return c.cmdPrint(args)
	case "bt", "backtrace", "where":
		return c.cmdBacktrace()
	case "quit", "q", "exit":
		if err := c.ctrl.Disconnect(debugger.DisconnectTerminate); err != nil {
			c.printf("error during disconnect: %v\n", err)
		}
		c.running = false
		return nil
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for a command list)", cmd)
	}
}

func (c *Console) lastThread() engine.ThreadID {
	return c.ctrl.LastStoppedThread()
}

func (c *Console) cmdHelp() error {
	c.printf("Commands:\n")
	c.printf("  run <exe> [args...]     launch and start debugging\n")
	c.printf("  attach <pid>            attach to a running process\n")
	c.printf("  break <file:line>       set a line breakpoint\n")
	c.printf("  continue, c             resume execution\n")
	c.printf("  next, n                 step over\n")
	c.printf("  step, s                 step into\n")
	c.printf("  finish, out             step out\n")
	c.printf("  pause                   break into the debuggee\n")
	c.printf("  print, p <expr>         evaluate an expression in the last-stopped frame\n")
	c.printf("  bt, backtrace           print the current call stack\n")
	c.printf("  quit, q                 terminate the debuggee and exit\n")
	return nil
}

func (c *Console) cmdLaunch(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: run <exe> [args...]")
	}
	if err := c.ctrl.Launch(args[0], args[1:]); err != nil {
		return err
	}
	return c.ctrl.ConfigurationDone()
}

func (c *Console) cmdAttach(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: attach <pid>")
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid %q", args[0])
	}
	if err := c.ctrl.Attach(pid); err != nil {
		return err
	}
	return c.ctrl.ConfigurationDone()
}

func (c *Console) cmdBreak(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: break <file:line>")
	}
	file, lineStr, ok := strings.Cut(args[0], ":")
	if !ok {
		return fmt.Errorf("usage: break <file:line>")
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil {
		return fmt.Errorf("invalid line %q", lineStr)
	}
	bps := c.ctrl.Breakpoints().SetLineBreakpoints(file, append(existingLineRequests(c.ctrl.Breakpoints(), file), breakpoints.LineRequest{Line: line}))
	for _, bp := range bps {
		if bp.Line == line {
			c.printf("breakpoint %d set at %s:%d (resolved=%v)\n", bp.ID, file, line, bp.Resolved != nil)
		}
	}
	return nil
}

// existingLineRequests reconstructs the current request set for file so a
// new break command adds to it instead of replacing it, matching
// SetLineBreakpoints' "whole set per file" contract.
func existingLineRequests(mgr *breakpoints.Manager, file string) []breakpoints.LineRequest {
	var out []breakpoints.LineRequest
	mgr.ForEachLine(func(lb *breakpoints.LineBreakpoint) {
		if lb.FileFullName == file {
			out = append(out, breakpoints.LineRequest{Line: lb.Line, Condition: lb.Condition})
		}
	})
	return out
}

func (c *Console) cmdPrint(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: print <expr>")
	}
	expr := strings.Join(args, " ")
	tid := c.lastThread()
	frames, _, ok := c.ctrl.GetStackTrace(tid, 0, 1)
	if !ok || len(frames) == 0 {
		return fmt.Errorf("no current frame for thread %d", tid)
	}
	frameID, ok := c.ctrl.RegisterFrame(tid, frames[0])
	if !ok {
		return fmt.Errorf("topmost frame is not managed")
	}
	v, err := c.ctrl.Variables().Evaluate(frameID, expr, variables.EvalFlagsNone)
	if err != nil {
		return err
	}
	c.printf("%s = %s\n", v.Name, v.Value)
	return nil
}

func (c *Console) cmdBacktrace() error {
	tid := c.lastThread()
	stack, total, ok := c.ctrl.GetStackTrace(tid, 0, 0)
	if !ok {
		return fmt.Errorf("no such thread %d", tid)
	}
	for i, sf := range stack {
		switch sf.Kind {
		case frames.Managed:
			c.printf("#%d %s\n", i, sf.Managed.Function().QualifiedName)
		case frames.Internal:
			c.printf("#%d [%s]\n", i, sf.InternalName)
		default:
			c.printf("#%d %s\n", i, sf.NativeSymbol)
		}
	}
	c.printf("(%d frames total)\n", total)
	return nil
}
