package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Samsung/netcoredbg-sub001/internal/breakpoints"
	"github.com/Samsung/netcoredbg-sub001/internal/debugger"
	"github.com/Samsung/netcoredbg-sub001/internal/engine/refengine"
	"github.com/Samsung/netcoredbg-sub001/internal/eval"
	"github.com/Samsung/netcoredbg-sub001/internal/launchconfig"
	"github.com/Samsung/netcoredbg-sub001/internal/logging"
	"github.com/Samsung/netcoredbg-sub001/internal/modules"
	"github.com/Samsung/netcoredbg-sub001/internal/protocol/cli"
	"github.com/Samsung/netcoredbg-sub001/internal/protocol/dap"
	"github.com/Samsung/netcoredbg-sub001/internal/protocol/mi"
	"github.com/Samsung/netcoredbg-sub001/internal/telemetry"
	"github.com/Samsung/netcoredbg-sub001/internal/variables"
)

var version = "0.1.0"

var (
	infoColor    = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
)

func printInfo(msg string) {
	infoColor.Printf("[INFO] %s\n", msg)
}

func printSuccess(msg string) {
	successColor.Printf("[SUCCESS] %s\n", msg)
}

func printWarning(msg string) {
	warningColor.Printf("[WARNING] %s\n", msg)
}

func printError(err error) {
	errorColor.Printf("[ERROR] %s\n", err.Error())
}

func main() {
	var rootCmd = &cobra.Command{
		Use:     "netcoredbg-sub001",
		Short:   "A managed-code debugger front-end",
		Long:    `netcoredbg-sub001 launches or attaches to a debuggee and speaks MI, DAP, or a GDB-style console over stdio or a websocket.`,
		Version: version,
	}
	rootCmd.SetVersionTemplate("netcoredbg-sub001 v{{.Version}}\n")

	var launchCmd = &cobra.Command{
		Use:   "launch <image>",
		Short: "Launch a .rdbg image and start a debug session",
		Args:  cobra.ExactArgs(1),
		RunE:  runLaunch,
	}
	launchCmd.Flags().StringP("interpreter", "i", "", "Protocol adapter: mi, dap, or cli (overrides config)")
	launchCmd.Flags().StringP("transport", "t", "", "Byte transport: stdio or ws (overrides config)")
	launchCmd.Flags().String("ws-addr", "", "Listen address when --transport=ws")
	launchCmd.Flags().Bool("jmc", false, "Enable Just My Code filtering")
	launchCmd.Flags().Bool("no-jmc", false, "Disable Just My Code filtering")
	launchCmd.Flags().StringP("config", "c", "", "Path to a launch config YAML file")
	launchCmd.Flags().StringSlice("arg", nil, "Argument to pass to the launched program (repeatable)")

	var attachCmd = &cobra.Command{
		Use:   "attach <pid> <image>",
		Short: "Attach to a running process, loading symbols from an image",
		Args:  cobra.ExactArgs(2),
		RunE:  runAttach,
	}
	attachCmd.Flags().StringP("interpreter", "i", "", "Protocol adapter: mi, dap, or cli (overrides config)")
	attachCmd.Flags().StringP("transport", "t", "", "Byte transport: stdio or ws (overrides config)")
	attachCmd.Flags().String("ws-addr", "", "Listen address when --transport=ws")
	attachCmd.Flags().Bool("jmc", false, "Enable Just My Code filtering")
	attachCmd.Flags().Bool("no-jmc", false, "Disable Just My Code filtering")
	attachCmd.Flags().StringP("config", "c", "", "Path to a launch config YAML file")

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("netcoredbg-sub001 v%s\n", version)
		},
	}

	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// session bundles every component a protocol adapter needs, wired from a
// loaded image and a launch config.
type session struct {
	cfg  launchconfig.Config
	ctrl *debugger.Controller
	log  *logging.Logger
}

// buildSession loads the image at imagePath, constructs the engine/registry
// stack around it, and returns a Controller ready to Launch or Attach.
func buildSession(cmd *cobra.Command, imagePath string) (*session, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	var cfg launchconfig.Config
	var err error
	if cfgPath != "" {
		cfg, err = launchconfig.Load(cfgPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = launchconfig.Default()
	}

	if v, _ := cmd.Flags().GetString("interpreter"); v != "" {
		cfg.Interpreter = v
	}
	if v, _ := cmd.Flags().GetString("transport"); v != "" {
		cfg.Transport = v
	}
	if v, _ := cmd.Flags().GetString("ws-addr"); v != "" {
		cfg.WebSocketAddr = v
	}
	if jmc, _ := cmd.Flags().GetBool("jmc"); jmc {
		cfg.JustMyCode = true
	}
	if noJMC, _ := cmd.Flags().GetBool("no-jmc"); noJMC {
		cfg.JustMyCode = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logging.New(logging.Config{MinLevel: logging.Info, Format: logging.TextFormat})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	scoped := log.WithCorrelationID(logging.NewCorrelationID())
	metrics := telemetry.New(telemetry.DefaultConfig())

	prog, err := refengine.LoadImage(imagePath)
	if err != nil {
		return nil, err
	}

	proc := refengine.New()
	native := refengine.NewNativeModule(prog, 1, imagePath, imagePath, 0, [16]byte{})
	proc.LoadProgram(prog, 1, native)

	mods := modules.New(scoped, cfg.JustMyCode)
	if _, err := mods.TryLoad(native); err != nil {
		return nil, fmt.Errorf("modules: %w", err)
	}

	bps := breakpoints.New(mods, proc, nil, scoped)
	ev := eval.New(proc, mods, scoped, metrics)
	vars := variables.New(ev)

	ctrl := debugger.New(proc, mods, bps, ev, vars, cfg, scoped, metrics)

	return &session{cfg: cfg, ctrl: ctrl, log: log}, nil
}

func runLaunch(cmd *cobra.Command, args []string) error {
	imagePath := args[0]
	s, err := buildSession(cmd, imagePath)
	if err != nil {
		return err
	}

	extraArgs, _ := cmd.Flags().GetStringSlice("arg")
	printInfo(fmt.Sprintf("launching %s (%s/%s)", imagePath, s.cfg.Interpreter, s.cfg.Transport))
	if err := s.ctrl.Launch(imagePath, extraArgs); err != nil {
		return fmt.Errorf("launch failed: %w", err)
	}
	printSuccess("session started")

	return serve(s)
}

func runAttach(cmd *cobra.Command, args []string) error {
	var pid int
	if _, err := fmt.Sscanf(args[0], "%d", &pid); err != nil {
		return fmt.Errorf("invalid pid %q: %w", args[0], err)
	}
	imagePath := args[1]
	s, err := buildSession(cmd, imagePath)
	if err != nil {
		return err
	}

	printInfo(fmt.Sprintf("attaching to pid %d (%s/%s)", pid, s.cfg.Interpreter, s.cfg.Transport))
	if err := s.ctrl.Attach(pid); err != nil {
		return fmt.Errorf("attach failed: %w", err)
	}
	printSuccess("session started")

	return serve(s)
}

// serve hands the session off to the selected protocol adapter and blocks
// until it returns or the process receives an interrupt.
func serve(s *session) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		printWarning("interrupted, disconnecting")
		s.ctrl.Disconnect(debugger.DisconnectTerminate)
		os.Exit(0)
	}()

	if s.cfg.Transport == "ws" {
		return serveWebSocket(s)
	}
	return serveStdio(s)
}

func serveStdio(s *session) error {
	switch s.cfg.Interpreter {
	case "dap":
		return dap.New(s.ctrl, os.Stdin, os.Stdout).Start()
	case "cli":
		return cli.New(s.ctrl, os.Stdin, os.Stdout).Start()
	case "mi":
		return mi.New(s.ctrl, os.Stdin, os.Stdout).Start()
	default:
		return fmt.Errorf("unknown interpreter %q", s.cfg.Interpreter)
	}
}

// serveWebSocket accepts a single debug session over a websocket listener;
// only the DAP adapter is wired to it, since VS Code and similar front-ends
// are the only consumers that speak DAP-over-websocket.
func serveWebSocket(s *session) error {
	if s.cfg.Interpreter != "dap" {
		return fmt.Errorf("transport ws only supports interpreter dap, got %q", s.cfg.Interpreter)
	}

	ln, err := net.Listen("tcp", s.cfg.WebSocketAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.WebSocketAddr, err)
	}
	defer ln.Close()
	printInfo(fmt.Sprintf("waiting for a DAP websocket client on %s", s.cfg.WebSocketAddr))

	mux := newWSHandler(s.ctrl)
	return httpServe(ln, mux)
}
