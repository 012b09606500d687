// Package launchconfig loads the debugger's YAML launch/session defaults.
// The teacher's pkg/config carries a single DefaultPort constant; this
// generalizes that "shared defaults" concern to a real config file, the way
// a CLI tool with actual session options needs (JMC defaults, step-filter
// toggles, exception-breakpoint presets, interpreter/transport selection).
package launchconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExceptionPreset names one of the canned exception-breakpoint groups a
// launch config can request instead of listing exception type names by hand.
type ExceptionPreset string

const (
	PresetUnhandledOnly ExceptionPreset = "unhandled-only"
	PresetUserUnhandled  ExceptionPreset = "user-unhandled"
	PresetAll            ExceptionPreset = "all"
)

// Config is the debugger's launch-time configuration, loaded from the YAML
// file named by the --config flag (Default() when no file is given).
type Config struct {
	// JustMyCode toggles the default JMC filtering applied to new sessions;
	// a front-end can still override it per launch request.
	JustMyCode bool `yaml:"justMyCode"`

	// StepFilters lists extra non-user-code markers beyond the built-in
	// DebuggerNonUserCodeAttribute / DebuggerStepThroughAttribute set. The
	// JMC classification in internal/modules does not read this list.
	StepFilters []string `yaml:"stepFilters"`

	// ExceptionPreset names a default exception-breakpoint set. No other
	// package reads this field, so it installs no exception breakpoints.
	ExceptionPreset ExceptionPreset `yaml:"exceptionPreset"`

	// Interpreter selects the protocol adapter: "mi", "dap", or "cli".
	Interpreter string `yaml:"interpreter"`

	// Transport selects the byte-stream transport: "stdio" or "ws".
	Transport string `yaml:"transport"`

	// WebSocketAddr is the listen address when Transport == "ws".
	WebSocketAddr string `yaml:"webSocketAddr"`

	// EvalTimeoutSeconds holds a per-eval time limit in seconds. No other
	// package reads it; function-evals are not aborted on a timer.
	EvalTimeoutSeconds int `yaml:"evalTimeoutSeconds"`

	// StopAtEntry names a stop at the module's managed entry point on
	// launch. No other package reads this field.
	StopAtEntry bool `yaml:"stopAtEntry"`
}

// Default returns the configuration used when no launch config file is
// present: JMC on, unhandled-only exceptions, MI interpreter over stdio.
func Default() Config {
	return Config{
		JustMyCode:         true,
		ExceptionPreset:    PresetUnhandledOnly,
		Interpreter:        "mi",
		Transport:          "stdio",
		EvalTimeoutSeconds: 30,
	}
}

// Load reads and parses a launch config file, filling any field the file
// omits from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("launchconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("launchconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the config names a real interpreter/transport pair.
func (c Config) Validate() error {
	switch c.Interpreter {
	case "mi", "dap", "cli":
	default:
		return fmt.Errorf("launchconfig: unknown interpreter %q", c.Interpreter)
	}
	switch c.Transport {
	case "stdio", "ws":
	default:
		return fmt.Errorf("launchconfig: unknown transport %q", c.Transport)
	}
	if c.Transport == "ws" && c.WebSocketAddr == "" {
		return fmt.Errorf("launchconfig: transport ws requires webSocketAddr")
	}
	return nil
}
