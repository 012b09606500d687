package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

// writeTestImage writes a minimal one-method .rdbg image and returns its path.
func writeTestImage(t *testing.T) string {
	t.Helper()

	body := `{
		"entryToken": 100,
		"methods": [
			{
				"token": 100,
				"name": "Main",
				"qualifiedName": "Prog.Main",
				"isStatic": true,
				"sequencePoints": [{"offset": 0, "startLine": 10, "document": "Prog.cs"}],
				"code": [{"op": 1, "operand": 1}, {"op": 255}]
			}
		]
	}`
	var probe map[string]interface{}
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		t.Fatalf("fixture is not valid JSON: %v", err)
	}

	path := filepath.Join(t.TempDir(), "prog.rdbg")
	if err := os.WriteFile(path, append([]byte("RDBG"), body...), 0600); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func newTestLaunchCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "launch"}
	cmd.Flags().StringP("interpreter", "i", "", "")
	cmd.Flags().StringP("transport", "t", "", "")
	cmd.Flags().String("ws-addr", "", "")
	cmd.Flags().Bool("jmc", false, "")
	cmd.Flags().Bool("no-jmc", false, "")
	cmd.Flags().StringP("config", "c", "", "")
	cmd.Flags().StringSlice("arg", nil, "")
	return cmd
}

func TestBuildSessionDefaults(t *testing.T) {
	imagePath := writeTestImage(t)
	cmd := newTestLaunchCmd()

	s, err := buildSession(cmd, imagePath)
	if err != nil {
		t.Fatalf("buildSession: %v", err)
	}
	if s.cfg.Interpreter != "mi" {
		t.Fatalf("got interpreter %q, want mi (the launchconfig default)", s.cfg.Interpreter)
	}
	if s.cfg.Transport != "stdio" {
		t.Fatalf("got transport %q, want stdio", s.cfg.Transport)
	}
	if s.ctrl == nil {
		t.Fatal("expected a non-nil controller")
	}
}

func TestBuildSessionAppliesFlagOverrides(t *testing.T) {
	imagePath := writeTestImage(t)
	cmd := newTestLaunchCmd()
	cmd.Flags().Set("interpreter", "dap")
	cmd.Flags().Set("transport", "ws")
	cmd.Flags().Set("ws-addr", "127.0.0.1:9229")
	cmd.Flags().Set("no-jmc", "true")

	s, err := buildSession(cmd, imagePath)
	if err != nil {
		t.Fatalf("buildSession: %v", err)
	}
	if s.cfg.Interpreter != "dap" {
		t.Fatalf("got interpreter %q, want dap", s.cfg.Interpreter)
	}
	if s.cfg.Transport != "ws" || s.cfg.WebSocketAddr != "127.0.0.1:9229" {
		t.Fatalf("got transport %q addr %q", s.cfg.Transport, s.cfg.WebSocketAddr)
	}
	if s.cfg.JustMyCode {
		t.Fatal("expected --no-jmc to clear JustMyCode")
	}
}

func TestBuildSessionRejectsMissingImage(t *testing.T) {
	cmd := newTestLaunchCmd()
	if _, err := buildSession(cmd, filepath.Join(t.TempDir(), "missing.rdbg")); err == nil {
		t.Fatal("expected an error for a missing image file")
	}
}

func TestRunLaunchAndDisconnect(t *testing.T) {
	imagePath := writeTestImage(t)
	cmd := newTestLaunchCmd()

	s, err := buildSession(cmd, imagePath)
	if err != nil {
		t.Fatalf("buildSession: %v", err)
	}
	if err := s.ctrl.Launch(imagePath, nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := s.ctrl.Disconnect(0); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
}
