package refengine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
)

func writeImage(t *testing.T, img image) string {
	t.Helper()

	body, err := json.Marshal(img)
	if err != nil {
		t.Fatalf("marshal image: %v", err)
	}
	path := filepath.Join(t.TempDir(), "prog.rdbg")
	if err := os.WriteFile(path, append([]byte(Magic), body...), 0600); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func TestLoadImageRoundTrip(t *testing.T) {
	path := writeImage(t, image{
		EntryToken: 100,
		Methods: []imageMethod{
			{
				Token:         100,
				Name:          "Main",
				QualifiedName: "Prog.Main",
				IsStatic:      true,
				SequencePoints: []engine.SequencePoint{
					{Offset: 0, StartLine: 10, Document: "Prog.cs"},
				},
				Code: []Instr{
					{Op: OpPush, Operand: 1},
					{Op: OpHalt},
				},
			},
		},
	})

	prog, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if prog.EntryToken != 100 {
		t.Fatalf("got entry token %d, want 100", prog.EntryToken)
	}
	m, ok := prog.Methods[100]
	if !ok {
		t.Fatal("method 100 not found")
	}
	if m.Def.QualifiedName != "Prog.Main" {
		t.Fatalf("got qualified name %q", m.Def.QualifiedName)
	}
	if len(m.Code) != 2 || m.Code[1].Op != OpHalt {
		t.Fatalf("got code %+v", m.Code)
	}
}

func TestLoadImageRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.rdbg")
	if err := os.WriteFile(path, []byte("NOPE{}"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := LoadImage(path); err == nil {
		t.Fatal("expected an error for a bad magic header")
	}
}

func TestLoadImageRejectsMissingFile(t *testing.T) {
	if _, err := LoadImage(filepath.Join(t.TempDir(), "missing.rdbg")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
