package refengine

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
)

// image is the on-disk JSON shape a .rdbg file decodes into: a 4-byte Magic
// header (checked, not encoded into the JSON body) followed by the method
// table a Program needs. This is the reference engine's stand-in for a real
// module image — there is no dbgshim/ICorDebug binding behind this VM, so a
// launch target is one of these files rather than a .NET assembly.
type image struct {
	EntryToken engine.MethodToken `json:"entryToken"`
	Methods    []imageMethod      `json:"methods"`
}

type imageMethod struct {
	Token          engine.MethodToken     `json:"token"`
	Name           string                 `json:"name"`
	QualifiedName  string                 `json:"qualifiedName"`
	IsStatic       bool                   `json:"isStatic"`
	Locals         []engine.LocalVarDef   `json:"locals"`
	SequencePoints []engine.SequencePoint `json:"sequencePoints"`
	Code           []Instr                `json:"code"`
}

// LoadImage reads a .rdbg bytecode file from disk and builds the Program it
// describes. The first 4 bytes must equal Magic; everything after that is a
// JSON-encoded image.
func LoadImage(path string) (*Program, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("refengine: read %s: %w", path, err)
	}
	if len(raw) < len(Magic) || string(raw[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("refengine: %s does not start with the %q magic header", path, Magic)
	}

	var img image
	if err := json.Unmarshal(raw[len(Magic):], &img); err != nil {
		return nil, fmt.Errorf("refengine: parse %s: %w", path, err)
	}

	prog := NewProgram()
	prog.EntryToken = img.EntryToken
	for _, m := range img.Methods {
		prog.Methods[m.Token] = &Method{
			Def: &engine.MethodDef{
				Token:          m.Token,
				Name:           m.Name,
				QualifiedName:  m.QualifiedName,
				IsStatic:       m.IsStatic,
				Locals:         m.Locals,
				SequencePoints: m.SequencePoints,
			},
			Code: m.Code,
		}
	}
	return prog, nil
}
