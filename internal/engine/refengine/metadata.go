package refengine

import (
	"sort"
	"strings"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
)

// metadataReader implements engine.MetadataReader over a Program.
type metadataReader struct {
	program *Program
	mvid    [16]byte
}

func (m *metadataReader) FindTypeDefByName(name string) (*engine.TypeDef, bool) {
	td, ok := m.program.Types[name]
	return td, ok
}

func (m *metadataReader) EnumTypeDefs() []*engine.TypeDef {
	out := make([]*engine.TypeDef, 0, len(m.program.Types))
	for _, td := range m.program.Types {
		out = append(out, td)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnumMethodsWithName implements the §4.1 "suffix match on dotted
// components" rule: qualifiedMethodName's dotted components must equal the
// trailing components of a candidate method's fully-qualified name.
func (m *metadataReader) EnumMethodsWithName(qualifiedMethodName string) []*engine.MethodDef {
	want := strings.Split(qualifiedMethodName, ".")
	var out []*engine.MethodDef
	for _, meth := range m.program.Methods {
		have := strings.Split(meth.Def.QualifiedName, ".")
		if suffixMatch(have, want) {
			out = append(out, meth.Def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// suffixMatch reports whether want is exactly the trailing slice of have.
func suffixMatch(have, want []string) bool {
	if len(want) > len(have) {
		return false
	}
	off := len(have) - len(want)
	for i, w := range want {
		if have[off+i] != w {
			return false
		}
	}
	return true
}

func (m *metadataReader) MethodByToken(tok engine.MethodToken) (*engine.MethodDef, bool) {
	meth, ok := m.program.Methods[tok]
	if !ok {
		return nil, false
	}
	return meth.Def, true
}

func (m *metadataReader) ScopeMVID() [16]byte { return m.mvid }

// symbolReader implements engine.SymbolReader over a Program's per-method
// sequence-point tables.
type symbolReader struct {
	program *Program
}

// ResolveSequencePoint finds the sequence point for (file, line); when
// several methods have one, the method owning the earliest matching offset
// wins — matching the real engine's document-and-line lookup.
func (s *symbolReader) ResolveSequencePoint(file string, line int) (engine.MethodToken, engine.ILOffset, bool) {
	var (
		bestTok engine.MethodToken
		bestOff engine.ILOffset
		found   bool
	)
	for tok, meth := range s.program.Methods {
		for _, sp := range meth.Def.SequencePoints {
			if sp.IsHidden() {
				continue
			}
			if sameFile(sp.Document, file) && sp.StartLine == line {
				if !found || sp.Offset < bestOff || (sp.Offset == bestOff && tok < bestTok) {
					bestTok, bestOff, found = tok, sp.Offset, true
				}
			}
		}
	}
	return bestTok, bestOff, found
}

func sameFile(a, b string) bool {
	return a == b || baseName(a) == baseName(b)
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, "/\\"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// GetLineByILOffset reports the nearest preceding non-hidden sequence point
// for the given IL offset, falling back to the first point when none
// precedes it — the §4.1 "Sequence-point selection" rule.
func (s *symbolReader) GetLineByILOffset(tok engine.MethodToken, offset engine.ILOffset) (engine.SourceLocation, bool) {
	meth, ok := s.program.Methods[tok]
	if !ok {
		return engine.SourceLocation{}, false
	}
	sps := meth.Def.SequencePoints
	if len(sps) == 0 {
		return engine.SourceLocation{}, false
	}
	best := -1
	for i, sp := range sps {
		if sp.IsHidden() {
			continue
		}
		if sp.Offset <= offset {
			if best == -1 || sps[best].Offset < sp.Offset {
				best = i
			}
		}
	}
	if best == -1 {
		for i, sp := range sps {
			if !sp.IsHidden() {
				best = i
				break
			}
		}
	}
	if best == -1 {
		return engine.SourceLocation{}, false
	}
	sp := sps[best]
	return engine.SourceLocation{
		FileFullName: sp.Document,
		Line:         sp.StartLine,
		Column:       sp.StartColumn,
		EndLine:      sp.EndLine,
		EndColumn:    sp.EndColumn,
	}, true
}

func (s *symbolReader) GetStepRanges(methodTok engine.MethodToken, ip engine.ILOffset) (engine.ILOffset, engine.ILOffset) {
	meth, ok := s.program.Methods[methodTok]
	if !ok {
		return ip, ip + 1
	}
	sps := meth.Def.SequencePoints
	var start, end engine.ILOffset = 0, 0
	found := false
	for i, sp := range sps {
		if sp.Offset <= ip && (i+1 == len(sps) || sps[i+1].Offset > ip) {
			start = sp.Offset
			if i+1 < len(sps) {
				end = sps[i+1].Offset
			} else {
				end = ip + 1
			}
			found = true
			break
		}
	}
	if !found {
		return ip, ip + 1
	}
	return start, end
}

func (s *symbolReader) GetSequencePoints(tok engine.MethodToken) []engine.SequencePoint {
	meth, ok := s.program.Methods[tok]
	if !ok {
		return nil
	}
	return meth.Def.SequencePoints
}

func (s *symbolReader) GetNamedLocalVariable(tok engine.MethodToken, index int) (engine.LocalVarDef, bool) {
	meth, ok := s.program.Methods[tok]
	if !ok {
		return engine.LocalVarDef{}, false
	}
	for _, l := range meth.Def.Locals {
		if l.Index == index {
			return l, true
		}
	}
	return engine.LocalVarDef{}, false
}

var _ engine.MetadataReader = (*metadataReader)(nil)
var _ engine.SymbolReader = (*symbolReader)(nil)

// NewNativeModule wraps prog's metadata and symbol tables into an
// engine.NativeModule, the shape Process.LoadProgram/SimulateLoadModule
// expect and internal/modules consumes. Exercised by tests exercising the
// modules/frames/breakpoints/eval packages against the reference engine
// instead of a real CLR debugging shim.
func NewNativeModule(prog *Program, base engine.ModuleBase, name, path string, size uint64, mvid [16]byte) *engine.NativeModule {
	return &engine.NativeModule{
		Base:     base,
		Name:     name,
		Path:     path,
		Size:     size,
		Metadata: &metadataReader{program: prog, mvid: mvid},
		Symbols:  &symbolReader{program: prog},
	}
}
