package engine

// SequencePoint maps an IL offset to a source position. StartLine ==
// HiddenLine (0xfeefee, per ECMA-335 and the original symbolreader.cpp)
// marks a compiler-generated point with no user-visible source.
type SequencePoint struct {
	Offset             ILOffset
	StartLine          int
	EndLine            int
	StartColumn        int
	EndColumn          int
	Document           string
}

// HiddenLine is the sentinel sequence-point line meaning "no source here".
const HiddenLine = 0xfeefee

// IsHidden reports whether a sequence point is a compiler-generated marker.
func (s SequencePoint) IsHidden() bool { return s.StartLine == HiddenLine }

// FieldDef describes one field of a type.
type FieldDef struct {
	Name       string
	TypeName   string
	IsStatic   bool
	IsLiteral  bool // const field; value lives in RawValue, not in an instance
	RawValue   []byte
	SigElement SigElementKind
	ElemType   string // for SigArray/SigGenericInst: the element/argument type
	Attributes []string
}

// SigElementKind mirrors the §4.4 "Literal construction" element kinds.
type SigElementKind int

const (
	SigPrimitive SigElementKind = iota
	SigString
	SigClass
	SigArray
	SigGenericInst
	SigValueType
)

// PropertyDef describes one property; GetterToken resolves through the
// owning module's method table when the getter is invoked via function-eval.
type PropertyDef struct {
	Name        string
	TypeName    string
	IsStatic    bool
	GetterToken MethodToken
	Attributes  []string // e.g. "DebuggerBrowsable:Never"
}

// MethodDef describes one method, including its local-variable scope and
// IL-to-source mapping.
type MethodDef struct {
	Token          MethodToken
	Name           string // simple name, e.g. "Main", "get_Length"
	QualifiedName  string // fully dotted, e.g. "Ns.C.M"
	OwnerType      string // declaring type's qualified name, "" for free functions
	ParamTypeNames []string
	IsStatic       bool
	SequencePoints []SequencePoint
	Locals         []LocalVarDef
	Attributes     []string
}

// LocalVarDef names one local slot's scope within a method.
type LocalVarDef struct {
	Index      int
	Name       string
	ScopeStart ILOffset
	ScopeEnd   ILOffset
}

// TypeDef describes a type's shape: fields, properties, methods, and base
// chain, enough for the evaluator's member walk and JMC classification.
type TypeDef struct {
	Name         string // fully dotted, generic arity as <T1,...,TN>
	Base         *TypeDef
	Fields       []FieldDef
	Properties   []PropertyDef
	Methods      []MethodDef
	Attributes   []string
	IsValueType  bool
	EnclosingTypes []*TypeDef // outer-to-inner chain, nil for top-level types
}

// HasAttribute reports whether a dotted attribute-constructor name (or bare
// name) is present, matching jmc.cpp's literal-string comparisons.
func HasAttribute(attrs []string, name string) bool {
	for _, a := range attrs {
		if a == name {
			return true
		}
	}
	return false
}

// MetadataReader exposes the subset of ICorDebugMetadataImport/ISymUnmanagedReader
// this debugger needs, per spec.md §6 "Metadata interface"/"Symbol interface".
type MetadataReader interface {
	// FindTypeDefByName resolves a fully-qualified (possibly generic) type name.
	FindTypeDefByName(qualifiedName string) (*TypeDef, bool)
	// EnumTypeDefs enumerates every type defined in this module's scope.
	EnumTypeDefs() []*TypeDef
	// EnumMethodsWithName finds every method in the module whose trailing
	// dotted-name components match qualifiedMethodName under the suffix rule.
	EnumMethodsWithName(qualifiedMethodName string) []*MethodDef
	// MethodByToken resolves a single method by its token.
	MethodByToken(tok MethodToken) (*MethodDef, bool)
	// ScopeMVID returns the module version id used as Module.ID.
	ScopeMVID() [16]byte
}

// SymbolReader exposes sequence-point and local-variable lookups, per
// spec.md §6 "Symbol interface".
type SymbolReader interface {
	ResolveSequencePoint(file string, line int) (MethodToken, ILOffset, bool)
	GetLineByILOffset(tok MethodToken, offset ILOffset) (SourceLocation, bool)
	GetStepRanges(methodTok MethodToken, ip ILOffset) (start, end ILOffset)
	GetSequencePoints(tok MethodToken) []SequencePoint
	GetNamedLocalVariable(tok MethodToken, index int) (LocalVarDef, bool)
}
