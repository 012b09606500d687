package engine

// ValueKind classifies a runtime Value the way ICorDebugValue's QueryInterface
// chain would: primitive/boxed, reference-to-object, array, string, or null.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindFloat
	KindBool
	KindChar
	KindString
	KindDecimal
	KindArray
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindChar:
		return "char"
	case KindString:
		return "string"
	case KindDecimal:
		return "decimal"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// EditablePrimitives is the set of type names §4.5 allows SetVariable/
// SetExpression to write directly.
var EditablePrimitives = map[string]bool{
	"int": true, "bool": true, "char": true, "byte": true, "sbyte": true,
	"short": true, "ushort": true, "uint": true, "long": true, "ulong": true,
	"decimal": true, "string": true,
}

// Value is a runtime value reachable from a stopped frame: a local, a field,
// an array element, or a function-eval result. Object/array values carry a
// handle so identical handles compare equal (as ICorDebugValue instances do
// via QueryInterface on the same underlying object).
type Value struct {
	Kind ValueKind
	// Type is the value's runtime type name, fully qualified, with generic
	// arity rendered as <T1,...,TN> (never the metadata `N encoding).
	Type string

	// Scalar payloads — exactly one is meaningful, selected by Kind.
	Int    int64
	Float  float64
	Bool   bool
	Char   rune
	Str    string
	Dec    Decimal
	Handle ObjectHandle // identity for Array/Object kinds

	// Array holds element values when Kind == KindArray.
	Array []*Value
	// LowerBounds holds the array's base index per rank (usually all 0).
	LowerBounds []int

	// Def links an object value back to its TypeDef for member walking.
	// Nil for primitives, arrays, and null.
	Def *TypeDef

	// Fields holds live field storage for Kind == KindObject, keyed by field
	// name. Real ICorDebugValue field access re-enters the engine per field;
	// this in-memory slot map is what lets the reference engine answer those
	// same lookups without native interop.
	Fields map[string]*Value
}

// ObjectHandle is an opaque identity shared by all Values that alias the
// same debuggee object, matching what repeated QueryInterface calls on one
// ICorDebugValue would yield.
type ObjectHandle uint64

// IsNull reports whether this is the null reference.
func (v *Value) IsNull() bool { return v == nil || v.Kind == KindNull }

// Decimal mirrors the CLR's 128-bit decimal: unsigned 96-bit mantissa plus a
// sign and a 0..28 scale, matching §4.4's "Decimal" encoding exactly.
type Decimal struct {
	Lo, Mid, Hi uint32
	Negative    bool
	Scale       uint8 // 0..28
}
