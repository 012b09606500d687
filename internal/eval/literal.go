package eval

import (
	"encoding/binary"
	"math"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
)

// literalForField constructs the current value of a field that has no live
// per-instance slot yet (a freshly-materialized instance, or a const
// field), following §4.4's "literal construction" rule per SigElementKind:
// object/class fields start null, arrays start as a single-element read,
// generic instantiations start as a parameterized default, value types are
// allocated then populated via SetValue, strings via NewStringWithLength,
// and primitives via CreateValue+SetValue.
func (e *Evaluator) literalForField(thread engine.Thread, f engine.FieldDef) *engine.Value {
	switch f.SigElement {
	case engine.SigClass:
		return &engine.Value{Kind: engine.KindNull, Type: f.TypeName}

	case engine.SigArray:
		v, err := e.queueEval(thread, func(ev engine.Eval) error {
			return ev.NewParameterizedArray(f.ElemType, 1)
		})
		if err != nil {
			return &engine.Value{Kind: engine.KindNull, Type: f.TypeName}
		}
		return v

	case engine.SigGenericInst:
		return &engine.Value{Kind: engine.KindObject, Type: f.TypeName, Fields: map[string]*engine.Value{}}

	case engine.SigValueType:
		return e.createAndSet(thread, f.TypeName, f.RawValue)

	case engine.SigString:
		v, err := e.queueEval(thread, func(ev engine.Eval) error {
			return ev.NewStringWithLength(string(f.RawValue), len(f.RawValue))
		})
		if err != nil {
			return &engine.Value{Kind: engine.KindNull, Type: "string"}
		}
		return v

	default: // SigPrimitive
		return e.createAndSet(thread, f.TypeName, f.RawValue)
	}
}

// createAndSet performs the CreateValue+SetValue pair directly against the
// engine's eval handle: unlike CallFunction/NewObjectNoConstructor/
// NewStringWithLength/NewParameterizedArray, CreateValue returns its result
// synchronously and needs no Continue/queue round-trip. The raw bytes are
// decoded into the scalar field here, since decoding is this package's
// responsibility (the engine's SetValue only validates the target).
func (e *Evaluator) createAndSet(thread engine.Thread, typeName string, raw []byte) *engine.Value {
	ev := e.process.CreateEval(thread)
	v, err := ev.CreateValue(typeName)
	if err != nil || v == nil {
		return &engine.Value{Kind: engine.KindNull, Type: typeName}
	}
	decodeInto(v, typeName, raw)
	_ = ev.SetValue(v, raw)
	return v
}

// decodeInto fills v's scalar payload from raw, little-endian, based on
// typeName. Unknown type names leave v at its CreateValue zero value.
func decodeInto(v *engine.Value, typeName string, raw []byte) {
	switch typeName {
	case "bool":
		v.Bool = len(raw) > 0 && raw[0] != 0
	case "char":
		if len(raw) >= 2 {
			v.Char = rune(binary.LittleEndian.Uint16(raw))
		}
	case "byte", "sbyte":
		if len(raw) >= 1 {
			v.Int = int64(raw[0])
		}
	case "short", "ushort":
		if len(raw) >= 2 {
			v.Int = int64(binary.LittleEndian.Uint16(raw))
		}
	case "int", "uint":
		if len(raw) >= 4 {
			v.Int = int64(binary.LittleEndian.Uint32(raw))
		}
	case "long", "ulong":
		if len(raw) >= 8 {
			v.Int = int64(binary.LittleEndian.Uint64(raw))
		}
	case "float":
		if len(raw) >= 4 {
			v.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
		}
	case "double":
		if len(raw) >= 8 {
			v.Float = math.Float64frombits(binary.LittleEndian.Uint64(raw))
		}
	case "decimal":
		v.Dec = DecodeDecimal(raw)
	}
}

// DecodeDecimal unpacks the CLR's 16-byte decimal wire layout (flags, hi,
// lo, mid, in that .NET field order collapsed to flags+lo+mid+hi here to
// match engine.Decimal's field order) per §4.4. flags' low byte is unused,
// bits 16-23 hold the scale (0-28), and bit 31 is the sign.
func DecodeDecimal(raw []byte) engine.Decimal {
	if len(raw) < 16 {
		return engine.Decimal{}
	}
	flags := binary.LittleEndian.Uint32(raw[0:4])
	lo := binary.LittleEndian.Uint32(raw[4:8])
	mid := binary.LittleEndian.Uint32(raw[8:12])
	hi := binary.LittleEndian.Uint32(raw[12:16])
	return engine.Decimal{
		Lo:       lo,
		Mid:      mid,
		Hi:       hi,
		Negative: flags&0x80000000 != 0,
		Scale:    uint8((flags >> 16) & 0xFF),
	}
}

// EncodeDecimal packs d back into the 16-byte wire layout DecodeDecimal
// reads, for SetVariable/SetExpression writes of decimal locals.
func EncodeDecimal(d engine.Decimal) []byte {
	raw := make([]byte, 16)
	var flags uint32 = uint32(d.Scale) << 16
	if d.Negative {
		flags |= 0x80000000
	}
	binary.LittleEndian.PutUint32(raw[0:4], flags)
	binary.LittleEndian.PutUint32(raw[4:8], d.Lo)
	binary.LittleEndian.PutUint32(raw[8:12], d.Mid)
	binary.LittleEndian.PutUint32(raw[12:16], d.Hi)
	return raw
}

// maxDecimalScale is §4.4's upper bound on a Decimal's scale.
const maxDecimalScale = 28

// DecimalFromFloat converts f into the nearest representable Decimal,
// applying banker's rounding (round-half-to-even) when f needs more than
// maxDecimalScale fractional digits to represent exactly — the case §4.4
// calls out explicitly for values with more than 28-29 significant digits
// of precision.
func DecimalFromFloat(f float64) engine.Decimal {
	neg := math.Signbit(f)
	if neg {
		f = -f
	}

	scale := 0
	scaled := f
	for scale < maxDecimalScale && math.Trunc(scaled) != scaled && !math.IsInf(scaled, 0) {
		scaled *= 10
		scale++
	}

	rounded := bankersRound(scaled)
	mantissa := uint64(rounded)
	return engine.Decimal{
		Lo:       uint32(mantissa),
		Mid:      uint32(mantissa >> 32),
		Hi:       0,
		Negative: neg && mantissa != 0,
		Scale:    uint8(scale),
	}
}

// bankersRound rounds x to the nearest integer, breaking exact .5 ties to
// the nearest even integer rather than always rounding up.
func bankersRound(x float64) float64 {
	floor := math.Floor(x)
	diff := x - floor
	switch {
	case diff < 0.5:
		return floor
	case diff > 0.5:
		return floor + 1
	default:
		if math.Mod(floor, 2) == 0 {
			return floor
		}
		return floor + 1
	}
}

// DecimalToFloat renders d back to a float64 for display/comparison.
func DecimalToFloat(d engine.Decimal) float64 {
	mantissa := float64(d.Hi)*4294967296.0*4294967296.0 + float64(d.Mid)*4294967296.0 + float64(d.Lo)
	v := mantissa / math.Pow10(int(d.Scale))
	if d.Negative {
		v = -v
	}
	return v
}
