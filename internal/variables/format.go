package variables

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
	"github.com/Samsung/netcoredbg-sub001/internal/errors"
	"github.com/Samsung/netcoredbg-sub001/internal/eval"
)

// formatValue renders v the way a "value" column is printed: quoted
// strings/chars, {Type} for object references, {Type[N]} for arrays, and
// bare scalars otherwise.
func formatValue(v *engine.Value) string {
	if v.IsNull() {
		return "null"
	}
	switch v.Kind {
	case engine.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case engine.KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case engine.KindBool:
		return strconv.FormatBool(v.Bool)
	case engine.KindChar:
		return "'" + string(v.Char) + "'"
	case engine.KindString:
		return "\"" + v.Str + "\""
	case engine.KindDecimal:
		return strconv.FormatFloat(eval.DecimalToFloat(v.Dec), 'f', -1, 64)
	case engine.KindArray:
		return fmt.Sprintf("{%s[%d]}", v.Type, len(v.Array))
	case engine.KindObject:
		return "{" + v.Type + "}"
	default:
		return ""
	}
}

// parseLiteral parses text into a Value of typeName, the inverse of
// formatValue for the editable primitive set (§4.5).
func parseLiteral(typeName, text string) (*engine.Value, error) {
	text = strings.TrimSpace(text)
	switch typeName {
	case "bool":
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, errors.Wrap("SetVariable", errors.ParseError, "not a bool", err)
		}
		return &engine.Value{Kind: engine.KindBool, Type: typeName, Bool: b}, nil

	case "char":
		r := strings.Trim(text, "'")
		if r == "" {
			return nil, errors.New("SetVariable", errors.ParseError, "empty char literal")
		}
		return &engine.Value{Kind: engine.KindChar, Type: typeName, Char: []rune(r)[0]}, nil

	case "byte", "sbyte", "short", "ushort", "int", "uint", "long", "ulong":
		n, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return nil, errors.Wrap("SetVariable", errors.ParseError, "not an integer", err)
		}
		return &engine.Value{Kind: engine.KindInt, Type: typeName, Int: n}, nil

	case "decimal":
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, errors.Wrap("SetVariable", errors.ParseError, "not a decimal", err)
		}
		return &engine.Value{Kind: engine.KindDecimal, Type: typeName, Dec: eval.DecimalFromFloat(f)}, nil

	case "string":
		return &engine.Value{Kind: engine.KindString, Type: typeName, Str: strings.Trim(text, "\"")}, nil

	default:
		return nil, errors.New("SetVariable", errors.ParseError, "type '"+typeName+"' is not editable")
	}
}
