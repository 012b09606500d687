package eval

import (
	"fmt"
	"strings"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
)

// Member is one entry yielded by WalkMembers: an array element, a field, or
// a property, already dereferenced to its current value.
type Member struct {
	Name      string
	Value     *engine.Value
	IsStatic  bool
	OwnerType string // declaring type, for §4.5's inherited-field disambiguation
}

const attrBrowsableNever = "DebuggerBrowsable:Never"

// WalkMembers enumerates v's children per §4.4: array elements named by
// their index tuple, then fields and properties walked up the base chain
// until System.Object/System.ValueType/System.Enum, honoring
// DebuggerBrowsable(Never) and backing-field/display-field hiding. Setting
// statics selects static members of v's declaring type instead of instance
// members. cb stops the walk early by returning a non-nil error.
func (e *Evaluator) WalkMembers(thread engine.Thread, frameModule engine.ModuleBase, v *engine.Value, statics bool, cb func(Member) error) error {
	if v == nil || v.IsNull() {
		return nil
	}

	if v.Kind == engine.KindArray {
		if statics {
			return nil
		}
		base := 0
		if len(v.LowerBounds) > 0 {
			base = v.LowerBounds[0]
		}
		for i, elem := range v.Array {
			if err := cb(Member{Name: fmt.Sprintf("[%d]", base+i), Value: elem}); err != nil {
				return err
			}
		}
		return nil
	}

	if v.Kind != engine.KindObject || v.Def == nil {
		return nil
	}

	for td := v.Def; td != nil && !isTerminalBaseType(td.Name); td = td.Base {
		for _, f := range td.Fields {
			if f.IsStatic != statics || isHiddenDisplayField(f.Name) || engine.HasAttribute(f.Attributes, attrBrowsableNever) {
				continue
			}
			val := v.Fields[f.Name]
			if val == nil {
				val = e.literalForField(thread, f)
			}
			if err := cb(Member{Name: f.Name, Value: val, IsStatic: f.IsStatic, OwnerType: td.Name}); err != nil {
				return err
			}
		}
		for _, p := range td.Properties {
			if p.IsStatic != statics || engine.HasAttribute(p.Attributes, attrBrowsableNever) {
				continue
			}
			val, err := e.CallGetter(thread, frameModule, p.GetterToken, v, p.TypeName)
			if err != nil {
				continue
			}
			if cerr := cb(Member{Name: p.Name, Value: val, IsStatic: p.IsStatic, OwnerType: td.Name}); cerr != nil {
				return cerr
			}
		}
	}
	return nil
}

// isTerminalBaseType stops the base-chain walk at the three root types
// §4.4 names explicitly: their own members (Equals, GetHashCode, ...) are
// never surfaced as user-visible fields.
func isTerminalBaseType(name string) bool {
	switch name {
	case "System.Object", "System.ValueType", "System.Enum":
		return true
	default:
		return false
	}
}

// isHiddenDisplayField reports whether a field name is compiler-generated
// display state (an auto-property's "<Name>k__BackingField", or a closure's
// captured-local field) that must never be surfaced directly — its matching
// property (enumerated separately from td.Properties) stands in for it, or
// if no property matches, it stays fully hidden.
func isHiddenDisplayField(name string) bool {
	return strings.HasPrefix(name, "<")
}
