package modules

import (
	"strings"

	"github.com/Samsung/netcoredbg-sub001/internal/engine"
)

// operatorMethodNames mirrors jmc.cpp's g_operatorMethodNames: overloaded
// operator implementations are never user code, regardless of attributes.
var operatorMethodNames = map[string]bool{
	"op_Decrement": true, "op_Increment": true, "op_UnaryNegation": true,
	"op_UnaryPlus": true, "op_LogicalNot": true, "op_OnesComplement": true,
	"op_True": true, "op_False": true, "op_Addition": true, "op_Subtraction": true,
	"op_Multiply": true, "op_Division": true, "op_Modulus": true,
	"op_ExclusiveOr": true, "op_BitwiseAnd": true, "op_BitwiseOr": true,
	"op_LeftShift": true, "op_RightShift": true, "op_Equality": true,
	"op_Inequality": true, "op_LessThan": true, "op_GreaterThan": true,
	"op_LessThanOrEqual": true, "op_GreaterThanOrEqual": true,
	"op_Implicit": true, "op_Explicit": true,
}

const (
	attrNonUserCode  = "System.Diagnostics.DebuggerNonUserCodeAttribute"
	attrStepThrough  = "System.Diagnostics.DebuggerStepThroughAttribute"
	attrBrowsable    = "System.Diagnostics.DebuggerBrowsableAttribute"
)

// isNonUserType reports whether a type is marked non-user per jmc.cpp.
func isNonUserType(t *engine.TypeDef) bool {
	return engine.HasAttribute(t.Attributes, attrNonUserCode)
}

// isNonUserMethod applies §4.1's JMC method rule: owner non-user, or the
// method itself carries one of the JMC attributes, or its name is a known
// operator overload, or it has no non-hidden sequence points.
func isNonUserMethod(owner *engine.TypeDef, m *engine.MethodDef) bool {
	if owner != nil && isNonUserType(owner) {
		return true
	}
	if engine.HasAttribute(m.Attributes, attrNonUserCode) || engine.HasAttribute(m.Attributes, attrStepThrough) {
		return true
	}
	if operatorMethodNames[m.Name] {
		return true
	}
	hasVisibleSP := false
	for _, sp := range m.SequencePoints {
		if !sp.IsHidden() {
			hasVisibleSP = true
			break
		}
	}
	return !hasVisibleSP
}

// applyJMC marks every method in m non-user/user per §4.1's "JMC
// application" rule, propagating a property's attribute to its accessor
// methods. The verdicts themselves aren't persisted on MethodDef (the
// reference metadata reader is immutable); instead this records them in
// the registry's per-method JMC table, read back through IsNonUserCode.
// Step setup and the StepComplete handler do not consult this table; they
// use the stepper's JMC flag and whether the stopped frame has source.
func (r *Registry) applyJMC(m *Module) {
	if m.Metadata == nil || m.jmcApplied {
		return
	}
	m.jmcApplied = true

	if r.jmcTable == nil {
		r.jmcTable = make(map[engine.MethodToken]bool)
	}

	for _, t := range m.Metadata.EnumTypeDefs() {
		propByGetter := make(map[engine.MethodToken]bool)
		for _, p := range t.Properties {
			if engine.HasAttribute(p.Attributes, attrNonUserCode) {
				propByGetter[p.GetterToken] = true
			}
		}
		for i := range t.Methods {
			md := &t.Methods[i]
			nonUser := isNonUserMethod(t, md)
			if propByGetter[md.Token] {
				nonUser = true
			}
			r.mu.Lock()
			r.jmcTable[md.Token] = nonUser
			r.mu.Unlock()
		}
	}
}

// IsNonUserCode reports whether tok was classified non-user by JMC
// application. Methods never seen by applyJMC (JMC disabled, or the module
// has no symbols) are treated as user code.
func (r *Registry) IsNonUserCode(tok engine.MethodToken) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jmcTable[tok]
}

// stripGeneratedPrefix undoes the compiler's "<Name>k__BackingField" /
// "<Name>" rewrite, returning Name.
func stripGeneratedPrefix(name string) (string, bool) {
	if !strings.HasPrefix(name, "<") {
		return "", false
	}
	end := strings.Index(name, ">")
	if end < 0 {
		return "", false
	}
	return name[1:end], true
}
