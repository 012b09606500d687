package eval

import (
	"fmt"
	"strings"

	"github.com/Samsung/netcoredbg-sub001/internal/errors"
)

// Component is one link in a parsed expression chain: either a member name
// (optionally carrying an atomic generic argument list, e.g. "Foo<Bar,Baz>")
// or a bracketed comma-separated index list, e.g. "[0,1]".
type Component struct {
	Name  string   // member/type name; empty when Index != nil
	Index []string // non-nil for a "[...]" component
}

func (c Component) String() string {
	if c.Index != nil {
		return "[" + strings.Join(c.Index, ",") + "]"
	}
	return c.Name
}

// Parse splits expr into its "$exception" prefix flag and its dot/bracket
// chain of Components. A generic argument list's angle-bracket depth is
// tracked so a "." or "," inside "<...>" never splits a component.
func Parse(expr string) (exceptionPrefixed bool, chain []Component, err error) {
	s := strings.TrimSpace(expr)
	if strings.HasPrefix(s, "$exception") {
		exceptionPrefixed = true
		s = strings.TrimPrefix(s, "$exception")
		s = strings.TrimPrefix(s, ".")
	}
	if s == "" {
		if exceptionPrefixed {
			return true, nil, nil
		}
		return false, nil, errors.New("Parse", errors.ParseError, "empty expression")
	}

	i := 0
	for i < len(s) {
		var c Component
		var next int
		var perr error
		if s[i] == '[' {
			next, c.Index, perr = scanIndexList(s, i)
		} else {
			next, c.Name, perr = scanName(s, i)
		}
		if perr != nil {
			return exceptionPrefixed, nil, errors.Wrap("Parse", errors.ParseError, "malformed expression", perr)
		}
		chain = append(chain, c)
		i = next
		if i < len(s) && s[i] == '.' {
			i++
			if i >= len(s) {
				return exceptionPrefixed, nil, errors.New("Parse", errors.ParseError, "trailing '.'")
			}
		}
	}
	return exceptionPrefixed, chain, nil
}

// scanName scans an identifier component starting at i, stopping at the
// first top-level '.' or '[' (depth 0 in angle brackets).
func scanName(s string, i int) (int, string, error) {
	start := i
	depth := 0
	for i < len(s) {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case '.', '[':
			if depth == 0 {
				return i, s[start:i], nil
			}
		}
		i++
	}
	if depth != 0 {
		return i, "", fmt.Errorf("unbalanced '<' in %q", s[start:i])
	}
	return i, s[start:i], nil
}

// scanIndexList scans a "[a,b,...]" component starting at the '[' at i,
// splitting on top-level commas (depth 0 in both bracket and angle nesting).
func scanIndexList(s string, i int) (int, []string, error) {
	start := i + 1
	depth := 0
	angle := 0
	partStart := start
	var parts []string
	j := start
	for j < len(s) {
		switch s[j] {
		case '<':
			angle++
		case '>':
			if angle > 0 {
				angle--
			}
		case '[':
			depth++
		case ']':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[partStart:j]))
				return j + 1, parts, nil
			}
			depth--
		case ',':
			if depth == 0 && angle == 0 {
				parts = append(parts, strings.TrimSpace(s[partStart:j]))
				partStart = j + 1
			}
		}
		j++
	}
	return j, nil, fmt.Errorf("unterminated index expression in %q", s[start:j])
}

// Render reconstructs the expression text a component chain was parsed
// from (modulo the `$exception` prefix, which the caller re-adds itself):
// the inverse of Parse. Used by callers that resolve a sub-chain (e.g. "all
// but the last component") and need the textual form back to re-enter
// Resolve.
func Render(chain []Component) string {
	var b strings.Builder
	for i, c := range chain {
		if c.Index != nil {
			b.WriteString(c.String())
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(c.Name)
	}
	return b.String()
}

// joinNames re-renders a dotted type name out of chain's component names;
// callers pass a leading sub-chain when probing type-name prefixes.
func joinNames(chain []Component) string {
	names := make([]string, len(chain))
	for i, c := range chain {
		names[i] = c.Name
	}
	return strings.Join(names, ".")
}
