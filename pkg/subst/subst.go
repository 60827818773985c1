// Package subst resolves the $(...) substitution directives that appear in
// launch XML attribute values, and implements the naming/namespacing laws
// nodes and parameters are resolved under.
package subst

import (
	"fmt"
	"strings"
)

// Lookup resolves the external state a substitution directive needs:
// environment variables, declared launch arguments, and package paths.
// The loader supplies the concrete implementation; subst only consumes it.
type Lookup interface {
	// Env returns an environment variable's value and whether it is set.
	Env(name string) (string, bool)

	// Arg returns a declared <arg> value and whether it is set.
	Arg(name string) (string, bool)

	// FindPackage resolves a package name to its filesystem path.
	FindPackage(name string) (string, error)
}

// Error reports a substitution failure, naming the directive and the raw
// text it was found in.
type Error struct {
	Directive string
	Text      string
	Reason    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("substitution %q in %q: %s", e.Directive, e.Text, e.Reason)
}

// ResolveArgs expands every $(...) directive in s, left to right. Directives
// do not nest: the first unescaped ")" closes the innermost open "$(".
func ResolveArgs(s string, lookup Lookup) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "$(")
		if start < 0 {
			out.WriteString(s[i:])
			break
		}
		out.WriteString(s[i : i+start])
		open := i + start
		closeIdx := strings.IndexByte(s[open:], ')')
		if closeIdx < 0 {
			return "", &Error{Text: s, Reason: "unterminated $( directive"}
		}
		directive := s[open+2 : open+closeIdx]
		resolved, err := resolveOne(directive, lookup)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", s, err)
		}
		out.WriteString(resolved)
		i = open + closeIdx + 1
	}
	return out.String(), nil
}

func resolveOne(directive string, lookup Lookup) (string, error) {
	fields := strings.Fields(directive)
	if len(fields) == 0 {
		return "", &Error{Directive: directive, Reason: "empty substitution directive"}
	}

	kind := fields[0]
	args := fields[1:]

	switch kind {
	case "env":
		if len(args) != 1 {
			return "", &Error{Directive: directive, Reason: "env requires exactly one argument"}
		}
		val, ok := lookup.Env(args[0])
		if !ok {
			return "", &Error{Directive: directive, Reason: fmt.Sprintf("environment variable %q is not set", args[0])}
		}
		return val, nil

	case "optenv":
		if len(args) < 1 {
			return "", &Error{Directive: directive, Reason: "optenv requires a variable name"}
		}
		val, ok := lookup.Env(args[0])
		if ok {
			return val, nil
		}
		return strings.Join(args[1:], " "), nil

	case "arg":
		if len(args) != 1 {
			return "", &Error{Directive: directive, Reason: "arg requires exactly one argument"}
		}
		val, ok := lookup.Arg(args[0])
		if !ok {
			return "", &Error{Directive: directive, Reason: fmt.Sprintf("arg %q is not defined", args[0])}
		}
		return val, nil

	case "find":
		if len(args) != 1 {
			return "", &Error{Directive: directive, Reason: "find requires exactly one argument"}
		}
		path, err := lookup.FindPackage(args[0])
		if err != nil {
			return "", &Error{Directive: directive, Reason: err.Error()}
		}
		return path, nil

	default:
		return "", &Error{Directive: directive, Reason: fmt.Sprintf("unknown substitution directive %q", kind)}
	}
}

// IsTruthy parses an if/unless attribute value per the loader's conditional
// evaluation rule: "true"/"1" is true, "false"/"0" is false, anything else
// is a parse error.
func IsTruthy(s string) (bool, error) {
	switch s {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q: expected true/false/1/0", s)
	}
}
