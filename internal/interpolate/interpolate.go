// Package interpolate expands ${path.to.value} placeholders inside
// declarative request templates against a variable bag. It is pure and
// synchronous; resolution failures surface the exact template location
// and the variable path that was undefined so configuration errors stay
// actionable.
package interpolate

import (
	"fmt"
	"strconv"
	"strings"
)

// Variables is the bag placeholders resolve against. Nested values are
// reached with dotted paths, e.g. "auth.accessToken".
type Variables map[string]any

// UndefinedVariableError reports a placeholder whose dotted path did
// not resolve. TemplatePath locates the failing value inside the
// template ("headers.authorization", "params[2]"); VariablePath is the
// lookup that came back undefined ("auth.accessToken").
type UndefinedVariableError struct {
	TemplatePath string
	VariablePath string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable %q in template value %q", e.VariablePath, e.TemplatePath)
}

// Interpolate walks template recursively, expanding placeholders in
// every string it contains. Maps and slices are walked structurally,
// never stringified; numbers and other scalars pass through unchanged.
func Interpolate(template any, vars Variables) (any, error) {
	return walk(template, vars, "")
}

// InterpolateString expands placeholders in a single string template.
// templatePath seeds error reporting for callers interpolating a named
// field directly (e.g. "baseURL").
func InterpolateString(template, templatePath string, vars Variables) (string, error) {
	return expand(template, vars, templatePath)
}

// InterpolateStringMap expands every value of a flat string map, such
// as a headers or params template. The map key becomes part of the
// template path on failure.
func InterpolateStringMap(m map[string]string, prefix string, vars Variables) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		expanded, err := expand(v, vars, joinPath(prefix, k))
		if err != nil {
			return nil, err
		}
		out[k] = expanded
	}
	return out, nil
}

func walk(value any, vars Variables, path string) (any, error) {
	switch v := value.(type) {
	case string:
		return expand(v, vars, path)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			expanded, err := walk(child, vars, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case map[string]string:
		return InterpolateStringMap(v, path, vars)
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			expanded, err := walk(child, vars, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	case []string:
		out := make([]string, len(v))
		for i, child := range v {
			expanded, err := expand(child, vars, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		// Numbers, booleans and nil pass through untouched.
		return value, nil
	}
}

// expand scans a single string, honoring \$ (and generally \X) escapes
// and substituting each ${ path } placeholder with the resolved value.
func expand(s string, vars Variables, templatePath string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			// \X emits X literally; \$ is the documented escape for a
			// dollar sign that must not start a placeholder.
			b.WriteByte(s[i+1])
			i += 2
		case c == '$' && i+1 < len(s) && s[i+1] == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				// Unterminated token: treated as literal text.
				b.WriteByte(c)
				i++
				continue
			}
			varPath := strings.TrimSpace(s[i+2 : i+2+end])
			resolved, ok := lookup(vars, varPath)
			if !ok {
				return "", &UndefinedVariableError{TemplatePath: templatePath, VariablePath: varPath}
			}
			b.WriteString(stringify(resolved))
			i += 2 + end + 1
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// lookup resolves a dotted path against the bag. A missing key or a
// nil value is undefined; empty strings are defined values.
func lookup(vars Variables, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = map[string]any(vars)
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case Variables:
			current = map[string]any(node)[part]
		case map[string]any:
			current = node[part]
		case map[string]string:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
		if current == nil {
			return nil, false
		}
	}
	return current, true
}

func stringify(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case bool:
		return strconv.FormatBool(value)
	default:
		return fmt.Sprint(value)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
