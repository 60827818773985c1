package loader

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"gopkg.in/yaml.v3"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
	"github.com/jrepp/launchgraph/pkg/subst"
)

// paramSource is exactly one of value/textfile/binfile/command, resolved
// from a <param> or <rosparam> element's attributes.
type paramSource struct {
	kind string // "value", "textfile", "binfile", "command"
	raw  string
}

// resolveParamSource reads the element's value|textfile|binfile|command
// attribute, enforcing that exactly one is present.
func (l *Loader) resolveParamSource(el *etree.Element, ctx *Context) (paramSource, *Error) {
	var found []paramSource

	if v, ok, lerr := l.attrValue(el, "value", ctx); lerr != nil {
		return paramSource{}, lerr
	} else if ok {
		found = append(found, paramSource{kind: "value", raw: v})
	}
	if v, ok, lerr := l.attrValue(el, "textfile", ctx); lerr != nil {
		return paramSource{}, lerr
	} else if ok {
		found = append(found, paramSource{kind: "textfile", raw: v})
	}
	if v, ok, lerr := l.attrValue(el, "binfile", ctx); lerr != nil {
		return paramSource{}, lerr
	} else if ok {
		found = append(found, paramSource{kind: "binfile", raw: v})
	}
	if v, ok, lerr := l.attrValue(el, "command", ctx); lerr != nil {
		return paramSource{}, lerr
	} else if ok {
		found = append(found, paramSource{kind: "command", raw: v})
	}

	if len(found) == 0 {
		return paramSource{}, newError(ErrorKindMissingAttribute, el.Tag,
			"must have exactly one of value, textfile, binfile, or command")
	}
	if len(found) > 1 {
		return paramSource{}, newError(ErrorKindParse, el.Tag,
			"value, textfile, binfile, and command are mutually exclusive")
	}
	return found[0], nil
}

// materialize turns a paramSource into the raw text or bytes it denotes,
// running a command source and reading a file source as needed.
func (src paramSource) materialize(tag string) (interface{}, *Error) {
	switch src.kind {
	case "value":
		return src.raw, nil
	case "textfile":
		data, err := os.ReadFile(src.raw)
		if err != nil {
			return nil, wrapError(ErrorKindParse, tag, fmt.Sprintf("reading textfile %q", src.raw), err)
		}
		return string(data), nil
	case "binfile":
		data, err := os.ReadFile(src.raw)
		if err != nil {
			return nil, wrapError(ErrorKindParse, tag, fmt.Sprintf("reading binfile %q", src.raw), err)
		}
		return data, nil
	case "command":
		fields := strings.Fields(src.raw)
		if len(fields) == 0 {
			return nil, newError(ErrorKindParse, tag, "command is empty")
		}
		cmd := exec.Command(fields[0], fields[1:]...)
		out, err := cmd.Output()
		if err != nil {
			var execErr *exec.Error
			if errors.As(err, &execErr) {
				return nil, wrapError(ErrorKindParse, tag, fmt.Sprintf("command %q not found", fields[0]), err)
			}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, wrapError(ErrorKindParse, tag, fmt.Sprintf("command %q exited %d", src.raw, exitErr.ExitCode()), err)
			}
			return nil, wrapError(ErrorKindParse, tag, fmt.Sprintf("running command %q", src.raw), err)
		}
		return strings.TrimRight(string(out), "\n"), nil
	default:
		return nil, newError(ErrorKindParse, tag, fmt.Sprintf("unknown param source %q", src.kind))
	}
}

// coerceParam applies a type-tag to a materialized param value. binfile
// sources are always treated as raw bytes regardless of type.
func coerceParam(raw interface{}, typ string, tag string) (interface{}, launchconfig.ParamType, *Error) {
	if b, ok := raw.([]byte); ok {
		return b, launchconfig.ParamTypeStr, nil
	}
	s, _ := raw.(string)

	switch typ {
	case "", "auto":
		return coerceAuto(s), launchconfig.ParamTypeAuto, nil
	case "str":
		return s, launchconfig.ParamTypeStr, nil
	case "int":
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, "", wrapError(ErrorKindParse, tag, fmt.Sprintf("value %q is not an int", s), err)
		}
		return n, launchconfig.ParamTypeInt, nil
	case "double":
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, "", wrapError(ErrorKindParse, tag, fmt.Sprintf("value %q is not a double", s), err)
		}
		return f, launchconfig.ParamTypeDouble, nil
	case "bool":
		truthy, err := subst.IsTruthy(s)
		if err != nil {
			return nil, "", wrapError(ErrorKindParse, tag, fmt.Sprintf("value %q is not a bool", s), err)
		}
		return truthy, launchconfig.ParamTypeBool, nil
	case "yaml":
		var v interface{}
		if err := yaml.Unmarshal([]byte(s), &v); err != nil {
			return nil, "", wrapError(ErrorKindParse, tag, "value is not valid yaml", err)
		}
		return v, launchconfig.ParamTypeYAML, nil
	default:
		return nil, "", newError(ErrorKindParse, tag, fmt.Sprintf("unknown param type %q", typ))
	}
}

func coerceAuto(s string) interface{} {
	trimmed := strings.TrimSpace(s)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	if truthy, err := subst.IsTruthy(trimmed); err == nil {
		return truthy
	}
	return s
}
