package loader

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
	"github.com/jrepp/launchgraph/pkg/subst"
)

// Loader parses launch XML documents, resolving substitutions and includes
// as it walks the DOM, and assembles the results into a launchconfig.Config.
// Tag handlers never panic: every failure is returned as a tagged *Error,
// composed by the caller that invoked Load.
type Loader struct {
	resolver PackageResolver
}

// New returns a Loader that resolves $(find pkg) through resolver. Pass nil
// to use the default ROS_PACKAGE_PATH-based resolver.
func New(resolver PackageResolver) *Loader {
	if resolver == nil {
		resolver = NewPathResolver()
	}
	return &Loader{resolver: resolver}
}

// LoadFile parses the launch XML document at path into a Config.
func (l *Loader) LoadFile(path string) (*launchconfig.Config, *Error) {
	return l.LoadFileWithArgs(path, nil)
}

// LoadFileWithArgs parses path the same way LoadFile does, except the root
// context starts with args already declared, as if each had been passed in
// from a caller one level up. An <arg> tag whose name is already present is
// left untouched (the same short-circuit handleArg already applies to an
// <include>'s passed-in args), so a name in args replaces that <arg>'s
// default, and equally its value attribute if it has one. A launch file's
// own <arg default="..."/> or <arg value="..."/> still applies to any name
// args doesn't mention.
func (l *Loader) LoadFileWithArgs(path string, args map[string]string) (*launchconfig.Config, *Error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, wrapError(ErrorKindParse, "launch", fmt.Sprintf("reading %s", path), err)
	}
	cfg := launchconfig.NewConfig()
	ctx := RootContext()
	for name, value := range args {
		ctx = ctx.withArg(name, value)
	}
	if lerr := l.loadDocument(cfg, doc, ctx, filepath.Dir(path)); lerr != nil {
		return nil, lerr
	}
	return cfg, nil
}

func (l *Loader) loadDocument(cfg *launchconfig.Config, doc *etree.Document, ctx *Context, baseDir string) *Error {
	root := doc.Root()
	if root == nil || root.Tag != "launch" {
		return newError(ErrorKindParse, "launch", "document has no root <launch> element")
	}
	return l.walkChildren(cfg, root.ChildElements(), ctx, baseDir)
}

// ctxLookup adapts a Context plus a PackageResolver into a subst.Lookup.
type ctxLookup struct {
	ctx      *Context
	resolver PackageResolver
}

func (c ctxLookup) Env(name string) (string, bool)  { return os.LookupEnv(name) }
func (c ctxLookup) Arg(name string) (string, bool)   { return c.ctx.Arg(name) }
func (c ctxLookup) FindPackage(name string) (string, error) {
	return c.resolver.FindPackage(name)
}

func (l *Loader) resolve(s string, ctx *Context) (string, error) {
	return subst.ResolveArgs(s, ctxLookup{ctx: ctx, resolver: l.resolver})
}

// attrValue resolves a (possibly substitution-bearing) attribute, returning
// ("", false) when the attribute is absent.
func (l *Loader) attrValue(el *etree.Element, name string, ctx *Context) (string, bool, *Error) {
	attr := el.SelectAttr(name)
	if attr == nil {
		return "", false, nil
	}
	resolved, err := l.resolve(attr.Value, ctx)
	if err != nil {
		return "", true, wrapError(ErrorKindSubstitution, el.Tag, fmt.Sprintf("attribute %q", name), err)
	}
	return resolved, true, nil
}

func (l *Loader) requiredAttr(el *etree.Element, name string, ctx *Context) (string, *Error) {
	v, ok, lerr := l.attrValue(el, name, ctx)
	if lerr != nil {
		return "", lerr
	}
	if !ok {
		return "", newError(ErrorKindMissingAttribute, el.Tag, fmt.Sprintf("missing required attribute %q", name))
	}
	return v, nil
}

// shouldProcess evaluates an element's if/unless attributes, resolving
// substitutions first. Absence of both attributes means "always process".
func (l *Loader) shouldProcess(el *etree.Element, ctx *Context) (bool, *Error) {
	ifVal, hasIf, lerr := l.attrValue(el, "if", ctx)
	if lerr != nil {
		return false, lerr
	}
	unlessVal, hasUnless, lerr := l.attrValue(el, "unless", ctx)
	if lerr != nil {
		return false, lerr
	}
	if hasIf && hasUnless {
		return false, newError(ErrorKindCondition, el.Tag, "cannot specify both if and unless")
	}
	if hasIf {
		truthy, err := subst.IsTruthy(ifVal)
		if err != nil {
			return false, wrapError(ErrorKindCondition, el.Tag, "if attribute", err)
		}
		return truthy, nil
	}
	if hasUnless {
		truthy, err := subst.IsTruthy(unlessVal)
		if err != nil {
			return false, wrapError(ErrorKindCondition, el.Tag, "unless attribute", err)
		}
		return !truthy, nil
	}
	return true, nil
}

// walkChildren processes elems in document order, threading ctx forward
// sequentially so that an <arg>, <remap>, or <env> tag is visible to its
// later siblings, while a <group>, <node>, or <include> only ever receives
// (and mutates) its own child Context, never the caller's.
func (l *Loader) walkChildren(cfg *launchconfig.Config, elems []*etree.Element, ctx *Context, baseDir string) *Error {
	for _, el := range elems {
		ok, lerr := l.shouldProcess(el, ctx)
		if lerr != nil {
			return lerr
		}
		if !ok {
			continue
		}

		var next *Context
		var err *Error
		next, err = l.handleElement(cfg, el, ctx, baseDir)
		if err != nil {
			return err
		}
		if next != nil {
			ctx = next
		}
	}
	return nil
}

// handleElement dispatches on tag, returning an updated ctx when the tag
// extends the current scope for subsequent siblings (arg/remap/env), or nil
// when it does not (node/test/group/include/param/... only affect their own
// subtree or the Config).
func (l *Loader) handleElement(cfg *launchconfig.Config, el *etree.Element, ctx *Context, baseDir string) (*Context, *Error) {
	switch el.Tag {
	case "arg":
		return l.handleArg(el, ctx)
	case "remap":
		return l.handleRemap(el, ctx)
	case "env":
		return l.handleEnv(el, ctx)
	case "param":
		return nil, l.handleParam(cfg, el, ctx)
	case "rosparam":
		return nil, l.handleRosparam(cfg, el, ctx)
	case "clear_param":
		return nil, l.handleClearParam(cfg, el, ctx)
	case "machine":
		return nil, l.handleMachine(cfg, el, ctx)
	case "master":
		return nil, l.handleMaster(cfg, el, ctx)
	case "node":
		return nil, l.handleNode(cfg, el, ctx)
	case "test":
		return nil, l.handleTest(cfg, el, ctx)
	case "executable":
		return nil, l.handleExecutable(cfg, el, ctx)
	case "group":
		return nil, l.handleGroup(cfg, el, ctx, baseDir)
	case "include":
		return nil, l.handleInclude(cfg, el, ctx, baseDir)
	default:
		log.Printf("loader: unrecognized tag <%s>, ignoring", el.Tag)
		return nil, nil
	}
}

func (l *Loader) handleArg(el *etree.Element, ctx *Context) (*Context, *Error) {
	name, lerr := l.requiredAttr(el, "name", ctx)
	if lerr != nil {
		return nil, lerr
	}
	if _, ok := ctx.Arg(name); ok {
		// already defined higher up (e.g. passed in via <include>); the
		// existing value wins and this redeclaration is a no-op.
		return nil, nil
	}

	if value, ok, lerr := l.attrValue(el, "value", ctx); lerr != nil {
		return nil, lerr
	} else if ok {
		return ctx.withArg(name, value), nil
	}

	if def, ok, lerr := l.attrValue(el, "default", ctx); lerr != nil {
		return nil, lerr
	} else if ok {
		return ctx.withArg(name, def), nil
	}

	return nil, newError(ErrorKindMissingAttribute, "arg", fmt.Sprintf("arg %q has neither value nor default and was not passed in", name))
}

func (l *Loader) handleRemap(el *etree.Element, ctx *Context) (*Context, *Error) {
	from, lerr := l.requiredAttr(el, "from", ctx)
	if lerr != nil {
		return nil, lerr
	}
	to, lerr := l.requiredAttr(el, "to", ctx)
	if lerr != nil {
		return nil, lerr
	}
	return ctx.pushRemap(launchconfig.Remap{From: launchconfig.Name(from), To: launchconfig.Name(to)}), nil
}

func (l *Loader) handleEnv(el *etree.Element, ctx *Context) (*Context, *Error) {
	name, lerr := l.requiredAttr(el, "name", ctx)
	if lerr != nil {
		return nil, lerr
	}
	value, lerr := l.requiredAttr(el, "value", ctx)
	if lerr != nil {
		return nil, lerr
	}
	return ctx.pushEnv(launchconfig.EnvVar{Name: name, Value: value}), nil
}

func (l *Loader) handleParam(cfg *launchconfig.Config, el *etree.Element, ctx *Context) *Error {
	name, lerr := l.requiredAttr(el, "name", ctx)
	if lerr != nil {
		return lerr
	}

	src, lerr := l.resolveParamSource(el, ctx)
	if lerr != nil {
		return lerr
	}
	raw, lerr := src.materialize(el.Tag)
	if lerr != nil {
		return lerr
	}

	typ, _, lerr := l.attrValue(el, "type", ctx)
	if lerr != nil {
		return lerr
	}
	value, ptype, lerr := coerceParam(raw, typ, el.Tag)
	if lerr != nil {
		return lerr
	}

	global := subst.MakeGlobalNS(name, ctx.Namespace)
	cfg.AddParam(launchconfig.Param{Name: launchconfig.Name(global), Value: value, Type: ptype})
	return nil
}

// handleRosparam implements the rosparam tag: file must be non-empty and
// command must be load or dump. Only load is meaningful at launch time
// (dump writes parameter-server state out, which belongs to the running
// system, not the static graph this loader builds) so it is emitted as a
// setup-phase Executable that roslaunch's own rosparam CLI carries out,
// rather than being parsed and published directly here.
func (l *Loader) handleRosparam(cfg *launchconfig.Config, el *etree.Element, ctx *Context) *Error {
	file, lerr := l.requiredAttr(el, "file", ctx)
	if lerr != nil {
		return lerr
	}

	command := "load"
	if v, ok, lerr := l.attrValue(el, "command", ctx); lerr != nil {
		return lerr
	} else if ok {
		command = v
	}
	if command != "load" && command != "dump" {
		return newError(ErrorKindParse, el.Tag, fmt.Sprintf("command must be load or dump, got %q", command))
	}

	ns := ctx.Namespace
	if v, ok, lerr := l.attrValue(el, "ns", ctx); lerr != nil {
		return lerr
	} else if ok {
		ns = subst.NSJoin(ctx.Namespace, v)
	}

	cfg.AddExecutable(launchconfig.Executable{
		Command: "rosparam",
		Args:    fmt.Sprintf("%s %s %s", command, file, ns),
		Phase:   launchconfig.ExecutableSetup,
	})
	return nil
}

func (l *Loader) handleClearParam(cfg *launchconfig.Config, el *etree.Element, ctx *Context) *Error {
	name, lerr := l.requiredAttr(el, "name", ctx)
	if lerr != nil {
		return lerr
	}
	global := subst.MakeGlobalNS(name, ctx.Namespace)
	cfg.AddClearParam(launchconfig.ClearParam{Name: launchconfig.Name(global)})
	return nil
}

func (l *Loader) handleMachine(cfg *launchconfig.Config, el *etree.Element, ctx *Context) *Error {
	name, lerr := l.requiredAttr(el, "name", ctx)
	if lerr != nil {
		return lerr
	}
	address, lerr := l.requiredAttr(el, "address", ctx)
	if lerr != nil {
		return lerr
	}

	m := &launchconfig.Machine{Name: name, Address: address}

	if v, ok, lerr := l.attrValue(el, "port", ctx); lerr != nil {
		return lerr
	} else if ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return wrapError(ErrorKindParse, "machine", "port must be an integer", err)
		}
		m.SSHPort = port
	} else {
		m.SSHPort = 22
	}
	if v, ok, lerr := l.attrValue(el, "user", ctx); lerr != nil {
		return lerr
	} else if ok {
		m.User = v
	}
	if v, ok, lerr := l.attrValue(el, "password", ctx); lerr != nil {
		return lerr
	} else if ok {
		m.Password = v
	}
	if v, ok, lerr := l.attrValue(el, "env-loader", ctx); lerr != nil {
		return lerr
	} else if ok {
		m.EnvLoader = v
	}
	if v, ok, lerr := l.attrValue(el, "default", ctx); lerr != nil {
		return lerr
	} else if ok {
		if v == "never" {
			m.Default = launchconfig.MachineDefaultNever
		} else {
			truthy, err := subst.IsTruthy(v)
			if err != nil {
				return wrapError(ErrorKindCondition, "machine", "default attribute must be true, false, or never", err)
			}
			if truthy {
				m.Default = launchconfig.MachineDefaultTrue
			} else {
				m.Default = launchconfig.MachineDefaultFalse
			}
		}
	}

	cfg.AddMachine(m)
	return nil
}

func (l *Loader) handleMaster(cfg *launchconfig.Config, el *etree.Element, ctx *Context) *Error {
	uri, lerr := l.requiredAttr(el, "uri", ctx)
	if lerr != nil {
		return lerr
	}
	auto := launchconfig.MasterAutoNo
	if v, ok, lerr := l.attrValue(el, "auto", ctx); lerr != nil {
		return lerr
	} else if ok {
		switch v {
		case "no":
			auto = launchconfig.MasterAutoNo
		case "start":
			auto = launchconfig.MasterAutoStart
		case "restart":
			auto = launchconfig.MasterAutoRestart
		default:
			return newError(ErrorKindParse, "master", fmt.Sprintf("invalid auto value %q", v))
		}
	}
	cfg.SetMaster(launchconfig.Master{URI: uri, Auto: auto})
	return nil
}

func (l *Loader) baseNode(cfg *launchconfig.Config, el *etree.Element, ctx *Context) (*launchconfig.Node, *Error) {
	pkg, lerr := l.requiredAttr(el, "pkg", ctx)
	if lerr != nil {
		return nil, lerr
	}
	typ, lerr := l.requiredAttr(el, "type", ctx)
	if lerr != nil {
		return nil, lerr
	}
	// name is only required once a child param/rosparam tag needs it to
	// scope its own namespace (see the child-walk below); a plain
	// <node pkg=".." type=".."/> with no name is otherwise valid.
	name, _, lerr := l.attrValue(el, "name", ctx)
	if lerr != nil {
		return nil, lerr
	}

	namespace := ctx.Namespace
	if ns, ok, lerr := l.attrValue(el, "ns", ctx); lerr != nil {
		return nil, lerr
	} else if ok {
		namespace = subst.NSJoin(ctx.Namespace, ns)
	}

	if v, ok, lerr := l.attrValue(el, "clear_params", ctx); lerr != nil {
		return nil, lerr
	} else if ok {
		truthy, err := subst.IsTruthy(v)
		if err != nil {
			return nil, wrapError(ErrorKindCondition, el.Tag, "clear_params attribute", err)
		}
		if truthy {
			if name == "" {
				return nil, newError(ErrorKindParse, el.Tag, "clear_params requires a name on a node")
			}
			cfg.AddClearParam(launchconfig.ClearParam{Name: launchconfig.Name(subst.NSJoin(namespace, name))})
		}
	}

	n := &launchconfig.Node{
		Package:   pkg,
		Type:      typ,
		Name:      name,
		Namespace: namespace,
		Machine:   ctx.Machine,
		Output:    "log",
		Remaps:    ctx.Remaps,
		Env:       ctx.Env,
	}

	if v, ok, lerr := l.attrValue(el, "args", ctx); lerr != nil {
		return nil, lerr
	} else if ok {
		n.Args = v
	}
	if v, ok, lerr := l.attrValue(el, "respawn", ctx); lerr != nil {
		return nil, lerr
	} else if ok {
		truthy, err := subst.IsTruthy(v)
		if err != nil {
			return nil, wrapError(ErrorKindCondition, el.Tag, "respawn attribute", err)
		}
		n.Respawn = truthy
	}
	if v, ok, lerr := l.attrValue(el, "required", ctx); lerr != nil {
		return nil, lerr
	} else if ok {
		truthy, err := subst.IsTruthy(v)
		if err != nil {
			return nil, wrapError(ErrorKindCondition, el.Tag, "required attribute", err)
		}
		n.Required = truthy
	}
	if v, ok, lerr := l.attrValue(el, "output", ctx); lerr != nil {
		return nil, lerr
	} else if ok {
		n.Output = v
	}
	if v, ok, lerr := l.attrValue(el, "cwd", ctx); lerr != nil {
		return nil, lerr
	} else if ok {
		n.CWD = v
	}
	if v, ok, lerr := l.attrValue(el, "machine", ctx); lerr != nil {
		return nil, lerr
	} else if ok {
		n.Machine = v
	}

	nodeCtx := ctx
	for _, child := range el.ChildElements() {
		ok, lerr := l.shouldProcess(child, nodeCtx)
		if lerr != nil {
			return nil, lerr
		}
		if !ok {
			continue
		}
		switch child.Tag {
		case "remap":
			next, lerr := l.handleRemap(child, nodeCtx)
			if lerr != nil {
				return nil, lerr
			}
			nodeCtx = next
		case "env":
			next, lerr := l.handleEnv(child, nodeCtx)
			if lerr != nil {
				return nil, lerr
			}
			nodeCtx = next
		case "param", "rosparam":
			if name == "" {
				return nil, newError(ErrorKindMissingAttribute, el.Tag,
					fmt.Sprintf("name is required to use a child <%s> tag", child.Tag))
			}
			paramCtx := &Context{
				Namespace: subst.NSJoin(namespace, name),
				Remaps:    nodeCtx.Remaps,
				Env:       nodeCtx.Env,
				Args:      nodeCtx.Args,
				Machine:   nodeCtx.Machine,
			}
			if child.Tag == "param" {
				if lerr := l.handleParam(cfg, child, paramCtx); lerr != nil {
					return nil, lerr
				}
			} else if lerr := l.handleRosparam(cfg, child, paramCtx); lerr != nil {
				return nil, lerr
			}
		default:
			log.Printf("loader: unrecognized child <%s> of <%s>, ignoring", child.Tag, el.Tag)
		}
	}
	n.Remaps = nodeCtx.Remaps
	n.Env = nodeCtx.Env

	return n, nil
}

func (l *Loader) handleNode(cfg *launchconfig.Config, el *etree.Element, ctx *Context) *Error {
	n, lerr := l.baseNode(cfg, el, ctx)
	if lerr != nil {
		return lerr
	}

	core := false
	if v, ok, lerr := l.attrValue(el, "core", ctx); lerr != nil {
		return lerr
	} else if ok {
		truthy, err := subst.IsTruthy(v)
		if err != nil {
			return wrapError(ErrorKindCondition, el.Tag, "core attribute", err)
		}
		core = truthy
	}

	if core {
		cfg.AddCoreNode(n)
	} else {
		cfg.AddNode(n)
	}
	return nil
}

func (l *Loader) handleTest(cfg *launchconfig.Config, el *etree.Element, ctx *Context) *Error {
	n, lerr := l.baseNode(cfg, el, ctx)
	if lerr != nil {
		return lerr
	}
	n.Required = true

	testName, lerr := l.requiredAttr(el, "test-name", ctx)
	if lerr != nil {
		return lerr
	}

	timeSec := 60.0
	if v, ok, lerr := l.attrValue(el, "time-limit", ctx); lerr != nil {
		return lerr
	} else if ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return wrapError(ErrorKindParse, "test", "time-limit must be a number", err)
		}
		timeSec = parsed
	}

	retry := 0
	if v, ok, lerr := l.attrValue(el, "retry", ctx); lerr != nil {
		return lerr
	} else if ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return wrapError(ErrorKindParse, "test", "retry must be an integer", err)
		}
		retry = parsed
	}

	cfg.AddTest(&launchconfig.TestNode{Node: *n, TestName: testName, TimeSec: timeSec, Retry: retry})
	return nil
}

func (l *Loader) handleExecutable(cfg *launchconfig.Config, el *etree.Element, ctx *Context) *Error {
	command, lerr := l.requiredAttr(el, "command", ctx)
	if lerr != nil {
		return lerr
	}
	e := launchconfig.Executable{Command: command}
	if v, ok, lerr := l.attrValue(el, "args", ctx); lerr != nil {
		return lerr
	} else if ok {
		e.Args = v
	}
	if v, ok, lerr := l.attrValue(el, "cwd", ctx); lerr != nil {
		return lerr
	} else if ok {
		e.CWD = v
	}
	if v, ok, lerr := l.attrValue(el, "phase", ctx); lerr != nil {
		return lerr
	} else if ok && v != "setup" {
		return newError(ErrorKindParse, "executable", fmt.Sprintf("unknown phase %q", v))
	}
	cfg.AddExecutable(e)
	return nil
}

func (l *Loader) handleGroup(cfg *launchconfig.Config, el *etree.Element, ctx *Context, baseDir string) *Error {
	groupCtx := ctx
	hasNS := false
	if ns, ok, lerr := l.attrValue(el, "ns", ctx); lerr != nil {
		return lerr
	} else if ok {
		groupCtx = groupCtx.pushNamespace(ns)
		hasNS = true
	}

	if v, ok, lerr := l.attrValue(el, "clear_params", ctx); lerr != nil {
		return lerr
	} else if ok {
		truthy, err := subst.IsTruthy(v)
		if err != nil {
			return wrapError(ErrorKindCondition, el.Tag, "clear_params attribute", err)
		}
		if truthy {
			if !hasNS {
				return newError(ErrorKindParse, el.Tag, "clear_params on a group requires ns")
			}
			ns := groupCtx.Namespace
			if !strings.HasSuffix(ns, "/") {
				ns += "/"
			}
			cfg.AddClearParam(launchconfig.ClearParam{Name: launchconfig.Name(ns)})
		}
	}

	return l.walkChildren(cfg, el.ChildElements(), groupCtx, baseDir)
}

func (l *Loader) handleInclude(cfg *launchconfig.Config, el *etree.Element, ctx *Context, baseDir string) *Error {
	file, lerr := l.requiredAttr(el, "file", ctx)
	if lerr != nil {
		return lerr
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(baseDir, file)
	}

	includeCtx := RootContext()
	includeCtx.Namespace = ctx.Namespace
	includeCtx.Remaps = ctx.Remaps
	includeCtx.Env = ctx.Env
	includeCtx.Machine = ctx.Machine

	for _, child := range el.ChildElements() {
		if child.Tag != "arg" {
			continue
		}
		ok, lerr := l.shouldProcess(child, ctx)
		if lerr != nil {
			return lerr
		}
		if !ok {
			continue
		}
		name, lerr := l.requiredAttr(child, "name", ctx)
		if lerr != nil {
			return lerr
		}
		value, lerr := l.requiredAttr(child, "value", ctx)
		if lerr != nil {
			return lerr
		}
		includeCtx = includeCtx.withArg(name, value)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(file); err != nil {
		return wrapError(ErrorKindInclude, "include", fmt.Sprintf("reading %s", file), err)
	}
	return l.loadDocument(cfg, doc, includeCtx, filepath.Dir(file))
}
