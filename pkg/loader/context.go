// Package loader parses launch XML documents into a launchconfig.Config,
// walking the DOM with github.com/beevik/etree and resolving substitutions
// with pkg/subst as it goes.
package loader

import (
	"github.com/jrepp/launchgraph/pkg/launchconfig"
	"github.com/jrepp/launchgraph/pkg/subst"
)

// Context is the scope a tag is interpreted under: the namespace it
// resolves relative names against, the remaps and env vars inherited from
// enclosing <group> tags, and the declared <arg> values visible to
// substitutions. Context is a cons-list: every recursive descent into a
// child tag gets its own child frame built with push*, and never mutates
// the parent's slices — satisfied by always appending onto a fresh copy.
type Context struct {
	Namespace string
	Remaps    []launchconfig.Remap
	Env       []launchconfig.EnvVar
	Args      map[string]string
	Machine   string

	parent *Context
}

// RootContext returns the top-level context a <launch> document starts in.
func RootContext() *Context {
	return &Context{
		Namespace: "/",
		Args:      make(map[string]string),
	}
}

// pushNamespace returns a child context under the given relative namespace.
func (c *Context) pushNamespace(ns string) *Context {
	child := c.clone()
	if ns != "" {
		child.Namespace = subst.NSJoin(c.Namespace, ns)
	}
	return child
}

// pushRemap returns a child context with one more remap appended.
func (c *Context) pushRemap(r launchconfig.Remap) *Context {
	child := c.clone()
	child.Remaps = append(append([]launchconfig.Remap{}, c.Remaps...), r)
	return child
}

// pushEnv returns a child context with one more env var appended.
func (c *Context) pushEnv(e launchconfig.EnvVar) *Context {
	child := c.clone()
	child.Env = append(append([]launchconfig.EnvVar{}, c.Env...), e)
	return child
}

// pushMachine returns a child context scoped to the given default machine.
func (c *Context) pushMachine(name string) *Context {
	child := c.clone()
	child.Machine = name
	return child
}

// withArg returns a child context with one more declared arg visible.
func (c *Context) withArg(name, value string) *Context {
	child := c.clone()
	child.Args = make(map[string]string, len(c.Args)+1)
	for k, v := range c.Args {
		child.Args[k] = v
	}
	child.Args[name] = value
	return child
}

func (c *Context) clone() *Context {
	return &Context{
		Namespace: c.Namespace,
		Remaps:    c.Remaps,
		Env:       c.Env,
		Args:      c.Args,
		Machine:   c.Machine,
		parent:    c,
	}
}

// Arg returns a declared arg's value, satisfying subst.Lookup.
func (c *Context) Arg(name string) (string, bool) {
	v, ok := c.Args[name]
	return v, ok
}
