package subst

import "strings"

// MakeGlobalNS resolves a possibly-relative name against a namespace,
// producing a fully qualified, slash-separated global name.
//
//   - Names beginning with "/" are already global and pass through unchanged.
//   - Names beginning with "~" are private and are joined under ns plus the
//     owning node's own name (callers resolving a private name must supply
//     that joined namespace).
//   - Anything else is relative and is joined under ns.
func MakeGlobalNS(name, ns string) string {
	if name == "" {
		return NSJoin(ns, "")
	}
	if IsGlobal(name) {
		return name
	}
	if IsPrivate(name) {
		name = strings.TrimPrefix(name, "~")
	}
	return NSJoin(ns, name)
}

// NSJoin joins a namespace and a relative name with exactly one "/",
// collapsing repeated separators and always returning an absolute
// ("/"-prefixed) result.
//
// A global name ("/foo") or a private name ("~foo") overrides the
// namespace entirely rather than nesting under it: ns_join("/a", "/b")
// is "/b", and ns_join("/a", "~b") is "~b".
func NSJoin(ns, name string) string {
	if IsGlobal(name) || IsPrivate(name) {
		return name
	}

	ns = strings.TrimSuffix(ns, "/")
	if !strings.HasPrefix(ns, "/") {
		ns = "/" + ns
	}

	if name == "" {
		if ns == "/" {
			return "/"
		}
		return ns
	}
	if ns == "/" {
		return "/" + name
	}
	return ns + "/" + name
}

// IsGlobal reports whether name is already fully qualified.
func IsGlobal(name string) bool {
	return strings.HasPrefix(name, "/")
}

// IsPrivate reports whether name is a private ("~"-prefixed) name.
func IsPrivate(name string) bool {
	return strings.HasPrefix(name, "~")
}
