package launchconfig

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// AddNode appends an ordinary node to the graph.
func (c *Config) AddNode(n *Node) {
	c.Nodes = append(c.Nodes, n)
}

// AddCoreNode appends a node to the core set: launch_core_nodes brings these
// up ahead of every ordinary node, and only if the master doesn't already
// report them running.
func (c *Config) AddCoreNode(n *Node) {
	c.NodesCore = append(c.NodesCore, n)
}

// AddTest appends a test node to the graph.
func (c *Config) AddTest(n *TestNode) {
	c.Tests = append(c.Tests, n)
}

// AddParam appends a parameter to be set before node launch.
func (c *Config) AddParam(p Param) {
	c.Params = append(c.Params, p)
}

// AddClearParam appends a clear-param directive.
func (c *Config) AddClearParam(cp ClearParam) {
	c.ClearParams = append(c.ClearParams, cp)
}

// AddMachine registers a machine definition. A duplicate name overwrites
// the previous definition, matching <machine> redefinition semantics.
func (c *Config) AddMachine(m *Machine) {
	if c.Machines == nil {
		c.Machines = make(map[string]*Machine)
	}
	c.Machines[m.Name] = m
}

// AddExecutable appends a setup/teardown executable.
func (c *Config) AddExecutable(e Executable) {
	c.Executables = append(c.Executables, e)
}

// SetMaster sets the master descriptor. A later call overwrites an earlier one.
func (c *Config) SetMaster(m Master) {
	c.Master = m
}

// ValidationError collects every problem found by Validate, so a caller can
// report them all instead of stopping at the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("launch config invalid: %s", strings.Join(e.Problems, "; "))
}

// Validate checks cross-entity invariants that individual Add* calls cannot
// enforce on their own: unique node/test/core-node names, dangling machine
// references, every node declaring (pkg, type), at most one default
// machine, and a parseable master URI.
func (c *Config) Validate() error {
	var problems []string

	if c.Master.URI != "" {
		if err := validateMasterURI(c.Master.URI); err != nil {
			problems = append(problems, err.Error())
		}
	}

	defaults := 0
	for _, m := range c.Machines {
		if m.Default == MachineDefaultTrue {
			defaults++
		}
	}
	if defaults > 1 {
		problems = append(problems, fmt.Sprintf("%d machines declared default, at most one is allowed", defaults))
	}

	seen := make(map[Name]bool)
	checkNode := func(n *Node, label string) {
		global := n.GlobalName()
		if seen[global] {
			problems = append(problems, fmt.Sprintf("duplicate node name %q", global))
		}
		seen[global] = true

		if n.Package == "" || n.Type == "" {
			problems = append(problems, fmt.Sprintf("%s %q missing pkg or type", label, global))
		}
		if n.Machine != "" {
			if _, ok := c.Machines[n.Machine]; !ok {
				problems = append(problems, fmt.Sprintf("node %q references undefined machine %q", n.Name, n.Machine))
			}
		}
	}

	for _, n := range c.Nodes {
		checkNode(n, "node")
	}
	for _, n := range c.NodesCore {
		checkNode(n, "core node")
	}
	for _, tn := range c.Tests {
		checkNode(&tn.Node, "test")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// validateMasterURI enforces the uri-parseable-as-http://host:port
// invariant the Master Data Model entry requires.
func validateMasterURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("master uri %q: %w", uri, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("master uri %q: scheme must be http or https", uri)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("master uri %q: missing host", uri)
	}
	if u.Port() == "" {
		return fmt.Errorf("master uri %q: missing port", uri)
	}
	return nil
}

// AssignMachines resolves each node's declared Machine string to the
// matching *Machine entry. Idempotent: a node whose ResolvedMachine already
// matches its declared name is left untouched, so re-running AssignMachines
// against an already-assigned config is a no-op.
func (c *Config) AssignMachines() error {
	var def *Machine
	for _, m := range c.Machines {
		if m.Default == MachineDefaultTrue {
			def = m
			break
		}
	}

	resolve := func(declared string) (*Machine, error) {
		if declared == "" {
			return def, nil
		}
		m, ok := c.Machines[declared]
		if !ok {
			return nil, fmt.Errorf("unknown machine %q", declared)
		}
		return m, nil
	}

	for _, n := range c.Nodes {
		if n.ResolvedMachine != nil && n.ResolvedMachine.Name == n.Machine {
			continue
		}
		m, err := resolve(n.Machine)
		if err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
		n.ResolvedMachine = m
	}

	for _, n := range c.NodesCore {
		if n.ResolvedMachine != nil && n.ResolvedMachine.Name == n.Machine {
			continue
		}
		m, err := resolve(n.Machine)
		if err != nil {
			return fmt.Errorf("core node %q: %w", n.Name, err)
		}
		n.ResolvedMachine = m
	}

	for i := range c.Tests {
		n := &c.Tests[i].Node
		if n.ResolvedMachine != nil && n.ResolvedMachine.Name == n.Machine {
			continue
		}
		m, err := resolve(n.Machine)
		if err != nil {
			return fmt.Errorf("test %q: %w", c.Tests[i].TestName, err)
		}
		n.ResolvedMachine = m
	}

	return nil
}

// HasRemoteNodes reports whether any node or test is assigned to a machine
// other than localhost, and therefore needs a remote delegate.
func (c *Config) HasRemoteNodes() bool {
	isRemote := func(m *Machine) bool {
		return m != nil && m.Address != "" && m.Address != "localhost" && m.Address != "127.0.0.1"
	}
	for _, n := range c.Nodes {
		if isRemote(n.ResolvedMachine) {
			return true
		}
	}
	for _, tn := range c.Tests {
		if isRemote(tn.ResolvedMachine) {
			return true
		}
	}
	return false
}

// Summary renders a human-readable multi-line report of the launch graph:
// master URI, machine names, ordinary nodes grouped by machine, and counts
// of params, tests and executables.
func (c *Config) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "master: %s (auto=%v)\n", c.Master.URI, c.Master.Auto)

	if len(c.Machines) > 0 {
		names := make([]string, 0, len(c.Machines))
		for name := range c.Machines {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "machines: %s\n", strings.Join(names, ", "))
	}

	byMachine := make(map[string][]string)
	for _, n := range c.Nodes {
		key := "localhost"
		if n.ResolvedMachine != nil {
			key = n.ResolvedMachine.Name
		}
		byMachine[key] = append(byMachine[key], string(n.GlobalName()))
	}

	machineNames := make([]string, 0, len(byMachine))
	for k := range byMachine {
		machineNames = append(machineNames, k)
	}
	sort.Strings(machineNames)

	for _, mn := range machineNames {
		nodes := byMachine[mn]
		sort.Strings(nodes)
		fmt.Fprintf(&b, "  %s: %s\n", mn, strings.Join(nodes, ", "))
	}

	fmt.Fprintf(&b, "params: %d, tests: %d, executables: %d\n",
		len(c.Params), len(c.Tests), len(c.Executables))

	return b.String()
}
