// Package launchconfig holds the aggregate launch graph assembled by the
// loader: the declared nodes, parameters, machines and master settings that
// together describe one roslaunch invocation.
package launchconfig

import "time"

// Name is a fully resolved, slash-separated global name (e.g. "/robot/base_node").
type Name string

// Param is a parameter to be set on the parameter server before nodes start.
// Value holds the already-coerced Go value (string, int64, float64, bool, or
// a yaml-decoded interface{} tree); Type records which coercion produced it.
type Param struct {
	Name  Name
	Value interface{}
	Type  ParamType
}

// ParamType is the type-tag a <param> or <rosparam> declares, controlling
// how its source text is coerced before publication.
type ParamType string

const (
	// ParamTypeAuto infers the type from the literal's syntax (roslaunch's
	// default): ints and floats parse as numbers, "true"/"false" as bool,
	// everything else stays a string.
	ParamTypeAuto ParamType = "auto"
	ParamTypeStr  ParamType = "str"
	ParamTypeInt  ParamType = "int"
	ParamTypeDouble ParamType = "double"
	ParamTypeBool ParamType = "bool"
	ParamTypeYAML ParamType = "yaml"
)

// ClearParam marks a parameter namespace to be wiped before Params are applied.
type ClearParam struct {
	Name Name
}

// Machine describes a host nodes can be assigned to run on.
type Machine struct {
	Name      string
	Address   string
	SSHPort   int
	User      string
	Password  string
	EnvLoader string // path to a script sourced before launching remote nodes
	Default   MachineDefault
}

// MachineDefault is the tri-state a <machine>'s default attribute declares.
type MachineDefault int

const (
	// MachineDefaultFalse - eligible for explicit assignment only (the
	// implicit zero value, matching an absent or "false" default attribute).
	MachineDefaultFalse MachineDefault = iota
	// MachineDefaultTrue - the machine assign_machines falls back to for
	// any node that declares no machine of its own.
	MachineDefaultTrue
	// MachineDefaultNever - cataloged but never auto-assigned, even when no
	// other machine claims MachineDefaultTrue.
	MachineDefaultNever
)

// Master describes how to reach or start the parameter-server/registration
// master for this launch.
type Master struct {
	URI  string
	Auto MasterAuto
}

// MasterAuto classifies how the master's lifecycle is managed, mirroring
// roslaunch's no-auto/auto-start/auto-restart distinction.
type MasterAuto int

const (
	// MasterAutoNo - master must already be running; never started or restarted.
	MasterAutoNo MasterAuto = iota
	// MasterAutoStart - start the master if it is not already reachable.
	MasterAutoStart
	// MasterAutoRestart - a master already running at launch is shut down
	// and a fresh one started; a master that dies later is not restarted.
	MasterAutoRestart
)

// Remap renames a resolved topic, service, or parameter name to another.
type Remap struct {
	From Name
	To   Name
}

// EnvVar sets an environment variable for a process.
type EnvVar struct {
	Name  string
	Value string
}

// Node describes one node process to launch.
type Node struct {
	Package   string
	Type      string
	Name      string
	Namespace string
	Machine   string // declared machine name; "" means local
	Args      string
	Respawn   bool
	Required  bool
	Output    string // "log" or "screen"
	CWD       string
	Remaps    []Remap
	Env       []EnvVar

	ResolvedMachine *Machine
}

// GlobalName returns the node's fully qualified name.
func (n *Node) GlobalName() Name {
	ns := n.Namespace
	if ns == "" {
		ns = "/"
	}
	if ns[0] != '/' {
		ns = "/" + ns
	}
	if ns == "/" {
		return Name("/" + n.Name)
	}
	return Name(ns + "/" + n.Name)
}

// TestNode describes a one-shot test node launched by run_test, distinct
// from an ordinary Node in that it also carries a test name, a time limit
// in seconds and a retry count. The loader always marks its Node Required.
type TestNode struct {
	Node
	TestName string
	TimeSec  float64
	Retry    int
}

// Executable is a setup/teardown command run once during launch, outside
// the node process-monitoring lifecycle.
type Executable struct {
	Command string
	Args    string
	CWD     string
	Phase   ExecutablePhase
}

// ExecutablePhase identifies when an Executable runs relative to node launch.
type ExecutablePhase int

const (
	// ExecutableSetup runs after core nodes are up, before ordinary nodes launch.
	ExecutableSetup ExecutablePhase = iota
)

// Config is the complete launch graph: every entity the loader has
// produced from one or more XML documents, ready for Runner.Launch.
type Config struct {
	Master      Master
	Machines    map[string]*Machine
	Params      []Param
	ClearParams []ClearParam
	Nodes       []*Node
	NodesCore   []*Node
	Tests       []*TestNode
	Executables []Executable

	RunID string

	createdAt time.Time
}

// NewConfig returns an empty Config with sensible zero values.
func NewConfig() *Config {
	return &Config{
		Machines:  make(map[string]*Machine),
		createdAt: time.Now(),
	}
}
