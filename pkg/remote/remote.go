// Package remote delegates node process lifecycle to a machine other than
// the one the graph supervisor itself runs on, standing in for roslaunch's
// SSH-based remote launch of nodes assigned to a non-local Machine.
package remote

import (
	"context"
	"time"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
)

// NodeSpec is everything a remote delegate needs to start one node process
// on its machine: the resolved command line and environment, already
// substituted and namespace-resolved by the loader.
type NodeSpec struct {
	Name    string
	Command string
	Args    []string
	Env     []string
	CWD     string
}

// Runner starts, stops, and probes node processes on one remote machine.
// It is the remote-side counterpart of procmon.Process: where Process
// supervises a local os/exec.Cmd, Runner supervises a process running
// somewhere else, reached over whatever transport the Factory that
// produced it uses.
type Runner interface {
	Start(ctx context.Context, spec NodeSpec) error
	Stop(ctx context.Context, name string, gracePeriod time.Duration) error
	IsAlive(ctx context.Context, name string) (bool, error)
	Close() error
}

// Factory builds a Runner bound to one machine. The Runner's lifecycle
// (dialing, authenticating, connection pooling) is entirely the factory's
// concern; callers just ask for one per machine they need to reach.
type Factory interface {
	Connect(ctx context.Context, machine *launchconfig.Machine) (Runner, error)
}

// BuildSpec resolves a launchconfig.Node into the command line and
// environment a Runner needs to start it. The machine's EnvLoader script is
// not applied here; the SSH runner sources it when it starts the node.
func BuildSpec(n *launchconfig.Node, args []string) NodeSpec {
	env := make([]string, 0, len(n.Env))
	for _, e := range n.Env {
		env = append(env, e.Name+"="+e.Value)
	}
	return NodeSpec{
		Name:    string(n.GlobalName()),
		Command: n.Type,
		Args:    args,
		Env:     env,
		CWD:     n.CWD,
	}
}
