package remote

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
)

const agentServicePrefix = "/launchgraph.remote.Agent/"

// GRPCFactory dials a launchgraph remote agent already running on the
// target machine, addressed at Machine.Address plus AgentPort. This is
// the "child runner RPC" control channel: unlike SSHFactory it does not
// launch a remote daemon, it assumes one is already listening (started by
// the machine's own init system, or by an out-of-band SSH bootstrap step).
type GRPCFactory struct {
	AgentPort int
}

// NewGRPCFactory returns a GRPCFactory targeting the given port on every
// machine it connects to.
func NewGRPCFactory(agentPort int) *GRPCFactory {
	return &GRPCFactory{AgentPort: agentPort}
}

func (f *GRPCFactory) Connect(ctx context.Context, machine *launchconfig.Machine) (Runner, error) {
	port := f.AgentPort
	if port == 0 {
		port = 8712
	}
	addr := fmt.Sprintf("%s:%d", machine.Address, port)

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("remote: dial agent at %s: %w", addr, err)
	}
	return &grpcRunner{conn: conn}, nil
}

type startRequest struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Env     []string `json:"env"`
	CWD     string   `json:"cwd"`
}

type stopRequest struct {
	Name           string `json:"name"`
	GracePeriodSec int64  `json:"grace_period_sec"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type okResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type aliveResponse struct {
	Alive bool `json:"alive"`
}

// grpcRunner supervises node processes on one remote machine by calling
// into its already-running launchgraph agent. The three RPCs it invokes
// mirror procmon.Process's own Start/Stop/IsAlive surface, one-to-one.
type grpcRunner struct {
	conn *grpc.ClientConn
}

func (r *grpcRunner) Start(ctx context.Context, spec NodeSpec) error {
	req := &startRequest{Name: spec.Name, Command: spec.Command, Args: spec.Args, Env: spec.Env, CWD: spec.CWD}
	var resp okResponse
	if err := r.conn.Invoke(ctx, agentServicePrefix+"Start", req, &resp, grpc.CallContentSubtype("json")); err != nil {
		return fmt.Errorf("remote: agent Start RPC: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("remote: agent refused Start for %s: %s", spec.Name, resp.Error)
	}
	return nil
}

func (r *grpcRunner) Stop(ctx context.Context, name string, gracePeriod time.Duration) error {
	req := &stopRequest{Name: name, GracePeriodSec: int64(gracePeriod.Seconds())}
	var resp okResponse
	if err := r.conn.Invoke(ctx, agentServicePrefix+"Stop", req, &resp, grpc.CallContentSubtype("json")); err != nil {
		return fmt.Errorf("remote: agent Stop RPC: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("remote: agent refused Stop for %s: %s", name, resp.Error)
	}
	return nil
}

func (r *grpcRunner) IsAlive(ctx context.Context, name string) (bool, error) {
	req := &nameRequest{Name: name}
	var resp aliveResponse
	if err := r.conn.Invoke(ctx, agentServicePrefix+"IsAlive", req, &resp, grpc.CallContentSubtype("json")); err != nil {
		return false, fmt.Errorf("remote: agent IsAlive RPC: %w", err)
	}
	return resp.Alive, nil
}

func (r *grpcRunner) Close() error {
	return r.conn.Close()
}
