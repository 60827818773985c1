package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/jrepp/launchgraph/pkg/remote"
)

// remoteProcess adapts one node running on a remote.Runner (an SSH or gRPC
// delegate connection to a non-local Machine) into procmon.Process, so the
// same Monitor that supervises local nodes also supervises remote ones, with
// the same respawn/backoff/required semantics.
type remoteProcess struct {
	name    string
	spec    remote.NodeSpec
	runner  remote.Runner
	waiters chan struct{} // closed by Stop to end a pending Wait
}

func newRemoteProcess(name string, spec remote.NodeSpec, r remote.Runner) *remoteProcess {
	return &remoteProcess{name: name, spec: spec, runner: r}
}

func (p *remoteProcess) Name() string { return p.name }

func (p *remoteProcess) Start(ctx context.Context) error {
	p.waiters = make(chan struct{})
	if err := p.runner.Start(ctx, p.spec); err != nil {
		return fmt.Errorf("runner: remote start %q: %w", p.name, err)
	}
	return nil
}

func (p *remoteProcess) IsAlive() bool {
	alive, err := p.runner.IsAlive(context.Background(), p.name)
	return err == nil && alive
}

// Wait polls IsAlive since a remote delegate has no local process to block
// on, checking every 2 seconds.
func (p *remoteProcess) Wait() int {
	for {
		select {
		case <-p.waiters:
			return -1
		case <-time.After(2 * time.Second):
			if !p.IsAlive() {
				return -1
			}
		}
	}
}

func (p *remoteProcess) Stop(ctx context.Context, gracePeriod time.Duration) error {
	defer func() {
		if p.waiters != nil {
			close(p.waiters)
			p.waiters = nil
		}
	}()
	if err := p.runner.Stop(ctx, p.name, gracePeriod); err != nil {
		return fmt.Errorf("runner: remote stop %q: %w", p.name, err)
	}
	return nil
}
