package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
)

// NoopFactory rejects every connection attempt. It is the default when no
// remote transport has been configured, so a launch graph with nodes
// assigned to non-local machines fails fast and clearly instead of
// silently running them on the wrong host.
type NoopFactory struct{}

func (NoopFactory) Connect(ctx context.Context, machine *launchconfig.Machine) (Runner, error) {
	return nil, fmt.Errorf("remote: no transport configured, cannot reach machine %q (%s)", machine.Name, machine.Address)
}

type noopRunner struct{}

func (noopRunner) Start(ctx context.Context, spec NodeSpec) error { return fmt.Errorf("remote: not configured") }
func (noopRunner) Stop(ctx context.Context, name string, gracePeriod time.Duration) error {
	return fmt.Errorf("remote: not configured")
}
func (noopRunner) IsAlive(ctx context.Context, name string) (bool, error) {
	return false, fmt.Errorf("remote: not configured")
}
func (noopRunner) Close() error { return nil }
