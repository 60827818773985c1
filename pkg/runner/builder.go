package runner

import (
	"fmt"
	"time"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
	"github.com/jrepp/launchgraph/pkg/loader"
	"github.com/jrepp/launchgraph/pkg/machinepool"
	"github.com/jrepp/launchgraph/pkg/master"
	"github.com/jrepp/launchgraph/pkg/procmon"
	"github.com/jrepp/launchgraph/pkg/remote"
)

// Builder provides a fluent interface for constructing a Runner, the same
// accumulate-errors-then-report-at-Build style the teacher's ServiceBuilder
// uses, proportioned to this domain: no isolation-level knobs, instead the
// embedder knobs spec.md calls for (signal handling, remote transport).
type Builder struct {
	cfg            *launchconfig.Config
	resolver       loader.PackageResolver
	remoteFactory  remote.Factory
	masterDial     master.DialFunc
	events         EventPublisher
	disableSignals bool
	resyncInterval time.Duration
	backOffBase    time.Duration
	backOffMax     time.Duration
	metricsNS      string
	defaultArgs    map[string]string
	err            error
}

// NewBuilder returns a Builder with sensible defaults: a no-op remote
// factory (local-only launch), a no-op event publisher, and procmon's
// default resync/backoff timings.
func NewBuilder() *Builder {
	return &Builder{
		remoteFactory:  remote.NoopFactory{},
		events:         NoopEventPublisher{},
		resyncInterval: 5 * time.Second,
		backOffBase:    time.Second,
		backOffMax:     30 * time.Second,
	}
}

// WithConfig sets the launch graph directly, for callers that already
// assembled one (e.g. tests, or a caller doing its own loader.Loader call).
func (b *Builder) WithConfig(cfg *launchconfig.Config) *Builder {
	if b.err != nil {
		return b
	}
	if cfg == nil {
		b.err = fmt.Errorf("config cannot be nil")
		return b
	}
	b.cfg = cfg
	return b
}

// WithLaunchFile loads the graph from a root launch XML file, using
// resolver (or a PathResolver if nil) for $(find pkg) substitution. Call
// WithDefaults first if the launch file's top-level <arg> defaults should
// be overridden.
func (b *Builder) WithLaunchFile(path string, resolver loader.PackageResolver) *Builder {
	if b.err != nil {
		return b
	}
	if resolver == nil {
		resolver = loader.NewPathResolver()
	}
	cfg, lerr := loader.New(resolver).LoadFileWithArgs(path, b.defaultArgs)
	if lerr != nil {
		b.err = fmt.Errorf("load launch file %s: %w", path, lerr)
		return b
	}
	b.resolver = resolver
	b.cfg = cfg
	return b
}

// WithDefaults overrides top-level substitution-argument defaults, as if
// each had been passed in from one level up. Must be called before
// WithLaunchFile, since that call loads and resolves the graph immediately.
func (b *Builder) WithDefaults(args map[string]string) *Builder {
	if b.err != nil {
		return b
	}
	b.defaultArgs = args
	return b
}

// WithPackageResolver sets how node Package names resolve to on-disk
// directories for executable lookup. Defaults to whatever WithLaunchFile
// already used; with WithConfig and no resolver set, a node's Type is run
// as the executable name directly.
func (b *Builder) WithPackageResolver(r loader.PackageResolver) *Builder {
	if b.err != nil {
		return b
	}
	if r == nil {
		b.err = fmt.Errorf("package resolver cannot be nil")
		return b
	}
	b.resolver = r
	return b
}

// WithMasterDialFunc overrides how the master.Controller dials the master
// RPC surface. Defaults to master.DialGRPC.
func (b *Builder) WithMasterDialFunc(fn master.DialFunc) *Builder {
	if b.err != nil {
		return b
	}
	if fn == nil {
		b.err = fmt.Errorf("master dial func cannot be nil")
		return b
	}
	b.masterDial = fn
	return b
}

// WithRemoteFactory sets the transport used to reach nodes assigned to
// non-local machines. Defaults to remote.NoopFactory (remote nodes fail
// fast with a clear error) when not called.
func (b *Builder) WithRemoteFactory(f remote.Factory) *Builder {
	if b.err != nil {
		return b
	}
	if f == nil {
		b.err = fmt.Errorf("remote factory cannot be nil")
		return b
	}
	b.remoteFactory = f
	return b
}

// WithEventPublisher sets where lifecycle events are reported. Defaults to
// NoopEventPublisher.
func (b *Builder) WithEventPublisher(p EventPublisher) *Builder {
	if b.err != nil {
		return b
	}
	if p == nil {
		b.err = fmt.Errorf("event publisher cannot be nil")
		return b
	}
	b.events = p
	return b
}

// WithDisableSignals suppresses the Runner's own SIGINT/SIGTERM handling,
// for embedders that want to own process signal handling themselves.
func (b *Builder) WithDisableSignals() *Builder {
	b.disableSignals = true
	return b
}

// WithResyncInterval overrides how often the process monitor's mainthread
// loop reconciles state.
func (b *Builder) WithResyncInterval(d time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if d < time.Second {
		b.err = fmt.Errorf("resync interval must be at least 1 second, got %v", d)
		return b
	}
	b.resyncInterval = d
	return b
}

// WithMetricsNamespace sets the Prometheus namespace the Runner's process
// monitor publishes metrics under. Defaults to "launchgraph".
func (b *Builder) WithMetricsNamespace(ns string) *Builder {
	b.metricsNS = ns
	return b
}

// WithBackoff overrides the respawn backoff bounds.
func (b *Builder) WithBackoff(base, max time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if base <= 0 || max < base {
		b.err = fmt.Errorf("invalid backoff bounds: base=%v max=%v", base, max)
		return b
	}
	b.backOffBase = base
	b.backOffMax = max
	return b
}

// Build validates the accumulated configuration and returns a ready Runner.
func (b *Builder) Build() (*Runner, error) {
	if b.err != nil {
		return nil, fmt.Errorf("builder: %w", b.err)
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("builder: no launch graph set (call WithConfig or WithLaunchFile)")
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}

	metrics := procmon.NewPrometheusMetricsCollector(b.metricsNS)
	mon := procmon.NewMonitor(
		procmon.WithResyncInterval(b.resyncInterval),
		procmon.WithBackoff(b.backOffBase, b.backOffMax),
		procmon.WithMetricsCollector(metrics),
	)

	return &Runner{
		cfg:            b.cfg,
		monitor:        mon,
		metrics:        metrics,
		resyncInterval: b.resyncInterval,
		remoteFactory:  b.remoteFactory,
		resolver:       b.resolver,
		masterDial:     b.masterDial,
		events:         b.events,
		disableSignals: b.disableSignals,
		remoteRunners:  make(map[string]remote.Runner),
		pool:           machinepool.New(),
	}, nil
}

// MustBuild panics instead of returning an error, for main() call sites
// where a misconfigured launch is unrecoverable.
func (b *Builder) MustBuild() *Runner {
	r, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("runner: build failed: %v", err))
	}
	return r
}

// Auto maps launchconfig.MasterAuto to master.Auto, since Runner talks to
// pkg/master in its own vocabulary.
func Auto(a launchconfig.MasterAuto) master.Auto {
	switch a {
	case launchconfig.MasterAutoStart:
		return master.AutoStart
	case launchconfig.MasterAutoRestart:
		return master.AutoRestart
	default:
		return master.AutoNo
	}
}
