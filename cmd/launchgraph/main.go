package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jrepp/launchgraph/pkg/loader"
	"github.com/jrepp/launchgraph/pkg/master"
	"github.com/jrepp/launchgraph/pkg/remote"
	"github.com/jrepp/launchgraph/pkg/runner"
)

var (
	launchFile      = flag.String("launch-file", "", "path to the root launch XML file (required)")
	grpcAdmin       = flag.String("grpc-admin", "", "if set, use this address to dial the master over gRPC instead of the graph's declared master URI scheme")
	metricsAddr     = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9092)")
	disableSignals  = flag.Bool("disable-signals", false, "don't install the runner's own SIGINT/SIGTERM handler")
	coreOnly        = flag.Bool("core-only", false, "bring up only the master and core nodes, skip parameters/setup/ordinary nodes")
	asChild         = flag.Bool("child", false, "run as a remote delegate child: skip remote setup and parameter loading")
	remoteTransport = flag.String("remote-transport", "ssh", "how to reach nodes assigned to non-local machines (ssh, grpc, none)")
	remoteAgentPort = flag.Int("remote-agent-port", 8712, "agent port to dial when -remote-transport=grpc")
	resyncInterval  = flag.Duration("resync-interval", 5*time.Second, "process monitor reconciliation interval")
	defaultsFile    = flag.String("defaults", "", "path to a YAML file overriding top-level <arg> defaults")
)

func main() {
	flag.Parse()

	if *launchFile == "" {
		log.Fatalf("launchgraph: -launch-file is required")
	}

	log.Printf("launchgraph: loading %s", *launchFile)

	resolver := loader.NewPathResolver()
	b := runner.NewBuilder()

	if *defaultsFile != "" {
		defaults, err := loader.LoadDefaultsFile(*defaultsFile)
		if err != nil {
			log.Fatalf("launchgraph: %v", err)
		}
		b = b.WithDefaults(defaults)
	}

	b = b.WithLaunchFile(*launchFile, resolver).
		WithResyncInterval(*resyncInterval)

	if *grpcAdmin != "" {
		b = b.WithMasterDialFunc(func(ctx context.Context, _ string) (master.Client, error) {
			return master.DialGRPC(ctx, *grpcAdmin)
		})
	}

	switch *remoteTransport {
	case "ssh":
		b = b.WithRemoteFactory(remote.NewSSHFactory())
	case "grpc":
		b = b.WithRemoteFactory(remote.NewGRPCFactory(*remoteAgentPort))
	case "none":
		// leave the builder's default remote.NoopFactory in place
	default:
		log.Fatalf("launchgraph: unknown -remote-transport %q (want ssh, grpc, or none)", *remoteTransport)
	}

	if *disableSignals {
		b = b.WithDisableSignals()
	}

	r, err := b.Build()
	if err != nil {
		log.Fatalf("launchgraph: %v", err)
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, r.MetricsRegistry())
	}

	var opts []runner.LaunchOption
	if *coreOnly {
		opts = append(opts, runner.CoreOnly())
	}
	if *asChild {
		opts = append(opts, runner.AsChild())
	}

	ctx := context.Background()
	succeeded, failed, err := r.Launch(ctx, opts...)
	if err != nil {
		log.Fatalf("launchgraph: launch failed: %v", err)
	}

	log.Printf("launchgraph: %d node(s) started, %d failed", len(succeeded), len(failed))
	for _, name := range failed {
		log.Printf("launchgraph: %s failed to start", name)
	}
	for _, m := range r.Machines() {
		log.Printf("launchgraph: machine %q running %d node(s)", m, len(r.NodesOnMachine(m)))
	}

	if err := r.Spin(ctx); err != nil {
		log.Printf("launchgraph: %v", err)
		os.Exit(1)
	}

	log.Printf("launchgraph: stopped")
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	log.Printf("launchgraph: metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("launchgraph: metrics server error: %v", err)
	}
}
