package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
	"github.com/jrepp/launchgraph/pkg/loader"
	"github.com/jrepp/launchgraph/pkg/machinepool"
	"github.com/jrepp/launchgraph/pkg/master"
	"github.com/jrepp/launchgraph/pkg/procmon"
	"github.com/jrepp/launchgraph/pkg/remote"
)

// localMachineName groups local-transport nodes in the machine pool,
// mirroring the conventional "localhost" Machine name launch graphs use
// when a node declares no machine attribute.
const localMachineName = "localhost"

// LaunchOption configures a single Launch call, additive to the fixed
// nine-step sequence.
type LaunchOption func(*launchOptions)

type launchOptions struct {
	coreOnly bool
	child    bool
}

// CoreOnly brings up only the master and core nodes, skipping parameters,
// setup executables and ordinary nodes — used by test harnesses that only
// need core infrastructure running.
func CoreOnly() LaunchOption {
	return func(o *launchOptions) { o.coreOnly = true }
}

// AsChild marks this Launch call as running inside a remote delegate's
// child process: it must not re-initialize the remote delegate or
// re-publish parameters the parent runner already loaded.
func AsChild() LaunchOption {
	return func(o *launchOptions) { o.child = true }
}

// Runner executes one launch graph end to end.
type Runner struct {
	cfg            *launchconfig.Config
	monitor        *procmon.Monitor
	remoteFactory  remote.Factory
	resolver       loader.PackageResolver
	masterDial     master.DialFunc
	events         EventPublisher
	disableSignals bool

	pool           *machinepool.Pool
	metrics        *procmon.PrometheusMetricsCollector
	resyncInterval time.Duration

	mu            sync.Mutex
	masterCtl     *master.Controller
	masterClient  master.Client
	remoteRunners map[string]remote.Runner // machine name -> connected runner
	stopped       bool
	sigCh         chan os.Signal
	superviseDone chan struct{}
}

// Launch runs the fixed lifecycle sequence against the Runner's loaded
// graph and returns the names of nodes that started successfully and the
// names that failed to.
func (r *Runner) Launch(ctx context.Context, opts ...LaunchOption) (succeeded, failed []string, err error) {
	var o launchOptions
	for _, opt := range opts {
		opt(&o)
	}

	// 1. validate and assign_machines
	if err := r.cfg.Validate(); err != nil {
		return nil, nil, &LaunchError{Code: ErrCodeValidate, Message: "launch graph is invalid", Cause: err}
	}
	if err := r.cfg.AssignMachines(); err != nil {
		return nil, nil, &LaunchError{Code: ErrCodeValidate, Message: "machine assignment failed", Cause: err}
	}

	if !r.disableSignals {
		r.installSignalHandler()
	}

	// 2. setup_master
	auto := Auto(r.cfg.Master.Auto)
	ctl, err := master.NewController(r.cfg.Master.URI, auto, r.dialFunc())
	if err != nil {
		return nil, nil, &LaunchError{Code: ErrCodeInternal, Message: "master controller setup failed", Cause: err}
	}
	r.mu.Lock()
	r.masterCtl = ctl
	r.mu.Unlock()

	if auto == master.AutoRestart {
		if client, perr := r.probeMaster(ctx); perr == nil {
			_ = client.Shutdown(ctx, "restart requested by runner")
			r.pollMasterDown(ctx)
		}
	}

	// 3. remote delegate setup, only on a non-child run with remote nodes
	if !o.child && r.cfg.HasRemoteNodes() {
		if err := r.setupRemoteRunners(ctx); err != nil {
			return nil, nil, err
		}
	}

	// 4. launch_master (iff auto permits starting it); publish /run_id
	client, err := ctl.EnsureUp(ctx, r.startMasterProcess)
	if err != nil {
		return nil, nil, ErrMasterUnreachable(r.cfg.Master.URI, err)
	}
	r.mu.Lock()
	r.masterClient = client
	r.mu.Unlock()

	if runID, didSet, rerr := ctl.EnsureRunID(ctx); rerr != nil {
		log.Printf("runner: ensure run_id: %v", rerr)
	} else if didSet {
		r.cfg.RunID = runID
		log.Printf("runner: published run_id %s", runID)
	}

	// 5. launch_core_nodes: core-before-non-core. Each entry is looked up at
	// the master first, so a core node already running (e.g. left over from
	// a prior launch against the same master) is not relaunched.
	coreOK, coreFail := r.launchCoreNodes(ctx, client)
	succeeded = append(succeeded, coreOK...)
	failed = append(failed, coreFail...)

	// 6. load_parameters, unless this is a child (parent already did it) or
	// a core-only launch
	if !o.child && !o.coreOnly {
		r.loadParameters(ctx, client)
	}

	// 7. launch_setup_executables
	if !o.coreOnly {
		if err := r.runSetupExecutables(ctx); err != nil {
			return nil, nil, err
		}
	}

	// 8. launch_nodes: local nodes, then remote nodes, merged
	if !o.coreOnly {
		localOK, localFail := r.launchLocalNodes(ctx)
		succeeded = append(succeeded, localOK...)
		failed = append(failed, localFail...)

		if !o.child {
			remoteOK, remoteFail := r.launchRemoteNodes(ctx)
			succeeded = append(succeeded, remoteOK...)
			failed = append(failed, remoteFail...)
		}
	}

	// 9. registrations complete
	r.monitor.RegistrationsComplete()

	r.superviseDone = make(chan struct{})
	go r.superviseBackground(r.superviseDone)

	return succeeded, failed, nil
}

// superviseBackground is the adapted form of the teacher's orphan-detector
// and health-check background loops: on each resync tick it reconciles the
// machine pool against the Process Monitor's own liveness bookkeeping
// instead of keeping a second, independently-updated process table. A node
// the pool still lists but the monitor no longer reports active (it exited
// without respawn, or was never respawn-eligible) gets untracked.
func (r *Runner) superviseBackground(done chan struct{}) {
	ticker := time.NewTicker(r.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			active := make(map[string]bool, len(r.monitor.GetActiveNames()))
			for _, name := range r.monitor.GetActiveNames() {
				active[name] = true
			}
			for _, machine := range r.pool.Machines() {
				for _, h := range r.pool.ByMachine(machine) {
					if active[h.Key.Node] {
						r.pool.MarkHealth(machine, h.Key.Node, true)
						continue
					}
					log.Printf("runner: %s on %s no longer active, removing from pool", h.Key.Node, machine)
					r.pool.Untrack(machine, h.Key.Node)
				}
			}
		}
	}
}

func (r *Runner) dialFunc() master.DialFunc {
	if r.masterDial != nil {
		return r.masterDial
	}
	return master.DialGRPC
}

func (r *Runner) probeMaster(ctx context.Context) (master.Client, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.dialFunc()(probeCtx, r.cfg.Master.URI)
}

func (r *Runner) pollMasterDown(ctx context.Context) {
	deadline := time.Now().Add(master.DefaultStopTimeout)
	for time.Now().Before(deadline) {
		if _, err := r.probeMaster(ctx); err != nil {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	log.Printf("runner: master at %s did not shut down within %v", r.cfg.Master.URI, master.DefaultStopTimeout)
}

// startMasterProcess is the Controller's startFn hook: it registers a
// master process with the monitor as a core process and starts it. A
// launch graph that expects an externally-managed master (auto=no) never
// reaches this, since EnsureUp only calls startFn when auto permits it.
func (r *Runner) startMasterProcess(ctx context.Context) error {
	_, port := splitHostPort(r.cfg.Master.URI)
	proc := newLocalProcess("master", "roscore", []string{"--port", port}, nil, "")
	return r.monitor.RegisterCoreProc(proc, procmon.WithRequired(true))
}

// splitHostPort extracts host and port from a master URI like
// "http://localhost:11311/", defaulting to roscore's conventional port.
func splitHostPort(uri string) (string, string) {
	u, err := master.ParseURI(uri)
	if err != nil {
		return "localhost", "11311"
	}
	port := u.Port()
	if port == "" {
		port = "11311"
	}
	return u.Hostname(), port
}

func (r *Runner) setupRemoteRunners(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, m := range r.cfg.Machines {
		if m.Address == "" || m.Address == "localhost" || m.Address == "127.0.0.1" {
			continue
		}
		rr, err := r.remoteFactory.Connect(ctx, m)
		if err != nil {
			return ErrRemoteUnreachable(name, err)
		}
		r.remoteRunners[name] = rr
	}
	return nil
}

func (r *Runner) loadParameters(ctx context.Context, client master.Client) {
	for _, cp := range r.cfg.ClearParams {
		if err := client.DeleteParam(ctx, string(cp.Name)); err != nil {
			log.Printf("runner: clear param %s: %v (tolerated)", cp.Name, err)
		}
	}
	for _, p := range r.cfg.Params {
		if err := client.SetParam(ctx, string(p.Name), p.Value); err != nil {
			log.Printf("runner: set param %s: %v (tolerated)", p.Name, err)
		}
	}
}

func (r *Runner) runSetupExecutables(ctx context.Context) error {
	for _, e := range r.cfg.Executables {
		args := splitArgs(e.Args)
		proc := newLocalProcess(e.Command, e.Command, args, nil, e.CWD)
		if err := proc.Start(ctx); err != nil {
			return &LaunchError{Code: ErrCodeNodeStartFailed, Message: fmt.Sprintf("setup executable %q failed to start", e.Command), Cause: err}
		}
		if code := proc.Wait(); code != 0 {
			return &LaunchError{
				Code:    ErrCodeNodeStartFailed,
				Message: fmt.Sprintf("setup executable %q exited %d", e.Command, code),
			}
		}
	}
	return nil
}

// launchCoreNodes brings up every node in cfg.NodesCore that the master
// doesn't already report running. A master that answers but can't say
// either way (a transport or RPC error distinct from master.ErrNodeUnknown)
// is treated as ambiguous: the node is skipped rather than risking a
// duplicate launch alongside one the lookup simply failed to see.
func (r *Runner) launchCoreNodes(ctx context.Context, client master.Client) (succeeded, failed []string) {
	for _, n := range r.cfg.NodesCore {
		name := string(n.GlobalName())

		uri, err := client.LookupNode(ctx, name)
		switch {
		case err == nil:
			log.Printf("runner: core node %q already running at %s, not relaunching", name, uri)
			succeeded = append(succeeded, name)
		case errors.Is(err, master.ErrNodeUnknown):
			if r.launchCoreNode(ctx, n) {
				succeeded = append(succeeded, name)
			} else {
				failed = append(failed, name)
			}
		default:
			log.Printf("runner: lookup core node %q: %v (ambiguous, skipping)", name, err)
		}
	}
	return succeeded, failed
}

// launchCoreNode is launchNode's core-process counterpart: same executable
// resolution and environment, registered with the monitor as a core process
// instead of an ordinary one.
func (r *Runner) launchCoreNode(ctx context.Context, n *launchconfig.Node) bool {
	name := string(n.GlobalName())

	execPath, err := r.resolveExecutable(n)
	if err != nil {
		log.Printf("runner: resolve core node %q: %v", name, err)
		return false
	}

	env := make([]string, 0, len(n.Env)+1)
	for _, e := range n.Env {
		env = append(env, e.Name+"="+e.Value)
	}
	env = append(env, "ROS_NAMESPACE="+n.Namespace)

	proc := newLocalProcess(name, execPath, splitArgs(n.Args), env, n.CWD)
	if err := r.monitor.RegisterCoreProc(proc, procmon.WithRespawn(n.Respawn), procmon.WithRequired(n.Required)); err != nil {
		log.Printf("runner: register core node %q: %v", name, err)
		return false
	}
	r.pool.Track(localMachineName, name, machinepool.Local)
	return true
}

func (r *Runner) launchLocalNodes(ctx context.Context) (succeeded, failed []string) {
	for _, n := range r.cfg.Nodes {
		if n.ResolvedMachine != nil && isRemoteMachine(n.ResolvedMachine) {
			continue
		}
		name := string(n.GlobalName())
		if ok := r.launchNode(ctx, n); ok {
			succeeded = append(succeeded, name)
		} else {
			failed = append(failed, name)
		}
	}
	return succeeded, failed
}

func (r *Runner) launchRemoteNodes(ctx context.Context) (succeeded, failed []string) {
	for _, n := range r.cfg.Nodes {
		if n.ResolvedMachine == nil || !isRemoteMachine(n.ResolvedMachine) {
			continue
		}
		name := string(n.GlobalName())

		r.mu.Lock()
		rr, ok := r.remoteRunners[n.ResolvedMachine.Name]
		r.mu.Unlock()
		if !ok {
			log.Printf("runner: no remote transport connected to %q, node %q failed", n.ResolvedMachine.Name, name)
			failed = append(failed, name)
			continue
		}

		spec := remote.BuildSpec(n, splitArgs(n.Args))
		proc := newRemoteProcess(name, spec, rr)
		regOpts := []procmon.RegisterOption{procmon.WithRespawn(n.Respawn), procmon.WithRequired(n.Required)}
		if err := r.monitor.Register(proc, regOpts...); err != nil {
			log.Printf("runner: register remote node %q: %v", name, err)
			failed = append(failed, name)
			continue
		}
		r.pool.Track(n.ResolvedMachine.Name, name, machinepool.Remote)
		succeeded = append(succeeded, name)
	}
	return succeeded, failed
}

func isRemoteMachine(m *launchconfig.Machine) bool {
	return m.Address != "" && m.Address != "localhost" && m.Address != "127.0.0.1"
}

// launchNode creates the process for one local node, registers it with the
// monitor and starts it. A failure to resolve the executable or to start
// the process both count as failure to launch.
func (r *Runner) launchNode(ctx context.Context, n *launchconfig.Node) bool {
	name := string(n.GlobalName())

	execPath, err := r.resolveExecutable(n)
	if err != nil {
		log.Printf("runner: resolve node %q: %v", name, err)
		return false
	}

	env := make([]string, 0, len(n.Env)+1)
	for _, e := range n.Env {
		env = append(env, e.Name+"="+e.Value)
	}
	env = append(env, "ROS_NAMESPACE="+n.Namespace)

	proc := newLocalProcess(name, execPath, splitArgs(n.Args), env, n.CWD)

	regOpts := []procmon.RegisterOption{procmon.WithRespawn(n.Respawn), procmon.WithRequired(n.Required)}
	if err := r.monitor.Register(proc, regOpts...); err != nil {
		log.Printf("runner: register node %q: %v", name, err)
		return false
	}
	r.pool.Track(localMachineName, name, machinepool.Local)
	return true
}

func (r *Runner) resolveExecutable(n *launchconfig.Node) (string, error) {
	if r.resolver == nil {
		return n.Type, nil
	}
	dir, err := r.resolver.FindPackage(n.Package)
	if err != nil {
		return "", fmt.Errorf("find package %q: %w", n.Package, err)
	}
	return filepath.Join(dir, n.Type), nil
}

func splitArgs(args string) []string {
	if strings.TrimSpace(args) == "" {
		return nil
	}
	return strings.Fields(args)
}

// Spin blocks the caller until the monitor reports nothing left to
// supervise, a shutdown is requested, or ctx is cancelled, then performs an
// orderly Stop.
func (r *Runner) Spin(ctx context.Context) error {
	if len(r.monitor.GetActiveNames()) == 0 {
		log.Printf("runner: nothing to supervise, stopping immediately")
		return r.Stop(ctx)
	}

	spinErr := r.monitor.MainthreadSpin(ctx)
	if stopErr := r.Stop(ctx); stopErr != nil && spinErr == nil {
		return stopErr
	}
	return spinErr
}

// SpinOnce performs a single reconciliation pass and reports whether a
// shutdown has been requested (e.g. a required process died).
func (r *Runner) SpinOnce() bool {
	return r.monitor.MainthreadSpinOnce()
}

// Stop shuts down and joins the monitor exactly once; repeat calls are
// no-ops. Not safe to call concurrently with itself.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	ctl := r.masterCtl
	superviseDone := r.superviseDone
	r.mu.Unlock()

	if superviseDone != nil {
		close(superviseDone)
	}

	err := r.monitor.Shutdown(ctx)

	for _, machine := range r.pool.Machines() {
		for _, h := range r.pool.ByMachine(machine) {
			r.pool.Untrack(machine, h.Key.Node)
		}
	}

	for name, rr := range r.remoteRunners {
		if cerr := rr.Close(); cerr != nil {
			log.Printf("runner: close remote connection to %q: %v", name, cerr)
		}
	}

	if ctl != nil && ctl.Auto() != master.AutoNo {
		if serr := ctl.Shutdown(ctx, "launch runner stopping"); serr != nil {
			log.Printf("runner: shutdown master: %v", serr)
		}
	}

	if r.sigCh != nil {
		signal.Stop(r.sigCh)
	}
	return err
}

// RunTest launches one test node and polls until it exits or its time
// limit elapses.
func (r *Runner) RunTest(ctx context.Context, test *launchconfig.TestNode) error {
	name := string(test.GlobalName())

	if ok := r.launchNode(ctx, &test.Node); !ok {
		return ErrTestFailed(test.TestName, fmt.Errorf("node %q failed to start", name))
	}

	limit := time.Duration(test.TimeSec * float64(time.Second))
	if limit <= 0 {
		limit = 60 * time.Second
	}
	deadline := time.Now().Add(limit)

	for time.Now().Before(deadline) {
		r.monitor.MainthreadSpinOnce()
		if !r.monitor.HasProcess(name) {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	return ErrTestFailed(test.TestName, fmt.Errorf("did not complete within %v", limit))
}

// IsNodeRunning reports whether the named node is currently alive.
func (r *Runner) IsNodeRunning(name string) bool {
	for _, n := range r.monitor.GetActiveNames() {
		if n == name {
			return true
		}
	}
	return false
}

// Machines returns the names of machines (including "localhost") that have
// at least one tracked node, for status reporting.
func (r *Runner) Machines() []string {
	return r.pool.Machines()
}

// NodesOnMachine returns the nodes currently tracked on the named machine.
func (r *Runner) NodesOnMachine(machine string) []*machinepool.Handle {
	return r.pool.ByMachine(machine)
}

// MetricsRegistry returns the Prometheus registry the process monitor
// publishes its transition/restart/backoff metrics to, for callers that
// want to serve it over HTTP.
func (r *Runner) MetricsRegistry() *prometheus.Registry {
	return r.metrics.Registry()
}

func (r *Runner) installSignalHandler() {
	r.sigCh = make(chan os.Signal, 1)
	signal.Notify(r.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig, ok := <-r.sigCh
		if !ok {
			return
		}
		log.Printf("runner: received %v, stopping", sig)
		_ = r.Stop(context.Background())
	}()
}
