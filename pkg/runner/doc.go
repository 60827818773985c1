// Package runner drives one loaded launch graph (pkg/launchconfig.Config)
// through its fixed lifecycle: validate, bring up the master, launch core
// nodes, load parameters, run setup executables, launch the remaining
// nodes (local and remote), then hand supervision to pkg/procmon until
// asked to stop.
//
// # Quick Start
//
//	r, err := runner.NewBuilder().
//	    WithLaunchFile("robot.launch", nil).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	succeeded, failed, err := r.Launch(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Printf("launched: %v, failed: %v", succeeded, failed)
//
//	if err := r.Spin(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Remote nodes
//
// Nodes assigned to a non-local Machine are only reachable if a transport
// is configured:
//
//	r, err := runner.NewBuilder().
//	    WithLaunchFile("robot.launch", nil).
//	    WithRemoteFactory(remote.NewSSHFactory()).
//	    Build()
//
// Without WithRemoteFactory, remote nodes fail fast via remote.NoopFactory
// instead of silently running on the wrong host.
//
// # Testing a single node
//
//	err := r.RunTest(ctx, &launchconfig.TestNode{
//	    Node:     launchconfig.Node{Package: "pkg", Type: "check", Name: "check1"},
//	    TestName: "check1",
//	    TimeSec:  30,
//	})
//
// # Architecture
//
//   - Builder: fluent construction, validates before returning a Runner
//   - Runner: the nine-step launch sequence, spin/stop, test nodes
//   - localProcess: procmon.Process backed by os/exec, for local nodes
//   - remoteProcess: procmon.Process backed by a remote.Runner, for
//     nodes assigned to other machines
//   - LaunchError: structured error with a Code, Context and Suggestion
package runner
