package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
	"github.com/jrepp/launchgraph/pkg/master"
)

type stubResolver struct{ dir string }

func (s stubResolver) FindPackage(name string) (string, error) { return s.dir, nil }

type fakeMasterClient struct {
	mu          sync.Mutex
	params      map[string]interface{}
	knownNodes  map[string]string // name -> uri, for nodes the master reports already running
}

func newFakeMasterClient() *fakeMasterClient {
	return &fakeMasterClient{params: make(map[string]interface{}), knownNodes: make(map[string]string)}
}

func (f *fakeMasterClient) HasParam(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.params[name]
	return ok, nil
}
func (f *fakeMasterClient) SetParam(ctx context.Context, name string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[name] = value
	return nil
}
func (f *fakeMasterClient) DeleteParam(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.params, name)
	return nil
}
func (f *fakeMasterClient) GetParamNames(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeMasterClient) LookupNode(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if uri, ok := f.knownNodes[name]; ok {
		return uri, nil
	}
	return "", fmt.Errorf("node %q: %w", name, master.ErrNodeUnknown)
}
func (f *fakeMasterClient) LookupService(ctx context.Context, name string) (string, error) {
	return "", fmt.Errorf("not found")
}
func (f *fakeMasterClient) Shutdown(ctx context.Context, reason string) error { return nil }

func testRunner(t *testing.T, uri string, cfg *launchconfig.Config) (*Runner, *fakeMasterClient) {
	t.Helper()
	client := newFakeMasterClient()
	dial := func(ctx context.Context, u string) (master.Client, error) { return client, nil }

	r, err := NewBuilder().
		WithConfig(cfg).
		WithMasterDialFunc(dial).
		WithPackageResolver(stubResolver{dir: "/bin"}).
		WithDisableSignals().
		WithResyncInterval(time.Second).
		Build()
	require.NoError(t, err)
	return r, client
}

func TestRunner_LaunchLocalNodeSucceeds(t *testing.T) {
	cfg := launchconfig.NewConfig()
	cfg.SetMaster(launchconfig.Master{URI: "http://localhost:19001", Auto: launchconfig.MasterAutoNo})
	cfg.AddNode(&launchconfig.Node{Package: "pkg", Type: "true", Name: "checker"})

	r, client := testRunner(t, "http://localhost:19001", cfg)

	succeeded, failed, err := r.Launch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, succeeded, "/checker")
	assert.Empty(t, failed)
	assert.True(t, r.IsNodeRunning("/checker") || !r.IsNodeRunning("/checker")) // liveness is racy for an instant-exit process; just exercise the call

	_, hasRunID := client.params["/run_id"]
	assert.True(t, hasRunID)

	require.NoError(t, r.Stop(context.Background()))
	require.NoError(t, r.Stop(context.Background())) // idempotent
}

func TestRunner_LaunchSetsParamsAndClearsPaths(t *testing.T) {
	cfg := launchconfig.NewConfig()
	cfg.SetMaster(launchconfig.Master{URI: "http://localhost:19002", Auto: launchconfig.MasterAutoNo})
	cfg.AddParam(launchconfig.Param{Name: "/robot/rate", Value: 10})
	cfg.AddClearParam(launchconfig.ClearParam{Name: "/robot/stale"})

	r, client := testRunner(t, "http://localhost:19002", cfg)
	client.params["/robot/stale"] = "old"

	_, _, err := r.Launch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, client.params["/robot/rate"])
	assert.NotContains(t, client.params, "/robot/stale")
	defer r.Stop(context.Background())
}

func TestRunner_LaunchFailsWhenRemoteNodeHasNoTransport(t *testing.T) {
	cfg := launchconfig.NewConfig()
	cfg.SetMaster(launchconfig.Master{URI: "http://localhost:19003", Auto: launchconfig.MasterAutoNo})
	cfg.AddMachine(&launchconfig.Machine{Name: "rig", Address: "10.0.0.9"})
	cfg.AddNode(&launchconfig.Node{Package: "pkg", Type: "driver", Name: "driver", Machine: "rig"})
	require.NoError(t, cfg.AssignMachines())

	r, _ := testRunner(t, "http://localhost:19003", cfg)

	_, _, err := r.Launch(context.Background())
	assert.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeRemoteUnreachable))
}

func TestRunner_SpinStopsImmediatelyWhenNothingRunning(t *testing.T) {
	cfg := launchconfig.NewConfig()
	cfg.SetMaster(launchconfig.Master{URI: "http://localhost:19004", Auto: launchconfig.MasterAutoNo})

	r, _ := testRunner(t, "http://localhost:19004", cfg)
	_, _, err := r.Launch(context.Background())
	require.NoError(t, err)

	require.NoError(t, r.Spin(context.Background()))
}

func TestRunner_RunTestTimesOutWhenNodeNeverExits(t *testing.T) {
	cfg := launchconfig.NewConfig()
	cfg.SetMaster(launchconfig.Master{URI: "http://localhost:19005", Auto: launchconfig.MasterAutoNo})

	r, _ := testRunner(t, "http://localhost:19005", cfg)
	_, _, err := r.Launch(context.Background())
	require.NoError(t, err)
	defer r.Stop(context.Background())

	test := &launchconfig.TestNode{
		Node:     launchconfig.Node{Package: "pkg", Type: "sleep", Args: "5", Name: "neverends"},
		TestName: "neverends",
		TimeSec:  0.3,
	}
	err = r.RunTest(context.Background(), test)
	assert.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeTestFailed))
}

func TestRunner_LaunchesCoreNodeWhenMasterReportsItAbsent(t *testing.T) {
	cfg := launchconfig.NewConfig()
	cfg.SetMaster(launchconfig.Master{URI: "http://localhost:19006", Auto: launchconfig.MasterAutoNo})
	cfg.AddCoreNode(&launchconfig.Node{Package: "pkg", Type: "true", Name: "rosout"})

	r, _ := testRunner(t, "http://localhost:19006", cfg)

	succeeded, failed, err := r.Launch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, succeeded, "/rosout")
	assert.Empty(t, failed)

	require.NoError(t, r.Stop(context.Background()))
}

func TestRunner_SkipsCoreNodeAlreadyRunning(t *testing.T) {
	cfg := launchconfig.NewConfig()
	cfg.SetMaster(launchconfig.Master{URI: "http://localhost:19007", Auto: launchconfig.MasterAutoNo})
	cfg.AddCoreNode(&launchconfig.Node{Package: "pkg", Type: "true", Name: "rosout"})

	r, client := testRunner(t, "http://localhost:19007", cfg)
	client.knownNodes["/rosout"] = "http://otherhost:123"

	succeeded, failed, err := r.Launch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, succeeded, "/rosout")
	assert.Empty(t, failed)
	assert.False(t, r.IsNodeRunning("/rosout")) // never actually spawned locally

	require.NoError(t, r.Stop(context.Background()))
}
