package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
)

func TestNoopFactory_ConnectFails(t *testing.T) {
	f := NoopFactory{}
	_, err := f.Connect(context.Background(), &launchconfig.Machine{Name: "rig", Address: "10.0.0.5"})
	assert.Error(t, err)
}

func TestBuildSpec_ResolvesEnvAndCommand(t *testing.T) {
	n := &launchconfig.Node{
		Package: "pkg",
		Type:    "driver",
		Name:    "driver",
		CWD:     "/opt/pkg",
		Env:     []launchconfig.EnvVar{{Name: "LOG_LEVEL", Value: "debug"}},
	}
	spec := BuildSpec(n, []string{"--foo", "bar"})
	assert.Equal(t, "driver", spec.Command)
	assert.Equal(t, []string{"--foo", "bar"}, spec.Args)
	require.Len(t, spec.Env, 1)
	assert.Equal(t, "LOG_LEVEL=debug", spec.Env[0])
	assert.Equal(t, "/opt/pkg", spec.CWD)
}

func TestJSONCodec_RoundTrips(t *testing.T) {
	c := jsonCodec{}
	req := &startRequest{Name: "/talker", Command: "talker", Args: []string{"-x"}}
	data, err := c.Marshal(req)
	require.NoError(t, err)

	var out startRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, *req, out)
}

func TestSSHRunner_BuildCommandLine(t *testing.T) {
	r := &sshRunner{envLoader: "/opt/ros/setup.sh", pids: make(map[string]int)}
	spec := NodeSpec{
		Name:    "/robot1/base",
		Command: "base_driver",
		Args:    []string{"--rate", "10"},
		Env:     []string{"ROBOT_ID=1"},
		CWD:     "/opt/ros",
	}
	line := r.buildCommandLine(spec)
	assert.Contains(t, line, "source '/opt/ros/setup.sh'")
	assert.Contains(t, line, "export 'ROBOT_ID=1'")
	assert.Contains(t, line, "cd '/opt/ros'")
	assert.Contains(t, line, "nohup 'base_driver' '--rate' '10'")
	assert.Contains(t, line, "echo $!")
}
