package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
)

type stubResolver struct {
	paths map[string]string
}

func (s stubResolver) FindPackage(name string) (string, error) {
	p, ok := s.paths[name]
	if !ok {
		return "", os.ErrNotExist
	}
	return p, nil
}

func writeLaunchFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFile_SimpleNode(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "single.launch", `
<launch>
  <node pkg="talker_pkg" type="talker" name="talker" output="screen" required="true"/>
</launch>
`)

	l := New(nil)
	cfg, lerr := l.LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Nodes, 1)

	n := cfg.Nodes[0]
	assert.Equal(t, "talker_pkg", n.Package)
	assert.Equal(t, "talker", n.Type)
	assert.Equal(t, "talker", n.Name)
	assert.Equal(t, "screen", n.Output)
	assert.True(t, n.Required)
	assert.Equal(t, "/talker", string(n.GlobalName()))
}

func TestLoadFile_ArgsAndParams(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "args.launch", `
<launch>
  <arg name="rate" default="10"/>
  <param name="publish_rate" value="$(arg rate)"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Params, 1)
	assert.Equal(t, "/publish_rate", string(cfg.Params[0].Name))
	assert.Equal(t, int64(10), cfg.Params[0].Value)
	assert.Equal(t, launchconfig.ParamTypeAuto, cfg.Params[0].Type)
}

func TestLoadFile_ParamTypeStrAndCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "param.launch", `
<launch>
  <param name="label" value="10" type="str"/>
  <param name="greeting" command="echo hello"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Params, 2)
	assert.Equal(t, "10", cfg.Params[0].Value)
	assert.Equal(t, launchconfig.ParamTypeStr, cfg.Params[0].Type)
	assert.Equal(t, "hello", cfg.Params[1].Value)
}

func TestLoadFile_ParamRejectsMultipleSources(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "param.launch", `
<launch>
  <param name="p" value="1" command="echo 1"/>
</launch>
`)

	_, lerr := New(nil).LoadFile(path)
	require.NotNil(t, lerr)
	assert.Equal(t, ErrorKindParse, lerr.Kind)
}

func TestLoadFile_Rosparam(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "rosparam.launch", `
<launch>
  <rosparam file="config.yaml" command="load"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Executables, 1)
	assert.Equal(t, "rosparam", cfg.Executables[0].Command)
	assert.Contains(t, cfg.Executables[0].Args, "config.yaml")
}

func TestLoadFile_RosparamBadCommandFails(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "rosparam.launch", `
<launch>
  <rosparam file="config.yaml" command="wipe"/>
</launch>
`)

	_, lerr := New(nil).LoadFile(path)
	require.NotNil(t, lerr)
	assert.Equal(t, ErrorKindParse, lerr.Kind)
}

func TestLoadFile_NodeClearParamsRequiresName(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "clear.launch", `
<launch>
  <node pkg="pkg" type="driver" clear_params="true"/>
</launch>
`)

	_, lerr := New(nil).LoadFile(path)
	require.NotNil(t, lerr)
	assert.Equal(t, ErrorKindParse, lerr.Kind)
}

func TestLoadFile_NodeChildParamRequiresName(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "child.launch", `
<launch>
  <node pkg="pkg" type="driver">
    <param name="rate" value="1"/>
  </node>
</launch>
`)

	_, lerr := New(nil).LoadFile(path)
	require.NotNil(t, lerr)
	assert.Equal(t, ErrorKindMissingAttribute, lerr.Kind)
}

func TestLoadFile_NodeChildParamScopedUnderNode(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "child.launch", `
<launch>
  <node pkg="pkg" type="driver" name="driver">
    <param name="rate" value="5"/>
  </node>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Params, 1)
	assert.Equal(t, "/driver/rate", string(cfg.Params[0].Name))
}

func TestLoadFile_GroupClearParamsRequiresNS(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "clear.launch", `
<launch>
  <group clear_params="true">
    <node pkg="pkg" type="driver" name="driver"/>
  </group>
</launch>
`)

	_, lerr := New(nil).LoadFile(path)
	require.NotNil(t, lerr)
	assert.Equal(t, ErrorKindParse, lerr.Kind)
}

func TestLoadFile_GroupClearParams(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "clear.launch", `
<launch>
  <group ns="/g" clear_params="true">
    <node pkg="pkg" type="driver" name="driver"/>
  </group>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.ClearParams, 1)
	assert.Equal(t, "/g/", string(cfg.ClearParams[0].Name))
}

func TestLoadFile_GroupNamespaceScoped(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "group.launch", `
<launch>
  <group ns="robot1">
    <node pkg="drivers" type="base" name="base"/>
  </group>
  <node pkg="drivers" type="base" name="base"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Nodes, 2)
	assert.Equal(t, "/robot1/base", string(cfg.Nodes[0].GlobalName()))
	assert.Equal(t, "/base", string(cfg.Nodes[1].GlobalName()))
}

func TestLoadFile_IfUnless(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "cond.launch", `
<launch>
  <arg name="use_sim" default="true"/>
  <node pkg="pkg" type="sim" name="sim" if="$(arg use_sim)"/>
  <node pkg="pkg" type="real" name="real" unless="$(arg use_sim)"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Nodes, 1)
	assert.Equal(t, "sim", cfg.Nodes[0].Name)
}

func TestLoadFile_RemapAndEnvScopedToSiblings(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "remap.launch", `
<launch>
  <remap from="/scan" to="/lidar/scan"/>
  <env name="LOG_LEVEL" value="debug"/>
  <node pkg="pkg" type="listener" name="listener"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Nodes, 1)
	n := cfg.Nodes[0]
	require.Len(t, n.Remaps, 1)
	assert.Equal(t, "/scan", string(n.Remaps[0].From))
	assert.Equal(t, "/lidar/scan", string(n.Remaps[0].To))
	require.Len(t, n.Env, 1)
	assert.Equal(t, "LOG_LEVEL", n.Env[0].Name)
}

func TestLoadFile_MachineAndMaster(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "machine.launch", `
<launch>
  <master uri="http://localhost:11311" auto="start"/>
  <machine name="rig" address="192.168.1.5" user="robot" default="true"/>
  <node pkg="pkg" type="driver" name="driver"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	assert.Equal(t, "http://localhost:11311", cfg.Master.URI)
	require.Contains(t, cfg.Machines, "rig")
	assert.Equal(t, launchconfig.MachineDefaultTrue, cfg.Machines["rig"].Default)
}

func TestLoadFile_MachineDefaultNever(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "machine.launch", `
<launch>
  <machine name="rig" address="192.168.1.5" default="never"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Contains(t, cfg.Machines, "rig")
	assert.Equal(t, launchconfig.MachineDefaultNever, cfg.Machines["rig"].Default)
}

func TestLoadFile_Test(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "test.launch", `
<launch>
  <test test-name="check_topics" pkg="pkg" type="topic_check" name="check_topics" time-limit="30"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Tests, 1)
	assert.Equal(t, "check_topics", cfg.Tests[0].TestName)
	assert.Equal(t, 30.0, cfg.Tests[0].TimeSec)
	assert.True(t, cfg.Tests[0].Required)
}

func TestLoadFile_Include(t *testing.T) {
	dir := t.TempDir()
	writeLaunchFile(t, dir, "child.launch", `
<launch>
  <arg name="name" default="unset"/>
  <node pkg="pkg" type="worker" name="$(arg name)"/>
</launch>
`)
	path := writeLaunchFile(t, dir, "parent.launch", `
<launch>
  <include file="child.launch">
    <arg name="name" value="worker1"/>
  </include>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Nodes, 1)
	assert.Equal(t, "worker1", cfg.Nodes[0].Name)
}

func TestLoadFile_FindSubstitution(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "find.launch", `
<launch>
  <node pkg="pkg" type="driver" name="driver" cwd="$(find mypkg)"/>
</launch>
`)

	l := &Loader{resolver: stubResolver{paths: map[string]string{"mypkg": "/opt/ros/mypkg"}}}
	cfg, lerr := l.LoadFile(path)
	require.Nil(t, lerr)
	assert.Equal(t, "/opt/ros/mypkg", cfg.Nodes[0].CWD)
}

func TestLoadFile_MissingRequiredAttributeFails(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "bad.launch", `
<launch>
  <node pkg="pkg" type="driver">
    <param name="p" value="1"/>
  </node>
</launch>
`)

	_, lerr := New(nil).LoadFile(path)
	require.NotNil(t, lerr)
	assert.Equal(t, ErrorKindMissingAttribute, lerr.Kind)
}

func TestLoadFile_NodeWithoutNameIsValid(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "ok.launch", `
<launch>
  <node pkg="pkg" type="driver"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Nodes, 1)
	assert.Equal(t, "", cfg.Nodes[0].Name)
}

func TestLoadFile_UnknownTagIsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "ok.launch", `
<launch>
  <bogus/>
  <node pkg="pkg" type="driver" name="driver"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.Nodes, 1)
}

func TestLoadFile_UndefinedArgFails(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "bad.launch", `
<launch>
  <param name="p" value="$(arg missing)"/>
</launch>
`)

	_, lerr := New(nil).LoadFile(path)
	require.NotNil(t, lerr)
	assert.Equal(t, ErrorKindSubstitution, lerr.Kind)
}

func TestLoadFileWithArgs_OverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "ok.launch", `
<launch>
  <arg name="rate" default="10"/>
  <param name="rate" value="$(arg rate)"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFileWithArgs(path, map[string]string{"rate": "50"})
	require.Nil(t, lerr)
	require.Len(t, cfg.Params, 1)
	assert.Equal(t, int64(50), cfg.Params[0].Value)
}

func TestLoadFileWithArgs_LeavesUnmentionedDefaultsAlone(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "ok.launch", `
<launch>
  <arg name="rate" default="10"/>
  <param name="rate" value="$(arg rate)"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFileWithArgs(path, map[string]string{"unrelated": "x"})
	require.Nil(t, lerr)
	assert.Equal(t, int64(10), cfg.Params[0].Value)
}

func TestLoadFile_CoreNodeGoesToNodesCore(t *testing.T) {
	dir := t.TempDir()
	path := writeLaunchFile(t, dir, "ok.launch", `
<launch>
  <node pkg="rosout" type="rosout" name="rosout" core="true"/>
  <node pkg="pkg" type="driver" name="driver"/>
</launch>
`)

	cfg, lerr := New(nil).LoadFile(path)
	require.Nil(t, lerr)
	require.Len(t, cfg.NodesCore, 1)
	assert.Equal(t, "rosout", cfg.NodesCore[0].Name)
	require.Len(t, cfg.Nodes, 1)
	assert.Equal(t, "driver", cfg.Nodes[0].Name)
}
