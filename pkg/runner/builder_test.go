package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/launchgraph/pkg/launchconfig"
	"github.com/jrepp/launchgraph/pkg/loader"
	"github.com/jrepp/launchgraph/pkg/master"
)

func validConfig() *launchconfig.Config {
	cfg := launchconfig.NewConfig()
	cfg.SetMaster(launchconfig.Master{URI: "http://localhost:11311", Auto: launchconfig.MasterAutoNo})
	cfg.AddNode(&launchconfig.Node{Package: "pkg", Type: "talker", Name: "talker"})
	return cfg
}

func TestBuilder_BuildRequiresConfig(t *testing.T) {
	_, err := NewBuilder().Build()
	assert.Error(t, err)
}

func TestBuilder_BuildRejectsInvalidConfig(t *testing.T) {
	cfg := launchconfig.NewConfig()
	cfg.AddNode(&launchconfig.Node{Package: "pkg", Type: "t", Name: "dup"})
	cfg.AddNode(&launchconfig.Node{Package: "pkg", Type: "t", Name: "dup"})

	_, err := NewBuilder().WithConfig(cfg).Build()
	assert.Error(t, err)
}

func TestBuilder_BuildSucceedsWithValidConfig(t *testing.T) {
	r, err := NewBuilder().WithConfig(validConfig()).Build()
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestBuilder_WithResyncIntervalRejectsTooSmall(t *testing.T) {
	_, err := NewBuilder().WithConfig(validConfig()).WithResyncInterval(100 * time.Millisecond).Build()
	assert.Error(t, err)
}

func TestBuilder_WithConfigRejectsNil(t *testing.T) {
	_, err := NewBuilder().WithConfig(nil).Build()
	assert.Error(t, err)
}

func TestBuilder_MustBuildPanicsOnError(t *testing.T) {
	assert.Panics(t, func() {
		NewBuilder().MustBuild()
	})
}

func TestBuilder_WithDefaultsOverridesArgBeforeLaunchFileLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rate.launch")
	require.NoError(t, os.WriteFile(path, []byte(`
<launch>
  <arg name="rate" default="10"/>
  <master uri="http://localhost:11311"/>
  <param name="rate" value="$(arg rate)"/>
</launch>
`), 0o644))

	r, err := NewBuilder().
		WithDefaults(map[string]string{"rate": "50"}).
		WithLaunchFile(path, loader.NewPathResolver()).
		Build()
	require.NoError(t, err)
	require.Len(t, r.cfg.Params, 1)
	assert.Equal(t, int64(50), r.cfg.Params[0].Value)
}

func TestAuto_MapsLaunchconfigToMaster(t *testing.T) {
	assert.Equal(t, master.AutoStart, Auto(launchconfig.MasterAutoStart))
	assert.Equal(t, master.AutoRestart, Auto(launchconfig.MasterAutoRestart))
	assert.Equal(t, master.AutoNo, Auto(launchconfig.MasterAutoNo))
}
