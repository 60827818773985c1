package procmon

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetricsCollector_StateTransitions(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.ProcessStateTransition("talker", ProcessStateStarting, ProcessStateAlive)
	pmc.ProcessStateTransition("talker", ProcessStateAlive, ProcessStateDead)

	count := testutil.CollectAndCount(pmc.stateTransitions)
	assert.Equal(t, 2, count)
}

func TestPrometheusMetricsCollector_RestartsAndErrors(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.ProcessRestart("listener")
	pmc.ProcessError("listener", "respawn_failed")
	pmc.ProcessTerminationDuration("listener", 2*time.Second)
	pmc.RespawnBackoffDuration("listener", time.Second)

	assert.Equal(t, 1, testutil.CollectAndCount(pmc.restarts))
	assert.Equal(t, 1, testutil.CollectAndCount(pmc.errors))
}

func TestPrometheusMetricsCollector_DefaultNamespace(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("")
	require.NotNil(t, pmc.Registry())

	mfs, err := pmc.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		assert.True(t, strings.HasPrefix(mf.GetName(), "launchgraph_"))
	}
}
