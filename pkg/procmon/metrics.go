package procmon

import (
	"time"
)

// MetricsCollector observes monitor activity. Implementations must be
// goroutine-safe since calls arrive from Shutdown's per-process stop
// goroutines and MainthreadSpinOnce concurrently.
type MetricsCollector interface {
	// ProcessStateTransition records a state transition for a process.
	ProcessStateTransition(id ProcessID, fromState, toState ProcessState)

	// ProcessTerminationDuration records the duration of a Stop call.
	ProcessTerminationDuration(id ProcessID, duration time.Duration)

	// ProcessError records an error associated with a process.
	ProcessError(id ProcessID, errorType string)

	// ProcessRestart records a respawn.
	ProcessRestart(id ProcessID)

	// RespawnBackoffDuration records the computed backoff before a
	// scheduled respawn.
	RespawnBackoffDuration(id ProcessID, duration time.Duration)
}

type noopMetricsCollector struct{}

func (n *noopMetricsCollector) ProcessStateTransition(ProcessID, ProcessState, ProcessState) {}
func (n *noopMetricsCollector) ProcessTerminationDuration(ProcessID, time.Duration)          {}
func (n *noopMetricsCollector) ProcessError(ProcessID, string)                               {}
func (n *noopMetricsCollector) ProcessRestart(ProcessID)                                     {}
func (n *noopMetricsCollector) RespawnBackoffDuration(ProcessID, time.Duration)              {}

// NewNoopMetricsCollector returns a MetricsCollector that discards everything.
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
