package procmon

import "time"

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithResyncInterval sets how often MainthreadSpin polls between ticks.
func WithResyncInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.resyncInterval = d
	}
}

// WithBackoff sets the base and max delay used for respawn scheduling.
func WithBackoff(base, max time.Duration) Option {
	return func(m *Monitor) {
		m.backOffBase = base
		m.backOffMax = max
	}
}

// WithMetricsCollector sets the metrics collector. Defaults to a no-op.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(m *Monitor) {
		m.metrics = mc
	}
}
