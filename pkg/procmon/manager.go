package procmon

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Monitor supervises a set of registered processes, detecting deaths,
// respawning the ones flagged for it, and escalating the ones that are
// required but not respawned into a shutdown request.
type Monitor struct {
	mu            sync.Mutex
	registrations map[ProcessID]*registration
	order         []ProcessID // registration order, core and non-core interleaved

	registrationsComplete bool
	shutdownRequested     bool

	respawnQueue   RespawnQueue
	metrics        MetricsCollector
	resyncInterval time.Duration
	backOffBase    time.Duration
	backOffMax     time.Duration

	deaths chan deathNotice

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	wg             sync.WaitGroup
}

// NewMonitor creates a Monitor. Use Options to override defaults.
func NewMonitor(opts ...Option) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Monitor{
		registrations:  make(map[ProcessID]*registration),
		respawnQueue:   NewRespawnQueue(),
		metrics:        NewNoopMetricsCollector(),
		resyncInterval: 5 * time.Second,
		backOffBase:    time.Second,
		backOffMax:     30 * time.Second,
		deaths:         make(chan deathNotice, 32),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Register adds a non-core process to be supervised. Returns an error if
// RegistrationsComplete was already called, or a process with this name is
// already registered.
func (m *Monitor) Register(proc Process, opts ...RegisterOption) error {
	return m.register(proc, false, opts...)
}

// RegisterCoreProc adds a core process (e.g. the master). Core processes
// are started first and stopped last by Shutdown.
func (m *Monitor) RegisterCoreProc(proc Process, opts ...RegisterOption) error {
	return m.register(proc, true, opts...)
}

func (m *Monitor) register(proc Process, core bool, opts ...RegisterOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registrationsComplete {
		return fmt.Errorf("procmon: registrations already closed, cannot register %q", proc.Name())
	}

	id := ProcessID(proc.Name())
	if _, exists := m.registrations[id]; exists {
		return fmt.Errorf("procmon: process %q already registered", proc.Name())
	}

	o := registerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	reg := &registration{
		id:    id,
		proc:  proc,
		core:  core,
		opts:  o,
		state: ProcessStateStarting,
	}
	m.registrations[id] = reg
	m.order = append(m.order, id)

	watchCtx, cancel := context.WithCancel(m.shutdownCtx)
	reg.watchCancel = cancel

	if err := proc.Start(watchCtx); err != nil {
		reg.state = ProcessStateDead
		return fmt.Errorf("procmon: start %q: %w", proc.Name(), err)
	}
	reg.state = ProcessStateAlive
	log.Printf("procmon: registered %q (core=%v)", proc.Name(), core)

	m.wg.Add(1)
	go m.watch(watchCtx, reg)

	return nil
}

// watch blocks on Process.Wait and reports the death to the mainthread.
func (m *Monitor) watch(ctx context.Context, reg *registration) {
	defer m.wg.Done()

	exitCode := reg.proc.Wait()

	select {
	case <-ctx.Done():
		// Stopped deliberately; Stop() already recorded the final state.
		return
	default:
	}

	select {
	case m.deaths <- deathNotice{id: reg.id, exitCode: exitCode}:
	case <-m.shutdownCtx.Done():
	}
}

// RegistrationsComplete signals that no more processes will be registered.
// After this call Register/RegisterCoreProc return an error.
func (m *Monitor) RegistrationsComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrationsComplete = true
}

// HasProcess reports whether a process with this name is registered and
// currently starting or alive.
func (m *Monitor) HasProcess(name string) bool {
	m.mu.Lock()
	reg, ok := m.registrations[ProcessID(name)]
	m.mu.Unlock()
	if !ok {
		return false
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.state == ProcessStateAlive || reg.state == ProcessStateStarting
}

// GetActiveNames returns the names of processes currently reporting alive.
func (m *Monitor) GetActiveNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.registrations))
	for _, id := range m.order {
		reg := m.registrations[id]
		reg.mu.Lock()
		alive := reg.state == ProcessStateAlive || reg.state == ProcessStateStarting
		reg.mu.Unlock()
		if alive {
			names = append(names, string(id))
		}
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a report per registered process, in registration order.
func (m *Monitor) Snapshot() []ProcessReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	reports := make([]ProcessReport, 0, len(m.order))
	for _, id := range m.order {
		reg := m.registrations[id]
		status := reg.snapshot()
		reports = append(reports, ProcessReport{
			Name:         string(id),
			State:        status.State,
			Core:         status.Core,
			RestartCount: status.RestartCount,
			LastExitCode: status.LastExitCode,
		})
	}
	return reports
}

// MainthreadSpinOnce drains pending death notifications and ready
// respawn-backoff entries, reconciling state exactly once. Returns true if
// a required, non-respawning process died and the caller should begin
// shutdown.
func (m *Monitor) MainthreadSpinOnce() bool {
	m.drainDeaths()
	m.drainReadyRespawns()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownRequested
}

// MainthreadSpin calls MainthreadSpinOnce on resyncInterval until ctx is
// cancelled, a shutdown is requested, or no process is left starting, alive
// or awaiting a scheduled respawn.
func (m *Monitor) MainthreadSpin(ctx context.Context) error {
	ticker := time.NewTicker(m.resyncInterval)
	defer ticker.Stop()

	for {
		if m.MainthreadSpinOnce() {
			return nil
		}
		if len(m.GetActiveNames()) == 0 && m.respawnQueue.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notice := <-m.deaths:
			// A death arrived between ticks; reconcile it right away.
			m.handleDeath(notice)
		case <-ticker.C:
		}
	}
}

func (m *Monitor) drainDeaths() {
	for {
		select {
		case notice := <-m.deaths:
			m.handleDeath(notice)
		default:
			return
		}
	}
}

func (m *Monitor) handleDeath(notice deathNotice) {
	m.mu.Lock()
	reg, ok := m.registrations[notice.id]
	m.mu.Unlock()
	if !ok {
		return
	}

	reg.mu.Lock()
	reg.state = ProcessStateDead
	reg.lastExitCode = notice.exitCode
	reg.mu.Unlock()

	m.metrics.ProcessStateTransition(notice.id, ProcessStateAlive, ProcessStateDead)
	log.Printf("procmon: process %q died (exit=%d)", notice.id, notice.exitCode)

	if reg.opts.respawn {
		reg.mu.Lock()
		attempt := reg.restartCount
		reg.mu.Unlock()

		delay := ExponentialBackoff(attempt, m.backOffBase, m.backOffMax)
		m.metrics.RespawnBackoffDuration(notice.id, delay)
		m.respawnQueue.ScheduleRespawn(notice.id, delay)
		return
	}

	if reg.opts.required || reg.core {
		m.mu.Lock()
		m.shutdownRequested = true
		m.mu.Unlock()
		log.Printf("procmon: required process %q exited, requesting shutdown", notice.id)
	}
}

func (m *Monitor) drainReadyRespawns() {
	for {
		id, ok := m.respawnQueue.NextReady()
		if !ok {
			return
		}

		m.mu.Lock()
		reg, exists := m.registrations[id]
		m.mu.Unlock()
		if !exists {
			continue
		}

		reg.mu.Lock()
		reg.state = ProcessStateStarting
		reg.restartCount++
		attempt := reg.restartCount
		reg.mu.Unlock()

		watchCtx, cancel := context.WithCancel(m.shutdownCtx)
		reg.watchCancel = cancel

		m.metrics.ProcessRestart(id)
		log.Printf("procmon: respawning %q (attempt %d)", id, attempt)

		if err := reg.proc.Start(watchCtx); err != nil {
			reg.mu.Lock()
			reg.state = ProcessStateDead
			reg.lastError = err
			reg.mu.Unlock()
			m.metrics.ProcessError(id, "respawn_failed")
			delay := ExponentialBackoff(attempt, m.backOffBase, m.backOffMax)
			m.respawnQueue.ScheduleRespawn(id, delay)
			continue
		}

		reg.mu.Lock()
		reg.state = ProcessStateAlive
		reg.mu.Unlock()

		m.wg.Add(1)
		go m.watch(watchCtx, reg)
	}
}

// Shutdown stops every supervised process, non-core first and core
// processes last, so that e.g. the master outlives the nodes that depend
// on it for as long as possible.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdownCancel()

	var nonCore, core []*registration
	for _, id := range m.order {
		reg := m.registrations[id]
		if reg.core {
			core = append(core, reg)
		} else {
			nonCore = append(nonCore, reg)
		}
	}
	m.mu.Unlock()

	const defaultGrace = 10 * time.Second

	stopAll := func(regs []*registration) {
		var wg sync.WaitGroup
		for _, reg := range regs {
			reg.mu.Lock()
			alive := reg.state == ProcessStateAlive || reg.state == ProcessStateStarting
			reg.mu.Unlock()
			if !alive {
				continue
			}
			wg.Add(1)
			go func(r *registration) {
				defer wg.Done()
				start := time.Now()
				if err := r.proc.Stop(ctx, defaultGrace); err != nil {
					log.Printf("procmon: stop %q: %v", r.id, err)
				}
				m.metrics.ProcessTerminationDuration(r.id, time.Since(start))
				r.mu.Lock()
				r.state = ProcessStateStopped
				r.mu.Unlock()
			}(reg)
		}
		wg.Wait()
	}

	stopAll(nonCore)
	stopAll(core)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
