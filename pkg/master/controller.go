package master

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// default timeouts for reaching a starting/stopping master, matching the
// values roslaunch itself polls on.
const (
	DefaultStartTimeout = 10 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// Controller classifies and drives the master's lifecycle.
type Controller struct {
	uri      string
	auto     Auto
	dial     DialFunc
	client   Client
	runIDKey string
}

// Auto classifies how the master's lifecycle is managed.
type Auto int

const (
	// AutoNo - the master must already be running; never started or restarted.
	AutoNo Auto = iota
	// AutoStart - start the master if it is not already reachable.
	AutoStart
	// AutoRestart - a master already running at launch is shut down (by
	// pkg/runner) and a fresh one started; a master that dies later is not
	// restarted.
	AutoRestart
)

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Controller)
)

// NewController returns the Controller for (uri, auto), constructing it on
// first call and returning the existing instance on a repeat call with
// identical settings. A repeat call with a conflicting auto policy for the
// same uri is an error: the master's restart policy cannot be redefined
// mid-launch.
func NewController(uri string, auto Auto, dial DialFunc) (*Controller, error) {
	uri, err := CanonicalizeURI(uri)
	if err != nil {
		return nil, err
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := registry[uri]; ok {
		if existing.auto != auto {
			return nil, fmt.Errorf("master: controller for %q already exists with auto=%v, cannot redeclare as %v",
				uri, existing.auto, auto)
		}
		return existing, nil
	}

	c := &Controller{
		uri:      uri,
		auto:     auto,
		dial:     dial,
		runIDKey: "/run_id",
	}
	registry[uri] = c
	return c, nil
}

// resetRegistry clears the idempotence registry; exposed to tests only via
// the package-internal test file, never called from production code.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*Controller)
}

// Auto returns the master's restart policy.
func (c *Controller) Auto() Auto { return c.auto }

// URI returns the master's address.
func (c *Controller) URI() string { return c.uri }

// EnsureUp blocks until the master is reachable, starting it via startFn if
// it is not and auto permits it. startFn is the caller's hook into the
// process monitor (it registers and starts the master as a core process);
// EnsureUp only decides whether to call it and how long to wait afterward.
func (c *Controller) EnsureUp(ctx context.Context, startFn func(ctx context.Context) error) (Client, error) {
	client, err := c.probe(ctx)
	if err == nil {
		c.client = client
		return client, nil
	}

	if c.auto == AutoNo {
		return nil, fmt.Errorf("master: not reachable at %s and auto-start is disabled: %w", c.uri, err)
	}

	log.Printf("master: not reachable at %s, starting it (auto=%v)", c.uri, c.auto)
	if startFn != nil {
		if err := startFn(ctx); err != nil {
			return nil, fmt.Errorf("master: start: %w", err)
		}
	}

	client, err = c.pollUntilUp(ctx)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

func (c *Controller) probe(ctx context.Context) (Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.dial(dialCtx, c.uri)
}

func (c *Controller) pollUntilUp(ctx context.Context) (Client, error) {
	op := func() (Client, error) {
		client, err := c.probe(ctx)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(DefaultStartTimeout),
	)
}

// EnsureRunID sets /run_id on the parameter server to a fresh UUID iff it
// is not already present, and reports whether it set one. The master RPC
// surface has no getParam (only hasParam/setParam/deleteParam/getParamNames),
// so a run_id that already exists is left untouched and its value is not
// retrievable here — matching roslaunch's own read-modify-write behavior,
// where only the first launch against a master actually chooses the run_id.
func (c *Controller) EnsureRunID(ctx context.Context) (runID string, didSet bool, err error) {
	if c.client == nil {
		return "", false, fmt.Errorf("master: EnsureRunID called before EnsureUp")
	}

	has, err := c.client.HasParam(ctx, c.runIDKey)
	if err != nil {
		return "", false, fmt.Errorf("master: check run_id: %w", err)
	}
	if has {
		return "", false, nil
	}

	runID = uuid.NewString()
	if err := c.client.SetParam(ctx, c.runIDKey, runID); err != nil {
		return "", false, fmt.Errorf("master: set run_id: %w", err)
	}
	return runID, true, nil
}

// Shutdown asks the master to shut down with the given reason, respecting
// DefaultStopTimeout.
func (c *Controller) Shutdown(ctx context.Context, reason string) error {
	if c.client == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
	defer cancel()
	return c.client.Shutdown(shutdownCtx, reason)
}
