// Package master drives the parameter-server/registration master: ensuring
// it is reachable (starting or restarting it per the launch graph's Master
// policy), and publishing the run_id used to correlate a launch across
// process restarts.
package master

import (
	"context"
	"errors"
)

// ErrNodeUnknown is returned by Client.LookupNode/LookupService when the
// master itself answered but reports no such name registered, distinguishing
// "not running" from a transport or RPC-level failure.
var ErrNodeUnknown = errors.New("master: name not registered")

// Client is the RPC surface the Controller drives against a running master.
// It is a plain interface: the wire protocol is an external collaborator,
// not something this package defines.
type Client interface {
	HasParam(ctx context.Context, name string) (bool, error)
	SetParam(ctx context.Context, name string, value interface{}) error
	DeleteParam(ctx context.Context, name string) error
	GetParamNames(ctx context.Context) ([]string, error)
	LookupNode(ctx context.Context, name string) (string, error)
	LookupService(ctx context.Context, name string) (string, error)
	Shutdown(ctx context.Context, reason string) error
}

// DialFunc constructs a Client for a master reachable at uri. Injected so
// the Controller never constructs transport itself.
type DialFunc func(ctx context.Context, uri string) (Client, error)
