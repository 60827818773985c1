package master

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

const servicePrefix = "/launchgraph.master.Master/"

// jsonCodec lets the master RPC surface travel over gRPC as plain JSON
// structs instead of generated protobuf stubs, matching pkg/remote's own
// codec trick; spec.md treats the wire format as external, so there is
// nothing here worth a .proto/codegen step.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// DialGRPC is a DialFunc that reaches a master over a plain gRPC channel,
// for embedders that run their own master service (e.g. behind
// --grpc-admin) instead of the stdlib XML-RPC master roslaunch itself uses.
func DialGRPC(ctx context.Context, uri string) (Client, error) {
	conn, err := grpc.NewClient(uri, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("master: dial %s: %w", uri, err)
	}
	return &grpcClient{conn: conn}, nil
}

type grpcClient struct {
	conn *grpc.ClientConn
}

type paramRequest struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value,omitempty"`
}

type boolResponse struct {
	Value bool `json:"value"`
}

type namesResponse struct {
	Names []string `json:"names"`
}

type lookupResponse struct {
	URI   string `json:"uri"`
	Found bool   `json:"found"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type emptyResponse struct{}

func (c *grpcClient) HasParam(ctx context.Context, name string) (bool, error) {
	var resp boolResponse
	if err := c.conn.Invoke(ctx, servicePrefix+"HasParam", &paramRequest{Name: name}, &resp, grpc.CallContentSubtype("json")); err != nil {
		return false, err
	}
	return resp.Value, nil
}

func (c *grpcClient) SetParam(ctx context.Context, name string, value interface{}) error {
	var resp emptyResponse
	return c.conn.Invoke(ctx, servicePrefix+"SetParam", &paramRequest{Name: name, Value: value}, &resp, grpc.CallContentSubtype("json"))
}

func (c *grpcClient) DeleteParam(ctx context.Context, name string) error {
	var resp emptyResponse
	return c.conn.Invoke(ctx, servicePrefix+"DeleteParam", &paramRequest{Name: name}, &resp, grpc.CallContentSubtype("json"))
}

func (c *grpcClient) GetParamNames(ctx context.Context) ([]string, error) {
	var resp namesResponse
	if err := c.conn.Invoke(ctx, servicePrefix+"GetParamNames", &emptyResponse{}, &resp, grpc.CallContentSubtype("json")); err != nil {
		return nil, err
	}
	return resp.Names, nil
}

func (c *grpcClient) LookupNode(ctx context.Context, name string) (string, error) {
	var resp lookupResponse
	if err := c.conn.Invoke(ctx, servicePrefix+"LookupNode", &paramRequest{Name: name}, &resp, grpc.CallContentSubtype("json")); err != nil {
		return "", err
	}
	if !resp.Found {
		return "", fmt.Errorf("node %q: %w", name, ErrNodeUnknown)
	}
	return resp.URI, nil
}

func (c *grpcClient) LookupService(ctx context.Context, name string) (string, error) {
	var resp lookupResponse
	if err := c.conn.Invoke(ctx, servicePrefix+"LookupService", &paramRequest{Name: name}, &resp, grpc.CallContentSubtype("json")); err != nil {
		return "", err
	}
	if !resp.Found {
		return "", fmt.Errorf("service %q: %w", name, ErrNodeUnknown)
	}
	return resp.URI, nil
}

func (c *grpcClient) Shutdown(ctx context.Context, reason string) error {
	var resp emptyResponse
	return c.conn.Invoke(ctx, servicePrefix+"Shutdown", &reasonRequest{Reason: reason}, &resp, grpc.CallContentSubtype("json"))
}
