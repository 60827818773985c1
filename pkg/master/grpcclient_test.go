package master

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialGRPC_ReturnsClientWithoutBlocking(t *testing.T) {
	// grpc.NewClient is lazy: it never dials the network here, so this
	// succeeds even though nothing is listening on the given address.
	c, err := DialGRPC(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestJSONCodec_RoundTrips(t *testing.T) {
	c := jsonCodec{}
	req := &paramRequest{Name: "/run_id", Value: "abc-123"}
	data, err := c.Marshal(req)
	require.NoError(t, err)

	var out paramRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, *req, out)
}
