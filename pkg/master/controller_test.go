package master

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu     sync.Mutex
	params map[string]interface{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{params: make(map[string]interface{})}
}

func (f *fakeClient) HasParam(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.params[name]
	return ok, nil
}

func (f *fakeClient) SetParam(ctx context.Context, name string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[name] = value
	return nil
}

func (f *fakeClient) DeleteParam(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.params, name)
	return nil
}

func (f *fakeClient) GetParamNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.params))
	for k := range f.params {
		names = append(names, k)
	}
	return names, nil
}

func (f *fakeClient) LookupNode(ctx context.Context, name string) (string, error) { return "", nil }
func (f *fakeClient) LookupService(ctx context.Context, name string) (string, error) {
	return "", nil
}
func (f *fakeClient) Shutdown(ctx context.Context, reason string) error { return nil }

func TestController_EnsureUp_AlreadyReachable(t *testing.T) {
	defer resetRegistry()
	client := newFakeClient()
	dial := func(ctx context.Context, uri string) (Client, error) { return client, nil }

	c, err := NewController("http://localhost:11311", AutoNo, dial)
	require.NoError(t, err)

	got, err := c.EnsureUp(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, client, got)
}

func TestController_EnsureUp_AutoNoFailsWhenUnreachable(t *testing.T) {
	defer resetRegistry()
	dial := func(ctx context.Context, uri string) (Client, error) { return nil, errors.New("refused") }

	c, err := NewController("http://localhost:11311", AutoNo, dial)
	require.NoError(t, err)

	_, err = c.EnsureUp(context.Background(), nil)
	assert.Error(t, err)
}

func TestController_EnsureUp_AutoStartInvokesStartFn(t *testing.T) {
	defer resetRegistry()
	client := newFakeClient()
	calls := 0
	dial := func(ctx context.Context, uri string) (Client, error) {
		calls++
		if calls < 2 {
			return nil, errors.New("not up yet")
		}
		return client, nil
	}

	c, err := NewController("http://localhost:11311", AutoStart, dial)
	require.NoError(t, err)

	started := false
	got, err := c.EnsureUp(context.Background(), func(ctx context.Context) error {
		started = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, started)
	assert.Same(t, client, got)
}

func TestController_ConstructionIsIdempotent(t *testing.T) {
	defer resetRegistry()
	dial := func(ctx context.Context, uri string) (Client, error) { return newFakeClient(), nil }

	a, err := NewController("http://localhost:11311", AutoStart, dial)
	require.NoError(t, err)
	b, err := NewController("http://localhost:11311", AutoStart, dial)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestController_ConstructionConflictingAutoFails(t *testing.T) {
	defer resetRegistry()
	dial := func(ctx context.Context, uri string) (Client, error) { return newFakeClient(), nil }

	_, err := NewController("http://localhost:11311", AutoStart, dial)
	require.NoError(t, err)
	_, err = NewController("http://localhost:11311", AutoNo, dial)
	assert.Error(t, err)
}

func TestController_EnsureRunID_SetsOnce(t *testing.T) {
	defer resetRegistry()
	client := newFakeClient()
	dial := func(ctx context.Context, uri string) (Client, error) { return client, nil }

	c, err := NewController("http://localhost:11311", AutoNo, dial)
	require.NoError(t, err)
	_, err = c.EnsureUp(context.Background(), nil)
	require.NoError(t, err)

	runID, didSet, err := c.EnsureRunID(context.Background())
	require.NoError(t, err)
	assert.True(t, didSet)
	assert.NotEmpty(t, runID)

	_, didSetAgain, err := c.EnsureRunID(context.Background())
	require.NoError(t, err)
	assert.False(t, didSetAgain)
}
