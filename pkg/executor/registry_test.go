package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actflow/actflow/pkg/models"
)

func echoHandler() Handler {
	return &HandlerFunc{
		ExecuteFn: func(ctx context.Context, ec *Context, action map[string]any) (any, error) {
			return action, nil
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("echo", echoHandler()))
	assert.True(t, r.Has("echo"))

	h, err := r.Get("echo")
	require.NoError(t, err)
	out, err := h.Execute(context.Background(), nil, map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, out)
}

func TestRegistryRejectsBadRegistrations(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", echoHandler()))
	assert.Error(t, r.Register("echo", nil))
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, models.ErrHandlerNotFound)
}

func TestRegistryListAndUnregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", echoHandler()))
	require.NoError(t, r.Register("b", echoHandler()))

	assert.ElementsMatch(t, []string{"a", "b"}, r.List())

	require.NoError(t, r.Unregister("a"))
	assert.False(t, r.Has("a"))
	assert.ErrorIs(t, r.Unregister("a"), models.ErrHandlerNotFound)
}

func TestHandlerFuncValidateDefault(t *testing.T) {
	h := &HandlerFunc{ExecuteFn: func(ctx context.Context, ec *Context, action map[string]any) (any, error) {
		return nil, nil
	}}
	assert.NoError(t, h.Validate(map[string]any{}))
}

func TestContextSinksWithoutChannel(t *testing.T) {
	// A nil channel makes Log and Message no-ops so handlers can be unit
	// tested in isolation.
	ec := NewContext("p1", "n1", map[string]string{"K": "v"}, nil)
	ec.Log(models.LogLevelInfo, "hello")
	ec.Message(map[string]any{"chunk": 1})
	assert.Equal(t, "v", ec.Env["K"])
}
