package builtin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actflow/actflow/pkg/channel"
	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/models"
)

type stubAgent struct {
	chunks      []AgentChunk
	err         error
	gotEndpoint string
	gotStream   bool
}

func (a *stubAgent) Invoke(ctx context.Context, endpoint string, request map[string]any, stream bool) (<-chan AgentChunk, error) {
	a.gotEndpoint = endpoint
	a.gotStream = stream
	if a.err != nil {
		return nil, a.err
	}
	out := make(chan AgentChunk, len(a.chunks))
	for _, c := range a.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func TestAgentHandlerStreamForwardsChunks(t *testing.T) {
	agent := &stubAgent{chunks: []AgentChunk{
		{Kind: ChunkLog, Level: models.LogLevelInfo, Text: "thinking"},
		{Kind: ChunkMessage, Payload: map[string]any{"partial": "a"}},
		{Kind: ChunkResult, Result: map[string]any{"answer": float64(42)}},
	}}
	h := NewAgentHandler(agent)

	ch := channel.New()
	defer ch.Close()
	sub := ch.Subscribe(channel.Filter{ProcessID: "p1"})
	ec := executor.NewContext("p1", "n1", nil, ch)

	out, err := h.Execute(context.Background(), ec, map[string]any{
		"endpoint": "agent.local:9000",
		"request":  map[string]any{"q": "meaning"},
		"stream":   true,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": float64(42)}, out)
	assert.Equal(t, "agent.local:9000", agent.gotEndpoint)
	assert.True(t, agent.gotStream)

	var kinds []models.EventKind
	deadline := time.After(5 * time.Second)
	for len(kinds) < 2 {
		select {
		case ev := <-sub.Events():
			kinds = append(kinds, ev.Kind)
		case <-deadline:
			t.Fatal("streamed events were not forwarded")
		}
	}
	assert.Equal(t, []models.EventKind{models.KindLog, models.KindMessage}, kinds)
}

func TestAgentHandlerNonStreamSwallowsIntermediate(t *testing.T) {
	agent := &stubAgent{chunks: []AgentChunk{
		{Kind: ChunkLog, Level: models.LogLevelInfo, Text: "noisy"},
		{Kind: ChunkResult, Result: "done"},
	}}
	h := NewAgentHandler(agent)

	ch := channel.New()
	defer ch.Close()
	sub := ch.Subscribe(channel.Filter{ProcessID: "p1", Kinds: []models.EventKind{models.KindLog, models.KindMessage}})
	ec := executor.NewContext("p1", "n1", nil, ch)

	out, err := h.Execute(context.Background(), ec, map[string]any{"endpoint": "e"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected forwarded event %s", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAgentHandlerErrors(t *testing.T) {
	h := NewAgentHandler(&stubAgent{err: errors.New("connection refused")})
	_, err := h.Execute(context.Background(), nil, map[string]any{"endpoint": "e"})
	var handlerErr *models.HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, models.HandlerErrAgent, handlerErr.Kind)

	h = NewAgentHandler(&stubAgent{chunks: []AgentChunk{{Kind: ChunkLog}}})
	_, err = h.Execute(context.Background(), nil, map[string]any{"endpoint": "e"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a result")

	h = NewAgentHandler(&stubAgent{chunks: []AgentChunk{{Err: errors.New("remote blew up")}}})
	_, err = h.Execute(context.Background(), nil, map[string]any{"endpoint": "e"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent error")

	h = NewAgentHandler(nil)
	_, err = h.Execute(context.Background(), nil, map[string]any{"endpoint": "e"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no agent client configured")
}
