package builtin

import (
	"context"
	"errors"

	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/models"
)

// AgentChunk is one element of a remote agent's response stream.
type AgentChunk struct {
	Kind    string
	Level   models.LogLevel
	Text    string
	Payload any
	Result  any
	Err     error
}

// Agent chunk kinds.
const (
	ChunkLog     = "log"
	ChunkMessage = "message"
	ChunkResult  = "result"
)

// AgentClient is the remote invocation transport behind agent nodes,
// typically a gRPC client. The stream ends after the result chunk.
type AgentClient interface {
	Invoke(ctx context.Context, endpoint string, request map[string]any, stream bool) (<-chan AgentChunk, error)
}

// AgentHandler executes agent nodes. With stream enabled, intermediate
// log and message chunks are forwarded to subscribers through the handler
// context; the final aggregate result becomes the node output either way.
type AgentHandler struct {
	*executor.Base
	client AgentClient
}

// NewAgentHandler creates an agent handler backed by the given client.
func NewAgentHandler(client AgentClient) *AgentHandler {
	return &AgentHandler{
		Base:   executor.NewBase(models.UsesAgent),
		client: client,
	}
}

// Execute invokes the remote agent and drains its chunk stream.
func (h *AgentHandler) Execute(ctx context.Context, ec *executor.Context, action map[string]any) (any, error) {
	if h.client == nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrAgent, Detail: "no agent client configured"}
	}

	endpoint, err := h.RequireString(action, "endpoint")
	if err != nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrConfig, Detail: err.Error()}
	}
	request := h.GetMap(action, "request")
	stream := h.GetBool(action, "stream", false)

	chunks, err := h.client.Invoke(ctx, endpoint, request, stream)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, models.ErrCancelled
		}
		return nil, &models.HandlerError{Kind: models.HandlerErrAgent, Detail: "invoke failed", Err: err}
	}

	var result any
	haveResult := false
	for {
		select {
		case <-ctx.Done():
			return nil, models.ErrCancelled
		case chunk, ok := <-chunks:
			if !ok {
				if !haveResult {
					return nil, &models.HandlerError{Kind: models.HandlerErrAgent, Detail: "stream ended without a result"}
				}
				return result, nil
			}
			if chunk.Err != nil {
				return nil, &models.HandlerError{Kind: models.HandlerErrAgent, Detail: "agent error", Err: chunk.Err}
			}
			switch chunk.Kind {
			case ChunkLog:
				if stream {
					ec.Log(chunk.Level, chunk.Text)
				}
			case ChunkMessage:
				if stream {
					ec.Message(chunk.Payload)
				}
			case ChunkResult:
				result = chunk.Result
				haveResult = true
			}
		}
	}
}

// Validate checks the action payload shape.
func (h *AgentHandler) Validate(action map[string]any) error {
	_, err := h.RequireString(action, "endpoint")
	return err
}
