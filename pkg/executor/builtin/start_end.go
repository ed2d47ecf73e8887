// Package builtin provides the built-in handler implementations.
package builtin

import (
	"context"

	"github.com/actflow/actflow/pkg/executor"
)

// StartHandler is the entry node of every workflow. It succeeds
// immediately with an empty output.
type StartHandler struct{}

// NewStartHandler creates a new start handler.
func NewStartHandler() *StartHandler {
	return &StartHandler{}
}

// Execute returns an empty output.
func (h *StartHandler) Execute(ctx context.Context, ec *executor.Context, action map[string]any) (any, error) {
	return map[string]any{}, nil
}

// Validate accepts any action payload; start nodes carry none.
func (h *StartHandler) Validate(action map[string]any) error {
	return nil
}

// EndHandler terminates a process successfully. An optional "value" field
// is passed through as the terminal output.
type EndHandler struct{}

// NewEndHandler creates a new end handler.
func NewEndHandler() *EndHandler {
	return &EndHandler{}
}

// Execute returns {value: ...} when the action carries a value, otherwise
// an empty output.
func (h *EndHandler) Execute(ctx context.Context, ec *executor.Context, action map[string]any) (any, error) {
	if value, ok := action["value"]; ok {
		return map[string]any{"value": value}, nil
	}
	return map[string]any{}, nil
}

// Validate accepts any action payload.
func (h *EndHandler) Validate(action map[string]any) error {
	return nil
}
