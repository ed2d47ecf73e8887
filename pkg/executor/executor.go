// Package executor provides the handler contract and registry for node
// execution.
//
// Handlers execute individual nodes of a process. Each action kind (the
// node's "uses" value) has a corresponding handler. Custom handlers can be
// registered at runtime alongside the built-ins.
package executor

import (
	"context"
	"fmt"

	"github.com/actflow/actflow/pkg/channel"
	"github.com/actflow/actflow/pkg/models"
)

// Handler is implemented by all node handlers. The action map is the
// node's action payload after template resolution. Handlers must observe
// ctx cancellation and abort outstanding I/O promptly when it fires.
type Handler interface {
	// Execute runs the node and returns its output value.
	Execute(ctx context.Context, ec *Context, action map[string]any) (any, error)

	// Validate validates the action payload without executing it.
	Validate(action map[string]any) error
}

// Context carries per-invocation facilities into a handler: identity, the
// process environment, and log/message sinks backed by the event channel.
type Context struct {
	ProcessID string
	NodeID    string
	Env       map[string]string

	ch *channel.Channel
}

// NewContext builds a handler context. The channel may be nil, in which
// case Log and Message are no-ops; that is how handlers are unit tested.
func NewContext(pid, nid string, env map[string]string, ch *channel.Channel) *Context {
	return &Context{ProcessID: pid, NodeID: nid, Env: env, ch: ch}
}

// Log emits a log event attributed to the running node.
func (c *Context) Log(level models.LogLevel, msg string) {
	if c.ch == nil {
		return
	}
	_ = c.ch.Publish(models.Event{
		Kind:      models.KindLog,
		ProcessID: c.ProcessID,
		NodeID:    c.NodeID,
		Level:     level,
		Text:      msg,
	})
}

// Message emits a message event carrying an intermediate payload, used by
// streaming handlers so subscribers can see partial progress without
// polluting the output map.
func (c *Context) Message(payload any) {
	if c.ch == nil {
		return
	}
	_ = c.ch.Publish(models.Event{
		Kind:      models.KindMessage,
		ProcessID: c.ProcessID,
		NodeID:    c.NodeID,
		Payload:   payload,
	})
}

// HandlerFunc adapts ordinary functions to the Handler interface.
type HandlerFunc struct {
	ExecuteFn  func(ctx context.Context, ec *Context, action map[string]any) (any, error)
	ValidateFn func(action map[string]any) error
}

// Execute calls the ExecuteFn function.
func (f *HandlerFunc) Execute(ctx context.Context, ec *Context, action map[string]any) (any, error) {
	return f.ExecuteFn(ctx, ec, action)
}

// Validate calls the ValidateFn function, if set.
func (f *HandlerFunc) Validate(action map[string]any) error {
	if f.ValidateFn == nil {
		return nil
	}
	return f.ValidateFn(action)
}

// Base provides common action-payload accessors for handlers.
type Base struct {
	Kind string
}

// NewBase creates a Base for the given action kind.
func NewBase(kind string) *Base {
	return &Base{Kind: kind}
}

// RequireString retrieves a mandatory string field.
func (b *Base) RequireString(action map[string]any, key string) (string, error) {
	val, ok := action[key]
	if !ok {
		return "", fmt.Errorf("%s: required field missing: %s", b.Kind, key)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("%s: field %s is not a string", b.Kind, key)
	}
	return str, nil
}

// GetString retrieves a string field with a default.
func (b *Base) GetString(action map[string]any, key, def string) string {
	if str, ok := action[key].(string); ok {
		return str
	}
	return def
}

// GetInt retrieves a numeric field with a default. JSON numbers arrive as
// float64.
func (b *Base) GetInt(action map[string]any, key string, def int) int {
	switch v := action[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// GetBool retrieves a boolean field with a default.
func (b *Base) GetBool(action map[string]any, key string, def bool) bool {
	if v, ok := action[key].(bool); ok {
		return v
	}
	return def
}

// GetMap retrieves an object field, or nil when absent or mistyped.
func (b *Base) GetMap(action map[string]any, key string) map[string]any {
	if m, ok := action[key].(map[string]any); ok {
		return m
	}
	return nil
}

// GetSlice retrieves an array field, or nil when absent or mistyped.
func (b *Base) GetSlice(action map[string]any, key string) []any {
	if s, ok := action[key].([]any); ok {
		return s
	}
	return nil
}
