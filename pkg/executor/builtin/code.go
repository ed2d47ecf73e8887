package builtin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/models"
)

// Sandbox is the external script runtime behind code nodes. The engine
// never runs user scripts in-process.
type Sandbox interface {
	// Eval runs source in the given language with named inputs bound, and
	// returns the script's JSON-compatible result. It must honour ctx
	// cancellation and the timeout bound.
	Eval(ctx context.Context, language, source string, inputs map[string]any, timeout time.Duration) (any, error)
}

// Supported script languages.
const (
	LanguageJavaScript = "javascript"
	LanguagePython     = "python"
)

// DefaultCodeTimeout bounds script execution when the action carries no
// timeout field.
const DefaultCodeTimeout = 30 * time.Second

// CodeHandler executes code nodes through the sandbox collaborator.
type CodeHandler struct {
	*executor.Base
	sandbox Sandbox
}

// NewCodeHandler creates a code handler backed by the given sandbox.
func NewCodeHandler(sandbox Sandbox) *CodeHandler {
	return &CodeHandler{
		Base:    executor.NewBase(models.UsesCode),
		sandbox: sandbox,
	}
}

// Execute evaluates the script and returns whatever JSON value it produced.
func (h *CodeHandler) Execute(ctx context.Context, ec *executor.Context, action map[string]any) (any, error) {
	if h.sandbox == nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrSandbox, Detail: "no sandbox configured"}
	}

	language, err := h.RequireString(action, "language")
	if err != nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrConfig, Detail: err.Error()}
	}
	if language != LanguageJavaScript && language != LanguagePython {
		return nil, &models.HandlerError{Kind: models.HandlerErrConfig, Detail: fmt.Sprintf("unsupported language %q", language)}
	}
	source, err := h.RequireString(action, "source")
	if err != nil {
		return nil, &models.HandlerError{Kind: models.HandlerErrConfig, Detail: err.Error()}
	}

	timeout := DefaultCodeTimeout
	if ms := h.GetInt(action, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	output, err := h.sandbox.Eval(ctx, language, source, h.GetMap(action, "inputs"), timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return nil, models.ErrCancelled
		}
		return nil, &models.HandlerError{Kind: models.HandlerErrSandbox, Detail: "script evaluation failed", Err: err}
	}
	return output, nil
}

// Validate checks the action payload shape.
func (h *CodeHandler) Validate(action map[string]any) error {
	language, err := h.RequireString(action, "language")
	if err != nil {
		return err
	}
	if language != LanguageJavaScript && language != LanguagePython {
		return fmt.Errorf("code: unsupported language %q", language)
	}
	_, err = h.RequireString(action, "source")
	return err
}
