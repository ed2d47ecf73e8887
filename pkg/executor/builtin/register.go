package builtin

import (
	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/models"
)

// Deps holds the external collaborators built-in handlers depend on. Nil
// fields fall back to sensible defaults (HTTP) or fail at execution time
// with a handler error of kind sandbox or agent.
type Deps struct {
	HTTPClient Doer
	Sandbox    Sandbox
	Agent      AgentClient
}

// Register registers all built-in handlers on the registry.
func Register(r *executor.Registry, deps Deps) error {
	handlers := map[string]executor.Handler{
		models.UsesStart:       NewStartHandler(),
		models.UsesEnd:         NewEndHandler(),
		models.UsesHTTPRequest: NewHTTPHandler(deps.HTTPClient),
		models.UsesIfElse:      NewIfElseHandler(),
		models.UsesCode:        NewCodeHandler(deps.Sandbox),
		models.UsesAgent:       NewAgentHandler(deps.Agent),
		models.UsesLLM:         NewLLMHandler(),
	}
	for uses, handler := range handlers {
		if err := r.Register(uses, handler); err != nil {
			return err
		}
	}
	return nil
}
