package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/models"
)

// Condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
)

// IfElseHandler evaluates a condition set and routes execution to the
// "true" or "false" outbound handle.
//
// Two action forms are supported. The primary form is a conditions list:
//
//	{"conditions": [{"left": ..., "op": "equals", "right": ...}], "logic": "and"}
//
// Alternatively an "expression" string is compiled and run with
// expr-lang; the process environment is exposed as `env`. The two forms
// are mutually exclusive.
type IfElseHandler struct {
	*executor.Base
}

// NewIfElseHandler creates a new conditional handler.
func NewIfElseHandler() *IfElseHandler {
	return &IfElseHandler{Base: executor.NewBase(models.UsesIfElse)}
}

// Execute evaluates the action and returns {branch: "true"|"false"}.
func (h *IfElseHandler) Execute(ctx context.Context, ec *executor.Context, action map[string]any) (any, error) {
	result, err := h.evaluate(ec, action)
	if err != nil {
		return nil, err
	}

	branch := models.HandleFalse
	if result {
		branch = models.HandleTrue
	}
	return map[string]any{"branch": branch}, nil
}

// Validate checks operators and the conditions/expression exclusivity.
func (h *IfElseHandler) Validate(action map[string]any) error {
	_, hasExpression := action["expression"]
	conditions := h.GetSlice(action, "conditions")

	if hasExpression && conditions != nil {
		return fmt.Errorf("if_else: conditions and expression are mutually exclusive")
	}
	if !hasExpression && conditions == nil {
		return fmt.Errorf("if_else: conditions or expression is required")
	}

	for i, raw := range conditions {
		cond, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("if_else: condition %d is not an object", i)
		}
		op, _ := cond["op"].(string)
		if !validOp(op) {
			return fmt.Errorf("if_else: condition %d has unknown op %q", i, op)
		}
	}

	switch logic := h.GetString(action, "logic", "and"); logic {
	case "and", "or":
	default:
		return fmt.Errorf("if_else: unknown logic %q", logic)
	}
	return nil
}

func (h *IfElseHandler) evaluate(ec *executor.Context, action map[string]any) (bool, error) {
	if expression, ok := action["expression"].(string); ok {
		return h.evaluateExpression(ec, expression)
	}

	conditions := h.GetSlice(action, "conditions")
	if conditions == nil {
		return false, &models.HandlerError{Kind: models.HandlerErrCondition, Detail: "conditions or expression is required"}
	}

	logic := h.GetString(action, "logic", "and")
	results := make([]bool, 0, len(conditions))
	for i, raw := range conditions {
		cond, ok := raw.(map[string]any)
		if !ok {
			return false, &models.HandlerError{Kind: models.HandlerErrCondition, Detail: fmt.Sprintf("condition %d is not an object", i)}
		}
		op, _ := cond["op"].(string)
		result, err := evaluateCondition(cond["left"], op, cond["right"])
		if err != nil {
			return false, &models.HandlerError{Kind: models.HandlerErrCondition, Detail: fmt.Sprintf("condition %d: %v", i, err)}
		}
		results = append(results, result)
	}

	if logic == "or" {
		for _, r := range results {
			if r {
				return true, nil
			}
		}
		return false, nil
	}
	for _, r := range results {
		if !r {
			return false, nil
		}
	}
	return len(results) > 0, nil
}

// evaluateExpression compiles and runs an expr-lang expression against the
// process environment.
func (h *IfElseHandler) evaluateExpression(ec *executor.Context, expression string) (bool, error) {
	env := map[string]any{
		"env": envAsAny(ec),
	}
	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return false, &models.HandlerError{Kind: models.HandlerErrCondition, Detail: fmt.Sprintf("failed to compile expression: %v", err)}
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, &models.HandlerError{Kind: models.HandlerErrCondition, Detail: fmt.Sprintf("failed to run expression: %v", err)}
	}
	result, ok := output.(bool)
	if !ok {
		return false, &models.HandlerError{Kind: models.HandlerErrCondition, Detail: fmt.Sprintf("expression result is not a boolean: %v", output)}
	}
	return result, nil
}

func envAsAny(ec *executor.Context) map[string]any {
	env := make(map[string]any)
	if ec == nil {
		return env
	}
	for k, v := range ec.Env {
		env[k] = v
	}
	return env
}

// evaluateCondition applies one operator. Numeric comparisons are
// attempted first; operands that don't both parse as numbers fall back to
// string comparison.
func evaluateCondition(left any, op string, right any) (bool, error) {
	switch op {
	case OpEquals, OpNotEquals:
		eq := operandsEqual(left, right)
		if op == OpNotEquals {
			return !eq, nil
		}
		return eq, nil

	case OpGreaterThan, OpLessThan:
		lf, lok := toNumber(left)
		rf, rok := toNumber(right)
		if lok && rok {
			if op == OpGreaterThan {
				return lf > rf, nil
			}
			return lf < rf, nil
		}
		ls, rs := operandString(left), operandString(right)
		if op == OpGreaterThan {
			return ls > rs, nil
		}
		return ls < rs, nil

	case OpContains, OpNotContains:
		contains, err := operandContains(left, right)
		if err != nil {
			return false, err
		}
		if op == OpNotContains {
			return !contains, nil
		}
		return contains, nil

	case OpIsEmpty:
		return operandEmpty(left), nil
	case OpIsNotEmpty:
		return !operandEmpty(left), nil

	default:
		return false, fmt.Errorf("unknown op %q", op)
	}
}

func operandsEqual(left, right any) bool {
	if lf, lok := toNumber(left); lok {
		if rf, rok := toNumber(right); rok {
			return lf == rf
		}
	}
	return operandString(left) == operandString(right)
}

// operandContains defines contains for strings (substring) and arrays
// (element equality). Any other operand type is a condition error.
func operandContains(left, right any) (bool, error) {
	switch l := left.(type) {
	case string:
		return strings.Contains(l, operandString(right)), nil
	case []any:
		for _, item := range l {
			if operandsEqual(item, right) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("contains requires a string or array left operand, got %T", left)
	}
}

func operandEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func operandString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func validOp(op string) bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpNotContains,
		OpGreaterThan, OpLessThan, OpIsEmpty, OpIsNotEmpty:
		return true
	}
	return false
}
