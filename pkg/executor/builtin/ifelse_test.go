package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/models"
)

func condition(left any, op string, right any) map[string]any {
	return map[string]any{"left": left, "op": op, "right": right}
}

func runIfElse(t *testing.T, action map[string]any) (string, error) {
	t.Helper()
	h := NewIfElseHandler()
	out, err := h.Execute(context.Background(), executor.NewContext("p1", "n1", map[string]string{"MODE": "prod"}, nil), action)
	if err != nil {
		return "", err
	}
	m, ok := out.(map[string]any)
	require.True(t, ok)
	return m["branch"].(string), nil
}

func TestIfElseOperators(t *testing.T) {
	tests := []struct {
		name string
		cond map[string]any
		want string
	}{
		{"equals strings", condition("a", OpEquals, "a"), "true"},
		{"equals mismatch", condition("a", OpEquals, "b"), "false"},
		{"equals numeric coercion", condition("42", OpEquals, float64(42)), "true"},
		{"not equals", condition("a", OpNotEquals, "b"), "true"},
		{"greater than numeric", condition(float64(10), OpGreaterThan, "9"), "true"},
		{"greater than string fallback", condition("b", OpGreaterThan, "a"), "true"},
		{"less than", condition("1", OpLessThan, float64(2)), "true"},
		{"contains substring", condition("hello world", OpContains, "world"), "true"},
		{"not contains substring", condition("hello", OpNotContains, "x"), "true"},
		{"contains array element", condition([]any{"a", float64(2)}, OpContains, float64(2)), "true"},
		{"contains array miss", condition([]any{"a"}, OpContains, "b"), "false"},
		{"is empty string", condition("", OpIsEmpty, nil), "true"},
		{"is empty nil", condition(nil, OpIsEmpty, nil), "true"},
		{"is empty array", condition([]any{}, OpIsEmpty, nil), "true"},
		{"is not empty", condition("x", OpIsNotEmpty, nil), "true"},
		{"number is not empty", condition(float64(0), OpIsEmpty, nil), "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			branch, err := runIfElse(t, map[string]any{"conditions": []any{tt.cond}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, branch)
		})
	}
}

func TestIfElseLogic(t *testing.T) {
	trueCond := condition("a", OpEquals, "a")
	falseCond := condition("a", OpEquals, "b")

	branch, err := runIfElse(t, map[string]any{
		"conditions": []any{trueCond, falseCond},
		"logic":      "and",
	})
	require.NoError(t, err)
	assert.Equal(t, "false", branch)

	branch, err = runIfElse(t, map[string]any{
		"conditions": []any{trueCond, falseCond},
		"logic":      "or",
	})
	require.NoError(t, err)
	assert.Equal(t, "true", branch)
}

func TestIfElseContainsOnUnsupportedOperand(t *testing.T) {
	_, err := runIfElse(t, map[string]any{
		"conditions": []any{condition(float64(5), OpContains, float64(5))},
	})
	require.Error(t, err)
	var handlerErr *models.HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, models.HandlerErrCondition, handlerErr.Kind)
}

func TestIfElseExpression(t *testing.T) {
	branch, err := runIfElse(t, map[string]any{"expression": `env["MODE"] == "prod"`})
	require.NoError(t, err)
	assert.Equal(t, "true", branch)

	branch, err = runIfElse(t, map[string]any{"expression": `env["MODE"] == "dev"`})
	require.NoError(t, err)
	assert.Equal(t, "false", branch)
}

func TestIfElseExpressionErrors(t *testing.T) {
	_, err := runIfElse(t, map[string]any{"expression": `1 + `})
	require.Error(t, err)

	_, err = runIfElse(t, map[string]any{"expression": `1 + 1`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a boolean")
}

func TestIfElseValidate(t *testing.T) {
	h := NewIfElseHandler()

	assert.NoError(t, h.Validate(map[string]any{
		"conditions": []any{condition("a", OpEquals, "b")},
	}))
	assert.NoError(t, h.Validate(map[string]any{"expression": "true"}))

	err := h.Validate(map[string]any{})
	assert.Error(t, err)

	err = h.Validate(map[string]any{
		"conditions": []any{condition("a", OpEquals, "b")},
		"expression": "true",
	})
	assert.Contains(t, err.Error(), "mutually exclusive")

	err = h.Validate(map[string]any{
		"conditions": []any{condition("a", "bogus", "b")},
	})
	assert.Contains(t, err.Error(), "unknown op")

	err = h.Validate(map[string]any{
		"conditions": []any{condition("a", OpEquals, "b")},
		"logic":      "xor",
	})
	assert.Contains(t, err.Error(), "unknown logic")
}
