package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Resolver walks dot paths through node outputs with array index support.
type Resolver struct {
	context *Context
}

// NewResolver creates a new path resolver over the given context.
func NewResolver(ctx *Context) *Resolver {
	return &Resolver{context: ctx}
}

// ResolveNode resolves a node output reference. path is the dot-separated
// segment list after the node ID; it may be empty, in which case the whole
// output is returned.
func (r *Resolver) ResolveNode(nodeID, path string) (any, error) {
	root, ok := r.context.Outputs[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: no output for node %q", ErrVariableNotFound, nodeID)
	}
	if path == "" {
		return root, nil
	}
	return r.traverse(root, strings.Split(path, "."))
}

// ResolveEnv resolves an environment variable reference.
func (r *Resolver) ResolveEnv(name string) (string, error) {
	value, ok := r.context.Env[name]
	if !ok {
		return "", fmt.Errorf("%w: no env var %q", ErrVariableNotFound, name)
	}
	return value, nil
}

// traverse walks the path segments through maps and slices. Numeric
// segments index arrays; other segments select object keys.
func (r *Resolver) traverse(value any, parts []string) (any, error) {
	current := value

	for _, part := range parts {
		if index, err := strconv.Atoi(part); err == nil {
			element, err := indexSlice(current, index)
			if err != nil {
				return nil, err
			}
			current = element
			continue
		}

		m, ok := asMap(current)
		if !ok {
			return nil, fmt.Errorf("%w: cannot take key %q of %T", ErrTypeNotSupported, part, current)
		}
		next, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("%w: key %q", ErrInvalidPath, part)
		}
		current = next
	}

	return current, nil
}

// indexSlice applies a numeric segment to an array value.
func indexSlice(value any, index int) (any, error) {
	s, ok := asSlice(value)
	if !ok {
		return nil, fmt.Errorf("%w: cannot index %T", ErrTypeNotSupported, value)
	}
	if index < 0 || index >= len(s) {
		return nil, fmt.Errorf("%w: index %d, length %d", ErrArrayOutOfBounds, index, len(s))
	}
	return s[index], nil
}

// asMap coerces a value into map[string]any, round-tripping through JSON
// for struct-typed handler outputs.
func asMap(value any) (map[string]any, bool) {
	if m, ok := value.(map[string]any); ok {
		return m, true
	}
	generic, ok := jsonRoundTrip(value)
	if !ok {
		return nil, false
	}
	m, ok := generic.(map[string]any)
	return m, ok
}

// asSlice coerces a value into []any, round-tripping through JSON when the
// concrete type is something else.
func asSlice(value any) ([]any, bool) {
	if s, ok := value.([]any); ok {
		return s, true
	}
	generic, ok := jsonRoundTrip(value)
	if !ok {
		return nil, false
	}
	s, ok := generic.([]any)
	return s, ok
}

func jsonRoundTrip(value any) (any, bool) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, false
	}
	return generic, true
}
