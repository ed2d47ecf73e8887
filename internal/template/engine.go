package template

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/actflow/actflow/pkg/models"
)

// Engine applies reference substitution to arbitrary JSON values, leaving
// the structure otherwise unchanged.
type Engine struct {
	resolver *Resolver
}

// NewEngine creates a template engine over the given context.
func NewEngine(ctx *Context) *Engine {
	return &Engine{resolver: NewResolver(ctx)}
}

// nodePattern matches node output references like {{#n1.user.name#}}.
// The path part is optional; {{#n1#}} refers to the whole output.
var nodePattern = regexp.MustCompile(`\{\{#([A-Za-z_][A-Za-z0-9_]*)((?:\.[A-Za-z0-9_]+)*)#\}\}`)

// envPattern matches environment references like {{$API_KEY$}}.
var envPattern = regexp.MustCompile(`\{\{\$([A-Za-z_][A-Za-z0-9_]*)\$\}\}`)

// wholeNodePattern and wholeEnvPattern detect leaves that are exactly one
// reference token, which substitute at the referenced value's native type.
var (
	wholeNodePattern = regexp.MustCompile(`^\{\{#([A-Za-z_][A-Za-z0-9_]*)((?:\.[A-Za-z0-9_]+)*)#\}\}$`)
	wholeEnvPattern  = regexp.MustCompile(`^\{\{\$([A-Za-z_][A-Za-z0-9_]*)\$\}\}$`)
)

// Resolve resolves all references in the input value. Maps and slices are
// rebuilt with resolved leaves; non-string scalars pass through untouched.
func (e *Engine) Resolve(data any) (any, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case string:
		return e.resolveString(v)
	case map[string]any:
		return e.ResolveMap(v)
	case []any:
		return e.resolveSlice(v)
	default:
		return data, nil
	}
}

// ResolveMap resolves references in all values of a map. This is the entry
// point used for node action payloads.
func (e *Engine) ResolveMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	result := make(map[string]any, len(m))
	for key, value := range m {
		resolved, err := e.Resolve(value)
		if err != nil {
			return nil, err
		}
		result[key] = resolved
	}
	return result, nil
}

func (e *Engine) resolveSlice(s []any) ([]any, error) {
	result := make([]any, len(s))
	for i, value := range s {
		resolved, err := e.Resolve(value)
		if err != nil {
			return nil, err
		}
		result[i] = resolved
	}
	return result, nil
}

// resolveString substitutes references within a single string leaf. A leaf
// that is exactly one reference keeps the referenced value's native type;
// embedded references are stringified and spliced in.
func (e *Engine) resolveString(s string) (any, error) {
	if m := wholeNodePattern.FindStringSubmatch(s); m != nil {
		value, err := e.resolver.ResolveNode(m[1], trimLeadingDot(m[2]))
		if err != nil {
			return nil, &models.UnresolvedReferenceError{Token: s, Reason: err.Error()}
		}
		return value, nil
	}
	if m := wholeEnvPattern.FindStringSubmatch(s); m != nil {
		value, err := e.resolver.ResolveEnv(m[1])
		if err != nil {
			return nil, &models.UnresolvedReferenceError{Token: s, Reason: err.Error()}
		}
		return value, nil
	}

	var resolveErr error

	result := nodePattern.ReplaceAllStringFunc(s, func(match string) string {
		if resolveErr != nil {
			return match
		}
		groups := nodePattern.FindStringSubmatch(match)
		value, err := e.resolver.ResolveNode(groups[1], trimLeadingDot(groups[2]))
		if err != nil {
			resolveErr = &models.UnresolvedReferenceError{Token: match, Reason: err.Error()}
			return match
		}
		return stringify(value)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}

	result = envPattern.ReplaceAllStringFunc(result, func(match string) string {
		if resolveErr != nil {
			return match
		}
		groups := envPattern.FindStringSubmatch(match)
		value, err := e.resolver.ResolveEnv(groups[1])
		if err != nil {
			resolveErr = &models.UnresolvedReferenceError{Token: match, Reason: err.Error()}
			return match
		}
		return value
	})
	if resolveErr != nil {
		return nil, resolveErr
	}

	return result, nil
}

func trimLeadingDot(path string) string {
	if len(path) > 0 && path[0] == '.' {
		return path[1:]
	}
	return path
}

// stringify renders a referenced value for splicing into a larger string:
// strings raw, everything else compact JSON.
func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
