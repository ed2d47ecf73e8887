// Package template resolves output and environment references embedded in
// node action values.
//
// Two reference forms are supported, applied leaf-by-leaf to string scalars:
//   - {{#nodeId.path#}} looks up the node's output and walks the dot path
//   - {{$VAR$}} looks up the process environment
//
// A string leaf that consists of a single reference token is replaced by the
// referenced value at its native JSON type. A reference embedded in a larger
// string is stringified (compact JSON for non-strings) and spliced in.
// Unresolved references never substitute an empty string; they fail
// resolution with an error identifying the token.
package template

import (
	"errors"
)

// Common resolution errors.
var (
	ErrVariableNotFound  = errors.New("variable not found")
	ErrInvalidPath       = errors.New("invalid path")
	ErrTypeNotSupported  = errors.New("type not supported for path traversal")
	ErrArrayOutOfBounds  = errors.New("array index out of bounds")
	ErrArrayIndexInvalid = errors.New("invalid array index")
)

// Context holds the data a resolution pass reads: a snapshot of the
// process's output map and the resolved environment. The snapshot is taken
// once, immediately before handler invocation.
type Context struct {
	// Outputs maps node ID to that node's completed output.
	Outputs map[string]any

	// Env is the process environment: workflow env overlaid by runtime
	// overrides.
	Env map[string]string
}

// NewContext creates a resolution context over the given snapshot.
func NewContext(outputs map[string]any, env map[string]string) *Context {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	if env == nil {
		env = make(map[string]string)
	}
	return &Context{Outputs: outputs, Env: env}
}
