// Package engine provides the process execution engine: the façade that
// deploys workflows and launches processes, and the dispatcher that drives
// node execution over a bounded worker pool.
package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/store"
)

// Default tuning values.
const (
	// DefaultWorkers is the worker pool size bounding concurrent handler
	// invocations across all processes.
	DefaultWorkers = 16

	// DefaultCancelGrace is how long running handlers get to observe
	// cancellation before their tasks are failed with a grace-period error.
	DefaultCancelGrace = 5 * time.Second
)

// Config configures an Engine.
type Config struct {
	// Workers bounds concurrent handler invocations. Zero means
	// DefaultWorkers.
	Workers int

	// CancelGrace is the cancellation grace period. Zero means
	// DefaultCancelGrace.
	CancelGrace time.Duration

	// Store persists workflows, processes and tasks. Nil means an
	// in-memory store.
	Store store.Store

	// Registry maps action kinds to handlers. Nil means a registry with
	// only the built-in handlers and default collaborators.
	Registry *executor.Registry

	// QueueSize overrides the channel's per-subscription queue bound.
	QueueSize int

	// Logger is the structured logger for engine diagnostics.
	Logger zerolog.Logger
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     DefaultWorkers,
		CancelGrace: DefaultCancelGrace,
		Logger:      zerolog.Nop(),
	}
}
