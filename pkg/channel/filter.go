package channel

import (
	"github.com/actflow/actflow/pkg/models"
)

// Filter selects which events a subscription receives. Zero-value fields
// are wildcards; set fields combine with AND semantics.
type Filter struct {
	// ProcessID restricts events to a single process.
	ProcessID string

	// NodeIDs restricts node-scoped events to the given nodes. Events
	// without a node ID (process lifecycle, process-level logs) always pass.
	NodeIDs []string

	// Kinds restricts events to the given variants.
	Kinds []models.EventKind
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(ev models.Event) bool {
	if f.ProcessID != "" && ev.ProcessID != f.ProcessID {
		return false
	}

	if len(f.NodeIDs) > 0 && ev.NodeID != "" {
		found := false
		for _, id := range f.NodeIDs {
			if id == ev.NodeID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Kinds) > 0 {
		found := false
		for _, kind := range f.Kinds {
			if kind == ev.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
