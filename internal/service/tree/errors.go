package tree

import (
	"errors"
	"fmt"

	"github.com/ashita-ai/shiko/internal/storage"
)

var (
	// ErrNotFound is returned for an unknown run id. It wraps storage.ErrNotFound.
	ErrNotFound = fmt.Errorf("tree: run %w", storage.ErrNotFound)

	// ErrEmptyFrontier means the run has no active nodes left. This is the
	// normal end of a search loop, not a fault.
	ErrEmptyFrontier = errors.New("tree: no active nodes to expand")

	// ErrEmptyRun is returned when a run has no nodes at all.
	ErrEmptyRun = errors.New("tree: run has no nodes")
)

// ValidationError reports malformed input. No state is changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "tree: " + e.Message
	}
	return fmt.Sprintf("tree: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// EnforcementNotMetError is returned when an enforced run is finalized
// before it has consumed its minimum node count.
type EnforcementNotMetError struct {
	Level         string
	NodesUsed     int
	NodesRequired int
}

func (e *EnforcementNotMetError) Error() string {
	return fmt.Sprintf("tree: minimum exploration not met for %s level: %d/%d nodes (%d more required)",
		e.Level, e.NodesUsed, e.NodesRequired, e.Shortfall())
}

// Shortfall is the number of nodes still needed before finalization.
func (e *EnforcementNotMetError) Shortfall() int {
	if d := e.NodesRequired - e.NodesUsed; d > 0 {
		return d
	}
	return 0
}

// notFound normalizes storage misses into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
