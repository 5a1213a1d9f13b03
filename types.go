package shiko

import (
	"time"

	"github.com/google/uuid"
)

// FinalizedRun is the public representation of a run whose best path has
// just been extracted. It is a curated view of the controller's result for
// use in extension interfaces. No internal package imports: safe to use from
// outside the module.
type FinalizedRun struct {
	RunID            uuid.UUID
	TaskPrompt       string
	Mode             string // "regular" or "enforced"
	ExplorationLevel string // empty for regular runs
	NodeBudget       int
	NodesExplored    int
	Iterations       int

	FinalAnswer string
	Confidence  float64
	IsTerminal  bool
	Chain       []PathStep // root first

	// ValidationIssues lists advisory findings for enforced runs.
	ValidationIssues []string
	FinalizedAt      time.Time
}

// PathStep is one node on the extracted path.
type PathStep struct {
	NodeID  uuid.UUID
	Depth   int
	Thought string
	Score   float64
}
