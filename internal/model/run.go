package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/shiko/internal/scoring"
)

// RunMode selects whether a run is subject to minimum-effort enforcement.
type RunMode string

const (
	ModeRegular  RunMode = "regular"
	ModeEnforced RunMode = "enforced"
)

// ParseRunMode maps a caller-supplied mode string to a RunMode.
// An empty string means regular.
func ParseRunMode(s string) (RunMode, bool) {
	switch RunMode(s) {
	case "", ModeRegular:
		return ModeRegular, true
	case ModeEnforced:
		return ModeEnforced, true
	default:
		return "", false
	}
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
)

// RunConfig holds the resolved search parameters of a run. Once a run is
// created its config never changes.
type RunConfig struct {
	BeamWidth        int             `json:"beam_width"`
	FanOut           int             `json:"n_generate"`
	MaxDepth         int             `json:"max_depth"`
	NodeBudget       int             `json:"node_budget"`
	TargetScore      float64         `json:"target_score"`
	ExplorationLevel string          `json:"exploration_level,omitempty"`
	MinRequiredNodes int             `json:"min_required_nodes"`
	Weights          scoring.Weights `json:"weights"`
}

// Run is one search session. It exclusively owns its nodes.
type Run struct {
	ID          uuid.UUID           `json:"run_id"`
	TaskPrompt  string              `json:"task_prompt"`
	Mode        RunMode             `json:"mode"`
	Config      RunConfig           `json:"config"`
	Constraints []string            `json:"constraints"`
	CreatedAt   time.Time           `json:"created_at"`
	Status      RunStatus           `json:"status"`
	RootID      uuid.UUID           `json:"root_id"`
	BestNodeID  *uuid.UUID          `json:"best_node_id,omitempty"`
	Iterations  int                 `json:"iterations"`
	Nodes       map[uuid.UUID]*Node `json:"-"`
	order       []uuid.UUID
}

// NewRun builds a run with its root node already in place. The root thought
// carries the first 100 runes of the prompt.
func NewRun(prompt string, mode RunMode, cfg RunConfig, constraints []string, now time.Time) *Run {
	if constraints == nil {
		constraints = []string{}
	}
	r := &Run{
		ID:          uuid.New(),
		TaskPrompt:  prompt,
		Mode:        mode,
		Config:      cfg,
		Constraints: constraints,
		CreatedAt:   now,
		Status:      RunStatusActive,
		Nodes:       make(map[uuid.UUID]*Node),
	}
	root := &Node{
		ID:      uuid.New(),
		RunID:   r.ID,
		Depth:   0,
		Thought: "ROOT: " + truncateRunes(prompt, 100),
		Score:   RootScore,
		Status:  NodeStatusActive,
		Delta:   map[string]any{"constraints": constraints},
	}
	r.RootID = root.ID
	r.insert(root)
	return r
}

// RootScore is the neutral score given to every root node.
const RootScore = 0.5

// Enforced reports whether the run is in enforced mode.
func (r *Run) Enforced() bool { return r.Mode == ModeEnforced }

// NodeCount is the number of nodes in the run, root included.
func (r *Run) NodeCount() int { return len(r.Nodes) }

// Root returns the root node.
func (r *Run) Root() *Node { return r.Nodes[r.RootID] }

// Node looks up a node by id.
func (r *Run) Node(id uuid.UUID) (*Node, bool) {
	n, ok := r.Nodes[id]
	return n, ok
}

// OrderedNodes returns the run's nodes in insertion order.
func (r *Run) OrderedNodes() []*Node {
	out := make([]*Node, 0, len(r.order))
	for _, id := range r.order {
		if n, ok := r.Nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// AddChild attaches a new node under parent. The caller holds the run's lock
// and has already checked budget and depth.
func (r *Run) AddChild(parent *Node, thought string, score float64, status NodeStatus, eval Evaluation, delta map[string]any) *Node {
	if delta == nil {
		delta = map[string]any{}
	}
	pid := parent.ID
	n := &Node{
		ID:         uuid.New(),
		RunID:      r.ID,
		ParentID:   &pid,
		Depth:      parent.Depth + 1,
		Thought:    thought,
		Score:      score,
		Status:     status,
		Delta:      delta,
		Evaluation: &eval,
	}
	r.insert(n)
	parent.Children = append(parent.Children, n.ID)
	return n
}

// MaxNodeDepth is the deepest depth reached by any node.
func (r *Run) MaxNodeDepth() int {
	depth := 0
	for _, n := range r.Nodes {
		if n.Depth > depth {
			depth = n.Depth
		}
	}
	return depth
}

// Snapshot returns a deep copy safe to hand to callers outside the run lock.
func (r *Run) Snapshot() *Run {
	cp := *r
	cp.Constraints = append([]string(nil), r.Constraints...)
	if r.BestNodeID != nil {
		id := *r.BestNodeID
		cp.BestNodeID = &id
	}
	cp.Nodes = make(map[uuid.UUID]*Node, len(r.Nodes))
	for id, n := range r.Nodes {
		cp.Nodes[id] = n.Clone()
	}
	cp.order = append([]uuid.UUID(nil), r.order...)
	return &cp
}

func (r *Run) insert(n *Node) {
	r.Nodes[n.ID] = n
	r.order = append(r.order, n.ID)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// TruncatePrompt shortens s to limit runes, appending "..." when cut.
func TruncatePrompt(s string, limit int) string {
	if len([]rune(s)) <= limit {
		return s
	}
	return truncateRunes(s, limit) + "..."
}
