package tree

import (
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/shiko/internal/enforcement"
	"github.com/ashita-ai/shiko/internal/model"
)

// Override limits. Values outside these ranges are rejected at StartRun.
const (
	MinBeamWidth   = 1
	MaxBeamWidth   = 10
	MinFanOut      = 1
	MaxFanOut      = 5
	MinMaxDepth    = 1
	MaxMaxDepth    = 20
	MinNodeBudget  = 2
	MaxNodeBudget  = 1000
	MinPromptRunes = 5

	// DefaultListLimit is how many runs ListRuns returns when no limit is given.
	DefaultListLimit = 10
	// listPromptRunes is how much of each task prompt ListRuns shows.
	listPromptRunes = 50
)

// Overrides replace individual preset or default parameters. Nil fields
// keep the resolved value.
type Overrides struct {
	BeamWidth   *int
	FanOut      *int
	MaxDepth    *int
	NodeBudget  *int
	TargetScore *float64
}

// StartInput contains what is needed to create a run.
type StartInput struct {
	TaskPrompt       string
	Mode             string
	ExplorationLevel string
	Constraints      []string
	Overrides        Overrides
}

// StartResult describes a newly created run.
type StartResult struct {
	RunID            uuid.UUID                   `json:"run_id"`
	RootNodeID       uuid.UUID                   `json:"root_node_id"`
	Mode             model.RunMode               `json:"mode"`
	Config           model.RunConfig             `json:"config"`
	MinRequiredNodes int                         `json:"min_required_nodes,omitempty"`
	Strategies       []string                    `json:"candidate_strategies,omitempty"`
	RootGuideline    *enforcement.DepthGuideline `json:"root_guideline,omitempty"`
	Message          string                      `json:"message"`
}

// FrontierNode is one node handed to the caller for expansion.
type FrontierNode struct {
	NodeID        uuid.UUID `json:"node_id"`
	Depth         int       `json:"depth"`
	Thought       string    `json:"thought"`
	Score         float64   `json:"score"`
	NumCandidates int       `json:"n_candidates"`
}

// FrontierGuidance is attached to frontiers of enforced runs.
type FrontierGuidance struct {
	Level               string                       `json:"level"`
	NodesUsed           int                          `json:"nodes_used"`
	NodesRequired       int                          `json:"nodes_required"`
	RequirementMet      bool                         `json:"requirement_met"`
	Depth               int                          `json:"depth"`
	DepthGuideline      enforcement.DepthGuideline   `json:"depth_guideline"`
	ScoringGuideline    enforcement.ScoringGuideline `json:"scoring_guideline"`
	CandidateStrategies []string                     `json:"candidate_strategies"`
}

// Frontier is the result of RequestSamples.
type Frontier struct {
	RunID     uuid.UUID         `json:"run_id"`
	Iteration int               `json:"iteration"`
	Nodes     []FrontierNode    `json:"nodes"`
	Guidance  *FrontierGuidance `json:"enforcement,omitempty"`
}

// Submission statuses.
const (
	SubmitRunning = "running"
	SubmitStopped = "stopped"

	StopBudgetExhausted = "budget_exhausted"
)

// Reasons a candidate or group was not turned into a node.
const (
	SkipParentNotFound  = "parent_not_found"
	SkipMaxDepthReached = "max_depth_reached"
	SkipMalformed       = "malformed_candidate"
	SkipMissingThought  = "missing_thought"
	SkipMissingEstimate = "missing_estimate"
	SkipEstimateRange   = "estimate_out_of_range"
	SkipTextTooLong     = "text_too_long"
	SkipNoCandidates    = "no_candidates"

	groupOutcomeIndex = -1
)

// Outcome records what happened to one candidate, or to a whole group when
// Index is -1.
type Outcome struct {
	ParentID   string           `json:"parent_node_id"`
	Index      int              `json:"index"`
	Created    bool             `json:"created"`
	NodeID     *uuid.UUID       `json:"node_id,omitempty"`
	Score      float64          `json:"score,omitempty"`
	NodeStatus model.NodeStatus `json:"node_status,omitempty"`
	SkipReason string           `json:"skip_reason,omitempty"`
	Detail     string           `json:"detail,omitempty"`
}

// SubmitResult is the result of SubmitSamples.
type SubmitResult struct {
	RunID         uuid.UUID           `json:"run_id"`
	NodesExpanded int                 `json:"nodes_expanded"`
	NodesPruned   int                 `json:"nodes_pruned"`
	Status        string              `json:"status"`
	StopReason    string              `json:"stop_reason,omitempty"`
	NodesUsed     int                 `json:"nodes_used"`
	NodeBudget    int                 `json:"node_budget"`
	Outcomes      []Outcome           `json:"outcomes"`
	Enforcement   *enforcement.Status `json:"enforcement,omitempty"`
}

// PathStep is one node on the best path.
type PathStep struct {
	NodeID  uuid.UUID        `json:"node_id"`
	Depth   int              `json:"depth"`
	Thought string           `json:"thought"`
	Score   float64          `json:"score"`
	Status  model.NodeStatus `json:"status"`
}

// BestPath is the result of GetBestPath.
type BestPath struct {
	RunID            uuid.UUID           `json:"run_id"`
	Mode             model.RunMode       `json:"mode"`
	FinalAnswer      string              `json:"final_answer"`
	Confidence       float64             `json:"confidence"`
	PathLength       int                 `json:"path_length"`
	IsTerminal       bool                `json:"is_terminal"`
	NodesExplored    int                 `json:"nodes_explored"`
	Chain            []PathStep          `json:"reasoning_chain"`
	ValidationIssues []string            `json:"validation_issues,omitempty"`
	Report           *enforcement.Report `json:"enforcement_report,omitempty"`
}

// FinalizedRun is handed to finalize hooks after a best path is extracted.
type FinalizedRun struct {
	RunID       uuid.UUID     `json:"run_id"`
	TaskPrompt  string        `json:"task_prompt"`
	Mode        model.RunMode `json:"mode"`
	Level       string        `json:"exploration_level,omitempty"`
	NodeBudget  int           `json:"node_budget"`
	Iterations  int           `json:"iterations"`
	Path        BestPath      `json:"path"`
	FinalizedAt time.Time     `json:"finalized_at"`
}

// RunTree is the full node view of a run, used by resources.
type RunTree struct {
	Run   *model.Run    `json:"run"`
	Nodes []*model.Node `json:"nodes"`
}
