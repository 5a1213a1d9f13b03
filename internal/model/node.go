package model

import (
	"maps"

	"github.com/google/uuid"
)

// NodeStatus classifies a node. Only active nodes are expandable.
type NodeStatus string

const (
	NodeStatusActive   NodeStatus = "active"
	NodeStatusTerminal NodeStatus = "terminal"
	NodeStatusPruned   NodeStatus = "pruned"
)

// Evaluation is the record of the estimates a node was scored from.
type Evaluation struct {
	Progress    float64 `json:"progress"`
	Feasibility float64 `json:"feasibility"`
	Risk        float64 `json:"risk"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// Node is one reasoning step in a run's tree. A node's parent and depth are
// fixed at creation; depth is always parent depth + 1.
type Node struct {
	ID         uuid.UUID      `json:"node_id"`
	RunID      uuid.UUID      `json:"run_id"`
	ParentID   *uuid.UUID     `json:"parent_id,omitempty"`
	Depth      int            `json:"depth"`
	Thought    string         `json:"thought"`
	Score      float64        `json:"score"`
	Status     NodeStatus     `json:"status"`
	Delta      map[string]any `json:"delta,omitempty"`
	Evaluation *Evaluation    `json:"evaluation,omitempty"`
	Children   []uuid.UUID    `json:"children"`
}

// IsRoot reports whether n has no parent.
func (n *Node) IsRoot() bool { return n.ParentID == nil }

// Clone returns a copy that shares no mutable state with n.
func (n *Node) Clone() *Node {
	cp := *n
	if n.ParentID != nil {
		pid := *n.ParentID
		cp.ParentID = &pid
	}
	if n.Evaluation != nil {
		ev := *n.Evaluation
		cp.Evaluation = &ev
	}
	cp.Delta = maps.Clone(n.Delta)
	cp.Children = append([]uuid.UUID(nil), n.Children...)
	return &cp
}

// Candidate is a proposed child submitted by the caller. Numeric estimates
// are pointers so a missing field can be told apart from zero.
type Candidate struct {
	Thought     string         `json:"thought"`
	Progress    *float64       `json:"progress_estimate"`
	Feasibility *float64       `json:"feasibility_estimate"`
	Risk        *float64       `json:"risk_estimate"`
	Confidence  *float64       `json:"confidence_estimate,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	Delta       map[string]any `json:"delta,omitempty"`

	// Malformed holds the decode error when a transport could not parse
	// this candidate. Such candidates are pruned without scoring.
	Malformed string `json:"-"`
}

// SampleGroup is a batch of candidates for one parent node.
type SampleGroup struct {
	ParentID   string      `json:"parent_node_id"`
	Candidates []Candidate `json:"candidates"`
}
