package mcp

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/shiko/internal/model"
	"github.com/ashita-ai/shiko/internal/service/tree"
)

// maxCompactThought caps thought text in compact responses. Callers wrote
// the thoughts themselves; they need enough to recognise a branch, not the
// full text.
const maxCompactThought = 160

// compactRunTree returns a minimal representation of a run and its nodes
// for the run tree resource. Drops deltas, reasoning and child id lists;
// keeps the parent links needed to rebuild the tree.
func compactRunTree(rt tree.RunTree) map[string]any {
	r := rt.Run
	nodes := make([]map[string]any, 0, len(rt.Nodes))
	for _, n := range rt.Nodes {
		nodes = append(nodes, compactNode(n, r.Config.TargetScore))
	}
	m := map[string]any{
		"run_id":      r.ID,
		"task_prompt": r.TaskPrompt,
		"mode":        r.Mode,
		"status":      r.Status,
		"config":      r.Config,
		"iterations":  r.Iterations,
		"node_count":  len(nodes),
		"created_at":  r.CreatedAt,
		"summary":     generateTreeSummary(rt),
		"nodes":       nodes,
	}
	if len(r.Constraints) > 0 {
		m["constraints"] = r.Constraints
	}
	if r.BestNodeID != nil {
		m["best_node_id"] = r.BestNodeID
	}
	return m
}

// compactNode returns a minimal representation of one node.
func compactNode(n *model.Node, target float64) map[string]any {
	m := map[string]any{
		"node_id":    n.ID,
		"depth":      n.Depth,
		"thought":    truncate(n.Thought, maxCompactThought),
		"score":      n.Score,
		"status":     n.Status,
		"n_children": len(n.Children),
	}
	if n.ParentID != nil {
		m["parent_id"] = n.ParentID
	}
	if note := generateNodeNote(n, target); note != "" {
		m["note"] = note
	}
	return m
}

// generateNodeNote explains a node's status in one sentence when the status
// alone is not enough. Template-based; returns "" for unremarkable nodes.
func generateNodeNote(n *model.Node, target float64) string {
	ev := n.Evaluation
	switch {
	case n.Status == model.NodeStatusTerminal:
		return fmt.Sprintf("Reached target score %.2f; not expanded further.", target)
	case n.Status == model.NodeStatusPruned && ev == nil:
		return "Pruned before scoring."
	case n.Status == model.NodeStatusPruned:
		return "Pruned: estimates failed validation."
	case ev == nil:
		return ""
	case ev.Risk >= 0.7:
		return fmt.Sprintf("High risk estimate (%.2f).", ev.Risk)
	case ev.Confidence < 0.3:
		return fmt.Sprintf("Low confidence in its own estimates (%.2f).", ev.Confidence)
	}
	return ""
}

// generateTreeSummary creates a 1-2 sentence synthesis of the tree.
func generateTreeSummary(rt tree.RunTree) string {
	var active, terminal, pruned, deepest int
	var best *model.Node
	for _, n := range rt.Nodes {
		switch n.Status {
		case model.NodeStatusActive:
			active++
		case model.NodeStatusTerminal:
			terminal++
		case model.NodeStatusPruned:
			pruned++
		}
		deepest = max(deepest, n.Depth)
		if !n.IsRoot() && (best == nil || n.Score > best.Score) {
			best = n
		}
	}

	parts := []string{fmt.Sprintf("%d node(s) to depth %d: %d active, %d terminal, %d pruned.",
		len(rt.Nodes), deepest, active, terminal, pruned)}
	if best != nil {
		parts = append(parts, fmt.Sprintf("Highest scoring: \"%s\" (%.2f at depth %d).",
			truncate(best.Thought, 60), best.Score, best.Depth))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
