package mcp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shiko/internal/model"
	"github.com/ashita-ai/shiko/internal/service/tree"
)

func sampleRunTree(t *testing.T) tree.RunTree {
	t.Helper()
	cfg := model.RunConfig{BeamWidth: 3, FanOut: 3, MaxDepth: 5, NodeBudget: 50, TargetScore: 0.8}
	run := model.NewRun("plan the data migration", model.ModeRegular, cfg, []string{"no downtime"}, time.Now())
	root := run.Root()
	run.AddChild(root, "copy tables in batches", 0.62, model.NodeStatusActive,
		model.Evaluation{Progress: 0.6, Feasibility: 0.7, Risk: 0.2, Confidence: 0.8}, nil)
	run.AddChild(root, "dual-write then cut over", 0.85, model.NodeStatusTerminal,
		model.Evaluation{Progress: 0.9, Feasibility: 0.9, Risk: 0.1, Confidence: 0.9}, nil)
	run.AddChild(root, "drop and reload", 0.1, model.NodeStatusActive,
		model.Evaluation{Progress: 0.3, Feasibility: 0.4, Risk: 0.9, Confidence: 0.7}, nil)
	return tree.RunTree{Run: run, Nodes: run.OrderedNodes()}
}

func TestCompactRunTree(t *testing.T) {
	rt := sampleRunTree(t)

	m := compactRunTree(rt)

	assert.Equal(t, rt.Run.ID, m["run_id"])
	assert.Equal(t, 4, m["node_count"])
	assert.Equal(t, []string{"no downtime"}, m["constraints"])
	assert.NotContains(t, m, "best_node_id", "unset best node should be omitted")

	nodes, ok := m["nodes"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, nodes, 4)

	root := nodes[0]
	assert.NotContains(t, root, "parent_id", "root has no parent")
	assert.Equal(t, 3, root["n_children"])

	// Dropped fields.
	for _, n := range nodes {
		assert.NotContains(t, n, "delta")
		assert.NotContains(t, n, "evaluation")
		assert.NotContains(t, n, "children")
	}
}

func TestCompactRunTree_BestNode(t *testing.T) {
	rt := sampleRunTree(t)
	best := rt.Nodes[2].ID
	rt.Run.BestNodeID = &best

	m := compactRunTree(rt)
	assert.Equal(t, &best, m["best_node_id"])
}

func TestCompactNode_TruncatesThought(t *testing.T) {
	cfg := model.RunConfig{TargetScore: 0.8}
	run := model.NewRun("task", model.ModeRegular, cfg, nil, time.Now())
	long := strings.Repeat("x", maxCompactThought+50)
	n := run.AddChild(run.Root(), long, 0.5, model.NodeStatusActive, model.Evaluation{Confidence: 1}, nil)

	m := compactNode(n, cfg.TargetScore)
	thought := m["thought"].(string)
	assert.Len(t, []rune(thought), maxCompactThought+3)
	assert.True(t, strings.HasSuffix(thought, "..."), "should be truncated")
}

func TestGenerateNodeNote(t *testing.T) {
	tests := []struct {
		name   string
		node   model.Node
		expect string
	}{
		{
			name:   "terminal",
			node:   model.Node{Status: model.NodeStatusTerminal, Evaluation: &model.Evaluation{Confidence: 1}},
			expect: "Reached target score 0.80; not expanded further.",
		},
		{
			name:   "pruned without evaluation",
			node:   model.Node{Status: model.NodeStatusPruned},
			expect: "Pruned before scoring.",
		},
		{
			name:   "pruned with evaluation",
			node:   model.Node{Status: model.NodeStatusPruned, Evaluation: &model.Evaluation{}},
			expect: "Pruned: estimates failed validation.",
		},
		{
			name:   "high risk",
			node:   model.Node{Status: model.NodeStatusActive, Evaluation: &model.Evaluation{Risk: 0.9, Confidence: 1}},
			expect: "High risk estimate (0.90).",
		},
		{
			name:   "low confidence",
			node:   model.Node{Status: model.NodeStatusActive, Evaluation: &model.Evaluation{Risk: 0.1, Confidence: 0.2}},
			expect: "Low confidence in its own estimates (0.20).",
		},
		{
			name:   "unremarkable",
			node:   model.Node{Status: model.NodeStatusActive, Evaluation: &model.Evaluation{Risk: 0.1, Confidence: 0.9}},
			expect: "",
		},
		{
			name:   "root",
			node:   model.Node{Status: model.NodeStatusActive},
			expect: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, generateNodeNote(&tt.node, 0.8))
		})
	}
}

func TestGenerateTreeSummary(t *testing.T) {
	summary := generateTreeSummary(sampleRunTree(t))
	assert.Equal(t,
		`4 node(s) to depth 1: 3 active, 1 terminal, 0 pruned. Highest scoring: "dual-write then cut over" (0.85 at depth 1).`,
		summary)
}

func TestGenerateTreeSummary_RootOnly(t *testing.T) {
	run := model.NewRun("task", model.ModeRegular, model.RunConfig{}, nil, time.Now())
	summary := generateTreeSummary(tree.RunTree{Run: run, Nodes: run.OrderedNodes()})
	assert.Equal(t, "1 node(s) to depth 0: 1 active, 0 terminal, 0 pruned.", summary)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel...", truncate("hello world", 3))
	assert.Equal(t, "", truncate("", 5))
}
