package frontier

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shiko/internal/model"
)

func node(score float64, depth int, status model.NodeStatus) *model.Node {
	return &model.Node{ID: uuid.New(), Score: score, Depth: depth, Status: status}
}

func TestSelect_OrdersByScoreThenDepth(t *testing.T) {
	a := node(0.6, 2, model.NodeStatusActive)
	b := node(0.8, 3, model.NodeStatusActive)
	c := node(0.6, 1, model.NodeStatusActive)
	d := node(0.9, 1, model.NodeStatusTerminal)

	got := Select([]*model.Node{a, b, c, d}, 5)
	require.Len(t, got, 3)
	assert.Equal(t, []*model.Node{b, c, a}, got)
}

func TestSelect_CapsAtBeamWidth(t *testing.T) {
	var nodes []*model.Node
	for i := 0; i < 10; i++ {
		nodes = append(nodes, node(float64(i)/10, 1, model.NodeStatusActive))
	}
	got := Select(nodes, 3)
	require.Len(t, got, 3)
	assert.Equal(t, 0.9, got[0].Score)
	assert.Equal(t, 0.7, got[2].Score)
}

func TestSelect_OnlyActive(t *testing.T) {
	nodes := []*model.Node{
		node(0.9, 1, model.NodeStatusTerminal),
		node(0.1, 1, model.NodeStatusPruned),
	}
	assert.Empty(t, Select(nodes, 3))
	assert.Empty(t, Select(nil, 3))
}

func TestSelect_NonPositiveBeam(t *testing.T) {
	nodes := []*model.Node{node(0.5, 0, model.NodeStatusActive)}
	assert.Empty(t, Select(nodes, 0))
	assert.Empty(t, Select(nodes, -2))
}

func TestSelect_DeterministicOnFullTies(t *testing.T) {
	var nodes []*model.Node
	for i := 0; i < 6; i++ {
		nodes = append(nodes, node(0.5, 1, model.NodeStatusActive))
	}
	first := Select(nodes, 6)
	reversed := make([]*model.Node, len(nodes))
	for i, n := range nodes {
		reversed[len(nodes)-1-i] = n
	}
	assert.Equal(t, first, Select(reversed, 6))
}
