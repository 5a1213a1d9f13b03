// Package frontier selects the beam: the active nodes eligible for expansion.
package frontier

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/ashita-ai/shiko/internal/model"
)

// Select returns at most beamWidth active nodes, best first. Ties on score
// go to the shallower node, then to the lower node id so the order is stable
// across calls. The input slice is not modified.
func Select(nodes []*model.Node, beamWidth int) []*model.Node {
	if beamWidth <= 0 {
		return []*model.Node{}
	}
	active := make([]*model.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Status == model.NodeStatusActive {
			active = append(active, n)
		}
	}
	slices.SortStableFunc(active, func(a, b *model.Node) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Depth, b.Depth); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	if len(active) > beamWidth {
		active = active[:beamWidth]
	}
	return active
}
