package mcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/shiko/internal/enforcement"
)

func (s *Server) registerPrompts() {
	// tot-workflow: system prompt snippet explaining the search loop.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("tot-workflow",
			mcplib.WithPromptDescription("System prompt snippet explaining the Tree-of-Thought loop (start, request, submit, finalize)"),
		),
		s.handleWorkflowPrompt,
	)

	// expand-frontier: how to generate and score candidates for one node.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("expand-frontier",
			mcplib.WithPromptDescription("Guidance for generating and scoring candidates for a frontier node"),
			mcplib.WithArgument("level",
				mcplib.ArgumentDescription("Exploration level of the run (shallow, moderate, deep, exhaustive)"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("depth",
				mcplib.ArgumentDescription("Depth of the node being expanded (defaults to 0)"),
			),
			mcplib.WithArgument("n_candidates",
				mcplib.ArgumentDescription("How many candidates to generate (defaults to the level's n_generate)"),
			),
		),
		s.handleExpandFrontierPrompt,
	)
}

func (s *Server) handleWorkflowPrompt(_ context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	levels := strings.Join(s.tree.Presets().Levels(), ", ")
	return &mcplib.GetPromptResult{
		Description: "Tree-of-Thought search workflow",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`You have access to shiko, a Tree-of-Thought state keeper. You do the thinking;
shiko scores your candidate thoughts, keeps the tree inside its budget and
tells you which branches deserve more work.

## The Loop

1. tot_start_run with the task. Use mode="enforced" and an exploration_level
   (%s) when the decision needs a guaranteed amount of exploration.
2. tot_request_samples to get the frontier.
3. For every frontier node, write n_candidates genuinely different next steps.
   Estimate for each:
   - progress_estimate: how far it moves toward a full answer (0-1)
   - feasibility_estimate: how realistic it is (0-1)
   - risk_estimate: how likely it fails or violates a constraint (0-1)
   - confidence_estimate (optional): how sure you are of these estimates
4. tot_submit_samples with all candidates grouped by parent_node_id.
5. Repeat 2-4 until the frontier is empty or status is "stopped".
6. tot_get_best_path for the final answer and reasoning chain.

## Scoring

%s

Be calibrated. Early nodes should rarely score high; a score at or above the
run's target_score marks a node terminal and it will not be expanded further.

## Enforced Runs

Call tot_get_enforcement_status to see nodes used against the minimum.
tot_get_best_path with enforce_completion=true refuses to finalize before the
minimum is met and reports the shortfall.`, levels, enforcement.ScoringFormula),
				},
			},
		},
	}, nil
}

func (s *Server) handleExpandFrontierPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	level := strings.TrimSpace(request.Params.Arguments["level"])
	if level == "" {
		return nil, fmt.Errorf("level argument is required")
	}
	preset, ok := s.tree.Presets().Lookup(level)
	if !ok {
		return nil, fmt.Errorf("unknown level %q", level)
	}
	depth, err := intArgument(request.Params.Arguments, "depth", 0)
	if err != nil {
		return nil, err
	}
	n, err := intArgument(request.Params.Arguments, "n_candidates", preset.FanOut)
	if err != nil {
		return nil, err
	}

	dg := enforcement.GuidelineForDepth(depth)
	sg := enforcement.GuidelineForLevel(preset.Name, depth)

	var b strings.Builder
	fmt.Fprintf(&b, "You are expanding a depth-%d node of a %s run. Generate %d candidates.\n\n", depth, preset.Name, n)
	fmt.Fprintf(&b, "## At this depth\n%s\nStrategy: %s\nDiversity: %s\n\n", dg.Description, dg.Strategy, dg.DiversityRequirement)
	fmt.Fprintf(&b, "## Scoring for %s runs\nKeep scores within %.2f-%.2f. %s\n\n", preset.Name, sg.Range.Min, sg.Range.Max, sg.Strategy)
	b.WriteString("## Candidate strategies\n")
	for _, st := range enforcement.CandidateStrategies(preset.Name) {
		fmt.Fprintf(&b, "- %s\n", st)
	}
	b.WriteString("\n## Suggested scores\n")
	for i := range n {
		fmt.Fprintf(&b, "- candidate %d: %.2f\n", i+1, enforcement.RecommendScore(preset.Name, depth, i, i == 0))
	}
	b.WriteString("\nSubmit with tot_submit_samples, grouping candidates under this node's parent_node_id.")

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Expand a depth-%d node at %s level", depth, preset.Name),
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: b.String()},
			},
		},
	}, nil
}

func intArgument(args map[string]string, key string, def int) (int, error) {
	raw := strings.TrimSpace(args[key])
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, raw)
	}
	return v, nil
}
