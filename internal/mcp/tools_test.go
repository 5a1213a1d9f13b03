package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shiko/internal/model"
	"github.com/ashita-ai/shiko/internal/service/tree"
	"github.com/ashita-ai/shiko/internal/storage"
	"github.com/ashita-ai/shiko/internal/testutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctrl := tree.New(storage.NewMemoryStore(), nil, testutil.TestLogger())
	return New(ctrl, testutil.TestLogger(), "test", 0)
}

func callTool(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcplib.CallToolResult, idx int) string {
	t.Helper()
	require.NotNil(t, result)
	require.Greater(t, len(result.Content), idx)
	tc, ok := result.Content[idx].(mcplib.TextContent)
	require.True(t, ok, "content %d should be text", idx)
	return tc.Text
}

func decodeResult(t *testing.T, result *mcplib.CallToolResult, v any) {
	t.Helper()
	require.False(t, result.IsError, "unexpected tool error: %s", resultText(t, result, 0))
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result, 0)), v))
}

func decodeToolError(t *testing.T, result *mcplib.CallToolResult) model.ToolError {
	t.Helper()
	require.True(t, result.IsError, "expected a tool error")
	var te model.ToolError
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result, 0)), &te))
	return te
}

func startRun(t *testing.T, s *Server, args map[string]any) tree.StartResult {
	t.Helper()
	result, err := s.handleStartRun(context.Background(), callTool("tot_start_run", args))
	require.NoError(t, err)
	var res tree.StartResult
	decodeResult(t, result, &res)
	return res
}

// rawSamples builds a samples argument the way it arrives over JSON-RPC.
func rawSamples(parent uuid.UUID, n int) []any {
	candidates := make([]any, n)
	for i := range candidates {
		candidates[i] = map[string]any{
			"thought":              "option",
			"progress_estimate":    0.8,
			"feasibility_estimate": 0.8,
			"risk_estimate":        0.1,
		}
	}
	return []any{map[string]any{
		"parent_node_id": parent.String(),
		"candidates":     candidates,
	}}
}

func TestHandleStartRun(t *testing.T) {
	s := newTestServer(t)

	res := startRun(t, s, map[string]any{
		"task_prompt": "choose a cache eviction policy",
		"constraints": []any{"memory under 1GB"},
		"beam_width":  float64(2),
	})

	assert.NotEqual(t, uuid.Nil, res.RunID)
	assert.NotEqual(t, uuid.Nil, res.RootNodeID)
	assert.Equal(t, model.ModeRegular, res.Mode)
	assert.Equal(t, 2, res.Config.BeamWidth)
}

func TestHandleStartRun_Enforced(t *testing.T) {
	s := newTestServer(t)

	res := startRun(t, s, map[string]any{
		"task_prompt":       "choose a cache eviction policy",
		"mode":              "enforced",
		"exploration_level": "moderate",
	})

	assert.Equal(t, model.ModeEnforced, res.Mode)
	assert.Equal(t, 42, res.MinRequiredNodes)
	assert.NotEmpty(t, res.Strategies)
	assert.NotNil(t, res.RootGuideline)
}

func TestHandleStartRun_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		args  map[string]any
		field string
	}{
		{
			name:  "short prompt",
			args:  map[string]any{"task_prompt": "hi"},
			field: "task_prompt",
		},
		{
			name:  "unknown mode",
			args:  map[string]any{"task_prompt": "a real task", "mode": "turbo"},
			field: "mode",
		},
		{
			name:  "enforced without level",
			args:  map[string]any{"task_prompt": "a real task", "mode": "enforced"},
			field: "exploration_level",
		},
		{
			name:  "enforced with unknown level",
			args:  map[string]any{"task_prompt": "a real task", "mode": "enforced", "exploration_level": "extreme"},
			field: "exploration_level",
		},
		{
			name:  "fractional beam width",
			args:  map[string]any{"task_prompt": "a real task", "beam_width": 2.5},
			field: "beam_width",
		},
		{
			name:  "non-numeric budget",
			args:  map[string]any{"task_prompt": "a real task", "node_budget": "lots"},
			field: "node_budget",
		},
		{
			name:  "budget out of range",
			args:  map[string]any{"task_prompt": "a real task", "node_budget": float64(1)},
			field: "node_budget",
		},
		{
			name:  "target score out of range",
			args:  map[string]any{"task_prompt": "a real task", "target_score": 1.5},
			field: "target_score",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleStartRun(context.Background(), callTool("tot_start_run", tt.args))
			require.NoError(t, err)
			te := decodeToolError(t, result)
			assert.Equal(t, model.ErrCodeValidation, te.Code)
			details, ok := te.Details.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.field, details["field"])
		})
	}
}

func TestRunIDArg(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		runID any
		code  string
	}{
		{"missing", nil, model.ErrCodeValidation},
		{"blank", "  ", model.ErrCodeValidation},
		{"malformed", "not-a-uuid", model.ErrCodeNotFound},
		{"unknown", uuid.New().String(), model.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]any{}
			if tt.runID != nil {
				args["run_id"] = tt.runID
			}
			result, err := s.handleRequestSamples(ctx, callTool("tot_request_samples", args))
			require.NoError(t, err)
			assert.Equal(t, tt.code, decodeToolError(t, result).Code)
		})
	}
}

func TestSearchLoop(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	run := startRun(t, s, map[string]any{"task_prompt": "design the retry policy"})
	args := map[string]any{"run_id": run.RunID.String()}

	result, err := s.handleRequestSamples(ctx, callTool("tot_request_samples", args))
	require.NoError(t, err)
	var frontier tree.Frontier
	decodeResult(t, result, &frontier)
	require.Len(t, frontier.Nodes, 1)
	assert.Equal(t, run.RootNodeID, frontier.Nodes[0].NodeID)
	assert.Equal(t, 1, frontier.Iteration)

	result, err = s.handleSubmitSamples(ctx, callTool("tot_submit_samples", map[string]any{
		"run_id":  run.RunID.String(),
		"samples": rawSamples(run.RootNodeID, 3),
	}))
	require.NoError(t, err)
	assert.Len(t, result.Content, 1, "no nudge after requesting the frontier")
	var submitted tree.SubmitResult
	decodeResult(t, result, &submitted)
	assert.Equal(t, 3, submitted.NodesExpanded)
	assert.Equal(t, tree.SubmitRunning, submitted.Status)
	assert.Equal(t, 4, submitted.NodesUsed)

	result, err = s.handleGetBestPath(ctx, callTool("tot_get_best_path", args))
	require.NoError(t, err)
	var path tree.BestPath
	decodeResult(t, result, &path)
	assert.Equal(t, 2, path.PathLength)
	assert.Equal(t, "option", path.FinalAnswer)
	assert.Equal(t, 4, path.NodesExplored)
}

func TestHandleSubmitSamples_Nudge(t *testing.T) {
	s := newTestServer(t)
	run := startRun(t, s, map[string]any{"task_prompt": "design the retry policy"})

	result, err := s.handleSubmitSamples(context.Background(), callTool("tot_submit_samples", map[string]any{
		"run_id":  run.RunID.String(),
		"samples": rawSamples(run.RootNodeID, 2),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 2, "nudge should be appended")
	assert.Contains(t, resultText(t, result, 1), "NOTE: tot_request_samples was not called")

	// The submission was applied regardless.
	var submitted tree.SubmitResult
	decodeResult(t, result, &submitted)
	assert.Equal(t, 2, submitted.NodesExpanded)
}

func TestHandleSubmitSamples_StringSamples(t *testing.T) {
	s := newTestServer(t)
	run := startRun(t, s, map[string]any{"task_prompt": "design the retry policy"})

	raw, err := json.Marshal(rawSamples(run.RootNodeID, 1))
	require.NoError(t, err)

	result, err := s.handleSubmitSamples(context.Background(), callTool("tot_submit_samples", map[string]any{
		"run_id":  run.RunID.String(),
		"samples": string(raw),
	}))
	require.NoError(t, err)
	var submitted tree.SubmitResult
	decodeResult(t, result, &submitted)
	assert.Equal(t, 1, submitted.NodesExpanded)
}

func TestHandleSubmitSamples_BadSamples(t *testing.T) {
	s := newTestServer(t)
	run := startRun(t, s, map[string]any{"task_prompt": "design the retry policy"})

	for name, samples := range map[string]any{
		"missing":    nil,
		"not a list": map[string]any{"parent_node_id": "x"},
		"bad json":   "[{",
	} {
		t.Run(name, func(t *testing.T) {
			args := map[string]any{"run_id": run.RunID.String()}
			if samples != nil {
				args["samples"] = samples
			}
			result, err := s.handleSubmitSamples(context.Background(), callTool("tot_submit_samples", args))
			require.NoError(t, err)
			assert.Equal(t, model.ErrCodeValidation, decodeToolError(t, result).Code)
		})
	}
}

func TestHandleSubmitSamples_MissingEstimate(t *testing.T) {
	s := newTestServer(t)
	run := startRun(t, s, map[string]any{"task_prompt": "design the retry policy"})

	result, err := s.handleSubmitSamples(context.Background(), callTool("tot_submit_samples", map[string]any{
		"run_id": run.RunID.String(),
		"samples": []any{map[string]any{
			"parent_node_id": run.RootNodeID.String(),
			"candidates": []any{map[string]any{
				"thought":              "no risk given",
				"progress_estimate":    0.5,
				"feasibility_estimate": 0.5,
			}},
		}},
	}))
	require.NoError(t, err)
	var submitted tree.SubmitResult
	decodeResult(t, result, &submitted)
	assert.Equal(t, 0, submitted.NodesExpanded)
	assert.Equal(t, 1, submitted.NodesPruned)
	require.Len(t, submitted.Outcomes, 1)
	assert.Equal(t, tree.SkipMissingEstimate, submitted.Outcomes[0].SkipReason)
}

func TestHandleSubmitSamples_NonNumericEstimateSkipsOnlyThatCandidate(t *testing.T) {
	s := newTestServer(t)
	run := startRun(t, s, map[string]any{"task_prompt": "design the retry policy"})

	result, err := s.handleSubmitSamples(context.Background(), callTool("tot_submit_samples", map[string]any{
		"run_id": run.RunID.String(),
		"samples": []any{map[string]any{
			"parent_node_id": run.RootNodeID.String(),
			"candidates": []any{
				map[string]any{
					"thought":              "exponential backoff with jitter",
					"progress_estimate":    0.8,
					"feasibility_estimate": 0.8,
					"risk_estimate":        0.1,
				},
				map[string]any{
					"thought":              "retry forever",
					"progress_estimate":    "high",
					"feasibility_estimate": 0.5,
					"risk_estimate":        0.5,
				},
			},
		}},
	}))
	require.NoError(t, err)
	var submitted tree.SubmitResult
	decodeResult(t, result, &submitted)
	assert.Equal(t, 1, submitted.NodesExpanded)
	assert.Equal(t, 1, submitted.NodesPruned)
	require.Len(t, submitted.Outcomes, 2)
	assert.True(t, submitted.Outcomes[0].Created)
	assert.Equal(t, tree.SkipMalformed, submitted.Outcomes[1].SkipReason)
	assert.Equal(t, 1, submitted.Outcomes[1].Index)
	assert.Contains(t, submitted.Outcomes[1].Detail, "progress_estimate")
}

func TestHandleSubmitSamples_MalformedGroupSkipsOnlyThatGroup(t *testing.T) {
	s := newTestServer(t)
	run := startRun(t, s, map[string]any{"task_prompt": "design the retry policy"})

	good := rawSamples(run.RootNodeID, 1)[0]
	result, err := s.handleSubmitSamples(context.Background(), callTool("tot_submit_samples", map[string]any{
		"run_id": run.RunID.String(),
		"samples": []any{
			map[string]any{"parent_node_id": 42, "candidates": good.(map[string]any)["candidates"]},
			"not a group",
			map[string]any{"parent_node_id": run.RootNodeID.String(), "candidates": "none"},
			good,
		},
	}))
	require.NoError(t, err)
	var submitted tree.SubmitResult
	decodeResult(t, result, &submitted)
	assert.Equal(t, 1, submitted.NodesExpanded)
	assert.Equal(t, 0, submitted.NodesPruned)

	var reasons []string
	for _, o := range submitted.Outcomes {
		if !o.Created {
			reasons = append(reasons, o.SkipReason)
		}
	}
	assert.Equal(t, []string{tree.SkipParentNotFound, tree.SkipParentNotFound, tree.SkipNoCandidates}, reasons)
}

func TestDecodeSamples(t *testing.T) {
	groups, err := decodeSamples(`[{"parent_node_id":"p","candidates":[{"thought":"a","risk_estimate":[1]},{"thought":"b"}]}]`)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "p", groups[0].ParentID)
	require.Len(t, groups[0].Candidates, 2)
	assert.NotEmpty(t, groups[0].Candidates[0].Malformed)
	assert.Empty(t, groups[0].Candidates[0].Thought, "a malformed candidate carries only the decode error")
	assert.Empty(t, groups[0].Candidates[1].Malformed)
	assert.Equal(t, "b", groups[0].Candidates[1].Thought)
}

func TestHandleGetBestPath_EnforcementNotMet(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	run := startRun(t, s, map[string]any{
		"task_prompt":       "pick a consensus protocol",
		"mode":              "enforced",
		"exploration_level": "moderate",
	})

	result, err := s.handleGetBestPath(ctx, callTool("tot_get_best_path", map[string]any{
		"run_id":             run.RunID.String(),
		"enforce_completion": true,
	}))
	require.NoError(t, err)
	te := decodeToolError(t, result)
	assert.Equal(t, model.ErrCodeEnforcementNotMet, te.Code)
	assert.Contains(t, te.Error, "42+")
	details, ok := te.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "moderate", details["level"])
	assert.InDelta(t, 1, details["nodes_used"], 0)
	assert.InDelta(t, 42, details["nodes_required"], 0)
	assert.InDelta(t, 41, details["shortfall"], 0)

	// Without the gate the same run finalizes.
	result, err = s.handleGetBestPath(ctx, callTool("tot_get_best_path", map[string]any{
		"run_id": run.RunID.String(),
	}))
	require.NoError(t, err)
	var path tree.BestPath
	decodeResult(t, result, &path)
	assert.NotEmpty(t, path.ValidationIssues)
}

func TestHandleEnforcementStatus(t *testing.T) {
	s := newTestServer(t)
	run := startRun(t, s, map[string]any{
		"task_prompt":       "pick a consensus protocol",
		"mode":              "enforced",
		"exploration_level": "shallow",
	})

	result, err := s.handleEnforcementStatus(context.Background(), callTool("tot_get_enforcement_status", map[string]any{
		"run_id": run.RunID.String(),
	}))
	require.NoError(t, err)
	var st map[string]any
	decodeResult(t, result, &st)
	assert.Equal(t, "shallow", st["level"])
	assert.Equal(t, false, st["requirement_met"])
	assert.Equal(t, true, st["should_continue"])
}

func TestHandleListRunsAndStats(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for range 3 {
		startRun(t, s, map[string]any{"task_prompt": "compare three queue designs"})
	}

	result, err := s.handleListRuns(ctx, callTool("tot_list_runs", map[string]any{"limit": float64(2)}))
	require.NoError(t, err)
	var listed struct {
		Runs  []storage.RunSummary `json:"runs"`
		Total int                  `json:"total"`
	}
	decodeResult(t, result, &listed)
	assert.Equal(t, 2, listed.Total)
	assert.Len(t, listed.Runs, 2)

	result, err = s.handleStats(ctx, callTool("tot_get_stats", nil))
	require.NoError(t, err)
	var stats storage.Stats
	decodeResult(t, result, &stats)
	assert.Equal(t, int64(3), stats.TotalRuns)
	assert.Equal(t, 3, stats.ActiveRuns)
}

func TestHandleExplorationGuide(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleExplorationGuide(ctx, callTool("tot_get_exploration_guide", map[string]any{"level": "deep"}))
	require.NoError(t, err)
	var guide map[string]any
	decodeResult(t, result, &guide)
	assert.Equal(t, "deep", guide["level"])
	assert.InDelta(t, 135, guide["min_required_nodes"], 0)

	result, err = s.handleExplorationGuide(ctx, callTool("tot_get_exploration_guide", map[string]any{"level": "cosmic"}))
	require.NoError(t, err)
	assert.Equal(t, model.ErrCodeValidation, decodeToolError(t, result).Code)
}

func TestHandleDeleteRun(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	run := startRun(t, s, map[string]any{"task_prompt": "short-lived run"})
	args := map[string]any{"run_id": run.RunID.String()}

	_, err := s.handleRequestSamples(ctx, callTool("tot_request_samples", args))
	require.NoError(t, err)
	require.True(t, s.frontierTracker.WasRequested(run.RunID.String()))

	result, err := s.handleDeleteRun(ctx, callTool("tot_delete_run", args))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.False(t, s.frontierTracker.WasRequested(run.RunID.String()), "tracker entry should be dropped")

	result, err = s.handleDeleteRun(ctx, callTool("tot_delete_run", args))
	require.NoError(t, err)
	assert.Equal(t, model.ErrCodeNotFound, decodeToolError(t, result).Code)
}

func TestOptionalInt(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    *int
		wantErr bool
	}{
		{"absent", map[string]any{}, nil, false},
		{"null", map[string]any{"n": nil}, nil, false},
		{"float whole", map[string]any{"n": float64(4)}, testutil.Ptr(4), false},
		{"int", map[string]any{"n": 7}, testutil.Ptr(7), false},
		{"json number", map[string]any{"n": json.Number("3")}, testutil.Ptr(3), false},
		{"fraction", map[string]any{"n": 1.5}, nil, true},
		{"string", map[string]any{"n": "4"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := optionalInt(tt.args, "n")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
