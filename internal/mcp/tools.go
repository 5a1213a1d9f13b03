package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/shiko/internal/model"
	"github.com/ashita-ai/shiko/internal/service/tree"
)

func (s *Server) registerTools() {
	// tot_start_run: create a run and its root node.
	s.mcpServer.AddTool(
		mcplib.NewTool("tot_start_run",
			mcplib.WithDescription(`Start a Tree-of-Thought run.

WHEN TO USE: At the start of any problem worth exploring from several angles
before committing to an answer.

MODES:
- regular: flexible; every parameter below is optional.
- enforced: requires exploration_level. The run must consume a minimum share
  of its node budget before tot_get_best_path with enforce_completion=true
  will finalize it.

WHAT YOU GET BACK: run_id, root_node_id, the resolved config and, for
enforced runs, min_required_nodes plus scoring guidance for the root.

EXAMPLE: task_prompt="Which database should back the order service?",
mode="enforced", exploration_level="moderate"`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("task_prompt",
				mcplib.Description("The problem to solve (at least 5 characters)"),
				mcplib.Required(),
			),
			mcplib.WithString("mode",
				mcplib.Description("regular (flexible) or enforced (guaranteed minimum exploration)"),
				mcplib.Enum(string(model.ModeRegular), string(model.ModeEnforced)),
				mcplib.DefaultString(string(model.ModeRegular)),
			),
			mcplib.WithArray("constraints",
				mcplib.Description("Hard constraints every branch must respect"),
				mcplib.WithStringItems(),
			),
			mcplib.WithString("exploration_level",
				mcplib.Description("Required for enforced mode: shallow, moderate, deep or exhaustive"),
			),
			mcplib.WithNumber("beam_width",
				mcplib.Description("Frontier nodes returned per request"),
				mcplib.Min(tree.MinBeamWidth),
				mcplib.Max(tree.MaxBeamWidth),
			),
			mcplib.WithNumber("n_generate",
				mcplib.Description("Candidates to generate per frontier node"),
				mcplib.Min(tree.MinFanOut),
				mcplib.Max(tree.MaxFanOut),
			),
			mcplib.WithNumber("max_depth",
				mcplib.Description("Maximum tree depth"),
				mcplib.Min(tree.MinMaxDepth),
				mcplib.Max(tree.MaxMaxDepth),
			),
			mcplib.WithNumber("node_budget",
				mcplib.Description("Total nodes the run may hold, root included"),
				mcplib.Min(tree.MinNodeBudget),
				mcplib.Max(tree.MaxNodeBudget),
			),
			mcplib.WithNumber("target_score",
				mcplib.Description("Score at which a node counts as a terminal answer"),
				mcplib.Min(0),
				mcplib.Max(1),
			),
		),
		s.handleStartRun,
	)

	// tot_request_samples: the frontier to expand next.
	s.mcpServer.AddTool(
		mcplib.NewTool("tot_request_samples",
			mcplib.WithDescription(`Get the frontier: the best active nodes to expand next.

WHEN TO USE: Before every tot_submit_samples call. For each returned node,
generate n_candidates distinct next thoughts and estimate their progress,
feasibility and risk.

An EMPTY_FRONTIER error means no active nodes remain; call tot_get_best_path.`),
			mcplib.WithReadOnlyHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("The run id returned by tot_start_run"),
				mcplib.Required(),
			),
		),
		s.handleRequestSamples,
	)

	// tot_submit_samples: scored candidates for frontier nodes.
	s.mcpServer.AddTool(
		mcplib.NewTool("tot_submit_samples",
			mcplib.WithDescription(`Submit candidate thoughts for frontier nodes.

IMPORTANT: Call tot_request_samples FIRST so you expand the nodes the run
actually wants expanded.

Each sample is {parent_node_id, candidates: [{thought, progress_estimate,
feasibility_estimate, risk_estimate, confidence_estimate?, reasoning?,
delta?}]}. Estimates are in [0,1]. Malformed candidates are skipped and
counted as pruned; they never fail the batch. When the node budget is
reached mid-batch, processing stops with status "stopped".`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("The run id returned by tot_start_run"),
				mcplib.Required(),
			),
			mcplib.WithArray("samples",
				mcplib.Description("Candidate groups, one per parent node"),
				mcplib.Required(),
				mcplib.Items(sampleGroupSchema),
			),
		),
		s.handleSubmitSamples,
	)

	// tot_get_best_path: finalize the run.
	s.mcpServer.AddTool(
		mcplib.NewTool("tot_get_best_path",
			mcplib.WithDescription(`Extract the best reasoning path and final answer, and mark the run completed.

With enforce_completion=true an enforced run that has not explored its
minimum number of nodes is refused with ENFORCEMENT_NOT_MET and the
shortfall; keep expanding and try again.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("The run id returned by tot_start_run"),
				mcplib.Required(),
			),
			mcplib.WithBoolean("enforce_completion",
				mcplib.Description("Refuse to finalize an enforced run below its minimum node count"),
				mcplib.DefaultBool(false),
			),
		),
		s.handleGetBestPath,
	)

	// tot_get_enforcement_status: progress against the preset.
	s.mcpServer.AddTool(
		mcplib.NewTool("tot_get_enforcement_status",
			mcplib.WithDescription("Report nodes used against the minimum required, and whether more exploration is advised"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("The run id returned by tot_start_run"),
				mcplib.Required(),
			),
		),
		s.handleEnforcementStatus,
	)

	// tot_list_runs: recent runs.
	s.mcpServer.AddTool(
		mcplib.NewTool("tot_list_runs",
			mcplib.WithDescription("List recent runs, newest first"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum runs to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(tree.DefaultListLimit),
			),
		),
		s.handleListRuns,
	)

	// tot_get_exploration_guide: what a level asks for.
	s.mcpServer.AddTool(
		mcplib.NewTool("tot_get_exploration_guide",
			mcplib.WithDescription(`Describe an exploration level: budget, minimum nodes, when to use it, candidate strategies and scoring guidance.

WHEN TO USE: Before starting an enforced run, to pick the right level.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("level",
				mcplib.Description("shallow, moderate, deep or exhaustive"),
				mcplib.DefaultString("moderate"),
			),
		),
		s.handleExplorationGuide,
	)

	// tot_get_stats: process-wide counters.
	s.mcpServer.AddTool(
		mcplib.NewTool("tot_get_stats",
			mcplib.WithDescription("Report total runs created, live nodes, and active and completed runs"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleStats,
	)

	// tot_delete_run: drop a run and its nodes.
	s.mcpServer.AddTool(
		mcplib.NewTool("tot_delete_run",
			mcplib.WithDescription("Delete a run and all of its nodes"),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("The run id to delete"),
				mcplib.Required(),
			),
		),
		s.handleDeleteRun,
	)
}

var sampleGroupSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"parent_node_id": map[string]any{"type": "string"},
		"candidates": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"thought":              map[string]any{"type": "string"},
					"progress_estimate":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"feasibility_estimate": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"risk_estimate":        map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"confidence_estimate":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"reasoning":            map[string]any{"type": "string"},
					"delta":                map[string]any{"type": "object"},
				},
				"required": []string{"thought", "progress_estimate", "feasibility_estimate", "risk_estimate"},
			},
		},
	},
	"required": []string{"parent_node_id", "candidates"},
}

func (s *Server) handleStartRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	args := request.GetArguments()
	in := tree.StartInput{
		TaskPrompt:       request.GetString("task_prompt", ""),
		Mode:             strings.TrimSpace(request.GetString("mode", "")),
		ExplorationLevel: strings.TrimSpace(request.GetString("exploration_level", "")),
		Constraints:      request.GetStringSlice("constraints", nil),
	}

	// The controller falls back to moderate for unknown levels; tool callers
	// get a strict check instead.
	if in.Mode == string(model.ModeEnforced) && in.ExplorationLevel != "" {
		if _, ok := s.tree.Presets().Lookup(in.ExplorationLevel); !ok {
			return validationResult("exploration_level", fmt.Sprintf("invalid exploration_level %q (one of %s)",
				in.ExplorationLevel, strings.Join(s.tree.Presets().Levels(), ", "))), nil
		}
	}

	var err error
	for _, f := range []struct {
		key string
		dst **int
	}{
		{"beam_width", &in.Overrides.BeamWidth},
		{"n_generate", &in.Overrides.FanOut},
		{"max_depth", &in.Overrides.MaxDepth},
		{"node_budget", &in.Overrides.NodeBudget},
	} {
		if *f.dst, err = optionalInt(args, f.key); err != nil {
			return validationResult(f.key, err.Error()), nil
		}
	}
	if in.Overrides.TargetScore, err = optionalFloat(args, "target_score"); err != nil {
		return validationResult("target_score", err.Error()), nil
	}

	res, err := s.tree.StartRun(ctx, in)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleRequestSamples(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, errRes := runIDArg(request)
	if errRes != nil {
		return errRes, nil
	}
	f, err := s.tree.RequestSamples(ctx, runID)
	if err != nil {
		return s.toolError(err), nil
	}
	s.frontierTracker.Record(runID.String())
	return jsonResult(f)
}

func (s *Server) handleSubmitSamples(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, errRes := runIDArg(request)
	if errRes != nil {
		return errRes, nil
	}
	groups, err := decodeSamples(request.GetArguments()["samples"])
	if err != nil {
		return validationResult("samples", err.Error()), nil
	}

	res, err := s.tree.SubmitSamples(ctx, runID, groups)
	if err != nil {
		return s.toolError(err), nil
	}
	result, err := jsonResult(res)
	if err != nil {
		return nil, err
	}

	// Advisory nudge: the caller skipped the frontier. The submission has
	// already been applied.
	if !s.frontierTracker.WasRequested(runID.String()) {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("shiko.frontier_nudge", true))
		result.Content = append(result.Content, mcplib.TextContent{
			Type: "text",
			Text: "NOTE: tot_request_samples was not called for this run recently. " +
				"Request the frontier before submitting so you expand the nodes the beam actually selected.",
		})
	}
	return result, nil
}

func (s *Server) handleGetBestPath(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, errRes := runIDArg(request)
	if errRes != nil {
		return errRes, nil
	}
	path, err := s.tree.GetBestPath(ctx, runID, request.GetBool("enforce_completion", false))
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(path)
}

func (s *Server) handleEnforcementStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, errRes := runIDArg(request)
	if errRes != nil {
		return errRes, nil
	}
	st, err := s.tree.EnforcementStatus(ctx, runID)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(st)
}

func (s *Server) handleListRuns(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runs, err := s.tree.ListRuns(ctx, request.GetInt("limit", tree.DefaultListLimit))
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(map[string]any{
		"runs":  runs,
		"total": len(runs),
	})
}

func (s *Server) handleExplorationGuide(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	guide, err := s.tree.ExplorationGuide(request.GetString("level", "moderate"))
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(guide)
}

func (s *Server) handleStats(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(s.tree.Stats(ctx))
}

func (s *Server) handleDeleteRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, errRes := runIDArg(request)
	if errRes != nil {
		return errRes, nil
	}
	if err := s.tree.DeleteRun(ctx, runID); err != nil {
		return s.toolError(err), nil
	}
	s.frontierTracker.Forget(runID.String())
	return jsonResult(map[string]any{
		"run_id":  runID,
		"deleted": true,
	})
}

func runIDArg(request mcplib.CallToolRequest) (uuid.UUID, *mcplib.CallToolResult) {
	raw := strings.TrimSpace(request.GetString("run_id", ""))
	if raw == "" {
		return uuid.Nil, validationResult("run_id", "run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		// A malformed id can never name a run.
		return uuid.Nil, errorResult(model.ErrCodeNotFound, fmt.Sprintf("run %q not found", raw), nil)
	}
	return id, nil
}

// decodeSamples converts the raw samples argument into typed groups. Only
// the outer list shape is fatal. Each group and candidate is decoded on its
// own so one malformed entry cannot sink its siblings: a candidate that
// fails to decode is passed on with Malformed set and the controller prunes
// it, and a group whose parent_node_id is not a string keeps an empty
// parent id and is skipped as parent_not_found.
func decodeSamples(raw any) ([]model.SampleGroup, error) {
	if raw == nil {
		return nil, errors.New("samples is required")
	}
	if s, ok := raw.(string); ok {
		raw = json.RawMessage(s)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("samples: %w", err)
	}
	var rawGroups []json.RawMessage
	if err := json.Unmarshal(data, &rawGroups); err != nil {
		return nil, fmt.Errorf("samples must be a list of {parent_node_id, candidates}: %w", err)
	}

	groups := make([]model.SampleGroup, len(rawGroups))
	for i, rg := range rawGroups {
		groups[i] = decodeGroup(rg)
	}
	return groups, nil
}

func decodeGroup(data json.RawMessage) model.SampleGroup {
	var rg struct {
		ParentID   json.RawMessage   `json:"parent_node_id"`
		Candidates []json.RawMessage `json:"candidates"`
	}
	if err := json.Unmarshal(data, &rg); err != nil {
		// Not an object, or candidates is not a list. Keep whatever parent
		// id is readable so the outcome still names it.
		var parentOnly struct {
			ParentID json.RawMessage `json:"parent_node_id"`
		}
		_ = json.Unmarshal(data, &parentOnly)
		return model.SampleGroup{ParentID: decodeParentID(parentOnly.ParentID)}
	}

	g := model.SampleGroup{
		ParentID:   decodeParentID(rg.ParentID),
		Candidates: make([]model.Candidate, len(rg.Candidates)),
	}
	for i, rc := range rg.Candidates {
		if err := json.Unmarshal(rc, &g.Candidates[i]); err != nil {
			g.Candidates[i] = model.Candidate{Malformed: err.Error()}
		}
	}
	return g
}

// decodeParentID returns "" for anything that is not a JSON string.
func decodeParentID(data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return ""
	}
	return id
}

func optionalInt(args map[string]any, key string) (*int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("%s must be an integer, got %v", key, f)
	}
	n := int(f)
	return &n, nil
}

func optionalFloat(args map[string]any, key string) (*float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &f, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// toolError maps controller errors to tool error results.
func (s *Server) toolError(err error) *mcplib.CallToolResult {
	var (
		ve     *tree.ValidationError
		notMet *tree.EnforcementNotMetError
	)
	switch {
	case errors.As(err, &ve):
		return validationResult(ve.Field, ve.Message)
	case errors.As(err, &notMet):
		return errorResult(model.ErrCodeEnforcementNotMet,
			fmt.Sprintf("Must use %d+ nodes before synthesis. Continue expanding.", notMet.NodesRequired),
			map[string]any{
				"level":          notMet.Level,
				"nodes_used":     notMet.NodesUsed,
				"nodes_required": notMet.NodesRequired,
				"shortfall":      notMet.Shortfall(),
			})
	case errors.Is(err, tree.ErrNotFound):
		return errorResult(model.ErrCodeNotFound, "run not found", nil)
	case errors.Is(err, tree.ErrEmptyFrontier):
		return errorResult(model.ErrCodeEmptyFrontier, "no active nodes left to expand; call tot_get_best_path", nil)
	case errors.Is(err, tree.ErrEmptyRun):
		return errorResult(model.ErrCodeEmptyRun, "run has no nodes", nil)
	default:
		s.logger.Error("mcp: tool failed", "error", err)
		return errorResult(model.ErrCodeInternalError, "internal error", nil)
	}
}

func validationResult(field, msg string) *mcplib.CallToolResult {
	return errorResult(model.ErrCodeValidation, msg, map[string]any{"field": field})
}

func errorResult(code, msg string, details any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(model.ToolError{Error: msg, Code: code, Details: details}, "", "  ")
	if err != nil {
		data = []byte(msg)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
		IsError: true,
	}
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
