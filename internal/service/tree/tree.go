// Package tree is the Tree-of-Thought controller.
//
// The controller owns no reasoning: callers generate candidate thoughts and
// their estimates, the controller scores them, grows the tree within the
// run's budget and depth limits, hands back the frontier to expand next and
// finally extracts the best root-to-leaf path. Both the MCP tools and the
// HTTP transport delegate here.
package tree

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/shiko/internal/enforcement"
	"github.com/ashita-ai/shiko/internal/frontier"
	"github.com/ashita-ai/shiko/internal/model"
	"github.com/ashita-ai/shiko/internal/scoring"
	"github.com/ashita-ai/shiko/internal/storage"
	"github.com/ashita-ai/shiko/internal/telemetry"
)

var tracer = otel.Tracer("shiko/tree")

// FinalizeHook is notified after a best path has been extracted. Hooks run
// asynchronously; an error is logged and never reaches the caller.
type FinalizeHook interface {
	OnRunFinalized(ctx context.Context, run FinalizedRun) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithFinalizeHook registers a hook. May be given more than once.
func WithFinalizeHook(h FinalizeHook) Option {
	return func(c *Controller) {
		if h != nil {
			c.hooks = append(c.hooks, h)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller runs the search loop operations against a RunStore.
type Controller struct {
	store   storage.RunStore
	presets enforcement.Presets
	logger  *slog.Logger
	now     func() time.Time
	hooks   []FinalizeHook
	hookWG  sync.WaitGroup

	runsStarted       metric.Int64Counter
	nodesCreated      metric.Int64Counter
	nodesPruned       metric.Int64Counter
	budgetExhausted   metric.Int64Counter
	bestPathScore     metric.Float64Histogram
	budgetUtilization metric.Float64Histogram
}

// New creates a Controller. presets may be nil, in which case the built-in
// preset table is used.
func New(store storage.RunStore, presets enforcement.Presets, logger *slog.Logger, opts ...Option) *Controller {
	if presets == nil {
		presets = enforcement.DefaultTable()
	}
	meter := telemetry.Meter("shiko/tree")
	runsStarted, _ := meter.Int64Counter("shiko.runs.started",
		metric.WithDescription("Runs created, by mode"),
	)
	nodesCreated, _ := meter.Int64Counter("shiko.nodes.created",
		metric.WithDescription("Nodes inserted from submitted candidates"),
	)
	nodesPruned, _ := meter.Int64Counter("shiko.nodes.pruned",
		metric.WithDescription("Candidates rejected as malformed"),
	)
	budgetExhausted, _ := meter.Int64Counter("shiko.budget.exhausted",
		metric.WithDescription("Submissions halted by the node budget"),
	)
	bestPathScore, _ := meter.Float64Histogram("shiko.best_path.score",
		metric.WithDescription("Score of the leaf chosen as best path"),
	)
	budgetUtilization, _ := meter.Float64Histogram("shiko.budget.utilization",
		metric.WithDescription("Fraction of the node budget used at finalization"),
	)

	c := &Controller{
		store:             store,
		presets:           presets,
		logger:            logger,
		now:               time.Now,
		runsStarted:       runsStarted,
		nodesCreated:      nodesCreated,
		nodesPruned:       nodesPruned,
		budgetExhausted:   budgetExhausted,
		bestPathScore:     bestPathScore,
		budgetUtilization: budgetUtilization,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Presets returns the preset table the controller resolves levels against.
func (c *Controller) Presets() enforcement.Presets { return c.presets }

// StartRun validates input, resolves the run config and registers a new run
// with its root node.
func (c *Controller) StartRun(ctx context.Context, in StartInput) (StartResult, error) {
	ctx, span := tracer.Start(ctx, "tree.StartRun")
	defer span.End()

	prompt := strings.TrimSpace(in.TaskPrompt)
	if utf8.RuneCountInString(prompt) < MinPromptRunes {
		return StartResult{}, spanErr(span, invalid("task_prompt", "must be at least %d characters", MinPromptRunes))
	}
	if len(in.TaskPrompt) > model.MaxTaskPromptLen {
		return StartResult{}, spanErr(span, invalid("task_prompt", "exceeds maximum length of %d bytes", model.MaxTaskPromptLen))
	}
	if len(in.Constraints) > model.MaxConstraints {
		return StartResult{}, spanErr(span, invalid("constraints", "at most %d constraints allowed", model.MaxConstraints))
	}
	mode, ok := model.ParseRunMode(in.Mode)
	if !ok {
		return StartResult{}, spanErr(span, invalid("mode", "must be %q or %q, got %q", model.ModeRegular, model.ModeEnforced, in.Mode))
	}

	cfg, preset, err := c.resolveConfig(mode, in.ExplorationLevel, in.Overrides)
	if err != nil {
		return StartResult{}, spanErr(span, err)
	}

	run := model.NewRun(in.TaskPrompt, mode, cfg, in.Constraints, c.now().UTC())
	if err := c.store.Create(ctx, run); err != nil {
		return StartResult{}, spanErr(span, fmt.Errorf("tree: start run: %w", err))
	}

	span.SetAttributes(
		attribute.String("shiko.run_id", run.ID.String()),
		attribute.String("shiko.mode", string(mode)),
		attribute.Int("shiko.node_budget", cfg.NodeBudget),
	)
	c.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(mode))))
	c.logger.Info("run started",
		"run_id", run.ID,
		"mode", mode,
		"level", cfg.ExplorationLevel,
		"node_budget", cfg.NodeBudget,
		"max_depth", cfg.MaxDepth)

	res := StartResult{
		RunID:      run.ID,
		RootNodeID: run.RootID,
		Mode:       mode,
		Config:     cfg,
		Message:    "Run started. Call tot_request_samples to get the frontier.",
	}
	if mode == model.ModeEnforced {
		g := enforcement.GuidelineForDepth(0)
		res.MinRequiredNodes = cfg.MinRequiredNodes
		res.Strategies = enforcement.CandidateStrategies(preset.Name)
		res.RootGuideline = &g
		res.Message = fmt.Sprintf("Enforced %s run started. At least %d of %d nodes must be explored before the best path can be finalized.",
			preset.Name, cfg.MinRequiredNodes, cfg.NodeBudget)
	}
	return res, nil
}

// resolveConfig applies override > level preset > regular default.
func (c *Controller) resolveConfig(mode model.RunMode, level string, ov Overrides) (model.RunConfig, enforcement.Preset, error) {
	if err := validateOverrides(ov); err != nil {
		return model.RunConfig{}, enforcement.Preset{}, err
	}

	var (
		cfg    model.RunConfig
		preset enforcement.Preset
	)
	if mode == model.ModeEnforced {
		if strings.TrimSpace(level) == "" {
			return model.RunConfig{}, enforcement.Preset{}, invalid("exploration_level", "required for enforced mode (one of %s)", strings.Join(c.presets.Levels(), ", "))
		}
		preset = c.presets.Resolve(level)
		cfg = model.RunConfig{
			BeamWidth:        preset.BeamWidth,
			FanOut:           preset.FanOut,
			MaxDepth:         preset.MaxDepth,
			NodeBudget:       preset.NodeBudget,
			TargetScore:      preset.TargetScore,
			ExplorationLevel: preset.Name,
		}
	} else {
		preset = c.presets.Resolve(enforcement.FallbackLevel)
		cfg = model.RunConfig{
			BeamWidth:   enforcement.DefaultBeamWidth,
			FanOut:      enforcement.DefaultFanOut,
			MaxDepth:    enforcement.DefaultMaxDepth,
			NodeBudget:  enforcement.DefaultNodeBudget,
			TargetScore: enforcement.DefaultTargetScore,
		}
	}
	cfg.Weights = preset.Weights

	if ov.BeamWidth != nil {
		cfg.BeamWidth = *ov.BeamWidth
	}
	if ov.FanOut != nil {
		cfg.FanOut = *ov.FanOut
	}
	if ov.MaxDepth != nil {
		cfg.MaxDepth = *ov.MaxDepth
	}
	if ov.NodeBudget != nil {
		cfg.NodeBudget = *ov.NodeBudget
	}
	if ov.TargetScore != nil {
		cfg.TargetScore = *ov.TargetScore
	}
	if mode == model.ModeEnforced {
		cfg.MinRequiredNodes = enforcement.MinRequiredFor(cfg.NodeBudget, preset.MinConsumptionRatio)
	}
	return cfg, preset, nil
}

func validateOverrides(ov Overrides) error {
	checks := []struct {
		field    string
		v        *int
		min, max int
	}{
		{"beam_width", ov.BeamWidth, MinBeamWidth, MaxBeamWidth},
		{"n_generate", ov.FanOut, MinFanOut, MaxFanOut},
		{"max_depth", ov.MaxDepth, MinMaxDepth, MaxMaxDepth},
		{"node_budget", ov.NodeBudget, MinNodeBudget, MaxNodeBudget},
	}
	for _, ck := range checks {
		if ck.v != nil && (*ck.v < ck.min || *ck.v > ck.max) {
			return invalid(ck.field, "must be between %d and %d, got %d", ck.min, ck.max, *ck.v)
		}
	}
	if t := ov.TargetScore; t != nil && (math.IsNaN(*t) || *t < 0 || *t > 1) {
		return invalid("target_score", "must be between 0 and 1, got %v", *t)
	}
	return nil
}

// RequestSamples returns the current frontier and counts the request as one
// iteration of the run.
func (c *Controller) RequestSamples(ctx context.Context, runID uuid.UUID) (Frontier, error) {
	ctx, span := tracer.Start(ctx, "tree.RequestSamples",
		trace.WithAttributes(attribute.String("shiko.run_id", runID.String())))
	defer span.End()

	var out Frontier
	err := c.store.Update(ctx, runID, func(run *model.Run) error {
		beam := frontier.Select(run.OrderedNodes(), run.Config.BeamWidth)
		if len(beam) == 0 {
			return ErrEmptyFrontier
		}
		run.Iterations++

		out = Frontier{
			RunID:     run.ID,
			Iteration: run.Iterations,
			Nodes:     make([]FrontierNode, 0, len(beam)),
		}
		for _, n := range beam {
			out.Nodes = append(out.Nodes, FrontierNode{
				NodeID:        n.ID,
				Depth:         n.Depth,
				Thought:       n.Thought,
				Score:         n.Score,
				NumCandidates: run.Config.FanOut,
			})
		}
		if run.Enforced() {
			level := run.Config.ExplorationLevel
			depth := beam[0].Depth
			met, _ := enforcement.MayFinalize(run)
			out.Guidance = &FrontierGuidance{
				Level:               level,
				NodesUsed:           run.NodeCount(),
				NodesRequired:       run.Config.MinRequiredNodes,
				RequirementMet:      met,
				Depth:               depth,
				DepthGuideline:      enforcement.GuidelineForDepth(depth),
				ScoringGuideline:    enforcement.GuidelineForLevel(level, depth),
				CandidateStrategies: enforcement.CandidateStrategies(level),
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEmptyFrontier) {
			return Frontier{}, err
		}
		return Frontier{}, spanErr(span, notFound(err))
	}
	span.SetAttributes(attribute.Int("shiko.frontier_size", len(out.Nodes)))
	return out, nil
}

// SubmitSamples scores candidates and inserts them as children of their
// parents. Malformed candidates are skipped without affecting the rest of
// the batch. Processing halts as soon as the run's node budget is reached.
func (c *Controller) SubmitSamples(ctx context.Context, runID uuid.UUID, groups []model.SampleGroup) (SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "tree.SubmitSamples",
		trace.WithAttributes(attribute.String("shiko.run_id", runID.String())))
	defer span.End()

	res := SubmitResult{RunID: runID, Status: SubmitRunning, Outcomes: []Outcome{}}
	err := c.store.Update(ctx, runID, func(run *model.Run) error {
		c.expand(run, groups, &res)
		res.NodesUsed = run.NodeCount()
		res.NodeBudget = run.Config.NodeBudget
		if run.Enforced() {
			st := enforcement.Evaluate(run)
			res.Enforcement = &st
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, spanErr(span, notFound(err))
	}

	span.SetAttributes(
		attribute.Int("shiko.nodes_expanded", res.NodesExpanded),
		attribute.Int("shiko.nodes_pruned", res.NodesPruned),
		attribute.String("shiko.submit_status", res.Status),
	)
	c.nodesCreated.Add(ctx, int64(res.NodesExpanded))
	c.nodesPruned.Add(ctx, int64(res.NodesPruned))
	if res.StopReason == StopBudgetExhausted {
		c.budgetExhausted.Add(ctx, 1)
	}
	c.logger.Debug("samples submitted",
		"run_id", runID,
		"nodes_expanded", res.NodesExpanded,
		"nodes_pruned", res.NodesPruned,
		"nodes_used", res.NodesUsed,
		"status", res.Status)
	return res, nil
}

// expand applies groups to run. The caller holds the run's lock.
func (c *Controller) expand(run *model.Run, groups []model.SampleGroup, res *SubmitResult) {
	for _, g := range groups {
		parent, ok := lookupParent(run, g.ParentID)
		if !ok {
			res.Outcomes = append(res.Outcomes, groupSkip(g.ParentID, SkipParentNotFound, ""))
			continue
		}
		if parent.Depth >= run.Config.MaxDepth {
			res.Outcomes = append(res.Outcomes, groupSkip(g.ParentID, SkipMaxDepthReached,
				fmt.Sprintf("parent depth %d has reached max depth %d", parent.Depth, run.Config.MaxDepth)))
			continue
		}
		if len(g.Candidates) == 0 {
			res.Outcomes = append(res.Outcomes, groupSkip(g.ParentID, SkipNoCandidates, ""))
			continue
		}

		for i, cand := range g.Candidates {
			if run.NodeCount() >= run.Config.NodeBudget {
				res.Status = SubmitStopped
				res.StopReason = StopBudgetExhausted
				return
			}
			score, eval, reason, detail := evaluate(cand, run.Config.Weights)
			if reason != "" {
				res.NodesPruned++
				res.Outcomes = append(res.Outcomes, Outcome{
					ParentID:   g.ParentID,
					Index:      i,
					SkipReason: reason,
					Detail:     detail,
				})
				continue
			}
			status := model.NodeStatusActive
			if score >= run.Config.TargetScore {
				status = model.NodeStatusTerminal
			}
			n := run.AddChild(parent, cand.Thought, score, status, eval, cand.Delta)
			res.NodesExpanded++
			id := n.ID
			res.Outcomes = append(res.Outcomes, Outcome{
				ParentID:   g.ParentID,
				Index:      i,
				Created:    true,
				NodeID:     &id,
				Score:      score,
				NodeStatus: status,
			})
		}
	}
}

func lookupParent(run *model.Run, raw string) (*model.Node, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, false
	}
	return run.Node(id)
}

func groupSkip(parentID, reason, detail string) Outcome {
	return Outcome{ParentID: parentID, Index: groupOutcomeIndex, SkipReason: reason, Detail: detail}
}

// evaluate scores a candidate. A non-empty reason means the candidate is
// malformed and must not become a node.
func evaluate(cand model.Candidate, w scoring.Weights) (float64, model.Evaluation, string, string) {
	if cand.Malformed != "" {
		return 0, model.Evaluation{}, SkipMalformed, cand.Malformed
	}
	if strings.TrimSpace(cand.Thought) == "" {
		return 0, model.Evaluation{}, SkipMissingThought, "thought is required"
	}
	if err := model.ValidateCandidateText(cand); err != nil {
		return 0, model.Evaluation{}, SkipTextTooLong, err.Error()
	}
	if cand.Progress == nil || cand.Feasibility == nil || cand.Risk == nil {
		return 0, model.Evaluation{}, SkipMissingEstimate, "progress, feasibility and risk estimates are required"
	}
	in := scoring.Inputs{
		Progress:    *cand.Progress,
		Feasibility: *cand.Feasibility,
		Risk:        *cand.Risk,
	}
	if cand.Confidence != nil {
		in.Confidence = *cand.Confidence
	}
	score, err := scoring.Score(in, w)
	if err != nil {
		return 0, model.Evaluation{}, SkipEstimateRange, err.Error()
	}
	return score, model.Evaluation{
		Progress:    in.Progress,
		Feasibility: in.Feasibility,
		Risk:        in.Risk,
		Confidence:  in.Confidence,
		Reasoning:   cand.Reasoning,
	}, "", ""
}

// GetBestPath extracts the highest-scoring root-to-leaf chain and marks the
// run completed. With enforceCompletion set, an enforced run that has not
// consumed its minimum node count is left untouched and an
// *EnforcementNotMetError is returned.
func (c *Controller) GetBestPath(ctx context.Context, runID uuid.UUID, enforceCompletion bool) (BestPath, error) {
	ctx, span := tracer.Start(ctx, "tree.GetBestPath",
		trace.WithAttributes(
			attribute.String("shiko.run_id", runID.String()),
			attribute.Bool("shiko.enforce_completion", enforceCompletion),
		))
	defer span.End()

	var (
		out       BestPath
		finalized FinalizedRun
	)
	err := c.store.Update(ctx, runID, func(run *model.Run) error {
		if enforceCompletion && run.Enforced() {
			if ok, _ := enforcement.MayFinalize(run); !ok {
				return &EnforcementNotMetError{
					Level:         run.Config.ExplorationLevel,
					NodesUsed:     run.NodeCount(),
					NodesRequired: run.Config.MinRequiredNodes,
				}
			}
		}
		best := bestNode(run)
		if best == nil {
			return ErrEmptyRun
		}
		chain := walkToRoot(run, best)

		out = BestPath{
			RunID:         run.ID,
			Mode:          run.Mode,
			FinalAnswer:   best.Thought,
			Confidence:    best.Score,
			PathLength:    len(chain),
			IsTerminal:    best.Status == model.NodeStatusTerminal,
			NodesExplored: run.NodeCount(),
			Chain:         chain,
		}
		if run.Enforced() {
			p := c.presets.Resolve(run.Config.ExplorationLevel)
			out.ValidationIssues = enforcement.ValidateResult(p, enforcement.ResultSummary{
				NodesExplored: run.NodeCount(),
				NodeBudget:    run.Config.NodeBudget,
				PathLength:    len(chain),
				Confidence:    best.Score,
			})
			report := enforcement.BuildReport(p, run.NodeCount(), run.Iterations)
			out.Report = &report
		}

		run.Status = model.RunStatusCompleted
		id := best.ID
		run.BestNodeID = &id

		finalized = FinalizedRun{
			RunID:       run.ID,
			TaskPrompt:  run.TaskPrompt,
			Mode:        run.Mode,
			Level:       run.Config.ExplorationLevel,
			NodeBudget:  run.Config.NodeBudget,
			Iterations:  run.Iterations,
			Path:        out,
			FinalizedAt: c.now().UTC(),
		}
		return nil
	})
	if err != nil {
		var notMet *EnforcementNotMetError
		if errors.As(err, &notMet) {
			span.SetAttributes(attribute.Int("shiko.shortfall", notMet.Shortfall()))
			return BestPath{}, err
		}
		return BestPath{}, spanErr(span, notFound(err))
	}

	span.SetAttributes(
		attribute.Float64("shiko.confidence", out.Confidence),
		attribute.Int("shiko.path_length", out.PathLength),
	)
	c.bestPathScore.Record(ctx, out.Confidence)
	if finalized.NodeBudget > 0 {
		c.budgetUtilization.Record(ctx, float64(out.NodesExplored)/float64(finalized.NodeBudget))
	}
	c.logger.Info("best path extracted",
		"run_id", runID,
		"confidence", out.Confidence,
		"path_length", out.PathLength,
		"nodes_explored", out.NodesExplored,
		"terminal", out.IsTerminal)

	c.notifyFinalized(ctx, finalized)
	return out, nil
}

// bestNode picks the node with the highest score, preferring deeper nodes
// and then lower ids on ties.
func bestNode(run *model.Run) *model.Node {
	if run.NodeCount() == 0 {
		return nil
	}
	return slices.MinFunc(run.OrderedNodes(), func(a, b *model.Node) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Depth, a.Depth); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}

// walkToRoot follows parent links from leaf and returns the chain in
// root-to-leaf order. A visited set bounds the walk by the node count.
func walkToRoot(run *model.Run, leaf *model.Node) []PathStep {
	visited := make(map[uuid.UUID]struct{}, leaf.Depth+1)
	var chain []PathStep
	for n := leaf; n != nil; {
		if _, seen := visited[n.ID]; seen || len(visited) >= run.NodeCount() {
			break
		}
		visited[n.ID] = struct{}{}
		chain = append(chain, PathStep{
			NodeID:  n.ID,
			Depth:   n.Depth,
			Thought: n.Thought,
			Score:   n.Score,
			Status:  n.Status,
		})
		if n.ParentID == nil {
			break
		}
		next, ok := run.Node(*n.ParentID)
		if !ok {
			break
		}
		n = next
	}
	slices.Reverse(chain)
	return chain
}

// notifyFinalized calls every hook in its own goroutine. Hooks get a context
// detached from the request so a finished request does not cancel them.
func (c *Controller) notifyFinalized(ctx context.Context, fr FinalizedRun) {
	if len(c.hooks) == 0 {
		return
	}
	hookCtx := context.WithoutCancel(ctx)
	for _, h := range c.hooks {
		c.hookWG.Add(1)
		go func(h FinalizeHook) {
			defer c.hookWG.Done()
			if err := h.OnRunFinalized(hookCtx, fr); err != nil {
				c.logger.Warn("finalize hook failed", "run_id", fr.RunID, "error", err)
			}
		}(h)
	}
}

// WaitHooks blocks until every in-flight finalize hook has returned or ctx
// is done. When ctx ends first, the helper goroutine waiting on the hooks
// keeps running until they return; hooks are not cancelled.
func (c *Controller) WaitHooks(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.hookWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnforcementStatus reports where a run stands against its preset.
func (c *Controller) EnforcementStatus(ctx context.Context, runID uuid.UUID) (enforcement.Status, error) {
	run, err := c.store.Snapshot(ctx, runID)
	if err != nil {
		return enforcement.Status{}, notFound(err)
	}
	return enforcement.Evaluate(run), nil
}

// ExplorationGuide returns the guide for level. Unknown levels are rejected.
func (c *Controller) ExplorationGuide(level string) (enforcement.Guide, error) {
	p, ok := c.presets.Lookup(level)
	if !ok {
		return enforcement.Guide{}, invalid("level", "unknown exploration level %q (one of %s)", level, strings.Join(c.presets.Levels(), ", "))
	}
	return enforcement.BuildGuide(p), nil
}

// ListRuns returns up to limit runs, newest first, with shortened prompts.
func (c *Controller) ListRuns(ctx context.Context, limit int) ([]storage.RunSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	runs, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("tree: list runs: %w", err)
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	for i := range runs {
		runs[i].TaskPrompt = model.TruncatePrompt(runs[i].TaskPrompt, listPromptRunes)
	}
	return runs, nil
}

// Stats returns store-wide counters.
func (c *Controller) Stats(ctx context.Context) storage.Stats {
	return c.store.Stats(ctx)
}

// DeleteRun removes a run and all its nodes.
func (c *Controller) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	if err := c.store.Delete(ctx, runID); err != nil {
		return notFound(err)
	}
	c.logger.Info("run deleted", "run_id", runID)
	return nil
}

// GetRun returns a consistent copy of the run's whole tree.
func (c *Controller) GetRun(ctx context.Context, runID uuid.UUID) (RunTree, error) {
	run, err := c.store.Snapshot(ctx, runID)
	if err != nil {
		return RunTree{}, notFound(err)
	}
	return RunTree{Run: run, Nodes: run.OrderedNodes()}, nil
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
