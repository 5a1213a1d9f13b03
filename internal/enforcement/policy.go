package enforcement

import (
	"fmt"

	"github.com/ashita-ai/shiko/internal/model"
)

// Status is the enforcement view of a run at one point in time.
type Status struct {
	Mode           model.RunMode `json:"mode"`
	Level          string        `json:"level,omitempty"`
	NodesUsed      int           `json:"nodes_used"`
	NodesRequired  int           `json:"nodes_required"`
	RequirementMet bool          `json:"requirement_met"`
	MaxDepth       int           `json:"max_depth"`
	ShouldContinue bool          `json:"should_continue"`
	Reason         string        `json:"reason"`
}

// MayFinalize reports whether a best path may be extracted from run.
// Regular runs always may. Enforced runs may once their node count reaches
// the minimum recorded at creation. The caller holds the run's lock.
func MayFinalize(run *model.Run) (bool, string) {
	if !run.Enforced() {
		return true, "regular mode"
	}
	used, required := run.NodeCount(), run.Config.MinRequiredNodes
	if used < required {
		return false, fmt.Sprintf("minimum exploration not met: %d/%d nodes", used, required)
	}
	return true, fmt.Sprintf("minimum exploration met: %d/%d nodes", used, required)
}

// ShouldContinue is the advisory continuation check for enforced runs. It
// never gates an operation. Deep and exhaustive levels also ask for a tree
// at least three levels deep, and exhaustive asks for ten frontier requests.
func ShouldContinue(level string, nodesUsed, minRequired, currentDepth, iterations int) (bool, string) {
	if nodesUsed < minRequired {
		return true, fmt.Sprintf("Budget under-utilized: %d/%d nodes", nodesUsed, minRequired)
	}
	if (level == LevelDeep || level == LevelExhaustive) && currentDepth < 3 {
		return true, fmt.Sprintf("Depth requirement not met: %d/3", currentDepth)
	}
	if level == LevelExhaustive && iterations < 10 {
		return true, fmt.Sprintf("Iteration requirement: %d/10", iterations)
	}
	return false, "All enforcement requirements satisfied"
}

// Evaluate builds the enforcement status of run. The caller holds the run's lock.
func Evaluate(run *model.Run) Status {
	st := Status{
		Mode:      run.Mode,
		NodesUsed: run.NodeCount(),
		MaxDepth:  run.MaxNodeDepth(),
	}
	if !run.Enforced() {
		st.RequirementMet = true
		st.Reason = "Regular mode - no enforcement"
		return st
	}
	st.Level = run.Config.ExplorationLevel
	st.NodesRequired = run.Config.MinRequiredNodes
	st.RequirementMet, _ = MayFinalize(run)
	st.ShouldContinue, st.Reason = ShouldContinue(st.Level, st.NodesUsed, st.NodesRequired, st.MaxDepth, run.Iterations)
	return st
}

// ResultSummary is what ValidateResult inspects.
type ResultSummary struct {
	NodesExplored int
	NodeBudget    int
	PathLength    int
	Confidence    float64
}

// ValidateResult lists the ways a finalized result falls short of its preset.
// An empty list means the result meets every advisory check.
func ValidateResult(p Preset, r ResultSummary) []string {
	var issues []string

	budget := r.NodeBudget
	if budget <= 0 {
		budget = p.NodeBudget
	}
	minRequired := MinRequiredFor(budget, p.MinConsumptionRatio)
	if r.NodesExplored < minRequired {
		pct := 0.0
		if minRequired > 0 {
			pct = float64(r.NodesExplored) / float64(minRequired) * 100
		}
		issues = append(issues, fmt.Sprintf("Budget under-utilized: %d/%d nodes (%.1f%% of required)", r.NodesExplored, minRequired, pct))
	}

	if (p.Name == LevelDeep || p.Name == LevelExhaustive) && r.PathLength < 3 {
		issues = append(issues, fmt.Sprintf("Insufficient depth: %d/3", r.PathLength))
	}

	if r.Confidence < p.TargetScore*0.9 {
		issues = append(issues, fmt.Sprintf("Low confidence: %.2f (target: %.2f)", r.Confidence, p.TargetScore))
	}
	return issues
}

// Report summarizes a preset's requirements alongside a run's progress.
type Report struct {
	Level              string  `json:"level"`
	NodeBudget         int     `json:"node_budget"`
	MinRequired        int     `json:"min_required"`
	TargetScore        float64 `json:"target_score"`
	MinBudgetRatio     float64 `json:"min_budget_ratio"`
	ValidationTests    int     `json:"validation_tests"`
	SensitivityRuns    int     `json:"sensitivity_runs"`
	LiteratureRequired bool    `json:"literature_required"`
	NodesUsed          int     `json:"nodes_used"`
	Iterations         int     `json:"iterations"`
}

// BuildReport combines p with the progress counters of a run.
func BuildReport(p Preset, nodesUsed, iterations int) Report {
	return Report{
		Level:              p.Name,
		NodeBudget:         p.NodeBudget,
		MinRequired:        p.MinRequiredNodes(),
		TargetScore:        p.TargetScore,
		MinBudgetRatio:     p.MinConsumptionRatio,
		ValidationTests:    p.ValidationTests,
		SensitivityRuns:    p.SensitivityRuns,
		LiteratureRequired: p.LiteratureRequired,
		NodesUsed:          nodesUsed,
		Iterations:         iterations,
	}
}
