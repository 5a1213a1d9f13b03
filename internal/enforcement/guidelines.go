package enforcement

import "math"

// ScoreRange is an advisory [Min, Max] band for candidate scores.
type ScoreRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DepthGuideline is the level-independent advice for scoring at one depth.
type DepthGuideline struct {
	Description          string     `json:"description"`
	ScoreRange           ScoreRange `json:"score_range"`
	Strategy             string     `json:"strategy"`
	ExampleScores        []float64  `json:"example_scores"`
	DiversityRequirement string     `json:"diversity_requirement"`
}

var depthGuidelines = []DepthGuideline{
	{
		Description:          "Root - Core architectural patterns",
		ScoreRange:           ScoreRange{0.50, 0.70},
		Strategy:             "Generate 4 distinct architectural approaches. Score based on constraint satisfaction and potential. Keep all below 0.70 to ensure expansion.",
		ExampleScores:        []float64{0.55, 0.60, 0.58, 0.62},
		DiversityRequirement: "Maximum diversity - orthogonal approaches",
	},
	{
		Description:          "Depth 1 - Architecture refinements",
		ScoreRange:           ScoreRange{0.55, 0.72},
		Strategy:             "Refinements of parent pattern. Top candidates can reach 0.70-0.72, but keep most at 0.55-0.65.",
		ExampleScores:        []float64{0.58, 0.65, 0.60, 0.72},
		DiversityRequirement: "High diversity - explore variations",
	},
	{
		Description:          "Depth 2 - Specific mechanisms",
		ScoreRange:           ScoreRange{0.50, 0.75},
		Strategy:             "Specific implementations. Exceptional mechanisms can reach 0.70-0.75. Alternatives stay 0.50-0.65.",
		ExampleScores:        []float64{0.52, 0.68, 0.55, 0.73},
		DiversityRequirement: "Medium diversity - implementation variants",
	},
	{
		Description:          "Depth 3 - Implementation details",
		ScoreRange:           ScoreRange{0.45, 0.70},
		Strategy:             "Implementation specifics. Scores trend lower (0.45-0.60) unless exceptional insight.",
		ExampleScores:        []float64{0.48, 0.55, 0.50, 0.65},
		DiversityRequirement: "Low diversity - focus on details",
	},
	{
		Description:          "Depth 4+ - Deep refinements",
		ScoreRange:           ScoreRange{0.40, 0.65},
		Strategy:             "Deep details, edge cases, optimizations. Most scores 0.40-0.55. Only breakthrough insights reach 0.60-0.65.",
		ExampleScores:        []float64{0.42, 0.48, 0.45, 0.58},
		DiversityRequirement: "Minimal diversity - refinement only",
	},
}

// GuidelineForDepth returns the generic guideline for depth. Depths past
// the table reuse the deepest entry; negative depths use the root entry.
func GuidelineForDepth(depth int) DepthGuideline {
	return depthGuidelines[clampIndex(depth, len(depthGuidelines))]
}

// ScoringGuideline is the level-specific score band for one depth.
type ScoringGuideline struct {
	Range    ScoreRange `json:"range"`
	Strategy string     `json:"strategy"`
}

var scoringGuidelines = map[string][]ScoringGuideline{
	LevelShallow: {
		{ScoreRange{0.45, 0.65}, "Keep all below 0.70"},
		{ScoreRange{0.50, 0.68}, "Best can reach 0.68"},
		{ScoreRange{0.55, 0.70}, "Terminal nodes only"},
	},
	LevelModerate: {
		{ScoreRange{0.50, 0.70}, "Distribute 0.50-0.65, best 0.68-0.70"},
		{ScoreRange{0.55, 0.72}, "Top candidates 0.70-0.72"},
		{ScoreRange{0.50, 0.75}, "Exceptional can reach 0.75"},
		{ScoreRange{0.45, 0.70}, "Implementation details"},
	},
	LevelDeep: {
		{ScoreRange{0.50, 0.70}, "All below 0.70 to force expansion"},
		{ScoreRange{0.55, 0.68}, "Conservative scoring"},
		{ScoreRange{0.50, 0.70}, "Only excellent reach 0.70"},
		{ScoreRange{0.45, 0.65}, "Most 0.45-0.60"},
		{ScoreRange{0.40, 0.60}, "Deep details 0.40-0.55"},
	},
	LevelExhaustive: {
		{ScoreRange{0.45, 0.65}, "Very conservative, force deep exploration"},
		{ScoreRange{0.50, 0.65}, "Keep most below 0.65"},
		{ScoreRange{0.45, 0.65}, "Exceptional reach 0.65"},
		{ScoreRange{0.40, 0.60}, "Deep implementation"},
		{ScoreRange{0.35, 0.55}, "Fine details"},
	},
}

// GuidelineForLevel returns the score band for level at depth. Unknown
// levels use moderate; depths past the table use the deepest entry.
func GuidelineForLevel(level string, depth int) ScoringGuideline {
	rows, ok := scoringGuidelines[level]
	if !ok {
		rows = scoringGuidelines[FallbackLevel]
	}
	return rows[clampIndex(depth, len(rows))]
}

var candidateStrategies = map[string][]string{
	LevelShallow: {
		"Standard approach",
		"Alternative approach",
		"Hybrid (if obvious)",
	},
	LevelModerate: {
		"Established pattern A",
		"Established pattern B",
		"Hybrid A+B",
		"Novel/emerging pattern",
	},
	LevelDeep: {
		"Established pattern A",
		"Established pattern B",
		"Established pattern C",
		"Hybrid A+B",
		"Hybrid A+C",
		"Radical alternative",
	},
	LevelExhaustive: {
		"Established pattern A",
		"Established pattern B",
		"Established pattern C",
		"Hybrid A+B",
		"Hybrid A+C",
		"Hybrid B+C",
		"Radical alternative",
		"Edge case optimized",
		"Risk-minimized conservative",
		"Wild card unconventional",
	},
}

// CandidateStrategies suggests how to diversify candidates at level.
func CandidateStrategies(level string) []string {
	s, ok := candidateStrategies[level]
	if !ok {
		s = candidateStrategies[FallbackLevel]
	}
	return append([]string(nil), s...)
}

// RecommendScore suggests a score for the index-th candidate at depth.
// Deeper, more rigorous levels recommend more conservative scores so the
// frontier keeps expanding.
func RecommendScore(level string, depth, index int, isBest bool) float64 {
	g := GuidelineForLevel(level, depth)
	lo, hi := g.Range.Min, g.Range.Max
	var v float64
	switch level {
	case LevelShallow:
		if isBest {
			v = math.Min(hi, 0.68)
		} else {
			v = lo + float64(index)*0.05
		}
	case LevelModerate:
		switch {
		case isBest:
			v = math.Min(hi, 0.73)
		case index == 1:
			v = lo + 0.10
		default:
			v = lo + float64(index)*0.04
		}
	case LevelDeep, LevelExhaustive:
		switch {
		case isBest && depth >= 3:
			v = math.Min(hi, 0.70)
		case isBest:
			v = math.Min(hi-0.05, 0.65)
		default:
			v = lo + float64(index)*0.03
		}
	default:
		v = (lo + hi) / 2
	}
	return math.Round(v*100) / 100
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Guide is everything a caller needs to plan a run at one level.
type Guide struct {
	Level               string             `json:"level"`
	Description         string             `json:"description"`
	Preset              Preset             `json:"config"`
	MinRequiredNodes    int                `json:"min_required_nodes"`
	UseWhen             []string           `json:"use_when"`
	AvoidWhen           []string           `json:"avoid_when"`
	CandidateStrategies []string           `json:"candidate_strategies"`
	RootGuideline       DepthGuideline     `json:"root_guideline"`
	LevelGuidelines     []ScoringGuideline `json:"scoring_guidelines"`
	ScoringFormula      string             `json:"scoring_formula"`
}

// ScoringFormula describes the weighted score in words.
const ScoringFormula = "score = progress_weight*progress + feasibility_weight*feasibility + confidence_weight*confidence - risk_penalty*risk, clamped to [0,1]"

// BuildGuide assembles the exploration guide for p.
func BuildGuide(p Preset) Guide {
	rows, ok := scoringGuidelines[p.Name]
	if !ok {
		rows = scoringGuidelines[FallbackLevel]
	}
	return Guide{
		Level:               p.Name,
		Description:         p.Description,
		Preset:              p,
		MinRequiredNodes:    p.MinRequiredNodes(),
		UseWhen:             p.UseWhen,
		AvoidWhen:           p.AvoidWhen,
		CandidateStrategies: CandidateStrategies(p.Name),
		RootGuideline:       GuidelineForDepth(0),
		LevelGuidelines:     append([]ScoringGuideline(nil), rows...),
		ScoringFormula:      ScoringFormula,
	}
}
