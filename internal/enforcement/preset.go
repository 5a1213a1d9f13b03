// Package enforcement holds the exploration-level presets and the rules that
// decide when an enforced run has done enough work to be finalized.
package enforcement

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/shiko/internal/scoring"
)

// Standard level names.
const (
	LevelShallow    = "shallow"
	LevelModerate   = "moderate"
	LevelDeep       = "deep"
	LevelExhaustive = "exhaustive"
)

// FallbackLevel is used whenever a level name cannot be resolved.
const FallbackLevel = LevelModerate

// StandardLevels lists the standard levels in increasing order of effort.
var StandardLevels = []string{LevelShallow, LevelModerate, LevelDeep, LevelExhaustive}

// Preset is the full parameter set of one exploration level.
type Preset struct {
	Name                string          `json:"name" yaml:"name"`
	Description         string          `json:"description" yaml:"description"`
	NodeBudget          int             `json:"node_budget" yaml:"node_budget"`
	MinConsumptionRatio float64         `json:"min_consumption_ratio" yaml:"min_consumption_ratio"`
	BeamWidth           int             `json:"beam_width" yaml:"beam_width"`
	FanOut              int             `json:"n_generate" yaml:"n_generate"`
	MaxDepth            int             `json:"max_depth" yaml:"max_depth"`
	TargetScore         float64         `json:"target_score" yaml:"target_score"`
	Weights             scoring.Weights `json:"weights" yaml:"weights"`
	MaxIterations       int             `json:"max_iterations" yaml:"max_iterations"`
	ValidationTests     int             `json:"validation_tests" yaml:"validation_tests"`
	SensitivityRuns     int             `json:"sensitivity_runs" yaml:"sensitivity_runs"`
	LiteratureRequired  bool            `json:"literature_required" yaml:"literature_required"`
	UseWhen             []string        `json:"use_when,omitempty" yaml:"use_when"`
	AvoidWhen           []string        `json:"avoid_when,omitempty" yaml:"avoid_when"`
}

// MinRequiredNodes is floor(NodeBudget × MinConsumptionRatio).
func (p Preset) MinRequiredNodes() int {
	return MinRequiredFor(p.NodeBudget, p.MinConsumptionRatio)
}

// MinRequiredFor computes the node floor for an arbitrary budget. A small
// epsilon keeps ratios like 0.85 × 20 from landing one below the exact product.
func MinRequiredFor(budget int, ratio float64) int {
	return int(math.Floor(float64(budget)*ratio + 1e-9))
}

// Presets resolves exploration levels to presets.
type Presets interface {
	// Resolve never fails: unknown names fall back to moderate.
	Resolve(level string) Preset
	// Lookup reports whether level names a known preset.
	Lookup(level string) (Preset, bool)
	// Levels lists the known level names in increasing order of effort.
	Levels() []string
}

// Table is the default Presets implementation.
type Table struct {
	presets map[string]Preset
	order   []string
}

// NewTable builds a table from presets. Names are matched case-insensitively.
func NewTable(presets []Preset) (*Table, error) {
	t := &Table{presets: make(map[string]Preset, len(presets))}
	for _, p := range presets {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return nil, errors.New("enforcement: preset with empty name")
		}
		if _, dup := t.presets[name]; dup {
			return nil, fmt.Errorf("enforcement: duplicate preset %q", name)
		}
		p.Name = name
		t.presets[name] = p
		t.order = append(t.order, name)
	}
	if _, ok := t.presets[FallbackLevel]; !ok {
		return nil, fmt.Errorf("enforcement: table must define the %q preset", FallbackLevel)
	}
	sort.SliceStable(t.order, func(i, j int) bool {
		return t.presets[t.order[i]].NodeBudget < t.presets[t.order[j]].NodeBudget
	})
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Resolve returns the preset for level, or the moderate preset.
func (t *Table) Resolve(level string) Preset {
	if p, ok := t.Lookup(level); ok {
		return p
	}
	return t.presets[FallbackLevel]
}

// Lookup returns the preset for level if it exists.
func (t *Table) Lookup(level string) (Preset, bool) {
	p, ok := t.presets[strings.ToLower(strings.TrimSpace(level))]
	return p, ok
}

// Levels returns the level names ordered by node budget.
func (t *Table) Levels() []string {
	return append([]string(nil), t.order...)
}

// Validate checks each preset and the ordering of the standard levels:
// budget, ratio, beam width, fan-out, max depth and risk weight strictly
// increase from shallow to exhaustive; target score never decreases.
func (t *Table) Validate() error {
	for _, name := range t.order {
		p := t.presets[name]
		switch {
		case p.NodeBudget < 1:
			return fmt.Errorf("enforcement: %s: node_budget must be positive", name)
		case p.MinConsumptionRatio < 0 || p.MinConsumptionRatio > 1:
			return fmt.Errorf("enforcement: %s: min_consumption_ratio must be in [0,1]", name)
		case p.BeamWidth < 1 || p.FanOut < 1 || p.MaxDepth < 1:
			return fmt.Errorf("enforcement: %s: beam_width, n_generate and max_depth must be positive", name)
		case p.TargetScore < 0 || p.TargetScore > 1:
			return fmt.Errorf("enforcement: %s: target_score must be in [0,1]", name)
		}
		if err := p.Weights.Validate(); err != nil {
			return fmt.Errorf("enforcement: %s: %w", name, err)
		}
	}

	var prev *Preset
	for _, name := range StandardLevels {
		p, ok := t.presets[name]
		if !ok {
			continue
		}
		if prev != nil {
			if p.NodeBudget <= prev.NodeBudget ||
				p.MinConsumptionRatio <= prev.MinConsumptionRatio ||
				p.BeamWidth <= prev.BeamWidth ||
				p.FanOut <= prev.FanOut ||
				p.MaxDepth <= prev.MaxDepth ||
				p.Weights.Risk <= prev.Weights.Risk {
				return fmt.Errorf("enforcement: %s must demand strictly more effort than %s", p.Name, prev.Name)
			}
			if p.TargetScore < prev.TargetScore {
				return fmt.Errorf("enforcement: %s target_score is below %s", p.Name, prev.Name)
			}
		}
		cp := p
		prev = &cp
	}
	return nil
}

// tableFile is the YAML layout accepted by LoadTable.
type tableFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadTable reads a preset table from YAML. Presets omitted from the file
// are not inherited from the defaults; the file replaces the whole table.
func LoadTable(r io.Reader) (*Table, error) {
	var f tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("enforcement: decode presets: %w", err)
	}
	if len(f.Presets) == 0 {
		return nil, errors.New("enforcement: presets file defines no presets")
	}
	return NewTable(f.Presets)
}

// DefaultTable returns the four standard presets.
func DefaultTable() *Table {
	t, err := NewTable(defaultPresets())
	if err != nil {
		panic(err) // static data; covered by tests
	}
	return t
}

func defaultPresets() []Preset {
	return []Preset{
		{
			Name:                LevelShallow,
			Description:         "Surface-level exploration for quick decisions",
			NodeBudget:          20,
			MinConsumptionRatio: 0.80,
			BeamWidth:           2,
			FanOut:              2,
			MaxDepth:            2,
			TargetScore:         0.70,
			Weights:             scoring.Weights{Progress: 0.50, Feasibility: 0.30, Confidence: 0.20, Risk: 0.20},
			MaxIterations:       10,
			UseWhen:             []string{"Simple binary decisions", "Well-understood problems", "Time-critical (< 5 min)", "Low-stakes choices"},
			AvoidWhen:           []string{"Novel problems", "High-stakes decisions", "Safety-critical systems"},
		},
		{
			Name:                LevelModerate,
			Description:         "Balanced exploration for technology selection",
			NodeBudget:          50,
			MinConsumptionRatio: 0.85,
			BeamWidth:           3,
			FanOut:              3,
			MaxDepth:            3,
			TargetScore:         0.75,
			Weights:             scoring.Weights{Progress: 0.45, Feasibility: 0.35, Confidence: 0.20, Risk: 0.25},
			MaxIterations:       20,
			ValidationTests:     1,
			LiteratureRequired:  true,
			UseWhen:             []string{"Technology selection", "Architecture patterns", "Medium-stakes decisions", "2-4 competing approaches"},
			AvoidWhen:           []string{"Trivial decisions", "Critical safety systems", "Novel research"},
		},
		{
			Name:                LevelDeep,
			Description:         "Thorough exploration with validation",
			NodeBudget:          150,
			MinConsumptionRatio: 0.90,
			BeamWidth:           5,
			FanOut:              4,
			MaxDepth:            5,
			TargetScore:         0.80,
			Weights:             scoring.Weights{Progress: 0.40, Feasibility: 0.30, Confidence: 0.15, Risk: 0.35},
			MaxIterations:       50,
			ValidationTests:     3,
			SensitivityRuns:     3,
			LiteratureRequired:  true,
			UseWhen:             []string{"Novel research problems", "High-stakes architecture", "Safety-critical systems", "Confidence > 0.85 required"},
			AvoidWhen:           []string{"Simple obvious answers", "Time-critical", "Low-stakes choices"},
		},
		{
			Name:                LevelExhaustive,
			Description:         "Maximum rigor for publication-grade research",
			NodeBudget:          500,
			MinConsumptionRatio: 0.95,
			BeamWidth:           7,
			FanOut:              5,
			MaxDepth:            8,
			TargetScore:         0.85,
			Weights:             scoring.Weights{Progress: 0.35, Feasibility: 0.25, Confidence: 0.15, Risk: 0.40},
			MaxIterations:       100,
			ValidationTests:     10,
			SensitivityRuns:     10,
			LiteratureRequired:  true,
			UseWhen:             []string{"Publication-grade research", "Fundamental design decisions", "Maximum confidence required", "Months of work at stake"},
			AvoidWhen:           []string{"Simple decisions", "Time < 30 min", "Budget constraints"},
		},
	}
}

// Regular-mode fallbacks, used when a regular run gives no override.
const (
	DefaultBeamWidth   = 3
	DefaultFanOut      = 2
	DefaultMaxDepth    = 5
	DefaultNodeBudget  = 20
	DefaultTargetScore = 0.85
)
