package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/shiko/internal/enforcement"
)

const (
	presetsURI    = "tot://presets"
	recentRunsURI = "tot://runs/recent"
	runTreePrefix = "tot://runs/"
	runTreeSuffix = "/tree"
	recentLimit   = 20
)

func (s *Server) registerResources() {
	// tot://presets: the exploration level table.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			presetsURI,
			"Exploration Presets",
			mcplib.WithResourceDescription("Budgets, minimum consumption, beam settings and scoring weights for each exploration level"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePresets,
	)

	// tot://runs/recent: the newest runs.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			recentRunsURI,
			"Recent Runs",
			mcplib.WithResourceDescription("The most recently started runs, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentRuns,
	)

	// tot://runs/{id}/tree: every node of one run.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			runTreePrefix+"{id}"+runTreeSuffix,
			"Run Tree",
			mcplib.WithTemplateDescription("All nodes of a run with parent links, scores and statuses"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleRunTree,
	)
}

func (s *Server) handlePresets(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	presets := s.tree.Presets()
	levels := presets.Levels()
	out := make([]enforcement.Preset, 0, len(levels))
	for _, level := range levels {
		if p, ok := presets.Lookup(level); ok {
			out = append(out, p)
		}
	}
	return jsonResource(presetsURI, map[string]any{
		"fallback_level": enforcement.FallbackLevel,
		"presets":        out,
	})
}

func (s *Server) handleRecentRuns(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	runs, err := s.tree.ListRuns(ctx, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent runs: %w", err)
	}
	return jsonResource(recentRunsURI, runs)
}

func (s *Server) handleRunTree(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	runID, err := parseRunTreeURI(uri)
	if err != nil {
		return nil, err
	}
	rt, err := s.tree.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("mcp: run tree %s: %w", runID, err)
	}
	return jsonResource(uri, compactRunTree(rt))
}

// parseRunTreeURI extracts the run id from tot://runs/{id}/tree.
func parseRunTreeURI(uri string) (uuid.UUID, error) {
	if !strings.HasPrefix(uri, runTreePrefix) || !strings.HasSuffix(uri, runTreeSuffix) {
		return uuid.Nil, fmt.Errorf("mcp: invalid run tree URI: %s", uri)
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(uri, runTreePrefix), runTreeSuffix)
	if raw == "" {
		return uuid.Nil, errors.New("mcp: empty run_id in run tree URI")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mcp: invalid run_id %q in run tree URI", raw)
	}
	return id, nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
