// Package testutil provides shared test helpers.
package testutil

import (
	"log/slog"
	"os"

	"github.com/ashita-ai/shiko/internal/model"
)

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Candidate builds a well-formed candidate with the given estimates and no
// confidence.
func Candidate(thought string, progress, feasibility, risk float64) model.Candidate {
	return model.Candidate{
		Thought:     thought,
		Progress:    Ptr(progress),
		Feasibility: Ptr(feasibility),
		Risk:        Ptr(risk),
	}
}

// Candidates builds n identical well-formed candidates.
func Candidates(n int, progress, feasibility, risk float64) []model.Candidate {
	out := make([]model.Candidate, n)
	for i := range out {
		out[i] = Candidate("option", progress, feasibility, risk)
	}
	return out
}
