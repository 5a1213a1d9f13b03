package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shiko/internal/ledger"
	"github.com/ashita-ai/shiko/internal/model"
	"github.com/ashita-ai/shiko/internal/service/tree"
	"github.com/ashita-ai/shiko/internal/testutil"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestVerifyLedger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := ledger.Open(ctx, path, testutil.TestLogger())
	require.NoError(t, err)
	root := uuid.New()
	require.NoError(t, l.OnRunFinalized(ctx, tree.FinalizedRun{
		RunID:      uuid.New(),
		TaskPrompt: "name the service",
		Mode:       model.ModeRegular,
		NodeBudget: 50,
		Path: tree.BestPath{
			FinalAnswer: "name the service",
			Confidence:  0.5,
			PathLength:  1,
			Chain:       []tree.PathStep{{NodeID: root, Thought: "name the service", Score: 0.5}},
		},
		FinalizedAt: time.Now(),
	}))
	require.NoError(t, l.Close())

	var out bytes.Buffer
	require.NoError(t, verifyLedger(ctx, []string{path}, &out, testutil.TestLogger()))
	assert.Equal(t, "ok: 1 finalized runs verified\n", out.String())
}

func TestVerifyLedger_BadArgs(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer

	assert.ErrorContains(t, verifyLedger(ctx, nil, &out, testutil.TestLogger()), "usage")
	assert.Error(t, verifyLedger(ctx, []string{filepath.Join(t.TempDir(), "absent.db")}, &out, testutil.TestLogger()),
		"verifying must not create a missing ledger")
	assert.Empty(t, out.String())
}

func TestRealMain_UnknownCommand(t *testing.T) {
	assert.Equal(t, 1, realMain([]string{"frobnicate"}))
}
