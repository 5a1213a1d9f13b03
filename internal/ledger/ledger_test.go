package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shiko/internal/model"
	"github.com/ashita-ai/shiko/internal/service/tree"
	"github.com/ashita-ai/shiko/internal/storage"
	"github.com/ashita-ai/shiko/internal/testutil"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "ledger.db"), testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleRun() tree.FinalizedRun {
	root, child := uuid.New(), uuid.New()
	return tree.FinalizedRun{
		RunID:      uuid.New(),
		TaskPrompt: "pick a cache eviction policy",
		Mode:       model.ModeRegular,
		NodeBudget: 50,
		Iterations: 2,
		Path: tree.BestPath{
			FinalAnswer:   "LRU with a small admission window",
			Confidence:    0.82,
			PathLength:    2,
			IsTerminal:    true,
			NodesExplored: 7,
			Chain: []tree.PathStep{
				{NodeID: root, Depth: 0, Thought: "pick a cache eviction policy", Score: 0.5},
				{NodeID: child, Depth: 1, Thought: "LRU with a small admission window", Score: 0.82},
			},
		},
		FinalizedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func countRows(t *testing.T, l *Ledger, table string) int {
	t.Helper()
	var n int
	require.NoError(t, l.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "", testutil.TestLogger())
	assert.Error(t, err)
}

func TestOpen_MigrationsRunOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(ctx, path, testutil.TestLogger())
	require.NoError(t, err)
	require.NoError(t, l.OnRunFinalized(ctx, sampleRun()))
	require.NoError(t, l.Close())

	l, err = Open(ctx, path, testutil.TestLogger())
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	assert.Equal(t, 1, countRows(t, l, "schema_migrations"))
	assert.Equal(t, 1, countRows(t, l, "finalized_runs"), "reopening must not drop recorded runs")
	assert.Equal(t, path, l.Path())
}

func TestOnRunFinalized_RecordsChain(t *testing.T) {
	l := openTestLedger(t)
	fr := sampleRun()
	require.NoError(t, l.OnRunFinalized(context.Background(), fr))

	var (
		runID, answer string
		level         sql.NullString
		confidence    float64
		terminal      bool
	)
	require.NoError(t, l.db.QueryRow(
		`SELECT run_id, final_answer, exploration_level, confidence, is_terminal FROM finalized_runs`,
	).Scan(&runID, &answer, &level, &confidence, &terminal))
	assert.Equal(t, fr.RunID.String(), runID)
	assert.Equal(t, fr.Path.FinalAnswer, answer)
	assert.False(t, level.Valid, "regular runs carry no level")
	assert.InDelta(t, 0.82, confidence, 1e-9)
	assert.True(t, terminal)

	rows, err := l.db.Query(`SELECT position, node_id, depth FROM path_steps ORDER BY position`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	var got []string
	for rows.Next() {
		var (
			pos, depth int
			nodeID     string
		)
		require.NoError(t, rows.Scan(&pos, &nodeID, &depth))
		assert.Equal(t, pos, depth)
		got = append(got, nodeID)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{fr.Path.Chain[0].NodeID.String(), fr.Path.Chain[1].NodeID.String()}, got)
}

func TestLedger_AppendOnly(t *testing.T) {
	l := openTestLedger(t)
	require.NoError(t, l.OnRunFinalized(context.Background(), sampleRun()))

	_, err := l.db.Exec(`UPDATE finalized_runs SET confidence = 1`)
	assert.ErrorContains(t, err, "append-only")
	_, err = l.db.Exec(`DELETE FROM finalized_runs`)
	assert.ErrorContains(t, err, "append-only")
	assert.Equal(t, 1, countRows(t, l, "finalized_runs"))
}

func TestLedger_SameRunFinalizedTwice(t *testing.T) {
	l := openTestLedger(t)
	fr := sampleRun()
	require.NoError(t, l.OnRunFinalized(context.Background(), fr))
	require.NoError(t, l.OnRunFinalized(context.Background(), fr))

	assert.Equal(t, 2, countRows(t, l, "finalized_runs"))
	assert.Equal(t, 4, countRows(t, l, "path_steps"))
}

func TestLedger_ClosedRejectsWrites(t *testing.T) {
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), testutil.TestLogger())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.OnRunFinalized(context.Background(), sampleRun()), ErrClosed)
}

func TestLedger_AsFinalizeHook(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	ctrl := tree.New(storage.NewMemoryStore(), nil, testutil.TestLogger(), tree.WithFinalizeHook(l))

	started, err := ctrl.StartRun(ctx, tree.StartInput{TaskPrompt: "choose a log shipping format"})
	require.NoError(t, err)
	_, err = ctrl.SubmitSamples(ctx, started.RunID, []model.SampleGroup{{
		ParentID:   started.RootNodeID.String(),
		Candidates: []model.Candidate{testutil.Candidate("newline-delimited JSON", 0.8, 0.8, 0.1)},
	}})
	require.NoError(t, err)

	_, err = ctrl.GetBestPath(ctx, started.RunID, false)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, ctrl.WaitHooks(waitCtx))

	var answer string
	require.NoError(t, l.db.QueryRow(
		`SELECT final_answer FROM finalized_runs WHERE run_id = ?`, started.RunID.String(),
	).Scan(&answer))
	assert.Equal(t, "newline-delimited JSON", answer)
	assert.Equal(t, 2, countRows(t, l, "path_steps"))
}

func TestPing(t *testing.T) {
	l := openTestLedger(t)
	assert.NoError(t, l.Ping(context.Background()))
}

func TestLedger_HashChain(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	for range 3 {
		require.NoError(t, l.OnRunFinalized(ctx, sampleRun()))
	}

	rows, err := l.db.Query(`SELECT prev_hash, content_hash, path_root FROM finalized_runs ORDER BY seq`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	prev := ""
	for rows.Next() {
		var prevHash, contentHash, pathRoot string
		require.NoError(t, rows.Scan(&prevHash, &contentHash, &pathRoot))
		assert.Equal(t, prev, prevHash)
		assert.True(t, strings.HasPrefix(contentHash, "v1:"))
		assert.Len(t, pathRoot, 64)
		prev = contentHash
	}
	require.NoError(t, rows.Err())

	n, err := l.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestVerify_Empty(t *testing.T) {
	l := openTestLedger(t)
	n, err := l.Verify(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVerify_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		drop   string
		tamper string
		want   string
	}{
		{
			name:   "final answer rewritten",
			drop:   "finalized_runs_no_update",
			tamper: `UPDATE finalized_runs SET final_answer = 'something else' WHERE seq = 2`,
			want:   "content hash mismatch",
		},
		{
			name:   "path step rewritten",
			drop:   "path_steps_no_update",
			tamper: `UPDATE path_steps SET thought = 'edited' WHERE finalized_seq = 1 AND position = 1`,
			want:   "path steps changed",
		},
		{
			name:   "row removed",
			drop:   "finalized_runs_no_delete",
			tamper: `DELETE FROM path_steps WHERE finalized_seq = 1; DELETE FROM finalized_runs WHERE seq = 1`,
			want:   "chain broken",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := openTestLedger(t)
			ctx := context.Background()
			for range 3 {
				require.NoError(t, l.OnRunFinalized(ctx, sampleRun()))
			}

			_, err := l.db.Exec(`DROP TRIGGER ` + tt.drop)
			require.NoError(t, err)
			_, err = l.db.Exec(tt.tamper)
			require.NoError(t, err)

			_, err = l.Verify(ctx)
			require.ErrorIs(t, err, ErrTampered)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestVerify_ChainSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(ctx, path, testutil.TestLogger())
	require.NoError(t, err)
	require.NoError(t, l.OnRunFinalized(ctx, sampleRun()))
	require.NoError(t, l.Close())

	l, err = Open(ctx, path, testutil.TestLogger())
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	require.NoError(t, l.OnRunFinalized(ctx, sampleRun()))

	n, err := l.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestVerify_Closed(t *testing.T) {
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), testutil.TestLogger())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	_, err = l.Verify(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
