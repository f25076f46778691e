package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

func newTestRepository(t *testing.T) *RunRepositoryImpl {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "nested", "harvest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	version, dirty, err := RunMigrations(db)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	repo := NewRunRepository(db)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	return repo
}

func TestRunMigrationsIdempotent(t *testing.T) {
	repo := newTestRepository(t)

	version, dirty, err := RunMigrations(repo.db)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func TestRunMigrationsUpgradesExistingLedger(t *testing.T) {
	ctx := context.Background()

	db, err := Open(filepath.Join(t.TempDir(), "harvest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	require.NoError(t, err)
	source, err := iofs.New(migrationFS, "migrations")
	require.NoError(t, err)
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	require.NoError(t, err)
	require.NoError(t, m.Migrate(1))

	_, err = db.ExecContext(ctx, `INSERT INTO runs (status, started_at) VALUES ('completed', '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO target_results (run_id, kind, repo, status, malformed, recorded_at)
		VALUES (1, 'issues', 'acme/app', 'completed', 4, '2024-01-01T00:01:00Z')`)
	require.NoError(t, err)

	version, dirty, err := RunMigrations(db)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	results, err := NewRunRepository(db).GetTargetResults(ctx, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Malformed)
	assert.Zero(t, results[0].Unsolved)
}

func TestRunRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	runID, err := repo.StartRun(ctx, []harvest.Kind{harvest.KindIssues, harvest.KindStackOverflow}, 2)
	require.NoError(t, err)
	assert.Greater(t, runID, int64(0))

	run, err := repo.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Equal(t, []string{"issues", "stackoverflow"}, run.Kinds)
	assert.Equal(t, 2, run.TargetCount)
	assert.Nil(t, run.FinishedAt)

	completed := harvest.TargetResult{
		Target:     harvest.Target{Kind: harvest.KindIssues, Repo: "kubernetes/kubernetes", Technology: "kubernetes"},
		Status:     harvest.StatusCompleted,
		Pages:      3,
		Fetched:    250,
		Malformed:  1,
		Unsolved:   9,
		Accepted:   40,
		Rejected:   map[string]int{harvest.ReasonNoSolution: 150, harvest.ReasonProblemTooShort: 59},
		OutputPath: "data/github_issues/kubernetes_kubernetes_issues.json",
		Duration:   1500 * time.Millisecond,
	}
	failed := harvest.TargetResult{
		Target:   harvest.Target{Kind: harvest.KindStackOverflow, Repo: "docker", Technology: "docker"},
		Status:   harvest.StatusFailed,
		Rejected: map[string]int{},
		Err:      errors.New("failed to fetch page: 502 Bad Gateway"),
	}

	require.NoError(t, repo.RecordTarget(ctx, runID, completed))
	require.NoError(t, repo.RecordTarget(ctx, runID, failed))

	summary := &harvest.Summary{RunID: runID, Results: []harvest.TargetResult{completed, failed}}
	require.NoError(t, repo.FinishRun(ctx, runID, summary))

	run, err = repo.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.FailedCount)
	assert.Equal(t, 40, run.AcceptedCount)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.FinishedAt.After(run.StartedAt))

	results, err := repo.GetTargetResults(ctx, runID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "issues", results[0].Kind)
	assert.Equal(t, "kubernetes/kubernetes", results[0].Repo)
	assert.Equal(t, "completed", results[0].Status)
	assert.Equal(t, 3, results[0].Pages)
	assert.Equal(t, 250, results[0].Fetched)
	assert.Equal(t, 1, results[0].Malformed)
	assert.Equal(t, 9, results[0].Unsolved)
	assert.Equal(t, 150, results[0].Rejected[harvest.ReasonNoSolution])
	assert.Equal(t, 1500*time.Millisecond, results[0].Duration)
	assert.Empty(t, results[0].Error)

	assert.Equal(t, "failed", results[1].Status)
	assert.Equal(t, "failed to fetch page: 502 Bad Gateway", results[1].Error)
	assert.Empty(t, results[1].Rejected)
}

func TestFinishRunStatus(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		summary harvest.Summary
		want    string
	}{
		{
			name:    "all completed",
			summary: harvest.Summary{Results: []harvest.TargetResult{{Status: harvest.StatusCompleted}}},
			want:    RunStatusCompleted,
		},
		{
			name:    "all failed",
			summary: harvest.Summary{Results: []harvest.TargetResult{{Status: harvest.StatusFailed}, {Status: harvest.StatusFailed}}},
			want:    RunStatusFailed,
		},
		{
			name: "interrupted wins",
			summary: harvest.Summary{
				Results:     []harvest.TargetResult{{Status: harvest.StatusFailed}},
				Interrupted: true,
			},
			want: RunStatusInterrupted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newTestRepository(t)
			runID, err := repo.StartRun(ctx, []harvest.Kind{harvest.KindIssues}, len(tt.summary.Results))
			require.NoError(t, err)

			require.NoError(t, repo.FinishRun(ctx, runID, &tt.summary))

			run, err := repo.GetRun(ctx, runID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, run.Status)
		})
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := repo.StartRun(ctx, []harvest.Kind{harvest.KindDiscussions}, 1)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	count, err := repo.GetRunCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGetRunMissing(t *testing.T) {
	repo := newTestRepository(t)

	run, err := repo.GetRun(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, run)

	results, err := repo.GetTargetResults(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, results)
}
