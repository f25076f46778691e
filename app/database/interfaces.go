package database

import (
	"context"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

type RunRepository interface {
	GetRun(ctx context.Context, id int64) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetRunCount(ctx context.Context) (int, error)
	GetTargetResults(ctx context.Context, runID int64) ([]TargetResult, error)

	harvest.Ledger
}
