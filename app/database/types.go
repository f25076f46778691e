package database

import (
	"time"
)

type Run struct {
	ID            int64
	Status        string // running, completed, partial, failed, interrupted
	Kinds         []string
	TargetCount   int
	FailedCount   int
	AcceptedCount int
	StartedAt     time.Time
	FinishedAt    *time.Time
}

type TargetResult struct {
	ID         int64
	RunID      int64
	Kind       string
	Repo       string
	Technology string
	Status     string
	Pages      int
	Fetched    int
	Malformed  int
	Unsolved   int
	Accepted   int
	Rejected   map[string]int // rejection reason -> count
	OutputPath string
	Error      string
	Duration   time.Duration
	RecordedAt time.Time
}
