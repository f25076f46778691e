package api

import (
	"github.com/lysyi3m/gh-harvest/app/database"
)

type Handler struct {
	runRepo database.RunRepository
	dataDir string
	version string
}

type runResponse struct {
	ID            int64    `json:"id"`
	Status        string   `json:"status"`
	Kinds         []string `json:"kinds"`
	TargetCount   int      `json:"target_count"`
	FailedCount   int      `json:"failed_count"`
	AcceptedCount int      `json:"accepted_count"`
	StartedAt     string   `json:"started_at"`
	FinishedAt    string   `json:"finished_at,omitempty"`
	Duration      string   `json:"duration,omitempty"`
}

type targetResponse struct {
	Kind       string         `json:"kind"`
	Repo       string         `json:"repo"`
	Technology string         `json:"technology"`
	Status     string         `json:"status"`
	Pages      int            `json:"pages"`
	Fetched    int            `json:"fetched"`
	Malformed  int            `json:"malformed"`
	Unsolved   int            `json:"unsolved"`
	Accepted   int            `json:"accepted"`
	Rejected   map[string]int `json:"rejected"`
	OutputPath string         `json:"output_path,omitempty"`
	Error      string         `json:"error,omitempty"`
	Duration   string         `json:"duration"`
}
