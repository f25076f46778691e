package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/gh-harvest/app/database"
)

func NewHandler(runRepo database.RunRepository, dataDir, version string) *Handler {
	return &Handler{
		runRepo: runRepo,
		dataDir: dataDir,
		version: version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":    "ok",
		"version":   h.version,
		"data_dir":  h.dataDir,
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if runCount, err := h.runRepo.GetRunCount(c.Request.Context()); err == nil {
		health["runs"] = runCount
	} else {
		slog.Error("Database error", "operation", "get_run_count", "error", err)
		health["status"] = "degraded"
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIListRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 500"})
			return
		}
		limit = parsed
	}

	runs, err := h.runRepo.ListRuns(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_runs", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  out,
		"count": len(out),
	})
}

func (h *Handler) APIGetRun(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.Status(http.StatusBadRequest)
		return
	}

	run, err := h.runRepo.GetRun(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "get_run", "run_id", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	results, err := h.runRepo.GetTargetResults(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "get_target_results", "run_id", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	targets := make([]targetResponse, 0, len(results))
	for _, r := range results {
		targets = append(targets, targetResponse{
			Kind:       r.Kind,
			Repo:       r.Repo,
			Technology: r.Technology,
			Status:     r.Status,
			Pages:      r.Pages,
			Fetched:    r.Fetched,
			Malformed:  r.Malformed,
			Unsolved:   r.Unsolved,
			Accepted:   r.Accepted,
			Rejected:   r.Rejected,
			OutputPath: r.OutputPath,
			Error:      r.Error,
			Duration:   r.Duration.String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"run":     toRunResponse(*run),
		"targets": targets,
	})
}

func toRunResponse(run database.Run) runResponse {
	resp := runResponse{
		ID:            run.ID,
		Status:        run.Status,
		Kinds:         run.Kinds,
		TargetCount:   run.TargetCount,
		FailedCount:   run.FailedCount,
		AcceptedCount: run.AcceptedCount,
		StartedAt:     run.StartedAt.In(time.Local).Format(time.RFC3339),
	}
	if resp.Kinds == nil {
		resp.Kinds = []string{}
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.In(time.Local).Format(time.RFC3339)
		resp.Duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
	}
	return resp
}
