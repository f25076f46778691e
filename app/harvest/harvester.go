package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/gh-harvest/app/tasks"
)

// Ledger records run history. Failures are logged and never abort a run.
type Ledger interface {
	StartRun(ctx context.Context, kinds []Kind, targets int) (int64, error)
	RecordTarget(ctx context.Context, runID int64, result TargetResult) error
	FinishRun(ctx context.Context, runID int64, summary *Summary) error
}

type Harvester struct {
	sources   map[Kind]Source
	extractor *Extractor
	filterer  *Filterer
	writer    *Writer
	runner    tasks.TaskRunnerInterface
	ledger    Ledger
}

func NewHarvester(sources []Source, extractor *Extractor, filterer *Filterer, writer *Writer, runner tasks.TaskRunnerInterface, ledger Ledger) *Harvester {
	byKind := make(map[Kind]Source, len(sources))
	for _, s := range sources {
		byKind[s.Kind()] = s
	}
	return &Harvester{
		sources:   byKind,
		extractor: extractor,
		filterer:  filterer,
		writer:    writer,
		runner:    runner,
		ledger:    ledger,
	}
}

// Run harvests every target and writes per-target and combined files. It
// returns an error only when the run could not be attempted at all.
func (h *Harvester) Run(ctx context.Context, targets []Target) (*Summary, error) {
	for _, t := range targets {
		if _, ok := h.sources[t.Kind]; !ok {
			return nil, fmt.Errorf("no source configured for kind '%s'", t.Kind)
		}
	}

	summary := &Summary{
		Results:       make([]TargetResult, len(targets)),
		CombinedPaths: make(map[Kind]string),
		Duplicates:    make(map[Kind]int),
	}
	for i, t := range targets {
		summary.Results[i] = TargetResult{Target: t, Status: StatusCancelled, Rejected: map[string]int{}}
	}

	// The ledger outlives an interrupt so the run can still be closed out.
	ledgerCtx := context.WithoutCancel(ctx)
	summary.RunID = h.startRun(ledgerCtx, targets)

	taskList := make([]tasks.TaskInterface, 0, len(targets))
	for i, t := range targets {
		taskList = append(taskList, newHarvestTargetTask(h, t, &summary.Results[i], summary.RunID))
	}
	h.runner.Run(ctx, taskList)

	summary.Interrupted = ctx.Err() != nil

	if err := h.writeCombined(targets, summary); err != nil {
		return summary, err
	}

	if h.ledger != nil && summary.RunID != 0 {
		if err := h.ledger.FinishRun(ledgerCtx, summary.RunID, summary); err != nil {
			slog.Warn("Failed to finish run in ledger", "run_id", summary.RunID, "error", err)
		}
	}

	return summary, nil
}

func (h *Harvester) startRun(ctx context.Context, targets []Target) int64 {
	if h.ledger == nil {
		return 0
	}

	var kinds []Kind
	seen := make(map[Kind]bool)
	for _, t := range targets {
		if !seen[t.Kind] {
			seen[t.Kind] = true
			kinds = append(kinds, t.Kind)
		}
	}

	runID, err := h.ledger.StartRun(ctx, kinds, len(targets))
	if err != nil {
		slog.Warn("Failed to start run in ledger", "error", err)
		return 0
	}
	return runID
}

// HarvestTarget pages through one target, keeping records that pass the
// filter, and writes them to the target's output file. Records collected
// before a failure or interrupt are still written.
func (h *Harvester) HarvestTarget(ctx context.Context, target Target) TargetResult {
	result := TargetResult{Target: target, Status: StatusCancelled, Rejected: map[string]int{}}
	if ctx.Err() != nil {
		return result
	}

	start := time.Now()
	source := h.sources[target.Kind]
	cursor := ""

	slog.Info("Harvesting target", "kind", target.Kind, "repo", target.Repo, "technology", target.Technology)

	for {
		if ctx.Err() != nil {
			result.Status = StatusCancelled
			break
		}

		page, err := source.FetchPage(ctx, target, cursor)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				result.Status = StatusCancelled
			} else {
				result.Status = StatusFailed
				result.Err = err
			}
			break
		}
		result.Pages++

		stop := h.collect(target, page.Items, &result)

		if page.Last() || stop || (target.MaxPages > 0 && result.Pages >= target.MaxPages) {
			result.Status = StatusCompleted
			break
		}
		cursor = page.Next
	}

	result.Accepted = len(result.Records)

	if result.Status != StatusCompleted && len(result.Records) == 0 {
		// Nothing new was collected, so the previous output stays in place.
		slog.Warn("Target produced no records, keeping previous output", "kind", target.Kind, "repo", target.Repo,
			"status", result.Status, "path", h.writer.TargetPath(target))
	} else {
		path, err := h.writer.WriteTarget(target, result.Records)
		if err != nil {
			slog.Error("Failed to write target output", "kind", target.Kind, "repo", target.Repo, "error", err)
			if result.Err == nil {
				result.Err = err
			}
			result.Status = StatusFailed
		} else {
			result.OutputPath = path
		}
	}

	result.Duration = time.Since(start)

	logAttrs := []any{"kind", target.Kind, "repo", target.Repo, "status", result.Status, "pages", result.Pages,
		"fetched", result.Fetched, "accepted", result.Accepted, "rejected", result.RejectedTotal(),
		"malformed", result.Malformed, "unsolved", result.Unsolved, "duration", result.Duration}
	if result.Err != nil {
		slog.Error("Target failed", append(logAttrs, "error", result.Err)...)
	} else {
		slog.Info("Target finished", logAttrs...)
	}

	return result
}

// collect runs extraction and filtering over one page and reports whether
// the item limit has been reached.
func (h *Harvester) collect(target Target, items []RawItem, result *TargetResult) bool {
	for _, item := range items {
		if target.MaxItems > 0 && result.Fetched >= target.MaxItems {
			return true
		}
		result.Fetched++

		record, err := h.extractor.Run(target, item)
		if err != nil {
			if errors.Is(err, ErrNoSolution) {
				result.Unsolved++
			} else {
				result.Malformed++
			}
			slog.Debug("Item skipped by extractor", "kind", target.Kind, "repo", target.Repo, "reason", err)
			continue
		}

		accepted, reason := h.filterer.Run(record, target.Filter)
		if !accepted {
			result.Rejected[reason]++
			slog.Debug("Record filtered", "kind", target.Kind, "repo", target.Repo, "url", record.URL, "reason", reason)
			continue
		}

		result.Records = append(result.Records, record)
	}
	return target.MaxItems > 0 && result.Fetched >= target.MaxItems
}

// writeCombined concatenates per-target records by kind in target order.
// The first record seen for a URL wins. A target that wrote nothing this run
// contributes the records of its previous output file, and a kind where no
// target has any output keeps its previous combined file.
func (h *Harvester) writeCombined(targets []Target, summary *Summary) error {
	var kinds []Kind
	byKind := make(map[Kind][]Record)
	seen := make(map[Kind]map[string]bool)
	hasOutput := make(map[Kind]bool)

	for i, t := range targets {
		if _, ok := seen[t.Kind]; !ok {
			kinds = append(kinds, t.Kind)
			seen[t.Kind] = make(map[string]bool)
			byKind[t.Kind] = []Record{}
		}

		records := summary.Results[i].Records
		if summary.Results[i].OutputPath != "" {
			hasOutput[t.Kind] = true
		} else {
			previous, found, err := h.writer.ReadTarget(t)
			if err != nil {
				slog.Warn("Failed to read previous target output", "kind", t.Kind, "repo", t.Repo, "error", err)
			}
			if found {
				hasOutput[t.Kind] = true
				records = previous
			}
		}

		for _, r := range records {
			if seen[t.Kind][r.URL] {
				summary.Duplicates[t.Kind]++
				continue
			}
			seen[t.Kind][r.URL] = true
			byKind[t.Kind] = append(byKind[t.Kind], r)
		}
	}

	for _, k := range kinds {
		if !hasOutput[k] {
			slog.Warn("No target output for kind, keeping previous combined output", "kind", k, "path", h.writer.CombinedPath(k))
			continue
		}
		path, err := h.writer.WriteCombined(k, byKind[k])
		if err != nil {
			return fmt.Errorf("failed to write combined %s output: %w", k, err)
		}
		summary.CombinedPaths[k] = path
		slog.Info("Combined output written", "kind", k, "records", len(byKind[k]), "duplicates", summary.Duplicates[k], "path", path)
	}

	return nil
}

type harvestTargetTask struct {
	tasks.Task
	harvester *Harvester
	target    Target
	result    *TargetResult
	runID     int64
}

func newHarvestTargetTask(h *Harvester, target Target, result *TargetResult, runID int64) *harvestTargetTask {
	return &harvestTargetTask{
		Task:      tasks.NewTask(tasks.TaskTypeHarvestTarget, target.Name()),
		harvester: h,
		target:    target,
		result:    result,
		runID:     runID,
	}
}

func (t *harvestTargetTask) Execute(ctx context.Context) error {
	*t.result = t.harvester.HarvestTarget(ctx, t.target)

	started := t.result.Status != StatusCancelled || t.result.Pages > 0
	if t.harvester.ledger != nil && t.runID != 0 && started {
		if err := t.harvester.ledger.RecordTarget(context.WithoutCancel(ctx), t.runID, *t.result); err != nil {
			slog.Warn("Failed to record target in ledger", "target", t.target.Name(), "error", err)
		}
	}

	return t.result.Err
}
