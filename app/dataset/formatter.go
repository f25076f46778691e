package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

const incidentSystemPrompt = `You are an expert DevOps engineer and SRE. Analyze the provided error logs, stack traces, or incident descriptions.

Your response should include:
1. **Root Cause**: What is causing this issue
2. **Severity**: Low / Medium / High / Critical
3. **Fix**: Step-by-step solution to resolve the issue
4. **Prevention**: How to prevent this in the future (optional)

Be direct, specific, and actionable. Reference exact commands, config changes, or code fixes when applicable.`

const reviewSystemPrompt = "You are an expert code reviewer. Analyze the provided Python code and give constructive, " +
	"specific feedback. Focus on bugs, potential issues, code quality, and improvements. Be direct and actionable."

const reviewInstruction = "Review the following Python code and provide constructive, specific feedback on " +
	"potential bugs, issues, and improvements."

var ErrNoInput = errors.New("no combined harvest files found")

// Formatter turns combined harvest output into train/eval JSONL files.
type Formatter struct {
	dataDir    string
	writer     *harvest.Writer
	outputDir  string
	format     Format
	trainRatio float64
	seed       int64
	now        func() time.Time
}

func NewFormatter(opts Options) (*Formatter, error) {
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return nil, err
	}
	if opts.TrainRatio <= 0 || opts.TrainRatio > 1 {
		return nil, fmt.Errorf("train ratio must be in (0, 1], got %v", opts.TrainRatio)
	}

	return &Formatter{
		dataDir:    opts.DataDir,
		writer:     harvest.NewWriter(opts.DataDir),
		outputDir:  filepath.Join(opts.DataDir, "processed"),
		format:     opts.Format,
		trainRatio: opts.TrainRatio,
		seed:       opts.Seed,
		now:        time.Now,
	}, nil
}

// Run reads all_<kind>.json for each kind (all kinds when empty) and writes
// train.jsonl, eval.jsonl and stats.json under <data>/processed.
func (f *Formatter) Run(kinds []harvest.Kind) (*Stats, error) {
	if len(kinds) == 0 {
		kinds = harvest.AllKinds
	}

	stats := &Stats{
		Format:           f.format,
		SourceCounts:     map[string]int{},
		Filtered:         map[string]int{},
		TechDistribution: map[string]int{},
		TrainPath:        filepath.Join(f.outputDir, "train.jsonl"),
		EvalPath:         filepath.Join(f.outputDir, "eval.jsonl"),
	}

	var examples []Example
	found := 0

	for _, kind := range kinds {
		records, err := f.loadRecords(kind)
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Combined file not found, skipping", "kind", kind, "path", f.writer.CombinedPath(kind))
			continue
		}
		if err != nil {
			return nil, err
		}
		found++

		stats.SourceCounts[string(kind)] = len(records)
		stats.TotalRaw += len(records)

		kept := 0
		for _, record := range records {
			example, ok, reason := f.prepare(kind, record)
			if !ok {
				stats.Filtered[reason]++
				continue
			}
			examples = append(examples, example)
			kept++
		}

		slog.Info("Source formatted", "kind", kind, "records", len(records), "kept", kept)
	}

	if found == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInput, f.dataDir)
	}

	rng := rand.New(rand.NewSource(f.seed))
	rng.Shuffle(len(examples), func(i, j int) {
		examples[i], examples[j] = examples[j], examples[i]
	})

	split := int(float64(len(examples)) * f.trainRatio)
	train := examples[:split]
	eval := examples[split:]

	stats.TotalKept = len(examples)
	stats.TrainCount = len(train)
	stats.EvalCount = len(eval)
	for _, ex := range train {
		stats.TechDistribution[ex.Meta.Technology]++
	}
	stats.ProcessedAt = f.now()

	if err := harvest.WriteJSONLines(stats.TrainPath, train); err != nil {
		return nil, err
	}
	if err := harvest.WriteJSONLines(stats.EvalPath, eval); err != nil {
		return nil, err
	}
	if err := harvest.WriteJSON(filepath.Join(f.outputDir, "stats.json"), stats); err != nil {
		return nil, err
	}

	slog.Info("Dataset written",
		"format", f.format,
		"train", stats.TrainCount,
		"eval", stats.EvalCount,
		"filtered", stats.TotalRaw-stats.TotalKept)

	return stats, nil
}

func (f *Formatter) loadRecords(kind harvest.Kind) ([]harvest.Record, error) {
	data, err := os.ReadFile(f.writer.CombinedPath(kind))
	if err != nil {
		return nil, err
	}

	var records []harvest.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.writer.CombinedPath(kind), err)
	}
	return records, nil
}

func (f *Formatter) prepare(kind harvest.Kind, record harvest.Record) (Example, bool, string) {
	switch kind {
	case harvest.KindIssues, harvest.KindDiscussions, harvest.KindStackOverflow:
		return f.prepareIncident(kind, record)
	case harvest.KindReviewComments:
		return f.prepareReview(record)
	}
	return Example{}, false, reasonUnsupportedKind
}

func (f *Formatter) prepareIncident(kind harvest.Kind, record harvest.Record) (Example, bool, string) {
	problem := cleanText(record.Problem)
	problem = extractErrorSnippet(withTitle(record.Title, problem), snippetLength)
	solution := cleanText(record.Solution)

	if ok, reason := checkIncident(problem, solution); !ok {
		return Example{}, false, reason
	}

	tech := record.Technology
	if tech == "" {
		tech = "unknown"
	}

	example := Example{Meta: newMeta(kind, record, tech)}
	prompt := fmt.Sprintf("Analyze this %s incident and provide diagnosis and fix:", tech)

	switch f.format {
	case FormatAlpaca:
		example.Instruction = prompt
		example.Input = problem
		example.Output = solution
	default:
		example.Messages = []Message{
			{Role: "system", Content: incidentSystemPrompt},
			{Role: "user", Content: prompt + "\n\n```\n" + problem + "\n```"},
			{Role: "assistant", Content: solution},
		}
	}

	return example, true, ""
}

func (f *Formatter) prepareReview(record harvest.Record) (Example, bool, string) {
	if record.CodeContext == "" || record.Feedback == "" {
		return Example{}, false, reasonMissingReviewInput
	}

	code := cleanDiffHunk(record.CodeContext)
	comment := cleanComment(record.Feedback)

	if ok, reason := checkReview(code, comment); !ok {
		return Example{}, false, reason
	}

	filename := "code.py"
	if record.Metadata.FilePath != "" {
		filename = path.Base(record.Metadata.FilePath)
	}

	example := Example{Meta: newMeta(harvest.KindReviewComments, record, record.Technology)}

	switch f.format {
	case FormatAlpaca:
		example.Instruction = reviewInstruction
		example.Input = fmt.Sprintf("File: %s\n\n```python\n%s\n```", filename, code)
		example.Output = comment
	default:
		example.Messages = []Message{
			{Role: "system", Content: reviewSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Review this Python code from `%s`:\n\n```python\n%s\n```", filename, code)},
			{Role: "assistant", Content: comment},
		}
	}

	return example, true, ""
}

func newMeta(kind harvest.Kind, record harvest.Record, tech string) Meta {
	id := strconv.Itoa(record.Metadata.Number)
	if kind == harvest.KindReviewComments && record.Metadata.CommentID != 0 {
		id = fmt.Sprintf("%d/%d", record.Metadata.Number, record.Metadata.CommentID)
	}

	return Meta{
		Repo:       record.Repo,
		Identifier: id,
		URL:        record.URL,
		Kind:       string(kind),
		Technology: tech,
	}
}
