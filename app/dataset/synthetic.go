package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

const (
	defaultSyntheticCount    = 1500
	defaultRequestsPerMinute = 50
	defaultCheckpointEvery   = 50
	syntheticErrorBackoff    = 2 * time.Second

	incidentMaxTokens = 500
	reviewMaxTokens   = 200
)

type SyntheticKind string

const (
	SyntheticIncidents SyntheticKind = "incidents"
	SyntheticReviews   SyntheticKind = "reviews"
)

func ParseSyntheticKind(s string) (SyntheticKind, error) {
	switch SyntheticKind(s) {
	case SyntheticIncidents, SyntheticReviews:
		return SyntheticKind(s), nil
	}
	return "", fmt.Errorf("unknown synthetic kind '%s'", s)
}

const incidentPromptTemplate = `You are a senior DevOps/SRE engineer. Analyze this %s incident and provide a diagnosis and fix.

**Scenario:** %s

**Error/Logs:**
` + "```" + `
%s
` + "```" + `

Respond in this exact format:

**Root Cause:** [1-2 sentences explaining the specific cause]

**Severity:** [One of: Low, Medium, High, Critical]

**Immediate Fix:**
1. [Specific command or action]
2. [Next step]
3. [Additional steps if needed]

**Prevention:** [1-2 sentences on how to prevent this]

Requirements:
- Be specific and actionable
- Include exact commands where applicable
- Keep it concise but complete
- Don't use generic advice`

const reviewPromptTemplate = `You are an expert Python code reviewer. Review this code and provide constructive feedback.

The code has an issue related to: %s
Hint: %s

Code:
` + "```python" + `
%s
` + "```" + `

Write a concise, actionable code review comment (2-4 sentences). Be specific about:
1. What the problem is
2. What could go wrong
3. How to fix it

Do NOT use phrases like "Great code!" or "Nice work!". Be direct and technical.
Do NOT include code blocks in your response - just explain in prose.
Do NOT start with "The code" or "This code" - vary your opening.`

type SyntheticOptions struct {
	DataDir           string
	Kind              SyntheticKind
	Format            Format
	Count             int
	RequestsPerMinute float64
	CheckpointEvery   int
}

type SyntheticStats struct {
	Total   int            `json:"total"`
	ByGroup map[string]int `json:"by_group"`
	Errors  int            `json:"errors"`
}

// SyntheticFile is the checkpoint written while generating and read back
// when merging.
type SyntheticFile struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Model       string         `json:"model"`
	Kind        SyntheticKind  `json:"kind"`
	Interrupted bool           `json:"interrupted,omitempty"`
	Stats       SyntheticStats `json:"stats"`
	Examples    []Example      `json:"examples"`
}

type syntheticJob struct {
	group     string
	prompt    string
	maxTokens int
	build     func(response string) Example
}

// Synthesizer asks a language model for expert answers to built-in incident
// or code review scenarios and stores them as training examples.
type Synthesizer struct {
	completer       Completer
	kind            SyntheticKind
	format          Format
	count           int
	checkpointEvery int
	outputPath      string
	limiter         *rate.Limiter
	now             func() time.Time
	sleep           func(ctx context.Context, d time.Duration) error
}

func NewSynthesizer(completer Completer, opts SyntheticOptions) (*Synthesizer, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if _, err := ParseSyntheticKind(string(opts.Kind)); err != nil {
		return nil, err
	}
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return nil, err
	}

	count := opts.Count
	if count <= 0 {
		count = defaultSyntheticCount
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	every := opts.CheckpointEvery
	if every <= 0 {
		every = defaultCheckpointEvery
	}

	return &Synthesizer{
		completer:       completer,
		kind:            opts.Kind,
		format:          opts.Format,
		count:           count,
		checkpointEvery: every,
		outputPath:      SyntheticPath(opts.DataDir, opts.Kind),
		limiter:         rate.NewLimiter(rate.Every(time.Duration(float64(time.Minute)/rpm)), 1),
		now:             time.Now,
		sleep:           sleepContext,
	}, nil
}

func SyntheticPath(dataDir string, kind SyntheticKind) string {
	return filepath.Join(dataDir, "synthetic", fmt.Sprintf("synthetic_%s.json", kind))
}

// TrainPath is where the format command writes the training split.
func TrainPath(dataDir string) string {
	return filepath.Join(dataDir, "processed", "train.jsonl")
}

func (s *Synthesizer) OutputPath() string {
	return s.outputPath
}

// Run generates up to the configured number of examples. Failed completions
// are counted and skipped. An interrupt stops generation and the examples
// collected so far are still saved.
func (s *Synthesizer) Run(ctx context.Context) (*SyntheticFile, error) {
	file := &SyntheticFile{
		Model:    s.completer.Model(),
		Kind:     s.kind,
		Stats:    SyntheticStats{ByGroup: map[string]int{}},
		Examples: []Example{},
	}

	jobs := s.jobs()
	slog.Info("Generating synthetic examples", "kind", s.kind, "target", s.count, "jobs", len(jobs), "model", file.Model)

	for _, job := range jobs {
		if file.Stats.Total >= s.count || ctx.Err() != nil {
			break
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				break
			}
		}

		text, err := s.completer.Complete(ctx, job.prompt, job.maxTokens)
		if err == nil && strings.TrimSpace(text) == "" {
			err = errors.New("empty completion")
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			file.Stats.Errors++
			slog.Warn("Failed to generate example", "group", job.group, "error", err)
			if err := s.sleep(ctx, syntheticErrorBackoff); err != nil {
				break
			}
			continue
		}

		file.Examples = append(file.Examples, job.build(strings.TrimSpace(text)))
		file.Stats.Total++
		file.Stats.ByGroup[job.group]++

		if file.Stats.Total%s.checkpointEvery == 0 {
			slog.Info("Synthetic generation progress", "generated", file.Stats.Total, "target", s.count)
			if err := s.save(file); err != nil {
				return nil, err
			}
		}
	}

	file.Interrupted = ctx.Err() != nil
	if err := s.save(file); err != nil {
		return nil, err
	}

	slog.Info("Synthetic examples written",
		"kind", s.kind,
		"total", file.Stats.Total,
		"errors", file.Stats.Errors,
		"interrupted", file.Interrupted,
		"path", s.outputPath)

	return file, nil
}

func (s *Synthesizer) save(file *SyntheticFile) error {
	file.GeneratedAt = s.now()
	if err := harvest.WriteJSON(s.outputPath, file); err != nil {
		return fmt.Errorf("failed to save synthetic checkpoint: %w", err)
	}
	return nil
}

// jobs lays out one request per example, spreading the target count over
// the templates in catalog order.
func (s *Synthesizer) jobs() []syntheticJob {
	var jobs []syntheticJob

	switch s.kind {
	case SyntheticReviews:
		total := 0
		for _, g := range reviewGroups {
			total += len(g.Templates)
		}
		perTemplate := s.count/total + 1

		for _, g := range reviewGroups {
			for _, tmpl := range g.Templates {
				for i := 0; i < perTemplate; i++ {
					jobs = append(jobs, s.reviewJob(g, tmpl))
				}
			}
		}

	default:
		perTech := s.count / len(incidentGroups)
		for _, g := range incidentGroups {
			perTemplate := max(perTech/len(g.Templates), 1)
			for _, tmpl := range g.Templates {
				for i := 0; i < perTemplate; i++ {
					jobs = append(jobs, s.incidentJob(g.Technology, tmpl))
				}
			}
		}
	}

	return jobs
}

func (s *Synthesizer) incidentJob(tech string, tmpl incidentTemplate) syntheticJob {
	return syntheticJob{
		group:     tech,
		prompt:    fmt.Sprintf(incidentPromptTemplate, tech, tmpl.Scenario, tmpl.Error),
		maxTokens: incidentMaxTokens,
		build: func(response string) Example {
			example := Example{Meta: Meta{
				Repo:       "synthetic",
				Identifier: tmpl.Category + "/" + tmpl.Scenario,
				Kind:       "synthetic_" + string(SyntheticIncidents),
				Technology: tech,
			}}
			prompt := fmt.Sprintf("Analyze this %s incident and provide diagnosis and fix:", tech)

			switch s.format {
			case FormatAlpaca:
				example.Instruction = prompt
				example.Input = tmpl.Error
				example.Output = response
			default:
				example.Messages = []Message{
					{Role: "system", Content: incidentSystemPrompt},
					{Role: "user", Content: prompt + "\n\n```\n" + tmpl.Error + "\n```"},
					{Role: "assistant", Content: response},
				}
			}
			return example
		},
	}
}

func (s *Synthesizer) reviewJob(g reviewGroup, tmpl reviewTemplate) syntheticJob {
	return syntheticJob{
		group:     g.Category,
		prompt:    fmt.Sprintf(reviewPromptTemplate, g.Category, tmpl.Bug, tmpl.Code),
		maxTokens: reviewMaxTokens,
		build: func(response string) Example {
			example := Example{Meta: Meta{
				Repo:       "synthetic",
				Identifier: g.Category + "/" + tmpl.Bug,
				Kind:       "synthetic_" + string(SyntheticReviews),
				Technology: "python",
			}}

			switch s.format {
			case FormatAlpaca:
				example.Instruction = reviewInstruction
				example.Input = "```python\n" + tmpl.Code + "\n```"
				example.Output = response
			default:
				example.Messages = []Message{
					{Role: "system", Content: reviewSystemPrompt},
					{Role: "user", Content: "Review this Python code:\n\n```python\n" + tmpl.Code + "\n```"},
					{Role: "assistant", Content: response},
				}
			}
			return example
		},
	}
}

type MergeStats struct {
	Existing   int
	Synthetic  int
	Total      int
	OutputPath string
}

// MergeSynthetic writes <data>/processed/synthetic_<kind>.jsonl and a shuffled
// train_with_synthetic.jsonl holding train.jsonl plus the synthetic examples.
// train.jsonl itself is left untouched.
func MergeSynthetic(dataDir string, kind SyntheticKind, seed int64) (*MergeStats, error) {
	data, err := os.ReadFile(SyntheticPath(dataDir, kind))
	if err != nil {
		return nil, fmt.Errorf("failed to read synthetic examples: %w", err)
	}
	var file SyntheticFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse synthetic examples: %w", err)
	}

	processed := filepath.Join(dataDir, "processed")
	existing, err := readJSONLines(TrainPath(dataDir))
	if err != nil {
		return nil, err
	}

	synthetic := make([]json.RawMessage, 0, len(file.Examples))
	for i, ex := range file.Examples {
		raw, err := json.Marshal(ex)
		if err != nil {
			return nil, fmt.Errorf("failed to encode synthetic example %d: %w", i, err)
		}
		synthetic = append(synthetic, raw)
	}

	if err := harvest.WriteJSONLines(filepath.Join(processed, fmt.Sprintf("synthetic_%s.jsonl", kind)), synthetic); err != nil {
		return nil, err
	}

	combined := make([]json.RawMessage, 0, len(existing)+len(synthetic))
	combined = append(combined, existing...)
	combined = append(combined, synthetic...)

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(combined), func(i, j int) {
		combined[i], combined[j] = combined[j], combined[i]
	})

	stats := &MergeStats{
		Existing:   len(existing),
		Synthetic:  len(synthetic),
		Total:      len(combined),
		OutputPath: filepath.Join(processed, "train_with_synthetic.jsonl"),
	}
	if err := harvest.WriteJSONLines(stats.OutputPath, combined); err != nil {
		return nil, err
	}

	slog.Info("Synthetic examples merged", "existing", stats.Existing, "synthetic", stats.Synthetic, "path", stats.OutputPath)
	return stats, nil
}

func readJSONLines(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var rows []json.RawMessage
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			return nil, fmt.Errorf("invalid JSON on line %d of %s", i+1, path)
		}
		rows = append(rows, json.RawMessage(line))
	}
	return rows, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
