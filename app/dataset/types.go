package dataset

import (
	"fmt"
	"time"
)

type Format string

const (
	FormatChatML Format = "chatml"
	FormatAlpaca Format = "alpaca"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatChatML, FormatAlpaca:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown dataset format '%s'", s)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Meta identifies where an example came from. Training frameworks ignore it.
type Meta struct {
	Repo       string `json:"repo"`
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
	Kind       string `json:"kind"`
	Technology string `json:"technology,omitempty"`
}

// Example is one training row. ChatML rows set Messages, Alpaca rows set
// Instruction, Input and Output.
type Example struct {
	Messages    []Message `json:"messages,omitempty"`
	Instruction string    `json:"instruction,omitempty"`
	Input       string    `json:"input,omitempty"`
	Output      string    `json:"output,omitempty"`
	Meta        Meta      `json:"_meta"`
}

type Stats struct {
	ProcessedAt      time.Time      `json:"processed_at"`
	Format           Format         `json:"format"`
	SourceCounts     map[string]int `json:"source_counts"`
	TotalRaw         int            `json:"total_raw"`
	TotalKept        int            `json:"total_kept"`
	Filtered         map[string]int `json:"filtered"`
	TrainCount       int            `json:"train_count"`
	EvalCount        int            `json:"eval_count"`
	TechDistribution map[string]int `json:"tech_distribution"`
	TrainPath        string         `json:"train_path"`
	EvalPath         string         `json:"eval_path"`
}

type Options struct {
	DataDir    string
	Format     Format
	TrainRatio float64
	Seed       int64
}
