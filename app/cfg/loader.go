package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

// ErrMissingToken is returned by RequireGitHubToken when no token was configured.
var ErrMissingToken = errors.New("GITHUB_TOKEN is not set")

var ErrMissingAnthropicKey = errors.New("ANTHROPIC_API_KEY is not set")

type rawCfg struct {
	// Credentials
	GitHubToken      string `long:"github-token" env:"GITHUB_TOKEN" description:"GitHub personal access token"`
	StackExchangeKey string `long:"stackexchange-key" env:"STACKEXCHANGE_API_KEY" description:"Stack Exchange API key (optional, raises quota)"`
	GitHubAPIURL     string `long:"github-api-url" env:"GITHUB_API_URL" description:"GitHub API base URL override (e.g. GitHub Enterprise)"`
	StackExchangeURL string `long:"stackexchange-url" env:"STACKEXCHANGE_URL" default:"https://api.stackexchange.com/2.3" description:"Stack Exchange API base URL"`

	// Harvest configuration
	TargetsDir        string   `long:"targets-dir" env:"TARGETS_DIR" default:"./targets" description:"Directory with <kind>.yml target overrides"`
	DataDir           string   `long:"data-dir" env:"DATA_DIR" default:"./data" description:"Output directory for harvested records"`
	Kinds             []string `long:"kind" env:"KINDS" env-delim:"," description:"Source kinds to harvest (issues, discussions, review_comments, stackoverflow); all when empty"`
	WorkerCount       int      `long:"worker-count" env:"WORKER_COUNT" default:"1" description:"Number of targets harvested concurrently"`
	RequestsPerSecond float64  `long:"rps" env:"REQUESTS_PER_SECOND" default:"2" description:"Request rate shared by all workers"`
	MaxRetries        int      `long:"max-retries" env:"MAX_RETRIES" default:"3" description:"Retries per request before a target is marked failed"`
	RequestTimeout    int      `long:"request-timeout" env:"REQUEST_TIMEOUT" default:"30" description:"HTTP request timeout in seconds"`

	// Dataset configuration
	DatasetFormat string  `long:"format" env:"DATASET_FORMAT" default:"chatml" choice:"chatml" choice:"alpaca" description:"Training example layout"`
	TrainRatio    float64 `long:"train-ratio" env:"TRAIN_RATIO" default:"0.9" description:"Share of examples written to train.jsonl"`
	Seed          int64   `long:"seed" env:"SEED" default:"42" description:"Shuffle seed for the train/eval split"`

	// Synthetic examples
	AnthropicAPIKey string `long:"anthropic-api-key" env:"ANTHROPIC_API_KEY" description:"Anthropic API key for the synthesize command"`
	AnthropicModel  string `long:"anthropic-model" env:"ANTHROPIC_MODEL" default:"claude-3-5-haiku-latest" description:"Model used to write synthetic answers"`
	AnthropicURL    string `long:"anthropic-url" env:"ANTHROPIC_BASE_URL" description:"Anthropic API base URL override"`
	SyntheticKind   string `long:"synthetic-kind" env:"SYNTHETIC_KIND" default:"incidents" choice:"incidents" choice:"reviews" description:"Scenario set used by the synthesize command"`
	SyntheticCount  int    `long:"synthetic-count" env:"SYNTHETIC_COUNT" default:"1500" description:"Number of synthetic examples to generate"`
	MergeOnly       bool   `long:"merge-only" env:"MERGE_ONLY" description:"Only merge existing synthetic examples into the training split"`

	// Run ledger and status API
	DBPath       string `long:"db-path" env:"DB_PATH" default:"./data/harvest.db" description:"SQLite run ledger path"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port for the serve command"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"gh-harvest/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for log timestamps"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`

	Args struct {
		Command string `positional-arg-name:"command" description:"harvest (default), format, synthesize or serve"`
	} `positional-args:"yes"`
}

// Load reads .env (when present), environment variables and command-line flags.
// It returns nil, nil when help was requested.
func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		Command:           cmp.Or(raw.Args.Command, CommandHarvest),
		GitHubToken:       strings.TrimSpace(raw.GitHubToken),
		StackExchangeKey:  raw.StackExchangeKey,
		GitHubAPIURL:      raw.GitHubAPIURL,
		StackExchangeURL:  raw.StackExchangeURL,
		TargetsDir:        raw.TargetsDir,
		DataDir:           raw.DataDir,
		Kinds:             normalizeKinds(raw.Kinds),
		WorkerCount:       raw.WorkerCount,
		RequestsPerSecond: raw.RequestsPerSecond,
		MaxRetries:        raw.MaxRetries,
		RequestTimeout:    time.Duration(raw.RequestTimeout) * time.Second,
		DatasetFormat:     raw.DatasetFormat,
		TrainRatio:        raw.TrainRatio,
		Seed:              raw.Seed,
		AnthropicAPIKey:   strings.TrimSpace(raw.AnthropicAPIKey),
		AnthropicModel:    raw.AnthropicModel,
		AnthropicURL:      raw.AnthropicURL,
		SyntheticKind:     raw.SyntheticKind,
		SyntheticCount:    raw.SyntheticCount,
		MergeOnly:         raw.MergeOnly,
		DBPath:            raw.DBPath,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

// RequireGitHubToken fails when the harvest needs GitHub access but no token is configured.
func (c *Cfg) RequireGitHubToken() error {
	if c.GitHubToken == "" {
		return ErrMissingToken
	}
	return nil
}

// RequireAnthropicKey fails when synthetic generation was requested without a key.
func (c *Cfg) RequireAnthropicKey() error {
	if c.AnthropicAPIKey == "" {
		return ErrMissingAnthropicKey
	}
	return nil
}

func (c *Cfg) validate() error {
	commands := []string{CommandHarvest, CommandFormat, CommandSynthesize, CommandServe}
	if !slices.Contains(commands, c.Command) {
		return fmt.Errorf("unknown command '%s' (expected one of %s)", c.Command, strings.Join(commands, ", "))
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.WorkerCount)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %v", c.RequestsPerSecond)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.SyntheticCount < 1 {
		return fmt.Errorf("synthetic count must be at least 1, got %d", c.SyntheticCount)
	}
	if c.TrainRatio <= 0 || c.TrainRatio > 1 {
		return fmt.Errorf("train ratio must be in (0, 1], got %v", c.TrainRatio)
	}
	return nil
}

func normalizeKinds(kinds []string) []string {
	var out []string
	for _, k := range kinds {
		for _, part := range strings.Split(k, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" && !slices.Contains(out, part) {
				out = append(out, part)
			}
		}
	}
	return out
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
