package cfg

import "time"

const (
	CommandHarvest = "harvest"
	CommandFormat  = "format"
	CommandServe   = "serve"

	CommandSynthesize = "synthesize"
)

type Cfg struct {
	Command string

	// Credentials
	GitHubToken      string
	StackExchangeKey string
	GitHubAPIURL     string
	StackExchangeURL string

	// Harvest configuration
	TargetsDir        string
	DataDir           string
	Kinds             []string
	WorkerCount       int
	RequestsPerSecond float64
	MaxRetries        int
	RequestTimeout    time.Duration

	// Dataset configuration
	DatasetFormat string
	TrainRatio    float64
	Seed          int64

	// Synthetic examples
	AnthropicAPIKey string
	AnthropicModel  string
	AnthropicURL    string
	SyntheticKind   string
	SyntheticCount  int
	MergeOnly       bool

	// Run ledger and status API
	DBPath       string
	Port         string
	APIAccessKey string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
