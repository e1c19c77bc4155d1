package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/factcheck-cli/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Notes      NotesConfig      `yaml:"notes" mapstructure:"notes"`
	LinkCheck  LinkCheckConfig  `yaml:"linkcheck" mapstructure:"linkcheck"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	DLQ        DLQConfig        `yaml:"dlq" mapstructure:"dlq"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	FastModel string `yaml:"fast_model" mapstructure:"fast_model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// NotionConfig holds the Notion token and the optional strategy database.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	StrategyDB string `yaml:"strategy_db" mapstructure:"strategy_db"`
}

// NotesConfig configures the notes platform client used for evaluation,
// submission and reconciliation.
type NotesConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Key               string  `yaml:"key" mapstructure:"key"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LinkCheckConfig configures the URL validator used by the note stage.
type LinkCheckConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// PipelineConfig holds the stage limits and the auto-submission policy.
type PipelineConfig struct {
	FactCheckConcurrency   int     `yaml:"fact_check_concurrency" mapstructure:"fact_check_concurrency"`
	ClassifyConcurrency    int     `yaml:"classify_concurrency" mapstructure:"classify_concurrency"`
	EligibilityConcurrency int     `yaml:"eligibility_concurrency" mapstructure:"eligibility_concurrency"`
	MaxNoteIterations      int     `yaml:"max_note_iterations" mapstructure:"max_note_iterations"`
	MaxNoteLinks           int     `yaml:"max_note_links" mapstructure:"max_note_links"`
	AutoSubmitThreshold    float64 `yaml:"auto_submit_threshold" mapstructure:"auto_submit_threshold"`
	AutoSubmit             bool    `yaml:"auto_submit" mapstructure:"auto_submit"`
	// MoreDetailsURL is formatted with the fact-check id.
	MoreDetailsURL string `yaml:"more_details_url" mapstructure:"more_details_url"`
	StrategiesPath string `yaml:"strategies_path" mapstructure:"strategies_path"`
}

// QueueConfig sizes the task queue.
type QueueConfig struct {
	Workers     int `yaml:"workers" mapstructure:"workers"`
	Capacity    int `yaml:"capacity" mapstructure:"capacity"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// JobsConfig selects the batch job store.
type JobsConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	Path     string `yaml:"path" mapstructure:"path"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// ReconcileConfig configures the periodic submission sweep.
type ReconcileConfig struct {
	Schedule    string `yaml:"schedule" mapstructure:"schedule"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	// PendingTimeoutMins is how long a submission may stay pending before a
	// sweep fails it so the note can be submitted again.
	PendingTimeoutMins int `yaml:"pending_timeout_mins" mapstructure:"pending_timeout_mins"`
}

// DLQConfig configures dead letter replay.
type DLQConfig struct {
	Schedule string `yaml:"schedule" mapstructure:"schedule"`
}

// RetryConfig configures retries around external calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the per-service circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	Schedule             string  `yaml:"schedule" mapstructure:"schedule"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FACTCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "factcheck.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.fast_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("notes.requests_per_second", 2)
	v.SetDefault("notes.timeout_secs", 30)
	v.SetDefault("linkcheck.timeout_secs", 10)
	v.SetDefault("linkcheck.concurrency", 8)
	v.SetDefault("linkcheck.requests_per_second", 10)
	v.SetDefault("linkcheck.user_agent", "factcheck-cli/1.0")
	v.SetDefault("pipeline.fact_check_concurrency", 15)
	v.SetDefault("pipeline.classify_concurrency", 5)
	v.SetDefault("pipeline.eligibility_concurrency", 8)
	v.SetDefault("pipeline.max_note_iterations", 3)
	v.SetDefault("pipeline.max_note_links", 5)
	v.SetDefault("pipeline.auto_submit_threshold", -0.5)
	v.SetDefault("pipeline.auto_submit", true)
	v.SetDefault("pipeline.more_details_url", "https://factcheck.example.org/fact-checks/%s")
	v.SetDefault("pipeline.strategies_path", "strategies.yaml")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.capacity", 256)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("jobs.driver", "badger")
	v.SetDefault("jobs.path", "data/jobs")
	v.SetDefault("jobs.ttl_hours", 72)
	v.SetDefault("reconcile.schedule", "@every 15m")
	v.SetDefault("reconcile.batch_size", 200)
	v.SetDefault("reconcile.concurrency", 4)
	v.SetDefault("reconcile.pending_timeout_mins", 30)
	v.SetDefault("dlq.schedule", "@every 5m")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.schedule", "@every 5m")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.dlq_depth_threshold", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the settings the given command needs. Modes "serve",
// "submit" and "reconcile" talk to the notes platform and require its URL.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	switch c.Jobs.Driver {
	case "badger":
		if c.Jobs.Path == "" {
			errs = append(errs, "jobs.path is required for the badger driver")
		}
	case "memory":
	default:
		errs = append(errs, "jobs.driver must be badger or memory")
	}

	p := c.Pipeline
	if p.FactCheckConcurrency < 1 {
		errs = append(errs, "pipeline.fact_check_concurrency must be at least 1")
	}
	if p.ClassifyConcurrency < 1 {
		errs = append(errs, "pipeline.classify_concurrency must be at least 1")
	}
	if p.MaxNoteIterations < 1 {
		errs = append(errs, "pipeline.max_note_iterations must be at least 1")
	}
	if p.MaxNoteLinks < 0 {
		errs = append(errs, "pipeline.max_note_links must not be negative")
	}
	if math.IsNaN(p.AutoSubmitThreshold) || math.IsInf(p.AutoSubmitThreshold, 0) {
		errs = append(errs, "pipeline.auto_submit_threshold must be finite")
	}
	if c.Queue.Workers < 1 || c.Queue.Capacity < 1 {
		errs = append(errs, "queue.workers and queue.capacity must be at least 1")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Notes.BaseURL == "" {
			errs = append(errs, "notes.base_url is required")
		}
	case "submit", "reconcile":
		if c.Notes.BaseURL == "" {
			errs = append(errs, "notes.base_url is required")
		}
	case "classify", "factcheck", "note", "import", "jobs", "strategies":
	default:
		errs = append(errs, "unknown mode "+mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
