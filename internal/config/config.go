// Package config loads foreman's YAML or JSON5 configuration. Files may pull
// in others with $include, environment variables are expanded before
// parsing, unknown keys are rejected, and defaults are applied before
// validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	Version       int                 `yaml:"version"`
	Logging       LoggingConfig       `yaml:"logging"`
	Database      DatabaseConfig      `yaml:"database"`
	Agent         AgentConfig         `yaml:"agent"`
	Retry         RetryConfig         `yaml:"retry"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
	Audit         AuditConfig         `yaml:"audit"`
	Slack         SlackConfig         `yaml:"slack"`
	Drive         DriveConfig         `yaml:"drive"`
	LLM           LLMConfig           `yaml:"llm"`
	Workflows     WorkflowsConfig     `yaml:"workflows"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Notices describes keys Load moved from an older layout.
	Notices []string `yaml:"-" json:"-"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
	// RedactPatterns are extra regexes scrubbed from logged strings.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	// Driver is memory, postgres, cockroach or sqlite.
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	Migrate         *bool         `yaml:"migrate"`
}

// AgentConfig tunes planning and execution.
type AgentConfig struct {
	// MaxStepRetries bounds engine-level retries per step.
	MaxStepRetries *int `yaml:"max_step_retries"`
	// NetworkTools are tool name prefixes retried with the network profile.
	NetworkTools       []string `yaml:"network_tools"`
	ConfidenceFloor    float64  `yaml:"confidence_floor"`
	ClarificationLimit int      `yaml:"clarification_limit"`
}

// RetryConfig overrides the built-in retry profiles. Zero fields keep the
// profile's defaults.
type RetryConfig struct {
	Network RetryProfileConfig `yaml:"network"`
	Store   RetryProfileConfig `yaml:"store"`
}

type RetryProfileConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Factor       float64       `yaml:"factor"`
}

type SchedulerConfig struct {
	Enabled          *bool         `yaml:"enabled"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	Timezone         string        `yaml:"timezone"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

type SessionsConfig struct {
	Expiry        time.Duration `yaml:"expiry"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepBatch    int           `yaml:"sweep_batch"`
	// Lock is "local" for in-process ownership or "database" for leases
	// shared by every process on the same store.
	Lock     string        `yaml:"lock"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

type RateLimitConfig struct {
	Enabled           *bool   `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type AuditConfig struct {
	BufferSize   int           `yaml:"buffer_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Synchronous  bool          `yaml:"synchronous"`
}

// SlackConfig enables the slack_* tools.
type SlackConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BotToken string        `yaml:"bot_token"`
	APIURL   string        `yaml:"api_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DriveConfig enables the drive_* tools on an S3-compatible bucket.
type DriveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

type LLMConfig struct {
	// Provider is openai, anthropic or none.
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

type WorkflowsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

type ObservabilityConfig struct {
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing. An empty endpoint disables
// export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "config invalid"
	}
	return "config invalid: " + strings.Join(e.Issues, "; ")
}

// Load reads, merges and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	notices := UpgradeRaw(raw)
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.Notices = notices
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, as if loaded
// from an empty file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.Database.Migrate == nil {
		cfg.Database.Migrate = boolPtr(true)
	}
	if cfg.Agent.MaxStepRetries == nil {
		n := 3
		cfg.Agent.MaxStepRetries = &n
	}
	if len(cfg.Agent.NetworkTools) == 0 {
		cfg.Agent.NetworkTools = []string{"slack_", "drive_", "rag_"}
	}
	if cfg.Agent.ConfidenceFloor == 0 {
		cfg.Agent.ConfidenceFloor = 0.7
	}
	if cfg.Agent.ClarificationLimit == 0 {
		cfg.Agent.ClarificationLimit = 3
	}
	if cfg.Scheduler.Enabled == nil {
		cfg.Scheduler.Enabled = boolPtr(true)
	}
	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = time.Second
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "UTC"
	}
	if cfg.Scheduler.FailureThreshold == 0 {
		cfg.Scheduler.FailureThreshold = 3
	}
	if cfg.Sessions.Expiry == 0 {
		cfg.Sessions.Expiry = 24 * time.Hour
	}
	if cfg.Sessions.SweepInterval == 0 {
		cfg.Sessions.SweepInterval = time.Hour
	}
	if cfg.Sessions.SweepBatch == 0 {
		cfg.Sessions.SweepBatch = 500
	}
	if cfg.Sessions.Lock == "" {
		cfg.Sessions.Lock = "local"
	}
	if cfg.Sessions.LeaseTTL == 0 {
		cfg.Sessions.LeaseTTL = 2 * time.Minute
	}
	if cfg.RateLimit.Enabled == nil {
		cfg.RateLimit.Enabled = boolPtr(true)
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 1000
	}
	if cfg.Audit.WriteTimeout == 0 {
		cfg.Audit.WriteTimeout = 5 * time.Second
	}
	if cfg.Slack.Timeout == 0 {
		cfg.Slack.Timeout = 30 * time.Second
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "none"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "foreman"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("version: %v", err)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level must be debug, info, warn or error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format must be json or text")
	}

	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres", "cockroach", "cockroachdb", "sqlite":
		if strings.TrimSpace(c.Database.DSN) == "" {
			add("database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		add("database.driver must be memory, postgres, cockroach or sqlite")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		add("database.max_idle_conns must not exceed max_open_conns")
	}

	if c.Agent.MaxStepRetries != nil && *c.Agent.MaxStepRetries < 0 {
		add("agent.max_step_retries must be >= 0")
	}
	if c.Agent.ConfidenceFloor < 0 || c.Agent.ConfidenceFloor > 1 {
		add("agent.confidence_floor must be between 0 and 1")
	}
	if c.Agent.ClarificationLimit < 0 {
		add("agent.clarification_limit must be positive")
	}

	profiles := []struct {
		name string
		p    RetryProfileConfig
	}{{"network", c.Retry.Network}, {"store", c.Retry.Store}}
	for _, entry := range profiles {
		name, p := entry.name, entry.p
		if p.MaxAttempts < 0 {
			add("retry.%s.max_attempts must not be negative", name)
		}
		if p.Factor != 0 && p.Factor < 1 {
			add("retry.%s.factor must be >= 1", name)
		}
		if p.MaxDelay != 0 && p.InitialDelay > p.MaxDelay {
			add("retry.%s.initial_delay must not exceed max_delay", name)
		}
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		add("scheduler.timezone %q is not a known time zone", c.Scheduler.Timezone)
	}
	if c.Scheduler.TickInterval < 0 {
		add("scheduler.tick_interval must be positive")
	}
	if c.Scheduler.FailureThreshold < 0 {
		add("scheduler.failure_threshold must be positive")
	}

	if c.Sessions.Expiry < 0 || c.Sessions.SweepInterval < 0 {
		add("sessions.expiry and sessions.sweep_interval must be positive")
	}
	switch c.Sessions.Lock {
	case "local":
	case "database":
		if strings.EqualFold(c.Database.Driver, "memory") {
			add("sessions.lock database requires a SQL database driver")
		}
	default:
		add("sessions.lock must be local or database")
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		add("ratelimit values must be positive")
	}

	if c.Slack.Enabled && strings.TrimSpace(c.Slack.BotToken) == "" {
		add("slack.bot_token is required when slack is enabled")
	}
	if c.Slack.APIURL != "" && !strings.HasSuffix(c.Slack.APIURL, "/") {
		add("slack.api_url must end with a slash")
	}
	if c.Drive.Enabled && strings.TrimSpace(c.Drive.Bucket) == "" {
		add("drive.bucket is required when drive is enabled")
	}
	if (c.Drive.AccessKeyID == "") != (c.Drive.SecretAccessKey == "") {
		add("drive.access_key_id and drive.secret_access_key must be set together")
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "none":
	case "openai", "anthropic":
		if strings.TrimSpace(c.LLM.APIKey) == "" {
			add("llm.api_key is required for provider %s", c.LLM.Provider)
		}
	default:
		add("llm.provider must be openai, anthropic or none")
	}

	if c.Workflows.Watch && strings.TrimSpace(c.Workflows.Dir) == "" {
		add("workflows.watch requires workflows.dir")
	}

	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// SchedulerEnabled reports whether the scheduler should run.
func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}

// RateLimitEnabled reports whether plan generation is rate limited.
func (c *Config) RateLimitEnabled() bool {
	return c.RateLimit.Enabled == nil || *c.RateLimit.Enabled
}

// MigrateEnabled reports whether tables are created on open.
func (c *Config) MigrateEnabled() bool {
	return c.Database.Migrate == nil || *c.Database.Migrate
}

func boolPtr(v bool) *bool { return &v }
