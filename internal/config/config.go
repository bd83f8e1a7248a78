package config

import (
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Runner     RunnerConfig     `yaml:"runner" mapstructure:"runner"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Hunter     HunterConfig     `yaml:"hunter" mapstructure:"hunter"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	SMTP       SMTPConfig       `yaml:"smtp" mapstructure:"smtp"`
	SES        SESConfig        `yaml:"ses" mapstructure:"ses"`
	Social     SocialConfig     `yaml:"social" mapstructure:"social"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Automation AutomationConfig `yaml:"automation" mapstructure:"automation"`
	Prompts    PromptsConfig    `yaml:"prompts" mapstructure:"prompts"`
	RateLimits RateLimitsConfig `yaml:"rate_limits" mapstructure:"rate_limits"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	CORSOrigins     []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RunnerConfig configures job execution and the provider guards.
type RunnerConfig struct {
	MaxInflightJobs   int `yaml:"max_inflight_jobs" mapstructure:"max_inflight_jobs"`
	JobTimeoutSecs    int `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
	CallTimeoutSecs   int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	BatchSize         int `yaml:"batch_size" mapstructure:"batch_size"`
	RetryAttempts     int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BreakerThreshold  int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	SettingsCacheSecs int `yaml:"settings_cache_secs" mapstructure:"settings_cache_secs"`
}

// JobTimeout returns the per-job timeout.
func (c RunnerConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSecs) * time.Second
}

// CallTimeout returns the per-provider-call timeout.
func (c RunnerConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// Provider choices.
const (
	SERPJina     = "jina"
	SERPGoogle   = "google"
	VerifyHunter = "hunter"
	VerifyLocal  = "local"
	MailSMTP     = "smtp"
	MailSES      = "ses"
)

// ProvidersConfig selects which client serves each collaborator role.
type ProvidersConfig struct {
	SERP     string `yaml:"serp" mapstructure:"serp"`
	Verifier string `yaml:"verifier" mapstructure:"verifier"`
	Mail     string `yaml:"mail" mapstructure:"mail"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// JinaConfig holds Jina reader and search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// GoogleConfig holds Google Places settings.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// HunterConfig holds Hunter.io settings.
type HunterConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ScrapeConfig configures the page fetcher.
type ScrapeConfig struct {
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBodyBytes int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HostRate     float64 `yaml:"host_rate" mapstructure:"host_rate"`
}

// SMTPConfig holds SMTP transport settings.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
	FromName string `yaml:"from_name" mapstructure:"from_name"`
}

// SESConfig holds Amazon SES settings.
type SESConfig struct {
	Region          string `yaml:"region" mapstructure:"region"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	From            string `yaml:"from" mapstructure:"from"`
	FromName        string `yaml:"from_name" mapstructure:"from_name"`
	ConfigSet       string `yaml:"config_set" mapstructure:"config_set"`
}

// RelayConfig points a platform at its message relay.
type RelayConfig struct {
	URL   string `yaml:"url" mapstructure:"url"`
	Token string `yaml:"token" mapstructure:"token"`
}

// SocialConfig configures the platform senders, keyed by platform name.
type SocialConfig struct {
	Relays map[string]RelayConfig `yaml:"relays" mapstructure:"relays"`
}

// RedisConfig configures the shared status cache. An empty Addr keeps the
// cache in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Key      string `yaml:"key" mapstructure:"key"`
}

// AutomationConfig configures the automation loop.
type AutomationConfig struct {
	Schedule        string   `yaml:"schedule" mapstructure:"schedule"`
	SocialPlatforms []string `yaml:"social_platforms" mapstructure:"social_platforms"`
}

// PromptsConfig points at the template file. Empty uses the built-ins.
type PromptsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// RateLimitsConfig holds per-provider requests per minute. Settings
// override these at runtime.
type RateLimitsConfig struct {
	DefaultPerMinute int            `yaml:"default_per_minute" mapstructure:"default_per_minute"`
	PerMinute        map[string]int `yaml:"per_minute" mapstructure:"per_minute"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("runner.max_inflight_jobs", 4)
	v.SetDefault("runner.job_timeout_secs", 1800)
	v.SetDefault("runner.call_timeout_secs", 30)
	v.SetDefault("runner.batch_size", 50)
	v.SetDefault("runner.retry_attempts", 3)
	v.SetDefault("runner.breaker_threshold", 5)
	v.SetDefault("runner.breaker_reset_secs", 30)
	v.SetDefault("runner.settings_cache_secs", 10)
	v.SetDefault("providers.serp", SERPJina)
	v.SetDefault("providers.verifier", VerifyHunter)
	v.SetDefault("providers.mail", MailSMTP)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("hunter.base_url", "https://api.hunter.io/v2")
	v.SetDefault("scrape.user_agent", "outreach-cli/1.0")
	v.SetDefault("scrape.timeout_secs", 20)
	v.SetDefault("scrape.max_body_bytes", 2<<20)
	v.SetDefault("scrape.host_rate", 1.0)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("ses.region", "us-east-1")
	v.SetDefault("redis.key", "outreach:pipeline_status")
	v.SetDefault("automation.schedule", "@every 1m")
	v.SetDefault("rate_limits.default_per_minute", 60)

	// Secrets have no default but must be known keys for env lookup.
	for _, key := range []string{
		"anthropic.key", "anthropic.base_url", "jina.key", "google.key", "hunter.key",
		"smtp.host", "smtp.username", "smtp.password", "smtp.from", "smtp.from_name",
		"ses.access_key_id", "ses.secret_access_key", "ses.from", "ses.from_name", "ses.config_set",
		"redis.addr", "redis.password", "prompts.path",
	} {
		v.SetDefault(key, "")
	}

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

// Validation modes.
const (
	ModeServe   = "serve"
	ModeRun     = "run"
	ModeMigrate = "migrate"
)

// Validate checks the configuration a command needs, reporting every
// problem at once. Missing provider keys are not errors: the stage that
// needs the provider fails its job instead.
func (c *Config) Validate(mode string) error {
	var errs []string
	if !slices.Contains([]string{"sqlite", "postgres"}, c.Store.Driver) {
		errs = append(errs, "store.driver must be sqlite or postgres, got "+c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case ModeMigrate:
	case ModeServe, ModeRun:
		if mode == ModeServe && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if !slices.Contains([]string{SERPJina, SERPGoogle}, c.Providers.SERP) {
			errs = append(errs, "providers.serp must be jina or google, got "+c.Providers.SERP)
		}
		if !slices.Contains([]string{VerifyHunter, VerifyLocal}, c.Providers.Verifier) {
			errs = append(errs, "providers.verifier must be hunter or local, got "+c.Providers.Verifier)
		}
		if !slices.Contains([]string{MailSMTP, MailSES}, c.Providers.Mail) {
			errs = append(errs, "providers.mail must be smtp or ses, got "+c.Providers.Mail)
		}
		if c.Runner.MaxInflightJobs < 1 || c.Runner.MaxInflightJobs > 32 {
			errs = append(errs, "runner.max_inflight_jobs must be between 1 and 32")
		}
		if c.Runner.BatchSize < 1 {
			errs = append(errs, "runner.batch_size must be > 0")
		}
		if c.Runner.RetryAttempts < 1 {
			errs = append(errs, "runner.retry_attempts must be > 0")
		}
		for provider, rpm := range c.RateLimits.PerMinute {
			if rpm <= 0 {
				errs = append(errs, "rate_limits.per_minute."+provider+" must be > 0")
			}
		}
	default:
		errs = append(errs, "unknown mode "+mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
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
