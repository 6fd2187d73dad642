package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server         ServerConfig       `yaml:"server"`
	Log            LogConfig          `yaml:"log"`
	Database       DatabaseConfig     `yaml:"database"`
	JWT            JWTConfig          `yaml:"jwt"`
	LLM            LLMConfig          `yaml:"llm"`
	Embedding      EmbeddingConfig    `yaml:"embedding"`
	Redis          RedisConfig        `yaml:"redis"`
	Storage        StorageConfig      `yaml:"storage"`
	Classification RetrievalConfig    `yaml:"classification"`
	Chat           RetrievalConfig    `yaml:"chat"`
	Escalation     EscalationConfig   `yaml:"escalation"`
	Summary        SummaryConfig      `yaml:"summary"`
	Schedule       ScheduleConfig     `yaml:"schedule"`
	RateLimit      RateLimitConfig    `yaml:"rate_limit"`
	Notification   NotificationConfig `yaml:"notification"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	// AllowedOrigins for the citizen and officer front-ends; empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
	// LogSQL turns on gorm's statement logger.
	LogSQL bool `yaml:"log_sql"`
}

// JWTConfig verifies officer tokens issued by the identity provider.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// LLMConfig selects the generation backend.
type LLMConfig struct {
	Provider       string  `yaml:"provider"` // ollama, openai, azure, anthropic, gemini
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmbeddingConfig selects the embedding backend. Empty provider, base_url
// or api_key fall back to the llm section.
type EmbeddingConfig struct {
	Provider                 string `yaml:"provider"` // ollama, openai, azure, gemini
	BaseURL                  string `yaml:"base_url"`
	APIKey                   string `yaml:"api_key"`
	Model                    string `yaml:"model"`
	TimeoutSeconds           int    `yaml:"timeout_seconds"`
	Mode                     string `yaml:"mode"` // sync, async
	VisibilityTimeoutSeconds int    `yaml:"visibility_timeout_seconds"`
	MaxAttempts              int    `yaml:"max_attempts"`
	SweepBatchSize           int    `yaml:"sweep_batch_size"`
	CacheTTLMinutes          int    `yaml:"cache_ttl_minutes"`
}

func (c EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c EmbeddingConfig) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}

func (c EmbeddingConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// RedisConfig for the optional task queue and query-embedding cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StorageConfig struct {
	ImageDir      string `yaml:"image_dir"`
	PublicBaseURL string `yaml:"public_base_url"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
}

// RetrievalConfig holds the similarity cut-off and result cap of a workflow.
type RetrievalConfig struct {
	Threshold float64 `yaml:"threshold"`
	TopK      int     `yaml:"top_k"`
}

type EscalationConfig struct {
	AgeThresholdHours int `yaml:"age_threshold_hours"`
	BatchLimit        int `yaml:"batch_limit"`
	Concurrency       int `yaml:"concurrency"`
}

func (c EscalationConfig) AgeThreshold() time.Duration {
	return time.Duration(c.AgeThresholdHours) * time.Hour
}

type SummaryConfig struct {
	WindowDays int  `yaml:"window_days"`
	Notify     bool `yaml:"notify"`
}

func (c SummaryConfig) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

// ScheduleConfig drives the in-process cron triggers.
type ScheduleConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Timezone           string `yaml:"timezone"`
	EscalationCron     string `yaml:"escalation_cron"`
	SummaryCron        string `yaml:"summary_cron"`
	EmbeddingSweepCron string `yaml:"embedding_sweep_cron"`
	// HolidayCountry picks a public holiday calendar ("NONE" = weekends only).
	HolidayCountry string `yaml:"holiday_country"`
	// CustomHolidays are fixed yearly dates in MM-DD form.
	CustomHolidays  []string `yaml:"custom_holidays"`
	SkipNonWorkdays bool     `yaml:"skip_non_workdays"`
}

type RateLimitConfig struct {
	SubmitRPS   float64 `yaml:"submit_rps"`
	SubmitBurst int     `yaml:"submit_burst"`
	// SubmitDailyCap limits submissions per client IP per 24h. Needs Redis; 0 disables.
	SubmitDailyCap int `yaml:"submit_daily_cap"`
}

type NotificationConfig struct {
	Bots []BotConfig `yaml:"bots"`
}

// BotConfig is one outbound chat webhook.
type BotConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // slack, discord, teams, telegram, generic
	Webhook string `yaml:"webhook"`
	// Extra holds the telegram chat id.
	Extra string `yaml:"extra"`
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.overrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Log: LogConfig{
			Level: "info",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "civictriage.db",
		},
		JWT: JWTConfig{
			Secret: "civictriage-secret-key-change-in-production",
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "llama3",
			Temperature:    0.2,
			MaxTokens:      2048,
			TimeoutSeconds: 120,
			MaxRetries:     2,
		},
		Embedding: EmbeddingConfig{
			Model:                    "nomic-embed-text",
			TimeoutSeconds:           30,
			Mode:                     "sync",
			VisibilityTimeoutSeconds: 300,
			MaxAttempts:              5,
			SweepBatchSize:           5,
			CacheTTLMinutes:          60,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Storage: StorageConfig{
			ImageDir:      "uploads",
			PublicBaseURL: "/uploads",
			MaxUploadMB:   10,
		},
		Classification: RetrievalConfig{Threshold: 0.75, TopK: 3},
		Chat:           RetrievalConfig{Threshold: 0.70, TopK: 20},
		Escalation: EscalationConfig{
			AgeThresholdHours: 48,
			BatchLimit:        20,
			Concurrency:       1,
		},
		Summary: SummaryConfig{
			WindowDays: 7,
		},
		Schedule: ScheduleConfig{
			Enabled:            true,
			Timezone:           "Local",
			EscalationCron:     "0 9 * * *",
			SummaryCron:        "0 8 * * 1",
			EmbeddingSweepCron: "*/5 * * * *",
			HolidayCountry:     "NONE",
			SkipNonWorkdays:    false,
		},
		RateLimit: RateLimitConfig{
			SubmitRPS:      1,
			SubmitBurst:    5,
			SubmitDailyCap: 20,
		},
	}
}

// Validate rejects settings the workflows cannot run with.
func (c *Config) Validate() error {
	for name, r := range map[string]RetrievalConfig{"classification": c.Classification, "chat": c.Chat} {
		if r.Threshold < 0 || r.Threshold > 1 {
			return fmt.Errorf("%s.threshold must be within [0,1], got %v", name, r.Threshold)
		}
		if r.TopK <= 0 {
			return fmt.Errorf("%s.top_k must be positive, got %d", name, r.TopK)
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("llm.timeout_seconds must be positive, got %d", c.LLM.TimeoutSeconds)
	}
	if c.Embedding.TimeoutSeconds <= 0 {
		return fmt.Errorf("embedding.timeout_seconds must be positive, got %d", c.Embedding.TimeoutSeconds)
	}
	if c.Escalation.AgeThresholdHours < 0 {
		return fmt.Errorf("escalation.age_threshold_hours must not be negative")
	}
	if c.Summary.WindowDays <= 0 {
		return fmt.Errorf("summary.window_days must be positive")
	}
	switch c.Embedding.Mode {
	case "", "sync", "async":
	default:
		return fmt.Errorf("embedding.mode must be sync or async, got %q", c.Embedding.Mode)
	}
	return nil
}

// EmbeddingProvider resolves the provider used for embeddings.
func (c *Config) EmbeddingProvider() string {
	if c.Embedding.Provider != "" {
		return c.Embedding.Provider
	}
	if c.LLM.Provider == "anthropic" {
		// no embedding endpoint there
		return "ollama"
	}
	return c.LLM.Provider
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}
	if baseURL := os.Getenv("LLM_BASE_URL"); baseURL != "" {
		c.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		c.LLM.APIKey = apiKey
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		c.Embedding.Model = model
	}
	if mode := os.Getenv("EMBEDDING_MODE"); mode != "" {
		c.Embedding.Mode = mode
	}
	if v := os.Getenv("CLASSIFICATION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Classification.Threshold = f
		}
	}
	if v := os.Getenv("CHAT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Chat.Threshold = f
		}
	}
	if v := os.Getenv("ESCALATION_AGE_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Escalation.AgeThresholdHours = n
		}
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL fills the redis section from redis://:password@host:port/db.
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}
