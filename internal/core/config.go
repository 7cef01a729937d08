package core

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/finscenario/scenariomap/internal/recommend"
)

// Config holds the entire scenariomap configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Recommend RecommendConfig `yaml:"recommend"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Bus       BusConfig       `yaml:"bus"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	APIKeys        []string `yaml:"api_keys"`
	CORSOrigins    []string `yaml:"cors_origins"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	RateLimit      int      `yaml:"rate_limit"` // requests per minute per IP
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "memory", "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// CryptoConfig holds the field encryption key (base64, 32 bytes). Usually
// supplied through DATA_ENCRYPTION_KEY rather than the file.
type CryptoConfig struct {
	Key string `yaml:"key"`
}

// CorpusConfig selects the historical case corpus.
type CorpusConfig struct {
	Path string `yaml:"path"` // empty = embedded reference cases
	TopK int    `yaml:"top_k"`
}

// RecommendConfig configures the recommendation generator.
type RecommendConfig struct {
	Provider           string `yaml:"provider"` // "groq", "gemini" or "none"
	APIKey             string `yaml:"api_key"`
	Model              string `yaml:"model"`
	BaseURL            string `yaml:"base_url"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	Retries            int    `yaml:"retries"`
	MaxRecommendations int    `yaml:"max_recommendations"`
	FallbackToCases    bool   `yaml:"fallback_to_cases"`
	BreakerFailures    int    `yaml:"breaker_failures"`
	BreakerOpenSeconds int    `yaml:"breaker_open_seconds"`
}

// WorkflowConfig tunes batch processing.
type WorkflowConfig struct {
	BatchWorkers    int `yaml:"batch_workers"`
	MaxBatchRecords int `yaml:"max_batch_records"`
}

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Embedded  bool   `yaml:"embedded"`
	DataDir   string `yaml:"data_dir"`
	Port      int    `yaml:"port"`
	ClusterID string `yaml:"cluster_id"`
}

// WebhookConfig holds completion notification targets.
type WebhookConfig struct {
	URLs       []string `yaml:"urls"`
	Template   string   `yaml:"template"`    // generic, slack, teams, discord, pagerduty
	RoutingKey string   `yaml:"routing_key"` // pagerduty only
	Workers    int      `yaml:"workers"`
	MaxRetries int      `yaml:"max_retries"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults. Zero-config works out of the box.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           1790,
			MaxUploadBytes: 5 << 20,
			RateLimit:      600,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "./data/scenariomap.db",
		},
		Corpus: CorpusConfig{
			TopK: 5,
		},
		Recommend: RecommendConfig{
			Provider:           "groq",
			TimeoutSeconds:     15,
			MaxRecommendations: 6,
			FallbackToCases:    true,
			BreakerFailures:    5,
			BreakerOpenSeconds: 30,
		},
		Workflow: WorkflowConfig{
			BatchWorkers:    1,
			MaxBatchRecords: 5000,
		},
		Bus: BusConfig{
			Enabled:   false,
			URL:       "nats://127.0.0.1:4222",
			Embedded:  true,
			DataDir:   "./data/nats",
			Port:      4222,
			ClusterID: "scenariomap",
		},
		Archive: DefaultArchiveConfig(),
		Webhooks: WebhookConfig{
			Template:   "generic",
			Workers:    2,
			MaxRetries: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults,
// then applies .env and environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// A missing .env is normal; real environment variables win over it.
	_ = godotenv.Load()
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and DSNs from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DATA_ENCRYPTION_KEY"); v != "" {
		c.Crypto.Key = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Storage.Driver = "postgres"
		}
	}
	if c.Recommend.APIKey == "" {
		switch c.Recommend.Provider {
		case "groq":
			c.Recommend.APIKey = os.Getenv("GROQ_API_KEY")
		case "gemini":
			c.Recommend.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if len(c.Server.APIKeys) == 0 {
		if envKey := os.Getenv("SCENARIOMAP_API_KEY"); envKey != "" {
			c.Server.APIKeys = []string{envKey}
		}
	}
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}
	switch c.Recommend.Provider {
	case "groq", "gemini", "none", "":
	default:
		return fmt.Errorf("recommend.provider must be groq, gemini or none, got %q", c.Recommend.Provider)
	}
	if GetNotificationTemplate(c.Webhooks.Template, "") == nil {
		return fmt.Errorf("webhooks.template must be one of %s, got %q",
			strings.Join(ValidTemplateNames(), ", "), c.Webhooks.Template)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if c.Corpus.TopK < 0 || c.Workflow.BatchWorkers < 0 || c.Recommend.Retries < 0 {
		return fmt.Errorf("corpus.top_k, workflow.batch_workers and recommend.retries must not be negative")
	}
	return nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// AdapterConfig converts the recommend section for recommend.NewAdapter.
func (c *Config) AdapterConfig() recommend.Config {
	r := c.Recommend
	cfg := recommend.DefaultConfig()
	cfg.Timeout = time.Duration(r.TimeoutSeconds) * time.Second
	cfg.Retries = r.Retries
	cfg.MaxRecommendations = r.MaxRecommendations
	cfg.FallbackToCases = r.FallbackToCases
	if r.BreakerFailures > 0 {
		cfg.BreakerFailures = uint32(r.BreakerFailures)
	}
	cfg.BreakerOpen = time.Duration(r.BreakerOpenSeconds) * time.Second
	return cfg
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}

// AuthEnabled returns true if API key authentication is configured.
func (c *Config) AuthEnabled() bool {
	return len(c.Server.APIKeys) > 0
}

// ValidateAPIKey checks if the provided key matches any configured API key.
// Uses constant-time comparison to prevent timing attacks.
func (c *Config) ValidateAPIKey(key string) bool {
	for _, valid := range c.Server.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
