// Package config holds the typed settings bag for the server and worker
// binaries, loaded from a YAML file with environment variable overrides,
// in the teacher's own config-loading idiom (yaml tags + pterm console
// feedback + sane defaults applied after unmarshal).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"
)

// AnthropicConfig configures the Anthropic chat/embedding provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OpenAIConfig configures the OpenAI-compatible chat/embedding provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// GoogleConfig configures the Google Gemini chat/embedding provider.
type GoogleConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// LLMClientConfig selects and configures the active chat provider.
type LLMClientConfig struct {
	Provider  string          `yaml:"provider"` // "anthropic" | "openai" | "google"
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
	Google    GoogleConfig    `yaml:"google,omitempty"`
}

// EmbeddingsConfig configures the embedding backend, independent of the
// chat provider (an Anthropic chat deployment may still embed via OpenAI).
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// DatabaseConfig is the relational Store's connection.
type DatabaseConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

// VectorStoreConfig selects and configures the Vector Store backend.
type VectorStoreConfig struct {
	Backend    string `yaml:"backend"` // "postgres" | "qdrant" | "memory"
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Dimensions int     `yaml:"dimensions"`
	Metric     string `yaml:"metric"` // "cosine" | "l2" | "dot"
}

// RedisConfig backs the Dedupe Monitor's idempotency locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// TaskQueueConfig selects the Task Runner backend.
type TaskQueueConfig struct {
	Backend      string `yaml:"backend"` // "postgres" | "kafka"
	KafkaBrokers string `yaml:"kafka_brokers,omitempty"`
}

// AuthConfig configures the ambient auth surface the httpapi package
// trusts; credential issuance itself lives outside this module.
type AuthConfig struct {
	SecretKey           string `yaml:"secret_key"`
	AccessTokenMinutes  int    `yaml:"access_token_expire_minutes"`
	RefreshTokenDays    int    `yaml:"refresh_token_expire_days"`
}

// BudgetConfig caps per-user daily LLM token spend enforced by the budget
// gate before any Gateway call is dispatched.
type BudgetConfig struct {
	MaxDailyTokens int `yaml:"max_daily_tokens"`
}

// TracingConfig controls OpenTelemetry trace export for both binaries.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// Config is the full process configuration.
type Config struct {
	Host       string             `yaml:"host"`
	Port       int                `yaml:"port"`
	LogLevel   string             `yaml:"log_level"`
	Database   DatabaseConfig     `yaml:"database"`
	DBPool     *pgxpool.Pool      `yaml:"-"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Redis      RedisConfig        `yaml:"redis"`
	TaskQueue  TaskQueueConfig    `yaml:"task_queue"`
	LLMClient  LLMClientConfig    `yaml:"llm_client"`
	Embeddings EmbeddingsConfig   `yaml:"embeddings"`
	Auth       AuthConfig         `yaml:"auth"`
	Budget     BudgetConfig       `yaml:"budget"`
	Tracing    TracingConfig      `yaml:"tracing"`
}

// LoadConfig reads the configuration from a YAML file, then applies
// environment overrides (see loadEnvOverrides) and defaults.
func LoadConfig(filename string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			if !os.IsNotExist(err) {
				pterm.Error.Printf("Error reading config file: %v\n", err)
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
			pterm.Warning.Printf("Config file %s not found, using environment defaults.\n", filename)
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			pterm.Error.Printf("Error unmarshaling config: %v\n", err)
			return nil, fmt.Errorf("error unmarshaling config: %w", err)
		}
	}

	loadEnvOverrides(&cfg)
	applyDefaults(&cfg)

	pterm.Success.Println("Configuration loaded successfully.")
	return &cfg, nil
}

// loadEnvOverrides applies the environment surface named in this module's
// expanded spec: DATABASE_URL, VECTOR_STORE_DSN, REDIS_URL, SECRET_KEY,
// ACCESS_TOKEN_EXPIRE_MINUTES, REFRESH_TOKEN_EXPIRE_DAYS, MAX_DAILY_TOKENS,
// LLM provider keys, EMBEDDING_MODEL, TASK_QUEUE_BACKEND, LOG_LEVEL.
func loadEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.ConnectionString = v
	}
	if v := os.Getenv("VECTOR_STORE_DSN"); v != "" {
		cfg.VectorStore.DSN = v
	}
	if v := os.Getenv("VECTOR_STORE_BACKEND"); v != "" {
		cfg.VectorStore.Backend = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.Auth.SecretKey = v
	}
	if v := os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Auth.AccessTokenMinutes = n
		}
	}
	if v := os.Getenv("REFRESH_TOKEN_EXPIRE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Auth.RefreshTokenDays = n
		}
	}
	if v := os.Getenv("MAX_DAILY_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Budget.MaxDailyTokens = n
		}
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLMClient.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLMClient.Anthropic.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		cfg.LLMClient.Anthropic.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLMClient.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.LLMClient.OpenAI.Model = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.LLMClient.Google.APIKey = v
	}
	if v := os.Getenv("GOOGLE_MODEL"); v != "" {
		cfg.LLMClient.Google.Model = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("TASK_QUEUE_BACKEND"); v != "" {
		cfg.TaskQueue.Backend = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
		cfg.Tracing.Enabled = true
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = "dev-secret-key"
		pterm.Warning.Println("No secret key configured, using an insecure default.")
	}
	if cfg.Auth.AccessTokenMinutes <= 0 {
		cfg.Auth.AccessTokenMinutes = 30
	}
	if cfg.Auth.RefreshTokenDays <= 0 {
		cfg.Auth.RefreshTokenDays = 7
	}
	if cfg.Budget.MaxDailyTokens <= 0 {
		cfg.Budget.MaxDailyTokens = 200_000
	}
	if cfg.VectorStore.Backend == "" {
		cfg.VectorStore.Backend = "memory"
	}
	if cfg.VectorStore.Dimensions <= 0 {
		cfg.VectorStore.Dimensions = 1536
	}
	if cfg.VectorStore.Metric == "" {
		cfg.VectorStore.Metric = "cosine"
	}
	if cfg.TaskQueue.Backend == "" {
		cfg.TaskQueue.Backend = "postgres"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Embeddings.Dimensions <= 0 {
		cfg.Embeddings.Dimensions = cfg.VectorStore.Dimensions
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "memoria"
	}
}
