package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidChoice   = errors.New("invalid configuration value")
)

// Backends and rerank providers form closed sets, checked once at load
// time. An unknown name is a startup failure, not a per-query one.
var (
	KnownBackends        = []string{"gemini", "openai", "local"}
	KnownRerankProviders = []string{"none", "jina", "cohere"}
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"lorekeep"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"lorekeep"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI          bool   `envconfig:"ENABLE_API" default:"true"`
	EnableIngestWorker bool   `envconfig:"ENABLE_INGEST_WORKER" default:"false"`
	MigrationPath      string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	NSQMaxMsgSize      int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"10485760"` // 10MB

	// Generation backends
	DefaultBackend string `envconfig:"DEFAULT_BACKEND" default:"openai"`
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	GeminiModel    string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel    string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	LocalLLMURL    string `envconfig:"LOCAL_LLM_URL"`
	LocalLLMModel  string `envconfig:"LOCAL_LLM_MODEL"`

	// Embedding
	LocalEmbedURL         string `envconfig:"LOCAL_EMBED_URL"`
	LocalEmbedAPIKey      string `envconfig:"LOCAL_EMBED_API_KEY"`
	LocalEmbedModel       string `envconfig:"LOCAL_EMBED_MODEL"`
	LocalEmbedIdleSeconds int    `envconfig:"LOCAL_EMBED_IDLE_SECONDS" default:"120"`
	EmbedRateLimitCalls   int    `envconfig:"EMBED_RATE_LIMIT_CALLS" default:"300"`
	EmbedRateLimitPeriod  int    `envconfig:"EMBED_RATE_LIMIT_PERIOD_SECONDS" default:"60"`
	EmbedMaxRetries       int    `envconfig:"EMBED_MAX_RETRIES" default:"3"`

	// Retrieval
	RerankProvider      string `envconfig:"RERANK_PROVIDER" default:"none"`
	RerankAPIKey        string `envconfig:"RERANK_API_KEY"`
	QueryTimeoutSeconds int    `envconfig:"QUERY_TIMEOUT_SECONDS" default:"30"`
	EnrichConcurrency   int    `envconfig:"ENRICH_CONCURRENCY" default:"4"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if !contains(KnownBackends, c.DefaultBackend) {
		return fmt.Errorf("%w: DEFAULT_BACKEND=%q, known: %v", ErrInvalidChoice, c.DefaultBackend, KnownBackends)
	}
	if !contains(KnownRerankProviders, c.RerankProvider) {
		return fmt.Errorf("%w: RERANK_PROVIDER=%q, known: %v", ErrInvalidChoice, c.RerankProvider, KnownRerankProviders)
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
