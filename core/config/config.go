package config

import (
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Valkey     ValkeyConfig
	Cache      CacheConfig
	LLM        LLMConfig
	RAG        RAGConfig
	WorkerPool WorkerPoolConfig
}

type AppConfig struct {
	Version     string
	Debug       bool
	Environment string
	BaseDir     string
	// OwnerID identifies the local REPL user.
	OwnerID string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string // File path for SQLite, DB Name for Postgres
	// PGDriver: "pgx" (default) o "pq"
	PGDriver string
	// Store selects the conversation store: "gorm" or "valkey".
	Store string
}

type ValkeyConfig struct {
	Enabled   bool
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

type CacheConfig struct {
	Capacity      int
	TTL           time.Duration
	SweepInterval time.Duration
}

type LLMConfig struct {
	// Provider: "tgi", "openai" or "gemini".
	Provider       string
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	MaxTokens      int
	RequestTimeout time.Duration
}

type RAGConfig struct {
	Enabled         bool
	EmbeddingURL    string
	EmbeddingAPIKey string
	EmbeddingModel  string
	Threshold       float64
	Limit           int
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

// LoadConfig loads configuration from Environment Variables or defaults.
func LoadConfig() (*Config, error) {
	baseDir := getEnv("APP_BASE_DIR", "storages")

	appCfg := AppConfig{
		Version:     "v0.3.0",
		Debug:       getEnvBool("APP_DEBUG", false) || getEnvBool("DEBUG", false),
		Environment: getEnv("APP_ENV", "development"),
		BaseDir:     baseDir,
		OwnerID:     getEnv("APP_OWNER_ID", "local"),
	}

	valkeyCfg := ValkeyConfig{
		Enabled:   getEnvBool("VALKEY_ENABLED", false),
		Address:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		Password:  getEnv("VALKEY_PASSWORD", ""),
		DB:        getEnvInt("VALKEY_DB", 0),
		KeyPrefix: getEnv("VALKEY_KEY_PREFIX", "medchat:"),
	}

	// VALKEY_ENABLED sin CONVERSATION_STORE explícito usa valkey como store
	defaultStore := "gorm"
	if valkeyCfg.Enabled {
		defaultStore = "valkey"
	}

	dbCfg := DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "sqlite"),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", filepath.Join(baseDir, "medchat.db")),
		PGDriver: getEnv("DB_PG_DRIVER", "pgx"),
		Store:    getEnv("CONVERSATION_STORE", defaultStore),
	}

	cacheCfg := CacheConfig{
		Capacity:      getEnvInt("CONTEXT_CACHE_CAPACITY", 1000),
		TTL:           getEnvDuration("CONTEXT_CACHE_TTL", 30*time.Minute),
		SweepInterval: getEnvDuration("CONTEXT_SWEEP_INTERVAL", 5*time.Minute),
	}

	// TGI_URL y LM_STUDIO_URL se mantienen por compatibilidad
	baseURL := getEnv("LLM_BASE_URL", getEnv("TGI_URL", getEnv("LM_STUDIO_URL", "http://localhost:8080")))
	llmCfg := LLMConfig{
		Provider:       getEnv("LLM_PROVIDER", "tgi"),
		BaseURL:        baseURL,
		APIKey:         getEnv("LLM_API_KEY", getEnv("HF_API_KEY", "")),
		Model:          getEnv("LLM_MODEL", "tgi"),
		Temperature:    getEnvFloat("LLM_TEMPERATURE", 0.7),
		MaxTokens:      getEnvInt("LLM_MAX_TOKENS", 1024),
		RequestTimeout: getEnvDuration("LLM_REQUEST_TIMEOUT", 120*time.Second),
	}
	if llmCfg.Provider == "gemini" && llmCfg.APIKey == "" {
		llmCfg.APIKey = getEnv("GEMINI_API_KEY", "")
	}
	if llmCfg.Provider == "openai" && llmCfg.APIKey == "" {
		llmCfg.APIKey = getEnv("OPENAI_API_KEY", "")
	}

	ragCfg := RAGConfig{
		Enabled:         getEnvBool("RAG_ENABLED", false),
		EmbeddingURL:    getEnv("EMBEDDING_API_URL", ""),
		EmbeddingAPIKey: getEnv("EMBEDDING_API_KEY", llmCfg.APIKey),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "embedding"),
		Threshold:       getEnvFloat("RAG_THRESHOLD", 0.7),
		Limit:           getEnvInt("RAG_LIMIT", 2),
	}

	cfg := &Config{
		App:        appCfg,
		Database:   dbCfg,
		Valkey:     valkeyCfg,
		Cache:      cacheCfg,
		LLM:        llmCfg,
		RAG:        ragCfg,
		WorkerPool: WorkerPoolConfig{Size: getEnvInt("PERSIST_WORKER_POOL_SIZE", 4), QueueSize: getEnvInt("PERSIST_WORKER_QUEUE_SIZE", 100)},
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted at use site.
func (c *Config) Validate() error {
	return validation.Errors{
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Driver, validation.In("sqlite", "postgres")),
			validation.Field(&c.Database.Store, validation.In("gorm", "valkey")),
			validation.Field(&c.Database.PGDriver, validation.In("pgx", "pq")),
			validation.Field(&c.Database.Name, validation.Required),
		),
		"cache": validation.ValidateStruct(&c.Cache,
			validation.Field(&c.Cache.Capacity, validation.Min(1)),
			validation.Field(&c.Cache.TTL, validation.Min(time.Second)),
			validation.Field(&c.Cache.SweepInterval, validation.Min(time.Second)),
		),
		"llm": validation.ValidateStruct(&c.LLM,
			validation.Field(&c.LLM.Provider, validation.Required, validation.In("tgi", "openai", "gemini")),
			validation.Field(&c.LLM.BaseURL, validation.When(c.LLM.Provider == "tgi", validation.Required)),
			validation.Field(&c.LLM.APIKey, validation.When(c.LLM.Provider == "gemini" || c.LLM.Provider == "openai", validation.Required)),
			validation.Field(&c.LLM.MaxTokens, validation.Min(1)),
			validation.Field(&c.LLM.Temperature, validation.Min(0.0), validation.Max(2.0)),
		),
		"rag": validation.ValidateStruct(&c.RAG,
			validation.Field(&c.RAG.EmbeddingURL, validation.When(c.RAG.Enabled, validation.Required)),
			validation.Field(&c.RAG.Threshold, validation.Min(0.0), validation.Max(1.0)),
			validation.Field(&c.RAG.Limit, validation.Min(1)),
		),
		"valkey": validation.ValidateStruct(&c.Valkey,
			validation.Field(&c.Valkey.Address, validation.When(c.Valkey.Enabled || c.Database.Store == "valkey", validation.Required)),
		),
	}.Filter()
}
