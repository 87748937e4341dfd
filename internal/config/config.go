package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	GinMode       string
	LogLevel      string
	CORSOrigins   []string
	MaxUploadSize int64

	// Storage backend: mongo, postgres, sqlite or memory
	StoreBackend      string
	MongoURI          string
	DBName            string
	MongoTransactions bool
	PostgresDSN       string
	SQLitePath        string
	BatchSize         int

	// Redis Configuration (queue, embedding cache, rate limiting)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	AttachmentsDir string

	// Language model service
	LLMProvider       string // "gemini", "ollama" or "none"
	GeminiAPIKey      string
	GeminiChatModel   string
	EmbeddingsModel   string
	OllamaURL         string
	OllamaChatModel   string
	VectorDimensions  int
	LLMRateLimit      float64
	LLMTimeout        time.Duration
	EmbeddingCacheTTL time.Duration

	Pipeline Pipeline

	EnrichSweepInterval time.Duration

	APITokenSecret  string
	RateLimitReqs   int
	RateLimitWindow int

	OTelEnabled  bool
	OTelEndpoint string
}

// Pipeline holds the ingestion and retrieval tunables. They can be overridden by
// the YAML file named in CONFIG_FILE and then by individual environment variables.
type Pipeline struct {
	ChunkSize            int      `yaml:"chunk_size"`
	ChunkOverlap         int      `yaml:"chunk_overlap"`
	SimilarityThreshold  float64  `yaml:"similarity_threshold"`
	FullFieldCorpusLimit int      `yaml:"full_field_corpus_limit"`
	MaxTraversalDepth    int      `yaml:"max_traversal_depth"`
	MaxExtractedChars    int      `yaml:"max_extracted_chars"`
	HeaderKeys           []string `yaml:"header_keys"`
}

func DefaultPipeline() Pipeline {
	return Pipeline{
		ChunkSize:            500,
		ChunkOverlap:         100,
		SimilarityThreshold:  0.3,
		FullFieldCorpusLimit: 2000,
		MaxTraversalDepth:    64,
		MaxExtractedChars:    200000,
	}
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	pipeline := DefaultPipeline()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadPipelineFile(path, &pipeline); err != nil {
			return nil, err
		}
	}
	pipeline.ChunkSize = getEnvInt("CHUNK_SIZE", pipeline.ChunkSize)
	pipeline.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", pipeline.ChunkOverlap)
	pipeline.SimilarityThreshold = getEnvFloat64("SIMILARITY_THRESHOLD", pipeline.SimilarityThreshold)
	pipeline.FullFieldCorpusLimit = getEnvInt("FULL_FIELD_CORPUS_LIMIT", pipeline.FullFieldCorpusLimit)

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		GinMode:       getEnv("GIN_MODE", "debug"),
		LogLevel:      getEnv("LOG_LEVEL", ""),
		CORSOrigins:   strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxUploadSize: getEnvInt64("MAX_UPLOAD_SIZE", 1<<30), // 1GB, archives are large

		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", "sqlite")),
		MongoURI:          getEnv("MONGO_URI", "mongodb://localhost:27017/mail_archive"),
		DBName:            getEnv("DB_NAME", "mail_archive"),
		MongoTransactions: getEnvBool("MONGO_TRANSACTIONS", true),
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		SQLitePath:        getEnv("SQLITE_PATH", "./data/mail_archive.db"),
		BatchSize:         getEnvInt("BATCH_SIZE", 100),

		RedisURL:      getEnv("REDIS_URL", getEnv("REDIS_ADDR", "")),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AttachmentsDir: getEnv("ATTACHMENTS_DIR", "./storage/attachments"),

		LLMProvider:       strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiChatModel:   getEnv("GEMINI_CHAT_MODEL", "gemini-2.0-flash"),
		EmbeddingsModel:   getEnv("EMBEDDINGS_MODEL", "text-embedding-004"),
		OllamaURL:         getEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaChatModel:   getEnv("OLLAMA_CHAT_MODEL", "llama3.1"),
		VectorDimensions:  getEnvInt("VECTOR_DIM", 768),
		LLMRateLimit:      getEnvFloat64("LLM_RATE_LIMIT", 10),
		LLMTimeout:        getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		EmbeddingCacheTTL: getEnvDuration("EMBEDDING_CACHE_TTL", 24*time.Hour),

		Pipeline: pipeline,

		EnrichSweepInterval: getEnvDuration("ENRICH_SWEEP_INTERVAL", 15*time.Minute),

		APITokenSecret:  getEnv("API_TOKEN_SECRET", ""),
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "mongo", "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND %q is not supported (mongo, postgres, sqlite, memory)", c.StoreBackend)
	}

	if c.StoreBackend == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required when STORE_BACKEND=postgres")
	}

	switch c.LLMProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when LLM_PROVIDER=gemini - set it in .env file")
		}
	case "ollama", "none":
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported (gemini, ollama, none)", c.LLMProvider)
	}

	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.Pipeline.ChunkOverlap < 0 || c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	if t := c.Pipeline.SimilarityThreshold; t < 0 || t >= 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in [0, 1)")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}

	return nil
}

// RedisEnabled reports whether a Redis endpoint was configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}
