package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderLocal  = "local"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	IndexMemory   = "memory"
	IndexPostgres = "postgres"
	IndexQdrant   = "qdrant"
)

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type LLMConfig struct {
	Provider string
	Model    string
	Timeout  time.Duration
}

type RetrievalConfig struct {
	TopK int
	// RelevanceThreshold is a cosine distance in [0,2]; a query whose best
	// retrieved distance exceeds it is refused without an LLM call. The
	// default is calibrated for the local term-hashing embedder, where a
	// query sharing no content term with the corpus sits at 1.0 and an
	// on-topic query lands around 0.75-0.87. Deployments using ollama or
	// openai embeddings should recalibrate for their model.
	RelevanceThreshold float64
	ContextTokenBudget int
	AnswerMaxTokens    int
	// GeneralChat allows free-form answers while the index is empty.
	GeneralChat bool
}

type LimitsConfig struct {
	MaxFileBytes int64
	MaxDocuments int
}

type Config struct {
	DataDir  string
	HTTPAddr string

	IndexProvider    string
	PostgresDSN      string
	QdrantAddr       string
	QdrantCollection string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	Embeddings EmbeddingsConfig
	LLM        LLMConfig
	Retrieval  RetrievalConfig
	Limits     LimitsConfig

	ChunkTokens  int
	ChunkOverlap int
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		DataDir:  getEnv("DOCQA_DATA_DIR", "data"),
		HTTPAddr: getEnv("DOCQA_HTTP_ADDR", ":8080"),

		IndexProvider:    getEnv("DOCQA_INDEX", IndexMemory),
		PostgresDSN:      getEnv("POSTGRES_DSN", "postgres://localhost:5432/docqa?sslmode=disable"),
		QdrantAddr:       getEnv("QDRANT_ADDR", "localhost:6334"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "docqa_chunks"),

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		Embeddings: EmbeddingsConfig{
			Provider:  getEnv("DOCQA_EMBEDDINGS_PROVIDER", ProviderLocal),
			Model:     getEnv("DOCQA_EMBEDDINGS_MODEL", "hash-v1"),
			// Generous for a hashing embedder: fewer bucket collisions
			// keeps unrelated texts at distance 1.0.
			Dimension: getEnvInt("DOCQA_EMBEDDINGS_DIMENSION", 2048),
		},
		LLM: LLMConfig{
			Provider: getEnv("DOCQA_LLM_PROVIDER", ProviderOllama),
			Model:    getEnv("DOCQA_LLM_MODEL", "llama3.2"),
			Timeout:  getEnvDuration("DOCQA_LLM_TIMEOUT", 45*time.Second),
		},
		Retrieval: RetrievalConfig{
			TopK:               getEnvInt("DOCQA_TOP_K", 4),
			RelevanceThreshold: getEnvFloat("DOCQA_RELEVANCE_THRESHOLD", 0.92),
			ContextTokenBudget: getEnvInt("DOCQA_CONTEXT_TOKEN_BUDGET", 2000),
			AnswerMaxTokens:    getEnvInt("DOCQA_ANSWER_MAX_TOKENS", 1024),
			GeneralChat:        getEnvBool("DOCQA_GENERAL_CHAT", true),
		},
		Limits: LimitsConfig{
			MaxFileBytes: int64(getEnvInt("DOCQA_MAX_FILE_BYTES", 1<<20)),
			MaxDocuments: getEnvInt("DOCQA_MAX_DOCUMENTS", 5),
		},

		ChunkTokens:  getEnvInt("DOCQA_CHUNK_TOKENS", 200),
		ChunkOverlap: getEnvInt("DOCQA_CHUNK_OVERLAP", 40),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
