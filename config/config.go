package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the knowledge engine.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Search    SearchConfig    `mapstructure:"search"`
	TTS       TTSConfig       `mapstructure:"tts"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Listen         string        `mapstructure:"listen"`
	Debug          bool          `mapstructure:"debug"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ProvidersConfig holds LLM provider credentials and model routing.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig configures the completion and embedding endpoints.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// IngestConfig bounds the ingestion pipeline.
type IngestConfig struct {
	// ContentLimit is the maximum number of content items per tenant.
	ContentLimit int `mapstructure:"content_limit"`
	// HistoryLimit caps per-user conversation history retention.
	HistoryLimit int `mapstructure:"history_limit"`
	// ChunkSize is the soft maximum chunk length in characters.
	ChunkSize int `mapstructure:"chunk_size"`
	// ChunkOverlap is the character overlap between adjacent sub-chunks.
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	// EmbedBatchSize bounds embedding request payloads.
	EmbedBatchSize int `mapstructure:"embed_batch_size"`
	// MinWebTextLength is the threshold below which the precision web
	// extractor is considered to have failed.
	MinWebTextLength int `mapstructure:"min_web_text_length"`
}

// RetrievalConfig controls dual-scope similarity search.
type RetrievalConfig struct {
	SharedCollection string `mapstructure:"shared_collection"`
	TopK             int    `mapstructure:"top_k"`
	ContextURLs      int    `mapstructure:"context_urls"`
}

// DatabasesConfig groups backend connection settings.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
}

type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN assembles a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type QdrantConfig struct {
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	Dimension int           `mapstructure:"dimension"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func (q QdrantConfig) Validate() error {
	if q.URL == "" {
		return fmt.Errorf("qdrant url not configured (databases.qdrant.url)")
	}
	if q.Dimension <= 0 {
		return fmt.Errorf("databases.qdrant.dimension must be > 0")
	}
	return nil
}

// CacheConfig controls the derived-artifact cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	AudioTTL time.Duration `mapstructure:"audio_ttl"`
}

// SearchConfig enables optional web search context URLs.
type SearchConfig struct {
	Provider string `mapstructure:"provider"` // serper or brave; empty disables
	APIKey   string `mapstructure:"api_key"`
}

// TTSConfig configures the audio synthesis backend.
type TTSConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Voice    string        `mapstructure:"voice"`
	MaxChars int           `mapstructure:"max_chars"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoadConfig reads configuration from file and environment (KNOWBASE_*).
func LoadConfig(path string) *Config {
	if path == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("KNOWBASE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Environment-only configuration is acceptable.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	if err := cfg.Databases.Qdrant.Validate(); err != nil {
		panic(err)
	}
	return &cfg
}

func setDefaults() {
	viper.SetDefault("general.listen", ":10002")
	viper.SetDefault("general.default_timeout", "60s")

	viper.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("providers.openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.temperature", 0.2)
	viper.SetDefault("providers.openai.timeout", "60s")

	viper.SetDefault("ingest.content_limit", 10)
	viper.SetDefault("ingest.history_limit", 5)
	viper.SetDefault("ingest.chunk_size", 1000)
	viper.SetDefault("ingest.chunk_overlap", 200)
	viper.SetDefault("ingest.embed_batch_size", 20)
	viper.SetDefault("ingest.min_web_text_length", 500)

	viper.SetDefault("retrieval.shared_collection", "site_information")
	viper.SetDefault("retrieval.top_k", 10)
	viper.SetDefault("retrieval.context_urls", 3)

	viper.SetDefault("databases.qdrant.url", "http://localhost:6333")
	viper.SetDefault("databases.qdrant.dimension", 1536)
	viper.SetDefault("databases.qdrant.timeout", "15s")
	viper.SetDefault("databases.redis.timeout", "5s")

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.audio_ttl", "600s")

	viper.SetDefault("tts.endpoint", "https://api.streamelements.com/kappa/v2/speech")
	viper.SetDefault("tts.voice", "Russell")
	viper.SetDefault("tts.max_chars", 5000)
	viper.SetDefault("tts.timeout", "30s")
}
