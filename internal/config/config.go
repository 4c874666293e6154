// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config mirrors configs/config.yaml. It is loaded once in main and passed
// explicitly to the components that need it.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Query         QueryConfig         `mapstructure:"query"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig groups the relational and cache store settings.
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig holds the MySQL connection settings.
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig holds the ingest task queue settings.
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig holds the Tika server settings.
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig holds the vector store settings.
type ElasticsearchConfig struct {
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexPrefix string `mapstructure:"index_prefix"`
}

// MinIOConfig holds the staging object store settings.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig holds the language-model service settings.
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	TimeoutSec int                 `mapstructure:"timeout_seconds"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig tunes generation behaviour. Zero values mean
// "provider default".
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// SplitMaxTokens bounds each splitter window.
	SplitMaxTokens int `mapstructure:"split_max_tokens"`
	// SplitOverlapTokens is the approximate overlap between windows.
	SplitOverlapTokens int `mapstructure:"split_overlap_tokens"`
	// ChunkMaxTokens bounds each retrieval chunk.
	ChunkMaxTokens int `mapstructure:"chunk_max_tokens"`
	// CondenseRequired makes a condenser failure terminal instead of
	// falling back to the basic-normalized text.
	CondenseRequired bool `mapstructure:"condense_required"`
	// CondenseRPM rate-limits condenser model calls per minute. 0 disables.
	CondenseRPM int `mapstructure:"condense_rpm"`
	// IndexRetries bounds automatic retries of vector-store writes.
	IndexRetries int `mapstructure:"index_retries"`
	// IndexRetryBackoffMS is the base backoff between index retries.
	IndexRetryBackoffMS int `mapstructure:"index_retry_backoff_ms"`
}

// QueryConfig tunes the query engine.
type QueryConfig struct {
	// TopK is the retrieval depth for global-only queries.
	TopK int `mapstructure:"top_k"`
	// TopKPersonal / TopKGlobal are the union-query depths for user scopes.
	TopKPersonal int `mapstructure:"top_k_personal"`
	TopKGlobal   int `mapstructure:"top_k_global"`
	// RetrievalTimeoutSec bounds the similarity-search call; on expiry the
	// answer is returned without sources.
	RetrievalTimeoutSec int `mapstructure:"retrieval_timeout_seconds"`
	// RetrievalWorkers bounds concurrent similarity-search calls.
	RetrievalWorkers int `mapstructure:"retrieval_workers"`
	// ModelRetries bounds synthesis retries before the apology response.
	ModelRetries int `mapstructure:"model_retries"`
	// HistoryLimit caps how many prior turns go into the prompt.
	HistoryLimit int `mapstructure:"history_limit"`
}

// RetrievalTimeout returns the configured retrieval timeout as a duration.
func (q QueryConfig) RetrievalTimeout() time.Duration {
	return time.Duration(q.RetrievalTimeoutSec) * time.Second
}

// IndexRetryBackoff returns the configured base backoff as a duration.
func (i IngestConfig) IndexRetryBackoff() time.Duration {
	return time.Duration(i.IndexRetryBackoffMS) * time.Millisecond
}

// Load reads the YAML file at configPath, applies defaults and validates.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.group_id", "learnmate-ingest")
	v.SetDefault("elasticsearch.index_prefix", "knowledge")
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("ingest.split_max_tokens", 5000)
	v.SetDefault("ingest.split_overlap_tokens", 300)
	v.SetDefault("ingest.chunk_max_tokens", 400)
	v.SetDefault("ingest.condense_rpm", 10)
	v.SetDefault("ingest.index_retries", 3)
	v.SetDefault("ingest.index_retry_backoff_ms", 500)
	v.SetDefault("query.top_k", 3)
	v.SetDefault("query.top_k_personal", 3)
	v.SetDefault("query.top_k_global", 3)
	v.SetDefault("query.retrieval_timeout_seconds", 20)
	v.SetDefault("query.retrieval_workers", 8)
	v.SetDefault("query.model_retries", 2)
	v.SetDefault("query.history_limit", 20)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Ingest.SplitMaxTokens <= 0 {
		return fmt.Errorf("config: ingest.split_max_tokens must be positive, got %d", c.Ingest.SplitMaxTokens)
	}
	if c.Ingest.SplitOverlapTokens < 0 || c.Ingest.SplitOverlapTokens >= c.Ingest.SplitMaxTokens {
		return fmt.Errorf("config: ingest.split_overlap_tokens must be in [0, split_max_tokens), got %d", c.Ingest.SplitOverlapTokens)
	}
	if c.Ingest.ChunkMaxTokens <= 0 {
		return fmt.Errorf("config: ingest.chunk_max_tokens must be positive, got %d", c.Ingest.ChunkMaxTokens)
	}
	if c.Query.TopK <= 0 || c.Query.TopKPersonal <= 0 || c.Query.TopKGlobal <= 0 {
		return fmt.Errorf("config: query top_k values must be positive")
	}
	if c.Query.RetrievalTimeoutSec <= 0 {
		return fmt.Errorf("config: query.retrieval_timeout_seconds must be positive, got %d", c.Query.RetrievalTimeoutSec)
	}
	if c.Query.RetrievalWorkers <= 0 {
		return fmt.Errorf("config: query.retrieval_workers must be positive, got %d", c.Query.RetrievalWorkers)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("config: embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}
