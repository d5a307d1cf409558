package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int              `json:"port"`
	JWTSecret   string           `json:"jwt_secret"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	FileStore   FileStoreConfig  `json:"file_store"`
	AI          AIConfig         `json:"ai"`
	EmbedCache  EmbedCacheConfig `json:"embed_cache"`
	Chunk       ChunkConfig      `json:"chunk"`
	Retrieval   RetrievalConfig  `json:"retrieval"`
	Triage      TriageConfig     `json:"triage"`
	Events      EventsConfig     `json:"events"`
	Tracing     TracingConfig    `json:"tracing"`
	Jobs        JobsConfig       `json:"jobs"`
	CORSOrigins []string         `json:"cors_origins"`
	RateLimit   RateLimitConfig  `json:"rate_limit"`
	MaxUpload   int64            `json:"max_upload_size"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	Path     string `json:"path"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type FileStoreConfig struct {
	Type string   `json:"type"`
	Dir  string   `json:"dir"`
	S3   S3Config `json:"s3"`
}

type S3Config struct {
	Endpoint  string `json:"endpoint"`
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
	UseSSL    bool   `json:"use_ssl"`
	PathStyle bool   `json:"path_style"`
}

type AIProviderConfig struct {
	Name string          `json:"name"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type AIModelEntry struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type AIModelGroup struct {
	Entries []AIModelEntry `json:"entries"`
}

type AIConfig struct {
	Providers      []AIProviderConfig `json:"providers"`
	Embed          AIModelGroup       `json:"embed"`
	Analyze        AIModelGroup       `json:"analyze"`
	Dimension      int                `json:"dimension"`
	EmbedTimeout   int                `json:"embed_timeout"`
	AnalyzeTimeout int                `json:"analyze_timeout"`
	MaxInputChars  int                `json:"max_input_chars"`
}

type EmbedCacheConfig struct {
	LRUSize       int  `json:"lru_size"`
	LRUTTLSeconds int  `json:"lru_ttl_seconds"`
	DBEnabled     bool `json:"db_enabled"`
	MaxAgeDays    int  `json:"max_age_days"`
}

type ChunkConfig struct {
	Budget        int    `json:"budget"`
	Counter       string `json:"counter"`
	CharsPerToken int    `json:"chars_per_token"`
	Encoding      string `json:"encoding"`
	LineWindow    int    `json:"line_window"`
}

type RetrievalConfig struct {
	SemanticLimit int     `json:"semantic_limit"`
	RecentLimit   int     `json:"recent_limit"`
	Limit         int     `json:"limit"`
	TokenBudget   int     `json:"token_budget"`
	MinSimilarity float64 `json:"min_similarity"`
}

type TriageConfig struct {
	ReferenceText    string  `json:"reference_text"`
	Threshold        float64 `json:"threshold"`
	MinLikely        int     `json:"min_likely"`
	EmbedConcurrency int     `json:"embed_concurrency"`
	RatePerMinute    int     `json:"rate_per_minute"`
	SystemPrompt     string  `json:"system_prompt"`
}

type EventsConfig struct {
	Buffer int         `json:"buffer"`
	Redis  RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr          string `json:"addr"`
	Password      string `json:"password"`
	DB            int    `json:"db"`
	ChannelPrefix string `json:"channel_prefix"`
}

type TracingConfig struct {
	Endpoint    string `json:"endpoint"`
	Insecure    bool   `json:"insecure"`
	ServiceName string `json:"service_name"`
}

type JobsConfig struct {
	EmbeddingCachePrune string `json:"embedding_cache_prune"`
	EnrichRetry         string `json:"enrich_retry"`
}

type RateLimitConfig struct {
	SyncIntervalSeconds int `json:"sync_interval_seconds"`
	SyncBurst           int `json:"sync_burst"`
}

// Load reads a JSON or YAML config file. ${VAR} references are expanded
// from the environment before decoding.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	raw = []byte(os.ExpandEnv(string(raw)))

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		raw, err = yamlToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(doc))
}

func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return v
	}
}

func (cfg *Config) applyDefaults() error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if cfg.Database.DSN == "" && cfg.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host is required for postgres")
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres")
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	switch cfg.FileStore.Type {
	case "local":
		if cfg.FileStore.Dir == "" {
			return fmt.Errorf("file_store.dir is required for local store")
		}
	case "s3":
		if cfg.FileStore.S3.Endpoint == "" || cfg.FileStore.S3.Bucket == "" || cfg.FileStore.S3.SecretID == "" || cfg.FileStore.S3.SecretKey == "" {
			return fmt.Errorf("file_store.s3 endpoint/bucket/secret_id/secret_key are required for s3 store")
		}
		if cfg.FileStore.S3.Region == "" {
			cfg.FileStore.S3.Region = "us-east-1"
		}
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	if len(cfg.AI.Embed.Entries) == 0 {
		return fmt.Errorf("ai.embed.entries is required")
	}
	if cfg.AI.Dimension == 0 {
		cfg.AI.Dimension = 1024
	}
	if cfg.AI.EmbedTimeout <= 0 {
		cfg.AI.EmbedTimeout = 30
	}
	if cfg.AI.AnalyzeTimeout <= 0 {
		cfg.AI.AnalyzeTimeout = 1200
	}
	if cfg.AI.MaxInputChars <= 0 {
		cfg.AI.MaxInputChars = 20000
	}
	if cfg.EmbedCache.LRUSize == 0 {
		cfg.EmbedCache.LRUSize = 2048
	}
	if cfg.EmbedCache.LRUTTLSeconds == 0 {
		cfg.EmbedCache.LRUTTLSeconds = 3600
	}
	if cfg.EmbedCache.MaxAgeDays == 0 {
		cfg.EmbedCache.MaxAgeDays = 30
	}
	if cfg.Chunk.Budget <= 0 {
		cfg.Chunk.Budget = 512
	}
	if cfg.Chunk.Counter == "" {
		cfg.Chunk.Counter = "chars"
	}
	if cfg.Chunk.Counter != "chars" && cfg.Chunk.Counter != "tiktoken" {
		return fmt.Errorf("chunk.counter must be chars or tiktoken")
	}
	if cfg.Chunk.CharsPerToken <= 0 {
		cfg.Chunk.CharsPerToken = 4
	}
	if cfg.Chunk.Encoding == "" {
		cfg.Chunk.Encoding = "cl100k_base"
	}
	if cfg.Chunk.LineWindow <= 0 {
		cfg.Chunk.LineWindow = 50
	}
	if cfg.Retrieval.SemanticLimit <= 0 {
		cfg.Retrieval.SemanticLimit = 5
	}
	if cfg.Retrieval.RecentLimit <= 0 {
		cfg.Retrieval.RecentLimit = 10
	}
	if cfg.Retrieval.Limit <= 0 {
		cfg.Retrieval.Limit = 10
	}
	if cfg.Retrieval.TokenBudget <= 0 {
		cfg.Retrieval.TokenBudget = 2000
	}
	if cfg.Retrieval.MinSimilarity <= 0 {
		cfg.Retrieval.MinSimilarity = 0.5
	}
	if cfg.Triage.Threshold <= 0 {
		cfg.Triage.Threshold = 0.52
	}
	if cfg.Triage.MinLikely <= 0 {
		cfg.Triage.MinLikely = 3
	}
	if cfg.Triage.EmbedConcurrency <= 0 {
		cfg.Triage.EmbedConcurrency = 4
	}
	if cfg.Events.Buffer <= 0 {
		cfg.Events.Buffer = 64
	}
	if cfg.Events.Redis.ChannelPrefix == "" {
		cfg.Events.Redis.ChannelPrefix = "recall:events:"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "recall"
	}
	if cfg.Jobs.EmbeddingCachePrune == "" {
		cfg.Jobs.EmbeddingCachePrune = "0 3 * * *"
	}
	if cfg.Jobs.EnrichRetry == "" {
		cfg.Jobs.EnrichRetry = "*/15 * * * *"
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = 10 * 1024 * 1024
	}
	if cfg.RateLimit.SyncBurst <= 0 {
		cfg.RateLimit.SyncBurst = 2
	}
	return nil
}
