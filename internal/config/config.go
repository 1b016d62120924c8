package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Providers      ProvidersConfig      `mapstructure:"providers"`
	Rerank         RerankConfig         `mapstructure:"rerank"`
	Cache          CacheConfig          `mapstructure:"cache"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Events         EventsConfig         `mapstructure:"events"`
	Security       SecurityConfig       `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	AutoMigrate    bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		RecommendationEvents string `mapstructure:"recommendation_events"`
	} `mapstructure:"topics"`
}

// AuthConfig configures optional shopper identification. An empty secret
// disables token parsing entirely.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RecommendationConfig holds the tunable business values of the ranking
// pipeline.
type RecommendationConfig struct {
	Weights           ScoreWeights  `mapstructure:"weights"`
	NeutralSimilarity float64       `mapstructure:"neutral_similarity"`
	VendorBoost       float64       `mapstructure:"vendor_boost"`
	InterestBoost     float64       `mapstructure:"interest_boost"`
	MaxPerRetailer    int           `mapstructure:"max_per_retailer"`
	MaxResults        int           `mapstructure:"max_results"`
	CandidateLimit    int           `mapstructure:"candidate_limit"`
	HeuristicFloor    int           `mapstructure:"heuristic_floor"`
	DefaultPageSize   int           `mapstructure:"default_page_size"`
	MaxPageSize       int           `mapstructure:"max_page_size"`
	ProfileTextLimit  int           `mapstructure:"profile_text_limit"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
}

type ScoreWeights struct {
	Similarity float64 `mapstructure:"similarity"`
	Quality    float64 `mapstructure:"quality"`
	Recency    float64 `mapstructure:"recency"`
	Popularity float64 `mapstructure:"popularity"`
}

type ProvidersConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	ChatModel      string        `mapstructure:"chat_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

type RerankConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	TopN        int           `mapstructure:"top_n"`
	MaxSlice    int           `mapstructure:"max_slice"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int64         `mapstructure:"max_entries"`
	ProfileTTL time.Duration `mapstructure:"profile_ttl"`
}

type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	IdleTTL           time.Duration `mapstructure:"idle_ttl"`
}

type EventsConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// DefaultRecommendationConfig returns the tuning values used when nothing is
// configured. Tests and tools use it to avoid going through viper.
func DefaultRecommendationConfig() RecommendationConfig {
	return RecommendationConfig{
		Weights: ScoreWeights{
			Similarity: 0.25,
			Quality:    0.35,
			Recency:    0.25,
			Popularity: 0.15,
		},
		NeutralSimilarity: 0.5,
		VendorBoost:       1.3,
		InterestBoost:     0.2,
		MaxPerRetailer:    4,
		MaxResults:        60,
		CandidateLimit:    100,
		HeuristicFloor:    20,
		DefaultPageSize:   30,
		MaxPageSize:       60,
		ProfileTextLimit:  1500,
		FetchTimeout:      3 * time.Second,
	}
}

func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled:     false,
		TopN:        30,
		MaxSlice:    30,
		Temperature: 0.2,
		MaxTokens:   800,
		Timeout:     8 * time.Second,
	}
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("database.auto_migrate", true)

	// Redis defaults
	viper.SetDefault("redis.url", "localhost:6379")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.timeout", "2s")

	// Kafka defaults (empty brokers disables publishing)
	viper.SetDefault("kafka.brokers", []string{})
	viper.SetDefault("kafka.topics.recommendation_events", "recommendation-events")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Pipeline tuning defaults
	rec := DefaultRecommendationConfig()
	viper.SetDefault("recommendation.weights.similarity", rec.Weights.Similarity)
	viper.SetDefault("recommendation.weights.quality", rec.Weights.Quality)
	viper.SetDefault("recommendation.weights.recency", rec.Weights.Recency)
	viper.SetDefault("recommendation.weights.popularity", rec.Weights.Popularity)
	viper.SetDefault("recommendation.neutral_similarity", rec.NeutralSimilarity)
	viper.SetDefault("recommendation.vendor_boost", rec.VendorBoost)
	viper.SetDefault("recommendation.interest_boost", rec.InterestBoost)
	viper.SetDefault("recommendation.max_per_retailer", rec.MaxPerRetailer)
	viper.SetDefault("recommendation.max_results", rec.MaxResults)
	viper.SetDefault("recommendation.candidate_limit", rec.CandidateLimit)
	viper.SetDefault("recommendation.heuristic_floor", rec.HeuristicFloor)
	viper.SetDefault("recommendation.default_page_size", rec.DefaultPageSize)
	viper.SetDefault("recommendation.max_page_size", rec.MaxPageSize)
	viper.SetDefault("recommendation.profile_text_limit", rec.ProfileTextLimit)
	viper.SetDefault("recommendation.fetch_timeout", "3s")

	// Provider defaults
	viper.SetDefault("providers.base_url", "https://api.openai.com")
	viper.SetDefault("providers.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.chat_model", "gpt-4o-mini")
	viper.SetDefault("providers.timeout", "10s")
	viper.SetDefault("providers.breaker.max_requests", 1)
	viper.SetDefault("providers.breaker.interval", "60s")
	viper.SetDefault("providers.breaker.timeout", "30s")
	viper.SetDefault("providers.breaker.failure_threshold", 5)

	// Rerank defaults
	rr := DefaultRerankConfig()
	viper.SetDefault("rerank.enabled", rr.Enabled)
	viper.SetDefault("rerank.top_n", rr.TopN)
	viper.SetDefault("rerank.max_slice", rr.MaxSlice)
	viper.SetDefault("rerank.temperature", rr.Temperature)
	viper.SetDefault("rerank.max_tokens", rr.MaxTokens)
	viper.SetDefault("rerank.timeout", "8s")

	// Request-layer cache defaults
	viper.SetDefault("cache.ttl", "10m")
	viper.SetDefault("cache.max_entries", 10000)
	viper.SetDefault("cache.profile_ttl", "30m")

	// Rate limit defaults
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests_per_window", 60)
	viper.SetDefault("rate_limit.window", "1m")
	viper.SetDefault("rate_limit.idle_ttl", "10m")

	// Event recorder defaults
	viper.SetDefault("events.queue_size", 1024)
	viper.SetDefault("events.write_timeout", "5s")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}
