package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the root service configuration, loaded from config.yaml.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Search    SearchConfig    `mapstructure:"search"`
	Embedder  EmbedderConfig  `mapstructure:"embedder"`
	Behavior  BehaviorConfig  `mapstructure:"behavior"`
	Prefix    PrefixConfig    `mapstructure:"prefix"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	AdminPort       int           `mapstructure:"admin_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SearchConfig struct {
	KeywordWeight         float64 `mapstructure:"keyword_weight"`
	VectorWeight          float64 `mapstructure:"vector_weight"`
	PersonalizationWeight float64 `mapstructure:"personalization_weight"`
	LastSelectionBonus    float64 `mapstructure:"last_selection_bonus"`
	MaxSuggestions        int     `mapstructure:"max_suggestions"`
	MinScore              float64 `mapstructure:"min_score"`
}

type EmbedderConfig struct {
	Model         string `mapstructure:"model"`
	Dimension     int    `mapstructure:"dimension"`
	CacheSize     int    `mapstructure:"cache_size"`
	MaxInputChars int    `mapstructure:"max_input_chars"`
	// BaseURL switches the encoder to a remote embedding service when set.
	BaseURL string `mapstructure:"base_url"`
}

type BehaviorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	HistoryCap     int           `mapstructure:"history_cap"`
	PreferenceTTL  time.Duration `mapstructure:"preference_ttl"`
	TopPreferences int           `mapstructure:"top_preferences"`
	SequenceLimit  int           `mapstructure:"sequence_limit"`
	ScanCount      int64         `mapstructure:"scan_count"`
}

type PrefixConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MinTokens      int  `mapstructure:"min_tokens"`
	MinTailChars   int  `mapstructure:"min_tail_chars"`
	CandidateLimit int  `mapstructure:"candidate_limit"`
	ResultLimit    int  `mapstructure:"result_limit"`
	MinPreserved   int  `mapstructure:"min_preserved"`
}

type OracleConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Expansions  int           `mapstructure:"expansions"`
	Related     int           `mapstructure:"related"`
}

type TimeoutsConfig struct {
	Lexical  time.Duration `mapstructure:"lex"`
	Vector   time.Duration `mapstructure:"vec"`
	Embed    time.Duration `mapstructure:"embed"`
	Behavior time.Duration `mapstructure:"behavior"`
	Oracle   time.Duration `mapstructure:"oracle"`
	Total    time.Duration `mapstructure:"total"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:            8000,
			AdminPort:       8081,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Search: SearchConfig{
			KeywordWeight:         0.7,
			VectorWeight:          0.3,
			PersonalizationWeight: 0.2,
			LastSelectionBonus:    0.3,
			MaxSuggestions:        10,
			MinScore:              0.0,
		},
		Embedder: EmbedderConfig{
			Model:         "hashing-v1",
			Dimension:     384,
			CacheSize:     2048,
			MaxInputChars: 512,
		},
		Behavior: BehaviorConfig{
			Enabled:        true,
			HistoryCap:     100,
			PreferenceTTL:  30 * 24 * time.Hour,
			TopPreferences: 20,
			SequenceLimit:  10,
			ScanCount:      100,
		},
		Prefix: PrefixConfig{
			Enabled:        true,
			MinTokens:      5,
			MinTailChars:   1,
			CandidateLimit: 20,
			ResultLimit:    10,
			MinPreserved:   1,
		},
		Oracle: OracleConfig{
			Enabled:     false,
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   150,
			Timeout:     time.Second,
			Expansions:  3,
			Related:     5,
		},
		Timeouts: TimeoutsConfig{
			Lexical:  200 * time.Millisecond,
			Vector:   200 * time.Millisecond,
			Embed:    500 * time.Millisecond,
			Behavior: 100 * time.Millisecond,
			Oracle:   time.Second,
			Total:    1500 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 120,
		},
	}
}

// Load reads config.yaml from path (or CONFIG_PATH, or ./config.yaml) and
// merges it over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
		// No file: defaults plus env overrides.
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedder.dimension must be positive, got %d", c.Embedder.Dimension)
	}
	sum := c.Search.KeywordWeight + c.Search.VectorWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("search weights must sum to 1, got %.3f", sum)
	}
	if c.Search.MaxSuggestions < 1 || c.Search.MaxSuggestions > 50 {
		return fmt.Errorf("search.max_suggestions must be in [1,50], got %d", c.Search.MaxSuggestions)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ORACLE_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Service.Port = p
		}
	}
	if v := os.Getenv("ADMIN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Service.AdminPort = p
		}
	}
}
