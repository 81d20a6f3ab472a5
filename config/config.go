package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ALF research service
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Search   SearchConfig   `mapstructure:"search"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
	AuthFree  bool   `mapstructure:"auth_free"` // disable auth for local development
}

// LLMConfig contains LLM provider configuration
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai-compatible
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model handles each pipeline stage
type LLMRoutingConfig struct {
	Rerank    string `mapstructure:"rerank"`
	Synthesis string `mapstructure:"synthesis"`
	Fallback  string `mapstructure:"fallback"`
}

// SearchConfig contains web search backend settings
type SearchConfig struct {
	Backend       string        `mapstructure:"backend"` // serper, brave, crawler
	SerperAPIKey  string        `mapstructure:"serper_api_key"`
	BraveAPIKey   string        `mapstructure:"brave_api_key"`
	CrawlerURL    string        `mapstructure:"crawler_url"`
	CrawlerAPIKey string        `mapstructure:"crawler_api_key"`
	MaxResults    int           `mapstructure:"max_results"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// ScrapeConfig contains scrape/extract stage settings
type ScrapeConfig struct {
	Fetcher     string        `mapstructure:"fetcher"` // api, http, chromedp
	APIBaseURL  string        `mapstructure:"api_base_url"`
	APIKey      string        `mapstructure:"api_key"`
	MaxChars    int           `mapstructure:"max_chars"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PipelineConfig contains orchestrator budgets and retry settings
type PipelineConfig struct {
	TopN         int           `mapstructure:"top_n"`
	Deadline     time.Duration `mapstructure:"deadline"`
	RetryMax     int           `mapstructure:"retry_max"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

func (c SearchConfig) Validate() error {
	switch c.Backend {
	case "serper":
		if strings.TrimSpace(c.SerperAPIKey) == "" {
			return fmt.Errorf("search.serper_api_key required for serper backend")
		}
	case "brave":
		if strings.TrimSpace(c.BraveAPIKey) == "" {
			return fmt.Errorf("search.brave_api_key required for brave backend")
		}
	case "crawler":
		if strings.TrimSpace(c.CrawlerURL) == "" {
			return fmt.Errorf("search.crawler_url required for crawler backend")
		}
	default:
		return fmt.Errorf("unsupported search backend: %s", c.Backend)
	}
	return nil
}

func (c ScrapeConfig) Validate() error {
	switch c.Fetcher {
	case "api":
		if strings.TrimSpace(c.APIBaseURL) == "" {
			return fmt.Errorf("scrape.api_base_url required for api fetcher")
		}
	case "http", "chromedp":
	default:
		return fmt.Errorf("unsupported scrape fetcher: %s", c.Fetcher)
	}
	if c.MaxChars < 0 {
		return fmt.Errorf("scrape.max_chars cannot be negative")
	}
	return nil
}

func (c PipelineConfig) Validate() error {
	if c.TopN <= 0 {
		return fmt.Errorf("pipeline.top_n must be > 0")
	}
	if c.RetryMax <= 0 {
		return fmt.Errorf("pipeline.retry_max must be > 0")
	}
	return nil
}

// LoadConfig loads config from file, with ALF_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("search.backend", "serper")
	viper.SetDefault("search.max_results", 30)
	viper.SetDefault("search.timeout", 15*time.Second)
	viper.SetDefault("scrape.fetcher", "http")
	viper.SetDefault("scrape.max_chars", 8000)
	viper.SetDefault("scrape.concurrency", 6)
	viper.SetDefault("scrape.timeout", 20*time.Second)
	viper.SetDefault("pipeline.top_n", 8)
	viper.SetDefault("pipeline.deadline", 120*time.Second)
	viper.SetDefault("pipeline.retry_max", 3)
	viper.SetDefault("pipeline.retry_backoff", 400*time.Millisecond)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ALF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Search.Validate(); err != nil {
		panic(err)
	}
	if err := config.Scrape.Validate(); err != nil {
		panic(err)
	}
	if err := config.Pipeline.Validate(); err != nil {
		panic(err)
	}
	return &config
}
