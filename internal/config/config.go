package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the deep research service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Search    SearchConfig    `mapstructure:"search"`
	Email     EmailConfig     `mapstructure:"email"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// TraceURLTemplate renders the diagnostic trace link surfaced in the
	// first run event; %s is replaced with the correlation id.
	TraceURLTemplate string `mapstructure:"trace_url_template"`
}

// LLMConfig contains LLM provider settings
type LLMConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Routing LLMRouting    `mapstructure:"routing"`

	Models map[string]LLMModel `mapstructure:"models"`
}

// LLMModel describes one configured model
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1KInput  float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRouting defines which model handles each pipeline stage
type LLMRouting struct {
	Planning  string `mapstructure:"planning"`
	Summary   string `mapstructure:"summary"`
	Synthesis string `mapstructure:"synthesis"`
	Audit     string `mapstructure:"audit"`
	Email     string `mapstructure:"email"`
	Fallback  string `mapstructure:"fallback"`
}

// ResearchConfig contains knobs for the research pipeline itself
type ResearchConfig struct {
	SearchCount     int           `mapstructure:"search_count"`
	MaxSearchCount  int           `mapstructure:"max_search_count"`
	SummaryMaxWords int           `mapstructure:"summary_max_words"`
	SearchTimeout   time.Duration `mapstructure:"search_timeout"`
	PlanTimeout     time.Duration `mapstructure:"plan_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	AuditTimeout    time.Duration `mapstructure:"audit_timeout"`
	FetchTopResults int           `mapstructure:"fetch_top_results"`
}

// SearchConfig contains web search provider settings
type SearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper or brave
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// EmailConfig contains email delivery settings
type EmailConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	FromEmail  string        `mapstructure:"from_email"`
	FromName   string        `mapstructure:"from_name"`
	ToEmail    string        `mapstructure:"to_email"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// DSN builds a Postgres connection string, preferring the full URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if p.Host == "" || p.DBName == "" {
		return ""
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("deepresearch")
		v.SetConfigType("json")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional, env plus defaults are enough to run
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "30s")
	v.SetDefault("general.trace_url_template", "")

	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.routing.planning", "gpt-4o-mini")
	v.SetDefault("llm.routing.summary", "gpt-4o-mini")
	v.SetDefault("llm.routing.synthesis", "gpt-4o-mini")
	v.SetDefault("llm.routing.audit", "gpt-4o-mini")
	v.SetDefault("llm.routing.email", "gpt-4o-mini")
	v.SetDefault("llm.routing.fallback", "gpt-4o-mini")
	v.SetDefault("llm.models.gpt-4o-mini.name", "gpt-4o-mini")
	v.SetDefault("llm.models.gpt-4o-mini.max_tokens", 8000)
	v.SetDefault("llm.models.gpt-4o-mini.temperature", 0.3)
	v.SetDefault("llm.models.gpt-4o-mini.cost_per_1k_input", 0.00015)
	v.SetDefault("llm.models.gpt-4o-mini.cost_per_1k_output", 0.0006)

	v.SetDefault("research.search_count", 5)
	v.SetDefault("research.max_search_count", 5)
	v.SetDefault("research.summary_max_words", 300)
	v.SetDefault("research.search_timeout", "90s")
	v.SetDefault("research.plan_timeout", "60s")
	v.SetDefault("research.write_timeout", "180s")
	v.SetDefault("research.audit_timeout", "60s")
	v.SetDefault("research.fetch_top_results", 2)

	v.SetDefault("search.provider", "serper")
	v.SetDefault("search.max_results", 8)
	v.SetDefault("search.timeout", "30s")
	v.SetDefault("search.fetch_timeout", "15s")

	v.SetDefault("email.enabled", true)
	v.SetDefault("email.from_name", "Deep Research")
	v.SetDefault("email.timeout", "30s")

	v.SetDefault("server.addr", ":10010")

	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.sslmode", "disable")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)
}

// overrideFromEnv overrides sensitive values from well-known env variables
func overrideFromEnv(v *viper.Viper) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		v.Set("llm.api_key", key)
	}
	if key := os.Getenv("SERPER_API_KEY"); key != "" {
		v.Set("search.serper_api_key", key)
	}
	if key := os.Getenv("BRAVE_SEARCH_KEY"); key != "" {
		v.Set("search.brave_api_key", key)
	}
	if key := os.Getenv("MAILJET_API_KEY"); key != "" {
		v.Set("email.api_key", key)
	}
	if secret := os.Getenv("MAILJET_API_SECRET"); secret != "" {
		v.Set("email.api_secret", secret)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		v.Set("storage.postgres.url", url)
	}
	if secret := os.Getenv("DEEPRESEARCH_JWT_SECRET"); secret != "" {
		v.Set("server.jwt_secret", secret)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Research.SearchCount < 1 {
		return fmt.Errorf("research.search_count must be at least 1")
	}
	if cfg.Research.MaxSearchCount < cfg.Research.SearchCount {
		return fmt.Errorf("research.max_search_count must be >= research.search_count")
	}
	switch cfg.Search.Provider {
	case "serper", "brave":
	default:
		return fmt.Errorf("unknown search provider: %s", cfg.Search.Provider)
	}
	routing := []string{
		cfg.LLM.Routing.Planning,
		cfg.LLM.Routing.Summary,
		cfg.LLM.Routing.Synthesis,
		cfg.LLM.Routing.Audit,
		cfg.LLM.Routing.Email,
		cfg.LLM.Routing.Fallback,
	}
	for _, model := range routing {
		if model == "" {
			continue
		}
		if _, ok := cfg.LLM.Models[model]; !ok {
			return fmt.Errorf("routing model '%s' not found in llm.models", model)
		}
	}
	return nil
}
