package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultMaxBodySize int64 = 2 * 1024 * 1024 // 2MB
	DefaultConfigPath        = "config.yaml"
)

// Config holds the configuration for the PR review service.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format string `yaml:"format"` // text, json
		Output string `yaml:"output"` // stdout, stderr, /path/to/file (comma-separated)
	} `yaml:"log"`

	Server struct {
		Port          int           `yaml:"port"`
		Host          string        `yaml:"host"`
		ReadTimeout   time.Duration `yaml:"read_timeout"`
		WriteTimeout  time.Duration `yaml:"write_timeout"`
		MaxBodySize   int64         `yaml:"max_body_size"`
		WebhookSecret string        `yaml:"-"` // from WEBHOOK_SECRET
	} `yaml:"server"`

	Forge struct {
		AppID      int64  `yaml:"app_id"`
		PrivateKey string `yaml:"-"` // from PRIVATE_KEY or PRIVATE_KEY_PATH
		BaseURL    string `yaml:"base_url"`
	} `yaml:"forge"`

	Queue struct {
		Backend   string `yaml:"backend"` // memory, broker
		BrokerURL string `yaml:"broker_url"`
		Workers   int    `yaml:"workers"`
	} `yaml:"queue"`

	LLM struct {
		Provider  string `yaml:"provider"` // openai, anthropic, local
		Model     string `yaml:"model"`
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"-"` // from <PROVIDER>_API_KEY
		MaxTokens int    `yaml:"max_tokens"`
	} `yaml:"llm"`

	Review struct {
		MaxInlineComments   int     `yaml:"max_inline_comments"`
		RiskThreshold       int     `yaml:"risk_threshold"`
		ConfidenceThreshold float64 `yaml:"confidence_threshold"`
		MaxExpectedIssues   int     `yaml:"max_expected_issues"`
	} `yaml:"review"`

	Chunker struct {
		MaxTokens         int  `yaml:"max_tokens"`
		OverlapTokens     int  `yaml:"overlap_tokens"`
		MaxFilesPerChunk  int  `yaml:"max_files_per_chunk"`
		KeepFilesTogether bool `yaml:"keep_files_together"`
	} `yaml:"chunker"`

	Tools struct {
		Enabled        map[string]bool `yaml:"enabled"`
		SemgrepRules   string          `yaml:"semgrep_rules"`
		SemgrepTimeout time.Duration   `yaml:"semgrep_timeout"`
		DefaultTimeout time.Duration   `yaml:"default_timeout"`
	} `yaml:"tools"`

	Vuln struct {
		Enabled bool   `yaml:"enabled"`
		OSVURL  string `yaml:"osv_url"`
	} `yaml:"vuln"`

	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig holds configuration for the optional review-audit log.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, ""
	DSN    string `yaml:"dsn"`
}

// GetLogLevel returns the slog.Level based on Log.Level string.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from an optional YAML file and supplements
// it with environment variables, which always win for secrets and
// deployment-critical values.
func LoadConfig() *Config {
	cfg := &Config{}

	cfg.Log.Level = "INFO"
	cfg.Log.Format = "json"
	cfg.Log.Output = "stdout"

	cfg.Server.Port = 3000
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.MaxBodySize = DefaultMaxBodySize

	cfg.Queue.Backend = "memory"
	cfg.Queue.Workers = 3

	cfg.LLM.Provider = "openai"
	cfg.LLM.Model = "gpt-4o"
	cfg.LLM.MaxTokens = 4096

	cfg.Review.MaxInlineComments = 10
	cfg.Review.RiskThreshold = 85
	cfg.Review.ConfidenceThreshold = 0.5
	cfg.Review.MaxExpectedIssues = 1

	cfg.Chunker.MaxTokens = 6000
	cfg.Chunker.OverlapTokens = 200
	cfg.Chunker.MaxFilesPerChunk = 10
	cfg.Chunker.KeepFilesTogether = true

	cfg.Tools.Enabled = map[string]bool{
		"eslint": true, "semgrep": true, "ruff": true,
		"bandit": true, "gosec": true, "staticcheck": true, "govet": true,
	}
	cfg.Tools.SemgrepRules = "auto"
	cfg.Tools.SemgrepTimeout = 300 * time.Second
	cfg.Tools.DefaultTimeout = 300 * time.Second

	cfg.Vuln.Enabled = true
	cfg.Vuln.OSVURL = "https://api.osv.dev"

	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("unmarshal config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			slog.Error("read config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	if v, ok := os.LookupEnv("LOG_JSON"); ok {
		if parseBool(v, true) {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "text"
		}
	}
	cfg.Log.Output = getEnv("LOG_OUTPUT", cfg.Log.Output)

	if envPort := getEnvInt("PORT", 0); envPort != 0 {
		cfg.Server.Port = envPort
	}
	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.WebhookSecret = getEnv("WEBHOOK_SECRET", cfg.Server.WebhookSecret)

	cfg.Forge.AppID = int64(getEnvInt("APP_ID", int(cfg.Forge.AppID)))
	cfg.Forge.PrivateKey = loadPrivateKey()
	cfg.Forge.BaseURL = getEnv("FORGE_BASE_URL", cfg.Forge.BaseURL)

	cfg.Queue.Backend = getEnv("QUEUE_BACKEND", cfg.Queue.Backend)
	cfg.Queue.BrokerURL = getEnv("BROKER_URL", cfg.Queue.BrokerURL)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	providerPrefix := strings.ToUpper(cfg.LLM.Provider)
	cfg.LLM.APIKey = getEnv(providerPrefix+"_API_KEY", getEnv("LLM_API_KEY", cfg.LLM.APIKey))
	cfg.LLM.BaseURL = getEnv(providerPrefix+"_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = getEnv(providerPrefix+"_MODEL", cfg.LLM.Model)
	if mt := getEnvInt("OPENAI_MAX_TOKENS", 0); mt != 0 {
		cfg.LLM.MaxTokens = mt
	}

	if v := getEnvInt("MAX_INLINE_COMMENTS", 0); v != 0 {
		cfg.Review.MaxInlineComments = v
	}
	if v := getEnvInt("RISK_THRESHOLD", 0); v != 0 {
		cfg.Review.RiskThreshold = v
	}
	if v := getEnvFloat("CONFIDENCE_THRESHOLD", -1); v >= 0 {
		cfg.Review.ConfidenceThreshold = v
	}

	for _, tool := range []string{"ESLINT", "SEMGREP", "RUFF", "BANDIT", "GOSEC", "STATICCHECK"} {
		if v, ok := os.LookupEnv("ENABLE_" + tool); ok {
			cfg.Tools.Enabled[strings.ToLower(tool)] = parseBool(v, true)
		}
	}
	cfg.Tools.SemgrepRules = getEnv("SEMGREP_RULES", cfg.Tools.SemgrepRules)
	if v := getEnvInt("SEMGREP_TIMEOUT", 0); v != 0 {
		cfg.Tools.SemgrepTimeout = time.Duration(v) * time.Second
	}

	if v, ok := os.LookupEnv("ENABLE_OSV_SCAN"); ok {
		cfg.Vuln.Enabled = parseBool(v, true)
	}
	cfg.Vuln.OSVURL = getEnv("OSV_API_URL", cfg.Vuln.OSVURL)

	return cfg
}

// loadPrivateKey reads the GitHub App private key from PRIVATE_KEY (literal
// PEM text) or PRIVATE_KEY_PATH (a file on disk).
func loadPrivateKey() string {
	if raw := os.Getenv("PRIVATE_KEY"); raw != "" {
		return raw
	}
	if path := os.Getenv("PRIVATE_KEY_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("read private key file failed", "error", err, "path", path)
			os.Exit(1)
		}
		return string(data)
	}
	return ""
}

// Validate validates the configuration, aggregating every violation into a
// single error.
func (c *Config) Validate() error {
	var errs []string

	if c.Forge.AppID == 0 {
		errs = append(errs, "APP_ID is required")
	}
	if c.Forge.PrivateKey == "" {
		errs = append(errs, "PRIVATE_KEY or PRIVATE_KEY_PATH is required")
	}
	if c.Server.WebhookSecret == "" {
		errs = append(errs, "WEBHOOK_SECRET is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}
	if c.Queue.Backend != "memory" && c.Queue.Backend != "broker" {
		errs = append(errs, fmt.Sprintf("invalid QUEUE_BACKEND: %s", c.Queue.Backend))
	}
	if c.Queue.Backend == "broker" && c.Queue.BrokerURL == "" {
		errs = append(errs, "BROKER_URL is required when QUEUE_BACKEND=broker")
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, fmt.Sprintf("%s_API_KEY is required", strings.ToUpper(c.LLM.Provider)))
	}
	if c.Review.ConfidenceThreshold < 0 || c.Review.ConfidenceThreshold > 1 {
		errs = append(errs, "CONFIDENCE_THRESHOLD must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func parseBool(v string, fallback bool) bool {
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
