package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for linegem.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	LINE     LINEConfig     `json:"line"`
	AI       AIConfig       `json:"ai"`
	Storage  StorageConfig  `json:"storage"`
	Records  RecordsConfig  `json:"records"`
	Supabase SupabaseConfig `json:"supabase"`
	Dedupe   DedupeConfig   `json:"dedupe"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel    string `json:"logLevel"`
	RepliesFile string `json:"repliesFile,omitempty"` // optional YAML reply catalog
}

type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	WebhookPath string `json:"webhookPath"`
	Greeting    string `json:"greeting"`
}

type LINEConfig struct {
	ChannelSecret      string `json:"channelSecret,omitempty"`
	ChannelAccessToken string `json:"channelAccessToken,omitempty"`
	APIBase            string `json:"apiBase,omitempty"`
	DataAPIBase        string `json:"dataApiBase,omitempty"`
	TimeoutSeconds     int    `json:"timeoutSeconds"`
}

// AIConfig selects the generative backend used for both text and images.
type AIConfig struct {
	Provider       string `json:"provider"` // "gemini" | "openai"
	APIKey         string `json:"apiKey,omitempty"`
	APIBase        string `json:"apiBase,omitempty"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// StorageConfig configures where inbound images are uploaded.
type StorageConfig struct {
	Backend    string `json:"backend"` // "supabase" | "local"
	Bucket     string `json:"bucket"`
	Prefix     string `json:"prefix"`
	LocalDir   string `json:"localDir,omitempty"`
	PublicBase string `json:"publicBase,omitempty"` // URL base for the local backend
}

// RecordsConfig configures where conversation records are inserted.
type RecordsConfig struct {
	Backend string `json:"backend"` // "supabase" | "sqlite" | "none"
	Table   string `json:"table"`
	DBPath  string `json:"dbPath,omitempty"`
}

type SupabaseConfig struct {
	URL            string `json:"url,omitempty"`
	Key            string `json:"key,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// DedupeConfig suppresses answering redelivered webhook events twice.
type DedupeConfig struct {
	Backend    string `json:"backend"` // "none" | "memory" | "redis"
	RedisURL   string `json:"redisUrl,omitempty"`
	TTLSeconds int    `json:"ttlSeconds"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.linegem).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".linegem"
	}
	return filepath.Join(home, ".linegem")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := resolveSecrets(cfg); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	cfg.Records.DBPath = ExpandPath(cfg.Records.DBPath)
	cfg.Storage.LocalDir = ExpandPath(cfg.Storage.LocalDir)
	cfg.General.RepliesFile = ExpandPath(cfg.General.RepliesFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a config from defaults and process environment only.
func FromEnv() (*Config, error) {
	cfg := Defaults()
	ApplyEnv(cfg)
	cfg.Records.DBPath = ExpandPath(cfg.Records.DBPath)
	cfg.Storage.LocalDir = ExpandPath(cfg.Storage.LocalDir)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays the well-known process variables onto cfg. Set variables
// win over file values.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	setIfEnv(&cfg.LINE.ChannelAccessToken, "LINE_CHANNEL_ACCESS_TOKEN")
	setIfEnv(&cfg.LINE.ChannelSecret, "LINE_CHANNEL_SECRET")
	setIfEnv(&cfg.AI.APIKey, "GEMINI_API_KEY")
	setIfEnv(&cfg.Supabase.URL, "SUPABASE_URL")
	// The service role key takes precedence over the anon key.
	setIfEnv(&cfg.Supabase.Key, "SUPABASE_KEY")
	setIfEnv(&cfg.Supabase.Key, "SUPABASE_SERVICE_ROLE_KEY")
	setIfEnv(&cfg.Dedupe.RedisURL, "REDIS_URL")
	setIfEnv(&cfg.General.LogLevel, "LOG_LEVEL")
}

func setIfEnv(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") || cfg.Server.WebhookPath == "/" {
		errs = append(errs, "server.webhookPath must start with / and not be the root path")
	}

	switch cfg.AI.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, "ai.provider must be one of: gemini, openai")
	}

	switch cfg.Storage.Backend {
	case "supabase":
		if cfg.Supabase.URL == "" {
			errs = append(errs, "supabase.url is required for storage.backend=supabase")
		}
	case "local":
		if cfg.Storage.LocalDir == "" {
			errs = append(errs, "storage.localDir is required for storage.backend=local")
		}
	default:
		errs = append(errs, "storage.backend must be one of: supabase, local")
	}
	if cfg.Storage.Bucket == "" {
		errs = append(errs, "storage.bucket must not be empty")
	}

	switch cfg.Records.Backend {
	case "supabase":
		if cfg.Supabase.URL == "" {
			errs = append(errs, "supabase.url is required for records.backend=supabase")
		}
		if cfg.Records.Table == "" {
			errs = append(errs, "records.table must not be empty")
		}
	case "sqlite":
		if cfg.Records.DBPath == "" {
			errs = append(errs, "records.dbPath is required for records.backend=sqlite")
		}
	case "none":
	default:
		errs = append(errs, "records.backend must be one of: supabase, sqlite, none")
	}

	switch cfg.Dedupe.Backend {
	case "none", "memory":
	case "redis":
		if cfg.Dedupe.RedisURL == "" {
			errs = append(errs, "dedupe.redisUrl is required for dedupe.backend=redis")
		}
	default:
		errs = append(errs, "dedupe.backend must be one of: none, memory, redis")
	}
	if cfg.Dedupe.TTLSeconds < 1 {
		errs = append(errs, "dedupe.ttlSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
