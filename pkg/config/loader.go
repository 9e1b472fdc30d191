// Package config provides configuration loading, validation, and defaults for taskpilot.
// It handles JSON or YAML config files, environment variable substitution, and env overrides.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override key, e.g. TASKPILOT_TASK_API_BASE_URL.
const EnvPrefix = "TASKPILOT_"

// Generator providers.
const (
	ProviderNone      = ""
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
)

// Defaults.
const (
	DefaultAddr               = ":8080"
	DefaultUserHeader         = "X-User-ID"
	DefaultShutdownTimeoutSec = 5
	DefaultPrometheusURL      = "http://localhost:9090"
	DefaultTaskAPITimeoutSec  = 30
	DefaultTaskAPIDependency  = "task_api"
	DefaultMaxRetries         = 3
	DefaultBaseDelayMs        = 1000
	DefaultFailureThreshold   = 5
	DefaultCooldownSec        = 30
	DefaultWindowSize         = 20
	DefaultMinConfidence      = 0.3
	DefaultConfidenceScale    = 2.0
	DefaultPlatform           = "baseline"
	DefaultMaxPromptTokens    = 512
	DefaultAssistedConfidence = 0.6
	DefaultGeneratorTimeout   = 10
)

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr                  string   `json:"addr" yaml:"addr"`
	UserHeader            string   `json:"user_header" yaml:"user_header"` // Identity Provider header carrying the authenticated user id
	ShutdownTimeoutSec    int      `json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
	AllowedOrigins        []string `json:"allowed_origins" yaml:"allowed_origins"`                   // CORS origins for browser clients; empty disables CORS
	PrometheusURL         string   `json:"prometheus_url" yaml:"prometheus_url"`                     // Queried by the stats command
	UserRequestsPerMinute int      `json:"user_requests_per_minute" yaml:"user_requests_per_minute"` // 0 = unlimited
	UserRequestsPerDay    int      `json:"user_requests_per_day" yaml:"user_requests_per_day"`       // 0 = unlimited
}

// TaskAPIConfig points at the downstream Task Store API.
type TaskAPIConfig struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	Token      string `json:"token" yaml:"token"`             // Optional bearer token
	TimeoutSec int    `json:"timeout_sec" yaml:"timeout_sec"` // Per-attempt deadline
	Dependency string `json:"dependency" yaml:"dependency"`   // Circuit breaker key
}

// RetryConfig holds the retry budget for transient failures.
type RetryConfig struct {
	MaxRetries  int  `json:"max_retries" yaml:"max_retries"`
	BaseDelayMs int  `json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMs  int  `json:"max_delay_ms" yaml:"max_delay_ms"` // 0 = uncapped
	Jitter      bool `json:"jitter" yaml:"jitter"`
}

// CircuitConfig holds breaker thresholds.
type CircuitConfig struct {
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	CooldownSec      int `json:"cooldown_sec" yaml:"cooldown_sec"`
}

// ResilienceConfig groups retry and breaker settings.
type ResilienceConfig struct {
	Retry   RetryConfig   `json:"retry" yaml:"retry"`
	Circuit CircuitConfig `json:"circuit" yaml:"circuit"`
}

// PipelineConfig tunes the conversational pipeline.
type PipelineConfig struct {
	WindowSize      int     `json:"window_size" yaml:"window_size"`
	MinConfidence   float64 `json:"min_confidence" yaml:"min_confidence"`
	ConfidenceScale float64 `json:"confidence_scale" yaml:"confidence_scale"`
	DefaultPlatform string  `json:"default_platform" yaml:"default_platform"`
	PseudonymKey    string  `json:"pseudonym_key" yaml:"pseudonym_key"` // Keys user-id hashing in logs
}

// GeneratorConfig selects the optional LLM used for assisted classification.
type GeneratorConfig struct {
	Provider           string  `json:"provider" yaml:"provider"` // "", anthropic, openai, ollama, google
	Model              string  `json:"model" yaml:"model"`
	APIKey             string  `json:"api_key" yaml:"api_key"`
	BaseURL            string  `json:"base_url" yaml:"base_url"`
	MaxPromptTokens    int     `json:"max_prompt_tokens" yaml:"max_prompt_tokens"`
	AssistedConfidence float64 `json:"assisted_confidence" yaml:"assisted_confidence"`
	TimeoutSec         int     `json:"timeout_sec" yaml:"timeout_sec"`
	TokensPerMinute    int     `json:"tokens_per_minute" yaml:"tokens_per_minute"` // 0 = unlimited
	TokensPerDay       int     `json:"tokens_per_day" yaml:"tokens_per_day"`       // 0 = unlimited
}

// PersistenceConfig enables the conversation journal.
type PersistenceConfig struct {
	DatabasePath string `json:"database_path" yaml:"database_path"` // Empty keeps conversations in memory only
}

// PlatformProfile declares the capabilities of an output surface.
type PlatformProfile struct {
	MaxInputLength int  `json:"max_input_length" yaml:"max_input_length"`
	RichText       bool `json:"rich_text" yaml:"rich_text"`
	Graphics       bool `json:"graphics" yaml:"graphics"`
	Audio          bool `json:"audio" yaml:"audio"`
}

// LoggingConfig controls debug logging.
type LoggingConfig struct {
	Debug        bool     `json:"debug" yaml:"debug"`
	DebugDomains []string `json:"debug_domains" yaml:"debug_domains"`
}

// Config represents the main configuration for taskpilot.
type Config struct {
	Server      ServerConfig               `json:"server" yaml:"server"`
	TaskAPI     TaskAPIConfig              `json:"task_api" yaml:"task_api"`
	Resilience  ResilienceConfig           `json:"resilience" yaml:"resilience"`
	Pipeline    PipelineConfig             `json:"pipeline" yaml:"pipeline"`
	Generator   GeneratorConfig            `json:"generator" yaml:"generator"`
	Persistence PersistenceConfig          `json:"persistence" yaml:"persistence"`
	Platforms   map[string]PlatformProfile `json:"platforms" yaml:"platforms"`
	Logging     LoggingConfig              `json:"logging" yaml:"logging"`
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Default returns a config with every default applied and env overrides honored.
func Default() *Config {
	var config Config
	applyEnvOverrides(&config)
	applyDefaults(&config)
	return &config
}

// LoadConfig loads and validates configuration from a JSON or YAML file with environment variable substitution.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Replace environment variable placeholders.
	dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		envVar := match[2 : len(match)-1]
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})

	var config Config
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(dataStr), &config); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal([]byte(dataStr), &config); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	applyEnvOverrides(&config)
	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	v := reflect.ValueOf(config).Elem()
	t := reflect.TypeOf(config).Elem()

	applyEnvOverridesRecursive(v, t, EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, t reflect.Type, prefix string) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		jsonTag := fieldType.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}

		fieldName := strings.Split(jsonTag, ",")[0]
		envKey := strings.ToUpper(prefix + fieldName)

		if envValue := os.Getenv(envKey); envValue != "" {
			setFieldFromEnv(field, envValue)
		}

		switch field.Kind() {
		case reflect.Struct:
			applyEnvOverridesRecursive(field, field.Type(), envKey+"_")
		case reflect.Map:
			if field.Type().Key().Kind() != reflect.String || field.IsNil() {
				continue
			}
			for _, key := range field.MapKeys() {
				mapValue := field.MapIndex(key)
				if mapValue.Kind() == reflect.Struct {
					structValue := reflect.New(mapValue.Type()).Elem()
					structValue.Set(mapValue)
					applyEnvOverridesRecursive(structValue, mapValue.Type(), envKey+"_"+strings.ToUpper(key.String())+"_")
					field.SetMapIndex(key, structValue)
				}
			}
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int:
		if val, err := parseInt(envValue); err == nil {
			field.SetInt(int64(val))
		}
	case reflect.Float64:
		if val, err := parseFloat(envValue); err == nil {
			field.SetFloat(val)
		}
	case reflect.Bool:
		field.SetBool(envValue == "1" || strings.EqualFold(envValue, "true"))
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(envValue, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
}

func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	if err != nil {
		return 0, fmt.Errorf("failed to parse int from '%s': %w", s, err)
	}
	return result, nil
}

func parseFloat(s string) (float64, error) {
	var result float64
	_, err := fmt.Sscanf(s, "%f", &result)
	if err != nil {
		return 0, fmt.Errorf("failed to parse float from '%s': %w", s, err)
	}
	return result, nil
}

// applyDefaults sets default values for missing configuration.
func applyDefaults(config *Config) {
	if config.Server.Addr == "" {
		config.Server.Addr = DefaultAddr
	}
	if config.Server.UserHeader == "" {
		config.Server.UserHeader = DefaultUserHeader
	}
	if config.Server.ShutdownTimeoutSec == 0 {
		config.Server.ShutdownTimeoutSec = DefaultShutdownTimeoutSec
	}
	if config.Server.PrometheusURL == "" {
		config.Server.PrometheusURL = DefaultPrometheusURL
	}

	if config.TaskAPI.TimeoutSec == 0 {
		config.TaskAPI.TimeoutSec = DefaultTaskAPITimeoutSec
	}
	if config.TaskAPI.Dependency == "" {
		config.TaskAPI.Dependency = DefaultTaskAPIDependency
	}

	if config.Resilience.Retry.MaxRetries == 0 {
		config.Resilience.Retry.MaxRetries = DefaultMaxRetries
	}
	if config.Resilience.Retry.BaseDelayMs == 0 {
		config.Resilience.Retry.BaseDelayMs = DefaultBaseDelayMs
	}
	if config.Resilience.Circuit.FailureThreshold == 0 {
		config.Resilience.Circuit.FailureThreshold = DefaultFailureThreshold
	}
	if config.Resilience.Circuit.CooldownSec == 0 {
		config.Resilience.Circuit.CooldownSec = DefaultCooldownSec
	}

	if config.Pipeline.WindowSize == 0 {
		config.Pipeline.WindowSize = DefaultWindowSize
	}
	if config.Pipeline.MinConfidence == 0 {
		config.Pipeline.MinConfidence = DefaultMinConfidence
	}
	if config.Pipeline.ConfidenceScale == 0 {
		config.Pipeline.ConfidenceScale = DefaultConfidenceScale
	}
	if config.Pipeline.DefaultPlatform == "" {
		config.Pipeline.DefaultPlatform = DefaultPlatform
	}

	if config.Generator.MaxPromptTokens == 0 {
		config.Generator.MaxPromptTokens = DefaultMaxPromptTokens
	}
	if config.Generator.AssistedConfidence == 0 {
		config.Generator.AssistedConfidence = DefaultAssistedConfidence
	}
	if config.Generator.TimeoutSec == 0 {
		config.Generator.TimeoutSec = DefaultGeneratorTimeout
	}
}

// validateConfig validates the loaded configuration.
func validateConfig(config *Config) error {
	if config.TaskAPI.BaseURL == "" {
		return fmt.Errorf("task_api.base_url is required")
	}
	u, err := url.Parse(config.TaskAPI.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("task_api.base_url %q is not an absolute URL", config.TaskAPI.BaseURL)
	}
	if config.Server.UserRequestsPerMinute < 0 || config.Server.UserRequestsPerDay < 0 {
		return fmt.Errorf("server request limits must not be negative")
	}
	if config.TaskAPI.TimeoutSec < 0 {
		return fmt.Errorf("task_api.timeout_sec must be positive")
	}

	if config.Resilience.Retry.MaxRetries < 0 {
		return fmt.Errorf("resilience.retry.max_retries must not be negative")
	}
	if config.Resilience.Retry.BaseDelayMs < 0 || config.Resilience.Retry.MaxDelayMs < 0 {
		return fmt.Errorf("resilience.retry delays must not be negative")
	}
	if config.Resilience.Circuit.FailureThreshold < 1 {
		return fmt.Errorf("resilience.circuit.failure_threshold must be at least 1")
	}
	if config.Resilience.Circuit.CooldownSec < 0 {
		return fmt.Errorf("resilience.circuit.cooldown_sec must not be negative")
	}

	if config.Pipeline.WindowSize < 1 {
		return fmt.Errorf("pipeline.window_size must be at least 1")
	}
	if config.Pipeline.MinConfidence < 0 || config.Pipeline.MinConfidence >= 1 {
		return fmt.Errorf("pipeline.min_confidence must be within [0,1), got %v", config.Pipeline.MinConfidence)
	}
	if config.Pipeline.ConfidenceScale <= 0 {
		return fmt.Errorf("pipeline.confidence_scale must be positive")
	}

	switch config.Generator.Provider {
	case ProviderNone, ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGoogle:
	default:
		return fmt.Errorf("unknown generator provider %q", config.Generator.Provider)
	}
	if config.Generator.Provider != ProviderNone && config.Generator.Model == "" {
		return fmt.Errorf("generator.model is required when provider %q is set", config.Generator.Provider)
	}
	if config.Generator.TokensPerMinute < 0 || config.Generator.TokensPerDay < 0 {
		return fmt.Errorf("generator token limits must not be negative")
	}
	if config.Generator.AssistedConfidence < 0 || config.Generator.AssistedConfidence > 1 {
		return fmt.Errorf("generator.assisted_confidence must be within [0,1]")
	}

	for name, profile := range config.Platforms {
		if name == "" {
			return fmt.Errorf("platform profile name must not be empty")
		}
		if profile.MaxInputLength < 1 {
			return fmt.Errorf("platform %q: max_input_length must be at least 1", name)
		}
	}

	return nil
}

// Validate re-checks a config assembled in code or adjusted by flags.
func (c *Config) Validate() error {
	return validateConfig(c)
}

// Timeout returns the per-attempt deadline.
func (c TaskAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// BaseDelay returns the backoff base.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap, zero when uncapped.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// Cooldown returns how long an open breaker rejects calls.
func (c CircuitConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSec) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// Timeout returns the per-call deadline for the text generator.
func (c GeneratorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}
