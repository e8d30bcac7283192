// Package config loads the gateway's runtime configuration.
//
// Priority: defaults -> YAML file (if present) -> environment variables.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AEGIS").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration for the gateway process.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Gateway   GatewayConfig   `yaml:"gateway" env:"GATEWAY"`
	Agent     AgentConfig     `yaml:"agent" env:"AGENT"`
	Memory    MemoryConfig    `yaml:"memory" env:"MEMORY"`
	Queue     QueueConfig     `yaml:"queue" env:"QUEUE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the plain-HTTP health/metrics listener.
type ServerConfig struct {
	HealthPort      int           `yaml:"health_port" env:"HEALTH_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// GatewayConfig configures the WebSocket JSON-RPC gateway.
type GatewayConfig struct {
	ListenAddr     string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	AuthToken      string        `yaml:"auth_token" env:"AUTH_TOKEN"`
	JWTSecret      string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	MaxConnections int           `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	MaxTextChars   int           `yaml:"max_text_chars" env:"MAX_TEXT_CHARS"`
	MaxFrameBytes  int64         `yaml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// AgentConfig configures the supervisor agent loop.
type AgentConfig struct {
	SystemPrompt        string        `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	MaxSteps            int           `yaml:"max_steps" env:"MAX_STEPS"`
	LLMTimeout          time.Duration `yaml:"llm_timeout" env:"LLM_TIMEOUT"`
	ToolTimeout         time.Duration `yaml:"tool_timeout" env:"TOOL_TIMEOUT"`
	LLMRetryAttempts    int           `yaml:"llm_retry_attempts" env:"LLM_RETRY_ATTEMPTS"`
	LLMRetryBaseDelay   time.Duration `yaml:"llm_retry_base_delay" env:"LLM_RETRY_BASE_DELAY"`
	ConfirmationTTL     time.Duration `yaml:"confirmation_ttl" env:"CONFIRMATION_TTL"`
	RecallTopK          int           `yaml:"recall_top_k" env:"RECALL_TOP_K"`
}

// MemoryConfig configures the three-tier memory system.
type MemoryConfig struct {
	DataDir            string        `yaml:"data_dir" env:"DATA_DIR"`
	WorkingBudgetTokens int          `yaml:"working_budget_tokens" env:"WORKING_BUDGET_TOKENS"`
	KeepLastN          int           `yaml:"keep_last_n" env:"KEEP_LAST_N"`
	RIFRecencyTauHours float64       `yaml:"rif_recency_tau_hours" env:"RIF_RECENCY_TAU_HOURS"`
	FusionWeightVector float64       `yaml:"fusion_weight_vector" env:"FUSION_WEIGHT_VECTOR"`
	FusionWeightKeyword float64      `yaml:"fusion_weight_keyword" env:"FUSION_WEIGHT_KEYWORD"`
	FusionWeightRIF    float64       `yaml:"fusion_weight_rif" env:"FUSION_WEIGHT_RIF"`
	ForgetConfidence   float64       `yaml:"forget_confidence" env:"FORGET_CONFIDENCE"`
	ForgetAccessCount  int           `yaml:"forget_access_count" env:"FORGET_ACCESS_COUNT"`
	ConsolidateDecay   float64       `yaml:"consolidate_decay" env:"CONSOLIDATE_DECAY"`
	ConsolidateEvery   time.Duration `yaml:"consolidate_every" env:"CONSOLIDATE_EVERY"`
	RecallCacheEnabled bool          `yaml:"recall_cache_enabled" env:"RECALL_CACHE_ENABLED"`
	RecallCacheTTL     time.Duration `yaml:"recall_cache_ttl" env:"RECALL_CACHE_TTL"`
}

// QueueConfig configures the on-disk delivery queue.
type QueueConfig struct {
	DataDir     string        `yaml:"data_dir" env:"DATA_DIR"`
	Workers     int           `yaml:"workers" env:"WORKERS"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

// RedisConfig configures the optional recall-cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`
}

// LLMConfig configures the chat-completion adapter.
type LLMConfig struct {
	Provider   string        `yaml:"provider" env:"PROVIDER"`
	Model      string        `yaml:"model" env:"MODEL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// EmbeddingConfig configures the embedding adapter used by the memory system.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider" env:"PROVIDER"`
	Model      string `yaml:"model" env:"MODEL"`
	APIKey     string `yaml:"api_key" env:"API_KEY"`
	BaseURL    string `yaml:"base_url" env:"BASE_URL"`
	Dimensions int    `yaml:"dimensions" env:"DIMENSIONS"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level        string `yaml:"level" env:"LEVEL"`
	Format       string `yaml:"format" env:"FORMAT"`
	EnableCaller bool   `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads a Config using the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new Loader with the default AEGIS env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AEGIS",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets an optional YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator registers an additional config validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds a Config from defaults, then the YAML file, then the environment.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("load config env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads a Config from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the config for internally-inconsistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.MaxConnections <= 0 {
		errs = append(errs, "gateway.max_connections must be positive")
	}
	if c.Agent.MaxSteps <= 0 {
		errs = append(errs, "agent.max_steps must be positive")
	}
	if c.Memory.WorkingBudgetTokens <= 0 {
		errs = append(errs, "memory.working_budget_tokens must be positive")
	}
	w := c.Memory.FusionWeightVector + c.Memory.FusionWeightKeyword + c.Memory.FusionWeightRIF
	if w <= 0 {
		errs = append(errs, "memory fusion weights must sum to a positive value")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
