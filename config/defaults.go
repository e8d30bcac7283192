package config

import "time"

// DefaultConfig returns a Config populated with the process's defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Gateway:   DefaultGatewayConfig(),
		Agent:     DefaultAgentConfig(),
		Memory:    DefaultMemoryConfig(),
		Queue:     DefaultQueueConfig(),
		Redis:     DefaultRedisConfig(),
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default health/metrics listener config.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HealthPort:      8090,
		MetricsPort:     9091,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultGatewayConfig returns the default gateway config.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		ListenAddr:     ":8080",
		MaxConnections: 1000,
		MaxTextChars:   10000,
		MaxFrameBytes:  1 << 20,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		WriteTimeout:   10 * time.Second,
	}
}

// DefaultAgentConfig returns the default supervisor agent config.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		SystemPrompt:      "You are a helpful personal assistant.",
		MaxSteps:          10,
		LLMTimeout:        60 * time.Second,
		ToolTimeout:       30 * time.Second,
		LLMRetryAttempts:  3,
		LLMRetryBaseDelay: 1 * time.Second,
		ConfirmationTTL:   5 * time.Minute,
		RecallTopK:        5,
	}
}

// DefaultMemoryConfig returns the default memory system config.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		DataDir:             "./data/memory",
		WorkingBudgetTokens: 8000,
		KeepLastN:           5,
		RIFRecencyTauHours:  24,
		FusionWeightVector:  0.5,
		FusionWeightKeyword: 0.2,
		FusionWeightRIF:     0.3,
		ForgetConfidence:    0.3,
		ForgetAccessCount:   2,
		ConsolidateDecay:    0.7,
		ConsolidateEvery:    6 * time.Hour,
		RecallCacheEnabled:  false,
		RecallCacheTTL:      5 * time.Minute,
	}
}

// DefaultQueueConfig returns the default delivery-queue config.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		DataDir:      "./data/queue",
		Workers:      4,
		PollInterval: 500 * time.Millisecond,
	}
}

// DefaultRedisConfig returns the default (disabled) Redis config.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "",
		DB:       0,
		PoolSize: 10,
	}
}

// DefaultLLMConfig returns the default LLM adapter config.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:   "",
		Model:      "gpt-4o-mini",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// DefaultEmbeddingConfig returns the default embedding adapter config.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:   "",
		Dimensions: 1536,
	}
}

// DefaultLogConfig returns the default logging config.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig returns the default telemetry config.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "aegis-gateway",
		SampleRate:   0.1,
	}
}
