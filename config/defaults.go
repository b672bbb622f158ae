package config

import "time"

// DefaultConfig 返回全部默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    10,
			RateLimitBurst:  20,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Addr:      ":9090",
			Namespace: "ensembleflow",
		},
		Stream: StreamConfig{
			HeartbeatInterval: 15 * time.Second,
			HeartbeatTimeout:  10 * time.Second,
			MaxReconnects:     3,
			ReconnectDelay:    time.Second,
			MaxBackoff:        30 * time.Second,
			EventBuffer:       64,
		},
		Fanout: FanoutConfig{
			Capacity:    3,
			CallTimeout: 60 * time.Second,
			Policy:      "allow-partial",
		},
		Synthesis: SynthesisConfig{
			DuplicateThreshold:  0.8,
			UniqueThreshold:     0.7,
			DominanceMultiplier: 2.0,
			OffloadEntryLimit:   5,
			OffloadCharLimit:    5000,
			Workers:             4,
		},
		Cache: CacheConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			DefaultTTL: 10 * time.Minute,
		},
		Models: ModelsConfig{
			Default:        []string{"glm-4", "qwen-max", "deepseek-chat"},
			Weights:        map[string]float64{},
			StubChunkDelay: 20 * time.Millisecond,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			Development: false,
		},
	}
}
