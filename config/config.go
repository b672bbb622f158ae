// =============================================================================
// 📦 EnsembleFlow 配置
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("ENSEMBLEFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"time"
)

// Config 是 EnsembleFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Metrics 指标服务配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Stream 流式会话配置
	Stream StreamConfig `yaml:"stream" env:"STREAM"`

	// Fanout 并发扇出配置
	Fanout FanoutConfig `yaml:"fanout" env:"FANOUT"`

	// Synthesis 合成引擎配置
	Synthesis SynthesisConfig `yaml:"synthesis" env:"SYNTHESIS"`

	// Cache 合成结果缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Models 参与聚合的模型与权重
	Models ModelsConfig `yaml:"models" env:"MODELS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（流式端点需要长连接，0 表示不限制）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每客户端限速（请求/秒，0 表示不限速）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限速突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// MetricsConfig 指标服务配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// StreamConfig 流式会话配置
type StreamConfig struct {
	// 心跳间隔
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// 心跳超时（超过 间隔+超时 未收到任何帧视为传输故障）
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" env:"HEARTBEAT_TIMEOUT"`
	// 最大重连次数
	MaxReconnects int `yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	// 重连基础延迟（按次数递增）
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
	// 重连最大退避
	MaxBackoff time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	// 事件订阅缓冲
	EventBuffer int `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

// FanoutConfig 并发扇出配置
type FanoutConfig struct {
	// 限流器容量（同时在途模型调用数）
	Capacity int `yaml:"capacity" env:"CAPACITY"`
	// 单次模型调用超时
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	// 部分结果策略: allow-partial, fail-fast
	Policy string `yaml:"policy" env:"POLICY"`
}

// SynthesisConfig 合成引擎配置
type SynthesisConfig struct {
	// 近重复句判定阈值（Jaccard）
	DuplicateThreshold float64 `yaml:"duplicate_threshold" env:"DUPLICATE_THRESHOLD"`
	// 独特观点判定阈值
	UniqueThreshold float64 `yaml:"unique_threshold" env:"UNIQUE_THRESHOLD"`
	// 主导响应权重倍数
	DominanceMultiplier float64 `yaml:"dominance_multiplier" env:"DOMINANCE_MULTIPLIER"`
	// 触发隔离执行的条目数上限
	OffloadEntryLimit int `yaml:"offload_entry_limit" env:"OFFLOAD_ENTRY_LIMIT"`
	// 触发隔离执行的单条字符数上限
	OffloadCharLimit int `yaml:"offload_char_limit" env:"OFFLOAD_CHAR_LIMIT"`
	// 隔离执行工作协程数
	Workers int `yaml:"workers" env:"WORKERS"`
}

// CacheConfig 合成结果缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// ModelsConfig 模型集合配置
type ModelsConfig struct {
	// 默认模型列表
	Default []string `yaml:"default" env:"DEFAULT"`
	// 默认权重（未配置的模型权重为 1.0）
	Weights map[string]float64 `yaml:"weights" env:"-"`
	// 单个分片模拟延迟（仅内置演示后端使用）
	StubChunkDelay time.Duration `yaml:"stub_chunk_delay" env:"STUB_CHUNK_DELAY"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 开发模式
	Development bool `yaml:"development" env:"DEVELOPMENT"`
}

// Validate 校验配置的关键字段
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Fanout.Capacity <= 0 {
		return fmt.Errorf("fanout.capacity must be positive, got %d", c.Fanout.Capacity)
	}
	switch c.Fanout.Policy {
	case "", "allow-partial", "fail-fast":
	default:
		return fmt.Errorf("fanout.policy must be allow-partial or fail-fast, got %q", c.Fanout.Policy)
	}
	if c.Synthesis.DuplicateThreshold <= 0 || c.Synthesis.DuplicateThreshold > 1 {
		return fmt.Errorf("synthesis.duplicate_threshold must be in (0, 1], got %g", c.Synthesis.DuplicateThreshold)
	}
	if c.Synthesis.UniqueThreshold <= 0 || c.Synthesis.UniqueThreshold > 1 {
		return fmt.Errorf("synthesis.unique_threshold must be in (0, 1], got %g", c.Synthesis.UniqueThreshold)
	}
	if c.Synthesis.DominanceMultiplier < 1 {
		return fmt.Errorf("synthesis.dominance_multiplier must be >= 1, got %g", c.Synthesis.DominanceMultiplier)
	}
	if c.Synthesis.Workers <= 0 {
		return fmt.Errorf("synthesis.workers must be positive, got %d", c.Synthesis.Workers)
	}
	if c.Stream.MaxReconnects < 0 {
		return fmt.Errorf("stream.max_reconnects must be non-negative, got %d", c.Stream.MaxReconnects)
	}
	if c.Stream.EventBuffer <= 0 {
		return fmt.Errorf("stream.event_buffer must be positive, got %d", c.Stream.EventBuffer)
	}
	if len(c.Models.Default) == 0 {
		return fmt.Errorf("models.default must list at least one model")
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when cache is enabled")
	}
	return nil
}
