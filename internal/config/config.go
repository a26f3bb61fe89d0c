// Package config 提供了模拟器的配置管理功能。
// 配置可从可选的 YAML 文件加载，再填充默认值，最后由环境变量覆盖。
// 每个环境变量同时接受无前缀与 LAMBDASIM_ 前缀两种写法，带前缀的优先。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix 是环境变量的可选前缀
const EnvPrefix = "LAMBDASIM_"

// Config 是模拟器的主配置结构体。
type Config struct {
	// Server 监听端口与关闭超时
	Server ServerConfig `yaml:"server"`
	// Lambda 调用上下文与时间预算
	Lambda LambdaConfig `yaml:"lambda"`
	// Streams 事件流配置
	Streams StreamsConfig `yaml:"streams"`
	// Logging 日志级别与格式
	Logging LoggingConfig `yaml:"logging"`
	// Metrics Prometheus 指标
	Metrics MetricsConfig `yaml:"metrics"`
	// Reporter 定时事件流报告
	Reporter ReporterConfig `yaml:"reporter"`
	// Telemetry OpenTelemetry 追踪
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig 定义 HTTP 服务配置。
type ServerConfig struct {
	// Port 是 HTTP 监听端口，默认 3000
	Port int `yaml:"port"`
	// ShutdownTimeout 是优雅关闭的最长等待时间
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LambdaConfig 定义模拟的函数执行环境。
type LambdaConfig struct {
	// Region 出现在函数 ARN 中，默认 local
	Region string `yaml:"region"`
	// AccountID 出现在函数 ARN 中
	AccountID string `yaml:"account_id"`
	// TimeoutMS 是单次调用的时间预算（毫秒），默认 30000
	TimeoutMS int `yaml:"timeout_ms"`
	// MemoryMB 是上报的内存上限，默认 128
	MemoryMB int `yaml:"memory_mb"`
	// EnforceTimeout 为 true 时超时调用立即失败
	EnforceTimeout bool `yaml:"enforce_timeout"`
}

// Timeout 以 time.Duration 返回时间预算
func (l LambdaConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutMS) * time.Millisecond
}

// StreamsConfig 定义事件流配置。
type StreamsConfig struct {
	// Names 是启动时预先创建的事件流
	Names []string `yaml:"names"`
	// Retention 是每个事件流保留的最大记录数
	Retention int `yaml:"retention"`
}

// LoggingConfig 定义日志配置。
type LoggingConfig struct {
	// Level 日志级别，默认 INFO
	Level string `yaml:"level"`
	// Format 为 json 或 text
	Format string `yaml:"format"`
}

// MetricsConfig 定义指标配置。
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// ReporterConfig 定义定时报告任务。
type ReporterConfig struct {
	// Schedule 是 cron 表达式，为空时不启动报告任务
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig 定义追踪配置。
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Default 返回只包含默认值的配置
func Default() *Config {
	cfg := &Config{
		Metrics: MetricsConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

// Load 加载配置。
// path 为空时跳过文件，仅使用默认值与环境变量；指定了文件但读取失败时返回错误。
//
// 参数：
//   - path: YAML 配置文件路径，可为空
//
// 返回值：
//   - *Config: 处理并校验后的配置
//   - error: 读取、解析、环境变量或校验失败
func Load(path string) (*Config, error) {
	cfg := &Config{
		Metrics: MetricsConfig{Enabled: true},
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults 为未设置的配置项填充默认值。
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Lambda.Region == "" {
		c.Lambda.Region = "local"
	}
	if c.Lambda.AccountID == "" {
		c.Lambda.AccountID = "123456789012"
	}
	if c.Lambda.TimeoutMS == 0 {
		c.Lambda.TimeoutMS = 30000
	}
	if c.Lambda.MemoryMB == 0 {
		c.Lambda.MemoryMB = 128
	}
	if len(c.Streams.Names) == 0 {
		c.Streams.Names = []string{"user-events", "game-events", "bet-events"}
	}
	if c.Streams.Retention == 0 {
		c.Streams.Retention = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "lambdasim"
	}
	if c.Reporter.Schedule == "" {
		c.Reporter.Schedule = "@every 1m"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "lambdasim"
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4317"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = "local"
	}
}

// applyEnvOverrides 应用环境变量覆盖。
func (c *Config) applyEnvOverrides() error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := lookupEnv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := lookupEnv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}
	setString := func(key string, dst *string) {
		if v := lookupEnv(key); v != "" {
			*dst = v
		}
	}

	setInt("PORT", &c.Server.Port)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)
	setString("REGION", &c.Lambda.Region)
	setString("ACCOUNT_ID", &c.Lambda.AccountID)
	setInt("LAMBDA_TIMEOUT_MS", &c.Lambda.TimeoutMS)
	setInt("LAMBDA_MEMORY_MB", &c.Lambda.MemoryMB)
	setBool("LAMBDA_ENFORCE_TIMEOUT", &c.Lambda.EnforceTimeout)
	setInt("STREAM_RETENTION", &c.Streams.Retention)
	setBool("METRICS_ENABLED", &c.Metrics.Enabled)
	setString("REPORT_CRON", &c.Reporter.Schedule)
	setBool("TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	setString("TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)

	if v := lookupEnv("STREAMS"); v != "" {
		c.Streams.Names = splitList(v)
	}
	if v := lookupEnv("TELEMETRY_SAMPLE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TELEMETRY_SAMPLE_RATE: %q is not a number", v))
		} else {
			c.Telemetry.SampleRate = f
		}
	}
	if v := lookupEnv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT: %q is not a duration", v))
		} else {
			c.Server.ShutdownTimeout = d
		}
	}
	return errors.Join(errs...)
}

// lookupEnv 依次读取 LAMBDASIM_<key> 与 <key>，返回第一个非空值。
func lookupEnv(key string) string {
	for _, name := range []string{EnvPrefix + key, key} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// splitList 解析逗号分隔的列表，忽略空项
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate 检查配置是否可用。
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Lambda.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("lambda timeout must be positive, got %dms", c.Lambda.TimeoutMS))
	}
	if c.Lambda.MemoryMB <= 0 {
		errs = append(errs, fmt.Errorf("lambda memory must be positive, got %dMB", c.Lambda.MemoryMB))
	}
	if c.Streams.Retention <= 0 {
		errs = append(errs, fmt.Errorf("stream retention must be positive, got %d", c.Streams.Retention))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry sample rate %v out of [0,1]", c.Telemetry.SampleRate))
	}
	return errors.Join(errs...)
}
