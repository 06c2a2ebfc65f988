package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 Worker 共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	InstallTimeout  Duration `mapstructure:"InstallTimeout"`
}

// WorkerConfig 描述一个离线缓存代理实例：它为哪个站点服务、用什么策略拦截、
// 预缓存哪些资源。CacheName 即版本号，换版本即换缓存。
type WorkerConfig struct {
	Name         string   `mapstructure:"Name"`
	Domain       string   `mapstructure:"Domain"`
	Upstream     string   `mapstructure:"Upstream"`
	Policy       string   `mapstructure:"Policy"`
	CacheName    string   `mapstructure:"CacheName"`
	Precache     []string `mapstructure:"Precache"`
	Exclude      []string `mapstructure:"Exclude"`
	SkipWaiting  bool     `mapstructure:"SkipWaiting"`
	ClaimClients bool     `mapstructure:"ClaimClients"`
	OfflineBody  string   `mapstructure:"OfflineBody"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Workers []WorkerConfig `mapstructure:"Worker"`
}

// PolicyKey 返回规整后的策略键值。
func (w WorkerConfig) PolicyKey() string {
	return strings.ToLower(strings.TrimSpace(w.Policy))
}

// EffectiveOfflineBody 返回离线占位响应正文，未配置时使用默认文案。
func (w WorkerConfig) EffectiveOfflineBody() string {
	if w.OfflineBody != "" {
		return w.OfflineBody
	}
	return "Offline"
}

// PolicySummaries 返回所有 Worker 的策略摘要，例如 exam:cache-first，供日志输出。
func PolicySummaries(workers []WorkerConfig) []string {
	if len(workers) == 0 {
		return nil
	}
	result := make([]string, len(workers))
	for i, w := range workers {
		result[i] = fmt.Sprintf("%s:%s", w.Name, w.PolicyKey())
	}
	return result
}
