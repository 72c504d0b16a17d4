package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"chatroute/internal/compaction"
)

// Config 是服务配置的根结构体
type Config struct {
	Version string                             `mapstructure:"version" yaml:"version"`
	Gateway GatewayConfig                      `mapstructure:"gateway" yaml:"gateway"`
	Log     LogConfig                          `mapstructure:"log" yaml:"log"`
	Store   StoreConfig                        `mapstructure:"store" yaml:"store"`
	Routing RoutingConfig                      `mapstructure:"routing" yaml:"routing"`
	Context compaction.ContextManagementPolicy `mapstructure:"context" yaml:"context"`
	Tools   compaction.ToolCompactionPolicy    `mapstructure:"tools" yaml:"tools"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Port          int           `mapstructure:"port" yaml:"port"`
	Host          string        `mapstructure:"host" yaml:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	WatchConfig   bool          `mapstructure:"watch_config" yaml:"watch_config"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StoreConfig 存储配置
type StoreConfig struct {
	// ConfigPath 是 profile/路由策略 JSON 文档
	ConfigPath string `mapstructure:"config_path" yaml:"config_path"`
	// RoutesDriver: memory | sqlite | config
	RoutesDriver string `mapstructure:"routes_driver" yaml:"routes_driver"`
	RoutesPath   string `mapstructure:"routes_path" yaml:"routes_path"`
}

// RoutingConfig 路由与探测配置
type RoutingConfig struct {
	AttemptTimeout      time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	CompactionTimeout   time.Duration `mapstructure:"compaction_timeout" yaml:"compaction_timeout"`
	ProbeWindowChars    int           `mapstructure:"probe_window_chars" yaml:"probe_window_chars"`
	MaxBufferBytes      int           `mapstructure:"max_buffer_bytes" yaml:"max_buffer_bytes"`
	DefaultSystemPrompt string        `mapstructure:"default_system_prompt" yaml:"default_system_prompt"`
}

var (
	configPath string
	mu         sync.Mutex
)

// Load 加载配置文件
// 优先级: ENV > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("CHATROUTE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			// 忽略文件不存在错误，解析错误照常返回
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigParseError); ok {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Context = cfg.Context.Normalize()
	cfg.Tools = cfg.Tools.Normalize()

	return &cfg, nil
}

// GetString 获取字符串配置值
func GetString(key string) string {
	return viper.GetString(key)
}

// Set 设置配置值并持久化
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	viper.Set(key, value)

	if configPath != "" {
		return save()
	}
	return nil
}

// save 内部保存函数，调用者需要持有锁
func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0600)
}

// SaveTo 保存配置到指定路径
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Reset 重置配置（主要用于测试）
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	configPath = ""
	viper.Reset()
}
