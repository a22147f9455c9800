package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 DRAWSYNC_SERVER_PORT。
const EnvPrefix = "DRAWSYNC"

// Config 全局配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Feed      FeedConfig      `mapstructure:"feed" yaml:"feed"`
	Client    ClientConfig    `mapstructure:"client" yaml:"client"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	// SubscriberBuffer 是每个推送订阅的缓冲，溢出的订阅者会被断开。
	SubscriberBuffer int `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
	// AllowedOrigins 为空时允许任意来源的 WebSocket 与 CORS 请求。
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// StoreConfig 决定事件日志的存储：memory | sqlite
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// FeedConfig 客户端订阅的重连策略
type FeedConfig struct {
	ReconnectMin time.Duration `mapstructure:"reconnect_min" yaml:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max" yaml:"reconnect_max"`
}

type ClientConfig struct {
	ServerURL     string        `mapstructure:"server_url" yaml:"server_url"`
	Width         int           `mapstructure:"width" yaml:"width"`
	Height        int           `mapstructure:"height" yaml:"height"`
	AppendTimeout time.Duration `mapstructure:"append_timeout" yaml:"append_timeout"`
	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size"`
	// SettleTime 是 render 命令在最后一次推送后等待的静默时长。
	SettleTime time.Duration `mapstructure:"settle_time" yaml:"settle_time"`
}

type DiscoveryConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Service  string        `mapstructure:"service" yaml:"service"`
	Domain   string        `mapstructure:"domain" yaml:"domain"`
	Instance string        `mapstructure:"instance" yaml:"instance"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LoggingConfig struct {
	// Level 仅在未设置 PSLOG 环境变量时生效。
	Level string `mapstructure:"level" yaml:"level"`
}

// DefaultConfig 返回全部字段都有可用默认值的配置。
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			PingInterval:     30 * time.Second,
			SubscriberBuffer: 256,
		},
		Store: StoreConfig{
			Driver: "memory",
			Path:   "drawsync.db",
		},
		Feed: FeedConfig{
			ReconnectMin: 200 * time.Millisecond,
			ReconnectMax: 10 * time.Second,
		},
		Client: ClientConfig{
			ServerURL:     "http://127.0.0.1:8080",
			Width:         800,
			Height:        600,
			AppendTimeout: 10 * time.Second,
			QueueSize:     256,
			SettleTime:    500 * time.Millisecond,
		},
		Discovery: DiscoveryConfig{
			Service: "_drawsync._tcp",
			Domain:  "local.",
			Timeout: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load 从文件加载配置；path 为空时只使用默认值与环境变量。
// 显式给出的文件必须存在。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.ping_interval", cfg.Server.PingInterval)
	v.SetDefault("server.subscriber_buffer", cfg.Server.SubscriberBuffer)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("feed.reconnect_min", cfg.Feed.ReconnectMin)
	v.SetDefault("feed.reconnect_max", cfg.Feed.ReconnectMax)
	v.SetDefault("client.server_url", cfg.Client.ServerURL)
	v.SetDefault("client.width", cfg.Client.Width)
	v.SetDefault("client.height", cfg.Client.Height)
	v.SetDefault("client.append_timeout", cfg.Client.AppendTimeout)
	v.SetDefault("client.queue_size", cfg.Client.QueueSize)
	v.SetDefault("client.settle_time", cfg.Client.SettleTime)
	v.SetDefault("discovery.enabled", cfg.Discovery.Enabled)
	v.SetDefault("discovery.service", cfg.Discovery.Service)
	v.SetDefault("discovery.domain", cfg.Discovery.Domain)
	v.SetDefault("discovery.instance", cfg.Discovery.Instance)
	v.SetDefault("discovery.timeout", cfg.Discovery.Timeout)
	v.SetDefault("logging.level", cfg.Logging.Level)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.SubscriberBuffer <= 0 {
		return fmt.Errorf("server.subscriber_buffer must be positive")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported store.driver %q", c.Store.Driver)
	}
	if c.Feed.ReconnectMin <= 0 || c.Feed.ReconnectMax < c.Feed.ReconnectMin {
		return fmt.Errorf("feed reconnect window invalid: min=%s max=%s", c.Feed.ReconnectMin, c.Feed.ReconnectMax)
	}
	u, err := url.Parse(c.Client.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("client.server_url must be an absolute http(s) url, got %q", c.Client.ServerURL)
	}
	if c.Client.Width <= 0 || c.Client.Height <= 0 {
		return fmt.Errorf("client canvas size must be positive, got %dx%d", c.Client.Width, c.Client.Height)
	}
	if c.Client.QueueSize <= 0 {
		return fmt.Errorf("client.queue_size must be positive")
	}
	if c.Discovery.Service == "" {
		return fmt.Errorf("discovery.service is required")
	}
	return nil
}

// Addr 返回服务端监听地址。
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// WriteDefault 把默认配置写到 path；文件已存在且不允许覆盖时报错。
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
	}
	data, err := MarshalDefault()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// MarshalDefault 以 YAML 形式渲染默认配置。
func MarshalDefault() ([]byte, error) {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}
	return data, nil
}
