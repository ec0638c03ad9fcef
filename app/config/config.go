package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Log      LogConfig       `mapstructure:"log"`
	JWT      JWTConfig       `mapstructure:"jwt"`
	Database DatabaseConfig  `mapstructure:"database"`
	Worker   WorkerConfig    `mapstructure:"worker"`
	Quota    QuotaConfig     `mapstructure:"quota"`
	Alert    AlertConfig     `mapstructure:"alert"`
	Stages   StagesConfig    `mapstructure:"stages"`
	Channels []ChannelConfig `mapstructure:"channels"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"` // 运维账户
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	Dir        string `mapstructure:"dir"`         // 日志目录
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`      // JWT 密钥
	ExpireTime int    `mapstructure:"expire_time"` // 过期时间（小时）
	Issuer     string `mapstructure:"issuer"`      // 签发者
}

type DatabaseConfig struct {
	Driver           string        `mapstructure:"driver"` // sqlite 或 postgres
	DSN              string        `mapstructure:"dsn"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"` // 仅 postgres 生效
}

// WorkerConfig 工作进程配置
type WorkerConfig struct {
	PollInterval      time.Duration     `mapstructure:"poll_interval"`
	MaxInFlight       int               `mapstructure:"max_in_flight"` // 单进程同时执行的阶段总数
	LeaseDuration     time.Duration     `mapstructure:"lease_duration"`
	HeartbeatInterval time.Duration     `mapstructure:"heartbeat_interval"`
	DrainTimeout      time.Duration     `mapstructure:"drain_timeout"`
	MaxRetries        int               `mapstructure:"max_retries"`
	SweepSpec         string            `mapstructure:"sweep_spec"` // cron 表达式
	Concurrency       ConcurrencyConfig `mapstructure:"concurrency"`
}

// ConcurrencyConfig 各阶段类别的本地并发上限
type ConcurrencyConfig struct {
	Asset int `mapstructure:"asset"`
	Video int `mapstructure:"video"`
	Audio int `mapstructure:"audio"`
}

// Ceilings 以类别名为键返回并发上限
func (c ConcurrencyConfig) Ceilings() map[string]int {
	return map[string]int{
		"asset": c.Asset,
		"video": c.Video,
		"audio": c.Audio,
	}
}

// QuotaConfig YouTube 每日配额配置
type QuotaConfig struct {
	DailyLimit        int            `mapstructure:"daily_limit"`
	Timezone          string         `mapstructure:"timezone"`
	WarningThreshold  float64        `mapstructure:"warning_threshold"`
	CriticalThreshold float64        `mapstructure:"critical_threshold"`
	AlertThrottle     time.Duration  `mapstructure:"alert_throttle"`
	Costs             map[string]int `mapstructure:"costs"` // 操作类型 -> 单位消耗
}

// Location 配额日期计算使用的时区
func (q QuotaConfig) Location() *time.Location {
	if q.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type AlertConfig struct {
	DiscordWebhook string        `mapstructure:"discord_webhook"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// StagesConfig 外部阶段执行器的访问配置
type StagesConfig struct {
	Endpoints map[string]string `mapstructure:"endpoints"` // 阶段名 -> URL
	Timeout   time.Duration     `mapstructure:"timeout"`
}

// ChannelConfig 频道种子配置
type ChannelConfig struct {
	ChannelID       string `mapstructure:"channel_id"`
	Name            string `mapstructure:"name"`
	Active          *bool  `mapstructure:"active"` // 未设置时视为启用
	MaxConcurrent   int    `mapstructure:"max_concurrent"`
	DailyQuota      int    `mapstructure:"daily_quota"`
	StorageStrategy string `mapstructure:"storage_strategy"`
}

// IsActive 频道是否参与轮转
func (c ChannelConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}

func Load() *Config {
	setDefaults()

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	config, err := Parse()
	if err != nil {
		log.Fatalf("%v", err)
	}
	return config
}

// Parse 从 viper 当前状态解码并校验配置
func Parse() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解码配置: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// Watch 监听配置文件变化，解码成功后回调 onChange
func Watch(onChange func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := Parse()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("server.port", "5000")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.dir", "data/logs")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// JWT默认配置
	viper.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	viper.SetDefault("jwt.expire_time", 24) // 24小时
	viper.SetDefault("jwt.issuer", "tubeforge")

	// 数据库默认配置
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "data/tubeforge.db")
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.statement_timeout", 30*time.Second)

	// 工作进程默认配置
	viper.SetDefault("worker.poll_interval", 2*time.Second)
	viper.SetDefault("worker.max_in_flight", 8)
	viper.SetDefault("worker.lease_duration", 10*time.Minute)
	viper.SetDefault("worker.heartbeat_interval", time.Minute)
	viper.SetDefault("worker.drain_timeout", 30*time.Minute)
	viper.SetDefault("worker.max_retries", 3)
	viper.SetDefault("worker.sweep_spec", "@every 1m")
	// 保守的默认并发，按各外部 API 的限流情况设置
	viper.SetDefault("worker.concurrency.asset", 12)
	viper.SetDefault("worker.concurrency.video", 3)
	viper.SetDefault("worker.concurrency.audio", 6)

	// 配额默认配置（YouTube Data API v3）
	viper.SetDefault("quota.daily_limit", 10000)
	viper.SetDefault("quota.timezone", "UTC")
	viper.SetDefault("quota.warning_threshold", 0.8)
	viper.SetDefault("quota.critical_threshold", 1.0)
	viper.SetDefault("quota.alert_throttle", 5*time.Minute)
	viper.SetDefault("quota.costs", map[string]int{
		"upload":    1600,
		"update":    50,
		"list":      1,
		"thumbnail": 50,
		"delete":    50,
		"search":    100,
	})

	viper.SetDefault("alert.timeout", 10*time.Second)
	viper.SetDefault("stages.timeout", 30*time.Minute)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT密钥未设置")
	}
	if config.Database.Driver != "sqlite" && config.Database.Driver != "postgres" {
		return fmt.Errorf("不支持的数据库驱动: %s", config.Database.Driver)
	}
	if config.Quota.DailyLimit <= 0 {
		return fmt.Errorf("每日配额必须大于0")
	}
	if config.Quota.WarningThreshold <= 0 || config.Quota.WarningThreshold > config.Quota.CriticalThreshold {
		return fmt.Errorf("配额告警阈值无效: warning=%.2f critical=%.2f",
			config.Quota.WarningThreshold, config.Quota.CriticalThreshold)
	}
	for op, cost := range config.Quota.Costs {
		if cost <= 0 {
			return fmt.Errorf("配额操作 %s 的消耗必须大于0", op)
		}
	}
	seen := make(map[string]bool, len(config.Channels))
	for _, ch := range config.Channels {
		if ch.ChannelID == "" {
			return fmt.Errorf("频道配置缺少 channel_id")
		}
		if seen[ch.ChannelID] {
			return fmt.Errorf("频道 %s 重复配置", ch.ChannelID)
		}
		seen[ch.ChannelID] = true
	}
	return nil
}
