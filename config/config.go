package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server      ServerConfig        `mapstructure:"server"`
	Database    DatabaseConfig      `mapstructure:"db"`
	Redis       RedisConfig         `mapstructure:"redis"`
	Auth        AuthConfig          `mapstructure:"auth"`
	Log         LogConfig           `mapstructure:"log"`
	Lifecycle   LifecycleConfig     `mapstructure:"lifecycle"`
	Permissions map[string][]string `mapstructure:"permissions"` // 角色 → 允许的操作
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int             `mapstructure:"port"`
	BodyLimit    int64           `mapstructure:"body_limit"` // 请求体上限（字节）
	CORS         CORSConfig      `mapstructure:"cors"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// RateLimitConfig 生命周期写接口限流
type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// DatabaseConfig PostgreSQL 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 连接最大生命周期（分钟）
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 空闲连接最大存活时间（分钟）
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 配置（租户锁、限流、Token 黑名单）
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig JWT 认证配置（仅校验 Token，签发由认证模块负责）
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LifecycleConfig 学年生命周期与升级引擎配置
type LifecycleConfig struct {
	LockTTL              time.Duration `mapstructure:"lock_ttl"`               // 租户锁最长持有时间
	DecisionBatchSize    int           `mapstructure:"decision_batch_size"`    // 决策批量写入的单批行数
	ExamFetchConcurrency int           `mapstructure:"exam_fetch_concurrency"` // 并发查询考试汇总的上限
	StaleRunAfter        time.Duration `mapstructure:"stale_run_after"`        // in_progress 超过该时长视为失效
	SweepCron            string        `mapstructure:"sweep_cron"`             // 失效运行清理任务的 cron 表达式
	DefaultTerminalClass string        `mapstructure:"default_terminal_class"` // 学校未配置时的毕业年级
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	v := viper.New()

	// ── 默认值 ──
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.body_limit", 1<<20)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.rate_limit.limit", 30)
	v.SetDefault("server.rate_limit.window", "1m")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s") // 提交运行可能处理上万名学生

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "smart_school")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "Asia/Kolkata")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)  // 60分钟
	v.SetDefault("db.conn_max_idle_time", 30) // 30分钟

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.issuer", "smart-school")
	v.SetDefault("auth.access_token_ttl", "15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("lifecycle.lock_ttl", "10m")
	v.SetDefault("lifecycle.decision_batch_size", 500)
	v.SetDefault("lifecycle.exam_fetch_concurrency", 8)
	v.SetDefault("lifecycle.stale_run_after", "30m")
	v.SetDefault("lifecycle.sweep_cron", "@every 5m")
	v.SetDefault("lifecycle.default_terminal_class", "12")

	v.SetDefault("permissions", DefaultPermissions())

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("SCHOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// ── 关键配置校验 ──
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultPermissions 默认角色权限表
func DefaultPermissions() map[string][]string {
	return map[string][]string{
		"admin": {
			"academic_year.create", "academic_year.activate", "academic_year.close",
			"promotion_rule.write", "promotion_run.start", "promotion_run.abort",
			"promotion_decision.correct", "audit_log.read",
		},
		"principal": {
			"academic_year.create", "academic_year.activate", "academic_year.close",
			"promotion_run.start", "promotion_decision.correct", "audit_log.read",
		},
		"registrar": {
			"promotion_run.start", "audit_log.read",
		},
	}
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 不能为空")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	if c.Lifecycle.DecisionBatchSize <= 0 {
		return fmt.Errorf("配置校验失败: lifecycle.decision_batch_size 必须大于 0")
	}
	if c.Lifecycle.ExamFetchConcurrency <= 0 {
		return fmt.Errorf("配置校验失败: lifecycle.exam_fetch_concurrency 必须大于 0")
	}
	if c.Lifecycle.LockTTL < time.Second {
		return fmt.Errorf("配置校验失败: lifecycle.lock_ttl 不能小于 1s")
	}
	if c.Lifecycle.StaleRunAfter <= c.Lifecycle.LockTTL {
		return fmt.Errorf("配置校验失败: lifecycle.stale_run_after 必须大于 lifecycle.lock_ttl")
	}
	if c.Lifecycle.DefaultTerminalClass == "" {
		return fmt.Errorf("配置校验失败: lifecycle.default_terminal_class 不能为空")
	}
	return nil
}
