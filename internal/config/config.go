package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义管理 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailConfig 定义邮件子系统的默认配置
//
// 这些值只作为环境变量层面的默认值；运行时以 settings 表中的
// mailserver_* 键为准，面板修改后无需重启进程。
type MailConfig struct {
	Enabled           bool          // 邮件子系统总开关默认值
	Hostname          string        // HELO/EHLO 与 Message-ID 使用的主机名
	InboundPort       int           // 入站 SMTP 监听端口，默认 2525
	SubmissionEnabled bool          // 提交中继默认开关
	SubmissionPort    int           // 提交中继监听端口，默认 587
	QueuePollInterval time.Duration // 外发队列轮询间隔，默认 10s
	QueueBatchSize    int           // 每次轮询认领的条目数，默认 10
	DNSResolver       string        // 直连 DNS 解析器地址（host:port），可为空
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，为空时使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 配置（可选，用于跨进程限流计数）
type RedisConfig struct {
	Address  string // Redis 服务地址，留空表示使用进程内计数器
	Password string // Redis 认证密码
	DB       int    // Redis 数据库编号，默认 0
}

// AdminConfig 定义管理 API 的访问配置
//
// 完整的 RBAC 由面板的认证层负责（本仓库范围之外），这里只有
// 一个静态 API token 保护邮件子系统的管理端点。
type AdminConfig struct {
	APIToken string // 管理 API token，为空时拒绝所有管理请求
}

// Config 是系统核心配置的根结构体
type Config struct {
	Server   ServerConfig
	Mail     MailConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Admin    AdminConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: VPNADMIN_
// 例如: VPNADMIN_SERVER_PORT, VPNADMIN_MAIL_HOSTNAME
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("vpnadmin")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mail.enabled", false)
	viper.SetDefault("mail.hostname", "")
	viper.SetDefault("mail.inbound_port", 2525)
	viper.SetDefault("mail.submission_enabled", false)
	viper.SetDefault("mail.submission_port", 587)
	viper.SetDefault("mail.queue_poll_interval", "10s")
	viper.SetDefault("mail.queue_batch_size", 10)
	viper.SetDefault("mail.dns_resolver", "")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("admin.api_token", "")

	pollInterval, err := time.ParseDuration(viper.GetString("mail.queue_poll_interval"))
	if err != nil || pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mail: MailConfig{
			Enabled:           viper.GetBool("mail.enabled"),
			Hostname:          strings.ToLower(strings.TrimSpace(viper.GetString("mail.hostname"))),
			InboundPort:       viper.GetInt("mail.inbound_port"),
			SubmissionEnabled: viper.GetBool("mail.submission_enabled"),
			SubmissionPort:    viper.GetInt("mail.submission_port"),
			QueuePollInterval: pollInterval,
			QueueBatchSize:    viper.GetInt("mail.queue_batch_size"),
			DNSResolver:       viper.GetString("mail.dns_resolver"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Admin: AdminConfig{
			APIToken: viper.GetString("admin.api_token"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate 做基本的配置合法性检查
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Mail.InboundPort <= 0 || c.Mail.InboundPort > 65535 {
		return fmt.Errorf("invalid inbound SMTP port: %d", c.Mail.InboundPort)
	}
	if c.Mail.SubmissionPort <= 0 || c.Mail.SubmissionPort > 65535 {
		return fmt.Errorf("invalid submission port: %d", c.Mail.SubmissionPort)
	}
	if c.Mail.QueueBatchSize <= 0 {
		return fmt.Errorf("invalid queue batch size: %d", c.Mail.QueueBatchSize)
	}
	if c.Database.Type != "" && c.Database.Type != "mysql" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.Type != "" && c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required when database type is set")
	}
	return nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 如果文件不存在，静默失败（.env 是可选的）；
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
