package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Whisper  WhisperConfig  `mapstructure:"whisper"`
	Summary  SummaryConfig  `mapstructure:"summary"`
	YouTube  YouTubeConfig  `mapstructure:"youtube"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Inbox    InboxConfig    `mapstructure:"inbox"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DataDir  string `mapstructure:"data_dir"` // 下载、字幕、摘要等文件的根目录
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
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

type QueueConfig struct {
	PollInterval    int    `mapstructure:"poll_interval"`    // 队列为空时的轮询间隔（秒）
	CleanupCron     string `mapstructure:"cleanup_cron"`     // 定时清理的 cron 表达式
	RetainCompleted int    `mapstructure:"retain_completed"` // 已完成任务保留天数
	RetainFailed    int    `mapstructure:"retain_failed"`    // 失败/取消任务保留天数
}

type WhisperConfig struct {
	BaseURL  string `mapstructure:"base_url"` // 兼容 OpenAI 接口的转录服务地址
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

type SummaryConfig struct {
	BaseURL string `mapstructure:"base_url"` // 兼容 OpenAI 接口的摘要服务地址
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type YouTubeConfig struct {
	YtdlpPath string `mapstructure:"ytdlp_path"` // yt-dlp 可执行文件路径
	Format    string `mapstructure:"format"`     // 下载格式
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type InboxConfig struct {
	Enabled bool   `mapstructure:"enabled"` // 是否监控收件目录并自动入队
	Dir     string `mapstructure:"dir"`
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

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "5000")
	viper.SetDefault("server.data_dir", "data")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// JWT默认配置
	viper.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	viper.SetDefault("jwt.expire_time", 24) // 24小时
	viper.SetDefault("jwt.issuer", "media-scribe")

	// 任务队列默认配置
	viper.SetDefault("queue.poll_interval", 1)
	viper.SetDefault("queue.cleanup_cron", "0 30 3 * * *") // 每天凌晨 3:30
	viper.SetDefault("queue.retain_completed", 7)
	viper.SetDefault("queue.retain_failed", 30)

	// 转录服务默认配置
	viper.SetDefault("whisper.model", "whisper-1")
	viper.SetDefault("whisper.language", "zh")

	// 摘要服务默认配置
	viper.SetDefault("summary.model", "gpt-4o-mini")

	// YouTube 下载默认配置
	viper.SetDefault("youtube.ytdlp_path", "yt-dlp")
	viper.SetDefault("youtube.format", "bestaudio[ext=m4a]/bestaudio/best")

	// 收件目录默认配置
	viper.SetDefault("inbox.enabled", false)
	viper.SetDefault("inbox.dir", "data/inbox")
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT密钥未设置")
	}
	if config.Queue.PollInterval <= 0 {
		return fmt.Errorf("队列轮询间隔必须为正数")
	}
	return nil
}
