package config

import (
	"TrailSafe/pkg/logger"
	"TrailSafe/pkg/notification"
	"TrailSafe/pkg/util"
	"log"
	"os"
	"time"
)

type Config struct {
	DBDriver  string `env:"DB_DRIVER"`
	DSN       string `env:"DSN"`
	Addr      string `env:"ADDR"`
	Mode      string `env:"MODE"`
	APIPrefix string `env:"API_PREFIX"`

	Log  logger.LogConfig
	Mail notification.MailConfig
	SMS  notification.SMSConfig
	Push notification.PushConfig

	// 安全引擎参数
	GracePeriod         time.Duration `env:"GRACE_PERIOD"`          // 宽限期时长，服务端权威值
	MaxCredentialTries  int           `env:"MAX_CREDENTIAL_TRIES"`  // 口令最大尝试次数
	CascadeContactDelay time.Duration `env:"CASCADE_CONTACT_DELAY"` // 联系人之间的发送间隔
	GraceSweepSpec      string        `env:"GRACE_SWEEP_SPEC"`      // cron 表达式，宽限期兜底扫描

	DefaultLanguage string `env:"DEFAULT_LANGUAGE"`
	GeoIPDatabase   string `env:"GEOIP_DATABASE"`

	// 口令哈希 pepper 与设备请求签名密钥
	CredentialPepper string `env:"CREDENTIAL_PEPPER"`
	DeviceSecret     string `env:"DEVICE_SECRET"`

	// 事件媒体对象存储
	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL"`

	CacheType     string `env:"CACHE_TYPE"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	RateLimit string `env:"RATE_LIMIT"`
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	GlobalConfig = &Config{
		DBDriver:  util.GetEnv("DB_DRIVER"),
		DSN:       util.GetEnv("DSN"),
		Addr:      util.GetEnvDefault("ADDR", ":8080"),
		Mode:      util.GetEnv("MODE"),
		APIPrefix: util.GetEnvDefault("API_PREFIX", "/api/v1"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		Mail: notification.MailConfig{
			Host:     util.GetEnv("MAIL_HOST"),
			Username: util.GetEnv("MAIL_USERNAME"),
			Password: util.GetEnv("MAIL_PASSWORD"),
			Port:     util.GetIntEnv("MAIL_PORT"),
			From:     util.GetEnv("MAIL_FROM"),
		},
		SMS: notification.SMSConfig{
			AccessKeyId:     util.GetEnv("SMS_ACCESS_KEY_ID"),
			AccessKeySecret: util.GetEnv("SMS_ACCESS_KEY_SECRET"),
			SignName:        util.GetEnv("SMS_SIGN_NAME"),
			TemplateCode:    util.GetEnv("SMS_TEMPLATE_CODE"),
			Endpoint:        util.GetEnv("SMS_ENDPOINT"),
		},
		Push: notification.PushConfig{
			AppKey:       util.GetEnv("PUSH_APP_KEY"),
			MasterSecret: util.GetEnv("PUSH_MASTER_SECRET"),
		},
		GracePeriod:         util.GetDurationEnv("GRACE_PERIOD"),
		MaxCredentialTries:  int(util.GetIntEnv("MAX_CREDENTIAL_TRIES")),
		CascadeContactDelay: util.GetDurationEnv("CASCADE_CONTACT_DELAY"),
		GraceSweepSpec:      util.GetEnvDefault("GRACE_SWEEP_SPEC", "@every 1m"),
		DefaultLanguage:     util.GetEnvDefault("DEFAULT_LANGUAGE", "en"),
		GeoIPDatabase:       util.GetEnv("GEOIP_DATABASE"),
		CredentialPepper:    util.GetEnv("CREDENTIAL_PEPPER"),
		DeviceSecret:        util.GetEnv("DEVICE_SECRET"),
		MinioEndpoint:       util.GetEnv("MINIO_ENDPOINT"),
		MinioAccessKey:      util.GetEnv("MINIO_ACCESS_KEY"),
		MinioSecretKey:      util.GetEnv("MINIO_SECRET_KEY"),
		MinioBucket:         util.GetEnvDefault("MINIO_BUCKET", "trailsafe-media"),
		MinioUseSSL:         util.GetBoolEnv("MINIO_USE_SSL"),
		CacheType:           util.GetEnvDefault("CACHE_TYPE", "gocache"),
		RedisAddr:           util.GetEnv("REDIS_ADDR"),
		RedisPassword:       util.GetEnv("REDIS_PASSWORD"),
		RateLimit:           util.GetEnvDefault("RATE_LIMIT", "300-M"),
	}

	// 服务端 2 分钟为权威宽限期；客户端倒计时仅为展示
	if GlobalConfig.GracePeriod <= 0 {
		GlobalConfig.GracePeriod = 2 * time.Minute
	}
	if GlobalConfig.MaxCredentialTries <= 0 {
		GlobalConfig.MaxCredentialTries = 3
	}
	if GlobalConfig.CascadeContactDelay <= 0 {
		GlobalConfig.CascadeContactDelay = 2 * time.Second
	}
	return nil
}
