package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var (
	ErrUnknownDBDriver   = errors.New("unknown database driver")
	ErrEmptyJWTSecret    = errors.New("jwt secret must not be empty")
	ErrNoSendAttempts    = errors.New("chat send attempts must be at least 1")
	ErrEmptyServerPort   = errors.New("server port must not be empty")
	ErrInvalidMediaLimit = errors.New("media dimensions must be positive")
)

type Config struct {
	DB       DBConfig
	Server   ServerConfig
	Realtime RealtimeConfig
	JWT      JWTConfig
	Storage  StorageConfig
	Media    MediaConfig
	Branding BrandingConfig
	Redis    RedisConfig
	Log      LogConfig
}

type DBConfig struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

type ServerConfig struct {
	Port           string
	AllowedOrigins string
	BodyLimitMB    int
}

type RealtimeConfig struct {
	Addr           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateBurst      int
	RateInterval   time.Duration
	SendAttempts   int
	RetryDelays    []time.Duration
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type StorageConfig struct {
	Endpoint       string
	PublicEndpoint string
	AccessKey      string
	SecretKey      string
	Bucket         string
	Region         string
	UseSSL         bool
	LocalRoot      string
	PublicBaseURL  string
}

// CloudEnabled reports whether object storage credentials are present.
func (s StorageConfig) CloudEnabled() bool {
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != "" && s.Bucket != ""
}

type MediaConfig struct {
	MaxDimension  int
	JPEGQuality   int
	ThumbnailSize int
}

type BrandingConfig struct {
	FallbackPath string
}

type RedisConfig struct {
	URL string
}

func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

type LogConfig struct {
	Level      string
	Console    bool
	Pretty     bool
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func defaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "hourse")
	v.SetDefault("DB_PASSWORD", "hourse_secret")
	v.SetDefault("DB_NAME", "hourse")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_SQLITE_PATH", "hourse.db")

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("SERVER_BODY_LIMIT_MB", 50)

	v.SetDefault("REALTIME_ADDR", ":8081")
	v.SetDefault("REALTIME_ALLOWED_ORIGINS", "")
	v.SetDefault("REALTIME_MAX_MESSAGE_SIZE", 64*1024)
	v.SetDefault("REALTIME_RATE_BURST", 20)
	v.SetDefault("REALTIME_RATE_INTERVAL", 250*time.Millisecond)
	v.SetDefault("CHAT_SEND_ATTEMPTS", 3)
	v.SetDefault("CHAT_SEND_RETRY_DELAYS", "1s,2s,4s")

	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("JWT_EXPIRATION_HOURS", 24)

	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_PUBLIC_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_BUCKET", "hourse")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_USE_SSL", false)
	v.SetDefault("STORAGE_LOCAL_ROOT", "./uploads")
	v.SetDefault("STORAGE_PUBLIC_BASE_URL", "/uploads")

	v.SetDefault("MEDIA_MAX_DIMENSION", 1920)
	v.SetDefault("MEDIA_JPEG_QUALITY", 80)
	v.SetDefault("MEDIA_THUMBNAIL_SIZE", 300)

	v.SetDefault("BRANDING_FALLBACK_PATH", "./data/branding.json")

	v.SetDefault("REDIS_URL", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_CONSOLE", true)
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 3)
	v.SetDefault("LOG_MAX_AGE_DAYS", 28)
}

func Load() *Config {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	endpoint := v.GetString("S3_ENDPOINT")
	publicEndpoint := v.GetString("S3_PUBLIC_ENDPOINT")
	if publicEndpoint == "" {
		publicEndpoint = endpoint
	}

	return &Config{
		DB: DBConfig{
			Driver:     strings.ToLower(v.GetString("DB_DRIVER")),
			Host:       v.GetString("DB_HOST"),
			Port:       v.GetString("DB_PORT"),
			User:       v.GetString("DB_USER"),
			Password:   v.GetString("DB_PASSWORD"),
			Name:       v.GetString("DB_NAME"),
			SSLMode:    v.GetString("DB_SSLMODE"),
			SQLitePath: v.GetString("DB_SQLITE_PATH"),
		},
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			AllowedOrigins: v.GetString("CORS_ALLOWED_ORIGINS"),
			BodyLimitMB:    v.GetInt("SERVER_BODY_LIMIT_MB"),
		},
		Realtime: RealtimeConfig{
			Addr:           v.GetString("REALTIME_ADDR"),
			AllowedOrigins: splitList(v.GetString("REALTIME_ALLOWED_ORIGINS")),
			MaxMessageSize: v.GetInt64("REALTIME_MAX_MESSAGE_SIZE"),
			RateBurst:      v.GetInt("REALTIME_RATE_BURST"),
			RateInterval:   v.GetDuration("REALTIME_RATE_INTERVAL"),
			SendAttempts:   v.GetInt("CHAT_SEND_ATTEMPTS"),
			RetryDelays:    parseDurations(v.GetString("CHAT_SEND_RETRY_DELAYS"), []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}),
		},
		JWT: JWTConfig{
			Secret:          v.GetString("JWT_SECRET"),
			ExpirationHours: v.GetInt("JWT_EXPIRATION_HOURS"),
		},
		Storage: StorageConfig{
			Endpoint:       endpoint,
			PublicEndpoint: publicEndpoint,
			AccessKey:      v.GetString("S3_ACCESS_KEY"),
			SecretKey:      v.GetString("S3_SECRET_KEY"),
			Bucket:         v.GetString("S3_BUCKET"),
			Region:         v.GetString("S3_REGION"),
			UseSSL:         v.GetBool("S3_USE_SSL"),
			LocalRoot:      v.GetString("STORAGE_LOCAL_ROOT"),
			PublicBaseURL:  strings.TrimRight(v.GetString("STORAGE_PUBLIC_BASE_URL"), "/"),
		},
		Media: MediaConfig{
			MaxDimension:  v.GetInt("MEDIA_MAX_DIMENSION"),
			JPEGQuality:   v.GetInt("MEDIA_JPEG_QUALITY"),
			ThumbnailSize: v.GetInt("MEDIA_THUMBNAIL_SIZE"),
		},
		Branding: BrandingConfig{
			FallbackPath: v.GetString("BRANDING_FALLBACK_PATH"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		Log: LogConfig{
			Level:      v.GetString("LOG_LEVEL"),
			Console:    v.GetBool("LOG_CONSOLE"),
			Pretty:     v.GetBool("LOG_PRETTY"),
			FilePath:   v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
		},
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	invalid := "invalid config"

	switch c.DB.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return errors.Wrapf(ErrUnknownDBDriver, "%s: %q", invalid, c.DB.Driver)
	}

	if c.JWT.Secret == "" {
		return errors.Wrap(ErrEmptyJWTSecret, invalid)
	}

	if c.Server.Port == "" {
		return errors.Wrap(ErrEmptyServerPort, invalid)
	}

	if c.Realtime.SendAttempts < 1 {
		return errors.Wrap(ErrNoSendAttempts, invalid)
	}

	if c.Media.MaxDimension <= 0 || c.Media.ThumbnailSize <= 0 {
		return errors.Wrap(ErrInvalidMediaLimit, invalid)
	}

	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseDurations(value string, fallback []time.Duration) []time.Duration {
	parts := splitList(value)
	if len(parts) == 0 {
		return fallback
	}

	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		parsed, err := time.ParseDuration(part)
		if err != nil {
			return fallback
		}
		out = append(out, parsed)
	}
	return out
}
