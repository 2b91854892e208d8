package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	passwordPlaceholder = "<PASSWORD>"
)

type Config struct {
	Env        string `validate:"oneof=development production test"`
	ServerPort int    `validate:"gt=0,lt=65536"`
	LogLevel   string `validate:"oneof=debug info warn error"`
	Database   DatabaseConfig
	Auth       AuthConfig
	Mail       MailConfig
	MQ         MQConfig
	Storage    StorageConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
}

type DatabaseConfig struct {
	// URL may carry a <PASSWORD> placeholder replaced by Password.
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

type AuthConfig struct {
	JWTSecret       string        `validate:"required,min=32"`
	TokenTTL        time.Duration `validate:"gt=0"`
	CookieTTL       time.Duration `validate:"gt=0"`
	ResetTokenTTL   time.Duration `validate:"gt=0"`
	BcryptCost      int           `validate:"gte=4,lte=31"`
	SecureCookies   bool
	CookieName      string `validate:"required"`
	ResetPathPrefix string `validate:"required"`
}

type MailConfig struct {
	Transport string `validate:"oneof=smtp queue"`
	Host      string
	Port      int
	Username  string
	Password  string
	From      string `validate:"required"`
	Channel   string `validate:"required"`
}

type MQConfig struct {
	Backend  string `validate:"omitempty,oneof=rabbitmq pubsub"`
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type StorageConfig struct {
	Backend      string `validate:"omitempty,oneof=minio gcs"`
	MaxPhotoSize int64  `validate:"gt=0"`
	Minio        MinioConfig
	GCS          GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Max    int           `validate:"gte=0"`
	Window time.Duration `validate:"gt=0"`
}

// IsDevelopment reports whether the process runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// IsProduction reports whether the process runs in production mode.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// DSN returns the postgres connection string. An explicit URL wins over the
// individual host settings.
func (d DatabaseConfig) DSN() string {
	if strings.TrimSpace(d.URL) != "" {
		return strings.ReplaceAll(d.URL, passwordPlaceholder, escapePassword(d.Password))
	}

	sslmode := "disable"
	if d.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		User:   url.UserPassword(d.User, d.Password),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

func escapePassword(password string) string {
	// userinfo escaping differs from both path and query escaping
	encoded := url.UserPassword("u", password).String()
	return strings.TrimPrefix(encoded, "u:")
}

func LoadConfig() (Config, error) {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" || env == EnvDevelopment {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	tokenTTL, err := ParseDuration(v.GetString("JWT_EXPIRES_IN"))
	if err != nil {
		return Config{}, fmt.Errorf("JWT_EXPIRES_IN: %w", err)
	}

	cfg := Config{
		Env:        strings.ToLower(v.GetString("APP_ENV")),
		ServerPort: v.GetInt("PORT"),
		LogLevel:   strings.ToLower(v.GetString("LOG_LEVEL")),
		Database: DatabaseConfig{
			URL:      v.GetString("DATABASE"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: firstNonEmpty(v.GetString("DATABASE_PASSWORD"), v.GetString("DB_PASSWORD")),
			DBName:   v.GetString("DB_NAME"),
			UseSSL:   v.GetBool("DB_SSL"),
		},
		Auth: AuthConfig{
			JWTSecret:       strings.TrimSpace(v.GetString("JWT_SECRET")),
			TokenTTL:        tokenTTL,
			CookieTTL:       time.Duration(v.GetInt("JWT_COOKIE_EXPIRES_IN")) * 24 * time.Hour,
			ResetTokenTTL:   v.GetDuration("PASSWORD_RESET_TTL"),
			BcryptCost:      v.GetInt("BCRYPT_COST"),
			CookieName:      v.GetString("JWT_COOKIE_NAME"),
			ResetPathPrefix: v.GetString("PASSWORD_RESET_PATH"),
		},
		Mail: MailConfig{
			Transport: strings.ToLower(v.GetString("MAIL_TRANSPORT")),
			Host:      v.GetString("EMAIL_HOST"),
			Port:      v.GetInt("EMAIL_PORT"),
			Username:  v.GetString("EMAIL_USERNAME"),
			Password:  v.GetString("EMAIL_PASSWORD"),
			From:      v.GetString("EMAIL_FROM"),
			Channel:   v.GetString("MAIL_CHANNEL"),
		},
		MQ: MQConfig{
			Backend: strings.ToLower(v.GetString("MQ_BACKEND")),
			RabbitMQ: RabbitMQConfig{
				URL:             v.GetString("RABBITMQ_URL"),
				QueueDurable:    v.GetBool("RABBITMQ_QUEUE_DURABLE"),
				QueueAutoDelete: v.GetBool("RABBITMQ_QUEUE_AUTO_DELETE"),
				PrefetchCount:   v.GetInt("RABBITMQ_PREFETCH"),
			},
			PubSub: PubSubConfig{
				ProjectID:          v.GetString("PUBSUB_PROJECT_ID"),
				CredentialsFile:    v.GetString("PUBSUB_CREDENTIALS_FILE"),
				SubscriptionSuffix: v.GetString("PUBSUB_SUBSCRIPTION_SUFFIX"),
			},
		},
		Storage: StorageConfig{
			Backend:      strings.ToLower(v.GetString("STORAGE_BACKEND")),
			MaxPhotoSize: v.GetInt64("MAX_PHOTO_BYTES"),
			Minio: MinioConfig{
				Endpoint:  v.GetString("MINIO_ENDPOINT"),
				AccessKey: v.GetString("MINIO_ACCESS_KEY"),
				SecretKey: v.GetString("MINIO_SECRET_KEY"),
				Bucket:    v.GetString("MINIO_BUCKET"),
				UseSSL:    v.GetBool("MINIO_USE_SSL"),
			},
			GCS: GCSConfig{
				Bucket:          v.GetString("GCS_BUCKET"),
				ProjectID:       v.GetString("GCS_PROJECT_ID"),
				CredentialsFile: v.GetString("GCS_CREDENTIALS_FILE"),
			},
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		RateLimit: RateLimitConfig{
			Max:    v.GetInt("RATE_LIMIT_MAX"),
			Window: v.GetDuration("RATE_LIMIT_WINDOW"),
		},
	}
	cfg.Auth.SecureCookies = cfg.IsProduction()

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "bites")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "bites_db")

	v.SetDefault("JWT_EXPIRES_IN", "90d")
	v.SetDefault("JWT_COOKIE_EXPIRES_IN", 90)
	v.SetDefault("JWT_COOKIE_NAME", "jwt")
	v.SetDefault("PASSWORD_RESET_TTL", "10m")
	v.SetDefault("PASSWORD_RESET_PATH", "/api/users/resetPassword/")
	v.SetDefault("BCRYPT_COST", 12)

	v.SetDefault("MAIL_TRANSPORT", "smtp")
	v.SetDefault("EMAIL_PORT", 587)
	v.SetDefault("EMAIL_FROM", "Change & Charm <c&c@gmail.com>")
	v.SetDefault("MAIL_CHANNEL", "mail.outbound")

	v.SetDefault("RABBITMQ_QUEUE_DURABLE", true)
	v.SetDefault("RABBITMQ_PREFETCH", 10)
	v.SetDefault("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub")

	v.SetDefault("MAX_PHOTO_BYTES", 5<<20)
	v.SetDefault("MINIO_BUCKET", "user-photos")

	v.SetDefault("RATE_LIMIT_MAX", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", "1h")
}

// ParseDuration accepts Go durations plus a day suffix ("90d").
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid day count %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", value)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
