package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lawsim/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type OAuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"`
	RedirectURI  string `json:"redirect_uri"`
}

type SMTPConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	FromEmail string `json:"from_email"`
}

type AIConfig struct {
	GeminiAPIKey string        `json:"-"`
	GeminiModel  string        `json:"gemini_model"`
	CacheTTL     time.Duration `json:"cache_ttl"`
}

type WorkerConfig struct {
	Concurrency          int           `json:"concurrency"`
	MaxAttempts          int           `json:"max_attempts"`
	ReleaseInterval      time.Duration `json:"release_interval"`
	CacheCleanupInterval time.Duration `json:"cache_cleanup_interval"`
	CacheWarmInterval    time.Duration `json:"cache_warm_interval"`
}

type Config struct {
	Environment string   `json:"environment"`
	ServerPort  string   `json:"server_port"`
	AppBaseURL  string   `json:"app_base_url"`
	CORSOrigins []string `json:"cors_origins"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	JWTSecret       string        `json:"-"`
	AccessTokenTTL  time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl"`
	Google          OAuthConfig   `json:"google"`

	Redis RedisConfig `json:"redis"`
	SMTP  SMTPConfig  `json:"smtp"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	SentryDSN string `json:"-"`

	StripeSecretKey     string `json:"-"`
	StripeWebhookSecret string `json:"-"`

	AI               AIConfig     `json:"ai"`
	Worker           WorkerConfig `json:"worker"`
	GradingRateLimit int          `json:"grading_rate_limit"`
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server_port", "8080")
	v.SetDefault("app_base_url", "http://localhost:3000")
	v.SetDefault("cors_origins", "http://localhost:3000")

	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "lawsim")
	v.SetDefault("db_ssl_mode", "disable")
	v.SetDefault("db_max_idle_conns", 10)
	v.SetDefault("db_max_open_conns", 100)

	v.SetDefault("jwt_secret", "")
	v.SetDefault("access_token_ttl", 15*time.Minute)
	v.SetDefault("refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("google_client_id", "")
	v.SetDefault("google_client_secret", "")
	v.SetDefault("google_redirect_uri", "")

	v.SetDefault("redis_enabled", false)
	v.SetDefault("redis_address", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("smtp_host", "localhost")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("from_email", "no-reply@lawsim.local")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("sentry_dsn", "")

	v.SetDefault("stripe_secret_key", "")
	v.SetDefault("stripe_webhook_secret", "")

	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "gemini-2.5-flash")
	v.SetDefault("ai_cache_ttl", 7*24*time.Hour)

	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("job_max_attempts", 3)
	v.SetDefault("release_interval", time.Minute)
	v.SetDefault("cache_cleanup_interval", time.Hour)
	v.SetDefault("cache_warm_interval", time.Duration(0))

	v.SetDefault("grading_rate_limit", 10)
}

// LoadConfig reads .env (when present) and the process environment into AppConfig
func LoadConfig() error {
	_ = godotenv.Load()

	cfg, err := Read(viper.New())
	if err != nil {
		return err
	}
	AppConfig = cfg
	logConfig()
	return nil
}

// Read builds a Config from v, which is bound to the environment
func Read(v *viper.Viper) (Config, error) {
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Environment: v.GetString("environment"),
		ServerPort:  v.GetString("server_port"),
		AppBaseURL:  strings.TrimRight(v.GetString("app_base_url"), "/"),
		CORSOrigins: splitList(v.GetString("cors_origins")),

		DBHost:         v.GetString("db_host"),
		DBPort:         v.GetString("db_port"),
		DBUser:         v.GetString("db_user"),
		DBPassword:     v.GetString("db_password"),
		DBName:         v.GetString("db_name"),
		DBSSLMode:      v.GetString("db_ssl_mode"),
		DBMaxIdleConns: v.GetInt("db_max_idle_conns"),
		DBMaxOpenConns: v.GetInt("db_max_open_conns"),

		JWTSecret:       v.GetString("jwt_secret"),
		AccessTokenTTL:  v.GetDuration("access_token_ttl"),
		RefreshTokenTTL: v.GetDuration("refresh_token_ttl"),
		Google: OAuthConfig{
			ClientID:     v.GetString("google_client_id"),
			ClientSecret: v.GetString("google_client_secret"),
			RedirectURI:  v.GetString("google_redirect_uri"),
		},

		Redis: RedisConfig{
			Enabled:  v.GetBool("redis_enabled"),
			Address:  v.GetString("redis_address"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		SMTP: SMTPConfig{
			Host:      v.GetString("smtp_host"),
			Port:      v.GetInt("smtp_port"),
			Username:  v.GetString("smtp_username"),
			Password:  v.GetString("smtp_password"),
			FromEmail: v.GetString("from_email"),
		},

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		SentryDSN: v.GetString("sentry_dsn"),

		StripeSecretKey:     v.GetString("stripe_secret_key"),
		StripeWebhookSecret: v.GetString("stripe_webhook_secret"),

		AI: AIConfig{
			GeminiAPIKey: v.GetString("gemini_api_key"),
			GeminiModel:  v.GetString("gemini_model"),
			CacheTTL:     v.GetDuration("ai_cache_ttl"),
		},
		Worker: WorkerConfig{
			Concurrency:          v.GetInt("worker_concurrency"),
			MaxAttempts:          v.GetInt("job_max_attempts"),
			ReleaseInterval:      v.GetDuration("release_interval"),
			CacheCleanupInterval: v.GetDuration("cache_cleanup_interval"),
			CacheWarmInterval:    v.GetDuration("cache_warm_interval"),
		},
		GradingRateLimit: v.GetInt("grading_rate_limit"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required settings
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be at least 1")
	}
	if c.IsProduction() {
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD is required in production")
		}
		if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
			return fmt.Errorf("Google OAuth credentials are required in production")
		}
	}
	return nil
}

// DSN returns the Postgres connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBSSLMode,
	)
}

// GormConfig is shared by the Postgres connection and the test databases.
// Timestamps are kept in UTC so release and expiry comparisons line up.
// Unique violations surface as gorm.ErrDuplicatedKey on every dialect.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}
}

func ConnectDB() error {
	log := logrus.WithField("component", "db")
	dsn := AppConfig.DSN()
	log.WithField("dsn", maskPassword(dsn)).Info("connecting to database")

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), GormConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("connected to database")
	return nil
}

// Migrate runs schema migration and seeds the default organization
func Migrate(db *gorm.DB) error {
	log := logrus.WithField("component", "db")
	log.Info("starting database migration")
	if err := models.Migrate(db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	if _, err := models.CreateDefaultOrganization(db); err != nil {
		return fmt.Errorf("seeding default organization: %w", err)
	}
	log.Info("database migration completed")
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment": AppConfig.Environment,
		"port":        AppConfig.ServerPort,
		"database":    fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"redis":       AppConfig.Redis.Enabled,
		"google":      AppConfig.Google.ClientID != "",
		"ai":          AppConfig.AI.GeminiAPIKey != "",
		"stripe":      AppConfig.StripeSecretKey != "",
	}).Info("loaded configuration")
}
