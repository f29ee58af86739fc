package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Stripe   StripeConfig
	Email    EmailConfig
	Internal InternalConfig
	Redis    RedisConfig
	Jobs     JobsConfig
	Outbound OutboundConfig
	Obs      ObservabilityConfig
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	RefreshURL    string
	ReturnURL     string
}

type EmailConfig struct {
	Provider      string
	From          string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	PostmarkToken string
	PostmarkURL   string
}

// InternalConfig guards machine-to-machine endpoints such as the reminder trigger.
type InternalConfig struct {
	TriggerSecret string
	TriggerActor  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JobsConfig struct {
	Enabled         bool
	TickInterval    time.Duration
	ReminderCron    string
	OutboxBatchSize int
	OverdueBatch    int
	ReminderWorkers int
	EnabledJobs     []string
}

type OutboundConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

type ObservabilityConfig struct {
	LogLevel     string
	LogFormat    string
	SQLLogLevel  string
	SlowQuery    time.Duration
	OtelEnabled  bool
	OtelEndpoint string
	OtelProtocol string
	OtelSampling float64
}

const (
	EmailProviderSMTP     = "smtp"
	EmailProviderPostmark = "postmark"
	EmailProviderLog      = "log"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "clinicledger"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		NodeID:      int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "clinicledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			SuccessURL:    getenv("STRIPE_CHECKOUT_SUCCESS_URL", "http://localhost:3000/pay/success"),
			CancelURL:     getenv("STRIPE_CHECKOUT_CANCEL_URL", "http://localhost:3000/pay/cancel"),
			RefreshURL:    getenv("STRIPE_CONNECT_REFRESH_URL", "http://localhost:3000/settings/billing"),
			ReturnURL:     getenv("STRIPE_CONNECT_RETURN_URL", "http://localhost:3000/settings/billing"),
		},
		Email: EmailConfig{
			Provider:      strings.ToLower(getenv("EMAIL_PROVIDER", EmailProviderLog)),
			From:          getenv("EMAIL_FROM", "billing@clinicledger.local"),
			SMTPHost:      getenv("SMTP_HOST", "localhost"),
			SMTPPort:      getenvInt("SMTP_PORT", 587),
			SMTPUsername:  getenv("SMTP_USERNAME", ""),
			SMTPPassword:  getenv("SMTP_PASSWORD", ""),
			PostmarkToken: strings.TrimSpace(getenv("POSTMARK_SERVER_TOKEN", "")),
			PostmarkURL:   getenv("POSTMARK_API_URL", "https://api.postmarkapp.com/email"),
		},
		Internal: InternalConfig{
			TriggerSecret: strings.TrimSpace(getenv("INTERNAL_TRIGGER_SECRET", "")),
			TriggerActor:  getenv("INTERNAL_TRIGGER_ROLE", "scheduler"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Jobs: JobsConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			TickInterval:    getenvDuration("SCHEDULER_TICK_INTERVAL", 30*time.Second),
			ReminderCron:    getenv("REMINDER_CRON", "0 8 * * *"),
			OutboxBatchSize: getenvInt("OUTBOX_BATCH_SIZE", 50),
			OverdueBatch:    getenvInt("OVERDUE_BATCH_SIZE", 200),
			ReminderWorkers: getenvInt("REMINDER_WORKERS", 4),
			EnabledJobs:     splitList(getenv("SCHEDULER_JOBS", "")),
		},
		Outbound: OutboundConfig{
			Timeout:    getenvDuration("OUTBOUND_TIMEOUT", 10*time.Second),
			MaxRetries: getenvInt("OUTBOUND_MAX_RETRIES", 3),
		},
		Obs: ObservabilityConfig{
			LogLevel:     strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:    strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			SQLLogLevel:  strings.ToLower(strings.TrimSpace(getenv("DB_LOG_LEVEL", "warn"))),
			SlowQuery:    getenvDuration("DB_SLOW_QUERY", 200*time.Millisecond),
			OtelEnabled:  getenvBool("OTEL_ENABLED", false),
			OtelEndpoint: strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtelProtocol: strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))),
			OtelSampling: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
