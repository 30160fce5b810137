package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	MySQL             MySQLConfig
	Redis             RedisConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Stripe            StripeConfig
	TBI               TBIConfig
	Calendly          CalendlyConfig
	Cron              CronConfig
	Links             LinksConfig
	Jobs              JobsConfig
}

type AppConfig struct {
	ServiceName         string
	PaymentSettingsFile string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type StripeConfig struct {
	SecretKey                 string
	WebhookSecret             string
	SignatureToleranceSeconds int64
}

type TBIConfig struct {
	APIURL        string
	StoreID       string
	Username      string
	Password      string
	PrivateKeyPEM string
	HTTPTimeout   time.Duration
}

type CalendlyConfig struct {
	SigningKey string
}

type CronConfig struct {
	Secret string
}

type LinksConfig struct {
	CheckoutBaseURL        string
	TTL                    time.Duration
	FirstPaymentOffsetDays int
	BillingPeriodMonths    int
	UpdatePaymentTokenTTL  time.Duration
	UpdatePaymentBaseURL   string
}

type JobsConfig struct {
	BatchSize            int32
	Concurrency          int
	GatewayRatePerSecond float64
	LockTTL              time.Duration

	CancelExpiredInterval          time.Duration
	ChargeDeferredInterval         time.Duration
	ScheduledCancellationsInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName:         getEnv("APP_SERVICE_NAME", "billing-service"),
			PaymentSettingsFile: getEnv("PAYMENT_SETTINGS_FILE", "payment_settings.yaml"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Stripe: StripeConfig{
			SecretKey:                 getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:             getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SignatureToleranceSeconds: int64(getIntEnv("STRIPE_SIGNATURE_TOLERANCE_SECONDS", 300)),
		},
		TBI: TBIConfig{
			APIURL:        getEnv("TBI_API_URL", ""),
			StoreID:       getEnv("TBI_STORE_ID", ""),
			Username:      getEnv("TBI_USERNAME", ""),
			Password:      getEnv("TBI_PASSWORD", ""),
			PrivateKeyPEM: getEnv("TBI_PRIVATE_KEY", ""),
			HTTPTimeout:   getSecondsEnv("TBI_HTTP_TIMEOUT_SECONDS", 15*time.Second),
		},
		Calendly: CalendlyConfig{
			SigningKey: getEnv("CALENDLY_WEBHOOK_SIGNING_KEY", ""),
		},
		Cron: CronConfig{
			Secret: getEnv("CRON_SECRET", ""),
		},
		Links: LinksConfig{
			CheckoutBaseURL:        getEnv("CHECKOUT_BASE_URL", "http://localhost:3000/checkout"),
			TTL:                    getHoursEnv("PAYMENT_LINK_TTL_HOURS", 72*time.Hour),
			FirstPaymentOffsetDays: getIntEnv("FIRST_PAYMENT_OFFSET_DAYS", 30),
			BillingPeriodMonths:    getIntEnv("BILLING_PERIOD_MONTHS", 1),
			UpdatePaymentTokenTTL:  getHoursEnv("UPDATE_PAYMENT_TOKEN_TTL_HOURS", 24*time.Hour),
			UpdatePaymentBaseURL:   getEnv("UPDATE_PAYMENT_BASE_URL", "http://localhost:3000/update-payment"),
		},
		Jobs: JobsConfig{
			BatchSize:            int32(getIntEnv("JOBS_BATCH_SIZE", 100)),
			Concurrency:          getIntEnv("JOBS_CONCURRENCY", 4),
			GatewayRatePerSecond: getFloatEnv("JOBS_GATEWAY_RATE_PER_SECOND", 20),
			LockTTL:              getMinutesEnv("JOBS_LOCK_TTL_MINUTES", 30*time.Minute),

			CancelExpiredInterval:          getMinutesEnv("JOBS_CANCEL_EXPIRED_INTERVAL_MINUTES", 60*time.Minute),
			ChargeDeferredInterval:         getMinutesEnv("JOBS_CHARGE_DEFERRED_INTERVAL_MINUTES", 24*time.Hour),
			ScheduledCancellationsInterval: getMinutesEnv("JOBS_SCHEDULED_CANCELLATIONS_INTERVAL_MINUTES", 24*time.Hour),
		},
	}, nil
}

// ValidateServe checks the secrets the HTTP surface cannot run without.
func (c *Config) ValidateServe() error {
	missing := make([]string, 0, 3)
	if strings.TrimSpace(c.Cron.Secret) == "" {
		missing = append(missing, "CRON_SECRET")
	}
	if strings.TrimSpace(c.Stripe.WebhookSecret) == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if strings.TrimSpace(c.TBI.PrivateKeyPEM) == "" {
		missing = append(missing, "TBI_PRIVATE_KEY")
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getHoursEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if hours, err := strconv.Atoi(value); err == nil {
			return time.Duration(hours) * time.Hour
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
