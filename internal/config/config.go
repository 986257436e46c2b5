package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment    string `envconfig:"ENV" default:"development"`
	HTTPAddr       string `envconfig:"HTTP_ADDR" default:":8080"`
	DBDSN          string `envconfig:"DB_DSN" required:"true"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"migrations"`

	JWTSecret  string `envconfig:"JWT_SECRET" required:"true"`
	CronSecret string `envconfig:"CRON_SECRET" required:"true"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	Currency            string `envconfig:"CURRENCY" default:"usd"`

	PlatformFeePercent float64       `envconfig:"PLATFORM_FEE_PERCENT" default:"15"`
	PaymentWindow      time.Duration `envconfig:"PAYMENT_WINDOW" default:"24h"`
	MinPaymentLead     time.Duration `envconfig:"MIN_PAYMENT_LEAD" default:"1h"`
	HoldDuration       time.Duration `envconfig:"HOLD_DURATION" default:"144h"`
	CheckoutLockTTL    time.Duration `envconfig:"CHECKOUT_LOCK_TTL" default:"10m"`
	ReminderTolerance  time.Duration `envconfig:"REMINDER_TOLERANCE" default:"2m"`
	JobTimeout         time.Duration `envconfig:"JOB_TIMEOUT" default:"4m"`
	JobBatchSize       int           `envconfig:"JOB_BATCH_SIZE" default:"100"`

	SchedulerEnabled bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`
	CronReminders    string `envconfig:"CRON_PAYMENT_REMINDERS" default:"*/4 * * * *"`
	CronDeadlines    string `envconfig:"CRON_PAYMENT_DEADLINES" default:"*/5 * * * *"`
	CronHoldExpiry   string `envconfig:"CRON_HOLD_EXPIRY" default:"*/15 * * * *"`
	CronStaleLocks   string `envconfig:"CRON_STALE_LOCKS" default:"*/5 * * * *"`
	CronCompletion   string `envconfig:"CRON_COMPLETE_SESSIONS" default:"0 * * * *"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	SMTPHost      string `envconfig:"SMTP_HOST"`
	SMTPPort      string `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser      string `envconfig:"SMTP_USER"`
	SMTPPass      string `envconfig:"SMTP_PASS"`
	EmailFrom     string `envconfig:"EMAIL_FROM" default:"no-reply@hubletics.com"`
	EmailFromName string `envconfig:"EMAIL_FROM_NAME" default:"Hubletics"`

	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`

	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"hubletics.bookings"`

	OnboardingRefreshURL string `envconfig:"ONBOARDING_REFRESH_URL"`
	OnboardingReturnURL  string `envconfig:"ONBOARDING_RETURN_URL"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"20"`
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	// A missing .env is fine; production sets real variables.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PlatformFeePercent < 0 || c.PlatformFeePercent >= 100 {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be in [0, 100), got %v", c.PlatformFeePercent)
	}
	if c.JobBatchSize <= 0 {
		return fmt.Errorf("JOB_BATCH_SIZE must be positive, got %d", c.JobBatchSize)
	}
	if c.PaymentWindow <= 0 || c.HoldDuration <= 0 || c.CheckoutLockTTL <= 0 {
		return fmt.Errorf("PAYMENT_WINDOW, HOLD_DURATION and CHECKOUT_LOCK_TTL must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// EmailEnabled reports whether an SMTP relay is configured.
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != ""
}
