package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/audit"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/config"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/controller/api"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/controller/telegram"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/events"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/notification"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository/base"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/service"
)

type eventSink interface {
	service.EventPublisher
	Close() error
}

// App holds every long-lived component of the process.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Emails *notification.EmailQueue
	Bot    *telegram.BotController
	Events eventSink

	Bookings  *service.BookingService
	Lessons   *service.LessonService
	Deadlines *service.DeadlineService
	Webhooks  *service.WebhookService
	Payouts   *service.PayoutService
	Admin     *service.AdminService
}

// SettingsFromConfig copies the business knobs out of the process config.
func SettingsFromConfig(cfg *config.Config) service.Settings {
	return service.Settings{
		Currency:             cfg.Currency,
		PlatformFeePercent:   cfg.PlatformFeePercent,
		PaymentWindow:        cfg.PaymentWindow,
		MinPaymentLead:       cfg.MinPaymentLead,
		HoldDuration:         cfg.HoldDuration,
		CheckoutLockTTL:      cfg.CheckoutLockTTL,
		ReminderTolerance:    cfg.ReminderTolerance,
		JobTimeout:           cfg.JobTimeout,
		BatchSize:            cfg.JobBatchSize,
		OnboardingRefreshURL: cfg.OnboardingRefreshURL,
		OnboardingReturnURL:  cfg.OnboardingReturnURL,
	}
}

// New connects to the database and brokers and builds the services.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	a.Pool = pool
	logger.Info("Connected to database")

	db := base.NewRepository(pool)
	bookings := repository.NewBookingRepository(db)
	participants := repository.NewParticipantRepository(db)
	users := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	auditor := audit.NewRecorder(auditRepo, logger)
	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, logger)

	a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	var sender notification.Sender = &notification.LogSender{Logger: logger}
	if cfg.EmailEnabled() {
		sender = &notification.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Pass:     cfg.SMTPPass,
			From:     cfg.EmailFrom,
			FromName: cfg.EmailFromName,
		}
	}
	a.Emails = notification.NewEmailQueue(a.Redis, sender, logger)

	var pusher notification.Pusher
	if cfg.TelegramToken != "" {
		b, err := bot.New(cfg.TelegramToken)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
		pusher = notification.NewTelegramPusher(b)
		a.Bot = telegram.NewBotController(b, users, cfg.JWTSecret, logger)
	}

	a.Events = events.Nop{}
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Events = publisher
		logger.Info("Publishing booking events", zap.String("exchange", cfg.AMQPExchange))
	}

	deps := service.Deps{
		Tx:           db,
		Bookings:     bookings,
		Participants: participants,
		Users:        users,
		Gateway:      gateway,
		Audit:        auditor,
		Notifier:     notification.NewDispatcher(a.Emails, pusher, logger),
		Events:       a.Events,
		Logger:       logger,
	}
	settings := SettingsFromConfig(cfg)

	a.Bookings = service.NewBookingService(deps, settings)
	a.Lessons = service.NewLessonService(deps, settings)
	a.Deadlines = service.NewDeadlineService(deps, settings, a.Bookings)
	a.Webhooks = service.NewWebhookService(deps, settings, a.Bookings, a.Lessons)
	a.Payouts = service.NewPayoutService(users, gateway, settings, logger)
	a.Admin = service.NewAdminService(users, bookings, gateway, auditor, auditRepo, logger)

	return a, nil
}

// Router builds the HTTP API over the services.
func (a *App) Router() *gin.Engine {
	if a.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return api.NewRouter(api.Services{
		Bookings: a.Bookings,
		Lessons:  a.Lessons,
		Payouts:  a.Payouts,
		Admin:    a.Admin,
		Jobs:     a.Deadlines,
		Webhooks: a.Webhooks,
		Events:   payment.NewWebhookVerifier(a.Config.StripeWebhookSecret),
	}, api.Options{
		JWTSecret:      a.Config.JWTSecret,
		CronSecret:     a.Config.CronSecret,
		RateLimitRPS:   a.Config.RateLimitRPS,
		RateLimitBurst: a.Config.RateLimitBurst,
	}, a.Logger)
}

// StartWorkers runs the email worker and the Telegram bot until ctx ends.
func (a *App) StartWorkers(ctx context.Context) {
	go a.Emails.Start(ctx)

	if a.Bot != nil {
		if err := a.Bot.RegisterHandlers(ctx); err != nil {
			a.Logger.Warn("Telegram bot commands not registered", zap.Error(err))
		}
		go a.Bot.Start(ctx)
	}
}

func (a *App) Close() {
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			a.Logger.Warn("Failed to close event publisher", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
