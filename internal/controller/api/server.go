// Package api is the HTTP boundary of the booking engine.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/service"
)

type BookingActions interface {
	CreateBooking(ctx context.Context, actor model.Actor, in service.CreateBookingInput) (*service.BookingCheckout, error)
	AcceptBooking(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Booking, error)
	DeclineBooking(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (*model.Booking, error)
	CancelBooking(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (*model.Booking, error)
	CompleteBooking(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Booking, error)
	LockForCheckout(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Booking, error)
	ReleaseLock(ctx context.Context, actor model.Actor, id uuid.UUID) error
}

type LessonActions interface {
	CreatePublicLesson(ctx context.Context, actor model.Actor, in service.CreateLessonInput) (*model.Booking, error)
	JoinLesson(ctx context.Context, actor model.Actor, lessonID uuid.UUID) (*service.ParticipantCheckout, error)
	LeaveLesson(ctx context.Context, actor model.Actor, lessonID uuid.UUID) error
	CancelLesson(ctx context.Context, actor model.Actor, lessonID uuid.UUID, reason string) (*service.LessonCancellation, error)
	AcceptParticipant(ctx context.Context, actor model.Actor, participantID uuid.UUID) (*model.Participant, error)
	DeclineParticipant(ctx context.Context, actor model.Actor, participantID uuid.UUID, reason string) (*model.Participant, error)
}

type PayoutActions interface {
	StartOnboarding(ctx context.Context, actor model.Actor) (string, error)
	RefreshOnboardingStatus(ctx context.Context, actor model.Actor) (bool, error)
}

type AdminActions interface {
	ApproveCoach(ctx context.Context, actor model.Actor, coachID uuid.UUID, notes string) error
	RejectCoach(ctx context.Context, actor model.Actor, coachID uuid.UUID, notes string) error
	SuspendUser(ctx context.Context, actor model.Actor, userID uuid.UUID, notes string) error
	RefundPayment(ctx context.Context, actor model.Actor, bookingID uuid.UUID, amountCents int64, notes string) (*model.Booking, error)
	BookingHistory(ctx context.Context, actor model.Actor, bookingID uuid.UUID) ([]model.StateTransition, error)
}

type JobRunner interface {
	Run(ctx context.Context, job string) (*service.BatchReport, error)
}

type WebhookHandler interface {
	Handle(ctx context.Context, ev *payment.WebhookEvent) error
}

// EventParser verifies and decodes a processor webhook.
type EventParser interface {
	Parse(payload []byte, signature string) (*payment.WebhookEvent, error)
}

type Services struct {
	Bookings BookingActions
	Lessons  LessonActions
	Payouts  PayoutActions
	Admin    AdminActions
	Jobs     JobRunner
	Webhooks WebhookHandler
	Events   EventParser
}

type Options struct {
	JWTSecret      string
	CronSecret     string
	RateLimitRPS   float64
	RateLimitBurst int
}

type Handler struct {
	svc    Services
	logger *zap.Logger
}

// NewRouter wires middleware and every route onto a gin engine.
func NewRouter(svc Services, opts Options, logger *zap.Logger) *gin.Engine {
	h := &Handler{svc: svc, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))
	r.Use(MetricsMiddleware())

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Machine callers authenticate with their own secrets and skip the rate limit.
	api.POST("/webhooks/stripe", h.stripeWebhook)
	api.POST("/cron/:job", CronAuthMiddleware(opts.CronSecret), h.runJob)

	user := api.Group("")
	user.Use(RateLimitMiddleware(opts.RateLimitRPS, opts.RateLimitBurst))
	user.Use(AuthMiddleware(opts.JWTSecret))

	bookings := user.Group("/bookings")
	bookings.POST("", h.createBooking)
	bookings.POST("/:id/accept", h.acceptBooking)
	bookings.POST("/:id/decline", h.declineBooking)
	bookings.POST("/:id/cancel", h.cancelBooking)
	bookings.POST("/:id/complete", h.completeBooking)
	bookings.POST("/:id/lock", h.lockBooking)
	bookings.DELETE("/:id/lock", h.releaseLock)

	lessons := user.Group("/lessons")
	lessons.POST("", h.createLesson)
	lessons.POST("/:id/join", h.joinLesson)
	lessons.POST("/:id/leave", h.leaveLesson)
	lessons.POST("/:id/cancel", h.cancelLesson)

	participants := user.Group("/participants")
	participants.POST("/:id/accept", h.acceptParticipant)
	participants.POST("/:id/decline", h.declineParticipant)

	payouts := user.Group("/payouts")
	payouts.POST("/onboarding", h.startOnboarding)
	payouts.POST("/refresh", h.refreshOnboarding)

	admin := user.Group("/admin")
	admin.Use(RequireRole(model.RoleAdmin))
	admin.POST("/coaches/:id/approve", h.approveCoach)
	admin.POST("/coaches/:id/reject", h.rejectCoach)
	admin.POST("/users/:id/suspend", h.suspendUser)
	admin.POST("/bookings/:id/refund", h.refundPayment)
	admin.GET("/bookings/:id/history", h.bookingHistory)

	return r
}

// NewServer wraps the router in an http.Server. writeTimeout must exceed the
// job timeout so cron callers get their report.
func NewServer(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
