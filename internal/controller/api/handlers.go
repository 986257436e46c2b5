package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/payment"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/service"
)

const maxWebhookBody = 64 << 10

type reasonRequest struct {
	Reason string `json:"reason"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type refundRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Notes       string `json:"notes"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error, ok int) int {
	switch {
	case err == nil:
		return ok
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrStateConflict),
		errors.Is(err, service.ErrCapacity),
		errors.Is(err, service.ErrMustRefund):
		return http.StatusConflict
	case errors.Is(err, service.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respond(c *gin.Context, ok int, data any, err error) {
	if err != nil && statusFor(err, ok) == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(statusFor(err, ok), service.NewResult(data, err))
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, service.Result{Error: message, Kind: service.KindOf(service.ErrInvalidInput)})
}

// target reads the actor and the :id path parameter. It writes the error
// response itself and reports false when the request cannot go on.
func target(c *gin.Context) (model.Actor, uuid.UUID, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		abort(c, http.StatusUnauthorized, "Authentication required")
		return actor, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid id")
		return actor, uuid.Nil, false
	}
	return actor, id, true
}

// optionalJSON binds a body when one is sent; an empty body is fine.
func optionalJSON(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request body")
		return false
	}
	return true
}

func (h *Handler) createBooking(c *gin.Context) {
	actor, _ := actorFrom(c)
	var in service.CreateBookingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	checkout, err := h.svc.Bookings.CreateBooking(c.Request.Context(), actor, in)
	h.respond(c, http.StatusCreated, checkout, err)
}

func (h *Handler) acceptBooking(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	b, err := h.svc.Bookings.AcceptBooking(c.Request.Context(), actor, id)
	h.respond(c, http.StatusOK, b, err)
}

func (h *Handler) declineBooking(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !optionalJSON(c, &req) {
		return
	}
	b, err := h.svc.Bookings.DeclineBooking(c.Request.Context(), actor, id, req.Reason)
	h.respond(c, http.StatusOK, b, err)
}

func (h *Handler) cancelBooking(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !optionalJSON(c, &req) {
		return
	}
	b, err := h.svc.Bookings.CancelBooking(c.Request.Context(), actor, id, req.Reason)
	h.respond(c, http.StatusOK, b, err)
}

func (h *Handler) completeBooking(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	b, err := h.svc.Bookings.CompleteBooking(c.Request.Context(), actor, id)
	h.respond(c, http.StatusOK, b, err)
}

func (h *Handler) lockBooking(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	b, err := h.svc.Bookings.LockForCheckout(c.Request.Context(), actor, id)
	h.respond(c, http.StatusOK, b, err)
}

func (h *Handler) releaseLock(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	err := h.svc.Bookings.ReleaseLock(c.Request.Context(), actor, id)
	h.respond(c, http.StatusOK, nil, err)
}

func (h *Handler) createLesson(c *gin.Context) {
	actor, _ := actorFrom(c)
	var in service.CreateLessonInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	lesson, err := h.svc.Lessons.CreatePublicLesson(c.Request.Context(), actor, in)
	h.respond(c, http.StatusCreated, lesson, err)
}

func (h *Handler) joinLesson(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	checkout, err := h.svc.Lessons.JoinLesson(c.Request.Context(), actor, id)
	h.respond(c, http.StatusCreated, checkout, err)
}

func (h *Handler) leaveLesson(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	err := h.svc.Lessons.LeaveLesson(c.Request.Context(), actor, id)
	h.respond(c, http.StatusOK, nil, err)
}

func (h *Handler) cancelLesson(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !optionalJSON(c, &req) {
		return
	}
	res, err := h.svc.Lessons.CancelLesson(c.Request.Context(), actor, id, req.Reason)
	h.respond(c, http.StatusOK, res, err)
}

func (h *Handler) acceptParticipant(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	p, err := h.svc.Lessons.AcceptParticipant(c.Request.Context(), actor, id)
	h.respond(c, http.StatusOK, p, err)
}

func (h *Handler) declineParticipant(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !optionalJSON(c, &req) {
		return
	}
	p, err := h.svc.Lessons.DeclineParticipant(c.Request.Context(), actor, id, req.Reason)
	h.respond(c, http.StatusOK, p, err)
}

func (h *Handler) startOnboarding(c *gin.Context) {
	actor, _ := actorFrom(c)
	url, err := h.svc.Payouts.StartOnboarding(c.Request.Context(), actor)
	h.respond(c, http.StatusOK, gin.H{"url": url}, err)
}

func (h *Handler) refreshOnboarding(c *gin.Context) {
	actor, _ := actorFrom(c)
	onboarded, err := h.svc.Payouts.RefreshOnboardingStatus(c.Request.Context(), actor)
	h.respond(c, http.StatusOK, gin.H{"onboarded": onboarded}, err)
}

func (h *Handler) approveCoach(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	var req notesRequest
	if !optionalJSON(c, &req) {
		return
	}
	err := h.svc.Admin.ApproveCoach(c.Request.Context(), actor, id, req.Notes)
	h.respond(c, http.StatusOK, nil, err)
}

func (h *Handler) rejectCoach(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	var req notesRequest
	if !optionalJSON(c, &req) {
		return
	}
	err := h.svc.Admin.RejectCoach(c.Request.Context(), actor, id, req.Notes)
	h.respond(c, http.StatusOK, nil, err)
}

func (h *Handler) suspendUser(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	var req notesRequest
	if !optionalJSON(c, &req) {
		return
	}
	err := h.svc.Admin.SuspendUser(c.Request.Context(), actor, id, req.Notes)
	h.respond(c, http.StatusOK, nil, err)
}

func (h *Handler) refundPayment(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	var req refundRequest
	if !optionalJSON(c, &req) {
		return
	}
	b, err := h.svc.Admin.RefundPayment(c.Request.Context(), actor, id, req.AmountCents, req.Notes)
	h.respond(c, http.StatusOK, b, err)
}

func (h *Handler) bookingHistory(c *gin.Context) {
	actor, id, ok := target(c)
	if !ok {
		return
	}
	transitions, err := h.svc.Admin.BookingHistory(c.Request.Context(), actor, id)
	h.respond(c, http.StatusOK, transitions, err)
}

func (h *Handler) runJob(c *gin.Context) {
	report, err := h.svc.Jobs.Run(c.Request.Context(), c.Param("job"))
	h.respond(c, http.StatusOK, report, err)
}

// stripeWebhook answers 500 when handling fails so the processor redelivers.
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "Unreadable body")
		return
	}

	ev, err := h.svc.Events.Parse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("Rejected webhook", zap.Error(err))
		if errors.Is(err, payment.ErrInvalidSignature) {
			badRequest(c, "Invalid signature")
		} else {
			badRequest(c, "Invalid payload")
		}
		return
	}

	if err := h.svc.Webhooks.Handle(c.Request.Context(), ev); err != nil {
		h.logger.Error("Webhook handling failed",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, service.NewResult(nil, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
