// Package notification turns booking events into emails and Telegram pushes.
// Delivery is best-effort: callers log a failed Notify and move on.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/metrics"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/model"
)

type Event string

const (
	EventBookingRequested    Event = "booking_requested"
	EventBookingAccepted     Event = "booking_accepted"
	EventBookingDeclined     Event = "booking_declined"
	EventBookingCancelled    Event = "booking_cancelled"
	EventBookingCompleted    Event = "booking_completed"
	EventPaymentReminder     Event = "payment_reminder"
	EventPaymentExpired      Event = "payment_expired"
	EventParticipantJoined   Event = "participant_joined"
	EventParticipantAccepted Event = "participant_accepted"
	EventParticipantDeclined Event = "participant_declined"
	EventHoldExpired         Event = "hold_expired"
	EventLessonCancelled     Event = "lesson_cancelled"
)

// Notice is one notification to one recipient.
type Notice struct {
	Event       Event
	To          *model.User
	Booking     *model.Booking
	AmountCents int64
	Reason      string
	Deadline    time.Time
}

type Pusher interface {
	Push(ctx context.Context, chatID int64, text string) error
}

type Dispatcher struct {
	mailer Mailer
	pusher Pusher
	logger *zap.Logger
}

// NewDispatcher builds a dispatcher; pusher may be nil.
func NewDispatcher(mailer Mailer, pusher Pusher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{mailer: mailer, pusher: pusher, logger: logger}
}

func (d *Dispatcher) Notify(ctx context.Context, n Notice) error {
	if n.To == nil {
		return errors.New("notice has no recipient")
	}

	msg, err := render(n)
	if err != nil {
		metrics.RecordNotification(string(n.Event), "unrenderable")
		return err
	}

	var errs []error
	if err := d.mailer.SendEmail(ctx, Message{
		To:      n.To.Email,
		Subject: msg.Subject,
		HTML:    msg.html(),
		Text:    msg.text(),
	}); err != nil {
		errs = append(errs, fmt.Errorf("email: %w", err))
		metrics.RecordNotification(string(n.Event), "failed")
	} else {
		metrics.RecordNotification(string(n.Event), "queued")
	}

	if d.pusher != nil && n.To.Role == model.RoleCoach && n.To.TelegramChatID != nil {
		text := msg.Subject + "\n\n" + msg.text()
		if err := d.pusher.Push(ctx, *n.To.TelegramChatID, text); err != nil {
			errs = append(errs, fmt.Errorf("telegram: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("Notification delivery failed",
			zap.String("event", string(n.Event)),
			zap.String("user_id", n.To.ID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}
