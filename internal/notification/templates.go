package notification

import (
	"fmt"
	"html"
	"strings"
)

type rendered struct {
	Subject string
	Lines   []string
}

func (r rendered) text() string {
	return strings.Join(r.Lines, "\n\n")
}

func (r rendered) html() string {
	var b strings.Builder
	for _, l := range r.Lines {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(l))
		b.WriteString("</p>")
	}
	return b.String()
}

func render(n Notice) (rendered, error) {
	name := n.To.FullName
	session := ""
	if n.Booking != nil {
		session = fmt.Sprintf("%s, %s (%s)",
			FormatDateTime(n.Booking.StartAt),
			FormatTimeRange(n.Booking.StartAt, n.Booking.EndAt),
			FormatDuration(n.Booking.DurationMinutes))
	}
	greeting := fmt.Sprintf("Hi %s,", name)

	switch n.Event {
	case EventBookingRequested:
		return rendered{"New booking request", []string{greeting,
			"You have a new session request for " + session + ".",
			"Accept or decline it from your dashboard. The client's card is on hold until you respond."}}, nil
	case EventBookingAccepted:
		return rendered{"Your session is confirmed", []string{greeting,
			"Your coach accepted the session on " + session + ".",
			"You were charged " + FormatPrice(n.AmountCents) + "."}}, nil
	case EventBookingDeclined:
		lines := []string{greeting, "Your coach declined the session on " + session + ".",
			"The hold on your card has been released."}
		if n.Reason != "" {
			lines = append(lines, "Reason: "+n.Reason)
		}
		return rendered{"Your session request was declined", lines}, nil
	case EventBookingCancelled:
		lines := []string{greeting, "The session on " + session + " was cancelled."}
		if n.AmountCents > 0 {
			lines = append(lines, "A refund of "+FormatPrice(n.AmountCents)+" is on its way.")
		}
		if n.Reason != "" {
			lines = append(lines, "Reason: "+n.Reason)
		}
		return rendered{"Session cancelled", lines}, nil
	case EventBookingCompleted:
		return rendered{"Session completed", []string{greeting,
			"Your session on " + session + " is complete. Thanks for training with Hubletics."}}, nil
	case EventPaymentReminder:
		return rendered{"Complete your payment", []string{greeting,
			"Payment for your session on " + session + " is due by " + FormatDateTime(n.Deadline) + ".",
			"Unpaid sessions are released automatically when the deadline passes."}}, nil
	case EventPaymentExpired:
		return rendered{"Session released: payment not completed", []string{greeting,
			"The session on " + session + " was released because payment was not completed in time."}}, nil
	case EventParticipantJoined:
		return rendered{"New participant request", []string{greeting,
			"An athlete asked to join your lesson on " + session + "."}}, nil
	case EventParticipantAccepted:
		return rendered{"You're in", []string{greeting,
			"Your spot in the lesson on " + session + " is confirmed.",
			"You were charged " + FormatPrice(n.AmountCents) + "."}}, nil
	case EventParticipantDeclined:
		return rendered{"Lesson request declined", []string{greeting,
			"The coach could not take you into the lesson on " + session + ".",
			"The hold on your card has been released."}}, nil
	case EventHoldExpired:
		return rendered{"Lesson request expired", []string{greeting,
			"Your request to join the lesson on " + session + " expired before the coach responded.",
			"The hold on your card has been released."}}, nil
	case EventLessonCancelled:
		lines := []string{greeting, "The coach cancelled the lesson on " + session + "."}
		if n.AmountCents > 0 {
			lines = append(lines, "A refund of "+FormatPrice(n.AmountCents)+" is on its way.")
		} else {
			lines = append(lines, "Any hold on your card has been released.")
		}
		return rendered{"Lesson cancelled", lines}, nil
	}
	return rendered{}, fmt.Errorf("no template for event %q", n.Event)
}
