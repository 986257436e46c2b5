// Package pricing computes what a client pays and what a coach receives.
// All amounts are integer cents.
package pricing

import (
	"errors"
	"math"
)

// Processor fee charged on the gross amount: 2.9% + 30 cents.
const (
	ProcessorFeeBasisPoints int64 = 290
	ProcessorFixedFeeCents  int64 = 30
)

var (
	ErrInvalidRate     = errors.New("rate must be positive")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrInvalidFee      = errors.New("platform fee percentage must be between 0 and 100")
)

// Breakdown is the full split of one payment.
// ClientPaysCents == CoachPayoutCents + PlatformFeeCents + ProcessorFeeCents.
type Breakdown struct {
	BaseCents         int64 `json:"base_cents"`
	ClientPaysCents   int64 `json:"client_pays_cents"`
	PlatformFeeCents  int64 `json:"platform_fee_cents"`
	ProcessorFeeCents int64 `json:"processor_fee_cents"`
	CoachPayoutCents  int64 `json:"coach_payout_cents"`
}

// ApplicationFeeCents is what the platform keeps from a destination charge.
func (b Breakdown) ApplicationFeeCents() int64 {
	return b.PlatformFeeCents + b.ProcessorFeeCents
}

// Calculate prices a session billed at an hourly rate.
func Calculate(hourlyRateCents int64, durationMinutes int, platformFeePercent float64) (Breakdown, error) {
	if hourlyRateCents <= 0 {
		return Breakdown{}, ErrInvalidRate
	}
	if durationMinutes <= 0 {
		return Breakdown{}, ErrInvalidDuration
	}
	base := divRound(hourlyRateCents*int64(durationMinutes), 60)
	return FromBase(base, platformFeePercent)
}

// FromBase prices a session whose coach price is already known,
// e.g. the per-person price of a public lesson.
func FromBase(baseCents int64, platformFeePercent float64) (Breakdown, error) {
	if baseCents <= 0 {
		return Breakdown{}, ErrInvalidRate
	}
	if math.IsNaN(platformFeePercent) || platformFeePercent < 0 || platformFeePercent > 100 {
		return Breakdown{}, ErrInvalidFee
	}

	feeBps := int64(math.Round(platformFeePercent * 100))
	platformFee := divRound(baseCents*feeBps, 10000)
	gross := baseCents + platformFee
	processorFee := divRound(gross*ProcessorFeeBasisPoints, 10000) + ProcessorFixedFeeCents

	return Breakdown{
		BaseCents:         baseCents,
		ClientPaysCents:   gross,
		PlatformFeeCents:  platformFee,
		ProcessorFeeCents: processorFee,
		CoachPayoutCents:  gross - platformFee - processorFee,
	}, nil
}

// RefundPercent is the share of a captured payment returned on cancellation.
func RefundPercent(hoursUntilSession float64) int64 {
	switch {
	case hoursUntilSession >= 24:
		return 100
	case hoursUntilSession >= 12:
		return 50
	default:
		return 0
	}
}

// RefundAmount applies the cancellation tier to the amount the client paid.
func RefundAmount(clientPaidCents int64, hoursUntilSession float64) int64 {
	return divRound(clientPaidCents*RefundPercent(hoursUntilSession), 100)
}

// divRound divides non-negative integers rounding half up.
func divRound(n, d int64) int64 {
	return (n + d/2) / d
}
