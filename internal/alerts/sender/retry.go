package sender

import (
	"math/rand"
	"time"

	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/pointers"
)

// Outcome is the sender's classification of one adapter call. Every leased
// row resolves to exactly one outcome.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeTransient Outcome = "transient_failure"
	OutcomePermanent Outcome = "permanent_failure"
)

// BackoffPolicy computes retry delays. Delay doubles per attempt from Base,
// capped at Max, then spread by +/-Jitter fraction.
type BackoffPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:   2 * time.Minute,
		Max:    2 * time.Hour,
		Jitter: 0.2,
	}
}

// Delay returns the backoff for a row on its given attempt (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			d = p.Max
			break
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	return d
}

// Transition is the resolved next state for a leased row.
type Transition struct {
	Status      types.DeliveryStatus
	NextRetryAt *time.Time
}

// NextTransition maps (attempts so far, outcome) to the row's next status.
// Attempts is the post-lease count, so a row on its first try arrives here
// with attempts=1. Transient failures requeue with backoff until attempts
// reach maxAttempts; everything else is terminal.
func NextTransition(attempts, maxAttempts int, outcome Outcome, backoff BackoffPolicy, now time.Time) Transition {
	switch outcome {
	case OutcomeSent:
		return Transition{Status: types.DeliveryStatusSent}
	case OutcomeSkipped:
		return Transition{Status: types.DeliveryStatusSkipped}
	case OutcomeTransient:
		if attempts < maxAttempts {
			return Transition{
				Status:      types.DeliveryStatusQueued,
				NextRetryAt: pointers.Ptr(now.Add(backoff.Delay(attempts))),
			}
		}
		return Transition{Status: types.DeliveryStatusFailed}
	default:
		return Transition{Status: types.DeliveryStatusFailed}
	}
}

// Classify folds an adapter result into an Outcome.
func Classify(success, shouldSkip, transient bool) Outcome {
	switch {
	case success:
		return OutcomeSent
	case shouldSkip:
		return OutcomeSkipped
	case transient:
		return OutcomeTransient
	default:
		return OutcomePermanent
	}
}
