package processing

import (
	"time"

	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

// Policy defines the retry strategy for transient task failures.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // cap on the exponential growth
}

// DefaultPolicy mirrors the operational defaults: three attempts with
// delay = base * 2^n.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    5 * time.Minute,
	}
}

// Delay returns the backoff before retrying after the given zero-based
// attempt: base * 2^attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Outcome tags the decision taken after one task attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetry
	OutcomeFail
)

// Decision is the tagged retry decision for one attempt: Success, Retry with
// a delay, or Fail permanently.
type Decision struct {
	Outcome Outcome
	Delay   time.Duration
	Err     error
}

// Decide classifies an attempt's error into a Decision. Transient errors
// retry with exponential backoff until the attempt ceiling; permanent and
// consistency errors short-circuit immediately.
func (p Policy) Decide(attempt int, err error) Decision {
	if err == nil {
		return Decision{Outcome: OutcomeSuccess}
	}
	if platformerrors.IsPermanent(err) {
		return Decision{Outcome: OutcomeFail, Err: err}
	}
	if attempt+1 >= p.MaxAttempts {
		return Decision{Outcome: OutcomeFail, Err: err}
	}
	return Decision{Outcome: OutcomeRetry, Delay: p.Delay(attempt), Err: err}
}
