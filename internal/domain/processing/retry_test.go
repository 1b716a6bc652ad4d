package processing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nbrain-team/vid/internal/utils/platformerrors"
)

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Minute}

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first attempt", attempt: 0, want: 2 * time.Second},
		{name: "second attempt doubles", attempt: 1, want: 4 * time.Second},
		{name: "third attempt doubles again", attempt: 2, want: 8 * time.Second},
		{name: "negative attempt treated as zero", attempt: -1, want: 2 * time.Second},
		{name: "large attempt capped at max", attempt: 20, want: 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Delay(tt.attempt))
		})
	}
}

func TestPolicyDecide(t *testing.T) {
	ctx := context.Background()
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}

	transient := platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypeExternal, "sidecar down", nil, "")
	permanent := platformerrors.NewError(ctx, platformerrors.LayerWorker, platformerrors.ErrorTypePermanent, "corrupt file", nil, "")

	tests := []struct {
		name    string
		attempt int
		err     error
		want    Outcome
	}{
		{name: "nil error succeeds", attempt: 0, err: nil, want: OutcomeSuccess},
		{name: "transient error retries", attempt: 0, err: transient, want: OutcomeRetry},
		{name: "transient at ceiling fails", attempt: 2, err: transient, want: OutcomeFail},
		{name: "permanent short-circuits on first attempt", attempt: 0, err: permanent, want: OutcomeFail},
		{name: "untyped error retries", attempt: 1, err: errors.New("boom"), want: OutcomeRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.attempt, tt.err)
			assert.Equal(t, tt.want, d.Outcome)
			if tt.want == OutcomeRetry {
				assert.Equal(t, p.Delay(tt.attempt), d.Delay)
			}
		})
	}
}
