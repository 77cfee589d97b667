package sender

import (
	"strings"
	"testing"
	"time"

	types "github.com/riskwatch/riskwatch-backend/internal/domain"
)

func TestNextTransition(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	backoff := BackoffPolicy{Base: time.Minute, Max: time.Hour}

	cases := []struct {
		name       string
		attempts   int
		outcome    Outcome
		wantStatus types.DeliveryStatus
		wantRetry  bool
	}{
		{name: "sent", attempts: 1, outcome: OutcomeSent, wantStatus: types.DeliveryStatusSent},
		{name: "skipped", attempts: 1, outcome: OutcomeSkipped, wantStatus: types.DeliveryStatusSkipped},
		{name: "transient_retries", attempts: 1, outcome: OutcomeTransient, wantStatus: types.DeliveryStatusQueued, wantRetry: true},
		{name: "transient_mid", attempts: 4, outcome: OutcomeTransient, wantStatus: types.DeliveryStatusQueued, wantRetry: true},
		{name: "transient_exhausted", attempts: 5, outcome: OutcomeTransient, wantStatus: types.DeliveryStatusFailed},
		{name: "permanent_first_try", attempts: 1, outcome: OutcomePermanent, wantStatus: types.DeliveryStatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NextTransition(tc.attempts, 5, tc.outcome, backoff, now)
			if tr.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", tr.Status, tc.wantStatus)
			}
			if tc.wantRetry && tr.NextRetryAt == nil {
				t.Fatal("expected a retry timestamp")
			}
			if !tc.wantRetry && tr.NextRetryAt != nil {
				t.Fatal("terminal transition must not carry a retry timestamp")
			}
			if tc.wantRetry && !tr.NextRetryAt.After(now) {
				t.Fatalf("retry timestamp %v not in the future", tr.NextRetryAt)
			}
		})
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	p := BackoffPolicy{Base: time.Minute, Max: 10 * time.Minute}

	if got := p.Delay(1); got != time.Minute {
		t.Fatalf("attempt 1 delay = %v, want 1m", got)
	}
	if got := p.Delay(2); got != 2*time.Minute {
		t.Fatalf("attempt 2 delay = %v, want 2m", got)
	}
	if got := p.Delay(3); got != 4*time.Minute {
		t.Fatalf("attempt 3 delay = %v, want 4m", got)
	}
	if got := p.Delay(10); got != 10*time.Minute {
		t.Fatalf("attempt 10 delay = %v, want the 10m cap", got)
	}
	if got := p.Delay(0); got != time.Minute {
		t.Fatalf("attempt 0 clamps to 1, delay = %v", got)
	}
}

func TestBackoffJitterStaysWithinSpread(t *testing.T) {
	p := BackoffPolicy{Base: time.Minute, Max: time.Hour, Jitter: 0.2}

	lo := time.Duration(float64(4*time.Minute) * 0.8)
	hi := time.Duration(float64(4*time.Minute) * 1.2)
	for i := 0; i < 200; i++ {
		d := p.Delay(3)
		if d < lo || d > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, lo, hi)
		}
	}
}

func TestClassify(t *testing.T) {
	if Classify(true, false, false) != OutcomeSent {
		t.Fatal("success classifies sent")
	}
	if Classify(false, true, false) != OutcomeSkipped {
		t.Fatal("skip classifies skipped")
	}
	if Classify(false, false, true) != OutcomeTransient {
		t.Fatal("transient failure classifies transient")
	}
	if Classify(false, false, false) != OutcomePermanent {
		t.Fatal("anything else classifies permanent")
	}
}

func TestSendBudget(t *testing.T) {
	b := newSendBudget(10)
	if got := b.take(6); got != 6 {
		t.Fatalf("first take = %d, want 6", got)
	}
	if got := b.take(6); got != 4 {
		t.Fatalf("second take = %d, want the 4 remaining", got)
	}
	if !b.stoppedEarly() {
		t.Fatal("an exhausted budget must report stopped early")
	}
	if got := b.take(1); got != 0 {
		t.Fatalf("take after exhaustion = %d, want 0", got)
	}

	unlimited := newSendBudget(0)
	if got := unlimited.take(1000); got != 1000 {
		t.Fatalf("unlimited take = %d", got)
	}
	if unlimited.stoppedEarly() {
		t.Fatal("an unlimited budget never stops early")
	}
}

func TestSendBudgetRefund(t *testing.T) {
	// The queue drains on the pass that zeroes the budget: the lease came
	// back short, the unleased slots go back, and the run is not an early
	// stop.
	b := newSendBudget(10)
	if got := b.take(10); got != 10 {
		t.Fatalf("take = %d, want 10", got)
	}
	b.refund(10 - 7)
	if b.stoppedEarly() {
		t.Fatal("a refunded budget must not report stopped early")
	}
	if got := b.take(10); got != 3 {
		t.Fatalf("take after refund = %d, want the 3 refunded", got)
	}
	if !b.stoppedEarly() {
		t.Fatal("draining the refunded slots is an early stop again")
	}

	// A full lease keeps the exhaustion flag.
	full := newSendBudget(5)
	full.take(5)
	full.refund(0)
	if !full.stoppedEarly() {
		t.Fatal("zero refund must keep the budget exhausted")
	}

	unlimited := newSendBudget(0)
	unlimited.refund(100)
	if got := unlimited.take(7); got != 7 {
		t.Fatalf("unlimited take after refund = %d", got)
	}
}

func TestRenderDigest(t *testing.T) {
	d := &types.Digest{
		Period:      types.DigestPeriodDaily,
		WindowStart: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}
	events := []*types.NotificationEvent{
		{Severity: 4, Headline: "Regional risk spike: Europe", Body: "Risk is 78."},
		{Severity: 5, Headline: "High-impact event in MENA"},
	}

	subject, body := renderDigest(d, events)
	if subject != "Your daily risk digest (2 alerts)" {
		t.Fatalf("subject = %q", subject)
	}
	for _, want := range []string{"Regional risk spike: Europe", "Risk is 78.", "High-impact event in MENA", "[4/5]", "[5/5]"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}
