package email

import (
	"context"
	"errors"
	"testing"

	"github.com/riskwatch/riskwatch-backend/internal/channels"
	"github.com/riskwatch/riskwatch-backend/internal/clients/sendgrid"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

type fakeSendgrid struct {
	lastReq sendgrid.SendEmailRequest
	res     *sendgrid.SendEmailResult
	err     error
}

func (f *fakeSendgrid) Send(_ context.Context, req sendgrid.SendEmailRequest) (*sendgrid.SendEmailResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestSendNilClientSkipsNotConfigured(t *testing.T) {
	a := New(nil, testLogger(t))
	res := a.Send(context.Background(), channels.SendRequest{Destination: "a@b.test"})
	if !res.ShouldSkip || res.SkipReason != channels.SkipReasonNotConfigured {
		t.Fatalf("expected not_configured skip, got %+v", res)
	}
}

func TestSendDestinationValidation(t *testing.T) {
	fake := &fakeSendgrid{res: &sendgrid.SendEmailResult{StatusCode: 202}}
	a := New(fake, testLogger(t))

	res := a.Send(context.Background(), channels.SendRequest{Destination: "   "})
	if !res.ShouldSkip || res.SkipReason != channels.SkipReasonMissingDestination {
		t.Fatalf("blank destination: got %+v", res)
	}
	res = a.Send(context.Background(), channels.SendRequest{Destination: "not-an-address"})
	if !res.ShouldSkip || res.SkipReason != channels.SkipReasonInvalidDestination {
		t.Fatalf("malformed destination: got %+v", res)
	}
}

func TestSendDelivered(t *testing.T) {
	fake := &fakeSendgrid{res: &sendgrid.SendEmailResult{StatusCode: 202, MessageID: "sg-msg-1"}}
	a := New(fake, testLogger(t))

	res := a.Send(context.Background(), channels.SendRequest{
		Destination:   "user@riskwatch.test",
		Subject:       "Regional risk spike",
		Body:          "Europe moved to 78.",
		CorrelationID: "corr-1",
	})
	if !res.Success || res.MessageID != "sg-msg-1" {
		t.Fatalf("expected delivery, got %+v", res)
	}
	if len(fake.lastReq.To) != 1 || fake.lastReq.To[0].Email != "user@riskwatch.test" {
		t.Fatalf("unexpected recipients: %+v", fake.lastReq.To)
	}
	if fake.lastReq.CustomArgs["correlation_id"] != "corr-1" {
		t.Fatalf("correlation id not forwarded: %+v", fake.lastReq.CustomArgs)
	}
}

func TestSendErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{"bad_request_is_permanent", &sendgrid.HTTPError{StatusCode: 400}, false},
		{"unauthorized_is_permanent", &sendgrid.HTTPError{StatusCode: 401}, false},
		{"rate_limited_is_transient", &sendgrid.HTTPError{StatusCode: 429}, true},
		{"server_error_is_transient", &sendgrid.HTTPError{StatusCode: 503}, true},
		{"context_deadline_is_transient", context.DeadlineExceeded, true},
		{"unknown_error_is_permanent", errors.New("boom"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := New(&fakeSendgrid{err: tc.err}, testLogger(t))
			res := a.Send(context.Background(), channels.SendRequest{Destination: "user@riskwatch.test"})
			if res.Success || res.ShouldSkip {
				t.Fatalf("expected failure, got %+v", res)
			}
			if res.Transient != tc.wantTransient {
				t.Fatalf("transient = %v, want %v (err %v)", res.Transient, tc.wantTransient, res.Err)
			}
		})
	}
}

func TestChannel(t *testing.T) {
	a := New(nil, testLogger(t))
	if a.Channel() != types.ChannelEmail {
		t.Fatalf("got %q", a.Channel())
	}
}
