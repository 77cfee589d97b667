package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/riskwatch/riskwatch-backend/internal/channels"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestSendDestinationValidation(t *testing.T) {
	a := New(testLogger(t))

	res := a.Send(context.Background(), channels.SendRequest{Destination: ""})
	if !res.ShouldSkip || res.SkipReason != channels.SkipReasonMissingDestination {
		t.Fatalf("blank destination: got %+v", res)
	}

	for _, dest := range []string{"not a url", "ftp://hooks.example.com/x", "https://"} {
		res = a.Send(context.Background(), channels.SendRequest{Destination: dest})
		if !res.ShouldSkip || res.SkipReason != channels.SkipReasonInvalidDestination {
			t.Fatalf("destination %q: got %+v", dest, res)
		}
	}
}

func TestSendPostsSlackPayload(t *testing.T) {
	var gotBody webhookPayload
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New(testLogger(t))
	res := a.Send(context.Background(), channels.SendRequest{
		Destination:   srv.URL,
		Subject:       "Regional risk spike",
		Body:          "Europe moved to 78.",
		CorrelationID: "corr-9",
	})
	if !res.Success || res.MessageID != "corr-9" {
		t.Fatalf("expected delivery, got %+v", res)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if !strings.HasPrefix(gotBody.Text, "*Regional risk spike*\n") || !strings.Contains(gotBody.Text, "Europe moved to 78.") {
		t.Fatalf("payload text = %q", gotBody.Text)
	}
}

func TestSendSubjectOnlyPayload(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &p)
		gotText = p.Text
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New(testLogger(t))
	res := a.Send(context.Background(), channels.SendRequest{Destination: srv.URL, Subject: "Headline only"})
	if !res.Success {
		t.Fatalf("got %+v", res)
	}
	if gotText != "Headline only" {
		t.Fatalf("payload text = %q", gotText)
	}
}

func TestSendStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   func(channels.SendResult) bool
	}{
		{
			"gone_webhook_skips",
			http.StatusGone,
			func(r channels.SendResult) bool {
				return r.ShouldSkip && r.SkipReason == channels.SkipReasonInvalidDestination
			},
		},
		{
			"missing_webhook_skips",
			http.StatusNotFound,
			func(r channels.SendResult) bool {
				return r.ShouldSkip && r.SkipReason == channels.SkipReasonInvalidDestination
			},
		},
		{
			"rate_limited_is_transient",
			http.StatusTooManyRequests,
			func(r channels.SendResult) bool { return !r.ShouldSkip && r.Transient },
		},
		{
			"server_error_is_transient",
			http.StatusBadGateway,
			func(r channels.SendResult) bool { return !r.ShouldSkip && r.Transient },
		},
		{
			"bad_request_is_permanent",
			http.StatusBadRequest,
			func(r channels.SendResult) bool { return !r.ShouldSkip && !r.Transient && r.Err != nil },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			a := New(testLogger(t))
			res := a.Send(context.Background(), channels.SendRequest{Destination: srv.URL, Subject: "x"})
			if res.Success {
				t.Fatalf("expected non-success, got %+v", res)
			}
			if !tc.want(res) {
				t.Fatalf("status %d: unexpected result %+v", tc.status, res)
			}
		})
	}
}

func TestSendErrorBodyInFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "channel_is_archived", http.StatusBadRequest)
	}))
	defer srv.Close()

	a := New(testLogger(t))
	res := a.Send(context.Background(), channels.SendRequest{Destination: srv.URL, Subject: "x"})
	if res.Err == nil || !strings.Contains(res.Err.Error(), "channel_is_archived") {
		t.Fatalf("expected webhook body in error, got %v", res.Err)
	}
}

func TestChannel(t *testing.T) {
	a := New(testLogger(t))
	if a.Channel() != types.ChannelChat {
		t.Fatalf("got %q", a.Channel())
	}
}
