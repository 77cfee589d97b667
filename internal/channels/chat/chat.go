package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/riskwatch/riskwatch-backend/internal/channels"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/envutil"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/httpx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

// Adapter posts alerts to the user's chat-bot webhook (Slack-compatible
// payload). The destination is the per-user webhook URL from their prefs.
type Adapter struct {
	httpClient *http.Client
	log        *logger.Logger
}

func New(baseLog *logger.Logger) *Adapter {
	timeout := time.Duration(envutil.Int("CHAT_WEBHOOK_TIMEOUT_SECONDS", 15)) * time.Second
	return &Adapter{
		httpClient: &http.Client{Timeout: timeout},
		log:        baseLog.With("adapter", "ChatAdapter"),
	}
}

func (a *Adapter) Channel() types.Channel { return types.ChannelChat }

type webhookPayload struct {
	Text string `json:"text"`
}

type webhookError struct {
	StatusCode int
	Body       string
}

func (e *webhookError) Error() string {
	return fmt.Sprintf("chat webhook http %d: %s", e.StatusCode, e.Body)
}

func (e *webhookError) HTTPStatusCode() int { return e.StatusCode }

func (a *Adapter) Send(ctx context.Context, req channels.SendRequest) channels.SendResult {
	dest := strings.TrimSpace(req.Destination)
	if dest == "" {
		return channels.Skip(channels.SkipReasonMissingDestination)
	}
	u, err := url.Parse(dest)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return channels.Skip(channels.SkipReasonInvalidDestination)
	}

	text := req.Subject
	if req.Body != "" {
		text = "*" + req.Subject + "*\n" + req.Body
	}
	raw, err := json.Marshal(webhookPayload{Text: text})
	if err != nil {
		return channels.PermanentFailure(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", dest, bytes.NewReader(raw))
	if err != nil {
		return channels.PermanentFailure(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if httpx.IsRetryableError(err) {
			return channels.TransientFailure(err)
		}
		return channels.PermanentFailure(err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return channels.Delivered(req.CorrelationID)
	}

	// Webhooks that are gone are a destination problem, not a provider one.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return channels.Skip(channels.SkipReasonInvalidDestination)
	}
	wErr := &webhookError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
		return channels.TransientFailure(wErr)
	}
	return channels.PermanentFailure(wErr)
}
