package email

import (
	"context"
	"errors"
	"strings"

	"github.com/riskwatch/riskwatch-backend/internal/channels"
	"github.com/riskwatch/riskwatch-backend/internal/clients/sendgrid"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/httpx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

// Adapter sends alert mail through SendGrid. A nil client means the channel
// is not configured in this deployment; every send skips terminally.
type Adapter struct {
	client sendgrid.Client
	log    *logger.Logger
}

func New(client sendgrid.Client, baseLog *logger.Logger) *Adapter {
	return &Adapter{
		client: client,
		log:    baseLog.With("adapter", "EmailAdapter"),
	}
}

func (a *Adapter) Channel() types.Channel { return types.ChannelEmail }

func (a *Adapter) Send(ctx context.Context, req channels.SendRequest) channels.SendResult {
	if a.client == nil {
		return channels.Skip(channels.SkipReasonNotConfigured)
	}
	dest := strings.TrimSpace(req.Destination)
	if dest == "" {
		return channels.Skip(channels.SkipReasonMissingDestination)
	}
	if !strings.Contains(dest, "@") {
		return channels.Skip(channels.SkipReasonInvalidDestination)
	}

	res, err := a.client.Send(ctx, sendgrid.SendEmailRequest{
		To:      []sendgrid.EmailAddress{{Email: dest}},
		Subject: req.Subject,
		Text:    req.Body,
		CustomArgs: map[string]string{
			"correlation_id": req.CorrelationID,
		},
	})
	if err != nil {
		var he *sendgrid.HTTPError
		if errors.As(err, &he) && he.StatusCode >= 400 && he.StatusCode < 500 && !httpx.IsRetryableHTTPStatus(he.StatusCode) {
			return channels.PermanentFailure(err)
		}
		if httpx.IsRetryableError(err) {
			return channels.TransientFailure(err)
		}
		return channels.PermanentFailure(err)
	}
	return channels.Delivered(res.MessageID)
}
