package sms

import (
	"context"
	"strings"

	"github.com/riskwatch/riskwatch-backend/internal/channels"
	"github.com/riskwatch/riskwatch-backend/internal/clients/twilio"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/httpx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

type Adapter struct {
	client twilio.Client
	log    *logger.Logger
}

func New(client twilio.Client, baseLog *logger.Logger) *Adapter {
	return &Adapter{
		client: client,
		log:    baseLog.With("adapter", "SMSAdapter"),
	}
}

func (a *Adapter) Channel() types.Channel { return types.ChannelSMS }

func (a *Adapter) Send(ctx context.Context, req channels.SendRequest) channels.SendResult {
	if a.client == nil {
		return channels.Skip(channels.SkipReasonNotConfigured)
	}
	dest := strings.TrimSpace(req.Destination)
	if dest == "" {
		return channels.Skip(channels.SkipReasonMissingDestination)
	}

	// SMS has no subject line; lead with the headline.
	body := req.Subject
	if req.Body != "" {
		body = req.Subject + "\n" + req.Body
	}

	msg, err := a.client.SendSMS(ctx, dest, body)
	if err != nil {
		if twilio.IsInvalidDestination(err) {
			return channels.Skip(channels.SkipReasonInvalidDestination)
		}
		if httpx.IsRetryableError(err) {
			return channels.TransientFailure(err)
		}
		return channels.PermanentFailure(err)
	}
	return channels.Delivered(msg.SID)
}
