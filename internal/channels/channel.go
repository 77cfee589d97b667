package channels

import (
	"context"

	types "github.com/riskwatch/riskwatch-backend/internal/domain"
)

// Terminal skip reasons reported by adapters. Skips are never retried.
const (
	SkipReasonNotConfigured      = "not_configured"
	SkipReasonMissingDestination = "missing_destination"
	SkipReasonInvalidDestination = "invalid_destination"
)

type SendRequest struct {
	Destination   string
	Subject       string
	Body          string
	CorrelationID string
}

// SendResult is the adapter contract: exactly one of Success, ShouldSkip, or
// a failure (Err set, Transient saying whether a retry can help).
type SendResult struct {
	Success    bool
	MessageID  string
	ShouldSkip bool
	SkipReason string
	Transient  bool
	Err        error
}

func Delivered(messageID string) SendResult {
	return SendResult{Success: true, MessageID: messageID}
}

func Skip(reason string) SendResult {
	return SendResult{ShouldSkip: true, SkipReason: reason}
}

func TransientFailure(err error) SendResult {
	return SendResult{Transient: true, Err: err}
}

func PermanentFailure(err error) SendResult {
	return SendResult{Err: err}
}

type Adapter interface {
	Channel() types.Channel
	Send(ctx context.Context, req SendRequest) SendResult
}

// Registry holds the closed adapter set. Adding a channel means adding a
// Channel constant, an Adapter implementation, and a registry entry.
type Registry struct {
	adapters map[types.Channel]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[types.Channel]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Channel()] = a
		}
	}
	return r
}

func (r *Registry) For(ch types.Channel) (Adapter, bool) {
	a, ok := r.adapters[ch]
	return a, ok
}
