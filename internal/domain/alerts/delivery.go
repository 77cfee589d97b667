package alerts

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelAccount Channel = "account"
	ChannelEmail   Channel = "email"
	ChannelChat    Channel = "chat"
	ChannelSMS     Channel = "sms"
)

// SendableChannels are the channels that go through a provider. The account
// channel is an in-product marker and is written as sent at fanout time.
var SendableChannels = []Channel{ChannelEmail, ChannelChat, ChannelSMS}

type DeliveryStatus string

const (
	DeliveryStatusQueued  DeliveryStatus = "queued"
	DeliveryStatusSending DeliveryStatus = "sending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
	DeliveryStatusSkipped DeliveryStatus = "skipped"
)

type DeliveryKind string

const (
	DeliveryKindInstant DeliveryKind = "instant"
	DeliveryKindDigest  DeliveryKind = "digest"
)

// SkipReasonBatched marks a digest-kind delivery absorbed by Phase D. The row
// stays out of the instant queue but remains readable for the digest view.
const SkipReasonBatched = "batched_into_digest"

// Delivery assigns one NotificationEvent to one user on one channel. The
// (user, event, channel) unique index is the dedup boundary for re-running
// fanout.
type Delivery struct {
	ID                  uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID              uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uniq_delivery_user_event_channel,priority:1;index" json:"user_id"`
	NotificationEventID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uniq_delivery_user_event_channel,priority:2;index" json:"notification_event_id"`
	Channel             Channel        `gorm:"column:channel;not null;uniqueIndex:uniq_delivery_user_event_channel,priority:3" json:"channel"`
	Status              DeliveryStatus `gorm:"column:status;not null;index" json:"status"`
	DeliveryKind        DeliveryKind   `gorm:"column:delivery_kind;not null;index" json:"delivery_kind"`
	Attempts            int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError           string         `gorm:"column:last_error" json:"last_error,omitempty"`
	SkipReason          string         `gorm:"column:skip_reason" json:"skip_reason,omitempty"`
	NextRetryAt         *time.Time     `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`
	SentAt              *time.Time     `gorm:"column:sent_at" json:"sent_at,omitempty"`
	ProviderMessageID   string         `gorm:"column:provider_message_id" json:"provider_message_id,omitempty"`
	CreatedAt           time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Delivery) TableName() string { return "user_alert_deliveries" }
