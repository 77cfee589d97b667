package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DigestPeriod string

const (
	DigestPeriodDaily  DigestPeriod = "daily"
	DigestPeriodHourly DigestPeriod = "hourly"
)

// DigestKey derives the idempotency key for one (user, channel, period,
// window) container.
func DigestKey(userID uuid.UUID, channel Channel, period DigestPeriod, windowStart time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", userID, channel, period, windowStart.UTC().Format(time.RFC3339))
}

// Digest aggregates queued digest-kind deliveries for one user and channel
// over one window. Created by the batcher, sent by the sender.
type Digest struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DigestKey   string         `gorm:"column:digest_key;not null;uniqueIndex" json:"digest_key"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Channel     Channel        `gorm:"column:channel;not null" json:"channel"`
	Period      DigestPeriod   `gorm:"column:period;not null" json:"period"`
	WindowStart time.Time      `gorm:"column:window_start;not null" json:"window_start"`
	WindowEnd   time.Time      `gorm:"column:window_end;not null" json:"window_end"`
	Status      DeliveryStatus `gorm:"column:status;not null;index" json:"status"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError   string         `gorm:"column:last_error" json:"last_error,omitempty"`
	SkipReason  string         `gorm:"column:skip_reason" json:"skip_reason,omitempty"`
	NextRetryAt *time.Time     `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`
	SentAt      *time.Time     `gorm:"column:sent_at" json:"sent_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Digest) TableName() string { return "user_alert_digests" }

// DigestItem links one absorbed delivery into a digest. Unique per
// (digest, delivery) so re-running the batcher is idempotent.
type DigestItem struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DigestID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uniq_digest_item,priority:1;index" json:"digest_id"`
	DeliveryID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uniq_digest_item,priority:2" json:"delivery_id"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (DigestItem) TableName() string { return "user_alert_digest_items" }
