package alerts

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventTypeRegionalRiskSpike EventType = "regional_risk_spike"
	EventTypeAssetRiskSpike    EventType = "asset_risk_spike"
	EventTypeHighImpactEvent   EventType = "high_impact_event"
	EventTypeMetricSpike       EventType = "metric_spike"
)

// RegionGlobal is the subscription value that matches every event region.
const RegionGlobal = "global"

// NotificationEvent is the user-agnostic record of a triggered risk
// condition. It never carries a user id; per-user state lives on Delivery.
// Rows are created by the generator, stamped by fanout, and never deleted.
type NotificationEvent struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EventType      EventType      `gorm:"column:event_type;not null;index" json:"event_type"`
	Region         string         `gorm:"column:region;index" json:"region"`
	Assets         datatypes.JSON `gorm:"column:assets;type:jsonb" json:"assets"`
	Severity       int            `gorm:"column:severity;not null" json:"severity"`
	Headline       string         `gorm:"column:headline;not null" json:"headline"`
	Body           string         `gorm:"column:body" json:"body"`
	DriverEventIDs datatypes.JSON `gorm:"column:driver_event_ids;type:jsonb" json:"driver_event_ids"`

	// CooldownKey is the coarse, human-meaningful re-alert key
	// (region+type+date and the like). Fingerprint is the fine-grained
	// uniqueness key the upsert conflicts on.
	CooldownKey string `gorm:"column:cooldown_key;not null;index" json:"cooldown_key"`
	Fingerprint string `gorm:"column:fingerprint;not null;uniqueIndex" json:"fingerprint"`

	Classification datatypes.JSON `gorm:"column:classification;type:jsonb" json:"classification"`
	RawInput       datatypes.JSON `gorm:"column:raw_input;type:jsonb" json:"raw_input"`
	Category       string         `gorm:"column:category" json:"category"`
	Confidence     float64        `gorm:"column:confidence;not null;default:0" json:"confidence"`

	FanoutCompletedAt *time.Time `gorm:"column:fanout_completed_at;index" json:"fanout_completed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (NotificationEvent) TableName() string { return "notification_events" }

// AssetList decodes the jsonb asset scope; nil means the event is not
// asset-scoped.
func (e *NotificationEvent) AssetList() []string {
	if len(e.Assets) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(e.Assets, &out); err != nil {
		return nil
	}
	return out
}
