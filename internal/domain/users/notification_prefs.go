package users

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// NotificationPrefs holds one user's alert destinations and filters. Regions,
// Assets and EnabledTypes are jsonb string arrays; empty EnabledTypes means
// every type the plan allows.
type NotificationPrefs struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`

	// Channel destinations. The email destination is the account email on
	// the user row; these cover the provider-specific ones.
	ChatWebhookURL string `gorm:"column:chat_webhook_url" json:"chat_webhook_url,omitempty"`
	PhoneNumber    string `gorm:"column:phone_number" json:"phone_number,omitempty"`

	EmailEnabled bool `gorm:"column:email_enabled;not null;default:true" json:"email_enabled"`
	ChatEnabled  bool `gorm:"column:chat_enabled;not null;default:false" json:"chat_enabled"`
	SMSEnabled   bool `gorm:"column:sms_enabled;not null;default:false" json:"sms_enabled"`

	// DigestPreferred forces digest kind even when the plan allows instant.
	DigestPreferred bool `gorm:"column:digest_preferred;not null;default:false" json:"digest_preferred"`

	Regions      datatypes.JSON `gorm:"column:regions;type:jsonb" json:"regions"`
	Assets       datatypes.JSON `gorm:"column:assets;type:jsonb" json:"assets"`
	EnabledTypes datatypes.JSON `gorm:"column:enabled_types;type:jsonb" json:"enabled_types"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (NotificationPrefs) TableName() string { return "user_notification_prefs" }

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func (p *NotificationPrefs) RegionList() []string      { return decodeStrings(p.Regions) }
func (p *NotificationPrefs) AssetList() []string       { return decodeStrings(p.Assets) }
func (p *NotificationPrefs) EnabledTypeList() []string { return decodeStrings(p.EnabledTypes) }
