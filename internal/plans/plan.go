package plans

import (
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
)

// ChannelConfig is the per-channel slice of a plan's delivery configuration.
type ChannelConfig struct {
	Enabled       bool `yaml:"enabled"`
	InstantPerDay int  `yaml:"instant_per_day"`
	DigestEnabled bool `yaml:"digest_enabled"`
}

// Plan is one plan's notification configuration as supplied by the plan
// catalog. The quota engine never reads plans directly; it derives a Quota.
type Plan struct {
	Code         string                   `yaml:"code"`
	AllowedTypes []string                 `yaml:"allowed_types"`
	DigestOnly   bool                     `yaml:"digest_only"`
	DigestPerDay int                      `yaml:"digest_per_day"`
	MaxPerDay    int                      `yaml:"max_per_day"`
	Channels     map[string]ChannelConfig `yaml:"channels"`
}

// Quota is the derived, cacheable view the eligibility engine consumes.
type Quota struct {
	PlanCode       string                   `json:"plan_code"`
	DigestOnly     bool                     `json:"digest_only"`
	DigestPerDay   int                      `json:"digest_per_day"`
	InstantPerDay  map[types.Channel]int    `json:"instant_per_day"`
	ChannelEnabled map[types.Channel]bool   `json:"channel_enabled"`
	DigestEnabled  map[types.Channel]bool   `json:"digest_enabled"`
	AllowedTypes   map[types.EventType]bool `json:"allowed_types"`
	SMSIncluded    bool                     `json:"sms_included"`
}

func Derive(p Plan) Quota {
	q := Quota{
		PlanCode:       p.Code,
		DigestOnly:     p.DigestOnly,
		DigestPerDay:   p.DigestPerDay,
		InstantPerDay:  make(map[types.Channel]int),
		ChannelEnabled: make(map[types.Channel]bool),
		DigestEnabled:  make(map[types.Channel]bool),
		AllowedTypes:   make(map[types.EventType]bool),
	}
	for _, t := range p.AllowedTypes {
		q.AllowedTypes[types.EventType(t)] = true
	}
	for name, cfg := range p.Channels {
		ch := types.Channel(name)
		q.ChannelEnabled[ch] = cfg.Enabled
		q.DigestEnabled[ch] = cfg.Enabled && cfg.DigestEnabled
		limit := cfg.InstantPerDay
		if p.MaxPerDay > 0 && limit > p.MaxPerDay {
			limit = p.MaxPerDay
		}
		if !cfg.Enabled || p.DigestOnly {
			limit = 0
		}
		q.InstantPerDay[ch] = limit
	}
	if cfg, ok := p.Channels[string(types.ChannelSMS)]; ok {
		q.SMSIncluded = cfg.Enabled
	}
	return q
}

// FailClosed is the quota used when plan lookup fails: no instant sends,
// digest-only over email. Lookup errors must narrow the gate, never widen it.
func FailClosed(planCode string) Quota {
	return Quota{
		PlanCode:     planCode,
		DigestOnly:   true,
		DigestPerDay: 1,
		InstantPerDay: map[types.Channel]int{
			types.ChannelEmail: 0,
			types.ChannelChat:  0,
			types.ChannelSMS:   0,
		},
		ChannelEnabled: map[types.Channel]bool{
			types.ChannelEmail: true,
		},
		DigestEnabled: map[types.Channel]bool{
			types.ChannelEmail: true,
		},
		AllowedTypes: map[types.EventType]bool{
			types.EventTypeRegionalRiskSpike: true,
			types.EventTypeAssetRiskSpike:    true,
			types.EventTypeHighImpactEvent:   true,
			types.EventTypeMetricSpike:       true,
		},
	}
}
