package domain

import (
	"github.com/riskwatch/riskwatch-backend/internal/domain/alerts"
	"github.com/riskwatch/riskwatch-backend/internal/domain/users"
)

// Aggregated aliases so callers can import one package as `types`.

type (
	User              = users.User
	NotificationPrefs = users.NotificationPrefs

	NotificationEvent = alerts.NotificationEvent
	Delivery          = alerts.Delivery
	Digest            = alerts.Digest
	DigestItem        = alerts.DigestItem

	EventType      = alerts.EventType
	Channel        = alerts.Channel
	DeliveryStatus = alerts.DeliveryStatus
	DeliveryKind   = alerts.DeliveryKind
	DigestPeriod   = alerts.DigestPeriod
)

var (
	SendableChannels = alerts.SendableChannels
	DigestKey        = alerts.DigestKey
)

const (
	EventTypeRegionalRiskSpike = alerts.EventTypeRegionalRiskSpike
	EventTypeAssetRiskSpike    = alerts.EventTypeAssetRiskSpike
	EventTypeHighImpactEvent   = alerts.EventTypeHighImpactEvent
	EventTypeMetricSpike       = alerts.EventTypeMetricSpike

	ChannelAccount = alerts.ChannelAccount
	ChannelEmail   = alerts.ChannelEmail
	ChannelChat    = alerts.ChannelChat
	ChannelSMS     = alerts.ChannelSMS

	DeliveryStatusQueued  = alerts.DeliveryStatusQueued
	DeliveryStatusSending = alerts.DeliveryStatusSending
	DeliveryStatusSent    = alerts.DeliveryStatusSent
	DeliveryStatusFailed  = alerts.DeliveryStatusFailed
	DeliveryStatusSkipped = alerts.DeliveryStatusSkipped

	DeliveryKindInstant = alerts.DeliveryKindInstant
	DeliveryKindDigest  = alerts.DeliveryKindDigest

	DigestPeriodDaily  = alerts.DigestPeriodDaily
	DigestPeriodHourly = alerts.DigestPeriodHourly

	RegionGlobal      = alerts.RegionGlobal
	SkipReasonBatched = alerts.SkipReasonBatched
)
