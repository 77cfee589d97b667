package testutil

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/dbctx"
)

func create(t *testing.T, dbc dbctx.Context, v interface{}) {
	t.Helper()
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(v).Error; err != nil {
		t.Fatalf("seed %T: %v", v, err)
	}
}

func JSONStrings(t *testing.T, vals ...string) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(vals)
	if err != nil {
		t.Fatalf("marshal fixture strings: %v", err)
	}
	return datatypes.JSON(raw)
}

func SeedUser(t *testing.T, dbc dbctx.Context, planCode string) *types.User {
	t.Helper()
	u := &types.User{
		Email:    fmt.Sprintf("user-%s@riskwatch.test", uuid.NewString()[:8]),
		PlanCode: planCode,
	}
	create(t, dbc, u)
	return u
}

func SeedPrefs(t *testing.T, dbc dbctx.Context, userID uuid.UUID, mutate func(*types.NotificationPrefs)) *types.NotificationPrefs {
	t.Helper()
	p := &types.NotificationPrefs{
		UserID:       userID,
		EmailEnabled: true,
	}
	if mutate != nil {
		mutate(p)
	}
	create(t, dbc, p)
	return p
}

func SeedEvent(t *testing.T, dbc dbctx.Context, mutate func(*types.NotificationEvent)) *types.NotificationEvent {
	t.Helper()
	ev := &types.NotificationEvent{
		EventType:   types.EventTypeRegionalRiskSpike,
		Region:      "Europe",
		Severity:    3,
		Confidence:  0.8,
		Headline:    "Regional risk spike: Europe",
		Body:        "Risk for Europe is 78.0, up 25.8% from 62.0.",
		CooldownKey: fmt.Sprintf("cooldown-%s", uuid.NewString()),
		Fingerprint: fmt.Sprintf("fp-%s", uuid.NewString()),
	}
	if mutate != nil {
		mutate(ev)
	}
	create(t, dbc, ev)
	return ev
}

func SeedDelivery(t *testing.T, dbc dbctx.Context, userID, eventID uuid.UUID, mutate func(*types.Delivery)) *types.Delivery {
	t.Helper()
	d := &types.Delivery{
		UserID:              userID,
		NotificationEventID: eventID,
		Channel:             types.ChannelEmail,
		Status:              types.DeliveryStatusQueued,
		DeliveryKind:        types.DeliveryKindInstant,
	}
	if mutate != nil {
		mutate(d)
	}
	create(t, dbc, d)
	return d
}

func SeedDigest(t *testing.T, dbc dbctx.Context, userID uuid.UUID, mutate func(*types.Digest)) *types.Digest {
	t.Helper()
	start := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	d := &types.Digest{
		DigestKey:   types.DigestKey(userID, types.ChannelEmail, types.DigestPeriodDaily, start),
		UserID:      userID,
		Channel:     types.ChannelEmail,
		Period:      types.DigestPeriodDaily,
		WindowStart: start,
		WindowEnd:   start.AddDate(0, 0, 1),
		Status:      types.DeliveryStatusQueued,
	}
	if mutate != nil {
		mutate(d)
	}
	create(t, dbc, d)
	return d
}
