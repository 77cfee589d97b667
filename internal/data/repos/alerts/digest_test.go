package alerts

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/riskwatch/riskwatch-backend/internal/data/repos/testutil"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
)

func TestDigestGetOrCreate(t *testing.T) {
	gdb := testutil.DB(t)
	dbc := testutil.TxCtx(t, gdb)
	repo := NewDigestRepo(gdb, testutil.Logger(t))

	u := testutil.SeedUser(t, dbc, "free")
	start := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	d := &types.Digest{
		DigestKey:   types.DigestKey(u.ID, types.ChannelEmail, types.DigestPeriodDaily, start),
		UserID:      u.ID,
		Channel:     types.ChannelEmail,
		Period:      types.DigestPeriodDaily,
		WindowStart: start,
		WindowEnd:   start.AddDate(0, 0, 1),
		Status:      types.DeliveryStatusQueued,
	}

	first, created, err := repo.GetOrCreate(dbc, d)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatal("first call must create")
	}

	again := *d
	again.ID = uuid.Nil
	second, created, err := repo.GetOrCreate(dbc, &again)
	if err != nil {
		t.Fatalf("GetOrCreate second: %v", err)
	}
	if created {
		t.Fatal("second call with the same key must not create")
	}
	if second.ID != first.ID {
		t.Fatalf("second call returned a different row: %s vs %s", second.ID, first.ID)
	}
}

func TestDigestAttachItemIdempotent(t *testing.T) {
	gdb := testutil.DB(t)
	dbc := testutil.TxCtx(t, gdb)
	repo := NewDigestRepo(gdb, testutil.Logger(t))

	u := testutil.SeedUser(t, dbc, "free")
	ev := testutil.SeedEvent(t, dbc, nil)
	del := testutil.SeedDelivery(t, dbc, u.ID, ev.ID, func(d *types.Delivery) {
		d.DeliveryKind = types.DeliveryKindDigest
	})
	dig := testutil.SeedDigest(t, dbc, u.ID, nil)

	attached, err := repo.AttachItem(dbc, dig.ID, del.ID)
	if err != nil {
		t.Fatalf("AttachItem: %v", err)
	}
	if !attached {
		t.Fatal("first attach must insert")
	}

	attached, err = repo.AttachItem(dbc, dig.ID, del.ID)
	if err != nil {
		t.Fatalf("AttachItem second: %v", err)
	}
	if attached {
		t.Fatal("re-attach must be a no-op")
	}

	ids, err := repo.ListItemDeliveryIDs(dbc, dig.ID)
	if err != nil {
		t.Fatalf("ListItemDeliveryIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != del.ID {
		t.Fatalf("expected exactly the one attached delivery, got %v", ids)
	}
}

func TestDigestLeaseQueued(t *testing.T) {
	gdb := testutil.DB(t)
	dbc := testutil.TxCtx(t, gdb)
	repo := NewDigestRepo(gdb, testutil.Logger(t))

	u := testutil.SeedUser(t, dbc, "free")
	dig := testutil.SeedDigest(t, dbc, u.ID, nil)

	leased, err := repo.LeaseQueued(dbc, 10, 15*time.Minute)
	if err != nil {
		t.Fatalf("LeaseQueued: %v", err)
	}
	if len(leased) != 1 || leased[0].ID != dig.ID {
		t.Fatalf("expected the queued digest, got %d rows", len(leased))
	}
	if leased[0].Status != types.DeliveryStatusSending || leased[0].Attempts != 1 {
		t.Fatalf("lease must flip to sending and bump attempts, got %s/%d",
			leased[0].Status, leased[0].Attempts)
	}

	again, err := repo.LeaseQueued(dbc, 10, 15*time.Minute)
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if len(again) != 0 {
		t.Fatal("a digest in fresh sending state must not lease again")
	}
}

func TestDigestCountCreatedSince(t *testing.T) {
	gdb := testutil.DB(t)
	dbc := testutil.TxCtx(t, gdb)
	repo := NewDigestRepo(gdb, testutil.Logger(t))

	u := testutil.SeedUser(t, dbc, "free")
	testutil.SeedDigest(t, dbc, u.ID, nil)

	count, err := repo.CountCreatedSince(dbc, u.ID, types.ChannelEmail, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountCreatedSince: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	count, err = repo.CountCreatedSince(dbc, u.ID, types.ChannelChat, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountCreatedSince other channel: %v", err)
	}
	if count != 0 {
		t.Fatalf("count for other channel = %d, want 0", count)
	}
}
