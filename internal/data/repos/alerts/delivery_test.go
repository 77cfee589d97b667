package alerts

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/riskwatch/riskwatch-backend/internal/data/repos/testutil"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
)

func TestDeliveryInsertIgnoreDuplicate(t *testing.T) {
	gdb := testutil.DB(t)
	dbc := testutil.TxCtx(t, gdb)
	repo := NewDeliveryRepo(gdb, testutil.Logger(t))

	u := testutil.SeedUser(t, dbc, "pro")
	ev := testutil.SeedEvent(t, dbc, nil)
	testutil.SeedDelivery(t, dbc, u.ID, ev.ID, nil)

	dup := &types.Delivery{
		UserID:              u.ID,
		NotificationEventID: ev.ID,
		Channel:             types.ChannelEmail,
		Status:              types.DeliveryStatusQueued,
		DeliveryKind:        types.DeliveryKindInstant,
	}
	created, err := repo.InsertIgnoreDuplicate(dbc, dup)
	if err != nil {
		t.Fatalf("InsertIgnoreDuplicate: %v", err)
	}
	if created {
		t.Fatal("expected created=false for duplicate (user, event, channel)")
	}

	other := &types.Delivery{
		UserID:              u.ID,
		NotificationEventID: ev.ID,
		Channel:             types.ChannelChat,
		Status:              types.DeliveryStatusQueued,
		DeliveryKind:        types.DeliveryKindInstant,
	}
	created, err = repo.InsertIgnoreDuplicate(dbc, other)
	if err != nil {
		t.Fatalf("InsertIgnoreDuplicate other channel: %v", err)
	}
	if !created {
		t.Fatal("a different channel for the same (user, event) must insert")
	}
}

func TestDeliveryLeaseQueuedInstant(t *testing.T) {
	gdb := testutil.DB(t)
	dbc := testutil.TxCtx(t, gdb)
	repo := NewDeliveryRepo(gdb, testutil.Logger(t))

	u := testutil.SeedUser(t, dbc, "pro")
	ev := testutil.SeedEvent(t, dbc, nil)

	due := testutil.SeedDelivery(t, dbc, u.ID, ev.ID, nil)
	notDue := testutil.SeedDelivery(t, dbc, u.ID, ev.ID, func(d *types.Delivery) {
		d.Channel = types.ChannelChat
		future := time.Now().Add(time.Hour)
		d.NextRetryAt = &future
	})
	digestKind := testutil.SeedDelivery(t, dbc, u.ID, ev.ID, func(d *types.Delivery) {
		d.Channel = types.ChannelSMS
		d.DeliveryKind = types.DeliveryKindDigest
	})

	leased, err := repo.LeaseQueuedInstant(dbc, 10, 15*time.Minute)
	if err != nil {
		t.Fatalf("LeaseQueuedInstant: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("expected 1 leased row, got %d", len(leased))
	}
	got := leased[0]
	if got.ID != due.ID {
		t.Fatalf("leased wrong row: %s (not-due=%s digest=%s)", got.ID, notDue.ID, digestKind.ID)
	}
	if got.Status != types.DeliveryStatusSending {
		t.Fatalf("lease must flip status to sending, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("lease must bump attempts, got %d", got.Attempts)
	}

	again, err := repo.LeaseQueuedInstant(dbc, 10, 15*time.Minute)
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("a row in fresh sending state must not lease again, got %d", len(again))
	}
}

func TestDeliveryLeaseReclaimsStaleSending(t *testing.T) {
	gdb := testutil.DB(t)
	dbc := testutil.TxCtx(t, gdb)
	repo := NewDeliveryRepo(gdb, testutil.Logger(t))

	u := testutil.SeedUser(t, dbc, "pro")
	ev := testutil.SeedEvent(t, dbc, nil)
	stale := testutil.SeedDelivery(t, dbc, u.ID, ev.ID, func(d *types.Delivery) {
		d.Status = types.DeliveryStatusSending
	})
	// Age the row past the stale cutoff by hand; gorm refreshes updated_at
	// on normal writes.
	old := time.Now().Add(-time.Hour)
	if err := dbc.Tx.Model(&types.Delivery{}).
		Where("id = ?", stale.ID).
		UpdateColumn("updated_at", old).Error; err != nil {
		t.Fatalf("age row: %v", err)
	}

	leased, err := repo.LeaseQueuedInstant(dbc, 10, 15*time.Minute)
	if err != nil {
		t.Fatalf("LeaseQueuedInstant: %v", err)
	}
	if len(leased) != 1 || leased[0].ID != stale.ID {
		t.Fatalf("expected stale sending row to be reclaimed, got %d rows", len(leased))
	}
}

func TestDeliveryCountActiveInstantSince(t *testing.T) {
	gdb := testutil.DB(t)
	dbc := testutil.TxCtx(t, gdb)
	repo := NewDeliveryRepo(gdb, testutil.Logger(t))

	u := testutil.SeedUser(t, dbc, "pro")
	ev := testutil.SeedEvent(t, dbc, nil)
	ev2 := testutil.SeedEvent(t, dbc, nil)
	ev3 := testutil.SeedEvent(t, dbc, nil)

	testutil.SeedDelivery(t, dbc, u.ID, ev.ID, nil)
	testutil.SeedDelivery(t, dbc, u.ID, ev2.ID, func(d *types.Delivery) {
		d.Status = types.DeliveryStatusSkipped
		d.SkipReason = "quota_exceeded"
	})
	testutil.SeedDelivery(t, dbc, u.ID, ev3.ID, func(d *types.Delivery) {
		d.Status = types.DeliveryStatusFailed
	})

	count, err := repo.CountActiveInstantSince(dbc, u.ID, types.ChannelEmail, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountActiveInstantSince: %v", err)
	}
	if count != 1 {
		t.Fatalf("skipped and failed rows must not consume quota, got count=%d", count)
	}
}

func TestDeliveryMarkTransitions(t *testing.T) {
	gdb := testutil.DB(t)
	dbc := testutil.TxCtx(t, gdb)
	repo := NewDeliveryRepo(gdb, testutil.Logger(t))

	u := testutil.SeedUser(t, dbc, "pro")
	ev := testutil.SeedEvent(t, dbc, nil)
	d := testutil.SeedDelivery(t, dbc, u.ID, ev.ID, func(d *types.Delivery) {
		d.Status = types.DeliveryStatusSending
		d.LastError = "boom"
	})

	if err := repo.MarkSent(dbc, d.ID, "msg-123"); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	rows, err := repo.GetByIDs(dbc, []uuid.UUID{d.ID})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	got := rows[0]
	if got.Status != types.DeliveryStatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
	if got.ProviderMessageID != "msg-123" {
		t.Fatalf("provider message id = %q", got.ProviderMessageID)
	}
	if got.SentAt == nil {
		t.Fatal("sent_at not stamped")
	}
	if got.LastError != "" || got.NextRetryAt != nil {
		t.Fatal("retry metadata must clear on success")
	}
}

func TestDeliveryRequeueSetsRetry(t *testing.T) {
	gdb := testutil.DB(t)
	dbc := testutil.TxCtx(t, gdb)
	repo := NewDeliveryRepo(gdb, testutil.Logger(t))

	u := testutil.SeedUser(t, dbc, "pro")
	ev := testutil.SeedEvent(t, dbc, nil)
	d := testutil.SeedDelivery(t, dbc, u.ID, ev.ID, func(d *types.Delivery) {
		d.Status = types.DeliveryStatusSending
		d.Attempts = 1
	})

	retryAt := time.Now().Add(10 * time.Minute)
	if err := repo.Requeue(dbc, d.ID, "rate limited", retryAt); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	leased, err := repo.LeaseQueuedInstant(dbc, 10, 15*time.Minute)
	if err != nil {
		t.Fatalf("LeaseQueuedInstant: %v", err)
	}
	if len(leased) != 0 {
		t.Fatal("requeued row with a future retry time must not lease")
	}
}

func TestDeliveryDigestKindListingAndBatching(t *testing.T) {
	gdb := testutil.DB(t)
	dbc := testutil.TxCtx(t, gdb)
	repo := NewDeliveryRepo(gdb, testutil.Logger(t))
	digests := NewDigestRepo(gdb, testutil.Logger(t))

	u := testutil.SeedUser(t, dbc, "free")
	ev := testutil.SeedEvent(t, dbc, nil)
	d := testutil.SeedDelivery(t, dbc, u.ID, ev.ID, func(d *types.Delivery) {
		d.DeliveryKind = types.DeliveryKindDigest
	})

	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)

	rows, err := repo.ListQueuedDigestKind(dbc, start, end, 100)
	if err != nil {
		t.Fatalf("ListQueuedDigestKind: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != d.ID {
		t.Fatalf("expected the queued digest-kind row, got %d rows", len(rows))
	}

	dig := testutil.SeedDigest(t, dbc, u.ID, nil)
	if _, err := digests.AttachItem(dbc, dig.ID, d.ID); err != nil {
		t.Fatalf("AttachItem: %v", err)
	}

	rows, err = repo.ListQueuedDigestKind(dbc, start, end, 100)
	if err != nil {
		t.Fatalf("ListQueuedDigestKind after attach: %v", err)
	}
	if len(rows) != 0 {
		t.Fatal("a delivery already attached to a digest must not list again")
	}

	if err := repo.MarkBatched(dbc, []uuid.UUID{d.ID}); err != nil {
		t.Fatalf("MarkBatched: %v", err)
	}
	got, err := repo.GetByIDs(dbc, []uuid.UUID{d.ID})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if got[0].Status != types.DeliveryStatusSkipped || got[0].SkipReason != types.SkipReasonBatched {
		t.Fatalf("batched row = %s/%q, want skipped/%s", got[0].Status, got[0].SkipReason, types.SkipReasonBatched)
	}
}
