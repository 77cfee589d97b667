package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	alertsrepo "github.com/riskwatch/riskwatch-backend/internal/data/repos/alerts"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/dbctx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

// Window returns the closed batching window preceding now: the previous
// whole day for daily digests, the previous whole hour for hourly. The
// location shifts day boundaries for daily digests; bounds are returned
// in UTC either way.
func Window(period types.DigestPeriod, loc *time.Location, now time.Time) (start, end time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	switch period {
	case types.DigestPeriodHourly:
		end = local.Truncate(time.Hour)
		start = end.Add(-time.Hour)
	default:
		end = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		start = end.AddDate(0, 0, -1)
	}
	return start.UTC(), end.UTC()
}

type Config struct {
	Period    types.DigestPeriod
	Location  *time.Location
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Period:    types.DigestPeriodDaily,
		Location:  time.UTC,
		BatchSize: 500,
	}
}

type Summary struct {
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	DeliveriesFound int       `json:"deliveries_found"`
	DigestsCreated  int       `json:"digests_created"`
	DigestsReused   int       `json:"digests_reused"`
	ItemsAttached   int       `json:"items_attached"`
	ItemsDuplicate  int       `json:"items_duplicate"`
	Batched         int       `json:"batched"`
}

// Batcher is Phase D: it folds queued digest-kind deliveries from the
// previous window into per-(user, channel) digest containers.
type Batcher struct {
	deliveries alertsrepo.DeliveryRepo
	digests    alertsrepo.DigestRepo
	cfg        Config
	log        *logger.Logger
	now        func() time.Time
}

func New(deliveries alertsrepo.DeliveryRepo, digests alertsrepo.DigestRepo, cfg Config, baseLog *logger.Logger) *Batcher {
	if cfg.Period == "" {
		cfg.Period = types.DigestPeriodDaily
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Batcher{
		deliveries: deliveries,
		digests:    digests,
		cfg:        cfg,
		log:        baseLog.With("service", "DigestBatcher"),
		now:        time.Now,
	}
}

type groupKey struct {
	userID  uuid.UUID
	channel types.Channel
}

func (b *Batcher) Run(ctx context.Context) (*Summary, error) {
	dbc := dbctx.New(ctx)
	start, end := Window(b.cfg.Period, b.cfg.Location, b.now())
	summary := &Summary{WindowStart: start, WindowEnd: end}

	rows, err := b.deliveries.ListQueuedDigestKind(dbc, start, end, b.cfg.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("list digest-kind deliveries: %w", err)
	}
	summary.DeliveriesFound = len(rows)
	if len(rows) == 0 {
		return summary, nil
	}

	groups := make(map[groupKey][]*types.Delivery)
	order := make([]groupKey, 0)
	for _, d := range rows {
		k := groupKey{userID: d.UserID, channel: d.Channel}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], d)
	}

	for _, k := range order {
		if err := b.batchGroup(dbc, k, groups[k], start, end, summary); err != nil {
			return summary, fmt.Errorf("batch user %s channel %s: %w", k.userID, k.channel, err)
		}
	}

	b.log.Info("Digest batching finished",
		"window_start", start,
		"digests_created", summary.DigestsCreated,
		"batched", summary.Batched,
	)
	return summary, nil
}

func (b *Batcher) batchGroup(dbc dbctx.Context, k groupKey, rows []*types.Delivery, start, end time.Time, summary *Summary) error {
	d := &types.Digest{
		DigestKey:   types.DigestKey(k.userID, k.channel, b.cfg.Period, start),
		UserID:      k.userID,
		Channel:     k.channel,
		Period:      b.cfg.Period,
		WindowStart: start,
		WindowEnd:   end,
		Status:      types.DeliveryStatusQueued,
	}
	persisted, created, err := b.digests.GetOrCreate(dbc, d)
	if err != nil {
		return err
	}
	if created {
		summary.DigestsCreated++
	} else {
		summary.DigestsReused++
	}

	batched := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		attached, err := b.digests.AttachItem(dbc, persisted.ID, row.ID)
		if err != nil {
			return err
		}
		if attached {
			summary.ItemsAttached++
		} else {
			summary.ItemsDuplicate++
		}
		batched = append(batched, row.ID)
	}

	// Marking the source rows skipped removes them from the instant queue
	// while the digest items keep them reachable for rendering.
	if err := b.deliveries.MarkBatched(dbc, batched); err != nil {
		return err
	}
	summary.Batched += len(batched)
	return nil
}
