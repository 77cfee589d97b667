package fanout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/riskwatch/riskwatch-backend/internal/alerts/eligibility"
	alertsrepo "github.com/riskwatch/riskwatch-backend/internal/data/repos/alerts"
	usersrepo "github.com/riskwatch/riskwatch-backend/internal/data/repos/users"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/dbctx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/pointers"
	"github.com/riskwatch/riskwatch-backend/internal/plans"
)

const (
	FilterReasonTypeNotInPlan  = "filtered_type_not_in_plan"
	FilterReasonRegionMismatch = "filtered_region_mismatch"
	FilterReasonAssetMismatch  = "filtered_asset_mismatch"
	FilterReasonTypeDisabled   = "filtered_type_disabled_by_user"
)

type Config struct {
	// Lookback bounds how far back unstamped events are picked up.
	Lookback time.Duration
	// BatchSize caps events per invocation; stamped-last semantics make a
	// partial run safe to re-run.
	BatchSize int
	// AllowList restricts the fanout population when non-empty.
	AllowList []uuid.UUID
}

func DefaultConfig() Config {
	return Config{
		Lookback:  24 * time.Hour,
		BatchSize: 200,
	}
}

type Summary struct {
	EventsProcessed   int                            `json:"events_processed"`
	EventsStamped     int                            `json:"events_stamped"`
	AccountMarkers    int                            `json:"account_markers"`
	DeliveriesCreated int                            `json:"deliveries_created"`
	DuplicateRows     int                            `json:"duplicate_rows"`
	Filtered          map[string]int                 `json:"filtered"`
	Skipped           map[eligibility.SkipReason]int `json:"skipped"`
	ByKind            map[types.DeliveryKind]int     `json:"by_kind"`
}

func newSummary() *Summary {
	return &Summary{
		Filtered: make(map[string]int),
		Skipped:  make(map[eligibility.SkipReason]int),
		ByKind:   make(map[types.DeliveryKind]int),
	}
}

// Engine is Phase B: it expands each unstamped NotificationEvent into
// per-(user, channel) delivery rows, stamping the event only after every
// user has been considered.
type Engine struct {
	events     alertsrepo.NotificationEventRepo
	deliveries alertsrepo.DeliveryRepo
	users      usersrepo.UserRepo
	prefs      usersrepo.NotificationPrefsRepo
	quotas     *plans.Service
	checker    *eligibility.Checker
	cfg        Config
	log        *logger.Logger
	now        func() time.Time
}

func New(
	events alertsrepo.NotificationEventRepo,
	deliveries alertsrepo.DeliveryRepo,
	users usersrepo.UserRepo,
	prefs usersrepo.NotificationPrefsRepo,
	quotas *plans.Service,
	checker *eligibility.Checker,
	cfg Config,
	baseLog *logger.Logger,
) *Engine {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultConfig().Lookback
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Engine{
		events:     events,
		deliveries: deliveries,
		users:      users,
		prefs:      prefs,
		quotas:     quotas,
		checker:    checker,
		cfg:        cfg,
		log:        baseLog.With("service", "FanoutEngine"),
		now:        time.Now,
	}
}

func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	dbc := dbctx.New(ctx)
	summary := newSummary()

	since := e.now().Add(-e.cfg.Lookback)
	events, err := e.events.ListPendingFanout(dbc, since, e.cfg.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("list pending events: %w", err)
	}
	if len(events) == 0 {
		return summary, nil
	}

	population, err := e.users.ListActive(dbc, e.cfg.AllowList)
	if err != nil {
		return summary, fmt.Errorf("list users: %w", err)
	}
	userIDs := make([]uuid.UUID, 0, len(population))
	for _, u := range population {
		userIDs = append(userIDs, u.ID)
	}
	prefsByUser, err := e.prefs.MapByUserIDs(dbc, userIDs)
	if err != nil {
		return summary, fmt.Errorf("load prefs: %w", err)
	}

	for _, ev := range events {
		summary.EventsProcessed++
		for _, u := range population {
			sub := eligibility.Subscriber{User: u, Prefs: prefsByUser[u.ID]}
			if err := e.fanoutUser(ctx, dbc, ev, sub, summary); err != nil {
				return summary, fmt.Errorf("fanout event %s user %s: %w", ev.ID, u.ID, err)
			}
		}
		// Stamping last makes the stamp the idempotency boundary: a crash
		// mid-event re-runs the whole event and the (user, event, channel)
		// unique index absorbs the replays.
		if err := e.events.MarkFanoutCompleted(dbc, ev.ID); err != nil {
			return summary, fmt.Errorf("stamp event %s: %w", ev.ID, err)
		}
		summary.EventsStamped++
	}

	e.log.Info("Fanout finished",
		"events", summary.EventsProcessed,
		"created", summary.DeliveriesCreated,
		"account_markers", summary.AccountMarkers,
	)
	return summary, nil
}

func (e *Engine) fanoutUser(ctx context.Context, dbc dbctx.Context, ev *types.NotificationEvent, sub eligibility.Subscriber, summary *Summary) error {
	quota := e.quotas.Quotas(ctx, sub.User.PlanCode)

	if reason := filterReason(ev, sub.Prefs, quota); reason != "" {
		summary.Filtered[reason]++
		return nil
	}

	// The in-product marker costs nothing to "send"; it is written as
	// already sent so Phase C never touches it.
	marker := &types.Delivery{
		UserID:              sub.User.ID,
		NotificationEventID: ev.ID,
		Channel:             types.ChannelAccount,
		Status:              types.DeliveryStatusSent,
		DeliveryKind:        types.DeliveryKindInstant,
		SentAt:              pointers.Ptr(e.now().UTC()),
	}
	created, err := e.deliveries.InsertIgnoreDuplicate(dbc, marker)
	if err != nil {
		return err
	}
	if created {
		summary.AccountMarkers++
	} else {
		summary.DuplicateRows++
	}

	for _, ch := range types.SendableChannels {
		res, err := e.checker.Check(dbc, sub, ch, quota, ev.ID)
		if err != nil {
			return err
		}
		if !res.Eligible {
			summary.Skipped[res.Reason]++
			continue
		}
		d := &types.Delivery{
			UserID:              sub.User.ID,
			NotificationEventID: ev.ID,
			Channel:             ch,
			Status:              types.DeliveryStatusQueued,
			DeliveryKind:        res.Kind,
		}
		created, err := e.deliveries.InsertIgnoreDuplicate(dbc, d)
		if err != nil {
			return err
		}
		if created {
			summary.DeliveriesCreated++
			summary.ByKind[res.Kind]++
		} else {
			summary.DuplicateRows++
		}
	}
	return nil
}

// filterReason applies the population filters that precede per-channel
// eligibility. Empty returns mean the user survives.
func filterReason(ev *types.NotificationEvent, prefs *types.NotificationPrefs, quota plans.Quota) string {
	if !quota.AllowedTypes[ev.EventType] {
		return FilterReasonTypeNotInPlan
	}
	if prefs == nil {
		return ""
	}

	if enabled := prefs.EnabledTypeList(); len(enabled) > 0 {
		if !containsType(enabled, ev.EventType) {
			return FilterReasonTypeDisabled
		}
	}

	if regions := prefs.RegionList(); len(regions) > 0 && ev.Region != "" && ev.Region != types.RegionGlobal {
		if !containsFold(regions, types.RegionGlobal) && !containsFold(regions, ev.Region) {
			return FilterReasonRegionMismatch
		}
	}

	if assets := ev.AssetList(); len(assets) > 0 {
		if userAssets := prefs.AssetList(); len(userAssets) > 0 && !intersects(assets, userAssets) {
			return FilterReasonAssetMismatch
		}
	}
	return ""
}

func containsType(list []string, t types.EventType) bool {
	for _, v := range list {
		if types.EventType(v) == t {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if containsFold(b, x) {
			return true
		}
	}
	return false
}
