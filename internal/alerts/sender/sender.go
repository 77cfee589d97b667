package sender

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/riskwatch/riskwatch-backend/internal/alerts/eligibility"
	"github.com/riskwatch/riskwatch-backend/internal/channels"
	alertsrepo "github.com/riskwatch/riskwatch-backend/internal/data/repos/alerts"
	usersrepo "github.com/riskwatch/riskwatch-backend/internal/data/repos/users"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/dbctx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

// SkipReasonNoEvents marks a digest whose item list was empty at send time.
const SkipReasonNoEvents = "no_events"

type Config struct {
	BatchSize int
	// MaxAttempts bounds retries per row; a transient failure on the last
	// attempt goes terminal.
	MaxAttempts int
	// MaxSendsPerRun is the global circuit breaker across both sub-loops.
	// Zero means unlimited.
	MaxSendsPerRun int
	// StaleSendingAfter reclaims rows a crashed sender left in "sending".
	StaleSendingAfter time.Duration
	Backoff           BackoffPolicy
}

func DefaultConfig() Config {
	return Config{
		BatchSize:         100,
		MaxAttempts:       5,
		MaxSendsPerRun:    500,
		StaleSendingAfter: 15 * time.Minute,
		Backoff:           DefaultBackoff(),
	}
}

type LoopSummary struct {
	Leased   int `json:"leased"`
	Sent     int `json:"sent"`
	Skipped  int `json:"skipped"`
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

type Summary struct {
	Instant      LoopSummary `json:"instant"`
	Digests      LoopSummary `json:"digests"`
	StoppedEarly bool        `json:"stopped_early"`
}

// sendBudget is the shared breaker. Lease sizes draw from it up front so a
// trip never strands rows in "sending".
type sendBudget struct {
	mu        sync.Mutex
	remaining int
	limited   bool
	exhausted bool
}

func newSendBudget(limit int) *sendBudget {
	return &sendBudget{remaining: limit, limited: limit > 0}
}

func (b *sendBudget) take(n int) int {
	if !b.limited {
		return n
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.remaining {
		n = b.remaining
	}
	b.remaining -= n
	if b.remaining == 0 {
		b.exhausted = true
	}
	return n
}

// refund returns unleased slots so a drained queue on the zeroing pass does
// not read as an early stop.
func (b *sendBudget) refund(n int) {
	if !b.limited || n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining += n
	b.exhausted = false
}

func (b *sendBudget) stoppedEarly() bool {
	if !b.limited {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exhausted
}

// Engine is Phase C: it leases queued rows, drives the channel adapters,
// and walks each row through the retry state machine.
type Engine struct {
	deliveries alertsrepo.DeliveryRepo
	digests    alertsrepo.DigestRepo
	events     alertsrepo.NotificationEventRepo
	users      usersrepo.UserRepo
	prefs      usersrepo.NotificationPrefsRepo
	registry   *channels.Registry
	cfg        Config
	log        *logger.Logger
	now        func() time.Time
}

func New(
	deliveries alertsrepo.DeliveryRepo,
	digests alertsrepo.DigestRepo,
	events alertsrepo.NotificationEventRepo,
	users usersrepo.UserRepo,
	prefs usersrepo.NotificationPrefsRepo,
	registry *channels.Registry,
	cfg Config,
	baseLog *logger.Logger,
) *Engine {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.StaleSendingAfter <= 0 {
		cfg.StaleSendingAfter = def.StaleSendingAfter
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = def.Backoff
	}
	return &Engine{
		deliveries: deliveries,
		digests:    digests,
		events:     events,
		users:      users,
		prefs:      prefs,
		registry:   registry,
		cfg:        cfg,
		log:        baseLog.With("service", "DeliverySender"),
		now:        time.Now,
	}
}

func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	budget := newSendBudget(e.cfg.MaxSendsPerRun)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.runInstant(gctx, budget, &summary.Instant)
	})
	g.Go(func() error {
		return e.runDigests(gctx, budget, &summary.Digests)
	})
	err := g.Wait()
	summary.StoppedEarly = budget.stoppedEarly()

	e.log.Info("Send pass finished",
		"instant_sent", summary.Instant.Sent,
		"digests_sent", summary.Digests.Sent,
		"stopped_early", summary.StoppedEarly,
	)
	return summary, err
}

func (e *Engine) runInstant(ctx context.Context, budget *sendBudget, loop *LoopSummary) error {
	dbc := dbctx.New(ctx)
	for {
		n := budget.take(e.cfg.BatchSize)
		if n == 0 {
			return nil
		}
		rows, err := e.deliveries.LeaseQueuedInstant(dbc, n, e.cfg.StaleSendingAfter)
		if err != nil {
			return fmt.Errorf("lease instant deliveries: %w", err)
		}
		budget.refund(n - len(rows))
		if len(rows) == 0 {
			return nil
		}
		loop.Leased += len(rows)

		refs, err := e.loadRefs(dbc, rows)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := e.sendInstant(ctx, dbc, row, refs, loop); err != nil {
				return err
			}
		}
		if len(rows) < n {
			return nil
		}
	}
}

// refs is the batch-scoped lookup state for rendering and addressing.
type refs struct {
	events map[uuid.UUID]*types.NotificationEvent
	users  map[uuid.UUID]*types.User
	prefs  map[uuid.UUID]*types.NotificationPrefs
}

func (e *Engine) loadRefs(dbc dbctx.Context, rows []*types.Delivery) (*refs, error) {
	eventIDs := make([]uuid.UUID, 0, len(rows))
	userIDs := make([]uuid.UUID, 0, len(rows))
	seenEv := make(map[uuid.UUID]bool)
	seenUser := make(map[uuid.UUID]bool)
	for _, row := range rows {
		if !seenEv[row.NotificationEventID] {
			seenEv[row.NotificationEventID] = true
			eventIDs = append(eventIDs, row.NotificationEventID)
		}
		if !seenUser[row.UserID] {
			seenUser[row.UserID] = true
			userIDs = append(userIDs, row.UserID)
		}
	}
	return e.loadRefIDs(dbc, eventIDs, userIDs)
}

func (e *Engine) loadRefIDs(dbc dbctx.Context, eventIDs, userIDs []uuid.UUID) (*refs, error) {
	r := &refs{
		events: make(map[uuid.UUID]*types.NotificationEvent),
		users:  make(map[uuid.UUID]*types.User),
	}
	if len(eventIDs) > 0 {
		evs, err := e.events.GetByIDs(dbc, eventIDs)
		if err != nil {
			return nil, fmt.Errorf("load events: %w", err)
		}
		for _, ev := range evs {
			r.events[ev.ID] = ev
		}
	}
	if len(userIDs) > 0 {
		us, err := e.users.GetByIDs(dbc, userIDs)
		if err != nil {
			return nil, fmt.Errorf("load users: %w", err)
		}
		for _, u := range us {
			r.users[u.ID] = u
		}
		prefs, err := e.prefs.MapByUserIDs(dbc, userIDs)
		if err != nil {
			return nil, fmt.Errorf("load prefs: %w", err)
		}
		r.prefs = prefs
	}
	return r, nil
}

func (r *refs) destination(userID uuid.UUID, ch types.Channel) (string, bool) {
	u, ok := r.users[userID]
	if !ok {
		return "", false
	}
	sub := eligibility.Subscriber{User: u, Prefs: r.prefs[userID]}
	return sub.Destination(ch), true
}

func (e *Engine) sendInstant(ctx context.Context, dbc dbctx.Context, row *types.Delivery, r *refs, loop *LoopSummary) error {
	ev, haveEvent := r.events[row.NotificationEventID]
	dest, haveUser := r.destination(row.UserID, row.Channel)

	var res channels.SendResult
	switch {
	case !haveEvent:
		res = channels.PermanentFailure(fmt.Errorf("notification event %s not found", row.NotificationEventID))
	case !haveUser:
		res = channels.PermanentFailure(fmt.Errorf("user %s not found", row.UserID))
	default:
		adapter, ok := e.registry.For(row.Channel)
		if !ok {
			res = channels.Skip(channels.SkipReasonNotConfigured)
			break
		}
		res = adapter.Send(ctx, channels.SendRequest{
			Destination:   dest,
			Subject:       ev.Headline,
			Body:          ev.Body,
			CorrelationID: row.ID.String(),
		})
	}

	outcome := Classify(res.Success, res.ShouldSkip, res.Transient)
	tr := NextTransition(row.Attempts, e.cfg.MaxAttempts, outcome, e.cfg.Backoff, e.now())

	switch tr.Status {
	case types.DeliveryStatusSent:
		loop.Sent++
		return e.deliveries.MarkSent(dbc, row.ID, res.MessageID)
	case types.DeliveryStatusSkipped:
		loop.Skipped++
		return e.deliveries.MarkSkipped(dbc, row.ID, res.SkipReason)
	case types.DeliveryStatusQueued:
		loop.Requeued++
		return e.deliveries.Requeue(dbc, row.ID, errText(res.Err), *tr.NextRetryAt)
	default:
		loop.Failed++
		e.log.Warn("Delivery failed terminally",
			"delivery_id", row.ID,
			"channel", row.Channel,
			"attempts", row.Attempts,
			"error", errText(res.Err),
		)
		return e.deliveries.MarkFailed(dbc, row.ID, errText(res.Err))
	}
}

func (e *Engine) runDigests(ctx context.Context, budget *sendBudget, loop *LoopSummary) error {
	dbc := dbctx.New(ctx)
	for {
		n := budget.take(e.cfg.BatchSize)
		if n == 0 {
			return nil
		}
		rows, err := e.digests.LeaseQueued(dbc, n, e.cfg.StaleSendingAfter)
		if err != nil {
			return fmt.Errorf("lease digests: %w", err)
		}
		budget.refund(n - len(rows))
		if len(rows) == 0 {
			return nil
		}
		loop.Leased += len(rows)

		for _, d := range rows {
			if err := e.sendDigest(ctx, dbc, d, loop); err != nil {
				return err
			}
		}
		if len(rows) < n {
			return nil
		}
	}
}

func (e *Engine) sendDigest(ctx context.Context, dbc dbctx.Context, d *types.Digest, loop *LoopSummary) error {
	deliveryIDs, err := e.digests.ListItemDeliveryIDs(dbc, d.ID)
	if err != nil {
		return fmt.Errorf("list digest items: %w", err)
	}
	if len(deliveryIDs) == 0 {
		loop.Skipped++
		return e.digests.MarkSkipped(dbc, d.ID, SkipReasonNoEvents)
	}

	items, err := e.deliveries.GetByIDs(dbc, deliveryIDs)
	if err != nil {
		return fmt.Errorf("load digest deliveries: %w", err)
	}
	eventIDs := make([]uuid.UUID, 0, len(items))
	seen := make(map[uuid.UUID]bool)
	for _, it := range items {
		if !seen[it.NotificationEventID] {
			seen[it.NotificationEventID] = true
			eventIDs = append(eventIDs, it.NotificationEventID)
		}
	}
	r, err := e.loadRefIDs(dbc, eventIDs, []uuid.UUID{d.UserID})
	if err != nil {
		return err
	}

	dest, haveUser := r.destination(d.UserID, d.Channel)
	var res channels.SendResult
	switch {
	case !haveUser:
		res = channels.PermanentFailure(fmt.Errorf("user %s not found", d.UserID))
	default:
		adapter, ok := e.registry.For(d.Channel)
		if !ok {
			res = channels.Skip(channels.SkipReasonNotConfigured)
			break
		}
		subject, body := renderDigest(d, orderedEvents(eventIDs, r.events))
		res = adapter.Send(ctx, channels.SendRequest{
			Destination:   dest,
			Subject:       subject,
			Body:          body,
			CorrelationID: d.ID.String(),
		})
	}

	outcome := Classify(res.Success, res.ShouldSkip, res.Transient)
	tr := NextTransition(d.Attempts, e.cfg.MaxAttempts, outcome, e.cfg.Backoff, e.now())

	switch tr.Status {
	case types.DeliveryStatusSent:
		loop.Sent++
		return e.digests.MarkSent(dbc, d.ID)
	case types.DeliveryStatusSkipped:
		loop.Skipped++
		return e.digests.MarkSkipped(dbc, d.ID, res.SkipReason)
	case types.DeliveryStatusQueued:
		loop.Requeued++
		return e.digests.Requeue(dbc, d.ID, errText(res.Err), *tr.NextRetryAt)
	default:
		loop.Failed++
		e.log.Warn("Digest failed terminally",
			"digest_id", d.ID,
			"channel", d.Channel,
			"attempts", d.Attempts,
			"error", errText(res.Err),
		)
		return e.digests.MarkFailed(dbc, d.ID, errText(res.Err))
	}
}

func orderedEvents(ids []uuid.UUID, byID map[uuid.UUID]*types.NotificationEvent) []*types.NotificationEvent {
	out := make([]*types.NotificationEvent, 0, len(ids))
	for _, id := range ids {
		if ev, ok := byID[id]; ok {
			out = append(out, ev)
		}
	}
	return out
}

func renderDigest(d *types.Digest, events []*types.NotificationEvent) (subject, body string) {
	label := "daily"
	if d.Period == types.DigestPeriodHourly {
		label = "hourly"
	}
	subject = fmt.Sprintf("Your %s risk digest (%d alerts)", label, len(events))

	var b strings.Builder
	fmt.Fprintf(&b, "Risk alerts for %s to %s:\n\n",
		d.WindowStart.UTC().Format("2006-01-02 15:04"),
		d.WindowEnd.UTC().Format("2006-01-02 15:04"),
	)
	for _, ev := range events {
		fmt.Fprintf(&b, "* [%d/5] %s\n", ev.Severity, ev.Headline)
		if ev.Body != "" {
			fmt.Fprintf(&b, "  %s\n", ev.Body)
		}
	}
	return subject, b.String()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
