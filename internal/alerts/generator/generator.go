package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	alertsrepo "github.com/riskwatch/riskwatch-backend/internal/data/repos/alerts"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/dbctx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

type Config struct {
	RegionalScoreThreshold     float64
	RegionalChangePctThreshold float64
	AssetScoreThreshold        float64
	MinSourceSeverity          int
	MetricChangePctThreshold   float64

	// SeverityFloor discards events scoring below the floor per type,
	// before persistence. Used where cross-user noise must stay low.
	SeverityFloor map[types.EventType]int
}

func DefaultConfig() Config {
	return Config{
		RegionalScoreThreshold:     70,
		RegionalChangePctThreshold: 20,
		AssetScoreThreshold:        70,
		MinSourceSeverity:          4,
		MetricChangePctThreshold:   15,
		SeverityFloor: map[types.EventType]int{
			types.EventTypeMetricSpike: 5,
		},
	}
}

type TypeSummary struct {
	Created           int `json:"created"`
	SkippedDuplicates int `json:"skipped_duplicates"`
	Discarded         int `json:"discarded"`
}

type Summary struct {
	Created           int                             `json:"created"`
	SkippedDuplicates int                             `json:"skipped_duplicates"`
	Discarded         int                             `json:"discarded"`
	PerType           map[types.EventType]TypeSummary `json:"per_type"`
	Metrics           map[string]string               `json:"metrics,omitempty"`
}

// Generator is Phase A: scored candidates in, deduplicated user-agnostic
// NotificationEvents out.
type Generator struct {
	source Source
	events alertsrepo.NotificationEventRepo
	cfg    Config
	log    *logger.Logger
	now    func() time.Time
}

func New(source Source, events alertsrepo.NotificationEventRepo, cfg Config, baseLog *logger.Logger) *Generator {
	return &Generator{
		source: source,
		events: events,
		cfg:    cfg,
		log:    baseLog.With("service", "EventGenerator"),
		now:    time.Now,
	}
}

func (g *Generator) Run(ctx context.Context) (*Summary, error) {
	dbc := dbctx.New(ctx)
	summary := &Summary{
		PerType: make(map[types.EventType]TypeSummary),
		Metrics: make(map[string]string),
	}

	if err := g.runRegional(ctx, dbc, summary); err != nil {
		return summary, fmt.Errorf("regional sub-generator: %w", err)
	}
	if err := g.runAsset(ctx, dbc, summary); err != nil {
		return summary, fmt.Errorf("asset sub-generator: %w", err)
	}
	if err := g.runHighImpact(ctx, dbc, summary); err != nil {
		return summary, fmt.Errorf("high-impact sub-generator: %w", err)
	}
	if err := g.runMetric(ctx, dbc, summary); err != nil {
		return summary, fmt.Errorf("metric sub-generator: %w", err)
	}

	g.log.Info("Event generation finished",
		"created", summary.Created,
		"skipped_duplicates", summary.SkippedDuplicates,
		"discarded", summary.Discarded,
	)
	return summary, nil
}

func (g *Generator) persist(dbc dbctx.Context, eventType types.EventType, evs []*types.NotificationEvent, summary *Summary) error {
	ts := summary.PerType[eventType]
	floor := g.cfg.SeverityFloor[eventType]
	for _, ev := range evs {
		if floor > 0 && ev.Severity < floor {
			ts.Discarded++
			summary.Discarded++
			continue
		}
		created, err := g.events.InsertIgnoreDuplicate(dbc, ev)
		if err != nil {
			summary.PerType[eventType] = ts
			return err
		}
		if created {
			ts.Created++
			summary.Created++
		} else {
			ts.SkippedDuplicates++
			summary.SkippedDuplicates++
		}
	}
	summary.PerType[eventType] = ts
	return nil
}

func mustJSON(v interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(raw)
}

// --- regional risk spikes ---

func regionalSeverity(score, change, changeThreshold float64) int {
	sev := 1
	switch {
	case score >= 90:
		sev = 5
	case score >= 80:
		sev = 4
	case score >= 70:
		sev = 3
	case score >= 60:
		sev = 2
	}
	if changeThreshold > 0 && change >= 2*changeThreshold {
		sev++
	}
	return clampSeverity(sev)
}

func (g *Generator) buildRegionalEvent(c RegionalRiskCandidate) (*types.NotificationEvent, bool) {
	change := pctChange(c.CurrentScore, c.PreviousScore)
	triggered := c.CurrentScore >= g.cfg.RegionalScoreThreshold ||
		change >= g.cfg.RegionalChangePctThreshold
	if !triggered || c.Region == "" {
		return nil, false
	}

	day := g.now().UTC()
	sev := regionalSeverity(c.CurrentScore, change, g.cfg.RegionalChangePctThreshold)
	conf := clampConfidence(0.5 + (c.CurrentScore-g.cfg.RegionalScoreThreshold)/100 + change/200)

	return &types.NotificationEvent{
		EventType:      types.EventTypeRegionalRiskSpike,
		Region:         c.Region,
		Severity:       sev,
		Confidence:     conf,
		Headline:       fmt.Sprintf("Regional risk spike: %s", c.Region),
		Body:           fmt.Sprintf("Risk for %s is %.1f, up %.1f%% from %.1f.", c.Region, c.CurrentScore, change, c.PreviousScore),
		DriverEventIDs: mustJSON(c.DriverEventIDs),
		CooldownKey:    CooldownKey(types.EventTypeRegionalRiskSpike, c.Region, day),
		Fingerprint: Fingerprint(
			string(types.EventTypeRegionalRiskSpike),
			c.Region,
			riskBand(c.CurrentScore),
			day.Format("2006-01-02"),
		),
		Classification: mustJSON(map[string]interface{}{
			"trend":      c.Trend,
			"change_pct": change,
		}),
		RawInput: mustJSON(c),
		Category: "regional_risk",
	}, true
}

func (g *Generator) runRegional(ctx context.Context, dbc dbctx.Context, summary *Summary) error {
	cands, err := g.source.RegionalRisk(ctx)
	if err != nil {
		return err
	}
	var evs []*types.NotificationEvent
	for _, c := range cands {
		if ev, ok := g.buildRegionalEvent(c); ok {
			evs = append(evs, ev)
		}
	}
	return g.persist(dbc, types.EventTypeRegionalRiskSpike, evs, summary)
}

// --- asset risk spikes ---

func (g *Generator) buildAssetEvent(c AssetRiskCandidate) (*types.NotificationEvent, bool) {
	if c.Asset == "" || c.Score < g.cfg.AssetScoreThreshold {
		return nil, false
	}

	day := g.now().UTC()
	sev := clampSeverity(1 + int(c.Score-g.cfg.AssetScoreThreshold)/8)
	conf := clampConfidence(0.5 + (c.Score-g.cfg.AssetScoreThreshold)/80)

	return &types.NotificationEvent{
		EventType:      types.EventTypeAssetRiskSpike,
		Region:         c.Region,
		Assets:         mustJSON([]string{c.Asset}),
		Severity:       sev,
		Confidence:     conf,
		Headline:       fmt.Sprintf("Asset risk spike: %s", c.Asset),
		Body:           fmt.Sprintf("Risk for %s is %.1f (%s).", c.Asset, c.Score, c.Direction),
		DriverEventIDs: mustJSON(c.DriverEventIDs),
		CooldownKey:    CooldownKey(types.EventTypeAssetRiskSpike, c.Asset, day),
		Fingerprint: Fingerprint(
			string(types.EventTypeAssetRiskSpike),
			c.Asset,
			riskBand(c.Score),
			day.Format("2006-01-02"),
		),
		Classification: mustJSON(map[string]interface{}{
			"direction": c.Direction,
		}),
		RawInput: mustJSON(c),
		Category: "asset_risk",
	}, true
}

func (g *Generator) runAsset(ctx context.Context, dbc dbctx.Context, summary *Summary) error {
	cands, err := g.source.AssetRisk(ctx)
	if err != nil {
		return err
	}
	var evs []*types.NotificationEvent
	for _, c := range cands {
		if ev, ok := g.buildAssetEvent(c); ok {
			evs = append(evs, ev)
		}
	}
	return g.persist(dbc, types.EventTypeAssetRiskSpike, evs, summary)
}

// --- high-impact single events ---

func (g *Generator) buildHighImpactEvent(c HighImpactCandidate) (*types.NotificationEvent, bool) {
	if c.EventID == "" || c.Severity < g.cfg.MinSourceSeverity {
		return nil, false
	}

	day := g.now().UTC()
	sev := clampSeverity(c.Severity)
	conf := clampConfidence(0.5 + 0.1*float64(sev))

	return &types.NotificationEvent{
		EventType:      types.EventTypeHighImpactEvent,
		Region:         c.Region,
		Severity:       sev,
		Confidence:     conf,
		Headline:       fmt.Sprintf("High-impact event in %s", c.Region),
		Body:           c.AISummary,
		DriverEventIDs: mustJSON([]string{c.EventID}),
		CooldownKey:    CooldownKey(types.EventTypeHighImpactEvent, c.EventID, day),
		// One source event is one fact; the fingerprint carries no date so
		// it can never re-alert.
		Fingerprint: Fingerprint(
			string(types.EventTypeHighImpactEvent),
			c.EventID,
		),
		Classification: mustJSON(map[string]interface{}{
			"source_url": c.SourceURL,
		}),
		RawInput: mustJSON(c),
		Category: c.Category,
	}, true
}

func (g *Generator) runHighImpact(ctx context.Context, dbc dbctx.Context, summary *Summary) error {
	cands, err := g.source.HighImpactEvents(ctx)
	if err != nil {
		return err
	}
	var evs []*types.NotificationEvent
	for _, c := range cands {
		if ev, ok := g.buildHighImpactEvent(c); ok {
			evs = append(evs, ev)
		}
	}
	return g.persist(dbc, types.EventTypeHighImpactEvent, evs, summary)
}

// --- quantitative metric spikes ---

func (g *Generator) buildMetricEvent(c MetricCandidate) (*types.NotificationEvent, bool, string) {
	change := pctChange(c.Current, c.Previous)
	if c.Metric == "" || change < g.cfg.MetricChangePctThreshold {
		return nil, false, ""
	}

	day := g.now().UTC()
	sev := clampSeverity(1 + int(change/15))
	conf := clampConfidence(0.4 + change/100)
	band := riskBand(change)

	scope := c.Metric
	if c.Region != "" {
		scope = c.Metric + ":" + c.Region
	}

	return &types.NotificationEvent{
		EventType:   types.EventTypeMetricSpike,
		Region:      c.Region,
		Severity:    sev,
		Confidence:  conf,
		Headline:    fmt.Sprintf("Unusual move in %s", c.Metric),
		Body:        fmt.Sprintf("%s moved %.1f%% to %.2f %s.", c.Metric, change, c.Current, c.Unit),
		CooldownKey: CooldownKey(types.EventTypeMetricSpike, scope, day),
		Fingerprint: Fingerprint(
			string(types.EventTypeMetricSpike),
			scope,
			band,
			day.Format("2006-01-02"),
		),
		Classification: mustJSON(map[string]interface{}{
			"change_pct": change,
			"band":       band,
		}),
		RawInput: mustJSON(c),
		Category: "market_data",
	}, true, band
}

func (g *Generator) runMetric(ctx context.Context, dbc dbctx.Context, summary *Summary) error {
	cands, err := g.source.MetricSpikes(ctx)
	if err != nil {
		return err
	}
	var evs []*types.NotificationEvent
	for _, c := range cands {
		ev, ok, band := g.buildMetricEvent(c)
		if !ok {
			continue
		}
		summary.Metrics["band:"+c.Metric] = band
		evs = append(evs, ev)
	}
	return g.persist(dbc, types.EventTypeMetricSpike, evs, summary)
}
