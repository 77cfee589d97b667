package generator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/dbctx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

type fakeSource struct {
	regional   []RegionalRiskCandidate
	assets     []AssetRiskCandidate
	highImpact []HighImpactCandidate
	metrics    []MetricCandidate
}

func (f *fakeSource) RegionalRisk(context.Context) ([]RegionalRiskCandidate, error) {
	return f.regional, nil
}
func (f *fakeSource) AssetRisk(context.Context) ([]AssetRiskCandidate, error) {
	return f.assets, nil
}
func (f *fakeSource) HighImpactEvents(context.Context) ([]HighImpactCandidate, error) {
	return f.highImpact, nil
}
func (f *fakeSource) MetricSpikes(context.Context) ([]MetricCandidate, error) {
	return f.metrics, nil
}

// fakeEventRepo keeps events in memory keyed by fingerprint, mirroring the
// conflict-on-fingerprint upsert.
type fakeEventRepo struct {
	byFingerprint map[string]*types.NotificationEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{byFingerprint: make(map[string]*types.NotificationEvent)}
}

func (f *fakeEventRepo) InsertIgnoreDuplicate(_ dbctx.Context, ev *types.NotificationEvent) (bool, error) {
	if _, ok := f.byFingerprint[ev.Fingerprint]; ok {
		ev.ID = uuid.Nil
		return false, nil
	}
	ev.ID = uuid.New()
	f.byFingerprint[ev.Fingerprint] = ev
	return true, nil
}

func (f *fakeEventRepo) GetByFingerprint(_ dbctx.Context, fp string) (*types.NotificationEvent, error) {
	return f.byFingerprint[fp], nil
}

func (f *fakeEventRepo) GetByIDs(dbctx.Context, []uuid.UUID) ([]*types.NotificationEvent, error) {
	return nil, nil
}

func (f *fakeEventRepo) ListPendingFanout(dbctx.Context, time.Time, int) ([]*types.NotificationEvent, error) {
	return nil, nil
}

func (f *fakeEventRepo) MarkFanoutCompleted(dbctx.Context, uuid.UUID) error { return nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func newTestGenerator(t *testing.T, src Source, repo *fakeEventRepo) *Generator {
	t.Helper()
	g := New(src, repo, DefaultConfig(), testLogger(t))
	g.now = func() time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	}
	return g
}

func TestRegionalSpikeTriggersOnThresholdAndChange(t *testing.T) {
	repo := newFakeEventRepo()
	src := &fakeSource{
		regional: []RegionalRiskCandidate{
			// Above the score threshold and up 25.8% from the prior value.
			{Region: "Europe", WindowDays: 7, CurrentScore: 78, PreviousScore: 62, Trend: "rising"},
			// Below threshold and a small move: no event.
			{Region: "Oceania", WindowDays: 7, CurrentScore: 40, PreviousScore: 38},
			// Below threshold but a 50% jump: change rule fires.
			{Region: "Andes", WindowDays: 7, CurrentScore: 60, PreviousScore: 40, Trend: "rising"},
		},
	}
	g := newTestGenerator(t, src, repo)

	summary, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Created != 2 {
		t.Fatalf("created = %d, want 2", summary.Created)
	}
	if got := summary.PerType[types.EventTypeRegionalRiskSpike].Created; got != 2 {
		t.Fatalf("regional created = %d, want 2", got)
	}

	var europe *types.NotificationEvent
	for _, ev := range repo.byFingerprint {
		if ev.Region == "Europe" {
			europe = ev
		}
	}
	if europe == nil {
		t.Fatal("expected a Europe event")
	}
	if europe.EventType != types.EventTypeRegionalRiskSpike {
		t.Fatalf("event type = %s", europe.EventType)
	}
	if europe.Severity < 1 || europe.Severity > 5 {
		t.Fatalf("severity out of range: %d", europe.Severity)
	}
	if europe.Confidence < 0 || europe.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", europe.Confidence)
	}
	if europe.CooldownKey != "regional_risk_spike:europe:2026-08-31" {
		t.Fatalf("cooldown key = %q", europe.CooldownKey)
	}
}

func TestGeneratorSecondRunReportsDuplicates(t *testing.T) {
	repo := newFakeEventRepo()
	src := &fakeSource{
		regional: []RegionalRiskCandidate{
			{Region: "Europe", CurrentScore: 78, PreviousScore: 62},
		},
		highImpact: []HighImpactCandidate{
			{EventID: "evt-1", Region: "Europe", Category: "conflict", Severity: 5, AISummary: "summary"},
		},
	}
	g := newTestGenerator(t, src, repo)

	first, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Created != 2 || first.SkippedDuplicates != 0 {
		t.Fatalf("first run created=%d skipped=%d", first.Created, first.SkippedDuplicates)
	}

	second, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Created != 0 {
		t.Fatalf("second run created = %d, want 0", second.Created)
	}
	if second.SkippedDuplicates != 2 {
		t.Fatalf("second run skipped duplicates = %d, want 2", second.SkippedDuplicates)
	}
}

func TestAssetSpikeThreshold(t *testing.T) {
	repo := newFakeEventRepo()
	src := &fakeSource{
		assets: []AssetRiskCandidate{
			{Asset: "Suez Canal", Region: "MENA", Score: 82, Direction: "up"},
			{Asset: "Panama Canal", Region: "LatAm", Score: 55, Direction: "up"},
		},
	}
	g := newTestGenerator(t, src, repo)

	summary, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Created != 1 {
		t.Fatalf("created = %d, want 1", summary.Created)
	}
	for _, ev := range repo.byFingerprint {
		assets := ev.AssetList()
		if len(assets) != 1 || assets[0] != "Suez Canal" {
			t.Fatalf("assets = %v", assets)
		}
	}
}

func TestHighImpactSeverityFloorAtSource(t *testing.T) {
	repo := newFakeEventRepo()
	src := &fakeSource{
		highImpact: []HighImpactCandidate{
			{EventID: "evt-major", Region: "Europe", Severity: 4, AISummary: "major"},
			{EventID: "evt-minor", Region: "Europe", Severity: 2, AISummary: "minor"},
		},
	}
	g := newTestGenerator(t, src, repo)

	summary, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Created != 1 {
		t.Fatalf("created = %d, want 1 (severity 2 below the source floor)", summary.Created)
	}
}

func TestMetricSpikeDiscardedBelowSeverityFloor(t *testing.T) {
	repo := newFakeEventRepo()
	src := &fakeSource{
		metrics: []MetricCandidate{
			// +25%: triggers but computes severity 2, below the metric floor
			// of 5, so the event is discarded rather than persisted.
			{Metric: "brent_crude", Current: 100, Previous: 80, Unit: "USD"},
			// +75%: severity 5, survives the floor.
			{Metric: "wheat_futures", Current: 140, Previous: 80, Unit: "USD"},
		},
	}
	g := newTestGenerator(t, src, repo)

	summary, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ts := summary.PerType[types.EventTypeMetricSpike]
	if ts.Created != 1 {
		t.Fatalf("metric created = %d, want 1", ts.Created)
	}
	if ts.Discarded != 1 {
		t.Fatalf("metric discarded = %d, want 1", ts.Discarded)
	}
	if summary.Metrics["band:brent_crude"] == "" {
		t.Fatal("expected a computed band metric even for discarded candidates")
	}
}
