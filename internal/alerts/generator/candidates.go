package generator

import "context"

// Candidate inputs are read-only facts handed over by the risk-scoring
// engine. The generator never mutates or persists them.

type RegionalRiskCandidate struct {
	Region         string
	WindowDays     int
	CurrentScore   float64
	PreviousScore  float64
	Trend          string
	DriverEventIDs []string
}

type AssetRiskCandidate struct {
	Asset          string
	Region         string
	Score          float64
	Direction      string
	DriverEventIDs []string
}

type HighImpactCandidate struct {
	EventID   string
	Region    string
	Category  string
	Severity  int
	AISummary string
	SourceURL string
}

type MetricCandidate struct {
	Metric   string
	Region   string
	Current  float64
	Previous float64
	Unit     string
}

// Source is the upstream risk engine's read surface.
type Source interface {
	RegionalRisk(ctx context.Context) ([]RegionalRiskCandidate, error)
	AssetRisk(ctx context.Context) ([]AssetRiskCandidate, error)
	HighImpactEvents(ctx context.Context) ([]HighImpactCandidate, error)
	MetricSpikes(ctx context.Context) ([]MetricCandidate, error)
}
