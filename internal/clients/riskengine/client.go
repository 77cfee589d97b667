package riskengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/riskwatch/riskwatch-backend/internal/alerts/generator"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/envutil"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/httpx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

// Client reads scored alert candidates from the risk engine. It implements
// generator.Source; candidates are read-only facts and never written back.
type Client interface {
	generator.Source
}

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:    strings.TrimSpace(os.Getenv("RISK_ENGINE_BASE_URL")),
		APIKey:     strings.TrimSpace(os.Getenv("RISK_ENGINE_API_KEY")),
		Timeout:    time.Duration(envutil.Int("RISK_ENGINE_TIMEOUT_SECONDS", 30)) * time.Second,
		MaxRetries: envutil.Int("RISK_ENGINE_MAX_RETRIES", 2),
	}
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("missing RISK_ENGINE_BASE_URL")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &client{
		log:        log.With("client", "RiskEngineClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

type regionalWire struct {
	Region         string   `json:"region"`
	WindowDays     int      `json:"window_days"`
	CurrentScore   float64  `json:"current_score"`
	PreviousScore  float64  `json:"previous_score"`
	Trend          string   `json:"trend"`
	DriverEventIDs []string `json:"driver_event_ids"`
}

type assetWire struct {
	Asset          string   `json:"asset"`
	Region         string   `json:"region"`
	Score          float64  `json:"score"`
	Direction      string   `json:"direction"`
	DriverEventIDs []string `json:"driver_event_ids"`
}

type highImpactWire struct {
	EventID   string `json:"event_id"`
	Region    string `json:"region"`
	Category  string `json:"category"`
	Severity  int    `json:"severity"`
	AISummary string `json:"ai_summary"`
	SourceURL string `json:"source_url"`
}

type metricWire struct {
	Metric   string  `json:"metric"`
	Region   string  `json:"region"`
	Current  float64 `json:"current"`
	Previous float64 `json:"previous"`
	Unit     string  `json:"unit"`
}

func (c *client) RegionalRisk(ctx context.Context) ([]generator.RegionalRiskCandidate, error) {
	var wire []regionalWire
	if err := c.get(ctx, "/v1/candidates/regional", &wire); err != nil {
		return nil, err
	}
	out := make([]generator.RegionalRiskCandidate, 0, len(wire))
	for _, w := range wire {
		out = append(out, generator.RegionalRiskCandidate{
			Region:         w.Region,
			WindowDays:     w.WindowDays,
			CurrentScore:   w.CurrentScore,
			PreviousScore:  w.PreviousScore,
			Trend:          w.Trend,
			DriverEventIDs: w.DriverEventIDs,
		})
	}
	return out, nil
}

func (c *client) AssetRisk(ctx context.Context) ([]generator.AssetRiskCandidate, error) {
	var wire []assetWire
	if err := c.get(ctx, "/v1/candidates/assets", &wire); err != nil {
		return nil, err
	}
	out := make([]generator.AssetRiskCandidate, 0, len(wire))
	for _, w := range wire {
		out = append(out, generator.AssetRiskCandidate{
			Asset:          w.Asset,
			Region:         w.Region,
			Score:          w.Score,
			Direction:      w.Direction,
			DriverEventIDs: w.DriverEventIDs,
		})
	}
	return out, nil
}

func (c *client) HighImpactEvents(ctx context.Context) ([]generator.HighImpactCandidate, error) {
	var wire []highImpactWire
	if err := c.get(ctx, "/v1/candidates/high-impact", &wire); err != nil {
		return nil, err
	}
	out := make([]generator.HighImpactCandidate, 0, len(wire))
	for _, w := range wire {
		out = append(out, generator.HighImpactCandidate{
			EventID:   w.EventID,
			Region:    w.Region,
			Category:  w.Category,
			Severity:  w.Severity,
			AISummary: w.AISummary,
			SourceURL: w.SourceURL,
		})
	}
	return out, nil
}

func (c *client) MetricSpikes(ctx context.Context) ([]generator.MetricCandidate, error) {
	var wire []metricWire
	if err := c.get(ctx, "/v1/candidates/metrics", &wire); err != nil {
		return nil, err
	}
	out := make([]generator.MetricCandidate, 0, len(wire))
	for _, w := range wire {
		out = append(out, generator.MetricCandidate{
			Metric:   w.Metric,
			Region:   w.Region,
			Current:  w.Current,
			Previous: w.Previous,
			Unit:     w.Unit,
		})
	}
	return out, nil
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "riskengine: <nil error>"
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 2000 {
		msg = msg[:2000] + "..."
	}
	return fmt.Sprintf("riskengine http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) get(ctx context.Context, path string, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, err := c.getOnce(ctx, path, out)
		if err == nil {
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt == c.cfg.MaxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("Risk engine request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}

	return errors.New("unreachable retry loop")
}

func (c *client) getOnce(ctx context.Context, path string, out any) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("riskengine: decode %s: %w", path, err)
		}
		return resp, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	return resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
}
