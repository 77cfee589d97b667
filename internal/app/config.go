package app

import (
	"strings"
	"time"

	"github.com/google/uuid"

	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/envutil"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

// Config is the worker's operational surface. Everything here is an
// operator control, not product behavior; product behavior lives in the
// plan catalog and user prefs.
type Config struct {
	PipelineEnabled bool
	UserAllowList   []uuid.UUID

	FanoutLookback  time.Duration
	FanoutBatchSize int

	SendBatchSize     int
	MaxSendsPerRun    int
	MaxSendAttempts   int
	StaleSendingAfter time.Duration
	RetryBackoffBase  time.Duration
	RetryBackoffMax   time.Duration

	DigestPeriod    types.DigestPeriod
	DigestTimezone  *time.Location
	DigestBatchSize int

	QuotaCacheTTL time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		PipelineEnabled: envutil.Bool("ALERTS_PIPELINE_ENABLED", true),
		UserAllowList:   parseAllowList(envutil.StringSlice("ALERTS_USER_ALLOWLIST"), log),

		FanoutLookback:  envutil.Duration("ALERTS_FANOUT_LOOKBACK", 24*time.Hour),
		FanoutBatchSize: envutil.Int("ALERTS_FANOUT_BATCH_SIZE", 200),

		SendBatchSize:     envutil.Int("ALERTS_SEND_BATCH_SIZE", 100),
		MaxSendsPerRun:    envutil.Int("ALERTS_MAX_SENDS_PER_RUN", 500),
		MaxSendAttempts:   envutil.Int("ALERTS_MAX_SEND_ATTEMPTS", 5),
		StaleSendingAfter: envutil.Duration("ALERTS_STALE_SENDING_AFTER", 15*time.Minute),
		RetryBackoffBase:  envutil.Duration("ALERTS_RETRY_BACKOFF_BASE", 2*time.Minute),
		RetryBackoffMax:   envutil.Duration("ALERTS_RETRY_BACKOFF_MAX", 2*time.Hour),

		DigestPeriod:    parseDigestPeriod(envutil.String("ALERTS_DIGEST_PERIOD", "daily"), log),
		DigestTimezone:  parseTimezone(envutil.String("ALERTS_DIGEST_TIMEZONE", "UTC"), log),
		DigestBatchSize: envutil.Int("ALERTS_DIGEST_BATCH_SIZE", 500),

		QuotaCacheTTL: envutil.Duration("ALERTS_QUOTA_CACHE_TTL", 5*time.Minute),
	}
	return cfg
}

func parseAllowList(raw []string, log *logger.Logger) []uuid.UUID {
	if len(raw) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			log.Warn("Ignoring malformed allow-list entry", "value", s)
			continue
		}
		out = append(out, id)
	}
	return out
}

func parseDigestPeriod(raw string, log *logger.Logger) types.DigestPeriod {
	switch types.DigestPeriod(strings.ToLower(strings.TrimSpace(raw))) {
	case types.DigestPeriodHourly:
		return types.DigestPeriodHourly
	case types.DigestPeriodDaily:
		return types.DigestPeriodDaily
	default:
		log.Warn("Unknown digest period, using daily", "value", raw)
		return types.DigestPeriodDaily
	}
}

func parseTimezone(raw string, log *logger.Logger) *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(raw))
	if err != nil {
		log.Warn("Unknown digest timezone, using UTC", "value", raw)
		return time.UTC
	}
	return loc
}
