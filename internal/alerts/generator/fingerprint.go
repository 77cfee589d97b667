package generator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	types "github.com/riskwatch/riskwatch-backend/internal/domain"
)

// CooldownKey is the coarse re-alert key: one alert per (type, scope, UTC
// day) regardless of how the underlying signal wobbles within the day.
func CooldownKey(t types.EventType, scope string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", t, strings.ToLower(scope), day.UTC().Format("2006-01-02"))
}

// Fingerprint hashes the identity parts into the fine-grained uniqueness key
// the upsert conflicts on.
func Fingerprint(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

// riskBand buckets a 0-100 score into its decade so that same-day jitter
// within a band maps to the same fingerprint.
func riskBand(score float64) string {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	lo := int(score/10) * 10
	if lo == 100 {
		lo = 90
	}
	return fmt.Sprintf("%d-%d", lo, lo+9)
}

func pctChange(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

func clampSeverity(s int) int {
	if s < 1 {
		return 1
	}
	if s > 5 {
		return 5
	}
	return s
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
