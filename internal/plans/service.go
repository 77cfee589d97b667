package plans

import (
	"context"
	"time"

	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

// Service answers "what does this plan allow today" with a TTL cache in
// front of the catalog. Unknown or unloadable plans fall back to the
// fail-closed quota and are never cached as such.
type Service struct {
	catalog *Catalog
	cache   Cache
	ttl     time.Duration
	log     *logger.Logger
}

func NewService(catalog *Catalog, cache Cache, ttl time.Duration, baseLog *logger.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		catalog: catalog,
		cache:   cache,
		ttl:     ttl,
		log:     baseLog.With("service", "PlanService"),
	}
}

func (s *Service) Quotas(ctx context.Context, planCode string) Quota {
	if q, ok := s.cache.Get(ctx, planCode); ok {
		return q
	}
	p, ok := s.catalog.Plan(planCode)
	if !ok {
		s.log.Warn("Unknown plan code, using fail-closed quota", "plan", planCode)
		return FailClosed(planCode)
	}
	q := Derive(p)
	s.cache.Set(ctx, planCode, q, s.ttl)
	return q
}
