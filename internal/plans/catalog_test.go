package plans

import (
	"context"
	"testing"

	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

func TestLoadCatalogEmbeddedDefaults(t *testing.T) {
	c, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	for _, code := range []string{"free", "pro", "enterprise"} {
		if _, ok := c.Plan(code); !ok {
			t.Fatalf("embedded catalog missing plan %q", code)
		}
	}

	free, _ := c.Plan("free")
	if !free.DigestOnly {
		t.Fatal("free plan must be digest-only")
	}

	enterprise, _ := c.Plan("enterprise")
	q := Derive(enterprise)
	if !q.SMSIncluded {
		t.Fatal("enterprise plan must include sms")
	}
	if !q.AllowedTypes[types.EventTypeMetricSpike] {
		t.Fatal("enterprise plan must allow metric spikes")
	}
}

func TestParseCatalogRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: "plans: []"},
		{name: "missing_code", raw: "plans:\n  - digest_only: true\n"},
		{
			name: "duplicate_code",
			raw:  "plans:\n  - code: free\n  - code: free\n",
		},
		{name: "not_yaml", raw: "{{nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tc.raw)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestServiceQuotasFailClosedNotCached(t *testing.T) {
	c, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	cache := NewMemoryCache()
	svc := NewService(c, cache, 0, log)

	ctx := context.Background()
	q := svc.Quotas(ctx, "no-such-plan")
	if !q.DigestOnly {
		t.Fatal("unknown plan must fail closed")
	}
	if _, ok := cache.Get(ctx, "no-such-plan"); ok {
		t.Fatal("fail-closed quota must not be cached")
	}

	known := svc.Quotas(ctx, "pro")
	if known.DigestOnly {
		t.Fatal("pro plan is not digest-only")
	}
	if _, ok := cache.Get(ctx, "pro"); !ok {
		t.Fatal("derived quota for a known plan must be cached")
	}
}
