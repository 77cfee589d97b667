package plans

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const catalogPathEnv = "PLAN_CATALOG_YAML"

//go:embed plans.yaml
var defaultCatalogFS embed.FS

type Catalog struct {
	Plans []Plan `yaml:"plans"`

	byCode map[string]Plan
}

// LoadCatalog reads the plan catalog, preferring the file named by
// PLAN_CATALOG_YAML and falling back to the embedded defaults.
func LoadCatalog() (*Catalog, error) {
	var raw []byte
	if path := strings.TrimSpace(os.Getenv(catalogPathEnv)); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("plan catalog %s: %w", path, err)
		}
		raw = b
	} else {
		b, err := defaultCatalogFS.ReadFile("plans.yaml")
		if err != nil {
			return nil, fmt.Errorf("embedded plan catalog: %w", err)
		}
		raw = b
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	if len(c.Plans) == 0 {
		return nil, fmt.Errorf("plan catalog has no plans")
	}
	c.byCode = make(map[string]Plan, len(c.Plans))
	for _, p := range c.Plans {
		if p.Code == "" {
			return nil, fmt.Errorf("plan catalog entry missing code")
		}
		if _, dup := c.byCode[p.Code]; dup {
			return nil, fmt.Errorf("plan catalog: duplicate code %q", p.Code)
		}
		c.byCode[p.Code] = p
	}
	return &c, nil
}

func (c *Catalog) Plan(code string) (Plan, bool) {
	p, ok := c.byCode[code]
	return p, ok
}
