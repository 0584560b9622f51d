package binding

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load читает bindings.yaml
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("bindings: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Tables))
	for i := range c.Tables {
		t := &c.Tables[i]
		t.Table = strings.TrimSpace(t.Table)
		t.Entity = strings.TrimSpace(t.Entity)
		if t.Table == "" || t.Entity == "" {
			return nil, fmt.Errorf("bindings: entry %d needs both table and entity", i)
		}
		if _, dup := seen[t.Table]; dup {
			return nil, fmt.Errorf("bindings: duplicate table %q", t.Table)
		}
		seen[t.Table] = struct{}{}
		// sink по умолчанию: in-memory
		if strings.TrimSpace(t.Sink) == "" {
			t.Sink = "memory"
		}
	}
	return &c, nil
}
