package feed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/netwatch/netbus"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
browser:
  nav_timeout: 10s
targets:
  - url: https://example.org/explore
    patterns:
      - pattern: api/v1/items
    collector:
      max_items: 200
    sync:
      identity_key: id
  - id: search
    url: https://example.org/search
    patterns:
      - pattern: api/v1/search
        kind: request
    sync:
      identity_key: id
sinks:
  - type: stdout
  - type: webhook
    url: https://hooks.example.org/feed
`)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Browser.NavTimeout != 10*time.Second {
		t.Fatalf("nav_timeout: got %v", cfg.Browser.NavTimeout)
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("targets: got %d", len(cfg.Targets))
	}

	// Defaults fill missing target IDs and pattern kinds.
	if cfg.Targets[0].ID != "target_1" {
		t.Fatalf("id: got %q", cfg.Targets[0].ID)
	}
	if cfg.Targets[0].Patterns[0].Kind != netbus.KindResponse {
		t.Fatalf("kind default: got %q", cfg.Targets[0].Patterns[0].Kind)
	}
	if cfg.Targets[1].ID != "search" || cfg.Targets[1].Patterns[0].Kind != netbus.KindRequest {
		t.Fatalf("explicit values overridden: %+v", cfg.Targets[1])
	}
	if cfg.Targets[0].Collector.MaxItems != 200 {
		t.Fatalf("collector: %+v", cfg.Targets[0].Collector)
	}
	if cfg.Targets[0].Sync.IdentityKey != "id" {
		t.Fatalf("sync: %+v", cfg.Targets[0].Sync)
	}
}

func TestLoadConfigFile_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no targets", "sinks:\n  - type: stdout\n"},
		{"target without url", "targets:\n  - id: x\n    patterns:\n      - pattern: api\n"},
		{"target without patterns", "targets:\n  - url: https://example.org\n"},
		{"webhook without url", `
targets:
  - url: https://example.org
    patterns:
      - pattern: api
sinks:
  - type: webhook
`},
		{"unknown sink", `
targets:
  - url: https://example.org
    patterns:
      - pattern: api
sinks:
  - type: carrier-pigeon
`},
	}
	for _, tc := range cases {
		path := writeConfig(t, tc.yaml)
		if _, err := LoadConfigFile(path); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	if _, err := New(&Config{}, Options{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestNew_BuildsFromConfig(t *testing.T) {
	cfg := &Config{
		Targets: []TargetConfig{{
			URL:      "https://example.org",
			Patterns: []netbus.SubscribeSpec{{Pattern: "api"}},
		}},
		Sinks: []SinkConfig{{Type: "stdout"}},
	}
	f, err := New(cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if f.Registry() == nil {
		t.Fatal("feed must own a registry by default")
	}
}
