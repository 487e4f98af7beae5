package feed

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/netwatch/collect"
	"github.com/hazyhaar/netwatch/netbus"
	"github.com/hazyhaar/netwatch/syncer"
)

// Config is the top-level feed configuration.
type Config struct {
	Browser BrowserConfig  `yaml:"browser"`
	Bus     BusConfig      `yaml:"bus"`
	Targets []TargetConfig `yaml:"targets"`
	Sinks   []SinkConfig   `yaml:"sinks"`
}

// BrowserConfig controls the Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Headful          bool          `yaml:"headful"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavTimeout       time.Duration `yaml:"nav_timeout"`
}

// BusConfig tunes the per-target network event bus.
type BusConfig struct {
	QueueCapacity int           `yaml:"queue_capacity"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// TargetConfig defines one page to collect from.
type TargetConfig struct {
	ID        string                 `yaml:"id"`
	URL       string                 `yaml:"url"`
	Patterns  []netbus.SubscribeSpec `yaml:"patterns"`
	Collector collect.Config         `yaml:"collector"`
	Sync      syncer.Config          `yaml:"sync"`

	// ApplyDeletions applies the configured deletion policy to the session's
	// final deletion candidates. Off by default: one session may still be a
	// partial view when it stops on a limit rather than on convergence.
	ApplyDeletions bool `yaml:"apply_deletions"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feed: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("feed: parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.ID == "" {
			t.ID = fmt.Sprintf("target_%d", i+1)
		}
		for j := range t.Patterns {
			if t.Patterns[j].Kind == "" {
				t.Patterns[j].Kind = netbus.KindResponse
			}
		}
	}
}

func (c *Config) validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("feed: no targets configured")
	}
	for _, t := range c.Targets {
		if t.URL == "" {
			return fmt.Errorf("feed: target %q has no url", t.ID)
		}
		if len(t.Patterns) == 0 {
			return fmt.Errorf("feed: target %q has no patterns", t.ID)
		}
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("feed: webhook sink has no url")
			}
		default:
			return fmt.Errorf("feed: unknown sink type %q", s.Type)
		}
	}
	return nil
}
