package collect

import (
	"fmt"
	"time"
)

// ScrollMode selects the step action the loop performs between ticks.
type ScrollMode string

const (
	// ScrollDefault scrolls the window to the bottom of the page.
	ScrollDefault ScrollMode = "default"
	// ScrollSelector clicks a "load more" element.
	ScrollSelector ScrollMode = "selector"
	// ScrollPager clicks a specific pager control.
	ScrollPager ScrollMode = "pager"
)

// Config is the collector configuration of one target.
type Config struct {
	// MaxItems stops the session once this many items are collected.
	// Zero means no item limit.
	MaxItems int `yaml:"max_items"`

	// MaxDuration stops the session after this much elapsed time.
	// Default: 2m.
	MaxDuration time.Duration `yaml:"max_duration"`

	// MaxIdleRounds stops the session after this many consecutive ticks
	// without new items. Circuit breaker against endless scrolling of a page
	// that stopped returning traffic. Default: 3.
	MaxIdleRounds int `yaml:"max_idle_rounds"`

	// AutoScroll enables the step action between ticks. Default: true.
	AutoScroll *bool `yaml:"auto_scroll"`

	// ScrollPause is the settle time after each step. Default: 1s.
	ScrollPause time.Duration `yaml:"scroll_pause"`

	// ScrollMode selects the step action. Default: ScrollDefault.
	ScrollMode ScrollMode `yaml:"scroll_mode"`

	// ScrollSelector is the "load more" element for ScrollSelector mode.
	ScrollSelector string `yaml:"scroll_selector"`

	// PagerSelector is the pager control for ScrollPager mode.
	PagerSelector string `yaml:"pager_selector"`

	// WakeTimeout bounds each wait for the bus wake signal; a timed-out wait
	// counts as one idle round. Default: 3s.
	WakeTimeout time.Duration `yaml:"wake_timeout"`
}

func (c *Config) applyDefaults() {
	if c.MaxDuration <= 0 {
		c.MaxDuration = 2 * time.Minute
	}
	if c.MaxIdleRounds <= 0 {
		c.MaxIdleRounds = 3
	}
	if c.AutoScroll == nil {
		on := true
		c.AutoScroll = &on
	}
	if c.ScrollPause <= 0 {
		c.ScrollPause = time.Second
	}
	if c.ScrollMode == "" {
		c.ScrollMode = ScrollDefault
	}
	if c.WakeTimeout <= 0 {
		c.WakeTimeout = 3 * time.Second
	}
}

func (c *Config) validate() error {
	switch c.ScrollMode {
	case ScrollDefault:
	case ScrollSelector:
		if c.ScrollSelector == "" {
			return fmt.Errorf("collect: scroll_mode %q requires scroll_selector", c.ScrollMode)
		}
	case ScrollPager:
		if c.PagerSelector == "" {
			return fmt.Errorf("collect: scroll_mode %q requires pager_selector", c.ScrollMode)
		}
	default:
		return fmt.Errorf("collect: unknown scroll_mode %q", c.ScrollMode)
	}
	return nil
}

func (c *Config) autoScroll() bool {
	return c.AutoScroll == nil || *c.AutoScroll
}
