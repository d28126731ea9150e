package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks fields that can be verified without touching the network.
// Schedule expressions are validated by the sign-in service when it is configured.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	durations := map[string]string{
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"notifier.retry_base":   cfg.Notifier.RetryBase,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
		"browser.timeout":       cfg.Browser.Timeout,
		"network.timeout":       cfg.Network.Timeout,
	}
	for path, raw := range durations {
		if _, err := ParseDuration(path, raw, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Browser.Driver)) {
	case "", "chromedp", "rod", "none":
	default:
		errs = append(errs, fmt.Errorf("browser.driver: unknown driver %q", cfg.Browser.Driver))
	}
	if cfg.Browser.MaxTabs < 0 {
		errs = append(errs, errors.New("browser.max_tabs must be >= 0"))
	}
	if cfg.SignIn.QueueCount < 0 {
		errs = append(errs, errors.New("signin.queue_cnt must be >= 0"))
	}
	if strings.TrimSpace(cfg.Sites.Path) == "" {
		errs = append(errs, errors.New("sites.path is required"))
	}
	return errors.Join(errs...)
}
