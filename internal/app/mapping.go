package app

import (
	"fmt"
	"strings"
	"time"

	"signbot/internal/config"
	"signbot/internal/httpapi"
	"signbot/internal/siteadapter"
	"signbot/internal/siteadapter/render"
	"signbot/internal/storage"
	"signbot/internal/task/scheduler"
	logx "signbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled && cfg.Telegram.LogChatID != 0,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	out := storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		URL:         strings.TrimSpace(sc.URL),
		KeyPrefix:   sc.KeyPrefix,
	}
	switch driver {
	case "sqlite", "sqlite3":
		if out.Path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
	case "redis", "postgres", "postgresql", "pg":
		if out.URL == "" {
			return storage.Config{}, fmt.Errorf("storage.url is required when storage.driver=%s", driver)
		}
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone}
}

func mapRenderConfig(cfg *config.Config) (render.Config, error) {
	timeout, err := config.ParseDuration("browser.timeout", cfg.Browser.Timeout, 0)
	if err != nil {
		return render.Config{}, err
	}
	return render.Config{
		Driver:   cfg.Browser.Driver,
		ExecPath: cfg.Browser.ExecPath,
		Headful:  cfg.Browser.Headful,
		Timeout:  timeout,
		MaxTabs:  cfg.Browser.MaxTabs,
	}, nil
}

func mapGenericConfig(cfg *config.Config) (siteadapter.GenericConfig, error) {
	timeout, err := config.ParseDuration("network.timeout", cfg.Network.Timeout, 0)
	if err != nil {
		return siteadapter.GenericConfig{}, err
	}
	return siteadapter.GenericConfig{Proxy: cfg.Network.Proxy, Timeout: timeout}, nil
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	return httpapi.Config{Addr: cfg.HTTP.Addr, Token: cfg.HTTP.Token, Pprof: cfg.HTTP.Pprof}
}

func mapPollTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
}
