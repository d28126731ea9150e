// Package render loads a page in a real browser and returns its final HTML.
// It backs the browser-emulation path of the generic site adapter.
package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	logx "signbot/pkg/logx"
)

// Page describes one navigation.
type Page struct {
	URL       string
	Cookie    string // raw Cookie header value
	UserAgent string
	Proxy     string // proxy server URL, empty for direct
}

type Renderer interface {
	Render(ctx context.Context, p Page) (html string, err error)
}

type Config struct {
	Driver   string // "chromedp" (default), "rod" or "none"
	ExecPath string
	Headful  bool
	Timeout  time.Duration // per page; default 60s
	MaxTabs  int           // concurrently running browsers; default 2
}

const (
	defaultTimeout = 60 * time.Second
	defaultMaxTabs = 2
)

// New builds the configured renderer. Driver "none" returns a nil Renderer.
func New(cfg Config, log logx.Logger) (Renderer, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTabs <= 0 {
		cfg.MaxTabs = defaultMaxTabs
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	sem := semaphore.NewWeighted(int64(cfg.MaxTabs))

	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "chromedp":
		return &chromedpRenderer{cfg: cfg, sem: sem, log: log.With(logx.String("comp", "render.chromedp"))}, nil
	case "rod":
		return &rodRenderer{cfg: cfg, sem: sem, log: log.With(logx.String("comp", "render.rod"))}, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("render: unknown driver %q", cfg.Driver)
	}
}
