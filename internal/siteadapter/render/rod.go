package render

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/sync/semaphore"

	logx "signbot/pkg/logx"
)

type rodRenderer struct {
	cfg Config
	sem *semaphore.Weighted
	log logx.Logger
}

func (r *rodRenderer) Render(ctx context.Context, p Page) (string, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer r.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	l := launcher.New().Context(ctx).
		Headless(!r.cfg.Headful).
		Set("disable-blink-features", "AutomationControlled")
	if r.cfg.ExecPath != "" {
		l = l.Bin(r.cfg.ExecPath)
	}
	if p.Proxy != "" {
		l = l.Proxy(p.Proxy)
	}
	wsURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("rod launch: %w", err)
	}
	defer l.Cleanup()
	defer l.Kill()

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return "", fmt.Errorf("rod connect: %w", err)
	}
	defer func() { _ = b.Close() }()

	page, err := stealth.Page(b)
	if err != nil {
		return "", fmt.Errorf("rod page: %w", err)
	}
	if p.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: p.UserAgent}); err != nil {
			return "", fmt.Errorf("rod user agent: %w", err)
		}
	}
	if p.Cookie != "" {
		if _, err := page.SetExtraHeaders([]string{"Cookie", p.Cookie}); err != nil {
			return "", fmt.Errorf("rod headers: %w", err)
		}
	}

	if err := page.Navigate(p.URL); err != nil {
		return "", fmt.Errorf("rod navigate %s: %w", p.URL, err)
	}
	if err := page.WaitLoad(); err != nil {
		r.log.Warn("wait load failed", logx.String("url", p.URL), logx.Err(err))
	}
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("rod html %s: %w", p.URL, err)
	}
	return html, nil
}
