package render

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	logx "signbot/pkg/logx"
)

type chromedpRenderer struct {
	cfg Config
	sem *semaphore.Weighted
	log logx.Logger
}

// Render starts a fresh browser per page so cookies never leak between sites.
func (r *chromedpRenderer) Render(ctx context.Context, p Page) (string, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer r.sem.Release(1)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !r.cfg.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	if p.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.UserAgent))
	}
	if p.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(p.Proxy))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancel()

	actions := []chromedp.Action{network.Enable()}
	if p.Cookie != "" {
		actions = append(actions, network.SetExtraHTTPHeaders(network.Headers{"Cookie": p.Cookie}))
	}
	var html string
	actions = append(actions,
		chromedp.Navigate(p.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return "", fmt.Errorf("chromedp render %s: %w", p.URL, err)
	}
	r.log.Debug("page rendered", logx.String("url", p.URL), logx.Int("bytes", len(html)))
	return html, nil
}
