package siteadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"signbot/internal/siteadapter/render"
	"signbot/internal/sites"
	logx "signbot/pkg/logx"
)

// Replies of the generic adapter. The classifier matches on these literally.
const (
	MsgSignSuccess      = "签到成功"
	MsgCookieExpired    = "签到失败，Cookie已失效！"
	MsgCloudflare       = "签到失败，站点被Cloudflare防护，请打开站点浏览器仿真！"
	MsgUnreachable      = "签到失败，无法打开网站！"
	MsgRenderCloudflare = "无法通过Cloudflare！"
	MsgRenderCookie     = "仿真登录失败，Cookie已失效！"
	MsgRenderSuccess    = "仿真签到成功"
)

const (
	checkinPath      = "attendance.php"
	defaultTimeout   = 30 * time.Second
	maxBodyBytes     = 4 << 20
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

func msgStatus(code int) string { return fmt.Sprintf("签到失败，状态码：%d！", code) }

func msgInternal(err error) string { return fmt.Sprintf("签到失败：%v！", err) }

type GenericConfig struct {
	// Proxy is used for sites flagged with Proxy.
	Proxy string
	// Timeout bounds one HTTP request. Default 30s.
	Timeout time.Duration
	// UserAgent is sent for sites without their own. Defaults to a desktop Chrome UA.
	UserAgent string
}

// Generic is the fallback adapter: it opens the site's attendance page with
// the stored cookie and reads the login state from the returned HTML.
type Generic struct {
	direct   *http.Client
	proxied  *http.Client
	proxy    string
	ua       string
	renderer render.Renderer
	log      logx.Logger
}

// NewGeneric builds the fallback adapter. r may be nil, in which case sites
// flagged for rendering get an error reply.
func NewGeneric(cfg GenericConfig, r render.Renderer, log logx.Logger) (*Generic, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	g := &Generic{
		direct:   newClient(cfg.Timeout, nil),
		proxy:    strings.TrimSpace(cfg.Proxy),
		ua:       cfg.UserAgent,
		renderer: r,
		log:      log.With(logx.String("comp", "siteadapter.generic")),
	}
	if g.proxy != "" {
		u, err := url.Parse(g.proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy %q", cfg.Proxy)
		}
		g.proxied = newClient(cfg.Timeout, http.ProxyURL(u))
	}
	return g, nil
}

func newClient(timeout time.Duration, proxy func(*http.Request) (*url.URL, error)) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = proxy
	return &http.Client{Transport: tr, Timeout: timeout}
}

// Attempt never returns an error: every failure is a reply string.
func (g *Generic) Attempt(ctx context.Context, site sites.Site) (string, error) {
	log := g.log.With(logx.String("site", site.Name))
	if site.URL == "" || site.Cookie == "" {
		log.Warn("site url or cookie not configured; check-in skipped")
		return "", nil
	}
	target, err := CheckinURL(site.URL)
	if err != nil {
		log.Warn("check-in failed", logx.Err(err))
		return msgInternal(err), nil
	}
	log.Info("site check-in started", logx.String("url", target), logx.Bool("render", site.Render))
	if site.Render {
		return g.attemptRendered(ctx, site, target, log), nil
	}
	return g.attemptHTTP(ctx, site, target, log), nil
}

// CheckinURL joins the attendance page onto base unless base already points at it.
func CheckinURL(base string) (string, error) {
	if strings.Contains(base, checkinPath) {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid site url %q", base)
	}
	return u.ResolveReference(&url.URL{Path: checkinPath}).String(), nil
}

func (g *Generic) attemptRendered(ctx context.Context, site sites.Site, target string, log logx.Logger) string {
	if g.renderer == nil {
		log.Warn("browser rendering requested but disabled")
		return msgInternal(errors.New("浏览器仿真未启用"))
	}
	html, err := g.renderer.Render(ctx, render.Page{
		URL:       target,
		Cookie:    site.Cookie,
		UserAgent: g.userAgent(site),
		Proxy:     g.proxyFor(site, log),
	})
	if err != nil {
		log.Warn("render failed", logx.Err(err))
		return msgInternal(err)
	}
	st := Inspect(html)
	if !st.LoggedIn {
		if st.Challenge {
			return MsgRenderCloudflare
		}
		return MsgRenderCookie
	}
	log.Info("rendered check-in ok")
	return MsgRenderSuccess
}

type page struct {
	status int
	body   string
}

type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func (g *Generic) attemptHTTP(ctx context.Context, site sites.Site, target string, log logx.Logger) string {
	res, err := g.fetch(ctx, site, target, log)
	if (err != nil || res.status >= http.StatusBadRequest) && target != site.URL {
		log.Info("check-in page unavailable; trying site home", logx.String("url", site.URL))
		res, err = g.fetch(ctx, site, site.URL, log)
	}

	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		log.Warn("check-in failed", logx.Err(err))
		return msgInternal(reqErr.err)
	case err != nil:
		log.Warn("check-in failed; site unreachable", logx.Err(err))
		return MsgUnreachable
	}

	switch res.status {
	case http.StatusOK, http.StatusInternalServerError, http.StatusForbidden:
		st := Inspect(res.body)
		if st.LoggedIn {
			log.Info("check-in ok")
			return MsgSignSuccess
		}
		var msg string
		switch {
		case st.Challenge:
			msg = MsgCloudflare
		case res.status == http.StatusOK:
			msg = MsgCookieExpired
		default:
			msg = msgStatus(res.status)
		}
		log.Warn("check-in failed", logx.Int("status", res.status), logx.String("reply", msg))
		return msg
	default:
		log.Warn("check-in failed", logx.Int("status", res.status))
		return msgStatus(res.status)
	}
}

func (g *Generic) fetch(ctx context.Context, site sites.Site, target string, log logx.Logger) (page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return page{}, &requestError{err: err}
	}
	req.Header.Set("Cookie", site.Cookie)
	req.Header.Set("User-Agent", g.userAgent(site))
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	client := g.direct
	if g.proxyFor(site, log) != "" {
		client = g.proxied
	}
	resp, err := client.Do(req)
	if err != nil {
		return page{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return page{}, fmt.Errorf("read %s: %w", target, err)
	}
	return page{status: resp.StatusCode, body: string(b)}, nil
}

func (g *Generic) userAgent(site sites.Site) string {
	if site.UserAgent != "" {
		return site.UserAgent
	}
	return g.ua
}

func (g *Generic) proxyFor(site sites.Site, log logx.Logger) string {
	if !site.Proxy {
		return ""
	}
	if g.proxy == "" {
		log.Warn("site wants a proxy but network.proxy is empty; going direct")
	}
	return g.proxy
}
