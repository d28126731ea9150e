package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"signbot/internal/signin"
	"signbot/internal/task/scheduler"
	logx "signbot/pkg/logx"
)

const (
	msgBusy      = "站点签到任务正在执行，请稍后再试！"
	msgNoHistory = "暂无签到记录"
)

// SignIn is the part of the sign-in service the commands drive.
type SignIn interface {
	RunNow(ctx context.Context, req signin.Requester) (signin.RunOutcome, error)
	SignInByDomain(ctx context.Context, url string) string
	History(ctx context.Context) (signin.DisplayRecord, bool, error)
	Schedules() scheduler.Snapshot
}

type SiteDeleter interface {
	Delete(id int) error
}

// RegisterSignIn adds the sign-in commands to r.
func RegisterSignIn(r *Router, svc SignIn, sites SiteDeleter) {
	h := &signinHandlers{svc: svc, sites: sites, now: time.Now}
	r.Register(Command{Name: "site_signin", Description: "立即执行站点签到", Handle: h.run})
	r.Register(Command{Name: "signin_domain", Usage: "<url>", Description: "签到单个站点", Handle: h.domain})
	r.Register(Command{Name: "signin_history", Description: "最近一次签到记录", Handle: h.history})
	r.Register(Command{Name: "signin_status", Description: "签到计划", Handle: h.status})
	r.Register(Command{Name: "site_delete", Usage: "<id>", Description: "删除站点", Handle: h.deleteSite})
}

type signinHandlers struct {
	svc   SignIn
	sites SiteDeleter
	now   func() time.Time
}

// chatRequester acknowledges run progress in the chat the command came from.
type chatRequester struct{ req *Request }

func (c chatRequester) Ack(ctx context.Context, text string) {
	if err := c.req.Reply(ctx, text); err != nil {
		c.req.Log.Warn("ack failed", logx.Err(err))
	}
}

func (h *signinHandlers) run(_ context.Context, req *Request) error {
	req.Background("commands.site_signin", func(ctx context.Context) {
		out, err := h.svc.RunNow(ctx, chatRequester{req: req})
		switch {
		case errors.Is(err, signin.ErrRunInProgress):
			if err := req.Reply(ctx, msgBusy); err != nil {
				req.Log.Warn("busy reply failed", logx.Err(err))
			}
		case err != nil:
			req.Log.Warn("command run failed", logx.Err(err))
		case out.Skipped != signin.SkipNone:
			req.Log.Info("command run skipped", logx.String("reason", string(out.Skipped)))
		}
	})
	return nil
}

func (h *signinHandlers) domain(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "用法：/signin_domain <url>")
	}
	return req.Reply(ctx, h.svc.SignInByDomain(ctx, req.Args[0]))
}

func (h *signinHandlers) history(ctx context.Context, req *Request) error {
	rec, ok, err := h.svc.History(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return req.Reply(ctx, msgNoHistory)
	}
	return req.Reply(ctx, FormatHistory(rec))
}

// FormatHistory renders a display record as one line per site.
func FormatHistory(rec signin.DisplayRecord) string {
	var b strings.Builder
	b.WriteString(rec.Day + " 签到记录")
	for _, e := range rec.Entries {
		fmt.Fprintf(&b, "\n【%s】%s", e.Site, e.Status)
	}
	return b.String()
}

func (h *signinHandlers) status(ctx context.Context, req *Request) error {
	return req.Reply(ctx, FormatSchedules(h.svc.Schedules(), h.now()))
}

// FormatSchedules lists the sign-in triggers with their next fire times.
func FormatSchedules(snap scheduler.Snapshot, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "签到计划（%s）", snap.Timezone)
	if len(snap.Schedules) == 0 {
		b.WriteString("\n未启用")
	}
	for _, s := range snap.Schedules {
		fmt.Fprintf(&b, "\n%s %s", s.Name, s.Spec)
		if !s.Next.IsZero() {
			fmt.Fprintf(&b, "，下次 %s（%s）", s.Next.Format("01-02 15:04"), humanize.RelTime(s.Next, now, "ago", "from now"))
		}
	}
	if snap.Running != "" {
		fmt.Fprintf(&b, "\n正在执行：%s", snap.Running)
	}
	fmt.Fprintf(&b, "\n累计执行 %s 次，跳过 %s 次，失败 %s 次",
		humanize.Comma(int64(snap.Runs)), humanize.Comma(int64(snap.Skipped)), humanize.Comma(int64(snap.Failed)))
	return b.String()
}

func (h *signinHandlers) deleteSite(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "用法：/site_delete <id>")
	}
	id, err := strconv.Atoi(req.Args[0])
	if err != nil || id <= 0 {
		return req.Reply(ctx, "站点编号无效："+req.Args[0])
	}
	if err := h.sites.Delete(id); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("站点 %d 已删除", id))
}
