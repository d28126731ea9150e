package signin

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"signbot/internal/sites"
	logx "signbot/pkg/logx"
)

// Attempter performs one site check-in and returns the human-readable reply.
// A returned error is folded into a failure reply by the pool.
type Attempter interface {
	Attempt(ctx context.Context, site sites.Site) (string, error)
}

// runPool attempts every site with at most min(len(batch), workers) running
// at once. Results keep batch order. Errors and panics never leave a worker.
func runPool(ctx context.Context, batch []sites.Site, workers int, a Attempter, log logx.Logger) []AttemptResult {
	out := make([]AttemptResult, len(batch))
	if len(batch) == 0 {
		return out
	}
	n := max(min(len(batch), workers), 1)

	var g errgroup.Group
	g.SetLimit(n)
	for i, site := range batch {
		g.Go(func() error {
			out[i] = attemptOne(ctx, a, site, log)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func attemptOne(ctx context.Context, a Attempter, site sites.Site, log logx.Logger) (res AttemptResult) {
	res = AttemptResult{SiteID: site.ID, SiteName: site.Name}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("site attempt panicked",
				logx.String("site", site.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res.Message = fmt.Sprintf("签到失败：%v", r)
		}
		res.Elapsed = time.Since(start)
	}()

	msg, err := a.Attempt(ctx, site)
	if err != nil {
		log.Warn("site attempt failed", logx.String("site", site.Name), logx.Err(err))
		res.Message = fmt.Sprintf("签到失败：%v", err)
		return res
	}
	res.Message = msg
	return res
}

// AttemptFunc adapts a function to Attempter.
type AttemptFunc func(ctx context.Context, site sites.Site) (string, error)

func (f AttemptFunc) Attempt(ctx context.Context, site sites.Site) (string, error) {
	return f(ctx, site)
}
