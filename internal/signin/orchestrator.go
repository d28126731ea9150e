package signin

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"signbot/internal/config"
	"signbot/internal/eventbus"
	"signbot/internal/sites"
	"signbot/internal/task/scheduler"
	"signbot/internal/transport"
	logx "signbot/pkg/logx"
)

const dateLayout = "2006-01-02"

// Deps are the collaborators of an Orchestrator. Notifier, Metrics and Bus are optional.
type Deps struct {
	Sites     SiteSource
	Attempter Attempter
	State     *StateStore
	Notifier  Notifier
	Settings  Settings
	Metrics   Recorder
	Bus       eventbus.Bus
	Log       logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator is the body of one sign-in run. It is not reentrant; callers
// serialize runs (Service does so with a scheduler slot).
type Orchestrator struct {
	sites     SiteSource
	attempter Attempter
	state     *StateStore
	notifier  Notifier
	settings  Settings
	metrics   Recorder
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	classifier atomic.Pointer[Classifier]
	window     atomic.Pointer[scheduler.HourWindow]
}

func NewOrchestrator(d Deps) *Orchestrator {
	o := &Orchestrator{
		sites:     d.Sites,
		attempter: d.Attempter,
		state:     d.State,
		notifier:  d.Notifier,
		settings:  d.Settings,
		metrics:   d.Metrics,
		bus:       d.Bus,
		log:       d.Log,
		now:       d.Now,
	}
	if o.metrics == nil {
		o.metrics = nopRecorder{}
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	o.log = o.log.With(logx.String("comp", "signin"))
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// SetClassifier replaces the classifier used by later runs. With none set a
// run compiles the configured retry keyword itself.
func (o *Orchestrator) SetClassifier(c *Classifier) { o.classifier.Store(c) }

// SetWindow restricts runs to the hours of w. nil removes the restriction.
func (o *Orchestrator) SetWindow(w *scheduler.HourWindow) { o.window.Store(w) }

// Run executes one batch. req is nil for scheduled runs. Site failures are
// part of the outcome; the returned error is reserved for run-level problems.
func (o *Orchestrator) Run(ctx context.Context, req Requester) (RunOutcome, error) {
	start := time.Now()
	now := o.now()
	log := o.log.With(logx.String("run", uuid.NewString()))
	if w := o.window.Load(); w != nil && !w.Contains(now.Hour()) {
		log.Info("outside hour window; run skipped",
			logx.Int("hour", now.Hour()), logx.String("window", w.String()))
		o.metrics.ObserveRun("skipped", time.Since(start))
		return RunOutcome{Date: now.Format(dateLayout), Skipped: SkipOutsideWindow}, nil
	}

	if req != nil {
		log.Info("run requested by command")
		req.Ack(ctx, ackStarted)
	}

	out, err := o.run(ctx, now, log)
	if err != nil {
		log.Error("sign-in run failed", logx.Err(err))
		o.metrics.ObserveRun("error", time.Since(start))
		if req != nil {
			req.Ack(ctx, ackFailed)
		}
		return out, err
	}

	result := "ok"
	if out.Skipped != SkipNone {
		result = "skipped"
	}
	o.metrics.ObserveRun(result, time.Since(start))
	if req != nil {
		req.Ack(ctx, ackFinished)
	}
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: eventbus.TypeSignInFinished, Data: out})
	}
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, now time.Time, log logx.Logger) (RunOutcome, error) {
	cfg := o.settings.SignIn()
	out := RunOutcome{Date: now.Format(dateLayout)}

	cls := o.classifier.Load()
	if cls == nil {
		var err error
		if cls, err = NewClassifier(cfg.RetryKeyword); err != nil {
			return out, err
		}
	}

	if err := o.state.DeleteDay(ctx, now.AddDate(0, 0, -1)); err != nil {
		log.Warn("purge yesterday record failed", logx.Err(err))
	}
	if err := o.state.DeleteDisplay(ctx, now.AddDate(0, 0, -2)); err != nil {
		log.Warn("purge display record failed", logx.Err(err))
	}

	rec, found, err := o.state.LoadDay(ctx, now)
	if err != nil {
		return out, fmt.Errorf("load day record: %w", err)
	}

	candidates := o.candidates(cfg.SignSites)
	allow := cfg.SignSites
	batch := candidates
	if !found || cfg.Clean {
		log.Info("no record for today; signing all selected sites",
			logx.String("date", out.Date), logx.Bool("clean", cfg.Clean))
		allow = siteIDs(candidates)
	} else {
		batch = dueSites(candidates, rec)
		if len(batch) == 0 {
			log.Info("already signed today; nothing due", logx.String("date", out.Date))
			out.Skipped = SkipNothingDue
			out.Total = len(allow)
			return out, nil
		}
		log.Info("signing retry and unsigned sites", logx.String("date", out.Date), logx.Int("due", len(batch)))
	}
	if len(batch) == 0 {
		log.Info("no site to sign")
		out.Skipped = SkipNoSites
		return out, nil
	}

	results := runPool(ctx, batch, cfg.Workers(), o.attempter, log)
	sum := Summarize(cls, results)
	sum.Date = out.Date
	sum.Total = len(allow)
	sum.Attempted = len(batch)
	for i, r := range results {
		o.metrics.ObserveAttempt(sum.Categories[i].String(), r.Elapsed)
	}

	entries := make([]StatusEntry, 0, len(results))
	for _, r := range results {
		entries = append(entries, StatusEntry{Site: r.SiteName, Status: r.Message})
	}
	if err := o.state.SaveDisplay(ctx, now, entries); err != nil {
		log.Warn("save display record failed", logx.Err(err))
	}

	if cls.HasPattern() {
		sum.Pending = len(sum.RetrySiteIDs)
	} else {
		sum.RetrySiteIDs = slices.Clone(allow)
	}
	log.Debug("retry on next run", logx.Ints("sites", sum.RetrySiteIDs))

	if err := o.state.SaveDay(ctx, now, DayRecord{Signed: slices.Clone(allow), Retry: sum.RetrySiteIDs}); err != nil {
		return sum, fmt.Errorf("save day record: %w", err)
	}

	if cfg.Notify && o.notifier != nil {
		n := transport.Notification{Priority: 5, Title: summaryTitle, Text: SummaryText(sum)}
		if err := o.notifier.Notify(ctx, n); err != nil {
			log.Warn("summary notification failed", logx.Err(err))
		}
	}

	if cfg.Clean || !slices.Equal(cfg.SignSites, allow) {
		err := o.settings.UpdateSignIn(func(s *config.SignInConfig) {
			s.SignSites = slices.Clone(allow)
			s.Clean = false
		})
		if err != nil {
			log.Warn("persist sign-in settings failed", logx.Err(err))
		}
	}
	log.Info("sign-in run done",
		logx.Int("attempted", sum.Attempted), logx.Int("total", sum.Total), logx.Int("pending", sum.Pending))
	return sum, nil
}

// Attempt performs a single check-in with the pool's failure handling,
// without reading or writing the day record.
func (o *Orchestrator) Attempt(ctx context.Context, site sites.Site) AttemptResult {
	return attemptOne(ctx, o.attempter, site, o.log)
}

// candidates are the non-public registry sites, narrowed to allow when it is non-empty.
func (o *Orchestrator) candidates(allow []int) []sites.Site {
	var out []sites.Site
	for _, s := range o.sites.List() {
		if s.Public {
			continue
		}
		if len(allow) > 0 && !slices.Contains(allow, s.ID) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func dueSites(candidates []sites.Site, rec DayRecord) []sites.Site {
	var out []sites.Site
	for _, s := range candidates {
		if !slices.Contains(rec.Signed, s.ID) || slices.Contains(rec.Retry, s.ID) {
			out = append(out, s)
		}
	}
	return out
}

func siteIDs(list []sites.Site) []int {
	out := make([]int, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	return out
}
