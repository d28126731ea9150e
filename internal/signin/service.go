package signin

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"signbot/internal/config"
	"signbot/internal/eventbus"
	rtsup "signbot/internal/runtime/supervisor"
	"signbot/internal/task/scheduler"
	"signbot/internal/transport"
	logx "signbot/pkg/logx"
)

// SchedulePrefix namespaces every trigger the service registers.
const SchedulePrefix = "signin:"

const onceDelay = 3 * time.Second

// Scheduler is the part of scheduler.Service the sign-in service drives.
type Scheduler interface {
	AddCron(name, spec string, opt scheduler.Options, job scheduler.Job) error
	AddInterval(name string, every time.Duration, opt scheduler.Options, job scheduler.Job) error
	AddDaily(name string, hour, minute int, opt scheduler.Options, job scheduler.Job) error
	AddOnce(name string, at time.Time, opt scheduler.Options, job scheduler.Job) error
	RemovePrefix(prefix string) int
	Snapshot(slot *scheduler.Slot) scheduler.Snapshot
}

type ServiceDeps struct {
	Deps
	Scheduler Scheduler
	// Rand draws the default daily times. Defaults to a time-seeded source.
	Rand *rand.Rand
}

// Service owns the sign-in triggers and the entry points into the orchestrator.
type Service struct {
	orch     *Orchestrator
	sched    Scheduler
	settings Settings
	sites    SiteSource
	state    *StateStore
	notifier Notifier
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	slot scheduler.Slot

	mu   sync.Mutex
	rng  *rand.Rand
	spec scheduler.ParsedSpec
	// daily holds the drawn default times; they are kept across Configure calls
	// that stay on the default schedule.
	daily []scheduler.ClockTime
	sup   *rtsup.Supervisor
}

func NewService(d ServiceDeps) *Service {
	orch := NewOrchestrator(d.Deps)
	rng := d.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{
		orch:     orch,
		sched:    d.Scheduler,
		settings: d.Settings,
		sites:    d.Sites,
		state:    d.State,
		notifier: d.Notifier,
		bus:      d.Bus,
		log:      orch.log,
		now:      orch.now,
		rng:      rng,
	}
}

func (s *Service) Orchestrator() *Orchestrator { return s.orch }

// Configure replaces every sign-in trigger according to cfg. On error no
// trigger is left registered and the operator is notified.
func (s *Service) Configure(ctx context.Context, cfg config.SignInConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.sched.RemovePrefix(SchedulePrefix)
	if removed > 0 {
		s.log.Debug("previous triggers removed", logx.Int("count", removed))
	}

	err := s.configureLocked(cfg)
	if err != nil {
		s.sched.RemovePrefix(SchedulePrefix)
		s.orch.SetWindow(nil)
		s.log.Error("sign-in schedule not applied", logx.Err(err))
		s.reportConfigError(ctx, err)
		return err
	}
	return nil
}

func (s *Service) configureLocked(cfg config.SignInConfig) error {
	cls, err := NewClassifier(cfg.RetryKeyword)
	if err != nil {
		return err
	}
	spec, err := scheduler.ParseSpec(cfg.Cron)
	if err != nil {
		return &ConfigError{Field: "cron", Value: cfg.Cron, Err: err}
	}
	s.orch.SetClassifier(cls)
	if spec.Kind == scheduler.SpecInterval {
		w := spec.Window
		s.orch.SetWindow(&w)
	} else {
		s.orch.SetWindow(nil)
	}

	opt := scheduler.Options{Slot: &s.slot}
	if cfg.Enabled {
		switch spec.Kind {
		case scheduler.SpecCron:
			if err := s.sched.AddCron(SchedulePrefix+"cron", spec.Cron, opt, s.scheduledRun); err != nil {
				return &ConfigError{Field: "cron", Value: cfg.Cron, Err: err}
			}
			s.log.Info("sign-in scheduled", logx.String("cron", spec.Cron))
		case scheduler.SpecInterval:
			if err := s.sched.AddInterval(SchedulePrefix+"interval", spec.Every, opt, s.scheduledRun); err != nil {
				return &ConfigError{Field: "cron", Value: cfg.Cron, Err: err}
			}
			s.log.Info("sign-in scheduled",
				logx.Duration("every", spec.Every), logx.String("window", spec.Window.String()))
		default:
			if s.spec.Kind != scheduler.SpecRandom || len(s.daily) == 0 {
				times, err := scheduler.RandomDailyTimes(s.rng, 2, 9, 23, 6*time.Hour, 12*time.Hour)
				if err != nil {
					return fmt.Errorf("draw daily times: %w", err)
				}
				s.daily = times
			}
			for i, t := range s.daily {
				if err := s.sched.AddDaily(fmt.Sprintf("%srandom:%d", SchedulePrefix, i), t.Hour, t.Minute, opt, s.scheduledRun); err != nil {
					return fmt.Errorf("register daily time %s: %w", t, err)
				}
			}
			s.log.Info("sign-in scheduled at random daily times", logx.Any("times", s.daily))
		}
	}
	s.spec = spec

	if cfg.OnlyOnce {
		at := s.now().Add(onceDelay)
		if err := s.sched.AddOnce(SchedulePrefix+"once", at, opt, s.scheduledRun); err != nil {
			return fmt.Errorf("register one-shot run: %w", err)
		}
		s.log.Info("one-shot sign-in run queued", logx.Time("at", at))
		if err := s.settings.UpdateSignIn(func(c *config.SignInConfig) { c.OnlyOnce = false }); err != nil {
			s.log.Warn("reset onlyonce failed", logx.Err(err))
		}
	}
	return nil
}

func (s *Service) reportConfigError(ctx context.Context, err error) {
	if s.notifier == nil {
		return
	}
	text := "执行周期配置错误"
	var ce *ConfigError
	if errors.As(err, &ce) {
		text = fmt.Sprintf("执行周期配置错误：%v", ce.Err)
	}
	if nerr := s.notifier.Notify(ctx, transport.Notification{Priority: 8, Title: summaryTitle, Text: text}); nerr != nil {
		s.log.Warn("config error notification failed", logx.Err(nerr))
	}
}

func (s *Service) scheduledRun(ctx context.Context) error {
	_, err := s.orch.Run(ctx, nil)
	return err
}

// RunNow starts a run for an explicit request and blocks until it finishes.
// It returns ErrRunInProgress when a scheduled or requested run is active.
func (s *Service) RunNow(ctx context.Context, req Requester) (RunOutcome, error) {
	if !s.slot.TryAcquire(SchedulePrefix + "command") {
		return RunOutcome{}, ErrRunInProgress
	}
	defer s.slot.Release()
	return s.orch.Run(ctx, req)
}

// SignInByDomain checks in the single site whose domain matches url and
// returns the reply line. The day record is not touched.
func (s *Service) SignInByDomain(ctx context.Context, url string) string {
	site, ok := s.sites.ByDomain(url)
	if !ok {
		return fmt.Sprintf("站点【%s】不存在", url)
	}
	return s.orch.Attempt(ctx, site).Line()
}

// History returns the newest display record of today or yesterday.
func (s *Service) History(ctx context.Context) (DisplayRecord, bool, error) {
	return s.state.History(ctx, s.now())
}

// Schedules reports the registered triggers and the active run, if any.
func (s *Service) Schedules() scheduler.Snapshot {
	snap := s.sched.Snapshot(&s.slot)
	snap.Schedules = slices.DeleteFunc(snap.Schedules, func(i scheduler.ScheduleInfo) bool {
		return !strings.HasPrefix(i.Name, SchedulePrefix)
	})
	return snap
}

// OnSiteDeleted prunes the allow-list after a registry removal and disables
// the service when nothing is left selected. An empty allow-list means every
// site and is left alone.
func (s *Service) OnSiteDeleted(ctx context.Context, ev eventbus.SiteDeleted) error {
	cur := s.settings.SignIn()
	if len(cur.SignSites) == 0 {
		return nil
	}
	next := []int{}
	if !ev.All {
		next = slices.DeleteFunc(slices.Clone(cur.SignSites), func(id int) bool { return id == ev.ID })
	}
	disable := len(next) == 0
	if len(next) == len(cur.SignSites) {
		return nil
	}

	err := s.settings.UpdateSignIn(func(c *config.SignInConfig) {
		c.SignSites = next
		if disable {
			c.Enabled = false
		}
	})
	if err != nil {
		return fmt.Errorf("persist pruned sites: %w", err)
	}
	s.log.Info("allow-list pruned after site removal",
		logx.Int("site", ev.ID), logx.Bool("all", ev.All), logx.Ints("sign_sites", next))
	if disable && cur.Enabled {
		s.log.Warn("no site left selected; sign-in disabled")
		return s.Configure(ctx, s.settings.SignIn())
	}
	return nil
}

// Start follows site removals on the bus until Stop.
func (s *Service) Start(ctx context.Context) {
	if s.bus == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	ch, unsubscribe := s.bus.Subscribe(16)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.Go("signin.site-events", func(ctx context.Context) error {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				d, isDel := ev.Data.(eventbus.SiteDeleted)
				if ev.Type != eventbus.TypeSiteDeleted || !isDel {
					continue
				}
				if err := s.OnSiteDeleted(ctx, d); err != nil {
					s.log.Warn("site removal not applied", logx.Err(err))
				}
			}
		}
	})
}

// Stop removes every trigger and stops the event loop.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	s.sched.RemovePrefix(SchedulePrefix)
	if sup != nil {
		return sup.Stop(ctx)
	}
	return nil
}
