package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "signbot/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		ctx:    context.Background(),
		defs:   map[string]*scheduleDef{},
		once:   map[string]*onceDef{},
	}
}

// Start begins triggering. Jobs receive ctx (or a child of it).
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.loc = loadLocation(s.cfg.Timezone, s.log)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()

	s.tmu.Lock()
	for name, o := range s.once {
		s.armOnceLocked(name, o)
	}
	s.tmu.Unlock()

	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits (bounded by ctx) for running cron jobs.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.tmu.Lock()
	for _, o := range s.once {
		if o.timer != nil {
			o.timer.Stop()
			o.timer = nil
		}
	}
	s.tmu.Unlock()
	s.log.Info("service stopped")
}

// Apply changes the timezone and re-registers every schedule when it differs.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || !changed {
		return
	}
	// Running jobs finish on the old cron instance.
	s.c.Stop()
	s.loc = loadLocation(cfg.Timezone, s.log)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("timezone changed; schedules re-registered", logx.String("tz", s.loc.String()))
}

// Location returns the zone triggers are computed in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return loadLocation(s.cfg.Timezone, logx.Nop())
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
