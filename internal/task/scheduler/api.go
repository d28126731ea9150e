package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "signbot/pkg/logx"
)

// AddCron registers (or replaces) name with a 5-field cron expression or a
// descriptor such as "@daily".
func (s *Service) AddCron(name, spec string, opt Options, job Job) error {
	if err := validate(name, job); err != nil {
		return err
	}
	sched, err := s.parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return fmt.Errorf("cron %q: %w", spec, err)
	}
	s.upsert(&scheduleDef{name: name, spec: spec, schedule: sched, job: job, opt: opt})
	return nil
}

// AddInterval registers (or replaces) name to fire every d, first after d.
func (s *Service) AddInterval(name string, every time.Duration, opt Options, job Job) error {
	if err := validate(name, job); err != nil {
		return err
	}
	if every < time.Second {
		return fmt.Errorf("interval %s: must be at least 1s", every)
	}
	spec := "@every " + every.String()
	s.upsert(&scheduleDef{name: name, spec: spec, schedule: cron.Every(every), job: job, opt: opt})
	return nil
}

// AddDaily registers (or replaces) name to fire every day at hour:minute in the scheduler zone.
func (s *Service) AddDaily(name string, hour, minute int, opt Options, job Job) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid daily time %02d:%02d", hour, minute)
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", minute, hour), opt, job)
}

// AddOnce registers (or replaces) a one-shot trigger. Past times fire immediately.
func (s *Service) AddOnce(name string, at time.Time, opt Options, job Job) error {
	if err := validate(name, job); err != nil {
		return err
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	s.mu.Lock()
	started := s.c != nil
	s.removeDefLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.removeOnceLocked(name)
	s.onceSeq++
	o := &onceDef{at: at, job: job, opt: opt, ver: s.onceSeq}
	s.once[name] = o
	if started {
		s.armOnceLocked(name, o)
	}
	s.log.Debug("one-shot registered", logx.String("name", name), logx.Time("at", at))
	return nil
}

// Remove unschedules name. It reports whether anything was registered.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeDefLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	removed = s.removeOnceLocked(name) || removed
	s.tmu.Unlock()
	return removed
}

// RemovePrefix unschedules every name starting with prefix and returns the count.
func (s *Service) RemovePrefix(prefix string) int {
	var names []string
	s.mu.Lock()
	for name := range s.defs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	s.mu.Unlock()
	s.tmu.Lock()
	for name := range s.once {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	s.tmu.Unlock()

	n := 0
	for _, name := range names {
		if s.Remove(name) {
			n++
		}
	}
	return n
}

func validate(name string, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	return nil
}

func (s *Service) upsert(d *scheduleDef) {
	s.mu.Lock()
	s.removeDefLocked(d.name)
	s.defs[d.name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	s.removeOnceLocked(d.name)
	s.tmu.Unlock()
	s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("spec", d.spec))
}

func (s *Service) registerLocked(d *scheduleDef) {
	name, opt, job := d.name, d.opt, d.job
	d.entryID = s.c.Schedule(d.schedule, cron.FuncJob(func() { s.run(name, opt, job) }))
}

func (s *Service) removeDefLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) removeOnceLocked(name string) bool {
	o, ok := s.once[name]
	if !ok {
		return false
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	delete(s.once, name)
	return true
}

func (s *Service) armOnceLocked(name string, o *onceDef) {
	ver := o.ver
	o.timer = time.AfterFunc(max(time.Until(o.at), 0), func() {
		s.tmu.Lock()
		cur, ok := s.once[name]
		if !ok || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.once, name)
		s.tmu.Unlock()
		s.run(name, cur.opt, cur.job)
	})
}

func (s *Service) run(name string, opt Options, job Job) {
	log := s.log.With(logx.String("schedule", name))
	if opt.Slot != nil {
		if !opt.Slot.TryAcquire(name) {
			holder, since := opt.Slot.Holder()
			s.skipped.Add(1)
			log.Info("trigger skipped; previous run still active",
				logx.String("running", holder), logx.Duration("running_for", time.Since(since)))
			return
		}
		defer opt.Slot.Release()
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.Timeout)
		defer cancel()
	}

	s.runs.Add(1)
	start := time.Now()
	err := safeRun(ctx, job, log)
	if err != nil {
		s.failed.Add(1)
		log.Warn("scheduled job failed", logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	log.Debug("scheduled job done", logx.Duration("took", time.Since(start)))
}

func safeRun(ctx context.Context, job Job, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduled job panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}
