package signin

import (
	"context"
	"strings"
	"sync"
	"time"

	"signbot/internal/config"
	"signbot/internal/sites"
	"signbot/internal/storage"
	"signbot/internal/task/scheduler"
	"signbot/internal/transport"
)

type fakeSettings struct {
	mu     sync.Mutex
	cfg    config.SignInConfig
	writes int
}

func newSettings(cfg config.SignInConfig) *fakeSettings { return &fakeSettings{cfg: cfg} }

func (f *fakeSettings) SignIn() config.SignInConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Clone()
}

func (f *fakeSettings) UpdateSignIn(fn func(s *config.SignInConfig)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.cfg)
	f.writes++
	return nil
}

type fakeSites []sites.Site

func (f fakeSites) List() []sites.Site { return append([]sites.Site(nil), f...) }

func (f fakeSites) ByDomain(target string) (sites.Site, bool) {
	for _, s := range f {
		if sites.Domain(s.URL) == sites.Domain(target) {
			return s, true
		}
	}
	return sites.Site{}, false
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []transport.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n transport.Notification) error {
	f.mu.Lock()
	f.sent = append(f.sent, n)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) all() []transport.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Notification(nil), f.sent...)
}

type ackRecorder struct {
	mu   sync.Mutex
	acks []string
}

func (a *ackRecorder) Ack(_ context.Context, text string) {
	a.mu.Lock()
	a.acks = append(a.acks, text)
	a.mu.Unlock()
}

// scriptedAttempter replies per site name and records every attempted name.
type scriptedAttempter struct {
	mu      sync.Mutex
	replies map[string]string
	calls   []string
}

func (s *scriptedAttempter) Attempt(_ context.Context, site sites.Site) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, site.Name)
	return s.replies[site.Name], nil
}

func (s *scriptedAttempter) set(name, reply string) {
	s.mu.Lock()
	s.replies[name] = reply
	s.mu.Unlock()
}

func (s *scriptedAttempter) takeCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.calls
	s.calls = nil
	return out
}

type fakeScheduler struct {
	mu    sync.Mutex
	names map[string]string // name -> spec description
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{names: map[string]string{}} }

func (f *fakeScheduler) add(name, spec string) error {
	f.mu.Lock()
	f.names[name] = spec
	f.mu.Unlock()
	return nil
}

func (f *fakeScheduler) AddCron(name, spec string, _ scheduler.Options, _ scheduler.Job) error {
	return f.add(name, spec)
}

func (f *fakeScheduler) AddInterval(name string, every time.Duration, _ scheduler.Options, _ scheduler.Job) error {
	return f.add(name, "@every "+every.String())
}

func (f *fakeScheduler) AddDaily(name string, hour, minute int, _ scheduler.Options, _ scheduler.Job) error {
	return f.add(name, scheduler.ClockTime{Hour: hour, Minute: minute}.String())
}

func (f *fakeScheduler) AddOnce(name string, at time.Time, _ scheduler.Options, _ scheduler.Job) error {
	return f.add(name, "once")
}

func (f *fakeScheduler) RemovePrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for name := range f.names {
		if strings.HasPrefix(name, prefix) {
			delete(f.names, name)
			n++
		}
	}
	return n
}

func (f *fakeScheduler) Snapshot(slot *scheduler.Slot) scheduler.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	var snap scheduler.Snapshot
	for name, spec := range f.names {
		snap.Schedules = append(snap.Schedules, scheduler.ScheduleInfo{Name: name, Spec: spec})
	}
	if slot != nil {
		snap.Running, _ = slot.Holder()
	}
	return snap
}

func (f *fakeScheduler) registered() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.names))
	for k, v := range f.names {
		out[k] = v
	}
	return out
}

type fixture struct {
	settings *fakeSettings
	attempt  *scriptedAttempter
	notifier *fakeNotifier
	kv       storage.Store
	state    *StateStore
	now      time.Time
	orch     *Orchestrator
}

var testSites = fakeSites{
	{ID: 1, Name: "alpha", URL: "https://alpha.example"},
	{ID: 2, Name: "beta", URL: "https://www.beta.example:8443"},
	{ID: 3, Name: "gamma", URL: "https://gamma.example", Public: true},
	{ID: 4, Name: "delta", URL: "https://delta.example"},
}

func newFixture(cfg config.SignInConfig) *fixture {
	f := &fixture{
		settings: newSettings(cfg),
		attempt: &scriptedAttempter{replies: map[string]string{
			"alpha": "签到成功",
			"beta":  "已签到",
			"delta": "登录成功",
		}},
		notifier: &fakeNotifier{},
		kv:       storage.NewMemory(),
		now:      time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
	}
	f.state = NewStateStore(f.kv)
	f.orch = NewOrchestrator(Deps{
		Sites:     testSites,
		Attempter: f.attempt,
		State:     f.state,
		Notifier:  f.notifier,
		Settings:  f.settings,
		Now:       func() time.Time { return f.now },
	})
	return f
}

func baseConfig() config.SignInConfig {
	return config.Default().SignIn
}
