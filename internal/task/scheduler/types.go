package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "signbot/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ; empty means time.Local
}

type Job func(ctx context.Context) error

// Slot is a single execution permit shared by a group of schedules.
type Slot struct {
	mu     sync.Mutex
	holder string
	since  time.Time
}

// TryAcquire takes the slot for name. It reports false when another job holds it.
func (s *Slot) TryAcquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder != "" {
		return false
	}
	s.holder = name
	s.since = time.Now()
	return true
}

func (s *Slot) Release() {
	s.mu.Lock()
	s.holder = ""
	s.since = time.Time{}
	s.mu.Unlock()
}

// Holder returns the running job name, or "" when the slot is free.
func (s *Slot) Holder() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder, s.since
}

type Options struct {
	// Slot, when set, serializes this schedule with every other schedule using it.
	Slot *Slot
	// Timeout bounds a single run. Zero means no timeout.
	Timeout time.Duration
}

type scheduleDef struct {
	name     string
	spec     string // cron expression or "@every <d>"
	schedule cron.Schedule
	job      Job
	opt      Options
	entryID  cron.EntryID
}

type onceDef struct {
	at    time.Time
	job   Job
	opt   Options
	timer *time.Timer
	ver   uint64
}

type Service struct {
	log    logx.Logger
	parser cron.Parser

	mu   sync.Mutex
	cfg  Config
	loc  *time.Location
	c    *cron.Cron
	ctx  context.Context
	defs map[string]*scheduleDef

	tmu     sync.Mutex
	once    map[string]*onceDef
	onceSeq uint64

	runs    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Timezone  string
	Running   string
	Schedules []ScheduleInfo
	Runs      uint64
	Skipped   uint64
	Failed    uint64
}
