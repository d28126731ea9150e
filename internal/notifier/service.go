package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"signbot/internal/config"
	"signbot/internal/eventbus"
	rtsup "signbot/internal/runtime/supervisor"
	"signbot/internal/transport"
	logx "signbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoTarget  = errors.New("notifier: no target chat")
)

// Bus event types.
const (
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDropped = "notifier.dropped"
)

const (
	sendTimeout   = 10 * time.Second
	retryMaxDelay = 30 * time.Second
)

// Config controls the pipeline. Zero values take the defaults noted on
// config.NotifierConfig.
type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
	RetryMax   int
	RetryBase  time.Duration
	// Default receives notifications that carry no target.
	Default transport.ChatTarget
}

// FromConfig derives the pipeline settings from the file config.
func FromConfig(c *config.Config) (Config, error) {
	base, err := config.ParseDuration("notifier.retry_base", c.Notifier.RetryBase, time.Second)
	if err != nil {
		return Config{}, err
	}
	out := Config{
		Workers:    c.Notifier.Workers,
		QueueSize:  c.Notifier.QueueSize,
		RatePerSec: c.Notifier.RatePerSec,
		RetryMax:   c.Notifier.RetryMax,
		RetryBase:  base,
		Default:    transport.ChatTarget{ChatID: c.Telegram.NotifyChatID, ThreadID: c.Telegram.NotifyThreadID},
	}
	if out.Default.IsZero() && len(c.Telegram.OwnerUserIDs) > 0 {
		out.Default = transport.ChatTarget{ChatID: c.Telegram.OwnerUserIDs[0]}
	}
	return out, nil
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax == 0 {
		c.RetryMax = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	return c
}

// NotificationEvent is the payload of the notifier bus events.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Title    string    `json:"title,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// Service is safe for concurrent use.
type Service struct {
	sender transport.Sender
	bus    eventbus.Bus
	log    logx.Logger

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	queue     chan transport.Notification
	accepting bool
	sendWG    sync.WaitGroup
	sup       *rtsup.Supervisor
}

func New(cfg Config, sender transport.Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, bus: bus, log: log.With(logx.String("comp", "notifier"))}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the retry, rate and default-target settings. Worker count and
// queue size take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan transport.Notification, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))

	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.Go0(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) {
			s.workerLoop(c, q)
		})
	}
}

// Stop closes intake and drains what is queued until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	q, sup := s.queue, s.sup
	s.accepting = false
	s.mu.Unlock()

	s.sendWG.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.log.Warn("notifier stopped before the queue drained", logx.Err(err), logx.Int("left", len(q)))
	}

	s.mu.Lock()
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
}

// Notify enqueues n. It fails fast when the queue is full or stopped.
func (s *Service) Notify(ctx context.Context, n transport.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	if n.Target.IsZero() {
		n.Target = s.cfg.Default
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if n.Target.IsZero() {
		return ErrNoTarget
	}
	select {
	case q <- n:
		return nil
	default:
		s.publish(EventDropped, n, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan transport.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, n)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, n transport.Notification) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	text := n.Render()
	if text == "" {
		return
	}
	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := s.sender.SendText(callCtx, n.Target, text, n.Options)
		cancel()
		if err == nil {
			s.publish(EventSent, n, attempt, nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg.RetryBase, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("notification dropped after retries", logx.String("title", n.Title), logx.Err(lastErr))
	s.publish(EventFailed, n, attempts, lastErr)
}

// retryDelay doubles base per attempt, capped at retryMaxDelay.
func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}

func (s *Service) publish(typ string, n transport.Notification, attempts int, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{ChatID: n.Target.ChatID, ThreadID: n.Target.ThreadID, Title: n.Title, Attempts: attempts, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}
