package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signbot/internal/config"
	"signbot/internal/eventbus"
	"signbot/internal/transport"
	logx "signbot/pkg/logx"
)

type sent struct {
	to   transport.ChatTarget
	text string
}

type flakySender struct {
	mu    sync.Mutex
	fails int
	calls int
	out   []sent
}

func (f *flakySender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return transport.MessageRef{}, errors.New("429 too many requests")
	}
	f.out = append(f.out, sent{to: to, text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.out)}, nil
}

func (f *flakySender) snapshot() ([]sent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.out...), f.calls
}

func fastConfig() Config {
	return Config{RatePerSec: 1000, RetryBase: time.Millisecond, Default: transport.ChatTarget{ChatID: 42}}
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestNotifyUsesDefaultTarget(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	snd := &flakySender{}
	s := New(fastConfig(), snd, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), transport.Notification{Title: "站点自动签到", Text: "ok"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitEvent(t, events, EventSent)

	out, _ := snd.snapshot()
	if len(out) != 1 || out[0].to.ChatID != 42 || out[0].text != "站点自动签到\nok" {
		t.Fatalf("sent=%+v", out)
	}
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	snd := &flakySender{fails: 2}
	s := New(fastConfig(), snd, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Notify(context.Background(), transport.Notification{Target: transport.ChatTarget{ChatID: 7}, Text: "x"})
	ev := waitEvent(t, events, EventSent)
	if got := ev.Data.(NotificationEvent).Attempts; got != 3 {
		t.Fatalf("attempts=%d", got)
	}
}

func TestNotifyGivesUp(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	snd := &flakySender{fails: 100}
	cfg := fastConfig()
	cfg.RetryMax = 1
	s := New(cfg, snd, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Notify(context.Background(), transport.Notification{Text: "x"})
	ev := waitEvent(t, events, EventFailed)
	if ev.Data.(NotificationEvent).Error == "" {
		t.Fatalf("missing error in %+v", ev.Data)
	}
	if _, calls := snd.snapshot(); calls != 2 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestNotifyRejections(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &flakySender{}, nil, logx.Nop())
	if err := s.Notify(context.Background(), transport.Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("before start: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Notify(context.Background(), transport.Notification{Text: "x"}); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("no target: %v", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()

	snd := &flakySender{}
	s := New(fastConfig(), snd, nil, logx.Nop())
	s.Start(context.Background())
	for i := 0; i < 5; i++ {
		if err := s.Notify(context.Background(), transport.Notification{Text: "x"}); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if out, _ := snd.snapshot(); len(out) != 5 {
		t.Fatalf("sent %d of 5", len(out))
	}
	if err := s.Notify(context.Background(), transport.Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	c := config.Default()
	c.Telegram.OwnerUserIDs = []int64{11, 12}
	got, err := FromConfig(c)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if got.Default.ChatID != 11 || got.RetryBase != time.Second {
		t.Fatalf("cfg=%+v", got)
	}

	c.Telegram.NotifyChatID, c.Telegram.NotifyThreadID = -100, 3
	c.Notifier.RetryBase = "bogus"
	if _, err := FromConfig(c); err == nil {
		t.Fatalf("bad retry_base accepted")
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{10, retryMaxDelay},
	}
	for _, tc := range cases {
		if got := retryDelay(time.Second, tc.attempt); got != tc.want {
			t.Fatalf("retryDelay(%d)=%v want %v", tc.attempt, got, tc.want)
		}
	}
}
