package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "signbot/pkg/logx"
)

func startService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), time.Second)
		defer scancel()
		s.Stop(sctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestAddOnceFiresOnce(t *testing.T) {
	t.Parallel()
	s := startService(t)

	var n atomic.Int32
	if err := s.AddOnce("signin:once", time.Now().Add(20*time.Millisecond), Options{}, func(context.Context) error {
		n.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddOnce: %v", err)
	}
	waitFor(t, func() bool { return n.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if n.Load() != 1 {
		t.Fatalf("runs = %d, want 1", n.Load())
	}
	if s.Remove("signin:once") {
		t.Fatal("fired one-shot should no longer be registered")
	}
}

func TestSharedSlotSkipsOverlap(t *testing.T) {
	t.Parallel()
	s := startService(t)
	slot := &Slot{}

	release := make(chan struct{})
	var first, second atomic.Int32
	_ = s.AddOnce("a", time.Now(), Options{Slot: slot}, func(context.Context) error {
		first.Add(1)
		<-release
		return nil
	})
	waitFor(t, func() bool { return first.Load() == 1 })

	_ = s.AddOnce("b", time.Now(), Options{Slot: slot}, func(context.Context) error {
		second.Add(1)
		return nil
	})
	waitFor(t, func() bool { return s.Snapshot(slot).Skipped == 1 })
	if second.Load() != 0 {
		t.Fatal("overlapping job ran")
	}
	if snap := s.Snapshot(slot); snap.Running != "a" {
		t.Fatalf("running = %q, want a", snap.Running)
	}
	close(release)
	waitFor(t, func() bool { h, _ := slot.Holder(); return h == "" })
}

func TestRegistrationValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	job := func(context.Context) error { return nil }

	if err := s.AddCron("bad", "not cron", Options{}, job); err == nil {
		t.Fatal("expected cron parse error")
	}
	if err := s.AddInterval("tiny", time.Millisecond, Options{}, job); err == nil {
		t.Fatal("expected interval error")
	}
	if err := s.AddDaily("late", 24, 0, Options{}, job); err == nil {
		t.Fatal("expected daily time error")
	}
	if err := s.AddCron("", "@daily", Options{}, job); err == nil {
		t.Fatal("expected name error")
	}

	if err := s.AddDaily("signin:random:0", 9, 30, Options{}, job); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if err := s.AddInterval("signin:interval", 2*time.Hour, Options{}, job); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	if err := s.AddOnce("other", time.Now().Add(time.Hour), Options{}, job); err != nil {
		t.Fatalf("AddOnce: %v", err)
	}
	if got := len(s.Snapshot(nil).Schedules); got != 3 {
		t.Fatalf("schedules = %d, want 3", got)
	}
	if n := s.RemovePrefix("signin:"); n != 2 {
		t.Fatalf("RemovePrefix = %d, want 2", n)
	}
}

func TestStartRegistersPendingSchedules(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	if err := s.AddCron("every-minute", "* * * * *", Options{}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	snap := s.Snapshot(nil)
	if snap.Timezone != "UTC" || len(snap.Schedules) != 1 || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("snapshot = %+v", snap)
	}
}
