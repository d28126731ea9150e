package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"signbot/internal/eventbus"
	"signbot/internal/notifier"
)

func TestObserve(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRun("ok", 3*time.Second)
	m.ObserveRun("skipped", 0)
	m.ObserveRun("ok", time.Second)
	m.ObserveAttempt("sign_success", 200*time.Millisecond)
	m.ObserveAttempt("failed", time.Second)
	m.ObserveAttempt("failed", time.Second)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok runs=%v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("skipped runs=%v", got)
	}
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("failed")); got != 2 {
		t.Fatalf("failed attempts=%v", got)
	}
	if testutil.ToFloat64(m.lastRun) == 0 {
		t.Fatalf("last run gauge not set")
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveAttempt("already_signed", time.Second)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`signbot_signin_attempts_total{category="already_signed"} 1`,
		"signbot_signin_attempt_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output misses %q", want)
		}
	}
}

func TestConsumeNotifierEvents(t *testing.T) {
	t.Parallel()

	m := New()
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Consume(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.notifications.WithLabelValues("sent")) < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("sent event not counted")
		}
		bus.Publish(eventbus.Event{Type: notifier.EventSent})
		bus.Publish(eventbus.Event{Type: eventbus.TypeSiteDeleted})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	if got := testutil.CollectAndCount(m.notifications); got != 1 {
		t.Fatalf("notification series=%d", got)
	}
}
