package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"signbot/internal/transport"
)

// telegramSink forwards log lines at or above minLevel to one chat.
// It never blocks the caller: lines are dropped when the limiter or queue is full.
type telegramSink struct {
	sender transport.Sender

	mu       sync.Mutex
	to       transport.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan telegramLine
	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type telegramLine struct {
	to   transport.ChatTarget
	text string
}

func newTelegramSink(sender transport.Sender) *telegramSink {
	return &telegramSink{sender: sender, queue: make(chan telegramLine, 256)}
}

// configure reports whether the sink can actually deliver.
func (t *telegramSink) configure(cfg TelegramConfig) bool {
	if t.sender == nil || cfg.ChatID == 0 {
		return false
	}
	rps := positiveOr(cfg.RatePerSec, 1)

	t.mu.Lock()
	t.to = transport.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	t.minLevel = ParseLevel(cfg.MinLevel, LevelWarn)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.mu.Unlock()

	t.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.run(ctx)
		}()
	})
	return true
}

func (t *telegramSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-t.queue:
			_, _ = t.sender.SendText(ctx, ln.to, ln.text, &transport.SendOptions{DisablePreview: true})
		}
	}
}

func (t *telegramSink) stop() {
	if t == nil || t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	to, min, lim := t.to, t.minLevel, t.limiter
	t.mu.Unlock()

	if lim == nil || level < min || !lim.Allow() {
		return len(p), nil
	}
	text := formatLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- telegramLine{to: to, text: text}:
	default:
	}
	return len(p), nil
}

// formatLine renders one zerolog JSON line as "[LEVEL] msg" plus sorted key=value lines.
func formatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), 600))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
