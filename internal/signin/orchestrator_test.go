package signin

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"signbot/internal/config"
	"signbot/internal/storage"
	"signbot/internal/task/scheduler"
)

func TestRunFirstOfDaySignsEveryCandidate(t *testing.T) {
	t.Parallel()
	f := newFixture(baseConfig())
	ctx := context.Background()

	out, err := f.orch.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Attempted != 3 || out.Total != 3 || out.Pending != 0 {
		t.Fatalf("counts attempted=%d total=%d pending=%d", out.Attempted, out.Total, out.Pending)
	}
	if calls := f.attempt.takeCalls(); len(calls) != 3 || slices.Contains(calls, "gamma") {
		t.Fatalf("calls = %v (public site must be skipped)", calls)
	}

	rec, ok, err := f.state.LoadDay(ctx, f.now)
	if err != nil || !ok {
		t.Fatalf("LoadDay ok=%v err=%v", ok, err)
	}
	if !slices.Equal(rec.Signed, []int{1, 2, 4}) || len(rec.Retry) != 0 {
		t.Fatalf("record = %+v", rec)
	}
	if got := f.settings.SignIn().SignSites; !slices.Equal(got, []int{1, 2, 4}) {
		t.Fatalf("persisted allow-list = %v", got)
	}

	sent := f.notifier.all()
	if len(sent) != 1 || sent[0].Title != "站点自动签到" {
		t.Fatalf("notifications = %+v", sent)
	}
	if !strings.HasPrefix(sent[0].Text, "全部签到数量: 3 \n本次签到数量: 3 \n下次签到数量: 0 \n【delta】登录成功") {
		t.Fatalf("summary text = %q", sent[0].Text)
	}

	hist, ok, err := f.state.History(ctx, f.now)
	if err != nil || !ok || hist.Day != "5月1日" || len(hist.Entries) != 3 {
		t.Fatalf("history = %+v ok=%v err=%v", hist, ok, err)
	}
}

func TestRunTwiceSameDayIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(baseConfig())
	ctx := context.Background()

	if _, err := f.orch.Run(ctx, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	f.attempt.takeCalls()

	out, err := f.orch.Run(ctx, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if out.Skipped != SkipNothingDue || out.Attempted != 0 {
		t.Fatalf("second run = %+v", out)
	}
	if calls := f.attempt.takeCalls(); len(calls) != 0 {
		t.Fatalf("second run attempted %v", calls)
	}
	if n := len(f.notifier.all()); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
}

func TestRunRetriesOnlyPatternHits(t *testing.T) {
	t.Parallel()
	f := newFixture(baseConfig())
	ctx := context.Background()
	f.attempt.set("beta", "签到失败，Cookie已失效！")

	out, err := f.orch.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(out.RetrySiteIDs, []int{2}) || out.Pending != 1 {
		t.Fatalf("retry=%v pending=%d", out.RetrySiteIDs, out.Pending)
	}
	f.attempt.takeCalls()

	f.attempt.set("beta", "签到成功")
	out, err = f.orch.Run(ctx, nil)
	if err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if calls := f.attempt.takeCalls(); !slices.Equal(calls, []string{"beta"}) {
		t.Fatalf("retry run attempted %v", calls)
	}
	if out.Total != 3 || out.Attempted != 1 || len(out.RetrySiteIDs) != 0 {
		t.Fatalf("retry run = %+v", out)
	}

	out, err = f.orch.Run(ctx, nil)
	if err != nil || out.Skipped != SkipNothingDue {
		t.Fatalf("third run = %+v err=%v", out, err)
	}
}

func TestRunWithoutPatternRetriesWholeAllowList(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.RetryKeyword = ""
	f := newFixture(cfg)
	ctx := context.Background()

	out, err := f.orch.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(out.RetrySiteIDs, []int{1, 2, 4}) || out.Pending != 0 {
		t.Fatalf("retry=%v pending=%d", out.RetrySiteIDs, out.Pending)
	}
	f.attempt.takeCalls()

	if _, err := f.orch.Run(ctx, nil); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if calls := f.attempt.takeCalls(); len(calls) != 3 {
		t.Fatalf("second run attempted %v, want all", calls)
	}
}

func TestRunCleanForcesFullBatchAndResets(t *testing.T) {
	t.Parallel()
	f := newFixture(baseConfig())
	ctx := context.Background()

	if _, err := f.orch.Run(ctx, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.attempt.takeCalls()
	_ = f.settings.UpdateSignIn(func(s *config.SignInConfig) { s.Clean = true })

	out, err := f.orch.Run(ctx, nil)
	if err != nil {
		t.Fatalf("clean Run: %v", err)
	}
	if out.Attempted != 3 {
		t.Fatalf("clean run attempted %d", out.Attempted)
	}
	if f.settings.SignIn().Clean {
		t.Fatalf("clean flag not reset")
	}
}

func TestRunNarrowsToAllowList(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.SignSites = []int{3, 4, 99}
	f := newFixture(cfg)

	out, err := f.orch.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls := f.attempt.takeCalls(); !slices.Equal(calls, []string{"delta"}) {
		t.Fatalf("attempted %v", calls)
	}
	if out.Total != 1 {
		t.Fatalf("total=%d", out.Total)
	}
	if got := f.settings.SignIn().SignSites; !slices.Equal(got, []int{4}) {
		t.Fatalf("allow-list = %v, want stale ids dropped", got)
	}
}

func TestRunOutsideWindowTouchesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(baseConfig())
	f.orch.SetWindow(&scheduler.HourWindow{Start: 12, End: 14})
	req := &ackRecorder{}

	out, err := f.orch.Run(context.Background(), req)
	if err != nil || out.Skipped != SkipOutsideWindow {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if _, ok, _ := f.state.LoadDay(context.Background(), f.now); ok {
		t.Fatalf("record written outside window")
	}
	if len(req.acks) != 0 || len(f.attempt.takeCalls()) != 0 || f.settings.writes != 0 {
		t.Fatalf("side effects outside window: acks=%v writes=%d", req.acks, f.settings.writes)
	}
}

func TestRunPurgesOldRecords(t *testing.T) {
	t.Parallel()
	f := newFixture(baseConfig())
	ctx := context.Background()
	yesterday := f.now.AddDate(0, 0, -1)
	_ = f.state.SaveDay(ctx, yesterday, DayRecord{Signed: []int{1}})
	_ = f.state.SaveDisplay(ctx, f.now.AddDate(0, 0, -2), []StatusEntry{{Site: "x", Status: "y"}})
	_ = f.state.SaveDisplay(ctx, yesterday, []StatusEntry{{Site: "kept", Status: "签到成功"}})

	if _, err := f.orch.Run(ctx, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok, _ := f.state.LoadDay(ctx, yesterday); ok {
		t.Fatalf("yesterday record not purged")
	}
	if _, err := f.kv.Get(ctx, displayKey(f.now.AddDate(0, 0, -2))); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("old display record still present: %v", err)
	}
	if _, err := f.kv.Get(ctx, displayKey(yesterday)); err != nil {
		t.Fatalf("yesterday display record removed: %v", err)
	}
}

func TestRunAcknowledgesRequester(t *testing.T) {
	t.Parallel()
	f := newFixture(baseConfig())
	req := &ackRecorder{}

	if _, err := f.orch.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(req.acks, []string{"开始站点签到 ...", "站点签到完成！"}) {
		t.Fatalf("acks = %v", req.acks)
	}
}

type brokenStore struct{ storage.Store }

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disk gone") }

func TestRunReportsStoreFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(baseConfig())
	f.orch.state = NewStateStore(brokenStore{Store: storage.NewMemory()})
	req := &ackRecorder{}

	_, err := f.orch.Run(context.Background(), req)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !slices.Equal(req.acks, []string{"开始站点签到 ...", "站点签到任务失败！"}) {
		t.Fatalf("acks = %v", req.acks)
	}
	if len(f.attempt.takeCalls()) != 0 {
		t.Fatalf("sites attempted after store failure")
	}
}

type readOnlySettings struct{ *fakeSettings }

func (readOnlySettings) UpdateSignIn(func(s *config.SignInConfig)) error {
	return errors.New("config file is read-only")
}

func TestRunCompletesWhenSettingsWriteFails(t *testing.T) {
	t.Parallel()
	f := newFixture(baseConfig())
	f.orch.settings = readOnlySettings{f.settings}
	req := &ackRecorder{}

	out, err := f.orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Attempted != 3 {
		t.Fatalf("attempted = %d", out.Attempted)
	}
	if !slices.Equal(req.acks, []string{"开始站点签到 ...", "站点签到完成！"}) {
		t.Fatalf("acks = %v", req.acks)
	}
	if _, ok, err := f.state.LoadDay(context.Background(), f.now); err != nil || !ok {
		t.Fatalf("day record not saved: ok=%v err=%v", ok, err)
	}
	if len(f.notifier.all()) != 1 {
		t.Fatalf("summary not sent")
	}
}

func TestHistoryFallsBackToYesterday(t *testing.T) {
	t.Parallel()
	kv := storage.NewMemory()
	st := NewStateStore(kv)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	if _, ok, err := st.History(ctx, now); ok || err != nil {
		t.Fatalf("empty history ok=%v err=%v", ok, err)
	}
	_ = st.SaveDisplay(ctx, now.AddDate(0, 0, -1), []StatusEntry{{Site: "a", Status: "签到成功"}})
	rec, ok, err := st.History(ctx, now)
	if err != nil || !ok || rec.Day != "2月29日" {
		t.Fatalf("history = %+v ok=%v err=%v", rec, ok, err)
	}
	if b, _ := kv.Get(ctx, "signin:2月29日"); !strings.Contains(string(b), `"site":"a"`) {
		t.Fatalf("display value = %s", b)
	}
}
