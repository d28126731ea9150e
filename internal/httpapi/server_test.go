package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signbot/internal/signin"
	"signbot/internal/task/scheduler"
	logx "signbot/pkg/logx"
)

type fakeSignIn struct {
	out    signin.RunOutcome
	runErr error
	rec    signin.DisplayRecord
	hasRec bool
}

func (f *fakeSignIn) RunNow(context.Context, signin.Requester) (signin.RunOutcome, error) {
	return f.out, f.runErr
}

func (f *fakeSignIn) SignInByDomain(_ context.Context, url string) string {
	return "站点【" + url + "】不存在"
}

func (f *fakeSignIn) History(context.Context) (signin.DisplayRecord, bool, error) {
	return f.rec, f.hasRec, nil
}

func (f *fakeSignIn) Schedules() scheduler.Snapshot {
	return scheduler.Snapshot{
		Timezone:  "UTC",
		Schedules: []scheduler.ScheduleInfo{{Name: "signin:cron", Spec: "0 9 * * *", Next: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}},
	}
}

func do(t *testing.T, h http.Handler, method, target, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil && rec.Code != http.StatusOK {
		t.Logf("non-json body: %s", rec.Body.String())
	}
	return rec, body
}

func TestDomain(t *testing.T) {
	t.Parallel()

	h := New(Config{}, &fakeSignIn{}, nil, logx.Nop()).Handler()

	rec, body := do(t, h, http.MethodGet, "/api/signin/domain?url=https://x.example", "")
	if rec.Code != http.StatusOK || body["success"] != true || body["message"] != "站点【https://x.example】不存在" {
		t.Fatalf("code=%d body=%v", rec.Code, body)
	}
	rec, _ = do(t, h, http.MethodGet, "/api/signin/domain", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing url code=%d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()

	h := New(Config{Token: "s3cret"}, &fakeSignIn{}, nil, logx.Nop()).Handler()
	cases := []struct {
		token string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusUnauthorized},
		{"s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		rec, _ := do(t, h, http.MethodGet, "/api/signin/history", tc.token)
		if rec.Code != tc.want {
			t.Fatalf("token %q: code=%d want %d", tc.token, rec.Code, tc.want)
		}
	}
	if rec, _ := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz behind auth: %d", rec.Code)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		svc  *fakeSignIn
		code int
		msg  string
	}{
		{"busy", &fakeSignIn{runErr: signin.ErrRunInProgress}, http.StatusConflict, signin.ErrRunInProgress.Error()},
		{"skipped", &fakeSignIn{out: signin.RunOutcome{Skipped: signin.SkipNothingDue}}, http.StatusOK, string(signin.SkipNothingDue)},
		{"ok", &fakeSignIn{out: signin.RunOutcome{Total: 2, Attempted: 1}}, http.StatusOK, "全部签到数量: 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := New(Config{}, tc.svc, nil, logx.Nop()).Handler()
			rec, body := do(t, h, http.MethodPost, "/api/signin/run", "")
			msg, _ := body["message"].(string)
			if rec.Code != tc.code || !strings.HasPrefix(msg, tc.msg) {
				t.Fatalf("code=%d body=%v", rec.Code, body)
			}
		})
	}
}

func TestHistoryAndSchedules(t *testing.T) {
	t.Parallel()

	svc := &fakeSignIn{hasRec: true, rec: signin.DisplayRecord{Day: "5月1日", Entries: []signin.StatusEntry{{Site: "alpha", Status: "签到成功"}}}}
	h := New(Config{}, svc, nil, logx.Nop()).Handler()

	rec, body := do(t, h, http.MethodGet, "/api/signin/history", "")
	entries, _ := body["entries"].([]any)
	if rec.Code != http.StatusOK || body["day"] != "5月1日" || len(entries) != 1 {
		t.Fatalf("history code=%d body=%v", rec.Code, body)
	}

	rec, body = do(t, h, http.MethodGet, "/api/signin/schedules", "")
	items, _ := body["schedules"].([]any)
	if rec.Code != http.StatusOK || body["timezone"] != "UTC" || len(items) != 1 {
		t.Fatalf("schedules code=%d body=%v", rec.Code, body)
	}
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("signbot_up 1\n")) })
	h := New(Config{Token: "x"}, &fakeSignIn{}, metrics, logx.Nop()).Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "signbot_up 1\n" {
		t.Fatalf("metrics code=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestPprofBehindToken(t *testing.T) {
	t.Parallel()

	off := New(Config{}, &fakeSignIn{}, nil, logx.Nop()).Handler()
	if rec, _ := do(t, off, http.MethodGet, "/debug/pprof/", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof mounted while disabled: %d", rec.Code)
	}

	on := New(Config{Token: "x", Pprof: true}, &fakeSignIn{}, nil, logx.Nop()).Handler()
	if rec, _ := do(t, on, http.MethodGet, "/debug/pprof/", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("pprof without token: %d", rec.Code)
	}
	if rec, _ := do(t, on, http.MethodGet, "/debug/pprof/", "x"); rec.Code != http.StatusOK {
		t.Fatalf("pprof with token: %d", rec.Code)
	}
}

func TestServeShutsDown(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "127.0.0.1:0"}, &fakeSignIn{}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return")
	}
}
