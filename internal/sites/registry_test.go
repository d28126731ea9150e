package sites

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"signbot/internal/eventbus"
	logx "signbot/pkg/logx"
)

const sampleYAML = `sites:
  - id: 1
    name: Alpha
    url: https://www.alpha.example/
    cookie: uid=1
  - id: 2
    name: Beta
    url: https://beta.example:8443
    public: true
  - id: 3
    name: Gamma
    url: https://gamma.example
    render: true
`

func writeRegistry(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadAndLookup(t *testing.T) {
	t.Parallel()

	r, err := Load(writeRegistry(t, sampleYAML), nil, logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(r.List()); got != 3 {
		t.Fatalf("List len = %d", got)
	}
	if s, ok := r.Get(3); !ok || !s.Render {
		t.Fatalf("Get(3) = %+v, %v", s, ok)
	}

	cases := []struct {
		in     string
		wantID int
	}{
		{"alpha.example", 1},
		{"https://alpha.example/attendance.php", 1},
		{"http://BETA.example", 2},
		{"beta.example:8443/index.php", 2},
	}
	for _, tc := range cases {
		s, ok := r.ByDomain(tc.in)
		if !ok || s.ID != tc.wantID {
			t.Fatalf("ByDomain(%q) = %+v, %v; want id %d", tc.in, s, ok, tc.wantID)
		}
	}
	if _, ok := r.ByDomain("unknown.example"); ok {
		t.Fatalf("unexpected match for unknown domain")
	}
	if _, ok := r.ByDomain(""); ok {
		t.Fatalf("unexpected match for empty domain")
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	r, err := Load(filepath.Join(t.TempDir(), "none.json"), nil, logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	body := "sites:\n  - {id: 1, name: a}\n  - {id: 1, name: b}\n"
	if _, err := Load(writeRegistry(t, body), nil, logx.Nop()); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func recvDeleted(t *testing.T, ch <-chan eventbus.Event) eventbus.SiteDeleted {
	t.Helper()
	select {
	case e := <-ch:
		d, ok := e.Data.(eventbus.SiteDeleted)
		if e.Type != eventbus.TypeSiteDeleted || !ok {
			t.Fatalf("unexpected event %+v", e)
		}
		return d
	case <-time.After(time.Second):
		t.Fatalf("no deletion event")
	}
	return eventbus.SiteDeleted{}
}

func TestDeletePersistsAndPublishes(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	path := writeRegistry(t, sampleYAML)
	r, err := Load(path, bus, logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := r.Delete(2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if d := recvDeleted(t, ch); d.ID != 2 || d.All {
		t.Fatalf("event = %+v", d)
	}
	if err := r.Delete(2); err == nil {
		t.Fatalf("second delete should fail")
	}

	again, err := Load(path, nil, logx.Nop())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := again.Get(2); ok || len(again.List()) != 2 {
		t.Fatalf("deleted site still persisted: %+v", again.List())
	}

	if err := r.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if d := recvDeleted(t, ch); !d.All {
		t.Fatalf("clear event = %+v", d)
	}
}

func TestReloadPublishesRemovedIDs(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	path := writeRegistry(t, sampleYAML)
	r, err := Load(path, bus, logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := os.WriteFile(path, []byte("sites:\n  - {id: 1, name: Alpha, url: https://alpha.example}\n  - {id: 3, name: Gamma}\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if d := recvDeleted(t, ch); d.ID != 2 {
		t.Fatalf("event = %+v", d)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event %+v", e)
	default:
	}
}
