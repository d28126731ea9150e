// Package sites is the registry of check-in targets, loaded from a JSON or
// YAML file and optionally hot-reloaded.
package sites

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	yaml "go.yaml.in/yaml/v3"

	"signbot/internal/eventbus"
	logx "signbot/pkg/logx"
)

// Site is one check-in target. It is read-only to the sign-in service.
type Site struct {
	ID        int    `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	URL       string `json:"url" yaml:"url"`
	Cookie    string `json:"cookie,omitempty" yaml:"cookie,omitempty"`
	UserAgent string `json:"ua,omitempty" yaml:"ua,omitempty"`
	Render    bool   `json:"render,omitempty" yaml:"render,omitempty"`
	Proxy     bool   `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	Public    bool   `json:"public,omitempty" yaml:"public,omitempty"`
}

type document struct {
	Sites []Site `json:"sites" yaml:"sites"`
}

type Registry struct {
	path string
	bus  eventbus.Bus
	log  logx.Logger

	mu    sync.RWMutex
	sites []Site
	byID  map[int]int // id -> index in sites
}

// Load reads the registry file. A missing file yields an empty registry.
// bus may be nil.
func Load(path string, bus eventbus.Bus, log logx.Logger) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{path: path, bus: bus, log: log.With(logx.String("comp", "sites"))}
	list, err := readFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := r.set(list); err != nil {
		return nil, err
	}
	r.log.Info("site registry loaded", logx.String("path", path), logx.Int("sites", len(list)))
	return r, nil
}

// New builds an in-memory registry, used by tests and ad-hoc tooling.
func New(list []Site, bus eventbus.Bus) (*Registry, error) {
	r := &Registry{bus: bus, log: logx.Nop()}
	if err := r.set(list); err != nil {
		return nil, err
	}
	return r, nil
}

func readFile(path string) ([]Site, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &doc)
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		err = dec.Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("sites %s: %w", path, err)
	}
	return doc.Sites, nil
}

func (r *Registry) set(list []Site) error {
	byID := make(map[int]int, len(list))
	for i, s := range list {
		if s.ID <= 0 {
			return fmt.Errorf("site %q: id must be positive", s.Name)
		}
		if _, dup := byID[s.ID]; dup {
			return fmt.Errorf("site id %d is duplicated", s.ID)
		}
		byID[s.ID] = i
	}
	r.mu.Lock()
	r.sites = append([]Site(nil), list...)
	r.byID = byID
	r.mu.Unlock()
	return nil
}

// List returns the sites in registry order.
func (r *Registry) List() []Site {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Site(nil), r.sites...)
}

func (r *Registry) Get(id int) (Site, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return Site{}, false
	}
	return r.sites[i], true
}

// ByDomain finds the site whose base URL has the same host as target.
// target may be a full URL or a bare domain.
func (r *Registry) ByDomain(target string) (Site, bool) {
	want := Domain(target)
	if want == "" {
		return Site{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sites {
		if Domain(s.URL) == want {
			return s, true
		}
	}
	return Site{}, false
}

// Domain extracts a comparable host: lower-cased, without port or "www.".
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Reload re-reads the file and publishes one deletion event per id that disappeared.
func (r *Registry) Reload() error {
	list, err := readFile(r.path)
	if err != nil {
		return err
	}
	before := r.ids()
	if err := r.set(list); err != nil {
		return err
	}
	after := r.ids()
	removed := 0
	for id := range before {
		if _, ok := after[id]; !ok {
			r.publishDeleted(eventbus.SiteDeleted{ID: id})
			removed++
		}
	}
	r.log.Info("site registry reloaded", logx.Int("sites", len(list)), logx.Int("removed", removed))
	return nil
}

// Delete removes one site, rewrites the registry file and publishes the deletion.
func (r *Registry) Delete(id int) error {
	r.mu.Lock()
	i, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("site %d not found", id)
	}
	next := append(append([]Site(nil), r.sites[:i]...), r.sites[i+1:]...)
	r.mu.Unlock()

	if err := r.persist(next); err != nil {
		return err
	}
	if err := r.set(next); err != nil {
		return err
	}
	r.publishDeleted(eventbus.SiteDeleted{ID: id})
	return nil
}

// Clear removes every site and publishes a single deletion without id.
func (r *Registry) Clear() error {
	if err := r.persist(nil); err != nil {
		return err
	}
	if err := r.set(nil); err != nil {
		return err
	}
	r.publishDeleted(eventbus.SiteDeleted{All: true})
	return nil
}

func (r *Registry) ids() map[int]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]struct{}, len(r.byID))
	for id := range r.byID {
		out[id] = struct{}{}
	}
	return out
}

func (r *Registry) publishDeleted(d eventbus.SiteDeleted) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeSiteDeleted, Data: d})
}

func (r *Registry) persist(list []Site) error {
	if r.path == "" {
		return nil
	}
	doc := document{Sites: list}
	if doc.Sites == nil {
		doc.Sites = []Site{}
	}
	var (
		b   []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(r.path)) {
	case ".yaml", ".yml":
		b, err = yaml.Marshal(doc)
	default:
		b, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
