// Package siteadapter resolves which check-in implementation handles a site
// and provides the generic fallback used for every site without one.
//
// Replies are plain strings; the sign-in classifier keys on the exact
// phrases the generic adapter returns, so they must not be reworded.
package siteadapter

import (
	"context"
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"

	"signbot/internal/sites"
	logx "signbot/pkg/logx"
)

// Adapter checks in to one site and returns the human-readable reply.
type Adapter interface {
	Attempt(ctx context.Context, site sites.Site) (string, error)
}

// Matcher reports whether an adapter handles siteURL.
type Matcher func(siteURL string) (bool, error)

// MatchHosts matches a site whose host (without "www.") is one of hosts.
func MatchHosts(hosts ...string) Matcher {
	want := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		want[strings.ToLower(strings.TrimPrefix(h, "www."))] = struct{}{}
	}
	return func(siteURL string) (bool, error) {
		u, err := url.Parse(siteURL)
		if err != nil {
			return false, err
		}
		_, ok := want[strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")]
		return ok, nil
	}
}

type entry struct {
	name    string
	match   Matcher
	adapter Adapter
}

// Dispatcher tries registered adapters in registration order and falls back
// to the generic adapter. It implements the sign-in attempt port.
type Dispatcher struct {
	log      logx.Logger
	fallback Adapter

	mu      sync.RWMutex
	entries []entry
}

func NewDispatcher(fallback Adapter, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{fallback: fallback, log: log.With(logx.String("comp", "siteadapter"))}
}

// Register appends an adapter. A later registration never shadows an earlier one.
func (d *Dispatcher) Register(name string, match Matcher, a Adapter) {
	d.mu.Lock()
	d.entries = append(d.entries, entry{name: name, match: match, adapter: a})
	d.mu.Unlock()
}

// Resolve returns the first adapter whose matcher accepts siteURL. A matcher
// that fails is logged and skipped. ok is false when the fallback applies.
func (d *Dispatcher) Resolve(siteURL string) (name string, a Adapter, ok bool) {
	d.mu.RLock()
	entries := d.entries
	d.mu.RUnlock()

	for _, e := range entries {
		matched, err := safeMatch(e.match, siteURL)
		if err != nil {
			d.log.Error("site adapter match failed", logx.String("adapter", e.name), logx.String("url", siteURL), logx.Err(err))
			continue
		}
		if matched {
			return e.name, e.adapter, true
		}
	}
	return "generic", d.fallback, false
}

// Attempt runs the resolved adapter. A specialized adapter's reply is passed
// through unchanged, including an empty one.
func (d *Dispatcher) Attempt(ctx context.Context, site sites.Site) (string, error) {
	name, a, _ := d.Resolve(site.URL)
	if a == nil {
		return "", fmt.Errorf("no adapter for %s", site.URL)
	}
	d.log.Debug("site adapter resolved", logx.String("site", site.Name), logx.String("adapter", name))
	return a.Attempt(ctx, site)
}

func safeMatch(m Matcher, siteURL string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("matcher panic: %v\n%s", r, debug.Stack())
		}
	}()
	return m(siteURL)
}
