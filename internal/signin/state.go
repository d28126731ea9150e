package signin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signbot/internal/storage"
)

const keyPrefix = "signin:"

// DayRecord is the progress of one calendar day.
type DayRecord struct {
	Signed []int `json:"signed"`
	Retry  []int `json:"retry"`
}

// StatusEntry is one row of the per-day display record.
type StatusEntry struct {
	Site   string `json:"site"`
	Status string `json:"status"`
}

// DisplayRecord is the display record of one day, as served by History.
type DisplayRecord struct {
	Day     string        `json:"day"`
	Entries []StatusEntry `json:"entries"`
}

func dayKey(t time.Time) string { return keyPrefix + t.Format("2006-01-02") }

func displayLabel(t time.Time) string { return fmt.Sprintf("%d月%d日", int(t.Month()), t.Day()) }

func displayKey(t time.Time) string { return keyPrefix + displayLabel(t) }

// StateStore keeps sign-in progress in a storage.Store. It is only touched by
// the orchestrator goroutine; each write replaces the whole value.
type StateStore struct {
	kv storage.Store
}

func NewStateStore(kv storage.Store) *StateStore { return &StateStore{kv: kv} }

// LoadDay returns the record of day. ok is false when the day has none.
func (s *StateStore) LoadDay(ctx context.Context, day time.Time) (rec DayRecord, ok bool, err error) {
	ok, err = s.get(ctx, dayKey(day), &rec)
	return rec, ok, err
}

func (s *StateStore) SaveDay(ctx context.Context, day time.Time, rec DayRecord) error {
	if rec.Signed == nil {
		rec.Signed = []int{}
	}
	if rec.Retry == nil {
		rec.Retry = []int{}
	}
	return s.put(ctx, dayKey(day), rec)
}

func (s *StateStore) DeleteDay(ctx context.Context, day time.Time) error {
	return s.kv.Delete(ctx, dayKey(day))
}

func (s *StateStore) SaveDisplay(ctx context.Context, day time.Time, entries []StatusEntry) error {
	return s.put(ctx, displayKey(day), entries)
}

func (s *StateStore) DeleteDisplay(ctx context.Context, day time.Time) error {
	return s.kv.Delete(ctx, displayKey(day))
}

// History returns the newest non-empty display record among today and yesterday.
func (s *StateStore) History(ctx context.Context, now time.Time) (DisplayRecord, bool, error) {
	for i := range 2 {
		day := now.AddDate(0, 0, -i)
		var entries []StatusEntry
		ok, err := s.get(ctx, displayKey(day), &entries)
		if err != nil {
			return DisplayRecord{}, false, err
		}
		if ok && len(entries) > 0 {
			return DisplayRecord{Day: displayLabel(day), Entries: entries}, true, nil
		}
	}
	return DisplayRecord{}, false, nil
}

func (s *StateStore) get(ctx context.Context, key string, v any) (bool, error) {
	b, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("state decode %s: %w", key, err)
	}
	return true, nil
}

func (s *StateStore) put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state encode %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, b); err != nil {
		return fmt.Errorf("state put %s: %w", key, err)
	}
	return nil
}
