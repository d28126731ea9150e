package scheduler

import "sort"

// Snapshot reports registered triggers with their next fire times.
// slot, when non-nil, is reported as the currently running job.
func (s *Service) Snapshot(slot *Slot) Snapshot {
	s.mu.Lock()
	loc := s.loc
	if loc == nil {
		loc = loadLocation(s.cfg.Timezone, s.log)
	}
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for name, o := range s.once {
		items = append(items, ScheduleInfo{Name: name, Spec: "once", Next: o.at})
	}
	s.tmu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	snap := Snapshot{
		Timezone:  loc.String(),
		Schedules: items,
		Runs:      s.runs.Load(),
		Skipped:   s.skipped.Load(),
		Failed:    s.failed.Load(),
	}
	if slot != nil {
		snap.Running, _ = slot.Holder()
	}
	return snap
}
