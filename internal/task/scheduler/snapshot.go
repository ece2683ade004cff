package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	c := s.c
	timers := append([]*liveTimer(nil), s.timers...)
	loc := s.loc
	running := s.started
	s.mu.Unlock()

	out := Snapshot{Running: running, Generation: s.gen.Load()}
	if loc != nil {
		out.Timezone = loc.String()
	}

	out.Timers = make([]TimerInfo, 0, len(timers))
	for _, t := range timers {
		it := TimerInfo{
			ID:          t.rec.ID,
			Target:      t.rec.Target,
			Destination: t.rec.Destination,
			Recurrence:  t.rec.Recurrence,
		}
		t.state.fill(&it)
		if c != nil && t.entryID != 0 {
			e := c.Entry(t.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		out.Timers = append(out.Timers, it)
	}

	s.hmu.Lock()
	out.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}
