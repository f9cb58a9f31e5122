package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// kickoffSchedule fires once at first, then follows base. It lets a fresh
// start drain the backlog without waiting a full poll interval.
type kickoffSchedule struct {
	base  cron.Schedule
	first time.Time
	fired bool
}

func (s *kickoffSchedule) Next(t time.Time) time.Time {
	if !s.fired {
		s.fired = true
		if t.Before(s.first) {
			return s.first
		}
		return t
	}
	return s.base.Next(t)
}
