// Package schedule expands a reminder occurrence into concrete notification
// timestamps and renders the text sent at each of them.
package schedule

import (
	"slices"
	"time"

	"reminderd/internal/domain"
)

// Builder holds the settings shared by every reminder. The zero value uses
// DefaultQuietWindow.
type Builder struct {
	Quiet QuietWindow
}

// Build returns the future notification times for r's current occurrence,
// ascending and without duplicates. It does not touch any state.
func Build(r domain.Reminder, p *domain.NotificationPolicy, now time.Time) []time.Time {
	return Builder{}.Build(r, p, now)
}

func (b Builder) Build(r domain.Reminder, p *domain.NotificationPolicy, now time.Time) []time.Time {
	if !r.IsActive {
		return nil
	}
	anchor := r.LocalAnchor()
	if p == nil {
		if anchor.After(now) {
			return []time.Time{anchor}
		}
		return nil
	}

	var out []time.Time
	if p.AdvanceEnabled && p.AdvanceLeadDays > 0 {
		step := max(p.AdvanceIntervalDays, 1)
		tod := p.AdvanceTimeOfDay
		if !tod.Valid() {
			tod = domain.DefaultAdvanceTime
		}
		for d := p.AdvanceLeadDays; d > 0; d -= step {
			out = append(out, tod.On(anchor.Year(), anchor.Month(), anchor.Day()-d, anchor.Location()))
		}
	}

	sameDay := 0
	for _, c := range p.SameDayTimes {
		if !c.Valid() {
			continue
		}
		out = append(out, c.OnDateOf(anchor))
		sameDay++
	}
	if sameDay == 0 {
		out = append(out, anchor)
	}

	if p.AvoidQuietHours {
		quiet := b.window()
		fallback := p.QuietHoursFallback
		if !fallback.Valid() {
			fallback = domain.DefaultQuietFallback
		}
		for i, t := range out {
			if quiet.Contains(domain.ClockOf(t)) {
				out[i] = fallback.OnDateOf(t)
			}
		}
	}

	out = slices.DeleteFunc(out, func(t time.Time) bool { return !t.After(now) })
	slices.SortFunc(out, func(x, y time.Time) int { return x.Compare(y) })
	return slices.CompactFunc(out, func(x, y time.Time) bool { return x.Equal(y) })
}

func (b Builder) window() QuietWindow {
	if b.Quiet == (QuietWindow{}) || !b.Quiet.Valid() {
		return DefaultQuietWindow
	}
	return b.Quiet
}
