package schedule

import "reminderd/internal/domain"

// QuietWindow is a [Start, End) time-of-day range that may wrap past midnight.
// Start == End is an empty window.
type QuietWindow struct {
	Start domain.ClockTime `json:"start"`
	End   domain.ClockTime `json:"end"`
}

var DefaultQuietWindow = QuietWindow{Start: domain.Clock(22, 0), End: domain.Clock(7, 0)}

func (w QuietWindow) Contains(c domain.ClockTime) bool {
	s, e, m := w.Start.Minutes(), w.End.Minutes(), c.Minutes()
	switch {
	case s == e:
		return false
	case s < e:
		return m >= s && m < e
	default:
		return m >= s || m < e
	}
}

func (w QuietWindow) Valid() bool { return w.Start.Valid() && w.End.Valid() }

func (w QuietWindow) String() string { return w.Start.String() + "-" + w.End.String() }
