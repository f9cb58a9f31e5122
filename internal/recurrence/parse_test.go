package recurrence

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"reminderd/internal/domain"
)

func TestParseFromJSONConfig(t *testing.T) {
	t.Parallel()
	var cfg map[string]any
	if err := json.Unmarshal([]byte(`{"weekdays":[4,0,"wed",0],"interval":2,"time":"18:45"}`), &cfg); err != nil {
		t.Fatal(err)
	}
	rule, ok := Parse(domain.RecurWeekly, cfg).(Weekly)
	if !ok {
		t.Fatalf("Parse returned %T, want Weekly", rule)
	}
	want := []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	if len(rule.Weekdays) != len(want) {
		t.Fatalf("weekdays = %v, want %v", rule.Weekdays, want)
	}
	for i := range want {
		if rule.Weekdays[i] != want[i] {
			t.Fatalf("weekdays = %v, want %v", rule.Weekdays, want)
		}
	}
	if rule.Interval != 2 {
		t.Fatalf("interval = %d, want 2", rule.Interval)
	}
	if rule.At == nil || rule.At.String() != "18:45" {
		t.Fatalf("at = %v, want 18:45", rule.At)
	}
}

func TestParseToleratesGarbage(t *testing.T) {
	t.Parallel()
	rule := Parse(domain.RecurMonthly, map[string]any{"day": "many", "interval": -4, "time": "25:99"})
	m, ok := rule.(Monthly)
	if !ok {
		t.Fatalf("Parse returned %T, want Monthly", rule)
	}
	if m.Day != 0 || m.Interval != 1 || m.At != nil {
		t.Fatalf("unexpected monthly rule: %+v", m)
	}
	if _, ok := Parse(" DAILY ", nil).(Daily); !ok {
		t.Fatal("kind should be case and space insensitive")
	}
	if fb, ok := Parse("hourly", nil).(Fallback); !ok || fb.Kind() != "hourly" {
		t.Fatalf("unknown kind should parse to Fallback, got %#v", fb)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		kind domain.RecurrenceKind
		cfg  map[string]any
		ok   bool
	}{
		{name: "once", kind: domain.RecurOnce, ok: true},
		{name: "daily", kind: domain.RecurDaily, cfg: map[string]any{"interval": 2, "time": "08:00"}, ok: true},
		{name: "daily bad interval", kind: domain.RecurDaily, cfg: map[string]any{"interval": 0}},
		{name: "daily bad time", kind: domain.RecurDaily, cfg: map[string]any{"time": "8am"}},
		{name: "weekly", kind: domain.RecurWeekly, cfg: map[string]any{"weekdays": []any{"mon", 3}}, ok: true},
		{name: "weekly empty", kind: domain.RecurWeekly, cfg: map[string]any{"weekdays": []any{}}},
		{name: "weekly out of range", kind: domain.RecurWeekly, cfg: map[string]any{"weekdays": []any{7}}},
		{name: "monthly", kind: domain.RecurMonthly, cfg: map[string]any{"day": -1, "skip_weekend": true}, ok: true},
		{name: "monthly no day", kind: domain.RecurMonthly, cfg: map[string]any{}},
		{name: "monthly day 32", kind: domain.RecurMonthly, cfg: map[string]any{"day": 32}},
		{name: "yearly", kind: domain.RecurYearly, cfg: map[string]any{"month": 2, "day": 29}, ok: true},
		{name: "yearly month 13", kind: domain.RecurYearly, cfg: map[string]any{"month": 13}},
		{name: "custom", kind: domain.RecurCustom, cfg: map[string]any{"unit": "weeks", "interval": 3}, ok: true},
		{name: "custom bad unit", kind: domain.RecurCustom, cfg: map[string]any{"unit": "fortnights"}},
		{name: "unknown kind", kind: "hourly"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.kind, tt.cfg)
			if tt.ok && err != nil {
				t.Fatalf("Validate error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("error %v does not wrap ErrInvalidConfig", err)
				}
			}
		})
	}
}
