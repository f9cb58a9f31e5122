package logx

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type chanSender struct{ ch chan string }

func (s chanSender) SendAlert(_ context.Context, text string) error {
	s.ch <- text
	return nil
}

func TestWriterFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf strings.Builder
	log := NewWriter(&buf, "info").With(String("comp", "scheduler"))
	log.Debug("hidden")
	log.Info("tick done", Int("due", 3), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["message"] != "tick done" || rec["comp"] != "scheduler" || rec["due"] != float64(3) || rec["error"] != "boom" {
		t.Fatalf("record = %v", rec)
	}
	if !strings.HasPrefix(rec["caller"].(string), "logx_test.go:") {
		t.Fatalf("caller = %v", rec["caller"])
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero value must report IsZero")
	}
	zero.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop must not be zero")
	}
	Nop().With(String("k", "v")).Error("dropped")
}

func TestServiceAlertsAndFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reminderd.log")
	sender := chanSender{ch: make(chan string, 4)}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
		Alert: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, sender)

	log = log.With(String("comp", "telegram"))
	log.Info("delivered")
	log.Warn("delivery failed", String("task_id", "t1"))

	select {
	case got := <-sender.ch:
		if !strings.HasPrefix(got, "[WARN] delivery failed") || !strings.Contains(got, "- task_id=t1") {
			t.Fatalf("alert = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no alert sent")
	}
	select {
	case got := <-sender.ch:
		t.Fatalf("unexpected second alert %q", got)
	case <-time.After(50 * time.Millisecond):
	}

	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"message":"delivered"`) || !strings.Contains(string(b), `"comp":"telegram"`) {
		t.Fatalf("file = %s", b)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"loud", LevelInfo},
	}
	for _, tc := range tests {
		if got := parseLevel(tc.in, LevelInfo); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
