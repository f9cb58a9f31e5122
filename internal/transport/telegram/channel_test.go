package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"reminderd/internal/notifier"
	logx "reminderd/pkg/logx"
)

type sent struct {
	chatID   int64
	threadID int
	text     string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sent
	failOn int64
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	chat := to.(*tele.Chat)
	if chat.ID == f.failOn {
		return nil, errors.New("chat not found")
	}
	s := sent{chatID: chat.ID, text: what.(string)}
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			s.threadID = so.ThreadID
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, s)
	f.mu.Unlock()
	return &tele.Message{}, nil
}

func TestChannelSendsToEveryTarget(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	ch := NewWithSender(Config{Targets: []Target{{ChatID: 1}, {ChatID: 2, ThreadID: 7}}}, fs, logx.Nop())

	if ch.Name() != "telegram" {
		t.Fatalf("name = %q", ch.Name())
	}
	if err := ch.Send(context.Background(), notifier.Message{Text: "Reminder: pay rent"}); err != nil {
		t.Fatal(err)
	}
	if len(fs.sent) != 2 || fs.sent[1].chatID != 2 || fs.sent[1].threadID != 7 {
		t.Fatalf("sent = %+v", fs.sent)
	}
}

func TestChannelReportsFailedTargets(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{failOn: 2}
	ch := NewWithSender(Config{Targets: []Target{{ChatID: 1}, {ChatID: 2}}}, fs, logx.Nop())
	err := ch.Send(context.Background(), notifier.Message{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "chat 2") {
		t.Fatalf("err = %v", err)
	}
	if len(fs.sent) != 1 {
		t.Fatalf("sent = %+v", fs.sent)
	}
}

func TestChannelWithoutTargets(t *testing.T) {
	t.Parallel()
	ch := NewWithSender(Config{}, &fakeSender{}, logx.Nop())
	if err := ch.Send(context.Background(), notifier.Message{Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSendAlertPrefersAlertTargets(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	ch := NewWithSender(Config{Targets: []Target{{ChatID: 1}}, AlertTargets: []Target{{ChatID: 99}}}, fs, logx.Nop())
	if err := ch.SendAlert(context.Background(), "store unreachable"); err != nil {
		t.Fatal(err)
	}
	if len(fs.sent) != 1 || fs.sent[0].chatID != 99 {
		t.Fatalf("sent = %+v", fs.sent)
	}
}

func TestSendStopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	ch := NewWithSender(Config{Targets: []Target{{ChatID: 1}}}, fs, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ch.Send(ctx, notifier.Message{Text: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(fs.sent) != 0 {
		t.Fatalf("sent = %+v", fs.sent)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "hard cut", in: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "prefers newline", in: "abcd\nefghij", limit: 8, want: []string{"abcd", "efghij"}},
		{name: "runes", in: "ééééé", limit: 2, want: []string{"éé", "éé", "é"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tc.in, tc.limit)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("splitText(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
			}
		})
	}
}
