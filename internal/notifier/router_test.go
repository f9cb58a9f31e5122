package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	logx "reminderd/pkg/logx"
)

type recordingChannel struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Message
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return c.err
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestRouterAllChannelsMustSucceed(t *testing.T) {
	t.Parallel()
	good := &recordingChannel{name: "log"}
	bad := &recordingChannel{name: "Telegram", err: errors.New("chat not found")}
	r := NewRouter(Config{RatePerSec: 100}, logx.Nop(), good, bad)

	res := r.Deliver(context.Background(), Message{TaskID: "t1", Channels: []string{"log"}, Text: "hi"})
	if !res.Success || res.Error != nil {
		t.Fatalf("log only: %+v", res)
	}

	res = r.Deliver(context.Background(), Message{TaskID: "t2", Channels: []string{"log", " telegram "}, Text: "hi"})
	if res.Success {
		t.Fatal("expected failure when one channel fails")
	}
	if !strings.Contains(res.Error.Error(), "chat not found") {
		t.Fatalf("error = %v", res.Error)
	}
	if good.count() != 2 || bad.count() != 1 {
		t.Fatalf("sends: good=%d bad=%d", good.count(), bad.count())
	}
	if h := r.Snapshot(); len(h) != 2 || h[1].Error == "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestRouterUnknownChannelFails(t *testing.T) {
	t.Parallel()
	r := NewRouter(Config{RatePerSec: 100}, logx.Nop(), &recordingChannel{name: "log"})
	res := r.Deliver(context.Background(), Message{Channels: []string{"pigeon"}, Text: "hi"})
	if res.Success || !errors.Is(res.Error, ErrUnknownChannel) {
		t.Fatalf("result = %+v", res)
	}
}

func TestRouterDefaultChannelsAndPriority(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{name: "family"}
	r := NewRouter(Config{RatePerSec: 100, DefaultChannels: []string{"FAMILY", "family"}}, logx.Nop(), ch)
	res := r.Deliver(context.Background(), Message{Text: "Take out trash", Priority: 9})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if ch.count() != 1 || !strings.HasPrefix(ch.sent[0].Text, "🚨 ") {
		t.Fatalf("sent = %+v", ch.sent)
	}
	if got := r.Channels(); len(got) != 1 || got[0] != "family" {
		t.Fatalf("channels = %v", got)
	}
	r.Unregister("family")
	if res := r.Deliver(context.Background(), Message{Text: "again"}); res.Success {
		t.Fatal("expected failure after unregister")
	}
}

func TestRouterCancelledContext(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{name: "log"}
	r := NewRouter(Config{RatePerSec: 1}, logx.Nop(), ch)
	// Drain the single burst token.
	if res := r.Deliver(context.Background(), Message{Text: "one"}); !res.Success {
		t.Fatalf("first = %+v", res)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Deliver(ctx, Message{Text: "two"})
	if res.Success || !errors.Is(res.Error, context.Canceled) {
		t.Fatalf("result = %+v", res)
	}
	if ch.count() != 1 {
		t.Fatalf("sends = %d", ch.count())
	}
}

func TestLogChannel(t *testing.T) {
	t.Parallel()
	var buf strings.Builder
	ch := NewLogChannel(logx.NewWriter(&buf, "info"))
	if err := ch.Send(context.Background(), Message{TaskID: "t9", Text: "Reminder: water plants"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "water plants") || !strings.Contains(buf.String(), "t9") {
		t.Fatalf("log output = %q", buf.String())
	}
}
