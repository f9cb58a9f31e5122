package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertQueueSize = 64
	alertMaxLen    = 3500
	alertSendLimit = 10 * time.Second
)

// AlertSender receives formatted alert text. It must not log through the
// Service that feeds it.
type AlertSender interface {
	SendAlert(ctx context.Context, text string) error
}

// alertSink is a zerolog.LevelWriter that never blocks logging: records are
// filtered, rate limited and queued for a single worker.
type alertSink struct {
	mu       sync.Mutex
	sender   AlertSender
	minLevel Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}

	queue      chan string
	suppressed atomic.Int64
}

var _ zerolog.LevelWriter = (*alertSink)(nil)

func newAlertSink(sender AlertSender) *alertSink {
	return &alertSink{
		sender:   sender,
		minLevel: LevelWarn,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan string, alertQueueSize),
	}
}

func (a *alertSink) setSender(sender AlertSender) {
	a.mu.Lock()
	a.sender = sender
	a.mu.Unlock()
}

// configure updates filters and starts the worker on first enable.
func (a *alertSink) configure(cfg AlertConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	rps := max(1, cfg.RatePerSec)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Enabled && a.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		a.done = make(chan struct{})
		go a.run(ctx, a.done)
	}
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(LevelInfo, p) }

func (a *alertSink) WriteLevel(level Level, p []byte) (int, error) {
	a.mu.Lock()
	ok := a.sender != nil && level >= a.minLevel
	lim := a.limiter
	a.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if !lim.Allow() {
		a.suppressed.Add(1)
		return len(p), nil
	}
	select {
	case a.queue <- formatAlert(p):
	default:
		a.suppressed.Add(1)
	}
	return len(p), nil
}

func (a *alertSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-a.queue:
			a.mu.Lock()
			sender := a.sender
			a.mu.Unlock()
			if sender == nil {
				continue
			}
			if n := a.suppressed.Swap(0); n > 0 {
				text += fmt.Sprintf("\n(%d more alerts suppressed)", n)
			}
			sctx, cancel := context.WithTimeout(ctx, alertSendLimit)
			_ = sender.SendAlert(sctx, text)
			cancel()
		}
	}
}

// formatAlert turns a JSON record into "[LEVEL] message" followed by one
// "- key=value" line per field, sorted by key.
func formatAlert(p []byte) string {
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return clip(strings.TrimSpace(string(p)), alertMaxLen)
	}
	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), 600))
	}
	return clip(b.String(), alertMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
