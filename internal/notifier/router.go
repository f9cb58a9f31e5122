package notifier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	logx "reminderd/pkg/logx"

	"golang.org/x/time/rate"
)

// Router implements Deliverer over a set of named channels.
//
// It is safe for concurrent use.
type Router struct {
	mu       sync.Mutex
	cfg      Config
	log      logx.Logger
	limiter  *rate.Limiter
	channels map[string]Channel

	hmu     sync.Mutex
	history []HistoryItem
}

func NewRouter(cfg Config, log logx.Logger, channels ...Channel) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:      log.With(logx.String("comp", "notifier")),
		channels: map[string]Channel{},
	}
	r.applyLocked(cfg)
	for _, ch := range channels {
		r.Register(ch)
	}
	return r
}

func (r *Router) Apply(cfg Config) {
	r.mu.Lock()
	r.applyLocked(cfg)
	r.mu.Unlock()
}

func (r *Router) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	cfg.DefaultChannels = normalizeNames(cfg.DefaultChannels)
	if len(cfg.DefaultChannels) == 0 {
		cfg.DefaultChannels = []string{"log"}
	}
	r.cfg = cfg
	r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Register adds or replaces a channel under ch.Name().
func (r *Router) Register(ch Channel) {
	if ch == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(ch.Name()))
	r.mu.Lock()
	r.channels[name] = ch
	r.mu.Unlock()
}

// Unregister removes a channel. Messages naming it fail from then on.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	delete(r.channels, strings.ToLower(strings.TrimSpace(name)))
	r.mu.Unlock()
}

func (r *Router) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (r *Router) Deliver(ctx context.Context, msg Message) Result {
	r.mu.Lock()
	cfg := r.cfg
	lim := r.limiter
	names := normalizeNames(msg.Channels)
	if len(names) == 0 {
		names = cfg.DefaultChannels
	}
	targets := make([]Channel, len(names))
	for i, name := range names {
		targets[i] = r.channels[name]
	}
	r.mu.Unlock()

	if len(names) == 0 {
		return r.finish(cfg, msg, names, ErrNoChannels)
	}

	msg.Text = prefixForPriority(msg.Priority) + msg.Text
	var errs []error
	for i, ch := range targets {
		if ch == nil {
			errs = append(errs, fmt.Errorf("%s: %w", names[i], ErrUnknownChannel))
			continue
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: rate limit wait: %w", names[i], err))
				continue
			}
		}
		if err := ch.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", names[i], err))
		}
	}
	return r.finish(cfg, msg, names, errors.Join(errs...))
}

func (r *Router) finish(cfg Config, msg Message, names []string, err error) Result {
	item := HistoryItem{At: time.Now(), TaskID: msg.TaskID, Channels: names}
	if err != nil {
		item.Error = err.Error()
		r.log.Warn("delivery failed", logx.String("task_id", msg.TaskID), logx.Strs("channels", names), logx.Err(err))
	} else {
		r.log.Debug("delivered", logx.String("task_id", msg.TaskID), logx.Strs("channels", names))
	}
	r.hmu.Lock()
	r.history = append(r.history, item)
	if len(r.history) > cfg.HistorySize {
		r.history = r.history[len(r.history)-cfg.HistorySize:]
	}
	r.hmu.Unlock()
	return Result{Success: err == nil, Error: err}
}

func (r *Router) Snapshot() []HistoryItem {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	return slices.Clone(r.history)
}

func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}
