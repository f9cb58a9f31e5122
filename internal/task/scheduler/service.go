package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"reminderd/internal/notifier"
	"reminderd/internal/storage"
	"reminderd/internal/task/engine"
	logx "reminderd/pkg/logx"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	now func() time.Time

	store     storage.Store
	deliverer notifier.Deliverer
	engine    *engine.Service

	c       *cron.Cron
	entryID cron.EntryID
	started bool

	// tickMu keeps manual and triggered ticks from overlapping.
	tickMu sync.Mutex

	smu          sync.Mutex
	ticks        uint64
	lastTick     time.Time
	lastDuration time.Duration
	lastReport   Report
	lastErr      string
}

func New(cfg Config, store storage.Store, deliverer notifier.Deliverer, eng *engine.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if eng == nil {
		eng = engine.New(engine.Config{}, log)
	}
	return &Service{
		cfg:       cfg.withDefaults(),
		log:       log.With(logx.String("comp", "scheduler")),
		now:       time.Now,
		store:     store,
		deliverer: deliverer,
		engine:    eng,
	}
}

// SetClock replaces the time source used for due checks and transitions.
func (s *Service) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Service) snapshotCfg() (Config, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.now()
}

func (s *Service) clock() time.Time {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()
	return now()
}

// Validate reports whether cfg can be started.
func (c Config) Validate() error {
	c = c.withDefaults()
	ps, err := ParseSchedule(c.Spec)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := cronParser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", ps.Cron, err)
		}
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	return nil
}

// Start registers the poll trigger. It is a no-op when the loop is disabled
// or already running.
func (s *Service) Start(ctx context.Context) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.started = true
	if !s.cfg.Enabled {
		s.log.Info("poll loop disabled")
		return nil
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	ps, err := ParseSchedule(s.cfg.Spec)
	if err != nil {
		return err
	}
	s.loc = s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	job := cron.FuncJob(s.runTick)
	var sched cron.Schedule
	switch ps.Kind {
	case SpecInterval:
		sched = cron.Every(ps.Every)
	default:
		sched, err = cronParser.Parse(ps.Cron)
		if err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", ps.Cron, err)
		}
	}
	first := time.Now().In(s.loc).Add(s.cfg.StartDelay)
	s.entryID = c.Schedule(&kickoffSchedule{base: sched, first: first}, job)
	s.c = c
	c.Start()
	s.log.Info("poll loop started",
		logx.String("spec", ps.String()),
		logx.String("tz", s.loc.String()),
		logx.Bool("delivery_disabled", s.cfg.DeliveryDisabled),
	)
	return nil
}

// Stop removes the trigger and waits for a running tick until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	s.stopTrigger(ctx)
}

func (s *Service) stopTrigger(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entryID = 0
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("poll loop stop timed out; a tick is still running")
	}
	s.log.Info("poll loop stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps the config. After Start, the trigger is rebuilt when the
// schedule, timezone or enabled flag changed.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	started := s.started
	running := s.c != nil
	s.mu.Unlock()

	if !started {
		return nil
	}
	same := old.Spec == cfg.Spec && strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone)
	if running && same && cfg.Enabled {
		return nil
	}
	if running {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DeliveryTimeout+5*time.Second)
		s.stopTrigger(ctx)
		cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.c != nil || !s.cfg.Enabled {
		return nil
	}
	return s.startLocked()
}

func (s *Service) runTick() {
	ctx := context.Background()
	rep, err := s.Tick(ctx)
	if err != nil {
		s.log.Error("tick aborted", logx.Err(err))
		return
	}
	if rep.Due > 0 {
		s.log.Info("tick done",
			logx.Int("due", rep.Due),
			logx.Int("sent", rep.Sent),
			logx.Int("retried", rep.Retried),
			logx.Int("failed", rep.Failed),
			logx.Int("cancelled", rep.Cancelled),
			logx.Int("skipped", rep.Skipped),
			logx.Int("errors", rep.Errors),
		)
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	c := s.c
	id := s.entryID
	loc := s.loc
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:          cfg.Enabled,
		Running:          c != nil,
		Spec:             cfg.Spec,
		Timezone:         cfg.Timezone,
		DeliveryDisabled: cfg.DeliveryDisabled,
		Engine:           s.engine.Snapshot(),
	}
	if snap.Timezone == "" && loc != nil {
		snap.Timezone = loc.String()
	}
	if c != nil && id != 0 {
		e := c.Entry(id)
		snap.Next, snap.Prev = e.Next, e.Prev
	}

	s.smu.Lock()
	snap.Ticks = s.ticks
	snap.LastTick = s.lastTick
	snap.LastDuration = s.lastDuration
	snap.LastReport = s.lastReport
	snap.LastError = s.lastErr
	s.smu.Unlock()
	return snap
}

func (s *Service) recordTick(at time.Time, took time.Duration, rep Report, err error) {
	s.smu.Lock()
	defer s.smu.Unlock()
	s.ticks++
	s.lastTick = at
	s.lastDuration = took
	s.lastReport = rep
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
}

// cronLogger routes robfig/cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	if errors.Is(err, context.Canceled) {
		return
	}
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
