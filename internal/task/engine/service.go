package engine

import (
	"context"
	"sync"
	"sync/atomic"

	logx "reminderd/pkg/logx"
)

// Service runs batches of independent jobs on a bounded number of goroutines.
// Each job gets its own timeout and a job panic becomes that job's error.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	stopped bool

	wg sync.WaitGroup

	inFlight  atomic.Int32
	completed atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log.With(logx.String("comp", "engine")),
	}
}

// Apply takes effect from the next batch.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Run executes jobs and blocks until every one has finished. Cancelling ctx
// stops jobs that have not started yet; they report ctx.Err().
func (s *Service) Run(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))

	s.mu.Lock()
	cfg := s.cfg
	stopped := s.stopped
	if !stopped {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if stopped {
		for i, j := range jobs {
			results[i] = Result{ID: j.ID, Err: ErrStopped}
		}
		return results
	}
	defer s.wg.Done()

	sem := make(chan struct{}, cfg.Workers)
	var wg sync.WaitGroup
	for i, j := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = Result{ID: j.ID, Err: ctx.Err()}
			continue
		}
		wg.Add(1)
		go func(i int, j Job) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.execOne(ctx, cfg, j)
		}(i, j)
	}
	wg.Wait()
	return results
}

// Stop rejects new batches and waits for running ones until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("engine stop timed out", logx.Int("in_flight", int(s.inFlight.Load())))
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	s.hmu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Workers:        cfg.Workers,
		DefaultTimeout: cfg.DefaultTimeout,
		InFlight:       int(s.inFlight.Load()),
		Completed:      s.completed.Load(),
		Failed:         s.failed.Load(),
		Panics:         s.panics.Load(),
		History:        hist,
	}
}

func (s *Service) record(cfg Config, item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
	s.hmu.Unlock()
}
