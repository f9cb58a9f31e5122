package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "reminderd/pkg/logx"
)

func (s *Service) execOne(ctx context.Context, cfg Config, j Job) (res Result) {
	start := time.Now()
	res.ID = j.ID
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Guard against job panics: convert to error so one bad job can't take
	// the whole batch down.
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.panics.Add(1)
				res.Err = fmt.Errorf("%w: %v", ErrPanic, r)
				s.log.Error("task.panic", logx.String("task", j.Name), logx.String("id", j.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		if j.Run == nil {
			return
		}
		res.Err = j.Run(runCtx)
	}()

	res.Duration = time.Since(start)
	item := HistoryItem{ID: j.ID, Name: j.Name, Started: start, Duration: res.Duration}
	if res.Err != nil {
		s.failed.Add(1)
		item.Error = res.Err.Error()
		s.log.Debug("task.failed", logx.String("task", j.Name), logx.String("id", j.ID), logx.Err(res.Err), logx.Duration("dur", res.Duration))
	} else {
		s.completed.Add(1)
		if res.Duration >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", j.Name), logx.String("id", j.ID), logx.Duration("dur", res.Duration))
		} else {
			s.log.Debug("task.completed", logx.String("task", j.Name), logx.String("id", j.ID), logx.Duration("dur", res.Duration))
		}
	}
	s.record(cfg, item)
	return res
}
