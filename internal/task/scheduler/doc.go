// Package scheduler runs the delivery poll loop.
//
// A robfig/cron trigger calls Tick on a fixed schedule. Each tick lists the
// pending tasks that are due, hands them to the engine for concurrent
// delivery and records every outcome through a compare-and-swap transition.
// The cron chain skips a trigger while the previous tick is still running,
// so ticks never overlap.
package scheduler
