package notifier

import (
	"context"

	logx "reminderd/pkg/logx"
)

// LogChannel "delivers" by writing the message to the log. It is always
// registered so a fresh install has a working channel.
type LogChannel struct {
	log logx.Logger
}

func NewLogChannel(log logx.Logger) *LogChannel {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogChannel{log: log.With(logx.String("channel", "log"))}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.log.Info("reminder",
		logx.String("task_id", msg.TaskID),
		logx.String("reminder_id", msg.ReminderID),
		logx.String("text", msg.Text),
		logx.Time("scheduled_at", msg.ScheduledAt),
	)
	return nil
}
