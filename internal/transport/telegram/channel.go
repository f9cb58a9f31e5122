// Package telegram delivers reminders and operator alerts through a Telegram
// bot. It only sends; it never polls for updates.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"reminderd/internal/notifier"
	logx "reminderd/pkg/logx"
)

// Target is a chat, optionally narrowed to a forum topic.
type Target struct {
	ChatID   int64
	ThreadID int
}

type Config struct {
	Token   string
	Targets []Target
	// AlertTargets receive logx alerts. Empty means Targets.
	AlertTargets []Target
	Timeout      time.Duration
	// Offline skips the getMe handshake. Used by tests.
	Offline bool
}

// Sender is the subset of *tele.Bot the channel needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Channel implements notifier.Channel and logx.AlertSender.
type Channel struct {
	cfg    Config
	log    logx.Logger
	sender Sender
}

var (
	_ notifier.Channel = (*Channel)(nil)
	_ logx.AlertSender = (*Channel)(nil)
)

func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewWithSender(cfg, b, log), nil
}

// NewWithSender builds a channel around an existing sender.
func NewWithSender(cfg Config, sender Sender, log logx.Logger) *Channel {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{cfg: cfg, log: log.With(logx.String("channel", "telegram")), sender: sender}
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) Send(ctx context.Context, msg notifier.Message) error {
	if len(c.cfg.Targets) == 0 {
		return errors.New("telegram: no chat targets configured")
	}
	var errs []error
	for _, to := range c.cfg.Targets {
		if err := c.sendText(ctx, to, msg.Text); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", to.ChatID, err))
		}
	}
	if len(errs) == 0 {
		c.log.Debug("telegram delivered", logx.String("task_id", msg.TaskID), logx.Int("chats", len(c.cfg.Targets)))
	}
	return errors.Join(errs...)
}

// SendAlert forwards an operator alert from the log pipeline.
func (c *Channel) SendAlert(ctx context.Context, text string) error {
	targets := c.cfg.AlertTargets
	if len(targets) == 0 {
		targets = c.cfg.Targets
	}
	var errs []error
	for _, to := range targets {
		if err := c.sendText(ctx, to, text); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", to.ChatID, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Channel) sendText(ctx context.Context, to Target, text string) error {
	chat := &tele.Chat{ID: to.ChatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.sender.Send(chat, chunk, &tele.SendOptions{
			DisableWebPagePreview: true,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
