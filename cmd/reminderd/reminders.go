package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"reminderd/internal/app"
	"reminderd/internal/domain"
	"reminderd/internal/reminders"

	"github.com/spf13/cobra"
)

// reminderFile is the input of add and preview. Policy may be omitted.
type reminderFile struct {
	Reminder domain.Reminder            `json:"reminder"`
	Policy   *domain.NotificationPolicy `json:"policy,omitempty"`
	// Active overrides reminder.is_active. With neither set the reminder is
	// active.
	Active *bool `json:"active,omitempty"`
}

func readReminderFile(path string) (reminderFile, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return reminderFile{}, err
	}
	var in reminderFile
	if err := json.Unmarshal(b, &in); err != nil {
		return reminderFile{}, fmt.Errorf("decode %s: %w", path, err)
	}
	switch {
	case in.Active != nil:
		in.Reminder.IsActive = *in.Active
	case !hasReminderKey(b, "is_active"):
		in.Reminder.IsActive = true
	}
	return in, nil
}

func hasReminderKey(b []byte, key string) bool {
	var raw struct {
		Reminder map[string]json.RawMessage `json:"reminder"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return false
	}
	_, ok := raw.Reminder[key]
	return ok
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp opens the app without starting the loop and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app.App) error, opts ...app.Option) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := app.New(cfgPath, append([]app.Option{app.Offline()}, opts...)...)
		if err != nil {
			return err
		}
		return joinClose(fn(cmd.Context(), a), a)
	}
}

// withStore is withApp for commands that write. The memory driver would drop
// the change on exit, so they refuse to run on it.
func withStore(fn func(ctx context.Context, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if !a.Persistent() {
				return fmt.Errorf("%s needs a persistent store; set storage.driver to sqlite", cmd.Name())
			}
			return fn(ctx, a)
		})(cmd, args)
	}
}

func joinClose(err error, a *app.App) error {
	if cerr := a.Close(); err == nil {
		return cerr
	}
	return err
}

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview FILE",
		Short: "Print the notification times a reminder would get now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readReminderFile(args[0])
			if err != nil {
				return err
			}
			if in.Reminder.ID == "" {
				in.Reminder.ID = "preview"
			}
			if err := reminders.Validate(in.Reminder, in.Policy); err != nil {
				return err
			}
			return withApp(func(_ context.Context, a *app.App) error {
				times := a.Reminders().PreviewSchedule(in.Reminder, in.Policy)
				out := cmd.OutOrStdout()
				if len(times) == 0 {
					fmt.Fprintln(out, "no upcoming notifications")
				}
				loc := in.Reminder.Location()
				for _, t := range times {
					fmt.Fprintln(out, t.In(loc).Format(time.RFC3339))
				}
				return nil
			})(cmd, args)
		},
	}
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add FILE",
		Short: "Store a reminder from a JSON file (- for stdin) and schedule it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readReminderFile(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, a *app.App) error {
				r, ids, err := a.AddReminder(ctx, in.Reminder, in.Policy)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"id": r.ID, "tasks": ids})
			})(cmd, args)
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				rs, err := a.Store().ListReminders(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range rs {
					state := "active"
					switch {
					case r.IsCompleted:
						state = "completed"
					case !r.IsActive:
						state = "inactive"
					}
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", r.ID, state, r.RecurrenceKind, r.LocalAnchor().Format(time.RFC3339), r.Title)
				}
				return nil
			})(cmd, args)
		},
	}
}

func newDetailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detail ID",
		Short: "Show a reminder with its upcoming schedule and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				d, err := a.Reminders().Detail(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})(cmd, args)
		},
	}
}

func newCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete ID",
		Short: "Mark the current occurrence done and schedule the next one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app.App) error {
				next, err := a.Reminders().OnReminderCompleted(ctx, args[0])
				if err != nil {
					return err
				}
				if next.IsZero() {
					fmt.Fprintln(cmd.OutOrStdout(), "completed")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "next occurrence:", next.Format(time.RFC3339))
				return nil
			})(cmd, args)
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Deactivate a reminder and cancel its pending notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app.App) error {
				n, err := a.CancelReminder(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d pending notifications\n", n)
				return nil
			})(cmd, args)
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a reminder with its policy and tasks",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app.App) error {
				return a.DeleteReminder(ctx, args[0])
			})(cmd, args)
		},
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry TASK_ID",
		Short: "Re-arm a failed delivery task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app.App) error {
				t, err := a.Reminders().RetryTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})(cmd, args)
		},
	}
}

func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one delivery pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			rep, err := a.Scheduler().Tick(cmd.Context())
			if err != nil {
				return joinClose(err, a)
			}
			return joinClose(printJSON(cmd.OutOrStdout(), rep), a)
		},
	}
}
