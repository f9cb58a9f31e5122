package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reminderd",
		Short:         "Reminder notification daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	root.AddCommand(
		newServeCmd(),
		newPreviewCmd(),
		newAddCmd(),
		newListCmd(),
		newDetailCmd(),
		newCompleteCmd(),
		newCancelCmd(),
		newDeleteCmd(),
		newRetryCmd(),
		newTickCmd(),
	)
	return root
}
