package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var syncTimeout time.Duration

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Write every partition's shadow to the hardware",
		Long: `The sync command syncs all registered partitions in parallel and reports
every failure.

Example:
  nvramctl sync
  nvramctl sync --timeout 5s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), args)
		},
	}
	cmd.Flags().DurationVar(&syncTimeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}

func runSync(ctx context.Context, args []string) error {
	if err := checkArgs(args, 0, "nvramctl sync"); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	return withBoard(func(b *board) error {
		if err := b.reg.SyncAll(ctx); err != nil {
			return err
		}
		printVerbose("Synced %d partition(s)\n", len(b.reg.Partitions()))
		return nil
	})
}
