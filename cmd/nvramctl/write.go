package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/knvram/chardev"
	"github.com/joshuapare/knvram/internal/logger"
)

var (
	writeOffset int64
	writeInput  string
	writeTx     bool
	writeSync   bool
)

func init() {
	rootCmd.AddCommand(newWriteCmd())
}

func newWriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <partition> [data]",
		Short: "Write data to a partition",
		Long: `The write command writes the data argument, or the contents of --input
("-" for stdin), at --offset. With --transaction the whole write is committed
atomically: either all of it reaches the hardware or none of it does.

Example:
  nvramctl write config "hello"
  nvramctl write config --input config.bin --transaction
  cat blob | nvramctl write config --input - --offset 512 --sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(args)
		},
	}
	cmd.Flags().Int64Var(&writeOffset, "offset", 0, "Start offset")
	cmd.Flags().StringVarP(&writeInput, "input", "i", "", `Input file, "-" for stdin`)
	cmd.Flags().BoolVarP(&writeTx, "transaction", "t", false, "Commit the write as one transaction")
	cmd.Flags().BoolVar(&writeSync, "sync", false, "Sync the partition after every write")
	return cmd
}

func writeSource(args []string) (io.Reader, func() error, error) {
	switch {
	case writeInput == "" && len(args) == 2:
		return strings.NewReader(args[1]), func() error { return nil }, nil
	case writeInput == "-" && len(args) == 1:
		return os.Stdin, func() error { return nil }, nil
	case writeInput != "" && len(args) == 1:
		f, err := os.Open(writeInput)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
	return nil, nil, &usageError{"either a data argument or --input is required\nUsage: nvramctl write <partition> [data]"}
}

func runWrite(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return checkArgs(args, 1, "nvramctl write <partition> [data]")
	}
	src, closeSrc, err := writeSource(args)
	if err != nil {
		return err
	}
	defer closeSrc()

	return withBoard(func(b *board) error {
		mode := chardev.ModeRead | chardev.ModeWrite
		if writeSync {
			mode |= chardev.ModeSync
		}
		f, err := chardev.OpenName(b.reg, args[0], mode)
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := f.Seek(writeOffset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to %d: %w", writeOffset, err)
		}

		if writeTx {
			if err := f.Ioctl(chardev.IocTBegin, nil); err != nil {
				return fmt.Errorf("failed to begin transaction: %w", err)
			}
		}
		n, err := f.ReadFrom(src)
		if err != nil {
			if writeTx {
				if aerr := f.Ioctl(chardev.IocTAbort, nil); aerr != nil {
					logger.Warn("transaction abort failed", "partition", args[0], "error", aerr)
				}
			}
			return err
		}
		if writeTx {
			if err := f.Ioctl(chardev.IocTCommit, nil); err != nil {
				return fmt.Errorf("failed to commit transaction: %w", err)
			}
		}
		if err := f.Fsync(); err != nil {
			return err
		}
		printVerbose("Wrote %d bytes to %s at offset %d\n", n, args[0], writeOffset)
		return nil
	})
}
