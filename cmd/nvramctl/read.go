package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/knvram/chardev"
)

var (
	readOffset int64
	readLength int64
	readOutput string
)

func init() {
	rootCmd.AddCommand(newReadCmd())
}

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <partition>",
		Short: "Copy partition contents to stdout or a file",
		Long: `The read command copies the shadow contents of a partition. Without
--length it reads to the end of the partition.

Example:
  nvramctl read config > config.bin
  nvramctl read config --offset 0x100 --length 64 -o part.bin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(args)
		},
	}
	cmd.Flags().Int64Var(&readOffset, "offset", 0, "Start offset")
	cmd.Flags().Int64Var(&readLength, "length", -1, "Number of bytes (default: to the end)")
	cmd.Flags().StringVarP(&readOutput, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func runRead(args []string) error {
	if err := checkArgs(args, 1, "nvramctl read <partition>"); err != nil {
		return err
	}
	return withBoard(func(b *board) error {
		f, err := chardev.OpenName(b.reg, args[0], chardev.ModeRead)
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := f.Seek(readOffset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to %d: %w", readOffset, err)
		}

		var out io.Writer = os.Stdout
		if readOutput != "" {
			of, err := os.Create(readOutput)
			if err != nil {
				return err
			}
			defer of.Close()
			out = of
		}

		var n int64
		if readLength >= 0 {
			n, err = io.CopyN(out, f, readLength)
			if err == io.EOF {
				err = nil
			}
		} else {
			n, err = f.WriteTo(out)
		}
		if err != nil {
			return err
		}
		if readOutput != "" {
			printVerbose("Read %d bytes from %s\n", n, args[0])
		}
		return nil
	})
}
