package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/knvram/nvram"
	"github.com/joshuapare/knvram/ptable"
)

func init() {
	rootCmd.AddCommand(newPtableCmd())
}

func newPtableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ptable",
		Short: "Show and edit partition tables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show [table]",
		Short: "Print partition tables in text form",
		Long: `The show command prints each table as "index,offset,size,pageshift,flags"
lines, the same format apply accepts.

Example:
  nvramctl ptable show
  nvramctl ptable show pt --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPtableShow(args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "apply <table> <file|->",
		Short: "Write a partition table and reload its partitions",
		Long: `The apply command parses table text, validates it against the table area,
writes the encoded table and rereads it. Every partition of the table must be
closed.

Example:
  nvramctl ptable apply pt layout.txt
  echo "0,0x0,0x400,7,0x00" | nvramctl ptable apply pt -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPtableApply(args)
		},
	})
	return cmd
}

type tableEntry struct {
	Index     int    `json:"index"`
	Partition string `json:"partition"`
	Offset    uint32 `json:"offset"`
	Size      uint32 `json:"size"`
	PageSize  int    `json:"page_size"`
	ReadOnly  bool   `json:"read_only"`
}

func runPtableShow(args []string) error {
	if len(args) > 1 {
		return checkArgs(args, 1, "nvramctl ptable show [table]")
	}
	return withBoard(func(b *board) error {
		tables := b.dev.Tables()
		if len(args) == 1 {
			t, err := b.dev.Table(args[0])
			if err != nil {
				return err
			}
			tables = []*nvram.Table{t}
		}

		out := make(map[string][]tableEntry)
		for _, t := range tables {
			entries, err := t.Entries()
			switch {
			case errors.Is(err, ptable.ErrChecksum):
				printError("table %s: %v\n", t.Name(), err)
			case err != nil && len(args) == 1:
				return fmt.Errorf("table %s: %w", t.Name(), err)
			case err != nil:
				printError("table %s: %v\n", t.Name(), err)
				continue
			}
			if !jsonOut {
				printInfo("# %s\n", t.Name())
				if err := ptable.Format(os.Stdout, entries); err != nil {
					return err
				}
				continue
			}
			list := []tableEntry{}
			for i, e := range entries {
				list = append(list, tableEntry{
					Index:     i,
					Partition: fmt.Sprintf("%s%d", t.Name(), i),
					Offset:    e.Offset,
					Size:      e.Size,
					PageSize:  e.PageSize(),
					ReadOnly:  e.ReadOnly(),
				})
			}
			out[t.Name()] = list
		}
		if jsonOut {
			return printJSON(out)
		}
		return nil
	})
}

func runPtableApply(args []string) error {
	if err := checkArgs(args, 2, "nvramctl ptable apply <table> <file|->"); err != nil {
		return err
	}
	var text []byte
	var err error
	if args[1] == "-" {
		text, err = io.ReadAll(os.Stdin)
	} else {
		text, err = os.ReadFile(args[1])
	}
	if err != nil {
		return err
	}
	if len(text) > ptable.MaxTextLen {
		return fmt.Errorf("%w: table text is %d bytes, limit %d", ptable.ErrInvalid, len(text), ptable.MaxTextLen)
	}

	return withBoard(func(b *board) error {
		t, err := b.dev.Table(args[0])
		if err != nil {
			return err
		}
		s, err := t.Open(false, true)
		if err != nil {
			return err
		}
		if _, err := s.Write(text); err != nil {
			_ = s.Close()
			return err
		}
		if err := s.Close(); err != nil {
			return fmt.Errorf("failed to apply table %s: %w", t.Name(), err)
		}
		for _, p := range t.Partitions() {
			printVerbose("  %s: %d bytes\n", p.Name(), p.Size())
		}
		printInfo("Applied %s: %d partition(s)\n", t.Name(), len(t.Partitions()))
		return nil
	})
}
