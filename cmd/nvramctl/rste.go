package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/knvram/rste"
)

var rsteClearTotal bool

func init() {
	rootCmd.AddCommand(newRsteCmd())
}

func newRsteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rste",
		Short: "Report and update the reset event counters",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the reset event counters",
		Long: `The show command prints the events recorded for the current boot followed
by every counter as "name = current / total".

Example:
  nvramctl rste show
  nvramctl rste show --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRsteShow(args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cause <cause>[|<cause>...]",
		Short: "Record reset causes",
		Long: `The cause command ORs the named causes into the record and persists it.
Causes: UBOOT_RESET, LINUX_RESET, BOOT_TIMEOUT, APP_TIMEOUT, REBOOT_TIMEOUT,
LINUX_PANIC.

Example:
  nvramctl rste cause LINUX_RESET
  nvramctl rste cause "app_timeout|reboot_timeout"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRsteCause(args)
		},
	})
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Zero the current counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRsteClear(args)
		},
	}
	clearCmd.Flags().BoolVar(&rsteClearTotal, "total", false, "Zero the totals as well")
	cmd.AddCommand(clearCmd)
	return cmd
}

// withRste opens the record on the configured partition.
func withRste(fn func(s *rste.Store) error) error {
	return withBoard(func(b *board) (err error) {
		s, err := rste.Open(b.reg, b.cfg.RSTE.Partition)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := s.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(s)
	})
}

type rsteReport struct {
	ResetCause string            `json:"reset_cause"`
	Current    []string          `json:"current"`
	Counters   map[string][2]int `json:"counters"`
}

func runRsteShow(args []string) error {
	if err := checkArgs(args, 0, "nvramctl rste show"); err != nil {
		return err
	}
	return withRste(func(s *rste.Store) error {
		if !jsonOut {
			return s.WriteReport(os.Stdout)
		}
		rec := s.Record()
		report := rsteReport{
			ResetCause: rec.ResetCause.String(),
			Current:    rec.CurrentEvents(),
			Counters:   make(map[string][2]int),
		}
		if report.Current == nil {
			report.Current = []string{}
		}
		for i, c := range rec.Counters {
			report.Counters[rste.CounterNames[i]] = [2]int{int(c.Current), int(c.Total)}
		}
		return printJSON(report)
	})
}

func runRsteCause(args []string) error {
	if err := checkArgs(args, 1, "nvramctl rste cause <cause>"); err != nil {
		return err
	}
	c, err := rste.ParseCause(args[0])
	if err != nil {
		return &usageError{err.Error()}
	}
	return withRste(func(s *rste.Store) error {
		if err := s.Cause(c); err != nil {
			return err
		}
		printVerbose("Recorded %s\n", c)
		return nil
	})
}

func runRsteClear(args []string) error {
	if err := checkArgs(args, 0, "nvramctl rste clear"); err != nil {
		return err
	}
	return withRste(func(s *rste.Store) error {
		return s.Clear(rsteClearTotal)
	})
}
