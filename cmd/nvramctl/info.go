package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "List the partitions and partition tables of the board",
		Long: `The info command probes the NVRAM region and lists every registered
partition with its size, transaction page size and access, followed by the
partition table areas.

Example:
  nvramctl info
  nvramctl info --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args)
		},
	}
	return cmd
}

type partitionInfo struct {
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	PageSize      int    `json:"page_size"`
	ReadOnly      bool   `json:"read_only"`
	Transactional bool   `json:"transactional"`
}

type tableInfo struct {
	Name       string   `json:"name"`
	Offset     int64    `json:"offset"`
	Size       int64    `json:"size"`
	Partitions []string `json:"partitions"`
}

type boardInfo struct {
	Region     string          `json:"region"`
	Size       int64           `json:"size"`
	Partitions []partitionInfo `json:"partitions"`
	Tables     []tableInfo     `json:"tables"`
}

func runInfo(args []string) error {
	if err := checkArgs(args, 0, "nvramctl info"); err != nil {
		return err
	}
	return withBoard(func(b *board) error {
		info := boardInfo{Region: b.cfg.Region.Type, Size: b.region.Size()}
		for _, p := range b.reg.Partitions() {
			info.Partitions = append(info.Partitions, partitionInfo{
				Name:          p.Name(),
				Size:          p.Size(),
				PageSize:      p.PageSize(),
				ReadOnly:      p.ReadOnly(),
				Transactional: p.Transactional(),
			})
		}
		for _, t := range b.dev.Tables() {
			ti := tableInfo{Name: t.Name(), Offset: t.Offset(), Size: t.Size(), Partitions: []string{}}
			for _, p := range t.Partitions() {
				ti.Partitions = append(ti.Partitions, p.Name())
			}
			info.Tables = append(info.Tables, ti)
		}

		if jsonOut {
			return printJSON(info)
		}

		printInfo("\nRegion: %s, %d bytes\n", info.Region, info.Size)
		printInfo("\nPartitions:\n")
		for _, p := range info.Partitions {
			access := "rw"
			if p.ReadOnly {
				access = "ro"
			}
			printInfo("  %-32s %8d bytes  %s", p.Name, p.Size, access)
			if p.Transactional {
				printInfo("  page %d", p.PageSize)
			}
			printInfo("\n")
		}
		if len(info.Tables) > 0 {
			printInfo("\nPartition tables:\n")
			for _, t := range info.Tables {
				printInfo("  %-28s 0x%08x-0x%08x  %d partition(s)\n", t.Name, t.Offset, t.Offset+t.Size, len(t.Partitions))
			}
		}
		return nil
	})
}
