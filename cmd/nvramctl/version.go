package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/joshuapare/knvram/rste"
)

// Set at link time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type versionInfo struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Built      string `json:"built"`
	Go         string `json:"go"`
	Platform   string `json:"platform"`
	RecordSize int    `json:"rste_record_size"`
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the knvram tool version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(args)
		},
	}
}

func runVersion(args []string) error {
	if err := checkArgs(args, 0, "nvramctl version"); err != nil {
		return err
	}
	info := versionInfo{
		Version:    version,
		Commit:     commit,
		Built:      date,
		Go:         runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		RecordSize: rste.RecordSize,
	}
	if jsonOut {
		return printJSON(info)
	}
	printInfo("nvramctl (knvram) %s, commit %s, built %s\n", info.Version, info.Commit, info.Built)
	printInfo("  %s %s, rste record %d bytes\n", info.Go, info.Platform, info.RecordSize)
	return nil
}
