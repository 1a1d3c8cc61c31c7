package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/spf13/cobra"
	"golang.org/x/text/encoding/charmap"

	"github.com/joshuapare/knvram/chardev"
)

var (
	dumpOffset int64
	dumpLength int64
	dumpWidth  int
)

func init() {
	rootCmd.AddCommand(newDumpCmd())
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <partition>",
		Short: "Hex dump a partition",
		Long: `The dump command prints a partition as offset, hex bytes and the bytes
rendered as ISO 8859-1 text, with non-printable characters shown as dots.

Example:
  nvramctl dump config
  nvramctl dump config --offset 0x40 --length 128
  nvramctl dump config --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args)
		},
	}
	cmd.Flags().Int64Var(&dumpOffset, "offset", 0, "Start offset")
	cmd.Flags().Int64Var(&dumpLength, "length", -1, "Number of bytes (default: to the end)")
	cmd.Flags().IntVar(&dumpWidth, "width", 16, "Bytes per line")
	return cmd
}

type dumpLine struct {
	Offset int64  `json:"offset"`
	Hex    string `json:"hex"`
	Text   string `json:"text"`
}

func runDump(args []string) error {
	if err := checkArgs(args, 1, "nvramctl dump <partition>"); err != nil {
		return err
	}
	if dumpWidth <= 0 {
		return &usageError{fmt.Sprintf("invalid --width %d", dumpWidth)}
	}
	return withBoard(func(b *board) error {
		f, err := chardev.OpenName(b.reg, args[0], chardev.ModeRead)
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := f.Seek(dumpOffset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to %d: %w", dumpOffset, err)
		}
		length := f.Size() - dumpOffset
		if dumpLength >= 0 && dumpLength < length {
			length = dumpLength
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(f, data); err != nil {
			return err
		}

		lines := dumpLines(data, dumpOffset, dumpWidth)
		if jsonOut {
			return printJSON(lines)
		}
		for _, l := range lines {
			fmt.Fprintf(os.Stdout, "%08x  %-*s  |%s|\n", l.Offset, dumpWidth*3-1, spaced(l.Hex), l.Text)
		}
		return nil
	})
}

func dumpLines(data []byte, base int64, width int) []dumpLine {
	lines := make([]dumpLine, 0, (len(data)+width-1)/width)
	for off := 0; off < len(data); off += width {
		end := min(off+width, len(data))
		chunk := data[off:end]
		lines = append(lines, dumpLine{
			Offset: base + int64(off),
			Hex:    hex.EncodeToString(chunk),
			Text:   latin1(chunk),
		})
	}
	return lines
}

// latin1 renders b as ISO 8859-1, replacing non-printable runes with '.'.
func latin1(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		r := charmap.ISO8859_1.DecodeByte(c)
		if !unicode.IsPrint(r) {
			r = '.'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// spaced splits a hex string into space separated byte pairs.
func spaced(h string) string {
	var sb strings.Builder
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(h[i : i+2])
	}
	return sb.String()
}
