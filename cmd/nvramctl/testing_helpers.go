package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testBoard = `
region:
  type: file
  path: %s
  size: 8192
partitions:
  - name: boot
    offset: 0
    size: 512
    read_only: true
  - name: config
    offset: 512
    size: 1024
    page_size: 64
  - name: mpc8xxx_rste
    offset: 1536
    size: 256
    page_size: 64
tables:
  - name: pt
    offset: 4096
    size: 4096
rste:
  enabled: true
`

// setupBoard writes a board file with a file-backed region into a temp dir,
// points --config at it and resets the global flags.
func setupBoard(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "board.yaml")
	body := fmt.Sprintf(testBoard, filepath.Join(dir, "nvram.img"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write board: %v", err)
	}

	configPath = path
	verbose = false
	quiet = false
	jsonOut = false
	logLevel = ""
	return path
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	// Save original stdout
	origStdout := os.Stdout

	// Create a pipe to capture output
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}

	// Redirect stdout to pipe
	os.Stdout = w

	// Drain concurrently so large outputs do not fill the pipe
	done := make(chan struct{})
	var buf bytes.Buffer
	go func() {
		defer close(done)
		_, _ = buf.ReadFrom(r)
	}()

	// Run function
	fnErr := fn()

	// Close write end and restore stdout
	w.Close()
	os.Stdout = origStdout
	<-done
	r.Close()

	return buf.String(), fnErr
}

// assertJSON checks that output is valid JSON
func assertJSON(t *testing.T, output string) {
	t.Helper()
	var result interface{}
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Errorf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}
