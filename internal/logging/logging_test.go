package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nootle/nootle/internal/config"
)

func TestFactory_Stderr(t *testing.T) {
	f := NewFactory(nil)
	if f.Writer() != os.Stderr {
		t.Errorf("Writer() = %v, want stderr", f.Writer())
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFactory_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nootle.log")
	f := NewFactory(&config.LogConfig{File: path, MaxSizeMB: 1, MaxBackups: 1})

	f.New("sync").Println("Merged snapshot: created=1 updated=0 skipped=0")
	f.New("peer").Printf("state %s", "DONE")

	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log has %d lines, want 2:\n%s", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "[sync] ") || !strings.Contains(lines[0], "created=1") {
		t.Errorf("line 1 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "[peer] ") {
		t.Errorf("line 2 = %q", lines[1])
	}
}

func TestDiscard(t *testing.T) {
	Discard().New("relay").Println("dropped")
}
