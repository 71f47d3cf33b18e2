package ui

import (
	"errors"
	"strings"
	"testing"

	"github.com/nootle/nootle/internal/peer"
	nsync "github.com/nootle/nootle/internal/sync"
)

func init() {
	DisableColor()
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		name string
		ev   peer.Event
		want string
	}{
		{
			name: "ready",
			ev:   peer.Event{State: peer.Ready, Status: peer.StatusReady},
			want: "● " + peer.StatusReady,
		},
		{
			name: "exchanging",
			ev:   peer.Event{State: peer.Exchanging, Status: peer.StatusReceiving},
			want: "↻ " + peer.StatusReceiving,
		},
		{
			name: "failed shows the cause",
			ev:   peer.Event{State: peer.Failed, Status: peer.StatusTimedOut, Err: errors.New("receive: timeout")},
			want: "✗ " + peer.StatusTimedOut + " (receive: timeout)",
		},
		{
			name: "done shows the merge",
			ev: peer.Event{State: peer.Done, Status: peer.StatusSynced,
				Result: &nsync.MergeResult{Created: 2, Skipped: 5}},
			want: "✓ " + peer.StatusSynced + " created 2, updated 0, skipped 5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusLine(tt.ev); got != tt.want {
				t.Errorf("StatusLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMergeSummary_Ignored(t *testing.T) {
	got := MergeSummary(&nsync.MergeResult{Updated: 1, IgnoredCollections: []string{"habits", "journal"}})
	want := "created 0, updated 1, skipped 0; ignored habits, journal"
	if got != want {
		t.Errorf("MergeSummary() = %q, want %q", got, want)
	}
	if MergeSummary(nil) != "" {
		t.Error("MergeSummary(nil) should be empty")
	}
}

func TestMergeTable(t *testing.T) {
	r := &nsync.MergeResult{
		Collections: map[string]nsync.CollectionResult{
			"todos":      {Created: 1, Skipped: 2},
			"categories": {Updated: 3},
			"notes":      {},
		},
	}

	got := MergeTable(r)
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("MergeTable() has %d lines, want 2:\n%s", len(lines), got)
	}

	wantRows := [][]string{
		{"categories", "+0", "~3", "=0"},
		{"todos", "+1", "~0", "=2"},
	}
	for i, want := range wantRows {
		if !strings.HasPrefix(lines[i], "  ") {
			t.Errorf("line %d = %q, want indented", i+1, lines[i])
		}
		if got := strings.Fields(lines[i]); strings.Join(got, " ") != strings.Join(want, " ") {
			t.Errorf("line %d fields = %q, want %q", i+1, got, want)
		}
	}
	if strings.Index(lines[0], "+0") != strings.Index(lines[1], "+1") {
		t.Errorf("counts not aligned:\n%s", got)
	}

	if MergeTable(&nsync.MergeResult{Collections: map[string]nsync.CollectionResult{"notes": {}}}) != "" {
		t.Error("MergeTable() with no activity should be empty")
	}
}

func TestTable(t *testing.T) {
	got := Table([]string{"ID", "NAME", "COLOR"}, [][]string{
		{"0f8fad5b", "Work", "#3b82f6"},
		{"7c9e6679", "Home and garden", "#22c55e"},
	})
	if !strings.HasSuffix(got, "\n") {
		t.Errorf("Table() = %q, want a trailing newline", got)
	}

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Table() has %d lines, want 3:\n%s", len(lines), got)
	}
	if fields := strings.Fields(lines[0]); strings.Join(fields, " ") != "ID NAME COLOR" {
		t.Errorf("header = %q", lines[0])
	}
	if fields := strings.Fields(lines[1]); strings.Join(fields, " ") != "0f8fad5b Work #3b82f6" {
		t.Errorf("row 1 = %q", lines[1])
	}

	// Columns line up under the widest cell
	col := strings.Index(lines[0], "COLOR")
	if strings.Index(lines[1], "#3b82f6") != col || strings.Index(lines[2], "#22c55e") != col {
		t.Errorf("COLOR column not aligned:\n%s", got)
	}
	if strings.Index(lines[2], "Home and garden")+len("Home and garden")+columnGap > col {
		t.Errorf("columns closer than %d spaces:\n%s", columnGap, got)
	}
}

func TestTable_NoHeaders(t *testing.T) {
	got := Table(nil, [][]string{{"a", "b"}})
	if fields := strings.Fields(got); strings.Join(fields, " ") != "a b" {
		t.Errorf("Table(nil) = %q", got)
	}
	if strings.Count(got, "\n") != 1 {
		t.Errorf("Table(nil) = %q, want one line", got)
	}
}

func TestValidateCode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "4f7a09c2", want: "4F7A09C2"},
		{in: " 4F7A-09C2 ", want: "4F7A09C2"},
		{in: "4f7a 09c2", want: "4F7A09C2"},
		{in: "", wantErr: true},
		{in: "4F7A_09C2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := ValidateCode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateCode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && NormalizeCode(tt.in) != tt.want {
				t.Errorf("NormalizeCode(%q) = %q, want %q", tt.in, NormalizeCode(tt.in), tt.want)
			}
		})
	}
}
