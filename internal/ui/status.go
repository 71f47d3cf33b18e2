package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nootle/nootle/internal/peer"
	nsync "github.com/nootle/nootle/internal/sync"
)

// stateIcon returns the marker shown before a session status.
func stateIcon(s peer.State) string {
	switch s {
	case peer.Ready:
		return RenderAccent("●")
	case peer.Connecting, peer.Accepting, peer.Exchanging:
		return RenderWarn("↻")
	case peer.Done:
		return RenderPass("✓")
	case peer.Failed:
		return RenderFail("✗")
	default:
		return RenderMuted("○")
	}
}

// StatusLine renders one session event as a single line.
func StatusLine(ev peer.Event) string {
	line := fmt.Sprintf("%s %s", stateIcon(ev.State), ev.Status)
	if ev.State == peer.Failed && ev.Err != nil {
		line += " " + RenderMuted("("+ev.Err.Error()+")")
	}
	if ev.State == peer.Done && ev.Result != nil {
		line += " " + RenderMuted(MergeSummary(ev.Result))
	}
	return line
}

// MergeSummary renders the totals of a merge, e.g.
// "created 3, updated 1, skipped 12".
func MergeSummary(r *nsync.MergeResult) string {
	if r == nil {
		return ""
	}
	s := fmt.Sprintf("created %d, updated %d, skipped %d", r.Created, r.Updated, r.Skipped)
	if len(r.IgnoredCollections) > 0 {
		s += fmt.Sprintf("; ignored %s", strings.Join(r.IgnoredCollections, ", "))
	}
	return s
}

// MergeTable renders per-collection merge counts, one collection per line,
// in name order. Collections where nothing happened are left out.
func MergeTable(r *nsync.MergeResult) string {
	if r == nil || len(r.Collections) == 0 {
		return ""
	}

	names := make([]string, 0, len(r.Collections))
	for name, c := range r.Collections {
		if c.Created+c.Updated+c.Skipped == 0 {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		c := r.Collections[name]
		rows = append(rows, []string{
			name,
			fmt.Sprintf("+%d", c.Created),
			fmt.Sprintf("~%d", c.Updated),
			RenderMuted(fmt.Sprintf("=%d", c.Skipped)),
		})
	}
	return indentStyle.Render(strings.TrimSuffix(Table(nil, rows), "\n")) + "\n"
}
