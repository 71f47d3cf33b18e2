package schema

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// TimeLayout is the ISO-8601 layout written for created/updated fields,
// the same shape as JavaScript's Date.toISOString.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// parseLayouts are tried in order by ParseTime. Fractional seconds are
// accepted by time.Parse even when a layout does not mention them.
var parseLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Now returns the current time formatted with TimeLayout.
func Now() string {
	return FormatTime(time.Now())
}

// FormatTime formats t in UTC with TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses an ISO-8601 timestamp. Zone-less values are read as UTC.
// The boolean is false when s matches none of the accepted layouts.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// timeOf converts a JSON value to a point in time. Strings are parsed with
// ParseTime, numbers are Unix milliseconds. Anything else, including a
// missing field, is the Unix epoch.
func timeOf(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.String:
		if t, ok := ParseTime(v.Str); ok {
			return t
		}
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC()
	}
	return time.Unix(0, 0).UTC()
}
